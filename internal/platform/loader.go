package platform

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/flexsimproject/flexsim/internal/simrt"
)

type jsonHost struct {
	Name       string            `json:"name"`
	Speed      float64           `json:"speed"`
	Properties map[string]string `json:"properties"`
}

type jsonLink struct {
	Name      string  `json:"name"`
	Bandwidth float64 `json:"bandwidth"`
}

type jsonPlatform struct {
	Hosts []jsonHost `json:"hosts"`
	Links []jsonLink `json:"links"`
}

// Options control how the platform description is turned into nodes.
type Options struct {
	AllowOversubscription bool
	Utilization           UtilizationRecorder
	TaskTimes             TaskTimeRecorder
	// Link names aggregated for PFS bandwidth reporting.
	PfsReadLinks  []string
	PfsWriteLinks []string
}

// Load reads the platform description, registers hosts and links with the
// engine and builds the compute nodes. Host roles and node capabilities come
// from host properties: batch_system, pfs_host, pfs_targets, num_gpus,
// flops_per_gpu, gpu_to_gpu_bw, node_local_bb, bb_read_bw, bb_write_bw,
// wide_striping and flops_per_byte.
func Load(engine *simrt.Engine, path string, options Options) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading platform file %s", path)
	}
	var jp jsonPlatform
	if err := json.Unmarshal(data, &jp); err != nil {
		return nil, errors.Wrapf(err, "parsing platform file %s", path)
	}
	if len(jp.Hosts) == 0 {
		return nil, errors.New("platform has no hosts")
	}

	for _, jl := range jp.Links {
		if _, err := engine.NewLink(jl.Name, jl.Bandwidth); err != nil {
			return nil, err
		}
	}

	var masterHost *simrt.Host
	var computeHosts []*simrt.Host
	var pfsHosts []*simrt.Host
	allHosts := make([]*simrt.Host, 0, len(jp.Hosts))
	for _, jh := range jp.Hosts {
		host, err := engine.NewHost(jh.Name, jh.Speed, jh.Properties)
		if err != nil {
			return nil, err
		}
		allHosts = append(allHosts, host)
		switch {
		case host.Property("batch_system") == "true":
			if masterHost != nil {
				return nil, errors.New("batch system host already specified")
			}
			masterHost = host
		case host.Property("pfs_host") == "true":
			pfsHosts = append(pfsHosts, host)
		default:
			computeHosts = append(computeHosts, host)
		}
	}
	if masterHost == nil {
		masterHost = allHosts[0]
	}

	nodes := make([]*Node, 0, len(computeHosts))
	for id, host := range computeHosts {
		node, err := buildNode(engine, id, host, pfsHosts, options)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	pfsReadLinks, err := resolveLinks(engine, options.PfsReadLinks)
	if err != nil {
		return nil, err
	}
	pfsWriteLinks, err := resolveLinks(engine, options.PfsWriteLinks)
	if err != nil {
		return nil, err
	}
	pfsLinkNames := append(slices.Clone(options.PfsReadLinks), options.PfsWriteLinks...)
	var computeLinks []*simrt.Link
	for _, link := range engine.Links() {
		if !slices.Contains(pfsLinkNames, link.Name()) {
			computeLinks = append(computeLinks, link)
		}
	}

	return NewManager(nodes, masterHost, pfsReadLinks, pfsWriteLinks, computeLinks), nil
}

func buildNode(engine *simrt.Engine, id int, host *simrt.Host, defaultPfs []*simrt.Host, options Options) (*Node, error) {
	pfsTargets := defaultPfs
	if targets := host.Property("pfs_targets"); targets != "" {
		pfsTargets = nil
		for _, name := range strings.Split(targets, ",") {
			target, err := engine.HostByName(strings.TrimSpace(name))
			if err != nil {
				return nil, err
			}
			pfsTargets = append(pfsTargets, target)
		}
	}

	var gpus []*Gpu
	gpuToGpuBandwidth := 0.0
	if prop := host.Property("num_gpus"); prop != "" {
		numGpus, err := strconv.Atoi(prop)
		if err != nil {
			return nil, errors.Errorf("host %s: num_gpus %q is not an integer", host.Name(), prop)
		}
		flopsPerGpu, err := propertyAsFloat(host, "flops_per_gpu")
		if err != nil {
			return nil, err
		}
		if numGpus > 1 {
			gpuToGpuBandwidth, err = propertyAsFloat(host, "gpu_to_gpu_bw")
			if err != nil {
				return nil, err
			}
		}
		for i := 0; i < numGpus; i++ {
			gpus = append(gpus, NewGpu(engine, i, flopsPerGpu, host))
		}
	}

	kind := Compute
	var burstBuffer *simrt.Disk
	flopsPerByte := 0.0
	if host.Property("node_local_bb") == "true" {
		readBw, err := propertyAsFloat(host, "bb_read_bw")
		if err != nil {
			return nil, err
		}
		writeBw, err := propertyAsFloat(host, "bb_write_bw")
		if err != nil {
			return nil, err
		}
		burstBuffer = engine.NewDisk(fmt.Sprintf("BurstBuffer@%s", host.Name()), readBw, writeBw)
		if host.Property("wide_striping") == "true" {
			kind = ComputeWithWideStripedBB
			if host.Property("flops_per_byte") != "" {
				flopsPerByte, err = propertyAsFloat(host, "flops_per_byte")
				if err != nil {
					return nil, err
				}
			}
		} else {
			kind = ComputeWithBB
		}
	}

	return NewNode(engine, NodeConfig{
		Id:                    id,
		Kind:                  kind,
		Host:                  host,
		BurstBuffer:           burstBuffer,
		PfsHosts:              pfsTargets,
		FlopsPerByte:          flopsPerByte,
		Gpus:                  gpus,
		GpuToGpuBandwidth:     gpuToGpuBandwidth,
		AllowOversubscription: options.AllowOversubscription,
		Utilization:           options.Utilization,
		TaskTimes:             options.TaskTimes,
	}), nil
}

func propertyAsFloat(host *simrt.Host, key string) (float64, error) {
	prop := host.Property(key)
	if prop == "" {
		return 0, errors.Errorf("host %s: property %s has to be specified", host.Name(), key)
	}
	value, err := strconv.ParseFloat(prop, 64)
	if err != nil {
		return 0, errors.Errorf("host %s: property %s %q is not a number", host.Name(), key, prop)
	}
	return value, nil
}

func resolveLinks(engine *simrt.Engine, names []string) ([]*simrt.Link, error) {
	links := make([]*simrt.Link, 0, len(names))
	for _, name := range names {
		link, err := engine.LinkByName(name)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}
