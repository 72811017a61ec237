package sensing

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/flexsimproject/flexsim/internal/platform"
	"github.com/flexsimproject/flexsim/internal/simrt"
)

// Config names the telemetry outputs and the sampling period.
type Config struct {
	Interval        float64
	CpuUtilization  string
	NetworkActivity string
	PfsUtilization  string
	GpuUtilization  string
}

// Sensing periodically samples host load, network activity, PFS traffic and
// GPU utilisation into CSV files. It runs as a daemon actor stopped by the
// engine driver at shutdown.
type Sensing struct {
	manager *platform.Manager
	config  Config

	cpu     *csv.Writer
	network *csv.Writer
	pfs     *csv.Writer
	gpu     *csv.Writer
	closers []io.Closer
}

func New(manager *platform.Manager, config Config) (*Sensing, error) {
	s := &Sensing{manager: manager, config: config}
	var err error
	if s.cpu, err = s.open(config.CpuUtilization); err != nil {
		return nil, err
	}
	if s.network, err = s.open(config.NetworkActivity); err != nil {
		return nil, err
	}
	if s.pfs, err = s.open(config.PfsUtilization); err != nil {
		return nil, err
	}
	if s.gpu, err = s.open(config.GpuUtilization); err != nil {
		return nil, err
	}

	nodeHeader := []string{"Time"}
	for _, node := range manager.ComputeNodes() {
		nodeHeader = append(nodeHeader, node.HostName())
	}
	if err := s.cpu.Write(nodeHeader); err != nil {
		return nil, err
	}
	if err := s.network.Write([]string{"Time", "Utilization"}); err != nil {
		return nil, err
	}
	if err := s.pfs.Write([]string{"Time", "Read", "Write", "Read (rel.)", "Write (rel.)"}); err != nil {
		return nil, err
	}
	if err := s.gpu.Write(nodeHeader); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sensing) open(path string) (*csv.Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating sensing output %s", path)
	}
	s.closers = append(s.closers, file)
	return csv.NewWriter(file), nil
}

// Spawn starts the sampling daemon.
func (s *Sensing) Spawn(engine *simrt.Engine, host *simrt.Host) *simrt.Actor {
	return engine.Spawn("Sensing", host, func(a *simrt.Actor) {
		for {
			s.sample(a.Now())
			a.Sleep(s.config.Interval)
		}
	})
}

func (s *Sensing) sample(now float64) {
	time := fmt.Sprintf("%g", now)

	cpuRow := []string{time}
	gpuRow := []string{time}
	for _, node := range s.manager.ComputeNodes() {
		host := node.Host()
		utilization := 0.0
		if host.Speed() > 0 {
			utilization = host.Load() / host.Speed()
		}
		cpuRow = append(cpuRow, fmt.Sprintf("%g", utilization))
		gpus := node.Gpus()
		total := 0.0
		for _, gpu := range gpus {
			total += gpu.Utilization()
		}
		if len(gpus) == 0 {
			gpuRow = append(gpuRow, "0")
		} else {
			gpuRow = append(gpuRow, fmt.Sprintf("%g", total/float64(len(gpus))))
		}
	}
	_ = s.cpu.Write(cpuRow)
	_ = s.gpu.Write(gpuRow)

	links := s.manager.ComputeLinks()
	networkUsage := 0.0
	for _, link := range links {
		if link.Bandwidth() > 0 {
			networkUsage += link.Load() / link.Bandwidth()
		}
	}
	if len(links) > 0 {
		networkUsage /= float64(len(links))
	}
	_ = s.network.Write([]string{time, fmt.Sprintf("%g", networkUsage)})

	pfsRead := s.manager.PfsReadUtilization()
	pfsWrite := s.manager.PfsWriteUtilization()
	readRel, writeRel := 0.0, 0.0
	if s.manager.PfsReadBandwidth() > 0 {
		readRel = pfsRead / s.manager.PfsReadBandwidth()
	}
	if s.manager.PfsWriteBandwidth() > 0 {
		writeRel = pfsWrite / s.manager.PfsWriteBandwidth()
	}
	_ = s.pfs.Write([]string{
		time,
		fmt.Sprintf("%g", pfsRead),
		fmt.Sprintf("%g", pfsWrite),
		fmt.Sprintf("%g", readRel),
		fmt.Sprintf("%g", writeRel),
	})
}

// Close flushes and closes every output.
func (s *Sensing) Close() error {
	for _, w := range []*csv.Writer{s.cpu, s.network, s.pfs, s.gpu} {
		if w != nil {
			w.Flush()
		}
	}
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
