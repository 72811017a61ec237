package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/flexsimproject/flexsim/internal/simrt"
	"github.com/flexsimproject/flexsim/internal/workload"
)

type jsonJob struct {
	Type              string          `json:"type"`
	SubmitTime        float64         `json:"submit_time"`
	Walltime          float64         `json:"walltime"`
	NumNodes          int             `json:"num_nodes"`
	NumGpusPerNode    int             `json:"num_gpus_per_node"`
	NumNodesMin       int             `json:"num_nodes_min"`
	NumNodesMax       int             `json:"num_nodes_max"`
	NumGpusPerNodeMin int             `json:"num_gpus_per_node_min"`
	NumGpusPerNodeMax int             `json:"num_gpus_per_node_max"`
	ApplicationModel  string          `json:"application_model"`
	Arguments         json.RawMessage `json:"arguments"`
	Attributes        json.RawMessage `json:"attributes"`
}

type jsonJobList struct {
	Jobs []jsonJob `json:"jobs"`
}

// LoadJobs reads the job list in file order. Application model paths are
// resolved relative to the job file's directory.
func LoadJobs(engine *simrt.Engine, path string) ([]*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading jobs file %s", path)
	}
	var list jsonJobList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errors.Wrapf(err, "parsing jobs file %s", path)
	}
	baseDir := filepath.Dir(path)
	loadedJobs := make([]*Job, 0, len(list.Jobs))
	for i := range list.Jobs {
		job, err := readJob(engine, &list.Jobs[i], baseDir)
		if err != nil {
			return nil, errors.WithMessagef(err, "job at index %d", i)
		}
		loadedJobs = append(loadedJobs, job)
	}
	return loadedJobs, nil
}

func readJob(engine *simrt.Engine, jj *jsonJob, baseDir string) (*Job, error) {
	jobType, err := ParseType(jj.Type)
	if err != nil {
		return nil, err
	}
	if jj.Walltime < 0 {
		return nil, errors.New("walltime can not be less than 0")
	}
	arguments, err := readStringMap(jj.Arguments)
	if err != nil {
		return nil, err
	}
	attributes, err := readStringMap(jj.Attributes)
	if err != nil {
		return nil, err
	}
	if jj.ApplicationModel == "" {
		return nil, errors.New("application model has to be specified")
	}
	modelPath := jj.ApplicationModel
	if !filepath.IsAbs(modelPath) {
		modelPath = filepath.Join(baseDir, modelPath)
	}
	if jobType == Rigid {
		if jj.NumNodes < 1 {
			return nil, errors.New("requested number of nodes can not be less than 1 for rigid jobs")
		}
		wl, err := workload.LoadWorkload(modelPath, arguments, jj.NumNodes, jj.NumGpusPerNode)
		if err != nil {
			return nil, err
		}
		return NewRigidJob(engine, jj.Walltime, jj.NumNodes, jj.NumGpusPerNode, jj.SubmitTime,
			arguments, attributes, wl)
	}
	wl, err := workload.LoadWorkload(modelPath, arguments, 0, 0)
	if err != nil {
		return nil, err
	}
	return NewElasticJob(engine, jobType, jj.Walltime,
		jj.NumNodesMin, jj.NumNodesMax, jj.NumGpusPerNodeMin, jj.NumGpusPerNodeMax, jj.SubmitTime,
		arguments, attributes, wl)
}

// readStringMap accepts string, integer and float values, normalising them to
// strings so they can be substituted into performance models.
func readStringMap(raw json.RawMessage) (map[string]string, error) {
	if raw == nil {
		return map[string]string{}, nil
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, errors.Wrap(err, "parsing argument map")
	}
	result := make(map[string]string, len(generic))
	for k, v := range generic {
		switch value := v.(type) {
		case string:
			result[k] = value
		case float64:
			result[k] = formatNumber(value)
		default:
			return nil, errors.Errorf("invalid type for mapping %s", k)
		}
	}
	return result, nil
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
