package workload

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

type jsonTask struct {
	Type                 string          `json:"type"`
	Name                 string          `json:"name"`
	Iterations           json.RawMessage `json:"iterations"`
	Synchronized         bool            `json:"synchronized"`
	Async                bool            `json:"async"`
	Coupled              bool            `json:"coupled"`
	Pattern              string          `json:"pattern"`
	ComputationPattern   string          `json:"computation_pattern"`
	CommunicationPattern string          `json:"communication_pattern"`
	Flops                json.RawMessage `json:"flops"`
	Bytes                json.RawMessage `json:"bytes"`
	Delay                json.RawMessage `json:"delay"`
	Tasks                []jsonTask      `json:"tasks"`
}

type jsonPhase struct {
	Iterations           json.RawMessage `json:"iterations"`
	SchedulingPoint      *bool           `json:"scheduling_point"`
	FinalSchedulingPoint *bool           `json:"final_scheduling_point"`
	Barrier              *bool           `json:"barrier"`
	EvolvingModel        string          `json:"evolving_model"`
	Tasks                []jsonTask      `json:"tasks"`
}

type jsonWorkload struct {
	OnInit            *jsonPhase  `json:"on_init"`
	OnReconfiguration *jsonPhase  `json:"on_reconfiguration"`
	OnExpansion       *jsonPhase  `json:"on_expansion"`
	Phases            []jsonPhase `json:"phases"`
}

// LoadWorkload reads an application model. For rigid jobs numNodes > 0 and
// every size is materialised immediately; for elastic jobs numNodes == 0 and
// sizes stay symbolic until the first scale.
func LoadWorkload(path string, arguments map[string]string, numNodes, numGpusPerNode int) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading application model %s", path)
	}
	return ParseWorkload(data, arguments, numNodes, numGpusPerNode)
}

func ParseWorkload(data []byte, arguments map[string]string, numNodes, numGpusPerNode int) (*Workload, error) {
	var jw jsonWorkload
	if err := json.Unmarshal(data, &jw); err != nil {
		return nil, errors.Wrap(err, "parsing application model")
	}
	if len(jw.Phases) == 0 {
		return nil, errors.New("application model has no phases")
	}
	rigid := numNodes > 0

	initPhase, err := readOneTimePhase(jw.OnInit, arguments, false, rigid)
	if err != nil {
		return nil, err
	}
	reconfigPhase, err := readOneTimePhase(jw.OnReconfiguration, arguments, true, rigid)
	if err != nil {
		return nil, err
	}
	expansionPhase, err := readOneTimePhase(jw.OnExpansion, arguments, false, rigid)
	if err != nil {
		return nil, err
	}

	var result *multierror.Error
	phases := make([]*Phase, 0, len(jw.Phases))
	for i := range jw.Phases {
		phase, err := readPhase(&jw.Phases[i], arguments, rigid)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		phases = append(phases, phase)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	w := NewWorkload(initPhase, reconfigPhase, expansionPhase, phases)
	if rigid {
		if err := w.ScaleTo(numNodes, numGpusPerNode, nil); err != nil {
			return nil, err
		}
		if err := w.ScaleInitPhaseTo(numNodes, numGpusPerNode, nil); err != nil {
			return nil, err
		}
		if err := w.ScaleReconfigurationPhaseTo(numNodes, numGpusPerNode, nil); err != nil {
			return nil, err
		}
		if err := w.ScaleExpansionPhaseTo(numNodes, numGpusPerNode, nil); err != nil {
			return nil, err
		}
		// Scaling touches task sizes and task iteration counts only; the phase
		// totals are recounted from the phase iteration counts, which it leaves
		// unchanged.
		total := 0
		for _, phase := range w.phases {
			phase.InitialIterations = phase.Iterations
			total += phase.Iterations
		}
		w.totalPhaseCount = total
	}
	return w, nil
}

func readPhase(jp *jsonPhase, arguments map[string]string, rigid bool) (*Phase, error) {
	iterations, err := readPhaseIterations(jp.Iterations, arguments)
	if err != nil {
		return nil, err
	}
	phase := &Phase{
		Iterations:           iterations,
		InitialIterations:    iterations,
		SchedulingPoint:      true,
		FinalSchedulingPoint: true,
		Barrier:              true,
	}
	if jp.SchedulingPoint != nil {
		phase.SchedulingPoint = *jp.SchedulingPoint
	}
	if jp.FinalSchedulingPoint != nil {
		phase.FinalSchedulingPoint = *jp.FinalSchedulingPoint
	}
	if jp.Barrier != nil {
		phase.Barrier = *jp.Barrier
	}
	if jp.EvolvingModel != "" {
		model, err := CompileFormula(jp.EvolvingModel, arguments)
		if err != nil {
			return nil, err
		}
		phase.EvolvingModel = model
	}
	for i := range jp.Tasks {
		task, err := readTask(&jp.Tasks[i], arguments, rigid)
		if err != nil {
			return nil, err
		}
		phase.Tasks = append(phase.Tasks, task)
	}
	return phase, nil
}

func readOneTimePhase(jp *jsonPhase, arguments map[string]string, mandatoryBarrier bool, rigid bool) (*Phase, error) {
	if jp == nil {
		return nil, nil
	}
	iterations, err := readPhaseIterations(jp.Iterations, arguments)
	if err != nil {
		return nil, err
	}
	phase := &Phase{
		Iterations:        iterations,
		InitialIterations: iterations,
		Barrier:           mandatoryBarrier,
	}
	if !mandatoryBarrier && jp.Barrier != nil {
		phase.Barrier = *jp.Barrier
	}
	for i := range jp.Tasks {
		task, err := readTask(&jp.Tasks[i], arguments, rigid)
		if err != nil {
			return nil, err
		}
		phase.Tasks = append(phase.Tasks, task)
	}
	return phase, nil
}

func readPhaseIterations(raw json.RawMessage, arguments map[string]string) (int, error) {
	if raw == nil {
		return 1, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		substituted := SubstituteArguments(s, arguments)
		n, err := strconv.Atoi(strings.TrimSpace(substituted))
		if err != nil {
			return 0, errors.Errorf("phase iteration count %q is not an integer", s)
		}
		return n, nil
	}
	return 0, errors.New("phase iterations must be an integer or a string")
}

func readTask(jt *jsonTask, arguments map[string]string, rigid bool) (*Task, error) {
	iterationModel, err := readIterationModel(jt.Iterations, arguments)
	if err != nil {
		return nil, err
	}
	task := &Task{
		Name:           jt.Name,
		Iterations:     1,
		iterationModel: iterationModel,
		Synchronized:   jt.Synchronized,
	}
	switch strings.ToLower(jt.Type) {
	case "busy_wait", "idle":
		if strings.ToLower(jt.Type) == "idle" {
			task.Kind = Idle
		} else {
			task.Kind = BusyWait
		}
		pattern, err := ParseVectorPattern(jt.Pattern)
		if err != nil {
			return nil, err
		}
		task.delayPattern = pattern
		task.Delays, task.delayModel, err = readVectorSizing(jt.Delay, pattern, arguments, rigid, "delay")
		if err != nil {
			return nil, err
		}
	case "cpu":
		task.Kind = CpuCombined
		task.Coupled = jt.Coupled
		if err := readCombinedSizing(task, jt, arguments, rigid); err != nil {
			return nil, err
		}
	case "gpu":
		task.Kind = GpuCombined
		if err := readCombinedSizing(task, jt, arguments, rigid); err != nil {
			return nil, err
		}
	case "pfs_read", "pfs_write", "bb_read", "bb_write":
		switch strings.ToLower(jt.Type) {
		case "pfs_read":
			task.Kind = PfsRead
		case "pfs_write":
			task.Kind = PfsWrite
		case "bb_read":
			task.Kind = BbRead
		case "bb_write":
			task.Kind = BbWrite
		}
		task.Asynchronous = jt.Async
		pattern, err := ParseVectorPattern(jt.Pattern)
		if err != nil {
			return nil, err
		}
		task.ioPattern = pattern
		task.IoSizes, task.ioModel, err = readVectorSizing(jt.Bytes, pattern, arguments, rigid, "bytes")
		if err != nil {
			return nil, err
		}
	case "sequence":
		task.Kind = Sequence
		for i := range jt.Tasks {
			sub, err := readTask(&jt.Tasks[i], arguments, rigid)
			if err != nil {
				return nil, err
			}
			task.Tasks = append(task.Tasks, sub)
		}
	default:
		return nil, errors.Errorf("invalid task type %s", jt.Type)
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

func readIterationModel(raw json.RawMessage, arguments map[string]string) (*Formula, error) {
	if raw == nil {
		return nil, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return CompileFormula(strconv.Itoa(n), nil)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return CompileFormula(s, arguments)
	}
	return nil, errors.New("task iterations must be an integer or a string")
}

// readVectorSizing parses a number/formula/array sizing field. VECTOR takes a
// literal per-rank list and is only valid for rigid jobs.
func readVectorSizing(raw json.RawMessage, pattern VectorPattern, arguments map[string]string, rigid bool, field string) ([]float64, *Formula, error) {
	if raw == nil {
		return nil, nil, errors.Errorf("%s is required", field)
	}
	if pattern == Vector {
		if !rigid {
			return nil, nil, errors.Errorf("invalid pattern type %s for elastic job", pattern)
		}
		var literal []float64
		if err := json.Unmarshal(raw, &literal); err != nil {
			return nil, nil, errors.Errorf("%s pattern requires an array type for %s", pattern, field)
		}
		return literal, nil, nil
	}
	model, err := readScalarModel(raw, arguments, field)
	if err != nil {
		return nil, nil, err
	}
	return nil, model, nil
}

func readScalarModel(raw json.RawMessage, arguments map[string]string, field string) (*Formula, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return ConstantFormula(n), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return CompileFormula(s, arguments)
	}
	return nil, errors.Errorf("%s requires a number or string type", field)
}

func readCombinedSizing(task *Task, jt *jsonTask, arguments map[string]string, rigid bool) error {
	if jt.Flops == nil && jt.Bytes == nil {
		return errors.Errorf("task %q: FLOPS and payloads can not be simultaneously unspecified", jt.Name)
	}
	if jt.Flops != nil {
		pattern, err := ParseVectorPattern(jt.ComputationPattern)
		if err != nil {
			return err
		}
		task.computationPattern = pattern
		task.Flops, task.computationModel, err = readVectorSizing(jt.Flops, pattern, arguments, rigid, "flops")
		if err != nil {
			return err
		}
	}
	if jt.Bytes != nil {
		pattern, err := ParseMatrixPattern(jt.CommunicationPattern)
		if err != nil {
			return err
		}
		task.communicationPattern = pattern
		if pattern == Matrix {
			if task.Kind == GpuCombined {
				return errors.New("MATRIX communication_pattern not supported for GPU tasks")
			}
			if !rigid {
				return errors.New("MATRIX communication_pattern not supported for elastic jobs")
			}
			var literal []float64
			if err := json.Unmarshal(jt.Bytes, &literal); err != nil {
				return errors.New("MATRIX communication_pattern requires an array type")
			}
			task.Payloads = literal
			return nil
		}
		model, err := readScalarModel(jt.Bytes, arguments, "bytes")
		if err != nil {
			return err
		}
		task.communicationModel = model
	}
	return nil
}
