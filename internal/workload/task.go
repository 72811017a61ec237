package workload

import (
	"math"

	"github.com/pkg/errors"
)

// TaskKind discriminates the closed set of task variants.
type TaskKind int

const (
	BusyWait TaskKind = iota
	Idle
	CpuCombined
	GpuCombined
	PfsRead
	PfsWrite
	BbRead
	BbWrite
	Sequence
)

func (k TaskKind) String() string {
	switch k {
	case BusyWait:
		return "busy_wait"
	case Idle:
		return "idle"
	case CpuCombined:
		return "cpu"
	case GpuCombined:
		return "gpu"
	case PfsRead:
		return "pfs_read"
	case PfsWrite:
		return "pfs_write"
	case BbRead:
		return "bb_read"
	case BbWrite:
		return "bb_write"
	case Sequence:
		return "sequence"
	}
	return "unknown"
}

// Task is one unit of simulated work. It is a tagged variant: Kind selects
// which of the sizing fields are meaningful. Execution is dispatched on Kind
// by the application worker; this package owns the data and the scaling math.
type Task struct {
	Kind TaskKind
	Name string
	// Number of times the task body runs per phase iteration. Re-evaluated
	// from iterationModel on every scale.
	Iterations     int
	iterationModel *Formula
	// All ranks synchronise on the job barrier before the task starts.
	Synchronized bool
	// Execution returns activity handles instead of blocking (I/O tasks).
	Asynchronous bool

	// Busy-wait and idle tasks: per-rank delay in seconds.
	Delays       []float64
	delayModel   *Formula
	delayPattern VectorPattern

	// Combined tasks: per-rank FLOP vector.
	Flops              []float64
	computationModel   *Formula
	computationPattern VectorPattern

	// CPU-combined: per rank-pair payload matrix; coupled issues a single
	// parallel execution combining computation and communication.
	Payloads             []float64
	communicationModel   *Formula
	communicationPattern MatrixPattern
	Coupled              bool

	// GPU-combined: intra-node (GPU to GPU) and inter-node payload matrices.
	IntraNodeBytes []float64
	InterNodeBytes []float64

	// I/O tasks: per-rank byte vector.
	IoSizes   []float64
	ioModel   *Formula
	ioPattern VectorPattern

	// Sequence: ordered sub-tasks executed inline.
	Tasks []*Task
}

// HasComputation reports whether a FLOP vector is (or will be) present.
func (t *Task) HasComputation() bool {
	return t.Flops != nil || t.computationModel != nil
}

// HasCommunication reports whether a payload matrix is (or will be) present.
func (t *Task) HasCommunication() bool {
	return t.Payloads != nil || t.IntraNodeBytes != nil || t.communicationModel != nil
}

// ScaleTo re-evaluates every formula-driven size for the given configuration.
// Literal vectors (rigid jobs) are left untouched.
func (t *Task) ScaleTo(numNodes, numGpusPerNode int, runtimeArgs map[string]string) error {
	scope := EvalScope{NumNodes: numNodes, NumGpusPerNode: numGpusPerNode, RuntimeArgs: runtimeArgs}
	if t.iterationModel != nil {
		n, err := t.iterationModel.Evaluate(scope)
		if err != nil {
			return err
		}
		t.Iterations = int(math.Floor(n))
	}
	if t.delayModel != nil {
		size, err := t.delayModel.Evaluate(scope)
		if err != nil {
			return err
		}
		t.Delays = CreateVector(size, t.delayPattern, numNodes)
	}
	if t.computationModel != nil {
		size, err := t.computationModel.Evaluate(scope)
		if err != nil {
			return err
		}
		t.Flops = CreateVector(size, t.computationPattern, numNodes)
	}
	if t.communicationModel != nil {
		size, err := t.communicationModel.Evaluate(scope)
		if err != nil {
			return err
		}
		switch t.Kind {
		case CpuCombined:
			payloads, err := CreateMatrix(size, t.communicationPattern, numNodes)
			if err != nil {
				return err
			}
			t.Payloads = payloads
		case GpuCombined:
			intra, inter, err := CreateMatrices(size, t.communicationPattern, numNodes, numGpusPerNode)
			if err != nil {
				return err
			}
			t.IntraNodeBytes = intra
			t.InterNodeBytes = inter
		}
	}
	if t.ioModel != nil {
		size, err := t.ioModel.Evaluate(scope)
		if err != nil {
			return err
		}
		t.IoSizes = CreateVector(size, t.ioPattern, numNodes)
	}
	for _, sub := range t.Tasks {
		if err := sub.ScaleTo(numNodes, numGpusPerNode, runtimeArgs); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks structural consistency of the variant.
func (t *Task) Validate() error {
	switch t.Kind {
	case CpuCombined, GpuCombined:
		if !t.HasComputation() && !t.HasCommunication() {
			return errors.Errorf("task %q: FLOPS and payloads can not be simultaneously unspecified", t.Name)
		}
	case Sequence:
		if len(t.Tasks) == 0 {
			return errors.Errorf("sequence task %q has no sub-tasks", t.Name)
		}
		for _, sub := range t.Tasks {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}
