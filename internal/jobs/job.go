package jobs

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/flexsimproject/flexsim/internal/simrt"
	"github.com/flexsimproject/flexsim/internal/workload"
)

// Type is the elasticity class of a job.
type Type int

const (
	Rigid Type = iota
	Moldable
	Malleable
	Evolving
	Adaptive
)

func (t Type) String() string {
	switch t {
	case Rigid:
		return "rigid"
	case Moldable:
		return "moldable"
	case Malleable:
		return "malleable"
	case Evolving:
		return "evolving"
	case Adaptive:
		return "adaptive"
	}
	return "unknown"
}

func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "rigid":
		return Rigid, nil
	case "moldable":
		return Moldable, nil
	case "malleable":
		return Malleable, nil
	case "evolving":
		return Evolving, nil
	case "adaptive":
		return Adaptive, nil
	}
	return 0, errors.Errorf("unknown job type %s", s)
}

// AnnouncesSchedulingPoints reports whether the workload offers voluntary
// scheduling points for this type.
func (t Type) AnnouncesSchedulingPoints() bool {
	return t == Malleable || t == Adaptive
}

// AnnouncesEvolvingRequests reports whether the workload computes size
// requests for this type.
func (t Type) AnnouncesEvolvingRequests() bool {
	return t == Evolving || t == Adaptive
}

// ReconfigurableAtRuntime reports whether the policy may change the node set
// of a running job of this type.
func (t Type) ReconfigurableAtRuntime() bool {
	return t == Malleable || t == Evolving || t == Adaptive
}

// State is a position in the job lifecycle state machine. The numeric values
// are part of the policy wire contract.
type State int

const (
	PendingSubmission State = iota
	Pending
	PendingAllocation
	PendingKill
	Running
	PendingReconfiguration
	InReconfiguration
	Completed
	Killed
)

func (s State) String() string {
	switch s {
	case PendingSubmission:
		return "PENDING_SUBMISSION"
	case Pending:
		return "PENDING"
	case PendingAllocation:
		return "PENDING_ALLOCATION"
	case PendingKill:
		return "PENDING_KILL"
	case Running:
		return "RUNNING"
	case PendingReconfiguration:
		return "PENDING_RECONFIGURATION"
	case InReconfiguration:
		return "IN_RECONFIGURATION"
	case Completed:
		return "COMPLETED"
	case Killed:
		return "KILLED"
	}
	return "UNKNOWN"
}

func (s State) Terminal() bool {
	return s == Completed || s == Killed
}

// Job is one batch job from submission to termination. Node references are
// node ids; resolution to node handles happens in the scheduler.
type Job struct {
	Id    int
	Type  Type
	State State
	// 0 means unbounded.
	Walltime float64
	// Rigid sizing.
	NumNodes       int
	NumGpusPerNode int
	// Elastic bounds.
	NumNodesMin       int
	NumNodesMax       int
	NumGpusPerNodeMin int
	NumGpusPerNodeMax int

	SubmitTime     float64
	StartTime      float64
	EndTime        float64
	WaitTime       float64
	Makespan       float64
	TurnaroundTime float64

	Workload *workload.Workload

	// Latest policy decision.
	AssignedNodeIds []int
	// What the application currently runs on.
	ExecutingNodeIds []int
	// Subset currently in an expansion phase.
	ExpandingNodeIds []int

	AssignedNumGpusPerNode  int
	ExecutingNumGpusPerNode int

	// Immutable user inputs.
	Arguments  map[string]string
	Attributes map[string]string

	// Mutable by the policy concurrently with formula evaluation; guarded by
	// runtimeArgsMutex.
	runtimeArgs      map[string]string
	runtimeArgsMutex *simrt.Mutex
}

func NewRigidJob(engine *simrt.Engine, walltime float64, numNodes, numGpusPerNode int, submitTime float64,
	arguments, attributes map[string]string, wl *workload.Workload,
) (*Job, error) {
	job := &Job{
		Id:                      -1,
		Type:                    Rigid,
		State:                   PendingSubmission,
		Walltime:                walltime,
		NumNodes:                numNodes,
		NumGpusPerNode:          numGpusPerNode,
		NumNodesMin:             -1,
		NumNodesMax:             -1,
		NumGpusPerNodeMin:       -1,
		NumGpusPerNodeMax:       -1,
		SubmitTime:              submitTime,
		StartTime:               -1,
		EndTime:                 -1,
		WaitTime:                -1,
		Makespan:                -1,
		TurnaroundTime:          -1,
		Workload:                wl,
		AssignedNumGpusPerNode:  numGpusPerNode,
		ExecutingNumGpusPerNode: -1,
		Arguments:               arguments,
		Attributes:              attributes,
		runtimeArgs:             map[string]string{},
		runtimeArgsMutex:        engine.NewMutex(),
	}
	if err := job.CheckSpecification(); err != nil {
		return nil, err
	}
	return job, nil
}

func NewElasticJob(engine *simrt.Engine, jobType Type, walltime float64,
	numNodesMin, numNodesMax, numGpusPerNodeMin, numGpusPerNodeMax int, submitTime float64,
	arguments, attributes map[string]string, wl *workload.Workload,
) (*Job, error) {
	job := &Job{
		Id:                      -1,
		Type:                    jobType,
		State:                   PendingSubmission,
		Walltime:                walltime,
		NumNodes:                -1,
		NumGpusPerNode:          -1,
		NumNodesMin:             numNodesMin,
		NumNodesMax:             numNodesMax,
		NumGpusPerNodeMin:       numGpusPerNodeMin,
		NumGpusPerNodeMax:       numGpusPerNodeMax,
		SubmitTime:              submitTime,
		StartTime:               -1,
		EndTime:                 -1,
		WaitTime:                -1,
		Makespan:                -1,
		TurnaroundTime:          -1,
		Workload:                wl,
		AssignedNumGpusPerNode:  -1,
		ExecutingNumGpusPerNode: -1,
		Arguments:               arguments,
		Attributes:              attributes,
		runtimeArgs:             map[string]string{},
		runtimeArgsMutex:        engine.NewMutex(),
	}
	if err := job.CheckSpecification(); err != nil {
		return nil, err
	}
	return job, nil
}

func (j *Job) CheckSpecification() error {
	if j.Type == Rigid {
		if j.NumNodes < 1 {
			return errors.New("invalid specification for rigid job: number of nodes cannot be less than 1")
		}
		return nil
	}
	if j.NumNodesMin < 1 {
		return errors.New("invalid specification for non-rigid job: number of minimum nodes cannot be less than 1")
	}
	if j.NumNodesMax < 1 {
		return errors.New("invalid specification for non-rigid job: number of maximum nodes cannot be less than 1")
	}
	if j.NumNodesMin > j.NumNodesMax {
		return errors.Errorf(
			"invalid specification for non-rigid job: minimum number of nodes (%d) is greater than the maximum number of nodes (%d)",
			j.NumNodesMin, j.NumNodesMax)
	}
	if j.NumGpusPerNodeMin > j.NumGpusPerNodeMax {
		return errors.Errorf(
			"invalid specification for non-rigid job: minimum number of GPUs per node (%d) is greater than the maximum number of GPUs per node (%d)",
			j.NumGpusPerNodeMin, j.NumGpusPerNodeMax)
	}
	return nil
}

// SetState applies a lifecycle transition and its data side effects at the
// given virtual time. Node bookkeeping (reservations, worker teardown) is the
// scheduler's responsibility.
func (j *Job) SetState(newState State, now float64) error {
	switch {
	case j.State == PendingAllocation && newState == Running:
		// Final takeover: the assigned set becomes the executing set exactly
		// once, and the workload is sized to it.
		if j.StartTime < 0 {
			j.StartTime = now
			j.WaitTime = j.StartTime - j.SubmitTime
		}
		j.ExecutingNodeIds = slices.Clone(j.AssignedNodeIds)
		if j.Type == Rigid {
			j.ExecutingNumGpusPerNode = j.NumGpusPerNode
		} else {
			j.ExecutingNumGpusPerNode = j.AssignedNumGpusPerNode
			numNodes := len(j.ExecutingNodeIds)
			runtimeArgs := j.runtimeArgsSnapshot()
			if err := j.Workload.ScaleTo(numNodes, j.ExecutingNumGpusPerNode, runtimeArgs); err != nil {
				return err
			}
			if err := j.Workload.ScaleInitPhaseTo(numNodes, j.ExecutingNumGpusPerNode, runtimeArgs); err != nil {
				return err
			}
		}
	case j.State == PendingReconfiguration && newState == InReconfiguration:
		j.ExecutingNodeIds = slices.Clone(j.AssignedNodeIds)
		j.ExecutingNumGpusPerNode = j.AssignedNumGpusPerNode
		numNodes := len(j.ExecutingNodeIds)
		runtimeArgs := j.runtimeArgsSnapshot()
		if err := j.Workload.ScaleTo(numNodes, j.ExecutingNumGpusPerNode, runtimeArgs); err != nil {
			return err
		}
		if err := j.Workload.ScaleReconfigurationPhaseTo(numNodes, j.ExecutingNumGpusPerNode, runtimeArgs); err != nil {
			return err
		}
	}
	if newState.Terminal() {
		if j.EndTime >= 0 {
			return errors.Errorf("job %d already terminated", j.Id)
		}
		j.EndTime = now
		j.Makespan = j.EndTime - j.StartTime
		j.TurnaroundTime = j.EndTime - j.SubmitTime
	}
	j.State = newState
	return nil
}

// UpdateState derives the next lifecycle step from the relation between the
// assigned and executing sets after a policy decision.
func (j *Job) UpdateState() {
	if !slices.Equal(j.AssignedNodeIds, j.ExecutingNodeIds) {
		if j.State == Pending {
			j.State = PendingAllocation
		} else if j.State == Running {
			j.State = PendingReconfiguration
		}
	} else if j.State == PendingReconfiguration {
		j.State = Running
	}
}

// AssignNode appends a node to the policy's assignment. Runtime assignment is
// only legal for types reconfigurable at runtime.
func (j *Job) AssignNode(nodeId int) error {
	if j.State != Pending && !j.Type.ReconfigurableAtRuntime() {
		return errors.Errorf("assigning nodes during runtime not allowed for %s job %d", j.Type, j.Id)
	}
	j.AssignedNodeIds = append(j.AssignedNodeIds, nodeId)
	return nil
}

func (j *Job) ClearAssignedNodes() {
	j.AssignedNodeIds = nil
}

func (j *Job) AssignNumGpusPerNode(numGpusPerNode int) {
	j.AssignedNumGpusPerNode = numGpusPerNode
}

// SetExpandingNodes records the nodes newly joining during a reconfiguration
// and sizes the expansion phase to them.
func (j *Job) SetExpandingNodes(nodeIds []int) error {
	j.ExpandingNodeIds = slices.Clone(nodeIds)
	return j.Workload.ScaleExpansionPhaseTo(len(nodeIds), j.ExecutingNumGpusPerNode, j.runtimeArgsSnapshot())
}

// CheckAssignment validates the policy's latest decision against the job
// sizing. Rigid GPU counts are re-checked on every decision, reconfigurations
// included.
func (j *Job) CheckAssignment() error {
	numAssigned := len(j.AssignedNodeIds)
	if j.Type == Rigid {
		if numAssigned != j.NumNodes {
			return errors.Errorf(
				"invalid configuration for job %d: number of assigned nodes is expected to be %d but is %d",
				j.Id, j.NumNodes, numAssigned)
		}
		if j.AssignedNumGpusPerNode != j.NumGpusPerNode {
			return errors.Errorf(
				"invalid configuration for job %d: number of assigned GPUs per node is expected to be %d but is %d",
				j.Id, j.NumGpusPerNode, j.AssignedNumGpusPerNode)
		}
		return nil
	}
	if numAssigned < j.NumNodesMin || numAssigned > j.NumNodesMax {
		return errors.Errorf(
			"invalid configuration for job %d: number of assigned nodes is expected to be [%d-%d] but is %d",
			j.Id, j.NumNodesMin, j.NumNodesMax, numAssigned)
	}
	if j.AssignedNumGpusPerNode < j.NumGpusPerNodeMin || j.AssignedNumGpusPerNode > j.NumGpusPerNodeMax {
		return errors.Errorf(
			"invalid configuration for job %d: number of assigned GPUs per node is expected to be [%d-%d] but is %d",
			j.Id, j.NumGpusPerNodeMin, j.NumGpusPerNodeMax, j.AssignedNumGpusPerNode)
	}
	return nil
}

// ClipEvolvingRequest clamps a workload size request to the job's bounds.
func (j *Job) ClipEvolvingRequest(numNodes int) int {
	if numNodes < j.NumNodesMin {
		return j.NumNodesMin
	}
	if numNodes > j.NumNodesMax {
		return j.NumNodesMax
	}
	return numNodes
}

func (j *Job) AdvanceWorkload(phasesPopped, remainingIterations int) {
	j.Workload.Advance(phasesPopped, remainingIterations)
}

func (j *Job) CompleteWorkload() {
	j.Workload.Complete()
}

// RuntimeArguments returns a snapshot of the policy-mutable arguments taken
// under the job's mutex.
func (j *Job) RuntimeArguments(a *simrt.Actor) map[string]string {
	j.runtimeArgsMutex.Lock(a)
	defer j.runtimeArgsMutex.Unlock()
	return j.runtimeArgsSnapshot()
}

// SetRuntimeArguments replaces the policy-mutable arguments under the job's
// mutex.
func (j *Job) SetRuntimeArguments(a *simrt.Actor, args map[string]string) {
	j.runtimeArgsMutex.Lock(a)
	defer j.runtimeArgsMutex.Unlock()
	j.runtimeArgs = make(map[string]string, len(args))
	for k, v := range args {
		j.runtimeArgs[k] = v
	}
}

func (j *Job) runtimeArgsSnapshot() map[string]string {
	snapshot := make(map[string]string, len(j.runtimeArgs))
	for k, v := range j.runtimeArgs {
		snapshot[k] = v
	}
	return snapshot
}
