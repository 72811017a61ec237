package scheduler

import (
	"github.com/flexsimproject/flexsim/internal/jobs"
)

// Messages accepted on the scheduler mailbox. Dispatch is exhaustive: an
// unknown message is fatal.

// JobSubmitMsg hands a submitted job to the scheduler.
type JobSubmitMsg struct {
	Job *jobs.Job
}

// InvokeSchedulingMsg triggers a periodic policy invocation.
type InvokeSchedulingMsg struct{}

// SchedulingPointMsg reports that a job reached a voluntary scheduling point.
type SchedulingPointMsg struct {
	Job *jobs.Job
}

// EvolvingRequestMsg reports a workload-computed size request.
type EvolvingRequestMsg struct {
	Job      *jobs.Job
	NumNodes int
}

// WalltimeExceededMsg reports that a job exceeded walltime plus grace period.
type WalltimeExceededMsg struct {
	Job *jobs.Job
}

// WorkloadProcessedMsg reports that a job's workload finished.
type WorkloadProcessedMsg struct {
	Job *jobs.Job
}

// FinalizeMsg shuts the scheduler down after the last job terminated.
type FinalizeMsg struct{}

// JobTerminatedMsg is posted by the scheduler to the engine driver whenever a
// job reaches a terminal state.
type JobTerminatedMsg struct {
	Job *jobs.Job
}
