package engine

import (
	"sort"

	"github.com/flexsimproject/flexsim/internal/jobs"
	"github.com/flexsimproject/flexsim/internal/simrt"
)

// NumberOfJobsMsg announces how many jobs the submitter will release.
type NumberOfJobsMsg struct {
	Count int
}

// SubmitJobMsg releases one job at its submit time.
type SubmitJobMsg struct {
	Job *jobs.Job
}

// SpawnSubmitter releases each job at its submit time, in stable submit-time
// order, onto the driver mailbox.
func SpawnSubmitter(engine *simrt.Engine, host *simrt.Host, jobList []*jobs.Job, driverInbox *simrt.Mailbox) *simrt.Actor {
	sorted := append([]*jobs.Job{}, jobList...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SubmitTime < sorted[j].SubmitTime
	})
	return engine.Spawn("JobSubmitter", host, func(a *simrt.Actor) {
		driverInbox.Put(NumberOfJobsMsg{Count: len(sorted)})
		for _, job := range sorted {
			a.SleepUntil(job.SubmitTime)
			driverInbox.Put(SubmitJobMsg{Job: job})
		}
	})
}
