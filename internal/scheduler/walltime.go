package scheduler

import (
	"fmt"

	"github.com/flexsimproject/flexsim/internal/jobs"
	"github.com/flexsimproject/flexsim/internal/simrt"
)

// SpawnWalltimeMonitor arms the walltime watchdog of one running job. It
// sleeps until start + walltime + grace and posts WALLTIME_EXCEEDED unless
// the scheduler kills it first on normal termination.
func SpawnWalltimeMonitor(engine *simrt.Engine, host *simrt.Host, job *jobs.Job, gracePeriod float64, inbox *simrt.Mailbox) *simrt.Actor {
	name := fmt.Sprintf("WalltimeMonitor@Job%d", job.Id)
	return engine.Spawn(name, host, func(a *simrt.Actor) {
		a.SleepUntil(job.StartTime + job.Walltime + gracePeriod)
		inbox.Put(WalltimeExceededMsg{Job: job})
	})
}
