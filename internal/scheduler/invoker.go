package scheduler

import (
	"github.com/flexsimproject/flexsim/internal/simrt"
)

// SpawnPeriodicInvoker ticks the scheduler every schedulingInterval virtual
// seconds. It runs until the scheduler kills it at finalisation.
func SpawnPeriodicInvoker(engine *simrt.Engine, host *simrt.Host, schedulingInterval float64, inbox *simrt.Mailbox) *simrt.Actor {
	return engine.Spawn("PeriodicInvoker", host, func(a *simrt.Actor) {
		for {
			a.Sleep(schedulingInterval)
			inbox.Put(InvokeSchedulingMsg{})
		}
	})
}
