package engine

import (
	"github.com/flexsimproject/flexsim/internal/jobs"
	"github.com/flexsimproject/flexsim/internal/scheduler"
	"github.com/flexsimproject/flexsim/internal/simrt"
)

// Driver counts active jobs and triggers global shutdown: once every
// submitted job has terminated it finalises the scheduler, stops the
// auxiliary daemons and writes the per-job statistics.
type Driver struct {
	inbox          *simrt.Mailbox
	schedulerInbox *simrt.Mailbox
	// Daemon actors (sensing) to stop at shutdown.
	daemons []*simrt.Actor
	// Observes progress; used for the progress TUI.
	onProgress func(terminated, total int)
	// Jobs in submission order, for the statistics output.
	jobList []*jobs.Job

	statisticsPath string
}

func NewDriver(inbox, schedulerInbox *simrt.Mailbox, statisticsPath string) *Driver {
	return &Driver{
		inbox:          inbox,
		schedulerInbox: schedulerInbox,
		statisticsPath: statisticsPath,
	}
}

func (d *Driver) AddDaemon(daemon *simrt.Actor) {
	d.daemons = append(d.daemons, daemon)
}

func (d *Driver) SetProgressObserver(observer func(terminated, total int)) {
	d.onProgress = observer
}

// Jobs returns the jobs seen so far, in submission order.
func (d *Driver) Jobs() []*jobs.Job {
	return d.jobList
}

// Run is the engine driver actor body.
func (d *Driver) Run(a *simrt.Actor) {
	numJobs, ok := d.inbox.Get(a).(NumberOfJobsMsg)
	if !ok {
		a.Fatalf("engine driver expects the job count first")
	}
	remaining := numJobs.Count
	terminated := 0

	for remaining > 0 {
		switch m := d.inbox.Get(a).(type) {
		case SubmitJobMsg:
			a.Infof("registered job submission")
			d.jobList = append(d.jobList, m.Job)
			d.schedulerInbox.Put(scheduler.JobSubmitMsg{Job: m.Job})
		case scheduler.JobTerminatedMsg:
			a.Infof("registered termination of job %d", m.Job.Id)
			remaining--
			terminated++
			if d.onProgress != nil {
				d.onProgress(terminated, numJobs.Count)
			}
		default:
			a.Fatalf("unknown message %T on engine driver mailbox", m)
		}
	}

	a.Infof("all jobs terminated, sending finalization")
	d.schedulerInbox.Put(scheduler.FinalizeMsg{})
	for _, daemon := range d.daemons {
		daemon.Kill()
	}
	if d.statisticsPath != "" {
		if err := WriteJobStatistics(d.statisticsPath, d.jobList); err != nil {
			panic(err)
		}
	}
}
