package engine

import (
	"github.com/pkg/errors"

	"github.com/flexsimproject/flexsim/internal/application"
	"github.com/flexsimproject/flexsim/internal/common/flexcontext"
	"github.com/flexsimproject/flexsim/internal/configuration"
	"github.com/flexsimproject/flexsim/internal/jobs"
	"github.com/flexsimproject/flexsim/internal/platform"
	"github.com/flexsimproject/flexsim/internal/policy"
	"github.com/flexsimproject/flexsim/internal/scheduler"
	"github.com/flexsimproject/flexsim/internal/sensing"
	"github.com/flexsimproject/flexsim/internal/simrt"
)

// Simulation wires the engine, platform, scheduler, submitter and driver
// together for one run.
type Simulation struct {
	ctx     *flexcontext.Context
	engine  *simrt.Engine
	manager *platform.Manager
	driver  *Driver

	nodeUtilization *platform.CsvRecorder
	taskTimes       *platform.CsvRecorder
	telemetry       *sensing.Sensing
}

// New builds a simulation from the configuration and a policy client. The
// client is injected so programmatic embeddings and tests can run in-process
// policies; the CLI passes the ZMQ gateway.
func New(ctx *flexcontext.Context, config *configuration.Simulation, client policy.Client) (*Simulation, error) {
	engine := simrt.NewEngine(ctx)
	s := &Simulation{ctx: ctx, engine: engine}

	options := platform.Options{
		AllowOversubscription: config.AllowOversubscription,
		PfsReadLinks:          config.PfsReadLinks,
		PfsWriteLinks:         config.PfsWriteLinks,
	}
	var err error
	if config.NodeUtilization != "" {
		s.nodeUtilization, err = platform.NewCsvRecorder(config.NodeUtilization, platform.NodeUtilizationHeader)
		if err != nil {
			return nil, err
		}
		options.Utilization = s.nodeUtilization
	}
	if config.TaskTimes != "" {
		s.taskTimes, err = platform.NewCsvRecorder(config.TaskTimes, platform.TaskTimesHeader)
		if err != nil {
			return nil, err
		}
		options.TaskTimes = s.taskTimes
	}

	s.manager, err = platform.Load(engine, config.PlatformFile, options)
	if err != nil {
		return nil, err
	}

	schedulerInbox := engine.MailboxByName("Scheduler")
	driverInbox := engine.MailboxByName("EngineDriver")

	workerFactory := application.Factory(engine, s.manager, schedulerInbox, config.ClipEvolvingRequests)
	for _, node := range s.manager.ComputeNodes() {
		node.SetWorkerFactory(workerFactory)
	}

	jobList, err := jobs.LoadJobs(engine, config.JobsFile)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(engine, s.manager, client, scheduler.Config{
		SchedulingInterval:        config.SchedulingInterval,
		MinSchedulingInterval:     config.MinSchedulingInterval,
		ScheduleOnJobSubmit:       config.ScheduleOnJobSubmit,
		ScheduleOnJobFinalize:     config.ScheduleOnJobFinalize,
		ScheduleOnSchedulingPoint: config.ScheduleOnSchedulingPoint,
		GracePeriod:               config.JobKillGracePeriod,
		ForwardIoInformation:      config.ForwardIoInformation,
	}, schedulerInbox, driverInbox)

	s.driver = NewDriver(driverInbox, schedulerInbox, config.JobStatistics)

	masterHost := s.manager.MasterHost()
	engine.Spawn("Scheduler", masterHost, sched.Run)
	engine.Spawn("EngineDriver", masterHost, s.driver.Run)
	SpawnSubmitter(engine, masterHost, jobList, driverInbox)

	if config.Sensing {
		s.telemetry, err = sensing.New(s.manager, sensing.Config{
			Interval:        config.SensingInterval,
			CpuUtilization:  config.CpuUtilization,
			NetworkActivity: config.NetworkActivity,
			PfsUtilization:  config.PfsUtilization,
			GpuUtilization:  config.GpuUtilization,
		})
		if err != nil {
			return nil, err
		}
		s.driver.AddDaemon(s.telemetry.Spawn(engine, masterHost))
	}

	return s, nil
}

// Driver exposes the engine driver for progress observation.
func (s *Simulation) Driver() *Driver {
	return s.driver
}

// Manager exposes the platform manager.
func (s *Simulation) Manager() *platform.Manager {
	return s.manager
}

// Engine exposes the discrete-event engine, e.g. for reading the final
// virtual time.
func (s *Simulation) Engine() *simrt.Engine {
	return s.engine
}

// Run executes the simulation to completion, then flushes and closes every
// output sink concurrently.
func (s *Simulation) Run() error {
	runErr := s.engine.Run()
	group, _ := flexcontext.ErrGroup(s.ctx)
	if s.nodeUtilization != nil {
		group.Go(s.nodeUtilization.Close)
	}
	if s.taskTimes != nil {
		group.Go(s.taskTimes.Close)
	}
	if s.telemetry != nil {
		group.Go(s.telemetry.Close)
	}
	closeErr := group.Wait()
	if runErr != nil {
		return runErr
	}
	return errors.Wrap(closeErr, "closing simulation outputs")
}
