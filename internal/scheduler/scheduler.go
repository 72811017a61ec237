package scheduler

import (
	"math"

	"github.com/flexsimproject/flexsim/internal/jobs"
	"github.com/flexsimproject/flexsim/internal/platform"
	"github.com/flexsimproject/flexsim/internal/policy"
	"github.com/flexsimproject/flexsim/internal/simrt"
)

// invocationEpsilon absorbs floating-point jitter when rate-limiting policy
// invocations.
const invocationEpsilon = 1e-3

// Config is the scheduler-facing slice of the simulation configuration.
type Config struct {
	SchedulingInterval        float64
	MinSchedulingInterval     float64
	ScheduleOnJobSubmit       bool
	ScheduleOnJobFinalize     bool
	ScheduleOnSchedulingPoint bool
	GracePeriod               float64
	ForwardIoInformation      bool
}

// Scheduler owns the job queue, drives the external policy through the
// gateway and turns its decisions into per-node commands. It runs as a single
// actor; the synchronous policy exchange blocks it, so no scheduler event is
// dispatched during an invocation.
type Scheduler struct {
	engine  *simrt.Engine
	manager *platform.Manager
	client  policy.Client
	config  Config

	inbox       *simrt.Mailbox
	driverInbox *simrt.Mailbox

	jobQueue []*jobs.Job
	// Jobs whose state or assignment changed since the last invocation.
	modifiedJobs []*jobs.Job
	// Nodes whose state changed since the last invocation.
	modifiedNodes    []*platform.Node
	walltimeMonitors map[int]*simrt.Actor
	periodicInvoker  *simrt.Actor
	lastInvocation   float64
	currentJobId     int
}

func New(engine *simrt.Engine, manager *platform.Manager, client policy.Client, config Config,
	inbox, driverInbox *simrt.Mailbox,
) *Scheduler {
	s := &Scheduler{
		engine:           engine,
		manager:          manager,
		client:           client,
		config:           config,
		inbox:            inbox,
		driverInbox:      driverInbox,
		walltimeMonitors: map[int]*simrt.Actor{},
		lastInvocation:   math.Inf(-1),
	}
	for _, node := range manager.ComputeNodes() {
		node.SetModifiedObserver(s.addModifiedNode)
		// The first invocation ships the full platform state.
		s.addModifiedNode(node)
	}
	return s
}

// Run is the scheduler actor's main loop.
func (s *Scheduler) Run(a *simrt.Actor) {
	if s.config.SchedulingInterval > 0 {
		s.periodicInvoker = SpawnPeriodicInvoker(s.engine, s.manager.MasterHost(), s.config.SchedulingInterval, s.inbox)
	}
	if err := s.client.Init(); err != nil {
		panic(err)
	}
	for {
		switch m := s.inbox.Get(a).(type) {
		case InvokeSchedulingMsg:
			s.schedule(a, policy.InvokePeriodic, nil, -1)
		case JobSubmitMsg:
			a.Infof("received job submission")
			s.handleJobSubmit(a, m.Job)
		case SchedulingPointMsg:
			a.Infof("received scheduling point from job %d", m.Job.Id)
			s.handleSchedulingPoint(a, m.Job)
		case EvolvingRequestMsg:
			a.Infof("received evolving request from job %d for %d node(s)", m.Job.Id, m.NumNodes)
			s.handleEvolvingRequest(a, m.Job, m.NumNodes)
		case WalltimeExceededMsg:
			a.Infof("received exceeded walltime of job %d", m.Job.Id)
			s.forwardJobKill(a, m.Job, true)
		case WorkloadProcessedMsg:
			a.Infof("received workload processed message from job %d", m.Job.Id)
			s.handleProcessedWorkload(a, m.Job)
		case FinalizeMsg:
			a.Infof("received finalization")
			if s.periodicInvoker != nil {
				s.periodicInvoker.Kill()
			}
			if err := s.client.Finalize(); err != nil {
				panic(err)
			}
			return
		default:
			a.Fatalf("unknown message %T on scheduler mailbox", m)
		}
	}
}

// schedule invokes the external policy unless the minimum scheduling interval
// drops the trigger. The triggering job of a safe-point invocation is always
// advanced, dropped trigger or not.
func (s *Scheduler) schedule(a *simrt.Actor, invocationType policy.InvocationType, requestingJob *jobs.Job, evolvingRequest int) {
	clock := a.Now()
	safePoint := invocationType == policy.InvokeSchedulingPoint || invocationType == policy.InvokeEvolvingRequest
	if s.config.MinSchedulingInterval > 0 && clock-s.lastInvocation < s.config.MinSchedulingInterval-invocationEpsilon {
		if safePoint {
			s.continueAfterSafePoint(a, requestingJob)
		}
		return
	}

	request := s.buildRequest(a, invocationType, requestingJob, evolvingRequest)
	s.modifiedJobs = nil
	s.modifiedNodes = nil
	reply, err := s.client.Schedule(request)
	if err != nil {
		panic(err)
	}
	scheduledJobs := s.applyReply(a, reply)

	if safePoint {
		s.continueAfterSafePoint(a, requestingJob)
	}
	for _, job := range scheduledJobs {
		if job.State == jobs.PendingAllocation {
			s.forwardJobAllocation(a, job)
		} else if job.State == jobs.PendingKill {
			s.forwardJobKill(a, job, false)
		}
		s.addModifiedJob(job)
	}
	s.lastInvocation = clock
}

// continueAfterSafePoint resumes the job whose workers stopped at a
// scheduling point or evolving request: kill, reconfigure or plain continue,
// depending on what the policy decided in the meantime.
func (s *Scheduler) continueAfterSafePoint(a *simrt.Actor, job *jobs.Job) {
	switch job.State {
	case jobs.PendingKill:
		s.forwardJobKill(a, job, false)
	case jobs.PendingReconfiguration:
		s.handleReconfiguration(a, job)
	case jobs.Completed, jobs.Killed:
		// Terminated while stopped; nothing left to resume.
	default:
		for _, node := range s.executingNodes(job) {
			node.Continue(job)
		}
	}
}

func (s *Scheduler) handleJobSubmit(a *simrt.Actor, job *jobs.Job) {
	job.Id = s.currentJobId
	s.currentJobId++
	if err := job.SetState(jobs.Pending, a.Now()); err != nil {
		panic(err)
	}
	s.addModifiedJob(job)
	s.jobQueue = append(s.jobQueue, job)
	if s.config.ScheduleOnJobSubmit {
		s.schedule(a, policy.InvokeJobSubmit, job, -1)
	}
}

func (s *Scheduler) handleProcessedWorkload(a *simrt.Actor, job *jobs.Job) {
	for _, node := range s.executingNodes(job) {
		node.Complete(job)
	}
	job.CompleteWorkload()
	s.terminateJob(a, job, jobs.Completed)
	if s.config.ScheduleOnJobFinalize {
		s.schedule(a, policy.InvokeJobCompleted, job, -1)
	}
}

func (s *Scheduler) forwardJobKill(a *simrt.Actor, job *jobs.Job, exceededWalltime bool) {
	for _, node := range s.executingNodes(job) {
		node.Kill(job)
	}
	s.terminateJob(a, job, jobs.Killed)
	if exceededWalltime && s.config.ScheduleOnJobFinalize {
		s.schedule(a, policy.InvokeJobKilled, job, -1)
	}
}

// terminateJob applies a terminal transition, clears reservations, cancels
// the walltime monitor and notifies the engine driver.
func (s *Scheduler) terminateJob(a *simrt.Actor, job *jobs.Job, state jobs.State) {
	if err := job.SetState(state, a.Now()); err != nil {
		panic(err)
	}
	for _, node := range s.assignedNodes(job) {
		node.RemoveExpected(job)
	}
	if monitor, ok := s.walltimeMonitors[job.Id]; ok {
		monitor.Kill()
		delete(s.walltimeMonitors, job.Id)
	}
	s.addModifiedJob(job)
	s.driverInbox.Put(JobTerminatedMsg{Job: job})
}

// forwardJobAllocation performs the final takeover of a PENDING_ALLOCATION
// job: the executing set is fixed, a barrier of matching arity is created and
// every node receives its rank.
func (s *Scheduler) forwardJobAllocation(a *simrt.Actor, job *jobs.Job) {
	if err := job.SetState(jobs.Running, a.Now()); err != nil {
		panic(err)
	}
	s.addModifiedJob(job)
	barrier := s.engine.NewBarrier(len(job.ExecutingNodeIds))
	for rank, node := range s.executingNodes(job) {
		if err := node.Allocate(job, rank, barrier); err != nil {
			panic(err)
		}
	}
	if job.Walltime > 0 {
		s.walltimeMonitors[job.Id] = SpawnWalltimeMonitor(
			s.engine, s.manager.MasterHost(), job, s.config.GracePeriod, s.inbox)
	}
}

// handleReconfiguration transitions a PENDING_RECONFIGURATION job onto its
// new node set: retained nodes reconfigure, new nodes expand, released nodes
// complete. All nodes of the new set share one barrier; the expanding subset
// additionally shares an expansion barrier.
func (s *Scheduler) handleReconfiguration(a *simrt.Actor, job *jobs.Job) {
	previous := map[int]bool{}
	for _, id := range job.ExecutingNodeIds {
		previous[id] = true
	}

	// Setting the state implies taking over the new nodes.
	if err := job.SetState(jobs.InReconfiguration, a.Now()); err != nil {
		panic(err)
	}
	s.addModifiedJob(job)

	barrier := s.engine.NewBarrier(len(job.ExecutingNodeIds))
	ranks := map[int]int{}
	var expandNodeIds []int
	rank := 0
	for _, id := range job.ExecutingNodeIds {
		node := s.node(id)
		if previous[id] {
			node.Reconfigure(job, rank, barrier)
		} else {
			expandNodeIds = append(expandNodeIds, id)
			ranks[id] = rank
		}
		rank++
	}

	if err := job.SetExpandingNodes(expandNodeIds); err != nil {
		panic(err)
	}
	expandBarrier := s.engine.NewBarrier(len(expandNodeIds))
	for expandRank, id := range expandNodeIds {
		s.node(id).Expand(job, ranks[id], expandRank, barrier, expandBarrier)
	}

	for id := range previous {
		if !containsInt(job.ExecutingNodeIds, id) {
			s.node(id).Complete(job)
		}
	}
}

func (s *Scheduler) handleSchedulingPoint(a *simrt.Actor, job *jobs.Job) {
	s.addModifiedJob(job)
	if s.config.ScheduleOnSchedulingPoint {
		s.schedule(a, policy.InvokeSchedulingPoint, job, -1)
	} else {
		s.continueAfterSafePoint(a, job)
	}
}

func (s *Scheduler) handleEvolvingRequest(a *simrt.Actor, job *jobs.Job, numNodes int) {
	s.addModifiedJob(job)
	if s.config.ScheduleOnSchedulingPoint {
		s.schedule(a, policy.InvokeEvolvingRequest, job, numNodes)
	} else {
		s.continueAfterSafePoint(a, job)
	}
}

// applyReply applies the policy's decisions: kill flags, fresh assignments,
// GPU counts and runtime arguments. Every touched job is validated against
// its sizing and advanced through UpdateState.
func (s *Scheduler) applyReply(a *simrt.Actor, reply *policy.Reply) []*jobs.Job {
	scheduledJobs := make([]*jobs.Job, 0, len(reply.Jobs))
	for _, decision := range reply.Jobs {
		if decision.Id < 0 || decision.Id >= len(s.jobQueue) {
			a.Fatalf("scheduling decision for unknown job %d", decision.Id)
		}
		job := s.jobQueue[decision.Id]
		if job.State.Terminal() {
			a.Fatalf("scheduling decision for terminated job %d", job.Id)
		}
		if decision.KillFlag {
			job.State = jobs.PendingKill
			scheduledJobs = append(scheduledJobs, job)
			continue
		}
		for _, node := range s.assignedNodes(job) {
			node.RemoveExpected(job)
		}
		job.ClearAssignedNodes()
		runtimeAssignment := job.State != jobs.Pending
		for _, nodeId := range decision.AssignedNodeIds {
			if err := job.AssignNode(nodeId); err != nil {
				panic(err)
			}
			if runtimeAssignment {
				if err := s.node(nodeId).Expect(job); err != nil {
					panic(err)
				}
			}
		}
		if job.Type != jobs.Rigid {
			job.AssignNumGpusPerNode(decision.AssignedNumGpusPerNode)
		}
		if decision.ModifiedRuntimeArgs {
			job.SetRuntimeArguments(a, decision.RuntimeArguments)
		}
		if err := job.CheckAssignment(); err != nil {
			panic(err)
		}
		job.UpdateState()
		scheduledJobs = append(scheduledJobs, job)
	}
	return scheduledJobs
}

func (s *Scheduler) addModifiedJob(job *jobs.Job) {
	for _, j := range s.modifiedJobs {
		if j == job {
			return
		}
	}
	s.modifiedJobs = append(s.modifiedJobs, job)
}

func (s *Scheduler) addModifiedNode(node *platform.Node) {
	for _, n := range s.modifiedNodes {
		if n == node {
			return
		}
	}
	s.modifiedNodes = append(s.modifiedNodes, node)
}

func (s *Scheduler) node(id int) *platform.Node {
	node, err := s.manager.NodeById(id)
	if err != nil {
		panic(err)
	}
	return node
}

func (s *Scheduler) executingNodes(job *jobs.Job) []*platform.Node {
	return s.resolveNodes(job.ExecutingNodeIds)
}

func (s *Scheduler) assignedNodes(job *jobs.Job) []*platform.Node {
	return s.resolveNodes(job.AssignedNodeIds)
}

func (s *Scheduler) resolveNodes(ids []int) []*platform.Node {
	nodes := make([]*platform.Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, s.node(id))
	}
	return nodes
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
