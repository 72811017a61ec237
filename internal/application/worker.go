package application

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/flexsimproject/flexsim/internal/jobs"
	"github.com/flexsimproject/flexsim/internal/platform"
	"github.com/flexsimproject/flexsim/internal/scheduler"
	"github.com/flexsimproject/flexsim/internal/simrt"
	"github.com/flexsimproject/flexsim/internal/workload"
)

// Worker executes one job's workload on one node for one rank. It runs
// exactly one pass of the application procedure and terminates; every respawn
// (continue, reconfigure, expand) creates a fresh worker.
type Worker struct {
	engine         *simrt.Engine
	manager        *platform.Manager
	schedulerInbox *simrt.Mailbox
	// Clamp out-of-range evolving requests instead of failing.
	clipEvolvingRequests bool

	node *Node
	job  *jobs.Job
	rank int
}

// Node aliases the platform node so the execution code reads naturally.
type Node = platform.Node

// Factory returns a platform.WorkerFactory wired to the scheduler inbox.
func Factory(engine *simrt.Engine, manager *platform.Manager, schedulerInbox *simrt.Mailbox, clipEvolvingRequests bool) platform.WorkerFactory {
	return func(node *Node, job *jobs.Job, rank int) *simrt.Actor {
		w := &Worker{
			engine:               engine,
			manager:              manager,
			schedulerInbox:       schedulerInbox,
			clipEvolvingRequests: clipEvolvingRequests,
			node:                 node,
			job:                  job,
			rank:                 rank,
		}
		name := fmt.Sprintf("Application@Job%d@%s", job.Id, node.HostName())
		return engine.Spawn(name, node.Host(), w.run)
	}
}

func (w *Worker) run(a *simrt.Actor) {
	node, job, rank := w.node, w.job, w.rank
	barrier := node.Barrier(job)

	if node.IsInitializing(job) {
		w.runOneTimePhase(a, job.Workload.InitPhase, w.executingNodes(), rank, barrier)
		node.MarkInitialized(job)
	}

	if node.IsReconfiguring(job) {
		w.runOneTimePhase(a, job.Workload.ReconfigurationPhase, w.executingNodes(), rank, barrier)
		node.MarkReconfigured(job)
	}

	barrier.Wait(a)
	if rank == 0 {
		if err := job.SetState(jobs.Running, a.Now()); err != nil {
			panic(err)
		}
	}

	if node.IsExpanding(job) {
		w.runOneTimePhase(a, job.Workload.ExpansionPhase, w.expandingNodes(), node.ExpandRank(job), node.ExpandBarrier(job))
		node.MarkExpanded(job)
	}

	queue := slices.Clone(job.Workload.Phases())
	if len(queue) == 0 {
		if rank == 0 {
			w.schedulerInbox.Put(scheduler.WorkloadProcessedMsg{Job: job})
		}
		return
	}

	var async []*simrt.Activity
	initialPhase := true
	phasesPopped := 0

	for len(queue) > 0 {
		phase := queue[0]
		remaining := phase.Iterations
		for remaining > 0 {
			if !initialPhase {
				if done := w.checkSafePoint(a, phase, queue, phasesPopped, remaining, async, barrier); done {
					return
				}
			}
			if phase.Barrier {
				simrt.WaitAll(a, async)
				async = nil
				barrier.Wait(a)
			}
			for _, task := range phase.Tasks {
				w.runTask(a, task, w.executingNodes(), rank, barrier, &async)
			}
			remaining--
			initialPhase = false
		}
		queue = queue[1:]
		phasesPopped++
	}

	simrt.WaitAll(a, async)
	barrier.Wait(a)
	if rank == 0 {
		w.schedulerInbox.Put(scheduler.WorkloadProcessedMsg{Job: job})
	}
}

// checkSafePoint evaluates the evolving model or voluntary scheduling point
// between iterations. It returns true when the worker must stop so the
// scheduler can take over.
func (w *Worker) checkSafePoint(a *simrt.Actor, phase *workload.Phase, queue []*workload.Phase,
	phasesPopped, remaining int, async []*simrt.Activity, barrier *simrt.Barrier,
) bool {
	job, rank := w.job, w.rank
	if job.Type.AnnouncesEvolvingRequests() && phase.HasEvolvingModel() {
		phaseIteration := phase.InitialIterations - remaining
		requested, err := phase.EvolvingRequest(
			len(job.ExecutingNodeIds), job.ExecutingNumGpusPerNode, phaseIteration, job.RuntimeArguments(a))
		if err != nil {
			panic(err)
		}
		if requested < job.NumNodesMin || requested > job.NumNodesMax {
			if !w.clipEvolvingRequests {
				a.Fatalf("evolving request of job %d is expected to be [%d-%d] but is %d",
					job.Id, job.NumNodesMin, job.NumNodesMax, requested)
			}
			requested = job.ClipEvolvingRequest(requested)
		}
		if requested != len(job.ExecutingNodeIds) {
			simrt.WaitAll(a, async)
			barrier.Wait(a)
			if rank == 0 {
				job.AdvanceWorkload(phasesPopped, remaining)
				w.schedulerInbox.Put(scheduler.EvolvingRequestMsg{Job: job, NumNodes: requested})
			}
			return true
		}
		return false
	}
	if job.Type.AnnouncesSchedulingPoints() && phase.SchedulingPoint {
		lastIteration := remaining == 1 && len(queue) == 1
		if lastIteration && !phase.FinalSchedulingPoint {
			return false
		}
		simrt.WaitAll(a, async)
		barrier.Wait(a)
		if rank == 0 {
			job.AdvanceWorkload(phasesPopped, remaining)
			w.schedulerInbox.Put(scheduler.SchedulingPointMsg{Job: job})
		}
		return true
	}
	return false
}

// runOneTimePhase executes an init, reconfiguration or expansion phase.
func (w *Worker) runOneTimePhase(a *simrt.Actor, phase *workload.Phase, nodes []*Node, rank int, barrier *simrt.Barrier) {
	if phase == nil {
		return
	}
	var async []*simrt.Activity
	for i := 0; i < phase.Iterations; i++ {
		for _, task := range phase.Tasks {
			w.runTask(a, task, nodes, rank, barrier, &async)
		}
		if phase.Barrier {
			barrier.Wait(a)
		}
	}
	simrt.WaitAll(a, async)
}

func (w *Worker) runTask(a *simrt.Actor, task *workload.Task, nodes []*Node, rank int, barrier *simrt.Barrier, async *[]*simrt.Activity) {
	iterations := task.Iterations
	start := a.Now()
	if task.Name == "" {
		a.Debugf("starting task with %d iteration(s)", iterations)
	} else {
		a.Debugf("starting task %s with %d iteration(s)", task.Name, iterations)
	}
	for i := 0; i < iterations; i++ {
		if task.Synchronized {
			barrier.Wait(a)
		}
		if task.Asynchronous {
			*async = append(*async, w.executeAsync(a, task, nodes, rank)...)
		} else {
			w.execute(a, task, nodes, rank, barrier, async)
		}
	}
	w.node.LogTaskTime(w.job, task.Name, a.Now()-start)
}

func (w *Worker) executingNodes() []*Node {
	return w.resolveNodes(w.job.ExecutingNodeIds)
}

func (w *Worker) expandingNodes() []*Node {
	return w.resolveNodes(w.job.ExpandingNodeIds)
}

func (w *Worker) resolveNodes(ids []int) []*Node {
	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		node, err := w.manager.NodeById(id)
		if err != nil {
			panic(err)
		}
		nodes = append(nodes, node)
	}
	return nodes
}
