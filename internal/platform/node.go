package platform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/flexsimproject/flexsim/internal/jobs"
	"github.com/flexsimproject/flexsim/internal/simrt"
)

type Kind int

const (
	Compute Kind = iota
	ComputeWithBB
	ComputeWithWideStripedBB
)

type NodeState int

const (
	NodeFree NodeState = iota
	NodeAllocated
	NodeReserved
)

func (s NodeState) String() string {
	switch s {
	case NodeFree:
		return "free"
	case NodeAllocated:
		return "allocated"
	case NodeReserved:
		return "reserved"
	}
	return "unknown"
}

// WorkerFactory spawns an application worker for one (node, job, rank). It is
// injected so the node agent does not depend on the application package.
type WorkerFactory func(node *Node, job *jobs.Job, rank int) *simrt.Actor

// Node is the per-compute-node state machine. Its allocation commands are
// invoked synchronously from the scheduler actor; its application workers run
// as their own actors and call the per-job accessors and GPU methods.
type Node struct {
	id                int
	kind              Kind
	engine            *simrt.Engine
	host              *simrt.Host
	burstBuffer       *simrt.Disk
	pfsHosts          []*simrt.Host
	state             NodeState
	flopsPerByte      float64
	gpus              []*Gpu
	gpuToGpuBandwidth float64
	gpuLinkMutex      *simrt.Mutex

	runningJobs  map[int]*jobs.Job
	expectedJobs map[int]*jobs.Job

	rank          map[int]int
	expandRank    map[int]int
	barrier       map[int]*simrt.Barrier
	expandBarrier map[int]*simrt.Barrier
	initializing  map[int]bool
	reconfiguring map[int]bool
	expanding     map[int]bool
	workers       map[int]*simrt.Actor

	allowOversubscription bool
	workerFactory         WorkerFactory
	utilization           UtilizationRecorder
	taskTimes             TaskTimeRecorder
	onModified            func(*Node)
}

type NodeConfig struct {
	Id                    int
	Kind                  Kind
	Host                  *simrt.Host
	BurstBuffer           *simrt.Disk
	PfsHosts              []*simrt.Host
	FlopsPerByte          float64
	Gpus                  []*Gpu
	GpuToGpuBandwidth     float64
	AllowOversubscription bool
	Utilization           UtilizationRecorder
	TaskTimes             TaskTimeRecorder
}

func NewNode(engine *simrt.Engine, config NodeConfig) *Node {
	n := &Node{
		id:                    config.Id,
		kind:                  config.Kind,
		engine:                engine,
		host:                  config.Host,
		burstBuffer:           config.BurstBuffer,
		pfsHosts:              config.PfsHosts,
		flopsPerByte:          config.FlopsPerByte,
		gpus:                  config.Gpus,
		gpuToGpuBandwidth:     config.GpuToGpuBandwidth,
		gpuLinkMutex:          engine.NewMutex(),
		runningJobs:           map[int]*jobs.Job{},
		expectedJobs:          map[int]*jobs.Job{},
		rank:                  map[int]int{},
		expandRank:            map[int]int{},
		barrier:               map[int]*simrt.Barrier{},
		expandBarrier:         map[int]*simrt.Barrier{},
		initializing:          map[int]bool{},
		reconfiguring:         map[int]bool{},
		expanding:             map[int]bool{},
		workers:               map[int]*simrt.Actor{},
		allowOversubscription: config.AllowOversubscription,
		utilization:           config.Utilization,
		taskTimes:             config.TaskTimes,
	}
	if n.utilization == nil {
		n.utilization = NopRecorder{}
	}
	if n.taskTimes == nil {
		n.taskTimes = NopRecorder{}
	}
	n.collectStatistics()
	return n
}

// SetWorkerFactory wires the application spawner. Must be called before any
// allocation.
func (n *Node) SetWorkerFactory(factory WorkerFactory) {
	n.workerFactory = factory
}

// SetModifiedObserver wires the scheduler's modified-nodes delta.
func (n *Node) SetModifiedObserver(observer func(*Node)) {
	n.onModified = observer
}

func (n *Node) Id() int { return n.id }
func (n *Node) Kind() Kind { return n.kind }
func (n *Node) Host() *simrt.Host { return n.host }
func (n *Node) HostName() string { return n.host.Name() }
func (n *Node) BurstBuffer() *simrt.Disk { return n.burstBuffer }
func (n *Node) PfsHosts() []*simrt.Host { return n.pfsHosts }
func (n *Node) FlopsPerByte() float64 { return n.flopsPerByte }
func (n *Node) Gpus() []*Gpu { return n.gpus }
func (n *Node) GpuToGpuBandwidth() float64 { return n.gpuToGpuBandwidth }
func (n *Node) State() NodeState { return n.state }

// RunningJobIds returns the ids of jobs currently executing here, ascending.
func (n *Node) RunningJobIds() []int {
	return sortedKeys(n.runningJobs)
}

// ExpectedJobIds returns the ids of jobs reserved here, ascending.
func (n *Node) ExpectedJobIds() []int {
	return sortedKeys(n.expectedJobs)
}

func sortedKeys(m map[int]*jobs.Job) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// refreshState re-derives the node state from the two job sets, records a
// utilisation row and notifies the modified-nodes observer.
func (n *Node) refreshState() {
	switch {
	case len(n.runningJobs) > 0:
		n.state = NodeAllocated
	case len(n.expectedJobs) > 0:
		n.state = NodeReserved
	default:
		n.state = NodeFree
	}
	n.markModified()
	n.collectStatistics()
}

func (n *Node) markModified() {
	if n.onModified != nil {
		n.onModified(n)
	}
}

func (n *Node) collectStatistics() {
	n.utilization.Record(n.engine.Now(), n.HostName(), n.state.String(),
		formatJobIds(n.RunningJobIds()), formatJobIds(n.ExpectedJobIds()))
}

func formatJobIds(ids []int) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ";")
}

// Allocate starts a job on this node for the first time.
func (n *Node) Allocate(job *jobs.Job, rank int, barrier *simrt.Barrier) error {
	if !n.allowOversubscription && len(n.runningJobs) > 0 {
		running := n.RunningJobIds()
		return errors.Errorf("node %d already allocated to job %d and cannot be assigned to job %d",
			n.id, running[0], job.Id)
	}
	n.rank[job.Id] = rank
	n.barrier[job.Id] = barrier
	n.initializing[job.Id] = true
	n.reconfiguring[job.Id] = false
	n.expanding[job.Id] = false
	n.runningJobs[job.Id] = job
	n.refreshState()
	n.spawnWorker(job)
	return nil
}

// Continue respawns the application after a scheduling point that did not
// reconfigure the job.
func (n *Node) Continue(job *jobs.Job) {
	n.spawnWorker(job)
}

// Reconfigure respawns the application on a retained node with a fresh rank
// and barrier.
func (n *Node) Reconfigure(job *jobs.Job, rank int, barrier *simrt.Barrier) {
	n.rank[job.Id] = rank
	n.barrier[job.Id] = barrier
	n.reconfiguring[job.Id] = true
	n.spawnWorker(job)
}

// Expand starts the application on a node newly added to a running job.
func (n *Node) Expand(job *jobs.Job, rank, expandRank int, barrier, expandBarrier *simrt.Barrier) {
	n.rank[job.Id] = rank
	n.expandRank[job.Id] = expandRank
	n.barrier[job.Id] = barrier
	n.expandBarrier[job.Id] = expandBarrier
	n.initializing[job.Id] = false
	n.reconfiguring[job.Id] = true
	n.expanding[job.Id] = true
	n.runningJobs[job.Id] = job
	n.refreshState()
	n.spawnWorker(job)
}

// Complete releases the node from a job whose workload here is done.
func (n *Node) Complete(job *jobs.Job) {
	delete(n.workers, job.Id)
	delete(n.runningJobs, job.Id)
	n.refreshState()
}

// Kill terminates the job's worker immediately and releases the node.
func (n *Node) Kill(job *jobs.Job) {
	if worker, ok := n.workers[job.Id]; ok {
		worker.Kill()
	}
	delete(n.workers, job.Id)
	delete(n.runningJobs, job.Id)
	n.refreshState()
}

// Expect reserves the node for a job the policy has assigned but whose
// allocation has not completed.
func (n *Node) Expect(job *jobs.Job) error {
	if !n.allowOversubscription {
		if _, runningHere := n.runningJobs[job.Id]; !runningHere && len(n.runningJobs) > 0 {
			return errors.Errorf("node %d already allocated and cannot be reserved for job %d", n.id, job.Id)
		}
		if _, expectedHere := n.expectedJobs[job.Id]; !expectedHere && len(n.expectedJobs) > 0 {
			return errors.Errorf("node %d already reserved and cannot be reserved for job %d", n.id, job.Id)
		}
	}
	n.expectedJobs[job.Id] = job
	n.refreshState()
	return nil
}

// RemoveExpected clears a reservation.
func (n *Node) RemoveExpected(job *jobs.Job) {
	if _, ok := n.expectedJobs[job.Id]; !ok {
		return
	}
	delete(n.expectedJobs, job.Id)
	n.refreshState()
}

func (n *Node) spawnWorker(job *jobs.Job) {
	if n.workerFactory == nil {
		panic(errors.Errorf("node %d has no worker factory", n.id))
	}
	n.workers[job.Id] = n.workerFactory(n, job, n.rank[job.Id])
}

func (n *Node) Rank(job *jobs.Job) int {
	return n.rank[job.Id]
}

func (n *Node) ExpandRank(job *jobs.Job) int {
	return n.expandRank[job.Id]
}

func (n *Node) Barrier(job *jobs.Job) *simrt.Barrier {
	return n.barrier[job.Id]
}

func (n *Node) ExpandBarrier(job *jobs.Job) *simrt.Barrier {
	return n.expandBarrier[job.Id]
}

func (n *Node) IsInitializing(job *jobs.Job) bool {
	return n.initializing[job.Id]
}

func (n *Node) MarkInitialized(job *jobs.Job) {
	n.initializing[job.Id] = false
}

func (n *Node) IsReconfiguring(job *jobs.Job) bool {
	return n.reconfiguring[job.Id]
}

func (n *Node) MarkReconfigured(job *jobs.Job) {
	n.reconfiguring[job.Id] = false
}

func (n *Node) IsExpanding(job *jobs.Job) bool {
	return n.expanding[job.Id]
}

func (n *Node) MarkExpanded(job *jobs.Job) {
	n.expanding[job.Id] = false
}

// ExecGpuComputationAsync starts a kernel of flopsPerGpu FLOPs on each of
// numGpus GPUs of this node, free GPUs first. Requiring more GPUs than
// physically present is fatal.
func (n *Node) ExecGpuComputationAsync(numGpus int, flopsPerGpu float64) ([]*simrt.Activity, error) {
	if numGpus > len(n.gpus) {
		return nil, errors.Errorf("number of required GPUs (%d) higher than number of GPUs on node (%d)",
			numGpus, len(n.gpus))
	}
	candidates := make([]*Gpu, 0, len(n.gpus))
	allocated := make([]*Gpu, 0, len(n.gpus))
	for _, gpu := range n.gpus {
		if gpu.State() == GpuFree {
			candidates = append(candidates, gpu)
		} else {
			allocated = append(allocated, gpu)
		}
	}
	candidates = append(candidates, allocated...)
	activities := make([]*simrt.Activity, 0, numGpus)
	for i := 0; i < numGpus; i++ {
		activities = append(activities, candidates[i].ExecAsync(flopsPerGpu))
	}
	return activities, nil
}

// ExecGpuTransferAsync moves an intra-node GPU communication matrix over the
// single GPU link; the dominant pairwise exchange determines the duration.
func (n *Node) ExecGpuTransferAsync(bytes []float64, numGpus int) *simrt.Activity {
	maxBytes := 0.0
	for i := 0; i < numGpus; i++ {
		for j := i + 1; j < numGpus; j++ {
			exchanged := bytes[i*numGpus+j] + bytes[j*numGpus+i]
			if exchanged > maxBytes {
				maxBytes = exchanged
			}
		}
	}
	duration := 0.0
	if n.gpuToGpuBandwidth > 0 {
		duration = maxBytes / n.gpuToGpuBandwidth
	}
	activity := n.engine.ManualActivity()
	n.engine.Spawn(fmt.Sprintf("GPULink@%s", n.HostName()), n.host, func(a *simrt.Actor) {
		n.gpuLinkMutex.Lock(a)
		a.Sleep(duration)
		n.gpuLinkMutex.Unlock()
		activity.Complete()
	})
	return activity
}

// LogTaskTime records the duration of one completed task.
func (n *Node) LogTaskTime(job *jobs.Job, taskName string, duration float64) {
	n.taskTimes.Record(n.engine.Now(), fmt.Sprintf("%d", job.Id), n.HostName(), taskName,
		fmt.Sprintf("%g", duration))
}
