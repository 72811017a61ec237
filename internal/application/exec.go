package application

import (
	"github.com/flexsimproject/flexsim/internal/platform"
	"github.com/flexsimproject/flexsim/internal/simrt"
	"github.com/flexsimproject/flexsim/internal/workload"
)

// execute runs one iteration of a task body synchronously.
func (w *Worker) execute(a *simrt.Actor, task *workload.Task, nodes []*Node, rank int, barrier *simrt.Barrier, async *[]*simrt.Activity) {
	switch task.Kind {
	case workload.BusyWait:
		delay := task.Delays[rank]
		a.Debugf("waiting %g seconds", delay)
		w.node.Host().Exec(a, delay*w.node.Host().Speed())
	case workload.Idle:
		delay := task.Delays[rank]
		a.Debugf("idling %g seconds", delay)
		a.Sleep(delay)
	case workload.CpuCombined:
		w.executeCpu(a, task, nodes, rank, barrier)
	case workload.GpuCombined:
		w.executeGpu(a, task, nodes, rank, barrier)
	case workload.PfsRead, workload.PfsWrite:
		w.pfsTransferAsync(a, task, rank).Wait(a)
	case workload.BbRead, workload.BbWrite:
		simrt.WaitAll(a, w.burstBufferTransferAsync(a, task, nodes, rank))
	case workload.Sequence:
		for _, sub := range task.Tasks {
			w.runTask(a, sub, nodes, rank, barrier, async)
		}
	default:
		a.Fatalf("task %q does not support synchronous execution", task.Name)
	}
}

// executeAsync starts one iteration of an asynchronous task body and returns
// its activity handles.
func (w *Worker) executeAsync(a *simrt.Actor, task *workload.Task, nodes []*Node, rank int) []*simrt.Activity {
	switch task.Kind {
	case workload.PfsRead, workload.PfsWrite:
		return []*simrt.Activity{w.pfsTransferAsync(a, task, rank)}
	case workload.BbRead, workload.BbWrite:
		return w.burstBufferTransferAsync(a, task, nodes, rank)
	}
	a.Fatalf("task %q does not support asynchronous execution", task.Name)
	return nil
}

// executeCpu issues the computation and communication of a CPU-combined task.
// Coupled tasks run as one parallel execution spanning all executing nodes.
func (w *Worker) executeCpu(a *simrt.Actor, task *workload.Task, nodes []*Node, rank int, barrier *simrt.Barrier) {
	engine := w.engine
	hosts := hostsOf(nodes)
	if task.Coupled && len(task.Flops) > 0 && len(task.Payloads) > 0 {
		barrier.Wait(a)
		if rank == 0 {
			engine.ParallelExec(a, hosts, task.Flops, task.Payloads, w.manager.ComputeLinks())
		}
		barrier.Wait(a)
		return
	}
	var activities []*simrt.Activity
	if len(task.Flops) > 0 && task.Flops[rank] > 0 {
		a.Debugf("processing %g FLOPS", task.Flops[rank])
		activities = append(activities, w.node.Host().ExecAsync(task.Flops[rank]))
	}
	if len(task.Payloads) > 0 {
		barrier.Wait(a)
		if rank == 0 {
			empty := make([]float64, len(hosts))
			engine.ParallelExec(a, hosts, empty, task.Payloads, w.manager.ComputeLinks())
		}
		barrier.Wait(a)
	}
	simrt.WaitAll(a, activities)
}

// executeGpu issues per-GPU kernels, the intra-node GPU link transfer and the
// inter-node exchange of a GPU-combined task.
func (w *Worker) executeGpu(a *simrt.Actor, task *workload.Task, nodes []*Node, rank int, barrier *simrt.Barrier) {
	numGpusPerNode := w.job.ExecutingNumGpusPerNode
	if numGpusPerNode == 0 {
		a.Fatalf("GPU task not executable: no GPUs assigned to job %d", w.job.Id)
	}
	var gpuActivities []*simrt.Activity
	if len(task.Flops) > 0 && task.Flops[rank] > 0 {
		flopsPerGpu := task.Flops[rank] / float64(numGpusPerNode)
		activities, err := w.node.ExecGpuComputationAsync(numGpusPerNode, flopsPerGpu)
		if err != nil {
			panic(err)
		}
		gpuActivities = activities
	}
	var linkActivity *simrt.Activity
	if len(task.IntraNodeBytes) > 0 {
		linkActivity = w.node.ExecGpuTransferAsync(task.IntraNodeBytes, numGpusPerNode)
	}
	if len(task.InterNodeBytes) > 0 {
		barrier.Wait(a)
		if rank == 0 {
			hosts := hostsOf(nodes)
			empty := make([]float64, len(hosts))
			w.engine.ParallelExec(a, hosts, empty, task.InterNodeBytes, w.manager.ComputeLinks())
		}
		barrier.Wait(a)
	}
	simrt.WaitAll(a, gpuActivities)
	if linkActivity != nil {
		linkActivity.Wait(a)
	}
}

// pfsTransferAsync moves this rank's bytes between the node and its PFS
// targets: reads put the payload on the PFS-to-node edges, writes on the
// node-to-PFS edges.
func (w *Worker) pfsTransferAsync(a *simrt.Actor, task *workload.Task, rank int) *simrt.Activity {
	size := task.IoSizes[rank]
	hosts := append([]*simrt.Host{w.node.Host()}, w.node.PfsHosts()...)
	numHosts := len(hosts)
	empty := make([]float64, numHosts)
	payloads := make([]float64, numHosts*numHosts)
	var links []*simrt.Link
	if numHosts > 1 {
		payloadPerHost := size / float64(numHosts-1)
		if task.Kind == workload.PfsRead {
			a.Debugf("reading %g bytes from PFS", size)
			links = w.manager.PfsReadLinks()
			for i := 1; i < numHosts; i++ {
				payloads[i*numHosts] = payloadPerHost
			}
		} else {
			a.Debugf("writing %g bytes to PFS", size)
			links = w.manager.PfsWriteLinks()
			for i := 1; i < numHosts; i++ {
				payloads[i] = payloadPerHost
			}
		}
	}
	return w.engine.ParallelExecAsync(hosts, empty, payloads, links)
}

// burstBufferTransferAsync accesses the node-local burst buffer, or for
// wide-striped buffers reads/writes an equal share on every executing node's
// buffer with the associated staging computation and inter-node traffic.
func (w *Worker) burstBufferTransferAsync(a *simrt.Actor, task *workload.Task, nodes []*Node, rank int) []*simrt.Activity {
	size := task.IoSizes[rank]
	node := w.node
	read := task.Kind == workload.BbRead
	switch node.Kind() {
	case platform.ComputeWithBB:
		if read {
			a.Debugf("reading %g bytes from burst buffer", size)
			return []*simrt.Activity{node.BurstBuffer().ReadAsync(size)}
		}
		a.Debugf("writing %g bytes to burst buffer", size)
		return []*simrt.Activity{node.BurstBuffer().WriteAsync(size)}
	case platform.ComputeWithWideStripedBB:
		numNodes := len(nodes)
		sizePerHost := size / float64(numNodes)
		var activities []*simrt.Activity
		if read {
			activities = append(activities, node.BurstBuffer().ReadAsync(sizePerHost))
		} else {
			activities = append(activities, node.BurstBuffer().WriteAsync(sizePerHost))
		}
		hosts := make([]*simrt.Host, 0, numNodes)
		flops := make([]float64, 0, numNodes)
		payloads := make([]float64, numNodes*numNodes)
		destinationRank := 0
		for _, assignedNode := range nodes {
			hosts = append(hosts, assignedNode.Host())
			flops = append(flops, assignedNode.FlopsPerByte()*sizePerHost)
			if assignedNode == node {
				destinationRank++
				continue
			}
			if read {
				a.Debugf("reading %g bytes from burst buffer of %s", sizePerHost, assignedNode.HostName())
				payloads[destinationRank*numNodes+rank] = sizePerHost
			} else {
				a.Debugf("writing %g bytes to burst buffer of %s", sizePerHost, assignedNode.HostName())
				payloads[rank*numNodes+destinationRank] = sizePerHost
			}
			destinationRank++
		}
		activities = append(activities, w.engine.ParallelExecAsync(hosts, flops, payloads, w.manager.ComputeLinks()))
		return activities
	default:
		a.Fatalf("no burst buffer available on node %s", node.HostName())
		return nil
	}
}

func hostsOf(nodes []*Node) []*simrt.Host {
	hosts := make([]*simrt.Host, len(nodes))
	for i, node := range nodes {
		hosts[i] = node.Host()
	}
	return hosts
}
