package scheduler

import (
	"github.com/flexsimproject/flexsim/internal/jobs"
	"github.com/flexsimproject/flexsim/internal/platform"
	"github.com/flexsimproject/flexsim/internal/policy"
	"github.com/flexsimproject/flexsim/internal/simrt"
)

// buildRequest assembles the world-state delta for one policy invocation: the
// modified jobs plus the triggering job, and precisely the nodes modified
// since the previous invocation.
func (s *Scheduler) buildRequest(a *simrt.Actor, invocationType policy.InvocationType, requestingJob *jobs.Job, evolvingRequest int) *policy.Request {
	request := &policy.Request{
		Code:           policy.RequestCode,
		Time:           a.Now(),
		InvocationType: invocationType,
	}
	if requestingJob != nil {
		jobId := requestingJob.Id
		request.JobId = &jobId
		s.addModifiedJob(requestingJob)
	}
	if invocationType == policy.InvokeEvolvingRequest {
		request.EvolvingRequest = &evolvingRequest
	}
	for _, job := range s.modifiedJobs {
		request.Jobs = append(request.Jobs, s.jobView(a, job))
	}
	for _, node := range s.modifiedNodes {
		request.Nodes = append(request.Nodes, nodeView(node))
	}
	if s.config.ForwardIoInformation {
		readBw := s.manager.PfsReadBandwidth()
		writeBw := s.manager.PfsWriteBandwidth()
		readUtilization := s.manager.PfsReadUtilization()
		writeUtilization := s.manager.PfsWriteUtilization()
		request.PfsReadBw = &readBw
		request.PfsWriteBw = &writeBw
		request.PfsReadUtilization = &readUtilization
		request.PfsWriteUtilization = &writeUtilization
	}
	return request
}

func (s *Scheduler) jobView(a *simrt.Actor, job *jobs.Job) policy.JobView {
	view := policy.JobView{
		Id:                     job.Id,
		State:                  int(job.State),
		Type:                   int(job.Type),
		Walltime:               job.Walltime,
		SubmitTime:             job.SubmitTime,
		StartTime:              job.StartTime,
		EndTime:                job.EndTime,
		WaitTime:               job.WaitTime,
		Makespan:               job.Makespan,
		TurnaroundTime:         job.TurnaroundTime,
		AssignedNodeIds:        append([]int{}, job.AssignedNodeIds...),
		AssignedNumGpusPerNode: job.AssignedNumGpusPerNode,
		Arguments:              job.Arguments,
		Attributes:             job.Attributes,
		RuntimeArguments:       job.RuntimeArguments(a),
		TotalPhaseCount:        job.Workload.TotalPhaseCount(),
		CompletedPhases:        job.Workload.CompletedPhases(),
	}
	if job.Type == jobs.Rigid {
		numNodes := job.NumNodes
		numGpusPerNode := job.NumGpusPerNode
		view.NumNodes = &numNodes
		view.NumGpusPerNode = &numGpusPerNode
	} else {
		numNodesMin := job.NumNodesMin
		numNodesMax := job.NumNodesMax
		numGpusPerNodeMin := job.NumGpusPerNodeMin
		numGpusPerNodeMax := job.NumGpusPerNodeMax
		view.NumNodesMin = &numNodesMin
		view.NumNodesMax = &numNodesMax
		view.NumGpusPerNodeMin = &numGpusPerNodeMin
		view.NumGpusPerNodeMax = &numGpusPerNodeMax
	}
	return view
}

func nodeView(node *platform.Node) policy.NodeView {
	view := policy.NodeView{
		Id:           node.Id(),
		Type:         int(node.Kind()),
		State:        int(node.State()),
		AssignedJobs: node.RunningJobIds(),
	}
	for _, gpu := range node.Gpus() {
		view.Gpus = append(view.Gpus, policy.GpuView{Id: gpu.Id(), State: int(gpu.State())})
	}
	return view
}
