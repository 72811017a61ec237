package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexsimproject/flexsim/internal/common/flexcontext"
	"github.com/flexsimproject/flexsim/internal/configuration"
	"github.com/flexsimproject/flexsim/internal/jobs"
	"github.com/flexsimproject/flexsim/internal/policy"
)

func TestFinalSchedulingPointSuppressed(t *testing.T) {
	workloadJson := `{
		"phases": [
			{"iterations": 2, "scheduling_point": true, "final_scheduling_point": false,
			 "tasks": [{"type": "busy_wait", "pattern": "uniform", "delay": 5}]}
		]
	}`
	jobsJson := `{"jobs": [
		{"type": "malleable", "submit_time": 0, "walltime": 0,
		 "num_nodes_min": 1, "num_nodes_max": 2,
		 "application_model": "workload.json"}
	]}`
	f := newFixture(t, 2, jobsJson, workloadJson)
	f.config.ScheduleOnSchedulingPoint = true

	client := &policy.ScriptedClient{}
	client.Handle = func(request *policy.Request) (*policy.Reply, error) {
		reply := &policy.Reply{Code: policy.ReplyCode}
		if request.InvocationType == policy.InvokeJobSubmit {
			reply.Jobs = append(reply.Jobs, policy.JobDecision{Id: 0, AssignedNodeIds: []int{0}})
		}
		return reply, nil
	}

	simulation, err := f.run(t, client)
	require.NoError(t, err)

	job := simulation.Driver().Jobs()[0]
	assert.Equal(t, jobs.Completed, job.State)
	// Both iterations ran back to back: the point before the last iteration
	// of the last phase is suppressed.
	assert.InDelta(t, 10.0, job.EndTime, 1e-9)
	for _, request := range client.Requests {
		assert.NotEqual(t, policy.InvokeSchedulingPoint, request.InvocationType)
	}
}

func TestGpuTaskSplitsFlopsAcrossGpus(t *testing.T) {
	dir := t.TempDir()
	platformJson := `{
		"hosts": [
			{"name": "master", "speed": 1000000000, "properties": {"batch_system": "true"}},
			{"name": "node0", "speed": 1000000000,
			 "properties": {"num_gpus": "2", "flops_per_gpu": "1000000000", "gpu_to_gpu_bw": "1000000000"}}
		],
		"links": [{"name": "backbone", "bandwidth": 10000000000}]
	}`
	workloadJson := `{
		"phases": [
			{"tasks": [{"type": "gpu", "computation_pattern": "uniform", "flops": 2000000000}]}
		]
	}`
	jobsJson := `{"jobs": [
		{"type": "rigid", "submit_time": 0, "walltime": 0, "num_nodes": 1, "num_gpus_per_node": 2,
		 "application_model": "workload.json"}
	]}`
	platformPath := writeFile(t, dir, "platform.json", platformJson)
	writeFile(t, dir, "workload.json", workloadJson)
	jobsPath := writeFile(t, dir, "jobs.json", jobsJson)
	config := &configuration.Simulation{
		PlatformFile:          platformPath,
		JobsFile:              jobsPath,
		ScheduleOnJobSubmit:   true,
		ScheduleOnJobFinalize: true,
	}

	client := &policy.ScriptedClient{Handle: newFifoPolicy(1).handle}
	simulation, err := New(flexcontext.Background(), config, client)
	require.NoError(t, err)
	require.NoError(t, simulation.Run())

	job := simulation.Driver().Jobs()[0]
	assert.Equal(t, jobs.Completed, job.State)
	// 2e9 FLOPs split over two 1e9 FLOP/s GPUs running in parallel.
	assert.InDelta(t, 1.0, job.EndTime, 1e-9)
}

func TestTaskTimesOutput(t *testing.T) {
	jobsJson := `{"jobs": [
		{"type": "rigid", "submit_time": 0, "walltime": 0, "num_nodes": 1,
		 "application_model": "workload.json"}
	]}`
	f := newFixture(t, 1, jobsJson, `{
		"phases": [
			{"tasks": [{"type": "busy_wait", "name": "spin", "pattern": "uniform", "delay": 10}]}
		]
	}`)
	f.config.TaskTimes = filepath.Join(f.dir, "task_times.csv")

	_, err := f.run(t, &policy.ScriptedClient{Handle: newFifoPolicy(1).handle})
	require.NoError(t, err)

	rows := readStatistics(t, f.config.TaskTimes)
	require.GreaterOrEqual(t, len(rows), 2)
	assert.Equal(t, []string{"Time", "Job", "Node", "Task", "Duration"}, rows[0])
	spin := rows[1]
	assert.Equal(t, "0", spin[1])
	assert.Equal(t, "node0", spin[2])
	assert.Equal(t, "spin", spin[3])
	assert.Equal(t, "10", spin[4])
}

func TestNodeUtilizationOutput(t *testing.T) {
	jobsJson := `{"jobs": [
		{"type": "rigid", "submit_time": 0, "walltime": 0, "num_nodes": 1,
		 "application_model": "workload.json"}
	]}`
	f := newFixture(t, 1, jobsJson, busyWaitWorkload)
	f.config.NodeUtilization = filepath.Join(f.dir, "node_utilization.csv")

	_, err := f.run(t, &policy.ScriptedClient{Handle: newFifoPolicy(1).handle})
	require.NoError(t, err)

	rows := readStatistics(t, f.config.NodeUtilization)
	require.GreaterOrEqual(t, len(rows), 3)
	assert.Equal(t, []string{"Time", "Node", "State", "Running jobs", "Expected jobs"}, rows[0])
	var sawAllocated, sawFree bool
	for _, row := range rows[1:] {
		switch row[2] {
		case "allocated":
			sawAllocated = true
			assert.Equal(t, "0", row[3])
		case "free":
			sawFree = true
		}
	}
	assert.True(t, sawAllocated)
	assert.True(t, sawFree)
}

func TestJobsAreSubmittedInStableSubmitTimeOrder(t *testing.T) {
	jobsJson := `{"jobs": [
		{"type": "rigid", "submit_time": 5, "walltime": 0, "num_nodes": 1,
		 "application_model": "workload.json", "attributes": {"tag": "late"}},
		{"type": "rigid", "submit_time": 0, "walltime": 0, "num_nodes": 1,
		 "application_model": "workload.json", "attributes": {"tag": "early-a"}},
		{"type": "rigid", "submit_time": 0, "walltime": 0, "num_nodes": 1,
		 "application_model": "workload.json", "attributes": {"tag": "early-b"}}
	]}`
	f := newFixture(t, 3, jobsJson, busyWaitWorkload)

	simulation, err := f.run(t, &policy.ScriptedClient{Handle: newFifoPolicy(3).handle})
	require.NoError(t, err)

	jobList := simulation.Driver().Jobs()
	require.Len(t, jobList, 3)
	tags := []string{}
	for _, job := range jobList {
		tags = append(tags, job.Attributes["tag"])
		assert.Equal(t, jobs.Completed, job.State)
	}
	assert.Equal(t, []string{"early-a", "early-b", "late"}, tags)
	// Ids are assigned monotonically at submission.
	for i, job := range jobList {
		assert.Equal(t, i, job.Id)
	}
}
