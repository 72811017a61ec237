package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexsimproject/flexsim/internal/common/flexcontext"
	"github.com/flexsimproject/flexsim/internal/simrt"
	"github.com/flexsimproject/flexsim/internal/workload"
)

func testWorkload(t *testing.T, numNodes int) *workload.Workload {
	t.Helper()
	model := `{
		"phases": [
			{"iterations": 2, "tasks": [{"type": "busy_wait", "pattern": "uniform", "delay": 1}]}
		]
	}`
	w, err := workload.ParseWorkload([]byte(model), nil, numNodes, 0)
	require.NoError(t, err)
	return w
}

func newEngine() *simrt.Engine {
	return simrt.NewEngine(flexcontext.Background())
}

func TestRigidJobSpecification(t *testing.T) {
	engine := newEngine()
	_, err := NewRigidJob(engine, 0, 0, 0, 0, nil, nil, testWorkload(t, 1))
	assert.Error(t, err)

	job, err := NewRigidJob(engine, 100, 2, 1, 0, nil, nil, testWorkload(t, 2))
	require.NoError(t, err)
	assert.Equal(t, Rigid, job.Type)
	assert.Equal(t, PendingSubmission, job.State)
	assert.Equal(t, 1, job.AssignedNumGpusPerNode)
}

func TestElasticJobSpecification(t *testing.T) {
	engine := newEngine()
	_, err := NewElasticJob(engine, Malleable, 0, 0, 4, 0, 0, 0, nil, nil, testWorkload(t, 0))
	assert.Error(t, err)
	_, err = NewElasticJob(engine, Malleable, 0, 4, 2, 0, 0, 0, nil, nil, testWorkload(t, 0))
	assert.Error(t, err)
	_, err = NewElasticJob(engine, Evolving, 0, 1, 4, 0, 0, 0, nil, nil, testWorkload(t, 0))
	assert.NoError(t, err)
}

func TestFinalTakeoverSetsTimestampsAndExecutingSet(t *testing.T) {
	engine := newEngine()
	job, err := NewElasticJob(engine, Malleable, 0, 1, 4, 0, 0, 2, nil, nil, testWorkload(t, 0))
	require.NoError(t, err)

	require.NoError(t, job.SetState(Pending, 2))
	require.NoError(t, job.AssignNode(0))
	require.NoError(t, job.AssignNode(1))
	job.AssignNumGpusPerNode(0)
	job.UpdateState()
	assert.Equal(t, PendingAllocation, job.State)

	require.NoError(t, job.SetState(Running, 10))
	assert.Equal(t, Running, job.State)
	assert.Equal(t, 10.0, job.StartTime)
	assert.Equal(t, 8.0, job.WaitTime)
	assert.Equal(t, []int{0, 1}, job.ExecutingNodeIds)
	assert.Equal(t, 0, job.ExecutingNumGpusPerNode)
}

func TestReconfigurationTakeover(t *testing.T) {
	engine := newEngine()
	job, err := NewElasticJob(engine, Malleable, 0, 1, 4, 0, 0, 0, nil, nil, testWorkload(t, 0))
	require.NoError(t, err)
	require.NoError(t, job.SetState(Pending, 0))
	require.NoError(t, job.AssignNode(0))
	job.AssignNumGpusPerNode(0)
	job.UpdateState()
	require.NoError(t, job.SetState(Running, 0))

	job.ClearAssignedNodes()
	require.NoError(t, job.AssignNode(0))
	require.NoError(t, job.AssignNode(1))
	job.UpdateState()
	assert.Equal(t, PendingReconfiguration, job.State)

	require.NoError(t, job.SetState(InReconfiguration, 5))
	assert.Equal(t, []int{0, 1}, job.ExecutingNodeIds)

	// A policy echoing the executing set resolves the reconfiguration.
	job.State = PendingReconfiguration
	job.ClearAssignedNodes()
	require.NoError(t, job.AssignNode(0))
	require.NoError(t, job.AssignNode(1))
	job.UpdateState()
	assert.Equal(t, Running, job.State)
}

func TestTerminalTransitionSetsDerivedTimes(t *testing.T) {
	engine := newEngine()
	job, err := NewRigidJob(engine, 0, 1, 0, 3, nil, nil, testWorkload(t, 1))
	require.NoError(t, err)
	require.NoError(t, job.SetState(Pending, 3))
	require.NoError(t, job.AssignNode(0))
	job.UpdateState()
	require.NoError(t, job.SetState(Running, 5))
	require.NoError(t, job.SetState(Completed, 15))
	assert.Equal(t, 15.0, job.EndTime)
	assert.Equal(t, 10.0, job.Makespan)
	assert.Equal(t, 12.0, job.TurnaroundTime)

	// End time is set exactly once.
	assert.Error(t, job.SetState(Killed, 20))
}

func TestRuntimeAssignmentForbiddenForRigidJobs(t *testing.T) {
	engine := newEngine()
	job, err := NewRigidJob(engine, 0, 1, 0, 0, nil, nil, testWorkload(t, 1))
	require.NoError(t, err)
	require.NoError(t, job.SetState(Pending, 0))
	require.NoError(t, job.AssignNode(0))
	job.UpdateState()
	require.NoError(t, job.SetState(Running, 0))

	job.ClearAssignedNodes()
	assert.Error(t, job.AssignNode(1))
}

func TestCheckAssignment(t *testing.T) {
	engine := newEngine()
	rigid, err := NewRigidJob(engine, 0, 2, 1, 0, nil, nil, testWorkload(t, 2))
	require.NoError(t, err)
	require.NoError(t, rigid.SetState(Pending, 0))
	require.NoError(t, rigid.AssignNode(0))
	assert.Error(t, rigid.CheckAssignment())
	require.NoError(t, rigid.AssignNode(1))
	assert.NoError(t, rigid.CheckAssignment())
	rigid.AssignNumGpusPerNode(3)
	assert.Error(t, rigid.CheckAssignment())

	elastic, err := NewElasticJob(engine, Malleable, 0, 2, 3, 1, 2, 0, nil, nil, testWorkload(t, 0))
	require.NoError(t, err)
	require.NoError(t, elastic.SetState(Pending, 0))
	require.NoError(t, elastic.AssignNode(0))
	elastic.AssignNumGpusPerNode(1)
	assert.Error(t, elastic.CheckAssignment())
	require.NoError(t, elastic.AssignNode(1))
	assert.NoError(t, elastic.CheckAssignment())
	elastic.AssignNumGpusPerNode(4)
	assert.Error(t, elastic.CheckAssignment())
}

func TestClipEvolvingRequest(t *testing.T) {
	engine := newEngine()
	job, err := NewElasticJob(engine, Evolving, 0, 2, 4, 0, 0, 0, nil, nil, testWorkload(t, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, job.ClipEvolvingRequest(1))
	assert.Equal(t, 3, job.ClipEvolvingRequest(3))
	assert.Equal(t, 4, job.ClipEvolvingRequest(7))
}

func TestRuntimeArgumentsAreCopied(t *testing.T) {
	engine := newEngine()
	job, err := NewRigidJob(engine, 0, 1, 0, 0, nil, nil, testWorkload(t, 1))
	require.NoError(t, err)
	var snapshot map[string]string
	engine.Spawn("actor", nil, func(a *simrt.Actor) {
		job.SetRuntimeArguments(a, map[string]string{"k": "v"})
		snapshot = job.RuntimeArguments(a)
		snapshot["k"] = "mutated"
		snapshot = job.RuntimeArguments(a)
	})
	require.NoError(t, engine.Run())
	assert.Equal(t, map[string]string{"k": "v"}, snapshot)
}

func TestTypePredicates(t *testing.T) {
	assert.True(t, Malleable.AnnouncesSchedulingPoints())
	assert.True(t, Adaptive.AnnouncesSchedulingPoints())
	assert.False(t, Evolving.AnnouncesSchedulingPoints())
	assert.True(t, Evolving.AnnouncesEvolvingRequests())
	assert.True(t, Adaptive.AnnouncesEvolvingRequests())
	assert.False(t, Malleable.AnnouncesEvolvingRequests())
	assert.False(t, Rigid.ReconfigurableAtRuntime())
	assert.False(t, Moldable.ReconfigurableAtRuntime())
	assert.True(t, Malleable.ReconfigurableAtRuntime())
}
