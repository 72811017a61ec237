package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexsimproject/flexsim/internal/common/flexcontext"
	"github.com/flexsimproject/flexsim/internal/jobs"
	"github.com/flexsimproject/flexsim/internal/simrt"
	"github.com/flexsimproject/flexsim/internal/workload"
)

type recordedRow struct {
	time   float64
	fields []string
}

type memoryRecorder struct {
	rows []recordedRow
}

func (r *memoryRecorder) Record(time float64, fields ...string) {
	r.rows = append(r.rows, recordedRow{time: time, fields: fields})
}

func testJob(t *testing.T, engine *simrt.Engine) *jobs.Job {
	t.Helper()
	model := `{"phases": [{"tasks": [{"type": "busy_wait", "pattern": "uniform", "delay": 1}]}]}`
	w, err := workload.ParseWorkload([]byte(model), nil, 1, 0)
	require.NoError(t, err)
	job, err := jobs.NewRigidJob(engine, 0, 1, 0, 0, nil, nil, w)
	require.NoError(t, err)
	return job
}

func testNode(t *testing.T, engine *simrt.Engine, recorder UtilizationRecorder, allowOversubscription bool) *Node {
	t.Helper()
	host, err := engine.NewHost("node0", 1e9, nil)
	require.NoError(t, err)
	node := NewNode(engine, NodeConfig{
		Id:                    0,
		Kind:                  Compute,
		Host:                  host,
		AllowOversubscription: allowOversubscription,
		Utilization:           recorder,
	})
	node.SetWorkerFactory(func(n *Node, job *jobs.Job, rank int) *simrt.Actor {
		return engine.Spawn("noop-worker", n.Host(), func(a *simrt.Actor) {})
	})
	return node
}

func TestNodeStateDerivation(t *testing.T) {
	engine := simrt.NewEngine(flexcontext.Background())
	node := testNode(t, engine, nil, false)
	job := testJob(t, engine)
	job.Id = 0

	assert.Equal(t, NodeFree, node.State())

	require.NoError(t, node.Expect(job))
	assert.Equal(t, NodeReserved, node.State())

	barrier := engine.NewBarrier(1)
	require.NoError(t, node.Allocate(job, 0, barrier))
	assert.Equal(t, NodeAllocated, node.State())
	assert.Equal(t, []int{0}, node.RunningJobIds())
	assert.True(t, node.IsInitializing(job))
	assert.False(t, node.IsReconfiguring(job))
	assert.False(t, node.IsExpanding(job))

	// Allocated wins over reserved while both sets are non-empty.
	assert.Equal(t, []int{0}, node.ExpectedJobIds())

	node.Complete(job)
	assert.Equal(t, NodeReserved, node.State())

	node.RemoveExpected(job)
	assert.Equal(t, NodeFree, node.State())
}

func TestNodeRefusesOversubscription(t *testing.T) {
	engine := simrt.NewEngine(flexcontext.Background())
	node := testNode(t, engine, nil, false)
	first := testJob(t, engine)
	first.Id = 0
	second := testJob(t, engine)
	second.Id = 1

	barrier := engine.NewBarrier(1)
	require.NoError(t, node.Allocate(first, 0, barrier))
	assert.Error(t, node.Allocate(second, 0, barrier))
	assert.Error(t, node.Expect(second))

	// Re-expecting the running job is allowed.
	assert.NoError(t, node.Expect(first))
}

func TestNodeAllowsOversubscriptionWhenConfigured(t *testing.T) {
	engine := simrt.NewEngine(flexcontext.Background())
	node := testNode(t, engine, nil, true)
	first := testJob(t, engine)
	first.Id = 0
	second := testJob(t, engine)
	second.Id = 1

	barrier := engine.NewBarrier(1)
	require.NoError(t, node.Allocate(first, 0, barrier))
	require.NoError(t, node.Allocate(second, 0, barrier))
	assert.Equal(t, []int{0, 1}, node.RunningJobIds())
}

func TestNodeRefusesReservationConflict(t *testing.T) {
	engine := simrt.NewEngine(flexcontext.Background())
	node := testNode(t, engine, nil, false)
	first := testJob(t, engine)
	first.Id = 0
	second := testJob(t, engine)
	second.Id = 1

	require.NoError(t, node.Expect(first))
	assert.Error(t, node.Expect(second))
}

func TestNodeEmitsUtilizationRecords(t *testing.T) {
	engine := simrt.NewEngine(flexcontext.Background())
	recorder := &memoryRecorder{}
	node := testNode(t, engine, recorder, false)
	job := testJob(t, engine)
	job.Id = 3

	barrier := engine.NewBarrier(1)
	require.NoError(t, node.Allocate(job, 0, barrier))
	node.Complete(job)

	require.Len(t, recorder.rows, 3)
	assert.Equal(t, []string{"node0", "free", "none", "none"}, recorder.rows[0].fields)
	assert.Equal(t, []string{"node0", "allocated", "3", "none"}, recorder.rows[1].fields)
	assert.Equal(t, []string{"node0", "free", "none", "none"}, recorder.rows[2].fields)
}

func TestNodeExpandBookkeeping(t *testing.T) {
	engine := simrt.NewEngine(flexcontext.Background())
	node := testNode(t, engine, nil, false)
	job := testJob(t, engine)
	job.Id = 0

	barrier := engine.NewBarrier(2)
	expandBarrier := engine.NewBarrier(1)
	node.Expand(job, 1, 0, barrier, expandBarrier)
	assert.Equal(t, 1, node.Rank(job))
	assert.Equal(t, 0, node.ExpandRank(job))
	assert.False(t, node.IsInitializing(job))
	assert.True(t, node.IsReconfiguring(job))
	assert.True(t, node.IsExpanding(job))
	assert.Equal(t, barrier, node.Barrier(job))
	assert.Equal(t, expandBarrier, node.ExpandBarrier(job))

	node.MarkReconfigured(job)
	node.MarkExpanded(job)
	assert.False(t, node.IsReconfiguring(job))
	assert.False(t, node.IsExpanding(job))
}

func TestGpuKernelsQueueOnTheSameGpu(t *testing.T) {
	engine := simrt.NewEngine(flexcontext.Background())
	host, err := engine.NewHost("gpuhost", 1e9, nil)
	require.NoError(t, err)
	gpu := NewGpu(engine, 0, 1e9, host)

	var doneAt float64
	engine.Spawn("launcher", host, func(a *simrt.Actor) {
		first := gpu.ExecAsync(1e9)
		second := gpu.ExecAsync(1e9)
		simrt.WaitAll(a, []*simrt.Activity{first, second})
		doneAt = a.Now()
	})
	require.NoError(t, engine.Run())
	// Kernels serialise on the GPU mutex: 1s each.
	assert.InDelta(t, 2.0, doneAt, 1e-9)
}

func TestExecGpuComputationRejectsTooManyGpus(t *testing.T) {
	engine := simrt.NewEngine(flexcontext.Background())
	host, err := engine.NewHost("gpuhost", 1e9, nil)
	require.NoError(t, err)
	node := NewNode(engine, NodeConfig{
		Id:   0,
		Kind: Compute,
		Host: host,
		Gpus: []*Gpu{NewGpu(engine, 0, 1e9, host)},
	})
	_, err = node.ExecGpuComputationAsync(2, 1e9)
	assert.Error(t, err)
}
