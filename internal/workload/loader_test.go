package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rigidModel = `{
	"on_init": {
		"tasks": [
			{"type": "busy_wait", "name": "warmup", "pattern": "uniform", "delay": 1}
		]
	},
	"phases": [
		{
			"iterations": 3,
			"scheduling_point": false,
			"tasks": [
				{"type": "busy_wait", "name": "compute", "pattern": "uniform", "delay": 2.5},
				{"type": "pfs_write", "name": "checkpoint", "pattern": "all_ranks", "bytes": 8e9, "async": true}
			]
		}
	]
}`

func TestParseRigidWorkload(t *testing.T) {
	w, err := ParseWorkload([]byte(rigidModel), nil, 4, 0)
	require.NoError(t, err)

	require.NotNil(t, w.InitPhase)
	assert.Nil(t, w.ReconfigurationPhase)
	assert.Nil(t, w.ExpansionPhase)
	// One-time phases default to no barrier except reconfiguration.
	assert.False(t, w.InitPhase.Barrier)

	phases := w.Phases()
	require.Len(t, phases, 1)
	phase := phases[0]
	assert.Equal(t, 3, phase.Iterations)
	assert.Equal(t, 3, phase.InitialIterations)
	assert.False(t, phase.SchedulingPoint)
	assert.True(t, phase.FinalSchedulingPoint)
	assert.True(t, phase.Barrier)
	assert.Equal(t, 3, w.TotalPhaseCount())
	assert.Equal(t, 0, w.CompletedPhases())

	require.Len(t, phase.Tasks, 2)
	compute := phase.Tasks[0]
	assert.Equal(t, BusyWait, compute.Kind)
	assert.Equal(t, []float64{2.5, 2.5, 2.5, 2.5}, compute.Delays)
	assert.Equal(t, 1, compute.Iterations)

	checkpoint := phase.Tasks[1]
	assert.Equal(t, PfsWrite, checkpoint.Kind)
	assert.True(t, checkpoint.Asynchronous)
	assert.InDeltaSlice(t, []float64{2e9, 2e9, 2e9, 2e9}, checkpoint.IoSizes, 1e-3)
}

func TestParseElasticWorkloadStaysSymbolicUntilScaled(t *testing.T) {
	model := `{
		"phases": [
			{
				"iterations": 2,
				"evolving_model": "num_nodes + 1",
				"tasks": [
					{"type": "cpu", "computation_pattern": "all_ranks", "flops": "1000000000 * num_nodes",
					 "communication_pattern": "ring", "bytes": 4e6}
				]
			}
		]
	}`
	w, err := ParseWorkload([]byte(model), nil, 0, 0)
	require.NoError(t, err)
	phase := w.Phases()[0]
	task := phase.Tasks[0]
	assert.Nil(t, task.Flops)
	assert.Nil(t, task.Payloads)
	assert.True(t, phase.HasEvolvingModel())

	require.NoError(t, w.ScaleTo(2, 0, nil))
	assert.InDeltaSlice(t, []float64{1e9, 1e9}, task.Flops, 1e-3)
	require.Len(t, task.Payloads, 4)

	n, err := phase.EvolvingRequest(2, 0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestParseWorkloadRejectsVectorPatternForElasticJobs(t *testing.T) {
	model := `{
		"phases": [
			{"tasks": [{"type": "busy_wait", "pattern": "vector", "delay": [1, 2]}]}
		]
	}`
	_, err := ParseWorkload([]byte(model), nil, 0, 0)
	assert.Error(t, err)
}

func TestParseWorkloadVectorPatternForRigidJobs(t *testing.T) {
	model := `{
		"phases": [
			{"tasks": [{"type": "busy_wait", "pattern": "vector", "delay": [1, 2]}]}
		]
	}`
	w, err := ParseWorkload([]byte(model), nil, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, w.Phases()[0].Tasks[0].Delays)
}

func TestParseWorkloadRejectsUnknownTaskType(t *testing.T) {
	model := `{"phases": [{"tasks": [{"type": "teleport"}]}]}`
	_, err := ParseWorkload([]byte(model), nil, 1, 0)
	assert.Error(t, err)
}

func TestParseWorkloadRejectsEmptyCombinedTask(t *testing.T) {
	model := `{"phases": [{"tasks": [{"type": "cpu"}]}]}`
	_, err := ParseWorkload([]byte(model), nil, 1, 0)
	assert.Error(t, err)
}

func TestParseWorkloadSequenceTask(t *testing.T) {
	model := `{
		"phases": [
			{"tasks": [
				{"type": "sequence", "name": "io-pair", "tasks": [
					{"type": "bb_write", "pattern": "uniform", "bytes": 1e6},
					{"type": "bb_read", "pattern": "uniform", "bytes": 1e6}
				]}
			]}
		]
	}`
	w, err := ParseWorkload([]byte(model), nil, 1, 0)
	require.NoError(t, err)
	seq := w.Phases()[0].Tasks[0]
	assert.Equal(t, Sequence, seq.Kind)
	require.Len(t, seq.Tasks, 2)
	assert.Equal(t, BbWrite, seq.Tasks[0].Kind)
	assert.Equal(t, BbRead, seq.Tasks[1].Kind)
}

func TestParseWorkloadTaskIterationFormula(t *testing.T) {
	model := `{
		"phases": [
			{"tasks": [{"type": "busy_wait", "pattern": "uniform", "delay": 1, "iterations": "num_nodes * 2"}]}
		]
	}`
	w, err := ParseWorkload([]byte(model), nil, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, w.Phases()[0].Tasks[0].Iterations)
}

func TestWorkloadAdvanceKeepsIterationAccounting(t *testing.T) {
	model := `{
		"phases": [
			{"iterations": 3, "tasks": [{"type": "busy_wait", "pattern": "uniform", "delay": 1}]},
			{"iterations": 2, "tasks": [{"type": "busy_wait", "pattern": "uniform", "delay": 1}]}
		]
	}`
	w, err := ParseWorkload([]byte(model), nil, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, w.TotalPhaseCount())

	// One iteration of the first phase processed.
	w.Advance(0, 2)
	assert.Equal(t, 1, w.CompletedPhases())
	remaining := 0
	for _, phase := range w.Phases() {
		remaining += phase.Iterations
	}
	assert.Equal(t, w.TotalPhaseCount(), w.CompletedPhases()+remaining)

	// First phase fully processed, one iteration into the second.
	w.Advance(1, 1)
	assert.Equal(t, 4, w.CompletedPhases())

	w.Complete()
	assert.Equal(t, 5, w.CompletedPhases())
	assert.Empty(t, w.Phases())
}
