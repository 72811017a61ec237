package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Simulation {
	return Simulation{
		PlatformFile:          "platform.json",
		JobsFile:              "jobs.json",
		ZmqUrl:                "tcp://localhost:5555",
		SchedulingInterval:    10,
		ScheduleOnJobSubmit:   true,
		ScheduleOnJobFinalize: true,
	}
}

func TestValidateAcceptsSaneConfig(t *testing.T) {
	config := validConfig()
	assert.NoError(t, config.Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := map[string]func(*Simulation){
		"missing platform file": func(c *Simulation) { c.PlatformFile = "" },
		"missing jobs file":     func(c *Simulation) { c.JobsFile = "" },
		"negative scheduling interval": func(c *Simulation) {
			c.SchedulingInterval = -1
		},
		"negative minimum scheduling interval": func(c *Simulation) {
			c.MinSchedulingInterval = -0.5
		},
		"negative grace period": func(c *Simulation) {
			c.JobKillGracePeriod = -1
		},
		"scheduling never triggered": func(c *Simulation) {
			c.SchedulingInterval = 0
			c.ScheduleOnJobSubmit = false
		},
		"sensing without interval": func(c *Simulation) {
			c.Sensing = true
			c.CpuUtilization = "cpu.csv"
			c.NetworkActivity = "net.csv"
			c.PfsUtilization = "pfs.csv"
			c.GpuUtilization = "gpu.csv"
		},
		"sensing without outputs": func(c *Simulation) {
			c.Sensing = true
			c.SensingInterval = 5
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			config := validConfig()
			mutate(&config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestSubmitAndFinalizeTriggersSufficeWithoutPeriodicScheduling(t *testing.T) {
	config := validConfig()
	config.SchedulingInterval = 0
	config.ScheduleOnJobSubmit = true
	config.ScheduleOnJobFinalize = true
	assert.NoError(t, config.Validate())
}

func TestLoadReadsRecognisedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"platform_file": "platform.json",
		"jobs_file": "jobs.json",
		"zmq_url": "tcp://*:5555",
		"scheduling_interval": 30,
		"min_scheduling_interval": 5,
		"schedule_on_job_submit": true,
		"schedule_on_job_finalize": true,
		"schedule_on_scheduling_point": true,
		"job_kill_grace_period": 60,
		"forward_io_information": true,
		"clip_evolving_requests": true,
		"allow_oversubscription": false,
		"node_utilization": "nodes.csv",
		"job_statistics": "jobs.csv",
		"task_times": "tasks.csv",
		"pfs_read_links": ["pfs_read"],
		"pfs_write_links": ["pfs_write"],
		"show_progress_bar": true
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "platform.json", config.PlatformFile)
	assert.Equal(t, "tcp://*:5555", config.ZmqUrl)
	assert.Equal(t, 30.0, config.SchedulingInterval)
	assert.Equal(t, 5.0, config.MinSchedulingInterval)
	assert.True(t, config.ScheduleOnSchedulingPoint)
	assert.Equal(t, 60.0, config.JobKillGracePeriod)
	assert.True(t, config.ForwardIoInformation)
	assert.True(t, config.ClipEvolvingRequests)
	assert.Equal(t, []string{"pfs_read"}, config.PfsReadLinks)
	assert.Equal(t, []string{"pfs_write"}, config.PfsWriteLinks)
	assert.True(t, config.ShowProgressBar)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"jobs_file": "jobs.json"}`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
