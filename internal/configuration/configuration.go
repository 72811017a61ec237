package configuration

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Simulation is the top-level configuration, loaded from the JSON file given
// as the single positional argument.
type Simulation struct {
	// Platform description consumed by the simulation engine.
	PlatformFile string `mapstructure:"platform_file"`
	// Job list JSON.
	JobsFile string `mapstructure:"jobs_file"`
	// Policy gateway bind URL.
	ZmqUrl string `mapstructure:"zmq_url"`
	// Periodic invocation period in seconds; 0 disables.
	SchedulingInterval float64 `mapstructure:"scheduling_interval"`
	// Rate limit between two policy invocations in seconds.
	MinSchedulingInterval float64 `mapstructure:"min_scheduling_interval"`
	// Invocation triggers.
	ScheduleOnJobSubmit       bool `mapstructure:"schedule_on_job_submit"`
	ScheduleOnJobFinalize     bool `mapstructure:"schedule_on_job_finalize"`
	ScheduleOnSchedulingPoint bool `mapstructure:"schedule_on_scheduling_point"`
	// Seconds added after walltime before a job is killed.
	JobKillGracePeriod float64 `mapstructure:"job_kill_grace_period"`
	// Include PFS bandwidth and utilisation in policy requests.
	ForwardIoInformation bool `mapstructure:"forward_io_information"`
	// Clamp out-of-range evolving requests instead of failing.
	ClipEvolvingRequests bool `mapstructure:"clip_evolving_requests"`
	// Skip node-disjointness checks.
	AllowOversubscription bool `mapstructure:"allow_oversubscription"`

	// Optional telemetry writer.
	Sensing         bool    `mapstructure:"sensing"`
	SensingInterval float64 `mapstructure:"sensing_interval"`
	CpuUtilization  string  `mapstructure:"cpu_utilization"`
	NetworkActivity string  `mapstructure:"network_activity"`
	PfsUtilization  string  `mapstructure:"pfs_utilization"`
	GpuUtilization  string  `mapstructure:"gpu_utilization"`

	// CSV output paths.
	NodeUtilization string `mapstructure:"node_utilization"`
	JobStatistics   string `mapstructure:"job_statistics"`
	TaskTimes       string `mapstructure:"task_times"`

	// Link names aggregated for PFS bandwidth reporting.
	PfsReadLinks  []string `mapstructure:"pfs_read_links"`
	PfsWriteLinks []string `mapstructure:"pfs_write_links"`

	ShowProgressBar bool `mapstructure:"show_progress_bar"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Simulation, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading configuration %s", path)
	}
	var config Simulation
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "decoding configuration %s", path)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Simulation) Validate() error {
	var result *multierror.Error
	if c.PlatformFile == "" {
		result = multierror.Append(result, errors.New("platform_file has to be specified"))
	}
	if c.JobsFile == "" {
		result = multierror.Append(result, errors.New("jobs_file has to be specified"))
	}
	if c.SchedulingInterval < 0 {
		result = multierror.Append(result, errors.New("scheduling interval can not be less than 0"))
	}
	if c.MinSchedulingInterval < 0 {
		result = multierror.Append(result, errors.New("minimum scheduling interval can not be less than 0"))
	}
	if c.SchedulingInterval == 0 && (!c.ScheduleOnJobSubmit || !c.ScheduleOnJobFinalize) {
		result = multierror.Append(result, errors.New(
			"scheduling algorithm must be invoked at least periodically or on job submission and job finalization"))
	}
	if c.JobKillGracePeriod < 0 {
		result = multierror.Append(result, errors.New("grace period of maximum job walltime can not be less than 0"))
	}
	if c.Sensing {
		if c.SensingInterval <= 0 {
			result = multierror.Append(result, errors.New("sensing requires a positive sensing_interval"))
		}
		if c.CpuUtilization == "" || c.NetworkActivity == "" || c.PfsUtilization == "" || c.GpuUtilization == "" {
			result = multierror.Append(result, errors.New(
				"sensing requires cpu_utilization, network_activity, pfs_utilization and gpu_utilization output paths"))
		}
	}
	return result.ErrorOrNil()
}
