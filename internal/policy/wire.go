package policy

// Message codes of the gateway protocol. The simulator sends RequestCode
// frames and expects ReplyCode frames back; ShutdownCode is exchanged both
// ways when the channel closes.
const (
	RequestCode  uint32 = 0xFFEC4400
	ReplyCode    uint32 = 0xFFEC4401
	ShutdownCode uint32 = 0xFFEC44FF
)

// InvocationType tells the policy why it is being invoked.
type InvocationType int

const (
	InvokePeriodic InvocationType = iota
	InvokeJobSubmit
	InvokeJobCompleted
	InvokeJobKilled
	InvokeSchedulingPoint
	InvokeEvolvingRequest
)

func (t InvocationType) String() string {
	switch t {
	case InvokePeriodic:
		return "INVOKE_PERIODIC"
	case InvokeJobSubmit:
		return "INVOKE_JOB_SUBMIT"
	case InvokeJobCompleted:
		return "INVOKE_JOB_COMPLETED"
	case InvokeJobKilled:
		return "INVOKE_JOB_KILLED"
	case InvokeSchedulingPoint:
		return "INVOKE_SCHEDULING_POINT"
	case InvokeEvolvingRequest:
		return "INVOKE_EVOLVING_REQUEST"
	}
	return "UNKNOWN"
}

// JobView is the modified-job view shipped to the policy.
type JobView struct {
	Id       int     `json:"id"`
	State    int     `json:"state"`
	Type     int     `json:"type"`
	Walltime float64 `json:"walltime"`

	// Rigid sizing; omitted for elastic jobs.
	NumNodes       *int `json:"num_nodes,omitempty"`
	NumGpusPerNode *int `json:"num_gpus_per_node,omitempty"`
	// Elastic bounds; omitted for rigid jobs.
	NumNodesMin       *int `json:"num_nodes_min,omitempty"`
	NumNodesMax       *int `json:"num_nodes_max,omitempty"`
	NumGpusPerNodeMin *int `json:"num_gpus_per_node_min,omitempty"`
	NumGpusPerNodeMax *int `json:"num_gpus_per_node_max,omitempty"`

	SubmitTime     float64 `json:"submit_time"`
	StartTime      float64 `json:"start_time"`
	EndTime        float64 `json:"end_time"`
	WaitTime       float64 `json:"wait_time"`
	Makespan       float64 `json:"makespan"`
	TurnaroundTime float64 `json:"turnaround_time"`

	AssignedNodeIds        []int `json:"assigned_nodes"`
	AssignedNumGpusPerNode int   `json:"assigned_num_gpus_per_node"`

	Arguments        map[string]string `json:"arguments,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	RuntimeArguments map[string]string `json:"runtime_arguments,omitempty"`

	TotalPhaseCount int `json:"total_phase_count"`
	CompletedPhases int `json:"completed_phases"`
}

type GpuView struct {
	Id    int `json:"id"`
	State int `json:"state"`
}

// NodeView is the modified-node view shipped to the policy.
type NodeView struct {
	Id           int       `json:"id"`
	Type         int       `json:"type"`
	State        int       `json:"state"`
	AssignedJobs []int     `json:"assigned_jobs"`
	Gpus         []GpuView `json:"gpus"`
}

// Request is one simulator-to-policy frame.
type Request struct {
	Code           uint32         `json:"code"`
	Time           float64        `json:"time"`
	InvocationType InvocationType `json:"invocation_type"`
	// Triggering job; absent for periodic invocations.
	JobId *int `json:"job_id,omitempty"`
	// Requested node count; only for INVOKE_EVOLVING_REQUEST.
	EvolvingRequest *int `json:"evolving_request,omitempty"`

	Jobs  []JobView  `json:"jobs"`
	Nodes []NodeView `json:"nodes"`

	// PFS aggregates, present when forward_io_information is enabled.
	PfsReadBw           *float64 `json:"pfs_read_bw,omitempty"`
	PfsWriteBw          *float64 `json:"pfs_write_bw,omitempty"`
	PfsReadUtilization  *float64 `json:"pfs_read_utilization,omitempty"`
	PfsWriteUtilization *float64 `json:"pfs_write_utilization,omitempty"`
}

// JobDecision is the policy's verdict on one job.
type JobDecision struct {
	Id                     int               `json:"id"`
	KillFlag               bool              `json:"kill_flag"`
	AssignedNodeIds        []int             `json:"assigned_node_ids"`
	AssignedNumGpusPerNode int               `json:"assigned_num_gpus_per_node"`
	ModifiedRuntimeArgs    bool              `json:"modified_runtime_args"`
	RuntimeArguments       map[string]string `json:"runtime_arguments,omitempty"`
}

// Reply is one policy-to-simulator frame.
type Reply struct {
	Code uint32        `json:"code"`
	Jobs []JobDecision `json:"jobs"`
}

type shutdownFrame struct {
	Code uint32 `json:"code"`
}
