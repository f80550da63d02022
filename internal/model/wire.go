package model

// Relay protocol bodies, shared by the forwarding sink on compute nodes and
// the service on the login node. Field names are part of the wire contract.

// RegisterRequest creates the job row on first contact.
type RegisterRequest struct {
	JobID      string `json:"job_id"`
	JobName    string `json:"job_name"`
	Source     string `json:"submission_source,omitempty"`
	ScriptPath string `json:"script_path,omitempty"`
	Command    string `json:"command,omitempty"`
	Nodes      string `json:"nodes,omitempty"`
	CPUs       string `json:"cpus,omitempty"`
	GPUs       string `json:"gpus,omitempty"`
	Memory     string `json:"memory,omitempty"`
	Partition  string `json:"partition_name,omitempty"`
}

// StatusRequest advances the job row to a new lifecycle status.
type StatusRequest struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	Command    string `json:"command,omitempty"`
	ScriptPath string `json:"script_path,omitempty"`
	Nodes      string `json:"nodes,omitempty"`
	CPUs       string `json:"cpus,omitempty"`
	GPUs       string `json:"gpus,omitempty"`
	Memory     string `json:"memory,omitempty"`
	Partition  string `json:"partition_name,omitempty"`
}

// EventRequest appends one row to the event log.
type EventRequest struct {
	JobID    string         `json:"job_id"`
	Type     string         `json:"event_type"`
	Status   string         `json:"event_status"`
	Details  string         `json:"details,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// APIResponse is the common envelope of all write endpoints.
type APIResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id,omitempty"`
	Message string `json:"message"`
}

// HealthResponse is returned by the service root endpoint.
type HealthResponse struct {
	Service  string `json:"service"`
	Status   string `json:"status"`
	Database string `json:"database"`
}
