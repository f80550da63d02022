package model

import "time"

// SubmissionSource tells how a job entered the system.
type SubmissionSource string

const (
	// SourceSubmit marks jobs handed to the scheduler through slm submit.
	SourceSubmit SubmissionSource = "slm_submit"
	// SourceSbatch marks jobs submitted with sbatch directly and first seen
	// when slm run started on the compute node.
	SourceSbatch SubmissionSource = "direct_sbatch"
	// SourceLocal marks runs outside the scheduler entirely.
	SourceLocal SubmissionSource = "local_test"
)

// JobRecord is the persisted snapshot of one job, keyed by JobID.
// Timestamps follow the lifecycle: SubmittedAt on SUBMITTED, StartedAt the
// first time the job reaches RUNNING and never again, CompletedAt exactly
// when the status is terminal.
type JobRecord struct {
	JobID      string
	JobName    string
	ScriptPath string
	Command    string
	Nodes      string
	CPUs       string
	GPUs       string
	Memory     string
	Partition  string
	Source     SubmissionSource

	SubmittedAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Status   EventKind
	ExitCode *int

	CreatedAt time.Time
	UpdatedAt time.Time
}
