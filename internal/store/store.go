// Package store persists job records and lifecycle events to PostgreSQL.
//
// The schema is created on demand by EnsureSchema and consists of two
// tables. slurm_jobs holds one row per supervised job, keyed by the
// external job id. slurm_events is the append-only lifecycle history and
// references jobs, so deleting a job removes its events as well.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/slurm-admin/slm/internal/model"
)

// connectTimeout bounds the liveness probe in Open.
const connectTimeout = 5 * time.Second

// Config carries the PostgreSQL connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// Complete reports whether the configuration names a usable target.
// An empty password is allowed, trust and peer authentication need none.
func (c Config) Complete() bool {
	return c.Host != "" && c.User != "" && c.Name != ""
}

// DSN renders the connection string in URL form so that credentials with
// special characters survive unmangled.
func (c Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Store wraps an open PostgreSQL connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to the database described by cfg and verifies the
// connection with a bounded ping before returning.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database handle failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database failed: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS slurm_jobs (
		id BIGSERIAL PRIMARY KEY,
		job_id VARCHAR(128) NOT NULL UNIQUE,
		job_name VARCHAR(255) NOT NULL,
		script_path TEXT,
		command TEXT,
		nodes VARCHAR(128),
		cpus VARCHAR(32),
		gpus VARCHAR(32),
		memory VARCHAR(32),
		partition_name VARCHAR(64),
		submission_source VARCHAR(32),
		submitted_at TIMESTAMPTZ,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		status VARCHAR(32),
		exit_code INT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_slurm_jobs_status ON slurm_jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_slurm_jobs_submitted_at ON slurm_jobs (submitted_at)`,
	`CREATE TABLE IF NOT EXISTS slurm_events (
		id BIGSERIAL PRIMARY KEY,
		job_id VARCHAR(128) NOT NULL REFERENCES slurm_jobs (job_id) ON DELETE CASCADE,
		event_type VARCHAR(32) NOT NULL,
		event_status VARCHAR(32) NOT NULL,
		details TEXT,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_slurm_events_job_id ON slurm_events (job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_slurm_events_created_at ON slurm_events (created_at)`,
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
// Safe to call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement failed: %w", err)
		}
	}
	return nil
}

// RegisterJob inserts the job row or, when the job is already known,
// refreshes its descriptive fields. Empty incoming values never overwrite
// stored ones. Status and the lifecycle timestamps are owned by
// UpdateStatus and left untouched here.
func (s *Store) RegisterJob(ctx context.Context, job model.JobRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slurm_jobs (
			job_id, job_name, script_path, command, nodes, cpus, gpus,
			memory, partition_name, submission_source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO UPDATE SET
			job_name          = COALESCE(NULLIF(EXCLUDED.job_name, ''), slurm_jobs.job_name),
			script_path       = COALESCE(NULLIF(EXCLUDED.script_path, ''), slurm_jobs.script_path),
			command           = COALESCE(NULLIF(EXCLUDED.command, ''), slurm_jobs.command),
			nodes             = COALESCE(NULLIF(EXCLUDED.nodes, ''), slurm_jobs.nodes),
			cpus              = COALESCE(NULLIF(EXCLUDED.cpus, ''), slurm_jobs.cpus),
			gpus              = COALESCE(NULLIF(EXCLUDED.gpus, ''), slurm_jobs.gpus),
			memory            = COALESCE(NULLIF(EXCLUDED.memory, ''), slurm_jobs.memory),
			partition_name    = COALESCE(NULLIF(EXCLUDED.partition_name, ''), slurm_jobs.partition_name),
			submission_source = COALESCE(NULLIF(EXCLUDED.submission_source, ''), slurm_jobs.submission_source),
			updated_at        = now()`,
		job.JobID, job.JobName, job.ScriptPath, job.Command, job.Nodes,
		job.CPUs, job.GPUs, job.Memory, job.Partition, string(job.Source),
	)
	if err != nil {
		return fmt.Errorf("executing job upsert failed: %w", err)
	}
	return nil
}

// JobUpdate carries optional fields refreshed together with a status
// change. Empty strings are skipped, ExitCode is written only when set.
type JobUpdate struct {
	Command    string
	ScriptPath string
	Nodes      string
	CPUs       string
	GPUs       string
	Memory     string
	Partition  string
	ExitCode   *int
}

// UpdateStatus moves the job to status and stamps the matching timestamp
// column: submitted_at on SUBMITTED, started_at the first time RUNNING is
// reached, completed_at only for terminal states. It reports false when
// no row matches jobID.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, status model.EventKind, upd JobUpdate) (bool, error) {
	set := []string{"status = $1", "updated_at = now()"}
	args := []any{string(status)}

	switch {
	case status == model.EventSubmitted:
		set = append(set, "submitted_at = now()")
	case status == model.EventRunning:
		set = append(set, "started_at = COALESCE(started_at, now())")
	case status.Terminal():
		set = append(set, "completed_at = now()")
	}

	for _, f := range []struct {
		column string
		value  string
	}{
		{"command", upd.Command},
		{"script_path", upd.ScriptPath},
		{"nodes", upd.Nodes},
		{"cpus", upd.CPUs},
		{"gpus", upd.GPUs},
		{"memory", upd.Memory},
		{"partition_name", upd.Partition},
	} {
		if f.value == "" {
			continue
		}
		args = append(args, f.value)
		set = append(set, fmt.Sprintf("%s = $%d", f.column, len(args)))
	}
	if upd.ExitCode != nil {
		args = append(args, *upd.ExitCode)
		set = append(set, fmt.Sprintf("exit_code = $%d", len(args)))
	}

	args = append(args, jobID)
	query := fmt.Sprintf(
		"UPDATE slurm_jobs SET %s WHERE job_id = $%d",
		strings.Join(set, ", "), len(args),
	)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("executing status update failed: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fetching affected rows failed: %w", err)
	}
	return ra > 0, nil
}

// EventRecord is the writable part of one slurm_events row.
type EventRecord struct {
	JobID    string
	Type     string
	Status   string
	Details  string
	Metadata map[string]any
}

// EventRow is an EventRecord as read back from the database.
type EventRow struct {
	EventRecord
	ID        int64
	CreatedAt time.Time
}

// AppendEvent records one event. Metadata is stored as JSONB, a missing
// map becomes SQL NULL.
func (s *Store) AppendEvent(ctx context.Context, ev EventRecord) error {
	var metadata []byte
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encoding event metadata failed: %w", err)
		}
		metadata = b
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slurm_events (job_id, event_type, event_status, details, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.JobID, ev.Type, ev.Status, ev.Details, metadata,
	)
	if err != nil {
		return fmt.Errorf("executing event insert failed: %w", err)
	}
	return nil
}

const jobColumns = `job_id, job_name, script_path, command, nodes, cpus, gpus,
	memory, partition_name, submission_source, submitted_at, started_at,
	completed_at, status, exit_code, created_at, updated_at`

// JobByID loads one job row, model.ErrJobNotFound is returned when the
// job is unknown.
func (s *Store) JobByID(ctx context.Context, jobID string) (model.JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM slurm_jobs WHERE job_id = $1`, jobID,
	)
	job, err := scanJob(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.JobRecord{}, model.ErrJobNotFound
	case err != nil:
		return model.JobRecord{}, fmt.Errorf("executing job query failed: %w", err)
	}
	return job, nil
}

// RecentJobs returns up to limit jobs, newest first.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]model.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM slurm_jobs ORDER BY created_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing jobs query failed: %w", err)
	}
	defer rows.Close()

	var jobs []model.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row failed: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job rows failed: %w", err)
	}
	return jobs, nil
}

// EventsByJob returns up to limit events for the job, newest first.
func (s *Store) EventsByJob(ctx context.Context, jobID string, limit int) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, event_type, event_status, details, metadata, created_at
		FROM slurm_events
		WHERE job_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing events query failed: %w", err)
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			ev       EventRow
			details  sql.NullString
			metadata []byte
		)
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Type, &ev.Status, &details, &metadata, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event row failed: %w", err)
		}
		ev.Details = details.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decoding event metadata failed: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows failed: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.JobRecord, error) {
	var (
		job model.JobRecord

		scriptPath, command, nodes, cpus sql.NullString
		gpus, memory, partition          sql.NullString
		source, status                   sql.NullString

		submittedAt, startedAt, completedAt sql.NullTime

		exitCode sql.NullInt64
	)

	err := row.Scan(
		&job.JobID, &job.JobName, &scriptPath, &command, &nodes, &cpus,
		&gpus, &memory, &partition, &source, &submittedAt, &startedAt,
		&completedAt, &status, &exitCode, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return model.JobRecord{}, err
	}

	job.ScriptPath = scriptPath.String
	job.Command = command.String
	job.Nodes = nodes.String
	job.CPUs = cpus.String
	job.GPUs = gpus.String
	job.Memory = memory.String
	job.Partition = partition.String
	job.Source = model.SubmissionSource(source.String)
	job.Status = model.EventKind(status.String)
	if submittedAt.Valid {
		job.SubmittedAt = &submittedAt.Time
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		job.ExitCode = &code
	}

	return job, nil
}
