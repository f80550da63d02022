package sink

import (
	"context"
	"log/slog"

	"github.com/slurm-admin/slm/internal/model"
	"github.com/slurm-admin/slm/internal/store"
)

// recorder is the write surface shared by the direct database store and
// the HTTP relay client.
type recorder interface {
	RegisterJob(ctx context.Context, job model.JobRecord) error
	UpdateStatus(ctx context.Context, jobID string, status model.EventKind, upd store.JobUpdate) (bool, error)
	AppendEvent(ctx context.Context, ev store.EventRecord) error
}

// updateFor picks which descriptive fields ride along with a status
// change. Resources travel with RUNNING, the exit code with the terminal
// event.
func updateFor(job model.JobRecord, ev model.LifecycleEvent) store.JobUpdate {
	var upd store.JobUpdate
	if ev.Kind == model.EventRunning {
		upd.Command = job.Command
		upd.ScriptPath = job.ScriptPath
		upd.Nodes = job.Nodes
		upd.CPUs = job.CPUs
		upd.GPUs = job.GPUs
		upd.Memory = job.Memory
		upd.Partition = job.Partition
	}
	if ev.Kind.Terminal() {
		upd.ExitCode = ev.ExitCode
	}
	return upd
}

// record writes one event through r: the job status row first, then the
// event history. A status update for a job the backend has never seen
// registers the job and retries the update once, which covers jobs
// submitted with plain sbatch.
func record(ctx context.Context, r recorder, job model.JobRecord, ev model.LifecycleEvent) error {
	upd := updateFor(job, ev)

	found, err := r.UpdateStatus(ctx, ev.JobID, ev.Kind, upd)
	if err != nil {
		return err
	}
	if !found {
		reg := job
		reg.JobID = ev.JobID
		if err := r.RegisterJob(ctx, reg); err != nil {
			return err
		}
		if _, err := r.UpdateStatus(ctx, ev.JobID, ev.Kind, upd); err != nil {
			return err
		}
	}

	return r.AppendEvent(ctx, store.EventRecord{
		JobID:    ev.JobID,
		Type:     model.EventTypeLifecycle,
		Status:   string(ev.Kind),
		Details:  ev.Detail,
		Metadata: ev.Metadata,
	})
}

// Persistence writes events straight to PostgreSQL. The connection is
// opened lazily on the first delivery so that job startup never waits on
// the database. An unreachable backend degrades the sink for the rest of
// the run, a failed write degrades only that one event.
type Persistence struct {
	cfg store.Config
	job model.JobRecord

	st       *store.Store
	degraded bool
}

// NewPersistence builds the direct database sink for job.
func NewPersistence(cfg store.Config, job model.JobRecord) *Persistence {
	return &Persistence{cfg: cfg, job: job}
}

func (p *Persistence) Name() string { return "persistence" }

// ensure opens the connection, retrying once, and bootstraps the schema.
// It reports false once the sink is permanently degraded.
func (p *Persistence) ensure(ctx context.Context) bool {
	if p.degraded {
		return false
	}
	if p.st != nil {
		return true
	}

	var (
		st  *store.Store
		err error
	)
	for range 2 {
		if st, err = store.Open(ctx, p.cfg); err == nil {
			break
		}
	}
	if err != nil {
		slog.WarnContext(ctx, "database unreachable, persistence disabled", "error", err)
		p.degraded = true
		return false
	}
	if err := st.EnsureSchema(ctx); err != nil {
		slog.WarnContext(ctx, "schema bootstrap failed, persistence disabled", "error", err)
		_ = st.Close()
		p.degraded = true
		return false
	}

	p.st = st
	return true
}

// Deliver records the event with a bounded context.
func (p *Persistence) Deliver(ctx context.Context, ev model.LifecycleEvent) model.Outcome {
	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	if !p.ensure(ctx) {
		return model.Degraded
	}
	if err := record(ctx, p.st, p.job, ev); err != nil {
		slog.WarnContext(ctx, "persisting event failed", "status", ev.Kind, "error", err)
		return model.Degraded
	}
	return model.Delivered
}

// Close releases the database connection if one was opened.
func (p *Persistence) Close() error {
	if p.st == nil {
		return nil
	}
	return p.st.Close()
}
