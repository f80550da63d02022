package sink

import (
	"context"
	"log/slog"

	"github.com/slurm-admin/slm/internal/model"
)

// Relay forwards events to the login node relay over HTTP. The first
// delivery probes the relay health endpoint, retrying once. After that,
// any failed delivery degrades the sink for the rest of the run: a compute
// node has no way to catch a relay up on events it already missed.
type Relay struct {
	client *relayClient
	job    model.JobRecord

	checked  bool
	degraded bool
}

// NewRelay builds the HTTP sink for job against the relay at baseURL.
func NewRelay(baseURL string, job model.JobRecord) (*Relay, error) {
	client, err := newRelayClient(baseURL)
	if err != nil {
		return nil, err
	}
	return &Relay{client: client, job: job}, nil
}

func (r *Relay) Name() string { return "relay" }

func (r *Relay) ensure(ctx context.Context) bool {
	if r.degraded {
		return false
	}
	if r.checked {
		return true
	}

	var err error
	for range 2 {
		if err = r.client.Ping(ctx); err == nil {
			break
		}
	}
	if err != nil {
		slog.WarnContext(ctx, "relay unreachable, forwarding disabled", "error", err)
		r.degraded = true
		return false
	}

	r.checked = true
	return true
}

// Deliver records the event through the relay with a bounded context.
func (r *Relay) Deliver(ctx context.Context, ev model.LifecycleEvent) model.Outcome {
	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	if !r.ensure(ctx) {
		return model.Degraded
	}
	if err := record(ctx, r.client, r.job, ev); err != nil {
		slog.WarnContext(ctx, "relaying event failed, forwarding disabled", "status", ev.Kind, "error", err)
		r.degraded = true
		return model.Degraded
	}
	return model.Delivered
}
