package supervise

import (
	"context"
	"log/slog"

	"github.com/slurm-admin/slm/internal/model"
)

// Dispatcher owns the ordered fan-out of lifecycle events. Every event
// passes the state machine exactly once and is then offered to each sink
// in a fixed order, so all sinks observe the same chronology.
type Dispatcher struct {
	machine stateMachine
	sinks   []model.Sink
}

// NewDispatcher publishes to sinks in the given order.
func NewDispatcher(sinks ...model.Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks}
}

// Dispatch gates ev through the state machine and, when the transition is
// legal, fans it out. It reports whether the event was accepted. Sink
// outcomes are logged and otherwise ignored, a degraded sink never stops
// the others from receiving the event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.LifecycleEvent) bool {
	if !d.machine.apply(ev.Kind) {
		slog.DebugContext(ctx, "transition rejected", "status", ev.Kind, "state", d.machine.current)
		return false
	}

	for _, s := range d.sinks {
		switch s.Deliver(ctx, ev) {
		case model.Delivered:
			slog.DebugContext(ctx, "event delivered", "sink", s.Name(), "status", ev.Kind)
		default:
			slog.WarnContext(ctx, "event degraded", "sink", s.Name(), "status", ev.Kind)
		}
	}
	return true
}

// Close releases every sink holding a resource.
func (d *Dispatcher) Close(ctx context.Context) {
	for _, s := range d.sinks {
		closer, ok := s.(model.SinkCloser)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			slog.ErrorContext(ctx, "closing sink failed", "sink", s.Name(), "error", err)
		}
	}
}
