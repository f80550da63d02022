package model

import "context"

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	// Delivered means the sink accepted the event.
	Delivered Outcome = iota
	// Degraded means this sink dropped the event. Supervision continues,
	// a degraded sink never influences the child process.
	Degraded
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Sink is an independent delivery channel for lifecycle events.
//
// Deliver must not panic and must bound its own blocking time. Failures are
// reported as Degraded, never as an error: no sink outcome may alter the
// supervised child or its exit code.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev LifecycleEvent) Outcome
}

// SinkCloser is a Sink holding a releasable resource, typically a store
// connection. The owner of the sink list closes these on every exit path.
type SinkCloser interface {
	Sink
	Close() error
}
