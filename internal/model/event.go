package model

import (
	"maps"
	"time"
)

// EventKind enumerates the lifecycle transitions a supervised job can take.
type EventKind string

const (
	EventSubmitted   EventKind = "SUBMITTED"
	EventRunning     EventKind = "RUNNING"
	EventPaused      EventKind = "PAUSED"
	EventResumed     EventKind = "RESUMED"
	EventTerminating EventKind = "TERMINATING"
	EventCompleted   EventKind = "COMPLETED"
	EventFailed      EventKind = "FAILED"
)

// Terminal reports whether no further transition can follow the kind.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventFailed
}

// EventTypeLifecycle is the event_type recorded for every event the
// supervisor emits. Kept as a column so other producers can share the table.
const EventTypeLifecycle = "lifecycle"

// LifecycleEvent is one recorded transition in a job execution history.
// The dispatcher creates it exactly once per transition and sinks must
// treat it as read only.
type LifecycleEvent struct {
	JobID     string
	Kind      EventKind
	Timestamp time.Time
	Detail    string
	Metadata  map[string]any
	ExitCode  *int
}

// NewEvent stamps a fresh event with the current UTC time.
func NewEvent(jobID string, kind EventKind, detail string) LifecycleEvent {
	return LifecycleEvent{
		JobID:     jobID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	}
}

// WithMetadata returns a copy of the event with key set. The original
// metadata map is never mutated, so events already handed to a sink
// stay stable.
func (e LifecycleEvent) WithMetadata(key string, value any) LifecycleEvent {
	m := maps.Clone(e.Metadata)
	if m == nil {
		m = make(map[string]any, 1)
	}
	m[key] = value
	e.Metadata = m
	return e
}

// WithExitCode returns a copy of the event carrying the child exit code,
// both as a typed field and in the metadata for downstream consumers.
func (e LifecycleEvent) WithExitCode(code int) LifecycleEvent {
	e = e.WithMetadata("exit_code", code)
	e.ExitCode = &code
	return e
}
