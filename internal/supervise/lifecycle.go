package supervise

import (
	"slices"

	"github.com/slurm-admin/slm/internal/model"
)

// transitions lists the states each event may be entered from. Terminal
// events are absent, they are accepted from any non-terminal state.
var transitions = map[model.EventKind][]model.EventKind{
	model.EventSubmitted:   {""},
	model.EventRunning:     {"", model.EventSubmitted},
	model.EventPaused:      {model.EventRunning, model.EventResumed},
	model.EventResumed:     {model.EventPaused},
	model.EventTerminating: {model.EventRunning, model.EventPaused, model.EventResumed},
}

// stateMachine validates lifecycle transitions. The zero value starts
// before SUBMITTED, so both SUBMITTED and RUNNING are valid first events.
type stateMachine struct {
	current model.EventKind
}

// apply advances to kind when the transition is legal and reports whether
// it did. Nothing leaves a terminal state.
func (m *stateMachine) apply(kind model.EventKind) bool {
	if m.current.Terminal() {
		return false
	}
	if kind.Terminal() {
		m.current = kind
		return true
	}
	from, ok := transitions[kind]
	if !ok || !slices.Contains(from, m.current) {
		return false
	}
	m.current = kind
	return true
}
