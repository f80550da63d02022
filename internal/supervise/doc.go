package supervise

// Package supervise runs one child command under lifecycle supervision.
//
// Overview
// The Supervisor owns an event loop multiplexing three inputs: lifecycle
// intents derived from process signals, the child result, and context
// cancellation. It publishes every lifecycle transition through a
// Dispatcher before acting on the child, so observers always see the
// cause before the effect.
//
// The Observer translates raw signals into intents. Signal handlers only
// post into a buffered channel, deduplication and translation happen on
// the Observer goroutine, and the Supervisor loop is the sole consumer.
//
// Runner is a thin wrapper around os/exec:
//   - starts the child in its own process group
//   - attaches the parent's standard streams
//   - forwards signals to the whole group
//   - exposes a channel delivering exactly one Result
//
// Data flow:
//
//   signals          Observer              Supervisor                Runner{cmd}
//      |                |                      |                        |
//   SIGTSTP ---------->| admit/dedup           |                        |
//      |                |------ Intent ------->| Dispatch(PAUSED)       |
//      |                |                      |------ Suspend -------->| SIGTSTP to group
//      |                |                      |                        |
//      |                |                      |<------ Result ---------| (child exits)
//      |                |                      | Dispatch(COMPLETED/FAILED)
//
// Invariants:
//   - Every event passes the state machine exactly once, then reaches all
//     sinks in a fixed order.
//   - The event for a signal is published before the signal is forwarded.
//   - Sink failures degrade the sink, never the child: the supervisor
//     exit code depends only on the child.
//   - Each run produces exactly one terminal event, COMPLETED or FAILED.
//
// internal/supervise/supervisor_test.go shows how the pieces are meant to
// be wired together.
