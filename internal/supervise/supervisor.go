package supervise

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/slurm-admin/slm/internal/model"
)

// Supervisor runs one child command and publishes its lifecycle events.
type Supervisor struct {
	job        model.JobRecord
	command    Command
	dispatcher *Dispatcher
	intents    <-chan Intent
}

// New builds a supervisor for job running command, publishing lifecycle
// events to sinks in the given order.
func New(job model.JobRecord, command Command, sinks ...model.Sink) *Supervisor {
	return &Supervisor{
		job:        job,
		command:    command,
		dispatcher: NewDispatcher(sinks...),
	}
}

// WithIntents replaces the signal observer with a caller-owned intent
// stream. This method exists for a unit testing only.
func (s *Supervisor) WithIntents(intents <-chan Intent) *Supervisor {
	s.intents = intents
	return s
}

var intentEvents = map[IntentKind]model.EventKind{
	IntentSuspend:   model.EventPaused,
	IntentResume:    model.EventResumed,
	IntentTerminate: model.EventTerminating,
}

// Do launches the child and runs the supervision loop until it finishes.
// It multiplexes three concerns:
//  1. Lifecycle intents (from the signal Observer, or WithIntents): the
//     matching event is published first, then the signal is forwarded to
//     the child process group.
//  2. The child result: mapped to COMPLETED or FAILED, published, and
//     turned into the return value.
//  3. Context cancellation: treated as one termination request, the loop
//     keeps draining until the child actually exits and the terminal event
//     is still delivered.
//
// Shutdown (deferred order): stop the signal observer, then close the
// sinks. The returned code is what the process should exit with: the
// child's own code, 128+N when signal N killed it, or ExitLaunchFailure
// when the child never started.
func (s *Supervisor) Do(ctx context.Context) (int, error) {
	// Cancellation asks for the child to terminate, reporting still has to
	// finish. Deliveries run on a context that survives the cancel, every
	// sink bounds its own blocking time.
	flush := context.WithoutCancel(ctx)
	defer s.dispatcher.Close(flush)

	intents := s.intents
	if intents == nil {
		observer := NewObserver()
		stop := observer.Start(ctx)
		defer stop()
		intents = observer.Intents()
	}

	runner := NewRunner()
	if err := runner.Start(s.command); err != nil {
		ev := model.NewEvent(s.job.JobID, model.EventFailed, fmt.Sprintf("Execution error: %v", err)).
			WithExitCode(ExitLaunchFailure)
		s.dispatcher.Dispatch(flush, ev)
		return ExitLaunchFailure, fmt.Errorf("starting command failed: %w", err)
	}

	slog.InfoContext(ctx, "command started", "command", s.command.String())
	s.dispatcher.Dispatch(flush, model.NewEvent(s.job.JobID, model.EventRunning, "Command: "+s.command.String()))

	done := ctx.Done()
	for {
		select {
		case <-done:
			slog.InfoContext(flush, "context cancelled, terminating child")
			done = nil
			s.handleIntent(flush, Intent{Kind: IntentTerminate, Sig: syscall.SIGTERM}, runner)
		case intent := <-intents:
			s.handleIntent(flush, intent, runner)
		case result := <-runner.Results():
			return s.finish(flush, result), nil
		}
	}
}

// handleIntent publishes the event for the intent, then forwards the
// signal to the child group. A transition the state machine rejects
// forwards nothing.
func (s *Supervisor) handleIntent(ctx context.Context, intent Intent, runner *Runner) {
	kind, ok := intentEvents[intent.Kind]
	if !ok {
		return
	}
	name := unix.SignalName(intent.Sig)

	ev := model.NewEvent(s.job.JobID, kind, "Received signal: "+name).
		WithMetadata("signal", name)
	if !s.dispatcher.Dispatch(ctx, ev) {
		return
	}

	var err error
	switch intent.Kind {
	case IntentSuspend:
		err = runner.Suspend()
	case IntentResume:
		err = runner.Resume()
	case IntentTerminate:
		err = runner.Terminate(intent.Sig)
	}
	if err != nil {
		slog.WarnContext(ctx, "forwarding signal failed", "signal", name, "error", err)
	}
}

func (s *Supervisor) finish(ctx context.Context, result Result) int {
	code := result.ExitCode()

	var ev model.LifecycleEvent
	if code == 0 {
		ev = model.NewEvent(s.job.JobID, model.EventCompleted, "Job completed successfully")
	} else {
		ev = model.NewEvent(s.job.JobID, model.EventFailed, fmt.Sprintf("Exit code: %d", code))
		if sig, ok := result.TermSignal(); ok {
			ev = ev.WithMetadata("signal", unix.SignalName(sig))
		}
	}
	s.dispatcher.Dispatch(ctx, ev.WithExitCode(code))

	slog.InfoContext(ctx, "command finished",
		"exit_code", code,
		"duration", result.Stopped.Sub(result.Started).String(),
	)
	return code
}
