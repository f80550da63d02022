package supervise

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// IntentKind is the lifecycle action a signal asks for.
type IntentKind int

const (
	IntentSuspend IntentKind = iota
	IntentResume
	IntentTerminate
)

func (k IntentKind) String() string {
	switch k {
	case IntentSuspend:
		return "suspend"
	case IntentResume:
		return "resume"
	case IntentTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Intent pairs the requested action with the signal that caused it, so
// the very same signal can be forwarded to the child process group.
type Intent struct {
	Kind IntentKind
	Sig  syscall.Signal
}

// episodeFilter collapses repeated deliveries of the same signal into one
// intent per episode. A suspend episode ends when the matching resume
// arrives, termination is accepted once for the whole run.
type episodeFilter struct {
	suspended  bool
	terminated bool
}

func (f *episodeFilter) admit(kind IntentKind) bool {
	if f.terminated {
		return false
	}
	switch kind {
	case IntentSuspend:
		if f.suspended {
			return false
		}
		f.suspended = true
		return true
	case IntentResume:
		if !f.suspended {
			return false
		}
		f.suspended = false
		return true
	case IntentTerminate:
		f.terminated = true
		return true
	default:
		return false
	}
}

// Observer turns process signals into lifecycle intents.
//
// The scheduler drives suspension and cancellation through signals:
// scontrol suspend sends SIGTSTP, scontrol resume sends SIGCONT, scancel
// and timeouts send SIGTERM. Ctrl+C is treated like scancel.
type Observer struct {
	raw     chan os.Signal
	intents chan Intent

	stopOnce sync.Once
	done     chan struct{}
}

// NewObserver allocates an observer with channels buffered for signal
// bursts.
func NewObserver() *Observer {
	return &Observer{
		raw:     make(chan os.Signal, 8),
		intents: make(chan Intent, 8),
		done:    make(chan struct{}),
	}
}

// Intents is the stream of admitted lifecycle intents.
func (o *Observer) Intents() <-chan Intent { return o.intents }

// Start subscribes to the lifecycle signals and launches the translation
// goroutine. The returned stop function unsubscribes, it is safe to call
// more than once.
func (o *Observer) Start(ctx context.Context) (stop func()) {
	signal.Notify(o.raw, syscall.SIGTSTP, syscall.SIGCONT, syscall.SIGTERM, os.Interrupt)
	go o.translate(ctx)

	return func() {
		o.stopOnce.Do(func() {
			signal.Stop(o.raw)
			close(o.done)
		})
	}
}

func (o *Observer) translate(ctx context.Context) {
	var filter episodeFilter
	for {
		select {
		case <-o.done:
			return
		case <-ctx.Done():
			return
		case sig := <-o.raw:
			intent, ok := intentFor(sig)
			if !ok {
				continue
			}
			if !filter.admit(intent.Kind) {
				slog.DebugContext(ctx, "duplicate signal dropped", "signal", unix.SignalName(intent.Sig))
				continue
			}
			select {
			case o.intents <- intent:
			default:
				slog.WarnContext(ctx, "intent channel full, dropping signal", "signal", unix.SignalName(intent.Sig))
			}
		}
	}
}

func intentFor(sig os.Signal) (Intent, bool) {
	switch sig {
	case syscall.SIGTSTP:
		return Intent{Kind: IntentSuspend, Sig: syscall.SIGTSTP}, true
	case syscall.SIGCONT:
		return Intent{Kind: IntentResume, Sig: syscall.SIGCONT}, true
	case syscall.SIGTERM:
		return Intent{Kind: IntentTerminate, Sig: syscall.SIGTERM}, true
	case os.Interrupt:
		return Intent{Kind: IntentTerminate, Sig: syscall.SIGINT}, true
	default:
		return Intent{}, false
	}
}
