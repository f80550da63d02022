package supervise

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

var (
	ErrNotStarted     = errors.New("command not started")
	ErrAlreadyStarted = errors.New("command already started")
)

// ExitLaunchFailure is reported when the child could not be started at
// all, following the shell convention for a missing command.
const ExitLaunchFailure = 127

// Command describes the child process to supervise.
type Command struct {
	Path string
	Args []string
	Env  []string
}

// String renders the command the way it was typed.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Result describes a finished child process.
type Result struct {
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Err     error
}

// ExitCode maps the process state to the code the supervisor itself must
// exit with: the child code when it exited on its own, 128+N when signal
// N killed it, ExitLaunchFailure when the child never ran.
func (r Result) ExitCode() int {
	if r.State == nil {
		return ExitLaunchFailure
	}
	if code := r.State.ExitCode(); code >= 0 {
		return code
	}
	if sig, ok := r.TermSignal(); ok {
		return 128 + int(sig)
	}
	return ExitLaunchFailure
}

// TermSignal returns the signal that killed the child, if one did.
func (r Result) TermSignal() (syscall.Signal, bool) {
	if r.State == nil {
		return 0, false
	}
	if ws, ok := r.State.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal(), true
	}
	return 0, false
}

// Runner executes the supervised command in its own process group so that
// forwarded signals reach everything the child spawns.
type Runner struct {
	mx      sync.Mutex
	pgid    int
	started bool
	results chan Result
}

func NewRunner() *Runner {
	return &Runner{results: make(chan Result, 1)}
}

// Results delivers exactly one Result once the child finished. The
// channel is closed afterwards.
func (r *Runner) Results() <-chan Result { return r.results }

// Start launches the command with the parent's standard streams attached.
// The child is deliberately not bound to a context: cancellation is the
// supervisor's call to make, expressed through Terminate.
func (r *Runner) Start(cmd Command) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	if len(cmd.Env) > 0 {
		c.Env = cmd.Env
	}
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	started := time.Now().UTC()
	if err := c.Start(); err != nil {
		return err
	}

	r.pgid = c.Process.Pid
	r.started = true
	go r.wait(c, started)
	return nil
}

func (r *Runner) wait(cmd *exec.Cmd, started time.Time) {
	err := cmd.Wait()
	r.results <- Result{
		Started: started,
		Stopped: time.Now().UTC(),
		State:   cmd.ProcessState,
		Err:     err,
	}
	close(r.results)
}

// Suspend stops the child process group.
func (r *Runner) Suspend() error { return r.signal(syscall.SIGTSTP) }

// Resume continues a stopped child process group.
func (r *Runner) Resume() error { return r.signal(syscall.SIGCONT) }

// Terminate delivers sig to the child process group. The group is
// continued first, a termination signal would stay pending for a stopped
// process otherwise.
func (r *Runner) Terminate(sig syscall.Signal) error {
	if err := r.signal(syscall.SIGCONT); err != nil {
		return err
	}
	return r.signal(sig)
}

func (r *Runner) signal(sig syscall.Signal) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if !r.started {
		return ErrNotStarted
	}
	return syscall.Kill(-r.pgid, sig)
}
