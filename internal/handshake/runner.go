package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/acolita/claude-session-probe/internal/logging"
	"github.com/acolita/claude-session-probe/internal/poll"
	"github.com/acolita/claude-session-probe/internal/ports"
)

// maxCaptured bounds the output kept for diagnostics.
const maxCaptured = 64 * 1024

// Recorder receives the terminal traffic of a run.
type Recorder interface {
	RecordOutput(data string) error
	RecordInput(data string) error
}

// ExitError reports that the target exited before the handshake finished.
type ExitError struct {
	State  State
	Status ports.ExitStatus
}

func (e *ExitError) Error() string {
	if e.Status.Signal != "" {
		return fmt.Sprintf("target exited in state %s (signal %s)", e.State, e.Status.Signal)
	}
	return fmt.Sprintf("target exited in state %s (exit code %d)", e.State, e.Status.Code)
}

// ErrProcessExited matches any *ExitError via errors.Is.
var ErrProcessExited = errors.New("target process exited")

func (e *ExitError) Is(target error) bool {
	return target == ErrProcessExited
}

// Runner drives a Machine from a live process.
type Runner struct {
	proc     ports.Process
	clock    ports.Clock
	machine  *Machine
	recorder Recorder

	writeMu sync.Mutex

	mu       sync.Mutex
	captured strings.Builder
	started  bool
	done     chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecorder records all output and input of the run.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// NewRunner creates a runner for proc.
func NewRunner(proc ports.Process, clock ports.Clock, rules Rules, opts ...RunnerOption) *Runner {
	r := &Runner{
		proc:    proc,
		clock:   clock,
		machine: NewMachine(rules),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start consumes process output in the background until the output
// stream closes or ctx is done. It must be called once.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.loop(ctx)
}

// Done is closed when the output loop stops.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.proc.Output():
			if !ok {
				return
			}
			r.capture(ev.Data)
			slog.Debug("target output", slog.String("data", logging.Truncate(ev.Data, 200)))
			if r.recorder != nil {
				if err := r.recorder.RecordOutput(ev.Data); err != nil {
					slog.Warn("recording output failed", slog.String("error", err.Error()))
				}
			}

			before := r.machine.State()
			actions := r.machine.Feed(ev.Data)
			if after := r.machine.State(); after != before {
				slog.Debug("handshake state changed",
					slog.String("from", before.String()),
					slog.String("to", after.String()),
				)
			}
			if err := r.perform(ctx, actions); err != nil {
				slog.Warn("handshake action failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runner) perform(ctx context.Context, actions []Action) error {
	for _, a := range actions {
		if a.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(a.Delay):
			}
		}
		if a.Input == "" {
			continue
		}
		if err := r.write(a.Input); err != nil {
			return fmt.Errorf("%s: %w", a.Note, err)
		}
		slog.Debug("handshake input sent", slog.String("step", a.Note), slog.Int("bytes", len(a.Input)))
	}
	return nil
}

func (r *Runner) write(text string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.proc.Write(text); err != nil {
		return err
	}
	if r.recorder != nil {
		if err := r.recorder.RecordInput(text); err != nil {
			slog.Warn("recording input failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Runner) capture(data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captured.WriteString(data)
	if r.captured.Len() > maxCaptured {
		keep := r.captured.String()[r.captured.Len()-maxCaptured:]
		r.captured.Reset()
		r.captured.WriteString(keep)
	}
}

// Output returns the most recent output seen, bounded in size.
func (r *Runner) Output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captured.String()
}

// State returns the current handshake state.
func (r *Runner) State() State {
	return r.machine.State()
}

// Progress returns the current handshake progress.
func (r *Runner) Progress() Progress {
	return r.machine.Progress()
}

// AwaitReady polls until the input prompt has been seen. When the policy
// is exhausted the run continues in degraded mode: degraded is true and
// err is nil. If the process exits first an *ExitError is returned.
func (r *Runner) AwaitReady(ctx context.Context, policy poll.Policy) (degraded bool, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exited := r.proc.Exited()
	go func() {
		select {
		case <-exited:
			cancel()
		case <-ctx.Done():
		}
	}()

	_, attempts, err := poll.Until(ctx, r.clock, policy, func(context.Context, int) (State, bool, error) {
		s := r.machine.State()
		return s, s >= ReadyForInput, nil
	})
	if err == nil {
		slog.Debug("target ready", slog.Int("attempts", attempts))
		return false, nil
	}

	select {
	case <-exited:
		return false, &ExitError{State: r.State(), Status: r.proc.ExitStatus()}
	default:
	}

	if poll.IsExhausted(err) {
		slog.Warn("ready prompt not seen, continuing degraded",
			slog.String("state", r.State().String()),
			slog.Int("attempts", attempts),
		)
		return true, nil
	}
	return false, err
}

// Submit sends message according to mode. It fails with ErrProcessExited
// if the target is already gone and with ErrAlreadySubmitted on a second
// call.
func (r *Runner) Submit(ctx context.Context, message string, mode Mode) error {
	select {
	case <-r.proc.Exited():
		return &ExitError{State: r.State(), Status: r.proc.ExitStatus()}
	default:
	}

	actions, err := r.machine.Submit(message, mode)
	if err != nil {
		return err
	}
	slog.Info("submitting message",
		slog.String("mode", string(mode)),
		slog.Int("length", len(message)),
	)
	return r.perform(ctx, actions)
}
