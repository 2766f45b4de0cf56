// Package harness runs one end-to-end probe: launch the target in a
// scratch directory, negotiate its prompts, submit a message, then find
// and verify the transcript the target persisted for the run.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/acolita/claude-session-probe/internal/handshake"
	"github.com/acolita/claude-session-probe/internal/poll"
	"github.com/acolita/claude-session-probe/internal/ports"
	"github.com/acolita/claude-session-probe/internal/pty"
	"github.com/acolita/claude-session-probe/internal/recording"
	"github.com/acolita/claude-session-probe/internal/session"
	"github.com/acolita/claude-session-probe/internal/transcript"
)

// LockFileName is created inside the workdir for the duration of a run.
const LockFileName = ".sessionprobe.lock"

// ErrWorkdirBusy is returned when another run holds the workdir lock.
var ErrWorkdirBusy = errors.New("workdir is in use by another run")

// Config describes one run.
type Config struct {
	Workdir string
	Message string
	Mode    handshake.Mode

	Target          pty.Options // Dir is set to the workdir
	SkipPermissions bool
	PermissionFlag  string

	Rules         handshake.Rules
	ReadyPolicy   poll.Policy
	SettleDelay   time.Duration
	TeardownGrace time.Duration

	Resolver session.Options
	Verifier transcript.Options

	RecordingDir string // empty disables recording
}

// Spawner starts the target process.
type Spawner func(opts pty.Options) (ports.Process, error)

// SpawnPTY starts the target on a real pseudo-terminal.
func SpawnPTY(opts pty.Options) (ports.Process, error) {
	p, err := pty.Spawn(opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Locker takes an exclusive lock on path and returns its release func.
type Locker func(path string) (unlock func(), err error)

// FileLock locks path with flock(2) without blocking.
func FileLock(path string) (func(), error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, ErrWorkdirBusy
	}
	return func() { _ = lock.Unlock() }, nil
}

// Deps are the collaborators of a run. Nil Spawn and Lock default to
// SpawnPTY and FileLock.
type Deps struct {
	FS    ports.FileSystem
	Clock ports.Clock
	Spawn Spawner
	Lock  Locker
}

// Report describes a run. It is returned, partially filled, on failure too.
type Report struct {
	Workdir       string
	Baseline      time.Time
	Args          []string
	State         handshake.State
	Degraded      bool
	Resolution    *session.Resolution
	Verification  *transcript.Verification
	RecordingPath string
	Output        string // terminal output tail, for diagnostics
	Duration      time.Duration
}

// Passed reports whether the run verified the transcript.
func (r *Report) Passed() bool {
	return r != nil && r.Verification != nil
}

// Args builds the target's argument list for cfg.
func Args(cfg Config) []string {
	args := append([]string(nil), cfg.Target.Args...)
	if cfg.SkipPermissions && cfg.PermissionFlag != "" {
		args = append(args, cfg.PermissionFlag)
	}
	if cfg.Mode == handshake.ModeArgument {
		args = append(args, cfg.Message)
	}
	return args
}

// Run executes a probe. The target is killed on every return path.
func Run(ctx context.Context, cfg Config, deps Deps) (*Report, error) {
	if cfg.Message == "" {
		return nil, errors.New("message is empty")
	}
	if cfg.Workdir == "" {
		return nil, errors.New("workdir is empty")
	}
	if deps.Spawn == nil {
		deps.Spawn = SpawnPTY
	}
	if deps.Lock == nil {
		deps.Lock = FileLock
	}

	workdir, err := prepareWorkdir(deps.FS, cfg.Workdir)
	if err != nil {
		return nil, err
	}
	report := &Report{Workdir: workdir}

	unlock, err := deps.Lock(filepath.Join(workdir, LockFileName))
	if err != nil {
		return report, fmt.Errorf("lock workdir %s: %w", workdir, err)
	}
	defer unlock()

	report.Baseline = deps.Clock.Now()
	defer func() { report.Duration = deps.Clock.Now().Sub(report.Baseline) }()

	opts := cfg.Target
	opts.Dir = workdir
	opts.Args = Args(cfg)
	report.Args = opts.Args

	slog.Info("starting probe run",
		slog.String("workdir", workdir),
		slog.String("binary", opts.Binary),
		slog.String("mode", string(cfg.Mode)),
		slog.Time("baseline", report.Baseline),
	)

	var rec *recording.Recorder
	if cfg.RecordingDir != "" {
		rec, err = recording.NewRecorder(deps.FS, deps.Clock, recording.Options{
			Dir:     cfg.RecordingDir,
			Name:    filepath.Base(workdir),
			Width:   int(opts.Cols),
			Height:  int(opts.Rows),
			Term:    opts.Term,
			Command: append([]string{opts.Binary}, opts.Args...),
			Title:   cfg.Message,
		})
		if err != nil {
			return report, fmt.Errorf("start recording: %w", err)
		}
		defer rec.Close()
		report.RecordingPath = rec.Path()
	}

	proc, err := deps.Spawn(opts)
	if err != nil {
		return report, fmt.Errorf("spawn target: %w", err)
	}
	defer teardown(proc, deps.Clock, cfg.TeardownGrace)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runnerOpts []handshake.RunnerOption
	if rec != nil {
		runnerOpts = append(runnerOpts, handshake.WithRecorder(rec))
	}
	runner := handshake.NewRunner(proc, deps.Clock, cfg.Rules, runnerOpts...)
	runner.Start(runCtx)
	defer func() {
		report.State = runner.State()
		report.Output = runner.Output()
	}()

	report.Degraded, err = runner.AwaitReady(ctx, cfg.ReadyPolicy)
	if err != nil {
		return report, fmt.Errorf("await ready prompt: %w", err)
	}
	mark(rec, "ready")

	if err := runner.Submit(ctx, cfg.Message, cfg.Mode); err != nil {
		return report, fmt.Errorf("submit message: %w", err)
	}
	mark(rec, "submitted")

	if err := sleep(ctx, deps.Clock, cfg.SettleDelay); err != nil {
		return report, err
	}

	resolver, err := session.NewResolver(deps.FS, deps.Clock, cfg.Resolver)
	if err != nil {
		return report, err
	}
	report.Resolution, err = resolver.Resolve(ctx, workdir, report.Baseline)
	if err != nil {
		return report, fmt.Errorf("resolve session: %w", err)
	}
	mark(rec, "resolved "+report.Resolution.ID.String())

	verifier, err := transcript.NewVerifier(deps.FS, deps.Clock, cfg.Verifier)
	if err != nil {
		return report, err
	}
	report.Verification, err = verifier.Verify(ctx, report.Resolution.Path, cfg.Message)
	if err != nil {
		return report, fmt.Errorf("verify transcript: %w", err)
	}

	slog.Info("probe run passed",
		slog.String("session_id", report.Resolution.ID.String()),
		slog.String("path", report.Resolution.Path),
		slog.Bool("degraded", report.Degraded),
	)
	return report, nil
}

func prepareWorkdir(fsys ports.FileSystem, dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve workdir: %w", err)
	}
	if err := fsys.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create workdir: %w", err)
	}
	// The target records its real working directory, so symlinks in the
	// path (such as /tmp on macOS) must be resolved before mangling.
	resolved, err := fsys.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve workdir: %w", err)
	}
	return resolved, nil
}

func teardown(proc ports.Process, clock ports.Clock, grace time.Duration) {
	proc.Kill()
	select {
	case <-proc.Exited():
		st := proc.ExitStatus()
		slog.Debug("target stopped", slog.Int("code", st.Code), slog.String("signal", st.Signal))
	case <-clock.After(grace):
		slog.Warn("target did not exit within teardown grace", slog.Duration("grace", grace))
	}
}

func sleep(ctx context.Context, clock ports.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}

func mark(rec *recording.Recorder, label string) {
	if rec == nil {
		return
	}
	if err := rec.Mark(label); err != nil {
		slog.Warn("recording marker failed", slog.String("error", err.Error()))
	}
}
