// Package pty spawns a child process attached to a pseudo-terminal and
// exposes its output as an ordered event stream.
package pty

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/acolita/claude-session-probe/internal/ports"
)

// Options configures a spawned process.
type Options struct {
	Binary string   // Executable name, resolved against PATH
	Args   []string // Positional arguments
	Dir    string   // Working directory
	Term   string   // Terminal type (default: xterm-color)
	Rows   uint16   // Terminal rows (default: 30)
	Cols   uint16   // Terminal columns (default: 80)
	Env    []string // Additional environment variables, appended after the inherited ones
}

// DefaultOptions returns the terminal geometry the harness uses.
func DefaultOptions() Options {
	return Options{
		Binary: "claude",
		Term:   "xterm-color",
		Rows:   30,
		Cols:   80,
	}
}

// Process is a child process attached to a pseudo-terminal.
type Process struct {
	cmd    *exec.Cmd
	pty    *os.File
	binary string

	output chan ports.OutputEvent
	exited chan struct{}
	killed chan struct{}

	mu     sync.Mutex
	status ports.ExitStatus

	killOnce sync.Once
	signal   func(pid int, sig unix.Signal) error
}

// Spawn starts opts.Binary attached to a new pseudo-terminal. Failures are
// returned immediately; retrying a failed spawn is left to the caller.
func Spawn(opts Options) (*Process, error) {
	def := DefaultOptions()
	if opts.Binary == "" {
		opts.Binary = def.Binary
	}
	if opts.Term == "" {
		opts.Term = def.Term
	}
	if opts.Rows == 0 {
		opts.Rows = def.Rows
	}
	if opts.Cols == 0 {
		opts.Cols = def.Cols
	}

	path, err := exec.LookPath(opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", opts.Binary, err)
	}

	cmd := exec.Command(path, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(os.Environ(), opts)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		pty:    ptmx,
		binary: path,
		output: make(chan ports.OutputEvent, 256),
		exited: make(chan struct{}),
		killed: make(chan struct{}),
		signal: unix.Kill,
	}

	slog.Debug("spawned process",
		slog.String("binary", path),
		slog.Int("pid", cmd.Process.Pid),
		slog.String("dir", opts.Dir),
		slog.Int("args", len(opts.Args)),
	)

	go p.readLoop()
	go p.waitLoop()

	return p, nil
}

// buildEnv inherits the parent environment, replacing TERM and PWD so the
// child sees the requested terminal and its real working directory.
func buildEnv(parent []string, opts Options) []string {
	env := make([]string, 0, len(parent)+len(opts.Env)+2)
	for _, kv := range parent {
		if strings.HasPrefix(kv, "TERM=") || strings.HasPrefix(kv, "PWD=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "TERM="+opts.Term)
	if opts.Dir != "" {
		env = append(env, "PWD="+opts.Dir)
	}
	return append(env, opts.Env...)
}

// readLoop forwards terminal output until the PTY reports EOF (or EIO,
// which Linux returns once the child side is gone).
func (p *Process) readLoop() {
	defer close(p.output)

	buf := make([]byte, 4096)
	for {
		n, err := p.pty.Read(buf)
		if n > 0 {
			select {
			case p.output <- ports.OutputEvent{Data: string(buf[:n]), At: time.Now()}:
			case <-p.killed:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()

	status := ports.ExitStatus{Code: -1}
	if state := p.cmd.ProcessState; state != nil {
		status.Code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = ws.Signal().String()
		}
	}

	p.mu.Lock()
	p.status = status
	p.mu.Unlock()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		slog.Debug("wait failed", slog.String("error", err.Error()))
	}
	slog.Debug("process exited",
		slog.Int("code", status.Code),
		slog.String("signal", status.Signal),
	)
	close(p.exited)
}

// Binary returns the resolved executable path.
func (p *Process) Binary() string {
	return p.binary
}

// Pid returns the child process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Output returns the output event stream. It is closed after the terminal
// reaches end of file.
func (p *Process) Output() <-chan ports.OutputEvent {
	return p.output
}

// Write injects raw bytes as if typed. There is no acknowledgement; the
// error only reports that the terminal refused the bytes.
func (p *Process) Write(text string) error {
	_, err := p.pty.WriteString(text)
	return err
}

// Resize changes the terminal geometry.
func (p *Process) Resize(rows, cols uint16) error {
	return pty.Setsize(p.pty, &pty.Winsize{Rows: rows, Cols: cols})
}

// Exited is closed once the process has terminated.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitStatus returns how the process terminated. Only meaningful after
// Exited is closed.
func (p *Process) ExitStatus() ports.ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Kill closes the terminal and SIGKILLs the child's process group. It may
// be called any number of times, including after the process exited. Once
// the child has been reaped its pid may belong to someone else, so no
// signal is sent then.
func (p *Process) Kill() {
	p.killOnce.Do(func() {
		close(p.killed)
		if err := p.pty.Close(); err != nil {
			slog.Debug("close pty", slog.String("error", err.Error()))
		}

		select {
		case <-p.exited:
			return
		default:
		}

		pid := p.cmd.Process.Pid
		// pty.Start puts the child in its own session, so -pid is its group.
		if err := p.signal(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				slog.Debug("kill process", slog.Int("pid", pid), slog.String("error", err.Error()))
			}
		}
	})
}

// Ensure Process implements ports.Process.
var _ ports.Process = (*Process)(nil)
