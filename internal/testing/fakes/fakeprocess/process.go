// Package fakeprocess provides a fake ports.Process for testing handshake
// and harness logic without real terminals.
package fakeprocess

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/acolita/claude-session-probe/internal/ports"
)

// ErrKilled is returned by Write after Kill.
var ErrKilled = errors.New("fake process killed")

// Process is a scriptable fake child process.
type Process struct {
	mu       sync.Mutex
	output   chan ports.OutputEvent
	exited   chan struct{}
	status   ports.ExitStatus
	writes   []string
	kills    int
	onWrite  func(p *Process, text string)
	outDone  bool
	exitOnce sync.Once
}

// New creates a fake process with room for buffered output events.
func New() *Process {
	return &Process{
		output: make(chan ports.OutputEvent, 64),
		exited: make(chan struct{}),
	}
}

// OnWrite installs a callback run after every Write, used to script how
// the fake target reacts to input (e.g. print the ready marker once the
// trust prompt is answered). The callback runs without the lock held.
func (p *Process) OnWrite(fn func(p *Process, text string)) *Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWrite = fn
	return p
}

// Emit queues an output chunk.
// Chunks emitted after the process exited are dropped.
func (p *Process) Emit(data string) *Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outDone {
		return p
	}
	p.output <- ports.OutputEvent{Data: data, At: time.Now()}
	return p
}

// Exit simulates the process terminating on its own.
func (p *Process) Exit(code int, signal string) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.status = ports.ExitStatus{Code: code, Signal: signal}
		p.mu.Unlock()
		close(p.exited)
	})
	p.closeOutput()
}

func (p *Process) closeOutput() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.outDone {
		p.outDone = true
		close(p.output)
	}
}

// Output implements ports.Process.
func (p *Process) Output() <-chan ports.OutputEvent {
	return p.output
}

// Write implements ports.Process and records the input.
func (p *Process) Write(text string) error {
	p.mu.Lock()
	if p.kills > 0 {
		p.mu.Unlock()
		return ErrKilled
	}
	p.writes = append(p.writes, text)
	hook := p.onWrite
	p.mu.Unlock()

	if hook != nil {
		hook(p, text)
	}
	return nil
}

// Exited implements ports.Process.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitStatus implements ports.Process.
func (p *Process) ExitStatus() ports.ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Kill implements ports.Process. It is idempotent.
func (p *Process) Kill() {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	p.Exit(-1, "killed")
}

// --- Test inspection methods ---

// Writes returns every Write payload in order.
func (p *Process) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.writes))
	copy(out, p.writes)
	return out
}

// Written returns all written input concatenated.
func (p *Process) Written() string {
	return strings.Join(p.Writes(), "")
}

// Kills returns how many times Kill was called.
func (p *Process) Kills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// Ensure Process implements ports.Process.
var _ ports.Process = (*Process)(nil)
