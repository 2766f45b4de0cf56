package ports

import "time"

// OutputEvent is a chunk of raw text emitted by a child process. Chunks
// arrive in emission order and are not aligned to lines.
type OutputEvent struct {
	Data string
	At   time.Time
}

// ExitStatus describes how a child process terminated.
type ExitStatus struct {
	Code   int    // -1 when the process was killed by a signal
	Signal string // empty unless the process was signaled
}

// Process is a child process attached to a pseudo-terminal.
type Process interface {
	// Output returns the output stream. The channel is closed once the
	// terminal reaches end of file.
	Output() <-chan OutputEvent

	// Write injects raw bytes as if typed on the keyboard.
	Write(text string) error

	// Exited is closed when the process has terminated.
	Exited() <-chan struct{}

	// ExitStatus returns the exit status. Valid after Exited is closed.
	ExitStatus() ExitStatus

	// Kill terminates the process. Safe to call repeatedly and after exit.
	Kill()
}
