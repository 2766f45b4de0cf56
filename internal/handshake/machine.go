package handshake

import (
	"sync"
)

// Machine is the handshake state of one run. It keeps a short tail of
// previous output so markers split across chunks are still recognized.
type Machine struct {
	mu       sync.Mutex
	rules    Rules
	progress Progress
	tail     string
	tailLen  int
}

// NewMachine creates a machine in the Starting state.
func NewMachine(rules Rules) *Machine {
	tailLen := rules.Detector.LongestMarker() - 1
	if tailLen < 0 {
		tailLen = 0
	}
	return &Machine{rules: rules, tailLen: tailLen}
}

// Feed consumes an output chunk and returns the actions to perform.
func (m *Machine) Feed(chunk string) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.tail + chunk
	next, actions := m.rules.Transition(m.progress, window)
	answered := next.TrustAnswered && !m.progress.TrustAnswered
	m.progress = next

	if answered {
		// The trust dialog is consumed; nothing on it counts as a ready marker later.
		m.tail = ""
		return actions
	}
	if len(window) > m.tailLen {
		window = window[len(window)-m.tailLen:]
	}
	m.tail = window
	return actions
}

// Submit advances to MessageSubmitted and returns the actions that send
// message.
func (m *Machine) Submit(message string, mode Mode) ([]Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, actions, err := m.rules.Submission(m.progress, message, mode)
	if err != nil {
		return nil, err
	}
	m.progress = next
	return actions, nil
}

// Progress returns a snapshot of the current progress.
func (m *Machine) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// State returns the current state.
func (m *Machine) State() State {
	return m.Progress().State
}
