// Package handshake negotiates the target application's startup prompts
// over a pseudo-terminal and submits the test message.
//
// The detection logic is a pure transition function (Rules.Transition) so
// it can be tested without a process; Machine adds per-run state and
// Runner wires a Machine to a live ports.Process.
package handshake

import (
	"errors"
	"fmt"
	"time"

	"github.com/acolita/claude-session-probe/internal/prompt"
)

// State is the handshake progress. States only ever move forward.
type State int

const (
	// Starting means no known prompt has been seen yet.
	Starting State = iota
	// AwaitingTrustPrompt means the trust prompt was seen and its answer
	// scheduled; the prompt is still on screen.
	AwaitingTrustPrompt
	// AwaitingReadyPrompt means the trust prompt has been dismissed and the
	// input prompt has not appeared yet.
	AwaitingReadyPrompt
	// ReadyForInput means an input marker was seen.
	ReadyForInput
	// MessageSubmitted means the test message has been sent.
	MessageSubmitted
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case AwaitingTrustPrompt:
		return "awaiting_trust_prompt"
	case AwaitingReadyPrompt:
		return "awaiting_ready_prompt"
	case ReadyForInput:
		return "ready_for_input"
	case MessageSubmitted:
		return "message_submitted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode selects how the test message reaches the target.
type Mode string

const (
	// ModeInteractive types the message after the handshake.
	ModeInteractive Mode = "interactive"
	// ModeArgument passes the message as a launch argument.
	ModeArgument Mode = "argument"
)

// ParseMode validates a configured mode. Empty means interactive.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeInteractive:
		return ModeInteractive, nil
	case ModeArgument:
		return ModeArgument, nil
	default:
		return "", fmt.Errorf("unknown handshake mode %q (want %q or %q)", s, ModeInteractive, ModeArgument)
	}
}

// ErrAlreadySubmitted is returned when a message is submitted twice.
var ErrAlreadySubmitted = errors.New("message already submitted")

// Action is a side effect the caller performs: wait Delay, then write Input.
type Action struct {
	Delay time.Duration
	Input string
	Note  string
}

// Progress is the per-run handshake state.
type Progress struct {
	State         State
	TrustAnswered bool
}

// Rules hold the markers and scripted responses of a handshake.
type Rules struct {
	Detector      *prompt.Detector
	TrustResponse string        // written to accept the trust prompt
	TrustDelay    time.Duration // wait before answering the trust prompt
	SubmitKey     string        // written after the message text
	TypeDelay     time.Duration // wait between message text and SubmitKey
}

// DefaultRules returns the rules for the default target application.
func DefaultRules() Rules {
	return Rules{
		Detector:      prompt.NewDetector(),
		TrustResponse: "\r",
		TrustDelay:    200 * time.Millisecond,
		SubmitKey:     "\r",
		TypeDelay:     200 * time.Millisecond,
	}
}

// Transition consumes a window of output and returns the next progress and
// the actions to perform. It has no side effects.
//
// The trust prompt is answered at most once. Ready markers that share a
// window with the trust prompt belong to the trust dialog itself and are
// ignored; the ready marker has to show up after the dialog is dismissed.
func (r Rules) Transition(p Progress, text string) (Progress, []Action) {
	if p.State >= ReadyForInput || text == "" {
		return p, nil
	}

	next := p
	var actions []Action

	trust := r.Detector.Detect(text, prompt.KindTrust)
	if trust != nil {
		if !next.TrustAnswered {
			next.TrustAnswered = true
			if next.State < AwaitingTrustPrompt {
				next.State = AwaitingTrustPrompt
			}
			actions = append(actions, Action{
				Delay: r.TrustDelay,
				Input: r.TrustResponse,
				Note:  "answer " + trust.Pattern.Name,
			})
		}
		return next, actions
	}

	if r.Detector.Detect(text, prompt.KindReady) != nil {
		next.State = ReadyForInput
		return next, actions
	}

	if next.State == AwaitingTrustPrompt {
		next.State = AwaitingReadyPrompt
	}
	return next, actions
}

// Submission returns the actions that deliver message. In argument mode
// the message was part of the launch command, so nothing is written.
// Submitting is allowed from any state below MessageSubmitted; callers
// that gave up waiting for the ready marker submit anyway.
func (r Rules) Submission(p Progress, message string, mode Mode) (Progress, []Action, error) {
	if p.State >= MessageSubmitted {
		return p, nil, ErrAlreadySubmitted
	}

	next := p
	next.State = MessageSubmitted
	if mode == ModeArgument {
		return next, nil, nil
	}
	return next, []Action{
		{Input: message, Note: "type message"},
		{Delay: r.TypeDelay, Input: r.SubmitKey, Note: "submit message"},
	}, nil
}
