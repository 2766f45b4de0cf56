package transcript

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/acolita/claude-session-probe/internal/poll"
	"github.com/acolita/claude-session-probe/internal/ports"
)

// maxSeen bounds the payloads kept for a mismatch report.
const maxSeen = 20

// Options configure a Verifier.
type Options struct {
	Match  MatchMode
	Kind   string // record type to inspect, KindUser when empty
	Policy poll.Policy
}

// Verification is the outcome of a successful Verify.
type Verification struct {
	Path      string
	Record    Record
	Text      string // the payload that matched
	Attempts  int
	Records   int // records parsed on the successful attempt
	Malformed int // unusable lines on the successful attempt
}

// MismatchError means the expected message never appeared in the
// transcript within the attempt bound.
type MismatchError struct {
	Path        string
	Expected    string
	Mode        MatchMode
	Attempts    int
	Missing     bool     // the file never existed
	UserRecords int      // records of the inspected kind on the last attempt
	Seen        []string // their payloads, bounded
	Malformed   int
	Err         *poll.ExhaustedError
}

func (e *MismatchError) Error() string {
	if e.Missing {
		return fmt.Sprintf("transcript %s not found after %d attempts", e.Path, e.Attempts)
	}
	msg := fmt.Sprintf("transcript %s has no record matching %q (%s) after %d attempts: %d candidate record(s)",
		e.Path, e.Expected, e.Mode, e.Attempts, e.UserRecords)
	if len(e.Seen) > 0 {
		msg += fmt.Sprintf(", seen %q", strings.Join(e.Seen, " | "))
	}
	if e.Malformed > 0 {
		msg += fmt.Sprintf(", %d malformed line(s)", e.Malformed)
	}
	return msg
}

func (e *MismatchError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// Verifier polls a transcript until it contains an expected message.
type Verifier struct {
	fs    ports.FileSystem
	clock ports.Clock
	opts  Options
}

// NewVerifier validates opts and returns a verifier.
func NewVerifier(fsys ports.FileSystem, clock ports.Clock, opts Options) (*Verifier, error) {
	mode, err := ParseMatchMode(string(opts.Match))
	if err != nil {
		return nil, err
	}
	opts.Match = mode
	if opts.Kind == "" {
		opts.Kind = KindUser
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("verifier policy: %w", err)
	}
	return &Verifier{fs: fsys, clock: clock, opts: opts}, nil
}

var (
	errNotWritten = errors.New("transcript not written yet")
	errNoMatch    = errors.New("expected message not persisted yet")
)

type observation struct {
	missing   bool
	matching  int // records of the inspected kind
	candidate []string
	records   int
	malformed int
}

// Verify rereads path on every attempt until a record of the configured
// kind carries expected. A missing file and a partial write are both
// treated as "not yet".
func (v *Verifier) Verify(ctx context.Context, path, expected string) (*Verification, error) {
	slog.Debug("verifying transcript",
		slog.String("path", path),
		slog.String("mode", string(v.opts.Match)),
	)

	var last observation
	result, attempts, err := poll.Until(ctx, v.clock, v.opts.Policy, func(ctx context.Context, attempt int) (*Verification, bool, error) {
		data, err := v.fs.ReadFile(path)
		if err != nil {
			last = observation{missing: errors.Is(err, fs.ErrNotExist)}
			if last.missing {
				return nil, false, errNotWritten
			}
			return nil, false, fmt.Errorf("read transcript: %w", err)
		}

		records, parseErrs := Parse(data)
		for _, pe := range parseErrs {
			slog.Debug("skipping transcript line", slog.String("path", path), slog.String("error", pe.Error()))
		}

		obs := observation{records: len(records), malformed: len(parseErrs)}
		for _, rec := range records {
			if rec.Kind == v.opts.Kind {
				obs.matching++
				obs.candidate = append(obs.candidate, rec.Texts()...)
			}
		}
		last = obs

		rec, text, ok := Find(records, v.opts.Kind, expected, v.opts.Match)
		if !ok {
			slog.Debug("transcript poll",
				slog.Int("attempt", attempt),
				slog.Int("records", len(records)),
				slog.Int("malformed", len(parseErrs)),
			)
			return nil, false, errNoMatch
		}
		return &Verification{
			Path:      path,
			Record:    rec,
			Text:      text,
			Records:   len(records),
			Malformed: len(parseErrs),
		}, true, nil
	})
	if err != nil {
		var exhausted *poll.ExhaustedError
		if errors.As(err, &exhausted) {
			seen := last.candidate
			if len(seen) > maxSeen {
				seen = seen[len(seen)-maxSeen:]
			}
			return nil, &MismatchError{
				Path:        path,
				Expected:    expected,
				Mode:        v.opts.Match,
				Attempts:    exhausted.Attempts,
				Missing:     last.missing,
				UserRecords: last.matching,
				Seen:        seen,
				Malformed:   last.malformed,
				Err:         exhausted,
			}
		}
		return nil, err
	}

	result.Attempts = attempts
	slog.Info("transcript verified",
		slog.String("path", path),
		slog.Int("line", result.Record.Line),
		slog.Int("attempts", attempts),
	)
	return result, nil
}
