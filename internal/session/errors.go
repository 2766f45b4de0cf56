package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/acolita/claude-session-probe/internal/poll"
)

// ProtocolError means the target wrote a file that breaks the naming
// contract. It is not retried.
type ProtocolError struct {
	Dir  string
	Name string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("session file %s in %s: %v", e.Name, e.Dir, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NotFoundError means no session file created after the baseline showed up
// within the attempt bound.
type NotFoundError struct {
	Dir      string
	Baseline time.Time
	Attempts int
	Listing  []string    // every name seen on the last attempt
	Stale    []Candidate // matching files created before the baseline
	Err      *poll.ExhaustedError
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no session file created since %s in %s after %d attempts",
		e.Baseline.Format(time.RFC3339Nano), e.Dir, e.Attempts)
	if len(e.Listing) == 0 {
		b.WriteString(" (directory empty or missing)")
	} else {
		fmt.Fprintf(&b, " (saw %s)", strings.Join(e.Listing, ", "))
	}
	if len(e.Stale) > 0 {
		fmt.Fprintf(&b, "; %d stale candidate(s)", len(e.Stale))
	}
	return b.String()
}

func (e *NotFoundError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}
