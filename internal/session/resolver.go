// Package session locates the transcript file the target created for a
// run. Discovery is eventually consistent: the directory is polled until a
// file created at or after the run's baseline appears.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/acolita/claude-session-probe/internal/poll"
	"github.com/acolita/claude-session-probe/internal/ports"
)

// Defaults for the target's persistence layout.
const (
	DefaultPattern     = "*.jsonl"
	DefaultReplacement = "-"

	// DefaultBirthTolerance covers filesystems that stamp birth times from a
	// coarse clock (ext4 ticks every jiffy), which can place a file created
	// just after the baseline a few milliseconds before it.
	DefaultBirthTolerance = 10 * time.Millisecond
)

// Candidate is a transcript file seen in the project directory.
type Candidate struct {
	Name      string
	Path      string
	CreatedAt time.Time
}

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	ID        ID
	Path      string
	Dir       string
	CreatedAt time.Time
	Attempts  int
	// Fresh lists every candidate created at or after the baseline, newest first.
	Fresh []Candidate
}

// Options configure a Resolver.
type Options struct {
	Root        string // projects root, e.g. ~/.claude/projects
	Pattern     string // doublestar pattern for transcript names
	Replacement string // replaces path separators when mangling the workdir
	Policy      poll.Policy
	// BirthTolerance is how far before the baseline a birth time may fall and
	// still count. Zero means DefaultBirthTolerance; negative means none.
	BirthTolerance time.Duration
}

// DefaultRoot returns ~/.claude/projects for the current user.
func DefaultRoot(fsys ports.FileSystem) (string, error) {
	home, err := fsys.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// Resolver finds the session file belonging to a run.
type Resolver struct {
	fs    ports.FileSystem
	clock ports.Clock
	opts  Options
}

// NewResolver validates opts and returns a resolver. An empty Root is
// replaced with DefaultRoot; empty Pattern and Replacement get defaults.
func NewResolver(fsys ports.FileSystem, clock ports.Clock, opts Options) (*Resolver, error) {
	if opts.Root == "" {
		root, err := DefaultRoot(fsys)
		if err != nil {
			return nil, err
		}
		opts.Root = root
	}
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if opts.Replacement == "" {
		opts.Replacement = DefaultReplacement
	}
	switch {
	case opts.BirthTolerance == 0:
		opts.BirthTolerance = DefaultBirthTolerance
	case opts.BirthTolerance < 0:
		opts.BirthTolerance = 0
	}
	if !doublestar.ValidatePattern(opts.Pattern) {
		return nil, fmt.Errorf("invalid session file pattern %q", opts.Pattern)
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("resolver policy: %w", err)
	}
	return &Resolver{fs: fsys, clock: clock, opts: opts}, nil
}

// Dir returns the project directory for workdir.
func (r *Resolver) Dir(workdir string) (string, error) {
	return ProjectDir(r.opts.Root, workdir, r.opts.Replacement)
}

// List returns every matching file in the project directory of workdir,
// newest first. A missing directory yields an empty list.
func (r *Resolver) List(workdir string) ([]Candidate, error) {
	dir, err := r.Dir(workdir)
	if err != nil {
		return nil, err
	}
	_, candidates, err := r.scan(dir)
	if errors.Is(err, errDirMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sortNewestFirst(candidates)
	return candidates, nil
}

var (
	errDirMissing = errors.New("project directory does not exist yet")
	errNoFresh    = errors.New("no session file created since baseline yet")
)

type snapshot struct {
	listing []string
	fresh   []Candidate
	stale   []Candidate
}

// Resolve polls the project directory of workdir until a matching file
// created at or after baseline exists and returns the newest one. Files
// born before baseline, less the birth tolerance, never qualify.
func (r *Resolver) Resolve(ctx context.Context, workdir string, baseline time.Time) (*Resolution, error) {
	dir, err := r.Dir(workdir)
	if err != nil {
		return nil, err
	}

	slog.Debug("resolving session file",
		slog.String("dir", dir),
		slog.String("pattern", r.opts.Pattern),
		slog.Time("baseline", baseline),
	)

	cutoff := baseline.Add(-r.opts.BirthTolerance)
	var last snapshot
	snap, attempts, err := poll.Until(ctx, r.clock, r.opts.Policy, func(ctx context.Context, attempt int) (snapshot, bool, error) {
		listing, candidates, err := r.scan(dir)
		if err != nil {
			last = snapshot{}
			return snapshot{}, false, err
		}
		s := snapshot{listing: listing}
		for _, c := range candidates {
			if c.CreatedAt.Before(cutoff) {
				s.stale = append(s.stale, c)
			} else {
				s.fresh = append(s.fresh, c)
			}
		}
		last = s
		slog.Debug("session poll",
			slog.Int("attempt", attempt),
			slog.Int("entries", len(listing)),
			slog.Int("fresh", len(s.fresh)),
			slog.Int("stale", len(s.stale)),
		)
		if len(s.fresh) == 0 {
			return s, false, errNoFresh
		}
		return s, true, nil
	})
	if err != nil {
		var exhausted *poll.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, &NotFoundError{
				Dir:      dir,
				Baseline: baseline,
				Attempts: exhausted.Attempts,
				Listing:  last.listing,
				Stale:    last.stale,
				Err:      exhausted,
			}
		}
		return nil, err
	}

	sortNewestFirst(snap.fresh)
	chosen := snap.fresh[0]
	if len(snap.fresh) > 1 {
		slog.Warn("several session files created since baseline, choosing newest",
			slog.String("dir", dir),
			slog.Int("count", len(snap.fresh)),
			slog.String("chosen", chosen.Name),
		)
	}

	id, err := ParseID(Stem(chosen.Name))
	if err != nil {
		return nil, &ProtocolError{Dir: dir, Name: chosen.Name, Err: err}
	}

	slog.Info("session file resolved",
		slog.String("session_id", id.String()),
		slog.String("path", chosen.Path),
		slog.Int("attempts", attempts),
	)
	return &Resolution{
		ID:        id,
		Path:      chosen.Path,
		Dir:       dir,
		CreatedAt: chosen.CreatedAt,
		Attempts:  attempts,
		Fresh:     snap.fresh,
	}, nil
}

// scan lists dir and stats every entry matching the pattern. Entries that
// disappear between listing and stat are skipped.
func (r *Resolver) scan(dir string) ([]string, []Candidate, error) {
	entries, err := r.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, errDirMissing
		}
		return nil, nil, fmt.Errorf("list %s: %w", dir, err)
	}

	listing := make([]string, 0, len(entries))
	var candidates []Candidate
	for _, e := range entries {
		listing = append(listing, e.Name())
		if e.IsDir() {
			continue
		}
		ok, err := doublestar.Match(r.opts.Pattern, e.Name())
		if err != nil || !ok {
			continue
		}
		path := filepath.Join(dir, e.Name())
		born, err := r.fs.BirthTime(path)
		if err != nil {
			slog.Debug("skipping unreadable candidate", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		candidates = append(candidates, Candidate{Name: e.Name(), Path: path, CreatedAt: born})
	}
	return listing, candidates, nil
}

func sortNewestFirst(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if !c[i].CreatedAt.Equal(c[j].CreatedAt) {
			return c[i].CreatedAt.After(c[j].CreatedAt)
		}
		return c[i].Name < c[j].Name
	})
}
