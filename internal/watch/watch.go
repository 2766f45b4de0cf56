// Package watch streams transcript files as the target creates them in a
// project directory. It complements the polling resolver for interactive
// use, where a user wants to see sessions appear live.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/acolita/claude-session-probe/internal/ports"
	"github.com/acolita/claude-session-probe/internal/session"
)

// Event reports a newly seen session file.
type Event struct {
	ID        session.ID
	Path      string
	CreatedAt time.Time
}

// Options configure a Watcher.
type Options struct {
	Dir     string    // project directory; may not exist yet
	Pattern string    // doublestar pattern, default session.DefaultPattern
	Since   time.Time // files born before this are ignored
}

// Watcher delivers an Event for every matching file created in Dir at or
// after Since. Files already present when watching starts are reported
// too if they qualify. Each file is reported once.
type Watcher struct {
	fs      ports.FileSystem
	opts    Options
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	seen     map[string]bool
	watching bool // Dir itself is watched

	events  chan Event
	errors  chan error
	done    chan struct{}
	stopped chan struct{}
}

// New starts watching opts.Dir. When Dir does not exist yet its parent is
// watched until Dir appears; the parent must exist.
func New(fsys ports.FileSystem, opts Options) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, errors.New("watch directory is required")
	}
	if opts.Pattern == "" {
		opts.Pattern = session.DefaultPattern
	}
	if !doublestar.ValidatePattern(opts.Pattern) {
		return nil, fmt.Errorf("invalid session file pattern %q", opts.Pattern)
	}
	opts.Dir = filepath.Clean(opts.Dir)

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:      fsys,
		opts:    opts,
		watcher: fsWatcher,
		seen:    make(map[string]bool),
		events:  make(chan Event, 16),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	var pending []Event
	if _, err := fsys.Stat(opts.Dir); err == nil {
		if err := fsWatcher.Add(opts.Dir); err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("watch %s: %w", opts.Dir, err)
		}
		w.watching = true
		pending = w.scan()
	} else if errors.Is(err, fs.ErrNotExist) {
		parent := filepath.Dir(opts.Dir)
		if err := fsWatcher.Add(parent); err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("watch %s: %w", parent, err)
		}
		slog.Debug("project directory missing, watching parent",
			slog.String("dir", opts.Dir),
			slog.String("parent", parent),
		)
	} else {
		fsWatcher.Close()
		return nil, fmt.Errorf("stat %s: %w", opts.Dir, err)
	}

	go w.run(pending)

	return w, nil
}

// Events returns the channel of new session files. It is closed after Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns watcher failures. Only the first undelivered error is kept.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped
	return err
}

func (w *Watcher) run(pending []Event) {
	defer close(w.stopped)
	defer close(w.events)

	for _, ev := range pending {
		if !w.emit(ev) {
			return
		}
	}

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			for _, ev := range w.handle(event) {
				if !w.emit(ev) {
					return
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("session watcher error", slog.String("error", err.Error()))
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) emit(ev Event) bool {
	select {
	case w.events <- ev:
		return true
	case <-w.done:
		return false
	}
}

func (w *Watcher) handle(event fsnotify.Event) []Event {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return nil
	}
	name := filepath.Clean(event.Name)

	w.mu.Lock()
	watching := w.watching
	w.mu.Unlock()

	if !watching {
		if name != w.opts.Dir || event.Op&fsnotify.Create == 0 {
			return nil
		}
		if err := w.watcher.Add(w.opts.Dir); err != nil {
			slog.Warn("failed to watch project directory",
				slog.String("dir", w.opts.Dir),
				slog.String("error", err.Error()),
			)
			return nil
		}
		w.mu.Lock()
		w.watching = true
		w.mu.Unlock()
		slog.Debug("project directory appeared", slog.String("dir", w.opts.Dir))
		// Files may have been written before the watch was added.
		return w.scan()
	}

	if filepath.Dir(name) != w.opts.Dir {
		return nil
	}
	if ev, ok := w.consider(name); ok {
		return []Event{ev}
	}
	return nil
}

func (w *Watcher) scan() []Event {
	entries, err := w.fs.ReadDir(w.opts.Dir)
	if err != nil {
		slog.Warn("failed to list project directory",
			slog.String("dir", w.opts.Dir),
			slog.String("error", err.Error()),
		)
		return nil
	}
	var out []Event
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ev, ok := w.consider(filepath.Join(w.opts.Dir, e.Name())); ok {
			out = append(out, ev)
		}
	}
	return out
}

// consider reports whether path is a qualifying session file not seen yet.
func (w *Watcher) consider(path string) (Event, bool) {
	base := filepath.Base(path)
	if ok, err := doublestar.Match(w.opts.Pattern, base); err != nil || !ok {
		return Event{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[base] {
		return Event{}, false
	}

	born, err := w.fs.BirthTime(path)
	if err != nil {
		// Removed again or not readable yet; a later event retries.
		return Event{}, false
	}
	if born.Before(w.opts.Since) {
		w.seen[base] = true
		return Event{}, false
	}
	id, err := session.ParseID(session.Stem(base))
	if err != nil {
		w.seen[base] = true
		slog.Warn("ignoring session file with invalid identifier",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return Event{}, false
	}
	w.seen[base] = true
	return Event{ID: id, Path: path, CreatedAt: born}, true
}
