package config

import (
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives a reloaded configuration and the top-level sections
// that differ from the previous one. The config is a copy the callee may
// adjust without affecting later comparisons.
type ReloadFunc func(cfg *Config, changed []string)

// Watcher keeps the harness configuration in sync with its file. Edits that
// fail to parse or validate are logged and the previous configuration stays
// in effect. Rewrites that change nothing are not reported.
type Watcher struct {
	path     string
	onReload ReloadFunc

	mu      sync.RWMutex
	current *Config

	fsw     *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}
}

// NewWatcher loads and validates path, then watches its directory so that
// editors which replace the file on save are seen too.
func NewWatcher(path string, onReload ReloadFunc) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		onReload: onReload,
		current:  cfg,
		fsw:      fsw,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	name := filepath.Base(w.path)

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.reload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		slog.Error("config reload rejected, keeping previous",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}

	w.mu.Lock()
	changed := Changes(w.current, next)
	if len(changed) > 0 {
		w.current = next
	}
	w.mu.Unlock()

	if len(changed) == 0 {
		slog.Debug("config rewritten without changes", slog.String("path", w.path))
		return
	}
	slog.Info("config reloaded",
		slog.String("path", w.path),
		slog.String("changed", strings.Join(changed, ",")),
	)

	if w.onReload != nil {
		cp := *next
		w.onReload(&cp, changed)
	}
}

// Close stops watching and waits for the watch loop to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	<-w.stopped
	return err
}

// Changes returns the YAML names of the top-level sections that differ
// between old and next, in declaration order.
func Changes(old, next *Config) []string {
	if old == nil || next == nil {
		if old == next {
			return nil
		}
		return []string{"*"}
	}
	ov := reflect.ValueOf(*old)
	nv := reflect.ValueOf(*next)
	t := ov.Type()

	var changed []string
	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			continue
		}
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name == "" {
			name = strings.ToLower(t.Field(i).Name)
		}
		changed = append(changed, name)
	}
	return changed
}
