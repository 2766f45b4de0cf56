package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/acolita/claude-session-probe/internal/adapters/realfs"
)

const (
	idA = "0b6a3c52-9f1e-4b7a-8f0d-2c5e7d9a1b34"
	idB = "7c1d2e3f-4a5b-4c6d-8e7f-9a0b1c2d3e4f"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(`{"type":"user"}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func next(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case err := <-w.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func expectNone(t *testing.T, w *Watcher, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(wait):
	}
}

func TestWatchReportsNewFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(realfs.New(), Options{Dir: dir, Since: time.Now().Add(-time.Second)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	writeFile(t, filepath.Join(dir, idA+".jsonl"))

	ev := next(t, w)
	if ev.ID.String() != idA {
		t.Errorf("ID = %s, want %s", ev.ID, idA)
	}
	if ev.Path != filepath.Join(dir, idA+".jsonl") {
		t.Errorf("Path = %s", ev.Path)
	}

	// Appends to the same file are not reported again.
	f, err := os.OpenFile(ev.Path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"type":"assistant"}` + "\n")
	f.Close()
	expectNone(t, w, 200*time.Millisecond)
}

func TestWatchReportsExistingFreshFiles(t *testing.T) {
	dir := t.TempDir()
	since := time.Now().Add(-time.Minute)
	writeFile(t, filepath.Join(dir, idA+".jsonl"))

	w, err := New(realfs.New(), Options{Dir: dir, Since: since})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if ev := next(t, w); ev.ID.String() != idA {
		t.Errorf("ID = %s, want %s", ev.ID, idA)
	}
}

func TestWatchIgnoresStaleAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, idA+".jsonl"))
	time.Sleep(50 * time.Millisecond)
	since := time.Now()
	time.Sleep(50 * time.Millisecond)

	w, err := New(realfs.New(), Options{Dir: dir, Since: since})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	writeFile(t, filepath.Join(dir, "notes.txt"))
	writeFile(t, filepath.Join(dir, "not-a-uuid.jsonl"))
	writeFile(t, filepath.Join(dir, idB+".jsonl"))

	if ev := next(t, w); ev.ID.String() != idB {
		t.Errorf("ID = %s, want %s", ev.ID, idB)
	}
	expectNone(t, w, 200*time.Millisecond)
}

func TestWatchDirectoryCreatedLater(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "-tmp-claude-test-session")

	w, err := New(realfs.New(), Options{Dir: dir, Since: time.Now().Add(-time.Second)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, idA+".jsonl"))

	if ev := next(t, w); ev.ID.String() != idA {
		t.Errorf("ID = %s, want %s", ev.ID, idA)
	}
}

func TestNewValidation(t *testing.T) {
	fsys := realfs.New()
	tests := []struct {
		name string
		opts Options
	}{
		{"empty dir", Options{}},
		{"bad pattern", Options{Dir: t.TempDir(), Pattern: "[a-"}},
		{"missing parent", Options{Dir: filepath.Join(t.TempDir(), "a", "b")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w, err := New(fsys, tt.opts); err == nil {
				w.Close()
				t.Error("expected error")
			}
		})
	}
}

func TestCloseClosesEvents(t *testing.T) {
	w, err := New(realfs.New(), Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("events channel still open")
	}
}
