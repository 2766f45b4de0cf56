package realfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBirthTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")

	before := time.Now().Add(-time.Second)
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	after := time.Now().Add(time.Second)

	born, err := New().BirthTime(path)
	if err != nil {
		t.Fatalf("BirthTime() error = %v", err)
	}
	if born.Before(before) || born.After(after) {
		t.Errorf("BirthTime() = %v, want between %v and %v", born, before, after)
	}
}

func TestBirthTimeMissing(t *testing.T) {
	_, err := New().BirthTime(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("BirthTime() error = %v, want fs.ErrNotExist", err)
	}
}

func TestEvalSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	fsys := New()
	got, err := fsys.EvalSymlinks(link)
	if err != nil {
		t.Fatalf("EvalSymlinks() error = %v", err)
	}
	want, err := fsys.EvalSymlinks(target)
	if err != nil {
		t.Fatalf("EvalSymlinks(target) error = %v", err)
	}
	if got != want {
		t.Errorf("EvalSymlinks(link) = %q, want %q", got, want)
	}
}

func TestReadDirAndOpenFile(t *testing.T) {
	dir := t.TempDir()
	fsys := New()

	if err := fsys.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	h, err := fsys.OpenFile(filepath.Join(dir, "rec.cast"), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if _, err := h.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	h.Close()

	// O_EXCL refuses to reuse a name.
	if _, err := fsys.OpenFile(filepath.Join(dir, "rec.cast"), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600); !errors.Is(err, fs.ErrExist) {
		t.Errorf("second OpenFile() error = %v, want fs.ErrExist", err)
	}

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Name() != "rec.cast" || entries[1].Name() != "sub" {
		t.Errorf("ReadDir() = %v", entries)
	}
}
