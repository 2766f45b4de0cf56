// Package fakefs provides an in-memory FileSystem implementation for testing.
package fakefs

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/acolita/claude-session-probe/internal/ports"
)

// FS is an in-memory filesystem for testing.
type FS struct {
	mu       sync.RWMutex
	files    map[string]*fakeFile
	dirs     map[string]bool
	homeDir  string
	env      map[string]string
	clock    ports.Clock
	reads    map[string]int
	readHook func(name string, count int)
}

type fakeFile struct {
	data    []byte
	mode    fs.FileMode
	born    time.Time
	modTime time.Time
}

// New creates a new in-memory filesystem.
func New() *FS {
	return &FS{
		files:   make(map[string]*fakeFile),
		dirs:    map[string]bool{"/": true},
		homeDir: "/home/test",
		env:     make(map[string]string),
		reads:   make(map[string]int),
	}
}

// SetClock makes the filesystem stamp new files with the clock's time
// instead of the wall clock.
func (f *FS) SetClock(c ports.Clock) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = c
}

// SetReadHook installs a callback invoked before every ReadFile and
// ReadDir with the path and how many times it has been read so far
// (starting at 1). The hook runs without the lock held, so it may
// mutate the filesystem to simulate a concurrent writer.
func (f *FS) SetReadHook(hook func(name string, count int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readHook = hook
}

func (f *FS) now() time.Time {
	if f.clock != nil {
		return f.clock.Now()
	}
	return time.Now()
}

func (f *FS) noteRead(name string) {
	f.mu.Lock()
	f.reads[name]++
	count := f.reads[name]
	hook := f.readHook
	f.mu.Unlock()

	if hook != nil {
		hook(name, count)
	}
}

// ReadFile reads the named file and returns its contents.
func (f *FS) ReadFile(name string) ([]byte, error) {
	name = filepath.Clean(name)
	f.noteRead(name)

	f.mu.RLock()
	defer f.mu.RUnlock()

	file, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	// Return a copy to prevent mutation
	data := make([]byte, len(file.data))
	copy(data, file.data)
	return data, nil
}

// WriteFile writes data to the named file, creating it if necessary.
// Parent directories are automatically created (like os.WriteFile with MkdirAll).
func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	f.mkdirAllLocked(filepath.Dir(name))

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	now := f.now()
	if existing, ok := f.files[name]; ok {
		existing.data = dataCopy
		existing.mode = perm
		existing.modTime = now
		return nil
	}
	f.files[name] = &fakeFile{data: dataCopy, mode: perm, born: now, modTime: now}
	return nil
}

// OpenFile opens the named file for writing. O_EXCL fails on existing
// files, O_TRUNC clears them, anything else appends.
func (f *FS) OpenFile(name string, flag int, perm fs.FileMode) (ports.FileHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	file, exists := f.files[name]
	switch {
	case exists && flag&os.O_EXCL != 0 && flag&os.O_CREATE != 0:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	case !exists && flag&os.O_CREATE == 0:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	case !exists:
		if !f.dirs[filepath.Dir(name)] {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		now := f.now()
		file = &fakeFile{mode: perm, born: now, modTime: now}
		f.files[name] = file
	case flag&os.O_TRUNC != 0:
		file.data = nil
	}
	return &handle{fs: f, name: name}, nil
}

// ReadDir lists the named directory sorted by file name.
func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	name = filepath.Clean(name)
	f.noteRead(name)

	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.dirs[name] {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	seen := make(map[string]fs.DirEntry)
	for path, file := range f.files {
		if filepath.Dir(path) == name {
			base := filepath.Base(path)
			seen[base] = fs.FileInfoToDirEntry(&fakeFileInfo{
				name:    base,
				size:    int64(len(file.data)),
				mode:    file.mode,
				modTime: file.modTime,
			})
		}
	}
	for dir := range f.dirs {
		if dir != name && filepath.Dir(dir) == name {
			base := filepath.Base(dir)
			seen[base] = fs.FileInfoToDirEntry(&fakeFileInfo{
				name:  base,
				mode:  fs.ModeDir | 0755,
				isDir: true,
			})
		}
	}

	entries := make([]fs.DirEntry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// mkdirAllLocked creates directories (must be called with lock held).
func (f *FS) mkdirAllLocked(path string) {
	path = filepath.Clean(path)
	parts := strings.Split(path, string(filepath.Separator))

	current := ""
	for _, part := range parts {
		if part == "" {
			current = "/"
			continue
		}
		if current == "/" {
			current = "/" + part
		} else {
			current = current + "/" + part
		}
		f.dirs[current] = true
	}
}

// Stat returns file info for the named file.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = filepath.Clean(name)

	if f.dirs[name] {
		return &fakeFileInfo{
			name:  filepath.Base(name),
			mode:  fs.ModeDir | 0755,
			isDir: true,
		}, nil
	}

	file, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}

	return &fakeFileInfo{
		name:    filepath.Base(name),
		size:    int64(len(file.data)),
		mode:    file.mode,
		modTime: file.modTime,
	}, nil
}

// BirthTime returns the creation time recorded for the named file.
func (f *FS) BirthTime(name string) (time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = filepath.Clean(name)
	file, ok := f.files[name]
	if !ok {
		return time.Time{}, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return file.born, nil
}

// MkdirAll creates a directory and all parent directories.
func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mkdirAllLocked(path)
	return nil
}

// EvalSymlinks cleans path. The fake has no links; missing paths fail.
func (f *FS) EvalSymlinks(path string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	path = filepath.Clean(path)
	if _, ok := f.files[path]; ok || f.dirs[path] {
		return path, nil
	}
	return "", &fs.PathError{Op: "lstat", Path: path, Err: fs.ErrNotExist}
}

// UserHomeDir returns the configured home directory.
func (f *FS) UserHomeDir() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.homeDir, nil
}

// Getenv retrieves the value of the environment variable.
func (f *FS) Getenv(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env[key]
}

// --- Test helpers ---

// AddFile adds a file to the fake filesystem, born now.
func (f *FS) AddFile(name string, data []byte, mode fs.FileMode) {
	f.mu.Lock()
	born := f.now()
	f.mu.Unlock()
	f.AddFileAt(name, data, born)
	f.mu.Lock()
	f.files[filepath.Clean(name)].mode = mode
	f.mu.Unlock()
}

// AddFileAt adds a file with an explicit creation time.
func (f *FS) AddFileAt(name string, data []byte, born time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	f.mkdirAllLocked(filepath.Dir(name))

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	f.files[name] = &fakeFile{
		data:    dataCopy,
		mode:    0644,
		born:    born,
		modTime: born,
	}
}

// AppendFile appends data to an existing file, creating it when missing.
func (f *FS) AppendFile(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	file, ok := f.files[name]
	if !ok {
		f.mkdirAllLocked(filepath.Dir(name))
		now := f.now()
		file = &fakeFile{mode: 0644, born: now}
		f.files[name] = file
	}
	file.data = append(file.data, data...)
	file.modTime = f.now()
}

// SetHomeDir sets the home directory returned by UserHomeDir.
func (f *FS) SetHomeDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homeDir = dir
}

// SetEnv sets an environment variable.
func (f *FS) SetEnv(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[key] = value
}

// Reads returns how many times the path has been read via ReadFile or ReadDir.
func (f *FS) Reads(name string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.reads[filepath.Clean(name)]
}

// Files returns a sorted list of all file paths.
func (f *FS) Files() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	paths := make([]string, 0, len(f.files))
	for path := range f.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// handle appends writes to the in-memory file.
type handle struct {
	fs     *FS
	name   string
	closed bool
}

func (h *handle) Write(p []byte) (int, error) {
	if h.closed {
		return 0, fs.ErrClosed
	}
	h.fs.AppendFile(h.name, p)
	return len(p), nil
}

func (h *handle) Close() error {
	if h.closed {
		return fs.ErrClosed
	}
	h.closed = true
	return nil
}

func (h *handle) Name() string { return h.name }

// fakeFileInfo implements fs.FileInfo.
type fakeFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *fakeFileInfo) Name() string       { return fi.name }
func (fi *fakeFileInfo) Size() int64        { return fi.size }
func (fi *fakeFileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *fakeFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fakeFileInfo) IsDir() bool        { return fi.isDir }
func (fi *fakeFileInfo) Sys() any           { return nil }

// Ensure FS implements ports.FileSystem.
var _ ports.FileSystem = (*FS)(nil)

// Ensure fakeFileInfo implements fs.FileInfo.
var _ os.FileInfo = (*fakeFileInfo)(nil)
