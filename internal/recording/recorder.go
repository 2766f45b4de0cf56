// Package recording captures the terminal traffic of a probe run in
// asciicast v2 format so failed handshakes can be replayed.
package recording

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acolita/claude-session-probe/internal/ports"
)

// Recorder records terminal I/O in asciicast v2 format.
// See: https://docs.asciinema.org/manual/asciicast/v2/
type Recorder struct {
	mu        sync.Mutex
	file      ports.FileHandle
	startTime time.Time
	closed    bool
	clock     ports.Clock
	events    int
}

// Header is the asciicast v2 header.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Command   string            `json:"command,omitempty"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event [time, type, data].
type Event struct {
	Time float64 `json:"-"`
	Type string  `json:"-"`
	Data string  `json:"-"`
}

// MarshalJSON implements custom JSON marshaling for Event.
func (e Event) MarshalJSON() ([]byte, error) {
	line, err := encodeLine([]interface{}{e.Time, e.Type, e.Data})
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(line, []byte("\n")), nil
}

// encodeLine encodes v as one newline-terminated JSON line. Prompt glyphs
// such as '>' are kept literal so casts stay readable.
func encodeLine(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Options describe the recorded terminal.
type Options struct {
	Dir     string
	Name    string // file name prefix, e.g. the workdir base name
	Width   int
	Height  int
	Term    string
	Command []string
	Title   string
}

// NewRecorder creates <Dir>/<Name>_<timestamp>.cast and writes the header.
func NewRecorder(fs ports.FileSystem, clock ports.Clock, opts Options) (*Recorder, error) {
	if err := fs.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = "probe"
	}
	start := clock.Now()
	filename := fmt.Sprintf("%s_%s.cast", name, start.Format("20060102_150405.000"))
	fullPath := filepath.Join(opts.Dir, filename)

	file, err := fs.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	r := &Recorder{
		file:      file,
		startTime: start,
		clock:     clock,
	}

	header := Header{
		Version:   2,
		Width:     opts.Width,
		Height:    opts.Height,
		Timestamp: start.Unix(),
		Command:   strings.Join(opts.Command, " "),
		Title:     opts.Title,
	}
	if opts.Term != "" {
		header.Env = map[string]string{"TERM": opts.Term}
	}

	headerJSON, err := encodeLine(header)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("marshal header: %w", err)
	}

	if _, err := file.Write(headerJSON); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return r, nil
}

// RecordOutput records output data (terminal -> harness).
func (r *Recorder) RecordOutput(data string) error {
	return r.record("o", data)
}

// RecordInput records input data (harness -> terminal).
func (r *Recorder) RecordInput(data string) error {
	return r.record("i", data)
}

// Mark records a named marker, shown as a chapter by asciinema players.
func (r *Recorder) Mark(label string) error {
	return r.record("m", label)
}

func (r *Recorder) record(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	event := Event{
		Time: r.clock.Now().Sub(r.startTime).Seconds(),
		Type: eventType,
		Data: data,
	}

	eventJSON, err := encodeLine(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := r.file.Write(eventJSON); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	r.events++
	return nil
}

// Events returns how many events have been written.
func (r *Recorder) Events() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events
}

// Close closes the recording file. Later events are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	return r.file.Close()
}

// Path returns the path to the recording file.
func (r *Recorder) Path() string {
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}
