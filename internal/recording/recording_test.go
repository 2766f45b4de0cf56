package recording

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/acolita/claude-session-probe/internal/adapters/realclock"
	"github.com/acolita/claude-session-probe/internal/adapters/realfs"
	"github.com/acolita/claude-session-probe/internal/testing/fakes/fakeclock"
	"github.com/acolita/claude-session-probe/internal/testing/fakes/fakefs"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type castLine struct {
	Time float64
	Type string
	Data string
}

func parseCast(t *testing.T, data []byte) (Header, []castLine) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 {
		t.Fatal("recording is empty")
	}

	var header Header
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}

	var events []castLine
	for _, line := range lines[1:] {
		var raw []interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			t.Fatalf("unmarshal event %q: %v", line, err)
		}
		if len(raw) != 3 {
			t.Fatalf("event %q has %d fields", line, len(raw))
		}
		events = append(events, castLine{
			Time: raw[0].(float64),
			Type: raw[1].(string),
			Data: raw[2].(string),
		})
	}
	return header, events
}

func TestEventMarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		expected string
	}{
		{"output event", Event{Time: 1.5, Type: "o", Data: "hello"}, `[1.5,"o","hello"]`},
		{"input event", Event{Time: 0, Type: "i", Data: "hi\r"}, `[0,"i","hi\r"]`},
		{"escape sequences", Event{Time: 2, Type: "o", Data: "\x1b[1m> \x1b[0m"}, `[2,"o","\u001b[1m> \u001b[0m"]`},
		{"marker", Event{Time: 0.25, Type: "m", Data: "ready"}, `[0.25,"m","ready"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.event.MarshalJSON()
			if err != nil {
				t.Fatalf("MarshalJSON() error = %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("MarshalJSON() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestHeaderOmitEmpty(t *testing.T) {
	data, err := json.Marshal(Header{Version: 2, Width: 80, Height: 30, Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"title", "env", "command"} {
		if strings.Contains(string(data), key) {
			t.Errorf("empty %s not omitted: %s", key, data)
		}
	}
}

func TestRecorderWritesCast(t *testing.T) {
	fsys := fakefs.New()
	clock := fakeclock.New(epoch)

	r, err := NewRecorder(fsys, clock, Options{
		Dir:     "/rec",
		Name:    "claude-test-session",
		Width:   80,
		Height:  30,
		Term:    "xterm-color",
		Command: []string{"claude", "--dangerously-skip-permissions"},
		Title:   "hello from session detection test",
	})
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	if want := "/rec/claude-test-session_20260301_100000.000.cast"; r.Path() != want {
		t.Errorf("Path() = %s, want %s", r.Path(), want)
	}

	_ = r.RecordOutput("Do you trust the files in this folder?")
	clock.Advance(200 * time.Millisecond)
	_ = r.RecordInput("\r")
	clock.Advance(1300 * time.Millisecond)
	_ = r.Mark("ready")
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if r.Events() != 3 {
		t.Errorf("Events() = %d, want 3", r.Events())
	}

	data, err := fsys.ReadFile(r.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	header, events := parseCast(t, data)

	if header.Version != 2 || header.Width != 80 || header.Height != 30 {
		t.Errorf("header = %+v", header)
	}
	if header.Timestamp != epoch.Unix() {
		t.Errorf("Timestamp = %d, want %d", header.Timestamp, epoch.Unix())
	}
	if header.Command != "claude --dangerously-skip-permissions" {
		t.Errorf("Command = %q", header.Command)
	}
	if header.Env["TERM"] != "xterm-color" {
		t.Errorf("Env[TERM] = %q", header.Env["TERM"])
	}

	want := []castLine{
		{0, "o", "Do you trust the files in this folder?"},
		{0.2, "i", "\r"},
		{1.5, "m", "ready"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestRecorderKeepsPromptGlyphsLiteral(t *testing.T) {
	fsys := fakefs.New()
	r, err := NewRecorder(fsys, fakeclock.New(epoch), Options{Dir: "/rec", Title: "a <b> & c"})
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	_ = r.RecordOutput("\x1b[1m> \x1b[0m")
	r.Close()

	data, err := fsys.ReadFile(r.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	cast := string(data)
	for _, want := range []string{`"a <b> & c"`, `"\u001b[1m> \u001b[0m"`} {
		if !strings.Contains(cast, want) {
			t.Errorf("cast missing %s:\n%s", want, cast)
		}
	}
	if strings.Contains(cast, `\u003e`) || strings.Contains(cast, `\u0026`) {
		t.Errorf("cast HTML-escaped:\n%s", cast)
	}
	if lines := strings.Split(strings.TrimSuffix(cast, "\n"), "\n"); len(lines) != 2 {
		t.Errorf("got %d lines, want header and one event", len(lines))
	}
}

func TestRecorderDropsEventsAfterClose(t *testing.T) {
	fsys := fakefs.New()
	r, err := NewRecorder(fsys, fakeclock.New(epoch), Options{Dir: "/rec", Width: 80, Height: 30})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := r.RecordOutput("late"); err != nil {
		t.Errorf("RecordOutput() after close error = %v", err)
	}
	if r.Events() != 0 {
		t.Errorf("Events() = %d, want 0", r.Events())
	}
	if !strings.HasPrefix(filepath.Base(r.Path()), "probe_") {
		t.Errorf("default name not used: %s", r.Path())
	}
}

func TestRecorderRefusesToOverwrite(t *testing.T) {
	fsys := fakefs.New()
	clock := fakeclock.New(epoch)
	opts := Options{Dir: "/rec", Name: "run", Width: 80, Height: 30}

	first, err := NewRecorder(fsys, clock, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	_, err = NewRecorder(fsys, clock, opts)
	if !errors.Is(err, fs.ErrExist) {
		t.Errorf("NewRecorder() error = %v, want fs.ErrExist", err)
	}
}

func TestRecorderRealFilesystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "recordings")

	r, err := NewRecorder(realfs.New(), realclock.New(), Options{Dir: dir, Name: "real", Width: 100, Height: 40})
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	if err := r.RecordOutput("first"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := r.RecordOutput("second"); err != nil {
		t.Fatal(err)
	}
	r.Close()

	info, err := os.Stat(r.Path())
	if err != nil {
		t.Fatalf("recording not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	data, err := os.ReadFile(r.Path())
	if err != nil {
		t.Fatal(err)
	}
	header, events := parseCast(t, data)
	if header.Width != 100 || header.Height != 40 {
		t.Errorf("header = %+v", header)
	}
	if len(events) != 2 || events[1].Time <= events[0].Time {
		t.Errorf("events = %+v, want increasing timestamps", events)
	}
}

func TestRecorderInvalidDir(t *testing.T) {
	_, err := NewRecorder(realfs.New(), realclock.New(), Options{Dir: "/dev/null/recordings"})
	if err == nil {
		t.Fatal("expected error for invalid directory")
	}
}
