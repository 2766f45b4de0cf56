package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/acolita/claude-session-probe/internal/config"
	"github.com/acolita/claude-session-probe/internal/ports"
	"github.com/acolita/claude-session-probe/internal/pty"
	"github.com/acolita/claude-session-probe/internal/testing/fakes/fakeclock"
	"github.com/acolita/claude-session-probe/internal/testing/fakes/fakedialog"
	"github.com/acolita/claude-session-probe/internal/testing/fakes/fakefs"
)

const (
	testConfig  = "/home/test/.config/sessionprobe/config.yaml"
	testDir     = "/home/test/.claude/projects/-tmp-claude-test-session"
	testWorkdir = "/tmp/claude-test-session"
	testID      = "5e8a1f2b-3c4d-4e5f-a6b7-c8d9e0f1a2b3"
)

var now = time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

func newTestApp(fsys *fakefs.FS) *App {
	return &App{
		FS:     fsys,
		Clock:  fakeclock.NewAuto(now),
		Dialog: fakedialog.New(),
		Spawn: func(pty.Options) (ports.Process, error) {
			return nil, errors.New("spawn disabled in tests")
		},
		Lock: func(string) (func(), error) { return func() {}, nil },
	}
}

func execute(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(app)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", testConfig, "--log-format", "text"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, newTestApp(fakefs.New()), "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "sessionprobe version "+Version) {
		t.Errorf("output = %q", out)
	}
}

func TestVerify(t *testing.T) {
	fsys := fakefs.New()
	path := testDir + "/" + testID + ".jsonl"
	fsys.AddFile(path, []byte("not json\n"+`{"type":"user","message":{"content":"hello there"}}`+"\n"), 0o600)

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"exact", []string{"verify", path, "hello there"}, "found at line 2 after 1 attempt(s), 1 malformed line(s) skipped", false},
		{"contains", []string{"verify", "--match", "contains", path, "hello"}, "found at line 2", false},
		{"exact mismatch", []string{"verify", path, "hello"}, "", true},
		{"bad match", []string{"verify", "--match", "fuzzy", path, "hello"}, "", true},
		{"missing args", []string{"verify", path}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, newTestApp(fsys), tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output = %q, want to contain %q", out, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	fsys := fakefs.New()
	fsys.AddFileAt(testDir+"/00000000-0000-4000-8000-000000000000.jsonl", nil, now.Add(-time.Hour))
	fsys.AddFileAt(testDir+"/"+testID+".jsonl", nil, now.Add(-time.Minute))

	out, err := execute(t, newTestApp(fsys), "resolve", "--since", "5m", testWorkdir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != testID+"\t"+testDir+"/"+testID+".jsonl\n" {
		t.Errorf("output = %q", out)
	}
}

func TestResolveNotFound(t *testing.T) {
	fsys := fakefs.New()
	fsys.AddFileAt(testDir+"/"+testID+".jsonl", nil, now.Add(-time.Hour))

	_, err := execute(t, newTestApp(fsys), "resolve", testWorkdir)
	if err == nil || !strings.Contains(err.Error(), "stale candidate") {
		t.Errorf("err = %v, want not-found with stale candidate", err)
	}
}

func TestResolveList(t *testing.T) {
	fsys := fakefs.New()
	fsys.AddFileAt(testDir+"/00000000-0000-4000-8000-000000000000.jsonl", nil, now.Add(-time.Hour))
	fsys.AddFileAt(testDir+"/"+testID+".jsonl", nil, now.Add(-time.Minute))

	out, err := execute(t, newTestApp(fsys), "resolve", "--list", testWorkdir)
	if err != nil {
		t.Fatalf("resolve --list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || lines[0] != testDir {
		t.Fatalf("output = %q", out)
	}
	if !strings.HasSuffix(lines[1], testID+".jsonl") {
		t.Errorf("newest first: %q", lines[1])
	}
}

func TestRunSpawnFailure(t *testing.T) {
	out, err := execute(t, newTestApp(fakefs.New()), "run", "--workdir", testWorkdir, "--mode", "argument", "--message", "probe")
	if !errors.Is(err, errFailed) {
		t.Fatalf("err = %v, want errFailed", err)
	}
	if !strings.Contains(out, "args:      probe") {
		t.Errorf("output missing args: %q", out)
	}
	if !strings.Contains(out, "FAIL: spawn target: spawn disabled in tests") {
		t.Errorf("output missing failure: %q", out)
	}
}

func TestRunJSON(t *testing.T) {
	out, err := execute(t, newTestApp(fakefs.New()), "run", "--workdir", testWorkdir, "--json", "--skip-permissions")
	if !errors.Is(err, errFailed) {
		t.Fatalf("err = %v, want errFailed", err)
	}
	for _, want := range []string{`"passed": false`, `"--dangerously-skip-permissions"`, `"workdir": "/tmp/claude-test-session"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}
}

func TestRunInvalidOverride(t *testing.T) {
	_, err := execute(t, newTestApp(fakefs.New()), "run", "--match", "fuzzy")
	if err == nil || errors.Is(err, errFailed) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestInit(t *testing.T) {
	fsys := fakefs.New()
	app := newTestApp(fsys)
	dialog := fakedialog.New()
	dialog.Result = ports.ConfigFormData{
		Binary:          "/opt/claude/bin/claude",
		Message:         "probe message",
		Mode:            "argument",
		Match:           "contains",
		SkipPermissions: true,
		Record:          true,
		Confirmed:       true,
	}
	app.Dialog = dialog

	out, err := execute(t, app, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "saved "+testConfig) {
		t.Errorf("output = %q", out)
	}
	if dialog.ReceivedPrefill.Binary != "claude" || dialog.ReceivedPrefill.Mode != "interactive" {
		t.Errorf("prefill = %+v", dialog.ReceivedPrefill)
	}

	cfg, err := config.Load(testConfig, fsys)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Target.Binary != "/opt/claude/bin/claude" || cfg.Harness.Message != "probe message" ||
		cfg.Handshake.Mode != "argument" || cfg.Verifier.Match != "contains" ||
		!cfg.Target.SkipPermissions || !cfg.Recording.Enabled {
		t.Errorf("saved config = %+v", cfg)
	}
	if cfg.Resolver.Interval != 2*time.Second {
		t.Errorf("defaults not preserved: resolver interval %v", cfg.Resolver.Interval)
	}
}

func TestInitNotConfirmed(t *testing.T) {
	fsys := fakefs.New()
	app := newTestApp(fsys)
	dialog := fakedialog.New()
	dialog.Result = ports.ConfigFormData{Binary: "x"}
	app.Dialog = dialog

	out, err := execute(t, app, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "not saved") {
		t.Errorf("output = %q", out)
	}
	if _, err := fsys.Stat(testConfig); err == nil {
		t.Error("config written without confirmation")
	}
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2026-06-01T09:00:00Z", time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC), false},
		{"10m", now.Add(-10 * time.Minute), false},
		{"0s", now, false},
		{"-5m", time.Time{}, true},
		{"yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseSince(tt.in, now)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSince(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("parseSince(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
