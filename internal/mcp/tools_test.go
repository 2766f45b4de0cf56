package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/claude-session-probe/internal/config"
	"github.com/acolita/claude-session-probe/internal/ports"
	"github.com/acolita/claude-session-probe/internal/pty"
	"github.com/acolita/claude-session-probe/internal/testing/fakes/fakeclock"
	"github.com/acolita/claude-session-probe/internal/testing/fakes/fakefs"
)

const (
	testRoot    = "/home/test/.claude/projects"
	testWorkdir = "/tmp/claude-test-session"
	testDir     = testRoot + "/-tmp-claude-test-session"
	testID      = "9d4f0c3e-1a2b-4c5d-8e6f-7a8b9c0d1e2f"
	testMessage = "hello from session detection test"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newTestServer(fsys *fakefs.FS, opts ...ServerOption) *Server {
	cfg := config.DefaultConfig()
	cfg.Resolver.Root = testRoot
	cfg.Resolver.MaxAttempts = 3
	cfg.Verifier.MaxAttempts = 3
	opts = append([]ServerOption{
		WithFileSystem(fsys),
		WithClock(fakeclock.NewAuto(now)),
	}, opts...)
	return NewServer(cfg, "test", opts...)
}

func makeRequest(args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	tc, ok := mcpgo.AsTextContent(result.Content[0])
	if !ok {
		return ""
	}
	return tc.Text
}

func resultJSON(t *testing.T, result *mcpgo.CallToolResult) map[string]any {
	t.Helper()
	text := resultText(result)
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("failed to parse result JSON: %v (text: %s)", err, text)
	}
	return m
}

func transcriptLine(message string) string {
	return `{"type":"user","message":{"role":"user","content":"` + message + `"}}` + "\n"
}

func TestHandleProjectDir(t *testing.T) {
	srv := newTestServer(fakefs.New())

	result, err := srv.handleProjectDir(context.Background(), makeRequest(map[string]any{"workdir": testWorkdir}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", resultText(result))
	}
	if got := resultJSON(t, result)["dir"]; got != testDir {
		t.Errorf("dir = %v, want %s", got, testDir)
	}
}

func TestHandleProjectDir_Validation(t *testing.T) {
	srv := newTestServer(fakefs.New())
	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{"missing workdir", map[string]any{}, errWorkdirRequired},
		{"relative workdir", map[string]any{"workdir": "relative/dir"}, "absolute"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _ := srv.handleProjectDir(context.Background(), makeRequest(tt.args))
			if !result.IsError {
				t.Fatal("expected tool error")
			}
			if !strings.Contains(resultText(result), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", resultText(result), tt.wantErr)
			}
		})
	}
}

func TestHandleResolve(t *testing.T) {
	fsys := fakefs.New()
	fsys.AddFileAt(testDir+"/11111111-1111-4111-8111-111111111111.jsonl", nil, now.Add(-time.Hour))
	fsys.AddFileAt(testDir+"/"+testID+".jsonl", nil, now.Add(time.Second))
	srv := newTestServer(fsys)

	result, err := srv.handleResolve(context.Background(), makeRequest(map[string]any{
		"workdir": testWorkdir,
		"since":   now.Format(time.RFC3339Nano),
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", resultText(result))
	}
	m := resultJSON(t, result)
	if m["session_id"] != testID {
		t.Errorf("session_id = %v, want %s", m["session_id"], testID)
	}
	if m["fresh"] != float64(1) {
		t.Errorf("fresh = %v, want 1", m["fresh"])
	}
}

func TestHandleResolve_NotFound(t *testing.T) {
	srv := newTestServer(fakefs.New())

	result, _ := srv.handleResolve(context.Background(), makeRequest(map[string]any{"workdir": testWorkdir}))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if !strings.Contains(resultText(result), "after 3 attempts") {
		t.Errorf("error = %q", resultText(result))
	}
}

func TestHandleResolve_BadSince(t *testing.T) {
	srv := newTestServer(fakefs.New())

	result, _ := srv.handleResolve(context.Background(), makeRequest(map[string]any{
		"workdir": testWorkdir,
		"since":   "yesterday",
	}))
	if !result.IsError || !strings.Contains(resultText(result), "invalid since") {
		t.Errorf("result = %q", resultText(result))
	}
}

func TestHandleResolve_List(t *testing.T) {
	fsys := fakefs.New()
	fsys.AddFileAt(testDir+"/11111111-1111-4111-8111-111111111111.jsonl", nil, now.Add(-time.Hour))
	fsys.AddFileAt(testDir+"/"+testID+".jsonl", nil, now)
	srv := newTestServer(fsys)

	result, _ := srv.handleResolve(context.Background(), makeRequest(map[string]any{
		"workdir": testWorkdir,
		"list":    true,
	}))
	if result.IsError {
		t.Fatalf("tool error: %s", resultText(result))
	}
	candidates, ok := resultJSON(t, result)["candidates"].([]any)
	if !ok || len(candidates) != 2 {
		t.Fatalf("candidates = %v", candidates)
	}
	first := candidates[0].(map[string]any)
	if first["name"] != testID+".jsonl" {
		t.Errorf("newest = %v, want %s.jsonl", first["name"], testID)
	}
}

func TestHandleVerify(t *testing.T) {
	fsys := fakefs.New()
	path := testDir + "/" + testID + ".jsonl"
	fsys.AddFile(path, []byte(`{"type":"system"}`+"\n"+transcriptLine(testMessage)), 0o600)
	srv := newTestServer(fsys)

	result, err := srv.handleVerify(context.Background(), makeRequest(map[string]any{
		"path":    path,
		"message": testMessage,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", resultText(result))
	}
	m := resultJSON(t, result)
	if m["line"] != float64(2) || m["text"] != testMessage {
		t.Errorf("result = %v", m)
	}
}

func TestHandleVerify_MatchMode(t *testing.T) {
	fsys := fakefs.New()
	path := testDir + "/" + testID + ".jsonl"
	fsys.AddFile(path, []byte(transcriptLine("prefix "+testMessage+" suffix")), 0o600)
	srv := newTestServer(fsys)

	tests := []struct {
		match   string
		wantErr bool
	}{
		{"", true},
		{"exact", true},
		{"contains", false},
		{"fuzzy", true},
	}
	for _, tt := range tests {
		t.Run("match="+tt.match, func(t *testing.T) {
			result, _ := srv.handleVerify(context.Background(), makeRequest(map[string]any{
				"path":    path,
				"message": testMessage,
				"match":   tt.match,
			}))
			if result.IsError != tt.wantErr {
				t.Errorf("IsError = %v, want %v (%s)", result.IsError, tt.wantErr, resultText(result))
			}
		})
	}
}

func TestHandleVerify_Validation(t *testing.T) {
	srv := newTestServer(fakefs.New())
	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{"missing path", map[string]any{"message": "x"}, "path is required"},
		{"missing message", map[string]any{"path": "/x.jsonl"}, "message is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _ := srv.handleVerify(context.Background(), makeRequest(tt.args))
			if !result.IsError || resultText(result) != tt.wantErr {
				t.Errorf("result = %q, want %q", resultText(result), tt.wantErr)
			}
		})
	}
}

func TestHandleProbeRun_SpawnFailure(t *testing.T) {
	var spawned pty.Options
	spawn := func(opts pty.Options) (ports.Process, error) {
		spawned = opts
		return nil, errors.New("exec: \"claude\": executable file not found in $PATH")
	}
	noLock := func(string) (func(), error) { return func() {}, nil }
	srv := newTestServer(fakefs.New(), WithSpawner(spawn), WithLocker(noLock))

	result, err := srv.handleProbeRun(context.Background(), makeRequest(map[string]any{
		"workdir": testWorkdir,
		"message": "probe message",
		"mode":    "argument",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	m := resultJSON(t, result)
	if m["passed"] != false {
		t.Errorf("passed = %v", m["passed"])
	}
	if !strings.Contains(m["error"].(string), "executable file not found") {
		t.Errorf("error = %v", m["error"])
	}
	if spawned.Dir != testWorkdir {
		t.Errorf("spawn dir = %q, want %q", spawned.Dir, testWorkdir)
	}
	if len(spawned.Args) == 0 || spawned.Args[len(spawned.Args)-1] != "probe message" {
		t.Errorf("spawn args = %q, want message last", spawned.Args)
	}
}

func TestHandleProbeRun_InvalidOverride(t *testing.T) {
	srv := newTestServer(fakefs.New())

	result, _ := srv.handleProbeRun(context.Background(), makeRequest(map[string]any{"mode": "telepathy"}))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestUpdateConfig(t *testing.T) {
	srv := newTestServer(fakefs.New())
	cfg := config.DefaultConfig()
	cfg.Resolver.Root = "/other/projects"
	srv.UpdateConfig(cfg)

	result, _ := srv.handleProjectDir(context.Background(), makeRequest(map[string]any{"workdir": testWorkdir}))
	if got := resultJSON(t, result)["dir"]; got != "/other/projects/-tmp-claude-test-session" {
		t.Errorf("dir = %v", got)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		tool     mcpgo.Tool
		name     string
		required []string
	}{
		{projectDirTool(), "session_project_dir", []string{"workdir"}},
		{resolveTool(), "session_resolve", []string{"workdir"}},
		{verifyTool(), "transcript_verify", []string{"path", "message"}},
		{probeRunTool(), "session_probe_run", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.tool.Name != tt.name {
				t.Errorf("Name = %q, want %q", tt.tool.Name, tt.name)
			}
			if len(tt.tool.InputSchema.Required) != len(tt.required) {
				t.Fatalf("Required = %v, want %v", tt.tool.InputSchema.Required, tt.required)
			}
			for i, r := range tt.required {
				if tt.tool.InputSchema.Required[i] != r {
					t.Errorf("Required[%d] = %q, want %q", i, tt.tool.InputSchema.Required[i], r)
				}
			}
		})
	}
}
