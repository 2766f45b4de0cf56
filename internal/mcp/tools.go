package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/claude-session-probe/internal/handshake"
	"github.com/acolita/claude-session-probe/internal/harness"
	"github.com/acolita/claude-session-probe/internal/session"
	"github.com/acolita/claude-session-probe/internal/transcript"
)

const (
	descWorkdir = "Absolute working directory the target was launched in"

	errWorkdirRequired = "workdir is required"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(projectDirTool(), s.handleProjectDir)
	s.mcpServer.AddTool(resolveTool(), s.handleResolve)
	s.mcpServer.AddTool(verifyTool(), s.handleVerify)
	s.mcpServer.AddTool(probeRunTool(), s.handleProbeRun)
}

// Tool definitions

func projectDirTool() mcp.Tool {
	return mcp.NewTool("session_project_dir",
		mcp.WithDescription("Compute the directory where the target persists sessions for a working directory"),
		mcp.WithString("workdir",
			mcp.Required(),
			mcp.Description(descWorkdir),
		),
	)
}

func resolveTool() mcp.Tool {
	return mcp.NewTool("session_resolve",
		mcp.WithDescription("Find the newest session file created since a baseline, polling until it appears"),
		mcp.WithString("workdir",
			mcp.Required(),
			mcp.Description(descWorkdir),
		),
		mcp.WithString("since",
			mcp.Description("RFC 3339 baseline; files created earlier never match (default: now)"),
		),
		mcp.WithBoolean("list",
			mcp.Description("List every session file instead of resolving (default: false)"),
		),
	)
}

func verifyTool() mcp.Tool {
	return mcp.NewTool("transcript_verify",
		mcp.WithDescription("Poll a session transcript until a user record carries the expected message"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path of the session transcript"),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Expected message text"),
		),
		mcp.WithString("match",
			mcp.Description("Match mode: 'exact' or 'contains' (default from config)"),
		),
	)
}

func probeRunTool() mcp.Tool {
	return mcp.NewTool("session_probe_run",
		mcp.WithDescription("Launch the target in a PTY, submit a message, and verify its session transcript"),
		mcp.WithString("workdir",
			mcp.Description("Scratch working directory (default from config)"),
		),
		mcp.WithString("message",
			mcp.Description("Message to submit (default from config)"),
		),
		mcp.WithString("mode",
			mcp.Description("Delivery mode: 'interactive' or 'argument' (default from config)"),
		),
		mcp.WithString("match",
			mcp.Description("Match mode: 'exact' or 'contains' (default from config)"),
		),
	)
}

// Tool handlers

func (s *Server) handleProjectDir(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workdir := mcp.ParseString(req, "workdir", "")
	if workdir == "" {
		return mcp.NewToolResultError(errWorkdirRequired), nil
	}

	resolver, err := s.newResolver()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dir, err := resolver.Dir(workdir)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"workdir": workdir, "dir": dir})
}

func (s *Server) handleResolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workdir := mcp.ParseString(req, "workdir", "")
	since := mcp.ParseString(req, "since", "")
	list := mcp.ParseBoolean(req, "list", false)

	if workdir == "" {
		return mcp.NewToolResultError(errWorkdirRequired), nil
	}

	resolver, err := s.newResolver()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if list {
		candidates, err := resolver.List(workdir)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"workdir":    workdir,
			"candidates": candidateResults(candidates),
		})
	}

	baseline := s.clock.Now()
	if since != "" {
		if baseline, err = time.Parse(time.RFC3339Nano, since); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since: %v", err)), nil
		}
	}

	slog.Info("resolving session",
		slog.String("workdir", workdir),
		slog.Time("since", baseline),
	)

	res, err := resolver.Resolve(ctx, workdir, baseline)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(resolutionResult(res))
}

func (s *Server) handleVerify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(req, "path", "")
	message := mcp.ParseString(req, "message", "")
	match := mcp.ParseString(req, "match", "")

	if path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	opts := s.currentConfig().VerifierOptions()
	if match != "" {
		mode, err := transcript.ParseMatchMode(match)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		opts.Match = mode
	}

	verifier, err := transcript.NewVerifier(s.fs, s.clock, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := verifier.Verify(ctx, path, message)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(verificationResult(v))
}

func (s *Server) handleProbeRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := *s.currentConfig()
	if v := mcp.ParseString(req, "workdir", ""); v != "" {
		cfg.Harness.Workdir = v
	}
	if v := mcp.ParseString(req, "message", ""); v != "" {
		cfg.Harness.Message = v
	}
	if v := mcp.ParseString(req, "mode", ""); v != "" {
		cfg.Handshake.Mode = v
	}
	if v := mcp.ParseString(req, "match", ""); v != "" {
		cfg.Verifier.Match = v
	}

	run, err := cfg.RunConfig(s.fs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	report, err := harness.Run(ctx, run, s.deps())
	result := reportResult(report)
	if err != nil {
		result["passed"] = false
		result["error"] = err.Error()
		var exited *handshake.ExitError
		if errors.As(err, &exited) {
			result["exit_code"] = exited.Status.Code
		}
		return jsonErrorResult(result)
	}
	return jsonResult(result)
}

func (s *Server) newResolver() (*session.Resolver, error) {
	opts, err := s.currentConfig().ResolverOptions(s.fs)
	if err != nil {
		return nil, err
	}
	return session.NewResolver(s.fs, s.clock, opts)
}

// Result shaping

func candidateResults(cs []session.Candidate) []map[string]any {
	out := make([]map[string]any, 0, len(cs))
	for _, c := range cs {
		out = append(out, map[string]any{
			"name":       c.Name,
			"path":       c.Path,
			"created_at": c.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	return out
}

func resolutionResult(r *session.Resolution) map[string]any {
	return map[string]any{
		"session_id": r.ID.String(),
		"path":       r.Path,
		"dir":        r.Dir,
		"created_at": r.CreatedAt.Format(time.RFC3339Nano),
		"attempts":   r.Attempts,
		"fresh":      len(r.Fresh),
	}
}

func verificationResult(v *transcript.Verification) map[string]any {
	return map[string]any{
		"path":      v.Path,
		"line":      v.Record.Line,
		"text":      v.Text,
		"attempts":  v.Attempts,
		"records":   v.Records,
		"malformed": v.Malformed,
	}
}

func reportResult(r *harness.Report) map[string]any {
	if r == nil {
		return map[string]any{"passed": false}
	}
	out := map[string]any{
		"passed":      r.Passed(),
		"workdir":     r.Workdir,
		"baseline":    r.Baseline.Format(time.RFC3339Nano),
		"args":        r.Args,
		"state":       r.State.String(),
		"degraded":    r.Degraded,
		"duration_ms": r.Duration.Milliseconds(),
	}
	if r.Resolution != nil {
		out["session"] = resolutionResult(r.Resolution)
	}
	if r.Verification != nil {
		out["verification"] = verificationResult(r.Verification)
	}
	if r.RecordingPath != "" {
		out["recording"] = r.RecordingPath
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func jsonErrorResult(v any) (*mcp.CallToolResult, error) {
	res, err := jsonResult(v)
	if res != nil {
		res.IsError = true
	}
	return res, err
}
