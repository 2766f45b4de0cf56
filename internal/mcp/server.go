// Package mcp exposes the probe operations as MCP tools over stdio.
package mcp

import (
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/acolita/claude-session-probe/internal/adapters/realclock"
	"github.com/acolita/claude-session-probe/internal/adapters/realfs"
	"github.com/acolita/claude-session-probe/internal/config"
	"github.com/acolita/claude-session-probe/internal/harness"
	"github.com/acolita/claude-session-probe/internal/ports"
)

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer *server.MCPServer
	fs        ports.FileSystem
	clock     ports.Clock
	spawn     harness.Spawner
	lock      harness.Locker

	mu     sync.RWMutex
	config *config.Config
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithFileSystem sets the filesystem used by Server.
func WithFileSystem(fs ports.FileSystem) ServerOption {
	return func(s *Server) {
		s.fs = fs
	}
}

// WithClock sets the clock used by Server.
func WithClock(c ports.Clock) ServerOption {
	return func(s *Server) {
		s.clock = c
	}
}

// WithSpawner replaces the PTY spawner used for probe runs.
func WithSpawner(spawn harness.Spawner) ServerOption {
	return func(s *Server) {
		s.spawn = spawn
	}
}

// WithLocker replaces the workdir lock used for probe runs.
func WithLocker(lock harness.Locker) ServerOption {
	return func(s *Server) {
		s.lock = lock
	}
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg *config.Config, version string, opts ...ServerOption) *Server {
	mcpServer := server.NewMCPServer(
		"sessionprobe",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		fs:        realfs.New(),
		clock:     realclock.New(),
		spawn:     harness.SpawnPTY,
		lock:      harness.FileLock,
		config:    cfg,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio transport.
func (s *Server) Run() error {
	slog.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// UpdateConfig applies a new configuration. Runs already in progress keep
// the configuration they started with.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	slog.Info("configuration hot-reloaded")
}

func (s *Server) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *Server) deps() harness.Deps {
	return harness.Deps{FS: s.fs, Clock: s.clock, Spawn: s.spawn, Lock: s.lock}
}
