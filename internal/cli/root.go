// Package cli implements the sessionprobe command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acolita/claude-session-probe/internal/adapters/realclock"
	"github.com/acolita/claude-session-probe/internal/adapters/realdialog"
	"github.com/acolita/claude-session-probe/internal/adapters/realfs"
	"github.com/acolita/claude-session-probe/internal/config"
	"github.com/acolita/claude-session-probe/internal/harness"
	"github.com/acolita/claude-session-probe/internal/logging"
	"github.com/acolita/claude-session-probe/internal/ports"
)

// Version information - set at build time.
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// App carries the collaborators shared by every command.
type App struct {
	FS     ports.FileSystem
	Clock  ports.Clock
	Dialog ports.DialogProvider
	Spawn  harness.Spawner
	Lock   harness.Locker

	configPath string
	debug      bool
	logFormat  string
	cfg        *config.Config
}

// NewApp returns an App wired to the real system.
func NewApp() *App {
	return &App{
		FS:     realfs.New(),
		Clock:  realclock.New(),
		Dialog: realdialog.New(),
		Spawn:  harness.SpawnPTY,
		Lock:   harness.FileLock,
	}
}

// errFailed reports a probe failure whose details were already printed.
var errFailed = errors.New("probe failed")

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "sessionprobe",
		Short: "Verify that an interactive CLI persists its sessions",
		Long: `sessionprobe launches an interactive CLI inside a pseudo-terminal, answers
its startup prompts, submits a message, and verifies that a new session
transcript containing that message appears on disk.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: app.setup,
	}

	root.PersistentFlags().StringVar(&app.configPath, "config", config.DefaultConfigPath(), "Path to configuration file")
	root.PersistentFlags().BoolVar(&app.debug, "debug", false, "Enable debug logging, including terminal output")
	root.PersistentFlags().StringVar(&app.logFormat, "log-format", "", "Log format: 'json' or 'text' (overrides config)")

	root.AddCommand(
		newRunCmd(app),
		newResolveCmd(app),
		newVerifyCmd(app),
		newWatchCmd(app),
		newServeCmd(app),
		newInitCmd(app),
		newVersionCmd(),
	)
	return root
}

func (a *App) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath, a.FS)
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	a.cfg = cfg

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Sanitize)
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(NewApp())
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}
