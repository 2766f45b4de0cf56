package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/acolita/claude-session-probe/internal/config"
	"github.com/acolita/claude-session-probe/internal/mcp"
)

func newServeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the probe operations as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.cfg.Validate(); err != nil {
				return err
			}

			slog.Info("starting sessionprobe server", slog.String("version", Version))

			server := mcp.NewServer(app.cfg, Version,
				mcp.WithFileSystem(app.FS),
				mcp.WithClock(app.Clock),
				mcp.WithSpawner(app.Spawn),
				mcp.WithLocker(app.Lock),
			)

			if _, err := app.FS.Stat(app.configPath); err == nil {
				watcher, err := config.NewWatcher(app.configPath, func(newCfg *config.Config, _ []string) {
					if app.debug {
						newCfg.Logging.Level = "debug"
					}
					server.UpdateConfig(newCfg)
				})
				if err != nil {
					slog.Warn("config hot-reload disabled", slog.String("error", err.Error()))
				} else {
					defer watcher.Close()
					slog.Info("config hot-reload enabled", slog.String("path", app.configPath))
				}
			}

			return server.Run()
		},
	}
}
