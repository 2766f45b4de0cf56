package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acolita/claude-session-probe/internal/config"
	"github.com/acolita/claude-session-probe/internal/ports"
)

func newInitCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or edit the configuration file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.configPath == "" {
				return errors.New("no config path: pass --config")
			}
			cfg := app.cfg

			result, err := app.Dialog.ConfigForm(ports.ConfigFormData{
				Binary:          cfg.Target.Binary,
				Message:         cfg.Harness.Message,
				Mode:            cfg.Handshake.Mode,
				Match:           cfg.Verifier.Match,
				SkipPermissions: cfg.Target.SkipPermissions,
				Record:          cfg.Recording.Enabled,
			})
			if err != nil {
				return fmt.Errorf("config form: %w", err)
			}
			if !result.Confirmed {
				fmt.Fprintln(cmd.OutOrStdout(), "not saved")
				return nil
			}

			cfg.Target.Binary = result.Binary
			if result.Message != "" {
				cfg.Harness.Message = result.Message
			}
			cfg.Handshake.Mode = result.Mode
			cfg.Verifier.Match = result.Match
			cfg.Target.SkipPermissions = result.SkipPermissions
			cfg.Recording.Enabled = result.Record

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg, app.configPath, app.FS); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", app.configPath)
			return nil
		},
	}
}
