package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acolita/claude-session-probe/internal/transcript"
)

func newVerifyCmd(app *App) *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "verify <transcript> <message>",
		Short: "Check that a transcript holds a user record with the message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.cfg.VerifierOptions()
			if match != "" {
				mode, err := transcript.ParseMatchMode(match)
				if err != nil {
					return err
				}
				opts.Match = mode
			}
			verifier, err := transcript.NewVerifier(app.FS, app.Clock, opts)
			if err != nil {
				return err
			}
			v, err := verifier.Verify(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "found at line %d after %d attempt(s)", v.Record.Line, v.Attempts)
			if v.Malformed > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d malformed line(s) skipped", v.Malformed)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&match, "match", "", "Match mode: 'exact' or 'contains' (default from config)")
	return cmd
}
