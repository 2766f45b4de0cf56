package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/acolita/claude-session-probe/internal/watch"
)

func newWatchCmd(app *App) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "watch [workdir]",
		Short: "Print session files as they are created for a workdir",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workdir, err := workdirArg(args)
			if err != nil {
				return err
			}
			resolver, err := app.resolver()
			if err != nil {
				return err
			}
			dir, err := resolver.Dir(workdir)
			if err != nil {
				return err
			}

			baseline := app.Clock.Now()
			if since != "" {
				if baseline, err = parseSince(since, app.Clock.Now()); err != nil {
					return err
				}
			}

			w, err := watch.New(app.FS, watch.Options{
				Dir:     dir,
				Pattern: app.cfg.Resolver.Pattern,
				Since:   baseline,
			})
			if err != nil {
				return err
			}
			defer w.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watching %s\n", dir)
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case ev, ok := <-w.Events():
					if !ok {
						return nil
					}
					fmt.Fprintf(out, "%s  %s\t%s\n", ev.CreatedAt.Format(time.RFC3339), ev.ID, ev.Path)
				case err := <-w.Errors():
					return err
				}
			}
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Also report files created after this RFC 3339 time or duration ago")
	return cmd
}
