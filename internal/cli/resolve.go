package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/acolita/claude-session-probe/internal/session"
)

func newResolveCmd(app *App) *cobra.Command {
	var (
		since string
		list  bool
	)
	cmd := &cobra.Command{
		Use:   "resolve [workdir]",
		Short: "Find the newest session file created for a workdir since a baseline",
		Long: `Resolve polls the project directory of workdir (default: the current
directory) until a session file created at or after --since appears, then
prints its identifier and path. With --list every session file is printed,
newest first, without polling.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workdir, err := workdirArg(args)
			if err != nil {
				return err
			}
			resolver, err := app.resolver()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if list {
				dir, err := resolver.Dir(workdir)
				if err != nil {
					return err
				}
				candidates, err := resolver.List(workdir)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\n", dir)
				for _, c := range candidates {
					fmt.Fprintf(out, "  %s  %s\n", c.CreatedAt.Format(time.RFC3339), c.Name)
				}
				return nil
			}

			baseline := app.Clock.Now()
			if since != "" {
				if baseline, err = parseSince(since, app.Clock.Now()); err != nil {
					return err
				}
			}
			res, err := resolver.Resolve(cmd.Context(), workdir, baseline)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\t%s\n", res.ID, res.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Baseline as RFC 3339 time or a duration ago (e.g. 5m); default now")
	cmd.Flags().BoolVar(&list, "list", false, "List session files instead of resolving")
	return cmd
}

func (a *App) resolver() (*session.Resolver, error) {
	opts, err := a.cfg.ResolverOptions(a.FS)
	if err != nil {
		return nil, err
	}
	return session.NewResolver(a.FS, a.Clock, opts)
}

func workdirArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return os.Getwd()
}

// parseSince accepts an RFC 3339 timestamp or a duration before now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC 3339 time or positive duration", s)
	}
	return now.Add(-d), nil
}
