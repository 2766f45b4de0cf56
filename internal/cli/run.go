package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/acolita/claude-session-probe/internal/harness"
)

type runFlags struct {
	binary          string
	message         string
	workdir         string
	mode            string
	match           string
	skipPermissions bool
	record          bool
	jsonOutput      bool
}

func newRunCmd(app *App) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the target, submit a message, and verify its transcript",
		Long: `Run performs one full probe: the target is launched in a pseudo-terminal
inside the scratch workdir, the trust and ready prompts are answered, the
message is submitted, and the newest session file created since launch is
checked for a user record carrying the message.

Flags override the configuration file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runProbe(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.binary, "binary", "", "Target executable")
	flags.StringVar(&f.message, "message", "", "Message to submit")
	flags.StringVar(&f.workdir, "workdir", "", "Scratch working directory")
	flags.StringVar(&f.mode, "mode", "", "Delivery mode: 'interactive' or 'argument'")
	flags.StringVar(&f.match, "match", "", "Transcript match: 'exact' or 'contains'")
	flags.BoolVar(&f.skipPermissions, "skip-permissions", false, "Pass the permission-bypass flag to the target")
	flags.BoolVar(&f.record, "record", false, "Record the terminal session as asciicast")
	flags.BoolVar(&f.jsonOutput, "json", false, "Print the report as JSON")
	return cmd
}

func (a *App) runProbe(cmd *cobra.Command, f runFlags) error {
	cfg := *a.cfg
	flags := cmd.Flags()
	if flags.Changed("binary") {
		cfg.Target.Binary = f.binary
	}
	if flags.Changed("message") {
		cfg.Harness.Message = f.message
	}
	if flags.Changed("workdir") {
		cfg.Harness.Workdir = f.workdir
	}
	if flags.Changed("mode") {
		cfg.Handshake.Mode = f.mode
	}
	if flags.Changed("match") {
		cfg.Verifier.Match = f.match
	}
	if flags.Changed("skip-permissions") {
		cfg.Target.SkipPermissions = f.skipPermissions
	}
	if flags.Changed("record") {
		cfg.Recording.Enabled = f.record
	}

	run, err := cfg.RunConfig(a.FS)
	if err != nil {
		return err
	}

	report, runErr := harness.Run(cmd.Context(), run, harness.Deps{
		FS:    a.FS,
		Clock: a.Clock,
		Spawn: a.Spawn,
		Lock:  a.Lock,
	})

	out := cmd.OutOrStdout()
	if f.jsonOutput {
		if err := writeReportJSON(out, report, runErr); err != nil {
			return err
		}
	} else {
		writeReport(out, report, runErr)
	}
	if runErr != nil {
		return errFailed
	}
	return nil
}

func writeReport(w io.Writer, r *harness.Report, runErr error) {
	if r == nil {
		fmt.Fprintf(w, "FAIL: %v\n", runErr)
		return
	}
	fmt.Fprintf(w, "workdir:   %s\n", r.Workdir)
	fmt.Fprintf(w, "baseline:  %s\n", r.Baseline.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "args:      %s\n", strings.Join(r.Args, " "))
	fmt.Fprintf(w, "handshake: %s", r.State)
	if r.Degraded {
		fmt.Fprint(w, " (ready prompt not seen)")
	}
	fmt.Fprintln(w)
	if r.Resolution != nil {
		fmt.Fprintf(w, "session:   %s\n", r.Resolution.ID)
		fmt.Fprintf(w, "file:      %s\n", r.Resolution.Path)
	}
	if r.Verification != nil {
		fmt.Fprintf(w, "verified:  line %d after %d attempt(s)\n", r.Verification.Record.Line, r.Verification.Attempts)
	}
	if r.RecordingPath != "" {
		fmt.Fprintf(w, "recording: %s\n", r.RecordingPath)
	}
	fmt.Fprintf(w, "duration:  %s\n", r.Duration.Round(time.Millisecond))

	if runErr != nil {
		fmt.Fprintf(w, "FAIL: %v\n", runErr)
		if r.Output != "" {
			fmt.Fprintf(w, "--- terminal output (tail) ---\n%s\n", tailOf(r.Output, 2000))
		}
		return
	}
	fmt.Fprintln(w, "PASS")
}

type reportJSON struct {
	Passed        bool     `json:"passed"`
	Error         string   `json:"error,omitempty"`
	Workdir       string   `json:"workdir,omitempty"`
	Baseline      string   `json:"baseline,omitempty"`
	Args          []string `json:"args,omitempty"`
	State         string   `json:"state,omitempty"`
	Degraded      bool     `json:"degraded"`
	SessionID     string   `json:"session_id,omitempty"`
	Path          string   `json:"path,omitempty"`
	Line          int      `json:"line,omitempty"`
	RecordingPath string   `json:"recording,omitempty"`
	DurationMS    int64    `json:"duration_ms"`
}

func writeReportJSON(w io.Writer, r *harness.Report, runErr error) error {
	out := reportJSON{Passed: runErr == nil && r.Passed()}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	if r != nil {
		out.Workdir = r.Workdir
		out.Baseline = r.Baseline.Format(time.RFC3339Nano)
		out.Args = r.Args
		out.State = r.State.String()
		out.Degraded = r.Degraded
		out.RecordingPath = r.RecordingPath
		out.DurationMS = r.Duration.Milliseconds()
		if r.Resolution != nil {
			out.SessionID = r.Resolution.ID.String()
			out.Path = r.Resolution.Path
		}
		if r.Verification != nil {
			out.Line = r.Verification.Record.Line
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
