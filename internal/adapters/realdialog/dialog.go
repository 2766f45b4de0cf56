// Package realdialog provides a TUI-based DialogProvider using charmbracelet/huh.
//
// The form runs on the calling process's terminal, so it is only used by
// interactive commands such as "sessionprobe init".
package realdialog

import (
	"errors"
	"strings"

	"github.com/acolita/claude-session-probe/internal/ports"
	"github.com/charmbracelet/huh"
)

// Provider implements ports.DialogProvider with a huh form.
type Provider struct {
	// Accessible switches huh into screen-reader friendly prompts.
	Accessible bool
}

// New returns a new TUI dialog provider.
func New() *Provider {
	return &Provider{}
}

// ConfigForm shows the harness configuration form on the current terminal.
// A user abort returns the prefill unchanged with Confirmed=false.
func (p *Provider) ConfigForm(prefill ports.ConfigFormData) (ports.ConfigFormData, error) {
	result := withDefaults(prefill)

	form := buildForm(&result).WithAccessible(p.Accessible)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			prefill.Confirmed = false
			return prefill, nil
		}
		return prefill, err
	}

	result.Binary = strings.TrimSpace(result.Binary)
	return result, nil
}

func withDefaults(d ports.ConfigFormData) ports.ConfigFormData {
	if d.Binary == "" {
		d.Binary = "claude"
	}
	if d.Mode == "" {
		d.Mode = "interactive"
	}
	if d.Match == "" {
		d.Match = "exact"
	}
	return d
}

func buildForm(result *ports.ConfigFormData) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Target Binary").
				Description("Executable launched inside the pseudo-terminal").
				Value(&result.Binary).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("binary is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Test Message").
				Description("Message submitted once the target is ready").
				Value(&result.Message),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Delivery Mode").
				Options(
					huh.NewOption("Type into the prompt", "interactive"),
					huh.NewOption("Pass as a launch argument", "argument"),
				).
				Value(&result.Mode),

			huh.NewSelect[string]().
				Title("Transcript Match").
				Options(
					huh.NewOption("Exact (whitespace trimmed)", "exact"),
					huh.NewOption("Contains", "contains"),
				).
				Value(&result.Match),

			huh.NewConfirm().
				Title("Skip permission prompts?").
				Value(&result.SkipPermissions),

			huh.NewConfirm().
				Title("Record sessions as asciicast?").
				Value(&result.Record),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this configuration?").
				Value(&result.Confirmed),
		),
	)
}

var _ ports.DialogProvider = (*Provider)(nil)
