package ports

// ConfigFormData holds the result of the harness configuration form.
type ConfigFormData struct {
	Binary          string
	Message         string
	Mode            string // "interactive" or "argument"
	Match           string // "exact" or "contains"
	SkipPermissions bool
	Record          bool
	Confirmed       bool
}

// DialogProvider abstracts interactive user dialogs.
// Implementations may use TUI forms or test fakes.
type DialogProvider interface {
	// ConfigForm shows a form to confirm/edit the harness configuration.
	// Pre-filled values come from the input data; the user can modify them.
	// Returns the final form data with Confirmed=true if the user accepted.
	ConfigForm(prefill ConfigFormData) (ConfigFormData, error)
}
