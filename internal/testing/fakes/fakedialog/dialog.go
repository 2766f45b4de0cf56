// Package fakedialog provides a test fake for ports.DialogProvider.
package fakedialog

import "github.com/acolita/claude-session-probe/internal/ports"

// Provider is a controllable fake DialogProvider for testing.
type Provider struct {
	// Result is the form data returned by ConfigForm.
	Result ports.ConfigFormData
	// Err is the error returned by ConfigForm.
	Err error
	// Called tracks whether ConfigForm was invoked.
	Called bool
	// ReceivedPrefill captures the prefill data passed to ConfigForm.
	ReceivedPrefill ports.ConfigFormData
}

// New returns a new fake dialog provider.
func New() *Provider {
	return &Provider{}
}

// ConfigForm returns the pre-configured Result and Err.
func (p *Provider) ConfigForm(prefill ports.ConfigFormData) (ports.ConfigFormData, error) {
	p.Called = true
	p.ReceivedPrefill = prefill
	if p.Err != nil {
		return prefill, p.Err
	}
	return p.Result, nil
}

// Ensure Provider implements ports.DialogProvider.
var _ ports.DialogProvider = (*Provider)(nil)
