package config

import (
	"fmt"

	"github.com/acolita/claude-session-probe/internal/handshake"
	"github.com/acolita/claude-session-probe/internal/harness"
	"github.com/acolita/claude-session-probe/internal/poll"
	"github.com/acolita/claude-session-probe/internal/ports"
	"github.com/acolita/claude-session-probe/internal/prompt"
	"github.com/acolita/claude-session-probe/internal/pty"
	"github.com/acolita/claude-session-probe/internal/session"
	"github.com/acolita/claude-session-probe/internal/transcript"
)

// Rules returns the handshake rules for the configured markers.
func (c *Config) Rules() handshake.Rules {
	rules := handshake.DefaultRules()
	rules.Detector = prompt.NewDetectorWith(prompt.PatternsFor(c.Handshake.TrustPrompt, c.Handshake.ReadyMarkers))
	if c.Handshake.TrustResponse != "" {
		rules.TrustResponse = c.Handshake.TrustResponse
	}
	rules.TrustDelay = c.Handshake.TrustDelay
	rules.TypeDelay = c.Handshake.TypeDelay
	return rules
}

// ReadyPolicy converts the ready timeout into a poll policy.
func (c *Config) ReadyPolicy() poll.Policy {
	attempts := 1
	if c.Handshake.ReadyPollInterval > 0 {
		attempts = int(c.Handshake.ReadyTimeout / c.Handshake.ReadyPollInterval)
	}
	if attempts < 1 {
		attempts = 1
	}
	return poll.Policy{MaxAttempts: attempts, Interval: c.Handshake.ReadyPollInterval}
}

// ResolverOptions returns the session resolver options with ~ expanded.
func (c *Config) ResolverOptions(fsys ports.FileSystem) (session.Options, error) {
	root := c.Resolver.Root
	if root != "" {
		var err error
		if root, err = ExpandHome(root, fsys); err != nil {
			return session.Options{}, err
		}
	}
	return session.Options{
		Root:           root,
		Pattern:        c.Resolver.Pattern,
		Replacement:    c.Resolver.SeparatorReplacement,
		Policy:         poll.Policy{MaxAttempts: c.Resolver.MaxAttempts, Interval: c.Resolver.Interval},
		BirthTolerance: c.Resolver.BirthTolerance,
	}, nil
}

// VerifierOptions returns the transcript verifier options.
func (c *Config) VerifierOptions() transcript.Options {
	return transcript.Options{
		Match:  transcript.MatchMode(c.Verifier.Match),
		Policy: poll.Policy{MaxAttempts: c.Verifier.MaxAttempts, Interval: c.Verifier.Interval},
	}
}

// TargetOptions returns the launch options of the target.
func (c *Config) TargetOptions() pty.Options {
	return pty.Options{
		Binary: c.Target.Binary,
		Args:   append([]string(nil), c.Target.Args...),
		Term:   c.Target.Term,
		Rows:   uint16(c.Target.Rows),
		Cols:   uint16(c.Target.Cols),
		Env:    append([]string(nil), c.Target.Env...),
	}
}

// RunConfig assembles a harness run from the configuration.
func (c *Config) RunConfig(fsys ports.FileSystem) (harness.Config, error) {
	if err := c.Validate(); err != nil {
		return harness.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	mode, err := handshake.ParseMode(c.Handshake.Mode)
	if err != nil {
		return harness.Config{}, err
	}
	resolver, err := c.ResolverOptions(fsys)
	if err != nil {
		return harness.Config{}, err
	}
	workdir, err := ExpandHome(c.Harness.Workdir, fsys)
	if err != nil {
		return harness.Config{}, err
	}

	run := harness.Config{
		Workdir:         workdir,
		Message:         c.Harness.Message,
		Mode:            mode,
		Target:          c.TargetOptions(),
		SkipPermissions: c.Target.SkipPermissions,
		PermissionFlag:  c.Target.PermissionFlag,
		Rules:           c.Rules(),
		ReadyPolicy:     c.ReadyPolicy(),
		SettleDelay:     c.Handshake.SettleDelay,
		TeardownGrace:   c.Harness.TeardownGrace,
		Resolver:        resolver,
		Verifier:        c.VerifierOptions(),
	}
	if c.Recording.Enabled {
		dir, err := ExpandHome(c.Recording.Path, fsys)
		if err != nil {
			return harness.Config{}, err
		}
		run.RecordingDir = dir
	}
	return run, nil
}
