// Package config handles configuration parsing for sessionprobe.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acolita/claude-session-probe/internal/handshake"
	"github.com/acolita/claude-session-probe/internal/ports"
	"github.com/acolita/claude-session-probe/internal/prompt"
	"github.com/acolita/claude-session-probe/internal/transcript"
)

// DefaultMessage is the message submitted when none is configured.
const DefaultMessage = "hello from session detection test"

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/sessionprobe/config.yaml or ~/.config/sessionprobe/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sessionprobe", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Target    TargetConfig    `yaml:"target"`
	Handshake HandshakeConfig `yaml:"handshake"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Verifier  VerifierConfig  `yaml:"verifier"`
	Harness   HarnessConfig   `yaml:"harness"`
	Recording RecordingConfig `yaml:"recording"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TargetConfig defines how the application under test is launched.
type TargetConfig struct {
	Binary          string   `yaml:"binary"`
	Args            []string `yaml:"args,omitempty"`
	SkipPermissions bool     `yaml:"skip_permissions"`
	PermissionFlag  string   `yaml:"permission_flag"`
	Term            string   `yaml:"term"`
	Rows            int      `yaml:"rows"`
	Cols            int      `yaml:"cols"`
	Env             []string `yaml:"env,omitempty"` // extra KEY=VALUE pairs
}

// HandshakeConfig defines the startup prompt negotiation.
type HandshakeConfig struct {
	Mode              string        `yaml:"mode"` // "interactive" or "argument"
	TrustPrompt       string        `yaml:"trust_prompt"`
	ReadyMarkers      []string      `yaml:"ready_markers"`
	TrustResponse     string        `yaml:"trust_response"`
	TrustDelay        time.Duration `yaml:"trust_delay"`
	ReadyTimeout      time.Duration `yaml:"ready_timeout"`
	ReadyPollInterval time.Duration `yaml:"ready_poll_interval"`
	TypeDelay         time.Duration `yaml:"type_delay"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
}

// ResolverConfig defines session file discovery.
type ResolverConfig struct {
	Root                 string        `yaml:"root"` // default ~/.claude/projects
	Pattern              string        `yaml:"pattern"`
	SeparatorReplacement string        `yaml:"separator_replacement"`
	MaxAttempts          int           `yaml:"max_attempts"`
	Interval             time.Duration `yaml:"interval"`
	BirthTolerance       time.Duration `yaml:"birth_tolerance,omitempty"` // negative disables
}

// VerifierConfig defines transcript verification.
type VerifierConfig struct {
	Match       string        `yaml:"match"` // "exact" or "contains"
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

// HarnessConfig defines run-level settings.
type HarnessConfig struct {
	Workdir       string        `yaml:"workdir"`
	Message       string        `yaml:"message"`
	TeardownGrace time.Duration `yaml:"teardown_grace"`
}

// RecordingConfig defines terminal recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"` // record every run
	Path    string `yaml:"path"`    // directory to store recordings
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Format   string `yaml:"format"`   // "json" or "text"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			Binary:         "claude",
			PermissionFlag: "--dangerously-skip-permissions",
			Term:           "xterm-color",
			Rows:           30,
			Cols:           80,
		},
		Handshake: HandshakeConfig{
			Mode:              string(handshake.ModeInteractive),
			TrustPrompt:       prompt.TrustPromptText,
			ReadyMarkers:      []string{prompt.ReadyGlyphText, prompt.ShortcutsHintText},
			TrustResponse:     "\r",
			TrustDelay:        200 * time.Millisecond,
			ReadyTimeout:      2 * time.Second,
			ReadyPollInterval: 100 * time.Millisecond,
			TypeDelay:         200 * time.Millisecond,
			SettleDelay:       3 * time.Second,
		},
		Resolver: ResolverConfig{
			Pattern:              "*.jsonl",
			SeparatorReplacement: "-",
			MaxAttempts:          5,
			Interval:             2 * time.Second,
			BirthTolerance:       10 * time.Millisecond,
		},
		Verifier: VerifierConfig{
			Match:       string(transcript.MatchExact),
			MaxAttempts: 30,
			Interval:    time.Second,
		},
		Harness: HarnessConfig{
			Workdir:       filepath.Join(os.TempDir(), "claude-test-session"),
			Message:       DefaultMessage,
			TeardownGrace: time.Second,
		},
		Recording: RecordingConfig{
			Path: "~/.local/share/sessionprobe/recordings",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sanitize: true,
		},
	}
}

// Load loads configuration from a YAML file over the defaults. A missing
// file yields the defaults.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the harness cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Target.Binary == "" {
		errs = append(errs, errors.New("target.binary is empty"))
	}
	if c.Target.Rows <= 0 || c.Target.Rows > 0xffff || c.Target.Cols <= 0 || c.Target.Cols > 0xffff {
		errs = append(errs, fmt.Errorf("target geometry %dx%d out of range", c.Target.Cols, c.Target.Rows))
	}
	if c.Target.SkipPermissions && c.Target.PermissionFlag == "" {
		errs = append(errs, errors.New("target.permission_flag is empty but skip_permissions is set"))
	}
	for _, kv := range c.Target.Env {
		if !strings.Contains(kv, "=") {
			errs = append(errs, fmt.Errorf("target.env entry %q is not KEY=VALUE", kv))
		}
	}

	if _, err := handshake.ParseMode(c.Handshake.Mode); err != nil {
		errs = append(errs, fmt.Errorf("handshake.mode: %w", err))
	}
	if c.Handshake.ReadyPollInterval <= 0 {
		errs = append(errs, errors.New("handshake.ready_poll_interval must be positive"))
	}
	if c.Handshake.ReadyTimeout < 0 {
		errs = append(errs, errors.New("handshake.ready_timeout must not be negative"))
	}
	if c.Handshake.TrustPrompt == "" && len(c.Handshake.ReadyMarkers) == 0 {
		errs = append(errs, errors.New("handshake needs a trust_prompt or ready_markers"))
	}

	if c.Resolver.MaxAttempts < 1 {
		errs = append(errs, errors.New("resolver.max_attempts must be at least 1"))
	}
	if c.Resolver.Interval < 0 {
		errs = append(errs, errors.New("resolver.interval must not be negative"))
	}

	if _, err := transcript.ParseMatchMode(c.Verifier.Match); err != nil {
		errs = append(errs, fmt.Errorf("verifier.match: %w", err))
	}
	if c.Verifier.MaxAttempts < 1 {
		errs = append(errs, errors.New("verifier.max_attempts must be at least 1"))
	}
	if c.Verifier.Interval < 0 {
		errs = append(errs, errors.New("verifier.interval must not be negative"))
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not json or text", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Save writes the configuration to a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		if err := fsys[0].MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		return fsys[0].WriteFile(path, data, 0644)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string, fsys ports.FileSystem) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := fsys.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
