// Package config loads seccompd configuration from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/eliteGoblin/focusd/sec_comp/internal/infra"
	"github.com/eliteGoblin/focusd/sec_comp/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. SECCOMP_LOGGING_LEVEL.
const EnvPrefix = "SECCOMP"

// Config holds the complete service configuration.
type Config struct {
	Service    ServiceConfig    `toml:"service" envconfig:"SERVICE"`
	Timing     TimingConfig     `toml:"timing" envconfig:"TIMING"`
	Validation ValidationConfig `toml:"validation" envconfig:"VALIDATION"`
	Display    DisplayConfig    `toml:"display" envconfig:"DISPLAY"`
	Consent    ConsentConfig    `toml:"consent" envconfig:"CONSENT"`
	Identity   IdentityConfig   `toml:"identity" envconfig:"IDENTITY"`
	Logging    logging.Config   `toml:"logging" envconfig:"LOGGING"`
	Audit      AuditConfig      `toml:"audit" envconfig:"AUDIT"`
	Transport  TransportConfig  `toml:"transport" envconfig:"TRANSPORT"`
	Metrics    MetricsConfig    `toml:"metrics" envconfig:"METRICS"`
}

// ServiceConfig holds registry limits and runtime layout.
type ServiceConfig struct {
	Mode                    string   `toml:"mode" envconfig:"MODE"` // auto, user or system
	DataDir                 string   `toml:"data_dir" envconfig:"DATA_DIR"`
	MaxComponentsPerProcess int      `toml:"max_components_per_process" envconfig:"MAX_COMPONENTS"`
	AllowNoBackground       bool     `toml:"allow_no_background" envconfig:"ALLOW_NO_BACKGROUND"`
	DLPTokens               []uint32 `toml:"dlp_tokens" envconfig:"DLP_TOKENS"`
}

// TimingConfig holds every delay the service schedules.
type TimingConfig struct {
	SaveRevokeDelay       time.Duration `toml:"save_revoke_delay" envconfig:"SAVE_REVOKE_DELAY"`
	BackgroundRevokeDelay time.Duration `toml:"background_revoke_delay" envconfig:"BACKGROUND_REVOKE_DELAY"`
	IdleExitDelay         time.Duration `toml:"idle_exit_delay" envconfig:"IDLE_EXIT_DELAY"`
	ProcessPollInterval   time.Duration `toml:"process_poll_interval" envconfig:"PROCESS_POLL_INTERVAL"`
	TouchWindow           time.Duration `toml:"touch_window" envconfig:"TOUCH_WINDOW"`
}

// ValidationConfig holds geometry and style tunables.
type ValidationConfig struct {
	AbsoluteTolerance float64  `toml:"absolute_tolerance" envconfig:"ABSOLUTE_TOLERANCE"`
	PercentTolerance  float64  `toml:"percent_tolerance" envconfig:"PERCENT_TOLERANCE"`
	TooLargeRatio     float64  `toml:"too_large_ratio" envconfig:"TOO_LARGE_RATIO"`
	TouchTolerance    float64  `toml:"touch_tolerance" envconfig:"TOUCH_TOLERANCE"`
	BackgroundAllow   []uint32 `toml:"background_allow" envconfig:"BACKGROUND_ALLOW"`
}

// DisplayConfig lists the displays components can be drawn on.
type DisplayConfig struct {
	Displays []infra.DisplaySpec `toml:"displays" ignored:"true"`
}

// ConsentConfig holds first-use consent settings.
type ConsentConfig struct {
	Encrypt      bool          `toml:"encrypt" envconfig:"ENCRYPT"`
	PersistDelay time.Duration `toml:"persist_delay" envconfig:"PERSIST_DELAY"`
	DialogTTL    time.Duration `toml:"dialog_ttl" envconfig:"DIALOG_TTL"`
	// DialogCommand is run with the dialog request as JSON on stdin.
	// Empty only logs the request; a system UI completes it over the API.
	DialogCommand string `toml:"dialog_command" envconfig:"DIALOG_COMMAND"`
}

// IdentityConfig lists privileged uids.
type IdentityConfig struct {
	SystemUIDs         []int32 `toml:"system_uids" envconfig:"SYSTEM_UIDS"`
	CustomizeSaveUIDs  []int32 `toml:"customize_save_uids" envconfig:"CUSTOMIZE_SAVE_UIDS"`
	RequireLiveProcess bool    `toml:"require_live_process" envconfig:"REQUIRE_LIVE_PROCESS"`
}

// AuditConfig holds the audit log location.
type AuditConfig struct {
	File   string `toml:"file" envconfig:"FILE"` // Empty disables the audit file
	Buffer int    `toml:"buffer" envconfig:"BUFFER"`
}

// TransportConfig holds the local API settings.
type TransportConfig struct {
	Socket         string  `toml:"socket" envconfig:"SOCKET"`
	RateLimitRPS   float64 `toml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `toml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST"`
	RateLimit      bool    `toml:"rate_limit" envconfig:"RATE_LIMIT_ENABLED"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" envconfig:"ENABLED"`
	Path    string `toml:"path" envconfig:"PATH"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Mode:                    "auto",
			MaxComponentsPerProcess: 500,
		},
		Timing: TimingConfig{
			SaveRevokeDelay:       60 * time.Second,
			BackgroundRevokeDelay: 10 * time.Second,
			IdleExitDelay:         120 * time.Second,
			ProcessPollInterval:   5 * time.Second,
			TouchWindow:           1000 * time.Millisecond,
		},
		Validation: ValidationConfig{
			AbsoluteTolerance: 1.0,
			PercentTolerance:  0.001,
			TooLargeRatio:     0.3,
			TouchTolerance:    1.0,
		},
		Display: DisplayConfig{
			Displays: []infra.DisplaySpec{{ID: 0, Width: 1080, Height: 2340}},
		},
		Consent: ConsentConfig{
			Encrypt:      true,
			PersistDelay: 2 * time.Second,
			DialogTTL:    5 * time.Minute,
		},
		Identity: IdentityConfig{
			SystemUIDs:         []int32{0},
			RequireLiveProcess: true,
		},
		Logging: logging.DefaultConfig(),
		Audit: AuditConfig{
			Buffer: 1024,
		},
		Transport: TransportConfig{
			RateLimitRPS:   100,
			RateLimitBurst: 200,
			RateLimit:      true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads path over the defaults, then applies SECCOMP_* environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Service.MaxComponentsPerProcess <= 0 {
		errs = append(errs, errors.New("service.max_components_per_process must be positive"))
	}
	if _, ok := infra.ParseExecMode(c.Service.Mode); !ok {
		errs = append(errs, fmt.Errorf("service.mode %q is not auto, user or system", c.Service.Mode))
	}

	for name, d := range map[string]time.Duration{
		"timing.save_revoke_delay":       c.Timing.SaveRevokeDelay,
		"timing.background_revoke_delay": c.Timing.BackgroundRevokeDelay,
		"timing.idle_exit_delay":         c.Timing.IdleExitDelay,
		"timing.process_poll_interval":   c.Timing.ProcessPollInterval,
		"timing.touch_window":            c.Timing.TouchWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.Validation.AbsoluteTolerance < 0 || c.Validation.PercentTolerance < 0 {
		errs = append(errs, errors.New("validation tolerances must not be negative"))
	}
	if c.Validation.TooLargeRatio <= 0 || c.Validation.TooLargeRatio > 1 {
		errs = append(errs, errors.New("validation.too_large_ratio must be in (0, 1]"))
	}

	if len(c.Display.Displays) == 0 {
		errs = append(errs, errors.New("display.displays must list at least one display"))
	}
	seen := make(map[uint64]bool)
	for _, d := range c.Display.Displays {
		if d.Width <= 0 || d.Height <= 0 {
			errs = append(errs, fmt.Errorf("display %d has invalid size", d.ID))
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("display %d listed twice", d.ID))
		}
		seen[d.ID] = true
	}

	if c.Transport.RateLimit && (c.Transport.RateLimitRPS <= 0 || c.Transport.RateLimitBurst <= 0) {
		errs = append(errs, errors.New("transport rate limit must be positive when enabled"))
	}
	return errors.Join(errs...)
}
