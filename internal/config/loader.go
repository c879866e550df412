package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Env var names recognized as overrides. Env wins over the file, the file
// wins over defaults.
const (
	EnvConfigFile = "DECK_CONFIG"
	EnvAgent      = "DECK_AGENT"
	EnvRuntimeDir = "DECK_RUNTIME_DIR"
	EnvPolicy     = "DECK_BACKPRESSURE_POLICY"
	EnvCapacity   = "DECK_CHANNEL_CAPACITY"
	EnvTimeout    = "DECK_REQUEST_TIMEOUT"
)

// fileConfig is the TOML schema. Durations are strings ("5s", "100ms") and
// every field is optional; nil means "keep the default".
type fileConfig struct {
	ChannelCapacity       *int     `toml:"channel_capacity"`
	BackpressureThreshold *int     `toml:"backpressure_threshold"`
	BackpressurePolicy    *string  `toml:"backpressure_policy"`
	RequestTimeout        *string  `toml:"request_timeout"`
	MaxRetryAttempts      *int     `toml:"max_retry_attempts"`
	RetryDelay            *string  `toml:"retry_delay"`
	RefreshInterval       *string  `toml:"refresh_interval"`
	MaxRestartAttempts    *int     `toml:"max_restart_attempts"`
	RestartCooldown       *string  `toml:"restart_cooldown"`
	StopGracePeriod       *string  `toml:"stop_grace_period"`
	UnhealthyAfter        *int     `toml:"unhealthy_after"`
	MaxBufferLines        *int     `toml:"max_buffer_lines"`
	AgentCommand          *string  `toml:"agent_command"`
	AgentArgs             []string `toml:"agent_args"`
	RuntimeDir            *string  `toml:"runtime_dir"`
}

// Load builds the effective configuration: defaults, then the TOML file at
// path (or $DECK_CONFIG when path is empty), then env overrides. A missing
// file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		} else if err := applyFile(&cfg, fc); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyFile(cfg *Config, fc fileConfig) error {
	if fc.ChannelCapacity != nil {
		cfg.ChannelCapacity = *fc.ChannelCapacity
	}
	if fc.BackpressureThreshold != nil {
		cfg.BackpressureThreshold = *fc.BackpressureThreshold
	}
	if fc.BackpressurePolicy != nil {
		cfg.BackpressurePolicy = BackpressurePolicy(*fc.BackpressurePolicy)
	}
	if fc.MaxRetryAttempts != nil {
		cfg.MaxRetryAttempts = *fc.MaxRetryAttempts
	}
	if fc.MaxRestartAttempts != nil {
		cfg.MaxRestartAttempts = *fc.MaxRestartAttempts
	}
	if fc.UnhealthyAfter != nil {
		cfg.UnhealthyAfter = *fc.UnhealthyAfter
	}
	if fc.MaxBufferLines != nil {
		cfg.MaxBufferLines = *fc.MaxBufferLines
	}
	if fc.AgentCommand != nil {
		cfg.AgentCommand = *fc.AgentCommand
	}
	if fc.AgentArgs != nil {
		cfg.AgentArgs = fc.AgentArgs
	}
	if fc.RuntimeDir != nil {
		cfg.RuntimeDir = *fc.RuntimeDir
	}

	durations := []struct {
		name string
		raw  *string
		dst  *time.Duration
	}{
		{"request_timeout", fc.RequestTimeout, &cfg.RequestTimeout},
		{"retry_delay", fc.RetryDelay, &cfg.RetryDelay},
		{"refresh_interval", fc.RefreshInterval, &cfg.RefreshInterval},
		{"restart_cooldown", fc.RestartCooldown, &cfg.RestartCooldown},
		{"stop_grace_period", fc.StopGracePeriod, &cfg.StopGracePeriod},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAgent); v != "" {
		cfg.AgentCommand = v
	}
	if v := os.Getenv(EnvRuntimeDir); v != "" {
		cfg.RuntimeDir = v
	}
	if v := os.Getenv(EnvPolicy); v != "" {
		cfg.BackpressurePolicy = BackpressurePolicy(v)
	}
	if v := os.Getenv(EnvCapacity); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChannelCapacity = n
		}
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RequestTimeout = d
		}
	}
}
