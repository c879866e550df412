// Package config provides the immutable runtime configuration for the
// console: channel sizing, backpressure policy, timeouts, retry and restart
// limits, and the agent command each pane runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BackpressurePolicy selects the admission rule applied when the queue
// depth reaches the backpressure threshold.
type BackpressurePolicy string

const (
	// DropOldest evicts the head of the queue and admits the new request.
	DropOldest BackpressurePolicy = "drop_oldest"

	// DropNewest rejects the incoming request and leaves the queue untouched.
	DropNewest BackpressurePolicy = "drop_newest"

	// BlockUntilSpace suspends the producer until depth falls below the
	// threshold.
	BlockUntilSpace BackpressurePolicy = "block"

	// Reject fails the send immediately with a capacity-exceeded error.
	Reject BackpressurePolicy = "reject"
)

// Valid reports whether p is a known policy.
func (p BackpressurePolicy) Valid() bool {
	switch p {
	case DropOldest, DropNewest, BlockUntilSpace, Reject:
		return true
	}
	return false
}

// Config is the full console configuration. It is built once at startup
// (defaults, then optional TOML file, then DECK_* env overrides) and never
// mutated afterwards.
type Config struct {
	// ChannelCapacity is the hard bound C on queued requests.
	ChannelCapacity int `toml:"channel_capacity"`

	// BackpressureThreshold is the depth T at which the admission policy
	// engages. Must be less than ChannelCapacity.
	BackpressureThreshold int `toml:"backpressure_threshold"`

	// BackpressurePolicy is the admission rule applied at the threshold.
	BackpressurePolicy BackpressurePolicy `toml:"backpressure_policy"`

	// RequestTimeout bounds how long a Send waits for its response.
	RequestTimeout time.Duration `toml:"request_timeout"`

	// MaxRetryAttempts caps SendWithRetry attempts for transient errors.
	MaxRetryAttempts int `toml:"max_retry_attempts"`

	// RetryDelay is the base inter-attempt delay; attempt N waits N*RetryDelay.
	RetryDelay time.Duration `toml:"retry_delay"`

	// RefreshInterval throttles UI redraws driven by worker output.
	RefreshInterval time.Duration `toml:"refresh_interval"`

	// MaxRestartAttempts caps explicit restarts per pane.
	MaxRestartAttempts int `toml:"max_restart_attempts"`

	// RestartCooldown is the minimum gap between restart attempts for one
	// pane, guarding against tight crash loops.
	RestartCooldown time.Duration `toml:"restart_cooldown"`

	// StopGracePeriod is how long a worker gets between SIGTERM and SIGKILL.
	StopGracePeriod time.Duration `toml:"stop_grace_period"`

	// UnhealthyAfter is the consecutive send-failure count that flips a
	// Running pane to Unhealthy.
	UnhealthyAfter int `toml:"unhealthy_after"`

	// MaxBufferLines bounds each pane's retained output buffer.
	MaxBufferLines int `toml:"max_buffer_lines"`

	// AgentCommand is the agent program launched in each pane's worker.
	AgentCommand string `toml:"agent_command"`

	// AgentArgs are extra arguments passed to AgentCommand.
	AgentArgs []string `toml:"agent_args"`

	// RuntimeDir holds per-pane sockets and the instance lock.
	RuntimeDir string `toml:"runtime_dir"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		ChannelCapacity:       100,
		BackpressureThreshold: 80,
		BackpressurePolicy:    DropOldest,
		RequestTimeout:        5 * time.Second,
		MaxRetryAttempts:      3,
		RetryDelay:            100 * time.Millisecond,
		RefreshInterval:       100 * time.Millisecond,
		MaxRestartAttempts:    5,
		RestartCooldown:       10 * time.Second,
		StopGracePeriod:       5 * time.Second,
		UnhealthyAfter:        3,
		MaxBufferLines:        5000,
		AgentCommand:          "claude",
		RuntimeDir:            defaultRuntimeDir(),
	}
}

func defaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "crewdeck")
	}
	return filepath.Join(os.TempDir(), "crewdeck")
}

// Validate checks internal consistency. It is called after all layers
// (defaults, file, env) have been applied.
func (c Config) Validate() error {
	if c.ChannelCapacity <= 0 {
		return fmt.Errorf("channel_capacity must be positive, got %d", c.ChannelCapacity)
	}
	if c.BackpressureThreshold <= 0 || c.BackpressureThreshold >= c.ChannelCapacity {
		return fmt.Errorf("backpressure_threshold must be in (0, %d), got %d",
			c.ChannelCapacity, c.BackpressureThreshold)
	}
	if !c.BackpressurePolicy.Valid() {
		return fmt.Errorf("unknown backpressure_policy %q", c.BackpressurePolicy)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", c.RequestTimeout)
	}
	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("max_retry_attempts must be at least 1, got %d", c.MaxRetryAttempts)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative, got %v", c.RetryDelay)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be positive, got %v", c.RefreshInterval)
	}
	if c.MaxRestartAttempts < 0 {
		return fmt.Errorf("max_restart_attempts must not be negative, got %d", c.MaxRestartAttempts)
	}
	if c.MaxBufferLines <= 0 {
		return fmt.Errorf("max_buffer_lines must be positive, got %d", c.MaxBufferLines)
	}
	if c.AgentCommand == "" {
		return fmt.Errorf("agent_command must be set")
	}
	if c.RuntimeDir == "" {
		return fmt.Errorf("runtime_dir must be set")
	}
	return nil
}
