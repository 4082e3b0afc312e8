package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Defaults applied to application descriptors.
const (
	DefaultProcessesPerApp     = 1
	DefaultRapidFailsPerMinute = 10
	DefaultStartupTimeLimitMS  = 120000
	DefaultShutdownTimeLimitMS = 10000
)

// PortRange is the range of local ports workers may be bound to.
// A zero range means an ephemeral port is picked per worker.
type PortRange struct {
	Min int `toml:"min"`
	Max int `toml:"max"`
}

// AppConfig describes one backend application: the worker command and
// the pool policy for it. This is the configuration descriptor the pool
// manager reads; the manager caches nothing from it beyond the one-time
// slot count.
type AppConfig struct {
	Name string `toml:"name"`

	// Worker command.
	ProcessPath string            `toml:"process_path"`
	Arguments   string            `toml:"arguments"`
	Environment map[string]string `toml:"environment"`

	// Pool policy.
	ProcessesPerApp     int `toml:"processes_per_app"`
	RapidFailsPerMinute int `toml:"rapid_fails_per_minute"`
	StartupTimeLimitMS  int `toml:"startup_time_limit_ms"`
	ShutdownTimeLimitMS int `toml:"shutdown_time_limit_ms"`

	// Worker output handling.
	StdoutLogEnabled   bool   `toml:"stdout_log_enabled"`
	StdoutLogFile      string `toml:"stdout_log_file"`
	ConsoleRedirection bool   `toml:"console_redirection"`

	// Request forwarding.
	WebsocketSupport   bool `toml:"websocket_support"`
	ForwardAuthHeaders bool `toml:"forward_auth_headers"`
	AnonymousAuth      bool `toml:"anonymous_auth"`

	// Paths presented to the worker.
	PhysicalPath string `toml:"physical_path"`
	VirtualPath  string `toml:"virtual_path"`

	// Bindings.
	Ports PortRange `toml:"ports"`
}

// LoadAppConfig reads and validates an application descriptor from a
// TOML file, applying defaults for unset policy fields.
func LoadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read app config: %w", err)
	}

	var wrapper struct {
		App AppConfig `toml:"app"`
	}
	if err := toml.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse app config: %w", err)
	}

	cfg := wrapper.App
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills unset policy fields.
func (c *AppConfig) applyDefaults() {
	if c.ProcessesPerApp <= 0 {
		c.ProcessesPerApp = DefaultProcessesPerApp
	}
	if c.RapidFailsPerMinute <= 0 {
		c.RapidFailsPerMinute = DefaultRapidFailsPerMinute
	}
	if c.StartupTimeLimitMS <= 0 {
		c.StartupTimeLimitMS = DefaultStartupTimeLimitMS
	}
	if c.ShutdownTimeLimitMS <= 0 {
		c.ShutdownTimeLimitMS = DefaultShutdownTimeLimitMS
	}
	if c.VirtualPath == "" {
		c.VirtualPath = "/"
	}
}

// Validate checks the descriptor for inconsistencies.
func (c *AppConfig) Validate() error {
	if c.ProcessPath == "" {
		return fmt.Errorf("app %q: process_path is required", c.Name)
	}
	if c.Ports.Min < 0 || c.Ports.Max < 0 {
		return fmt.Errorf("app %q: negative port in range", c.Name)
	}
	if c.Ports.Min > c.Ports.Max {
		return fmt.Errorf("app %q: port range min %d exceeds max %d", c.Name, c.Ports.Min, c.Ports.Max)
	}
	if c.Ports.Max > 0 && c.Ports.Max-c.Ports.Min+1 < c.ProcessesPerApp {
		return fmt.Errorf("app %q: port range holds %d ports but processes_per_app is %d",
			c.Name, c.Ports.Max-c.Ports.Min+1, c.ProcessesPerApp)
	}
	if c.StdoutLogEnabled && c.StdoutLogFile == "" {
		return fmt.Errorf("app %q: stdout_log_enabled requires stdout_log_file", c.Name)
	}
	return nil
}

// StartupTimeLimit returns the worker start deadline as a duration.
func (c *AppConfig) StartupTimeLimit() time.Duration {
	return time.Duration(c.StartupTimeLimitMS) * time.Millisecond
}

// ShutdownTimeLimit returns the graceful stop deadline as a duration.
func (c *AppConfig) ShutdownTimeLimit() time.Duration {
	return time.Duration(c.ShutdownTimeLimitMS) * time.Millisecond
}
