// Package config loads the agent's YAML configuration file, shaped after
// notch/agent/notch_config.py: a device_sources section (provider configs
// for the registry), an options section (port, credentials path, log
// level), and a timers section (session_maint_period).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath is the environment variable naming the agent's config file,
// per spec.md §6.
const EnvConfigPath = "NOTCH_CONFIG"

// DeviceSource configures one registry provider (spec.md §4.6).
type DeviceSource struct {
	Provider         string `yaml:"provider"`
	Priority         int    `yaml:"priority"`
	Root             string `yaml:"root,omitempty"`
	IgnoreDownDevices bool  `yaml:"ignore_down_devices,omitempty"`
}

// Options holds miscellaneous agent settings.
type Options struct {
	Port        int    `yaml:"port"`
	Credentials string `yaml:"credentials"`
	LogLevel    string `yaml:"log_level"`
	JSONLogs    bool   `yaml:"json_logs"`
}

// Timers holds background-task periods.
type Timers struct {
	SessionMaintPeriod float64 `yaml:"session_maint_period"`
}

// Config is the top-level agent configuration document.
type Config struct {
	DeviceSources map[string]DeviceSource `yaml:"device_sources"`
	Options       Options                 `yaml:"options"`
	Timers        Timers                  `yaml:"timers"`
}

// DefaultSessionMaintPeriod is used when timers.session_maint_period is
// unset or non-positive (spec.md §4.7).
const DefaultSessionMaintPeriod = 10.0

// SessionMaintPeriod returns the configured sweep interval, or the default.
func (c *Config) SessionMaintPeriod() time.Duration {
	p := c.Timers.SessionMaintPeriod
	if p <= 0 {
		p = DefaultSessionMaintPeriod
	}
	return time.Duration(p * float64(time.Second))
}

// Load reads and parses a YAML config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if len(c.DeviceSources) == 0 {
		return nil, fmt.Errorf("config %q has no device_sources section", path)
	}
	return &c, nil
}
