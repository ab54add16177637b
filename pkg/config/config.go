// Package config handles configuration for settings-runner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/settings-runner/pkg/core"
)

// File names looked up by LoadFromDir, in order.
const (
	FileNameYAML = "settings-runner.yaml"
	FileNameYML  = "settings-runner.yml"
)

// Device class settings.
const (
	DeviceClassAuto    = "auto"
	DeviceClassTV      = "tv"
	DeviceClassDefault = "default"
)

// Config represents the runner configuration (settings-runner.yaml).
type Config struct {
	// Identity of the automating application
	OwnPackage    string `yaml:"ownPackage"`    // Package that must end up in the foreground
	EntryActivity string `yaml:"entryActivity"` // Main activity for the fallback launch
	OwnService    string `yaml:"ownService"`    // Accessibility service, flattened package/class

	// Device settings
	Device      string `yaml:"device"`      // adb serial, empty = auto-detect
	DeviceClass string `yaml:"deviceClass"` // auto, tv, default

	// Timing
	PollInterval      time.Duration `yaml:"pollInterval"`      // Window root polling interval
	WindowRootTimeout time.Duration `yaml:"windowRootTimeout"` // Overall wait for a root, 0 = unbounded
	GestureTimeout    time.Duration `yaml:"gestureTimeout"`    // Wait for gesture callback, 0 = unbounded

	// Snapshot capture
	LabelResourceID string `yaml:"labelResourceId"` // Resource id of size labels

	Recovery RecoveryConfig `yaml:"recovery"`
}

// RecoveryConfig tunes the return-to-app loop.
type RecoveryConfig struct {
	MaxBackAttempts int           `yaml:"maxBackAttempts"`
	BackDelay       time.Duration `yaml:"backDelay"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DeviceClass:       DeviceClassAuto,
		PollInterval:      250 * time.Millisecond,
		WindowRootTimeout: 30 * time.Second,
		GestureTimeout:    10 * time.Second,
		LabelResourceID:   "android:id/summary",
		Recovery: RecoveryConfig{
			MaxBackAttempts: 10,
			BackDelay:       200 * time.Millisecond,
		},
	}
}

// Load loads configuration from a file. Unset fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir looks for settings-runner.yaml or settings-runner.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{FileNameYAML, FileNameYML} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return defaults
	return Default(), nil
}

// Validate checks value ranges. Command-specific requirements are checked by callers.
func (c *Config) Validate() error {
	var problems []string

	if c.PollInterval <= 0 {
		problems = append(problems, "pollInterval must be positive")
	}
	if c.WindowRootTimeout < 0 {
		problems = append(problems, "windowRootTimeout must not be negative")
	}
	if c.GestureTimeout < 0 {
		problems = append(problems, "gestureTimeout must not be negative")
	}
	if c.Recovery.MaxBackAttempts < 1 {
		problems = append(problems, "recovery.maxBackAttempts must be at least 1")
	}
	if c.Recovery.BackDelay < 0 {
		problems = append(problems, "recovery.backDelay must not be negative")
	}
	switch strings.ToLower(c.DeviceClass) {
	case "", DeviceClassAuto, DeviceClassTV, DeviceClassDefault:
	default:
		problems = append(problems, fmt.Sprintf("deviceClass %q is not one of auto, tv, default", c.DeviceClass))
	}
	if c.OwnService != "" && !strings.Contains(c.OwnService, "/") {
		problems = append(problems, fmt.Sprintf("ownService %q is not in package/class form", c.OwnService))
	}

	if len(problems) > 0 {
		return core.ErrInvalidConfig.
			WithMessage("invalid configuration: " + strings.Join(problems, "; ")).
			WithDetails(map[string]interface{}{"problems": problems})
	}
	return nil
}

// FixedDeviceClass returns the configured class and true, or false when it must be detected.
func (c *Config) FixedDeviceClass() (core.DeviceClass, bool) {
	switch strings.ToLower(c.DeviceClass) {
	case DeviceClassTV:
		return core.DeviceClassTV, true
	case DeviceClassDefault:
		return core.DeviceClassDefault, true
	default:
		return core.DeviceClassDefault, false
	}
}
