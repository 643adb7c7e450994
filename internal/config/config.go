package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/loomctl/loom/internal/state"
)

// DefaultPath is where workspace settings are looked up relative to the
// project directory.
const DefaultPath = ".loom/config.yaml"

// Settings are the per-workspace settings. They configure how the tool
// runs, not what it manages; the managed resources live in the PKL
// configuration.
type Settings struct {
	Backend     state.Config              `yaml:"backend"`
	Parallelism int                       `yaml:"parallelism"`
	Log         LogSettings               `yaml:"log"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
}

// LogSettings controls diagnostic output.
type LogSettings struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// ProviderConfig carries provider connection settings, passed verbatim
// to Provider.Configure.
type ProviderConfig struct {
	Settings map[string]string `yaml:"settings,omitempty"`
}

// Load reads workspace settings from path. A missing file yields the
// defaults: local backend, info-level console logging.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var s Settings
	if err := yaml.Unmarshal([]byte(expanded), &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	s.applyDefaults()
	return &s, nil
}

// Default returns the settings used when no config file exists.
func Default() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

func (s *Settings) applyDefaults() {
	if s.Backend.Type == "" {
		s.Backend.Type = "local"
	}
	if s.Parallelism <= 0 {
		s.Parallelism = 10
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Format == "" {
		s.Log.Format = "console"
	}
}

// expandEnvVars expands ${VAR} and ${VAR:default} references so settings
// files can pull credentials from the environment instead of embedding
// them.
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
