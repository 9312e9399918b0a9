package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Load returns the defaults, overlaid with the YAML file at path (skipped
// when path is empty) and then with the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with the variable's value.
// Unset variables without a default expand to the empty string.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		return groups[2]
	})
}
