package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}

	for i, s := range cfg.Sessions {
		if s.Name == "" {
			return nil, fmt.Errorf("sessions[%d]: name is required", i)
		}
		if s.Driver.BaseURL == "" {
			return nil, fmt.Errorf("session %q: driver.base_url is required", s.Name)
		}
		if len(s.Items) == 0 {
			return nil, fmt.Errorf("session %q: at least one item is required", s.Name)
		}
		for j, it := range s.Items {
			if it.Key == "" {
				return nil, fmt.Errorf("session %q: items[%d]: key is required", s.Name, j)
			}
		}
	}

	return &cfg, nil
}
