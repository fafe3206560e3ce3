package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sveturs/abkit/internal/abtest"
	"github.com/sveturs/abkit/internal/server"
)

// fileConfig is the optional YAML config file. Flags override its values;
// missing sections fall back to defaults.
type fileConfig struct {
	DB     string        `yaml:"db"`
	APIURL string        `yaml:"api_url"`
	Server server.Config `yaml:"server"`
	Engine abtest.Config `yaml:"engine"`
}

func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
