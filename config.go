package haven

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/havenlab/haven/pkg/vault"
)

// Config configures a haven client instance.
type Config struct {
	// Vault configures the local record and chunk store.
	Vault vault.Config `yaml:"vault"`
	// LogLevel is a logrus level name; empty means "info".
	LogLevel string `yaml:"log_level"`
	// Workers sizes the session worker pool. Zero means one per CPU.
	Workers int `yaml:"workers"`
}

// LoadConfig reads a yaml config file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
