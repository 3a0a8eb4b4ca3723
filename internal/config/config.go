package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models rewardline.yml.
type Config struct {
	Timezone struct {
		// OffsetMinutes is the canonical business offset from UTC under which
		// all caller-supplied local timestamps are interpreted.
		OffsetMinutes int `yaml:"offset_minutes"`
	} `yaml:"timezone"`
	Currencies []string `yaml:"currencies"`
	Claims     struct {
		// MaxRetries bounds re-reads when a conditional claim write loses a race.
		MaxRetries int `yaml:"max_retries"`
	} `yaml:"claims"`
	Proof struct {
		DefaultMinDescriptionChars int `yaml:"default_min_description_chars"`
	} `yaml:"proof"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run rl init or create it from the default template", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Timezone.OffsetMinutes < -14*60 || c.Timezone.OffsetMinutes > 14*60 {
		return fmt.Errorf("config.timezone.offset_minutes out of range")
	}
	if len(c.Currencies) == 0 {
		return fmt.Errorf("config.currencies must list at least one currency")
	}
	for _, cur := range c.Currencies {
		if cur == "" {
			return fmt.Errorf("config.currencies contains empty entry")
		}
	}
	if c.Claims.MaxRetries < 1 {
		return fmt.Errorf("config.claims.max_retries must be >= 1")
	}
	if c.Proof.DefaultMinDescriptionChars < 0 {
		return fmt.Errorf("config.proof.default_min_description_chars must be >= 0")
	}
	return nil
}

// KnownCurrency reports whether cur is in the configured catalog.
func (c *Config) KnownCurrency(cur string) bool {
	for _, known := range c.Currencies {
		if known == cur {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rewardline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `timezone:
  # All caller-supplied local timestamps are interpreted under this offset.
  offset_minutes: 480

currencies:
  - ETH
  - NT
  - USDT
  - USDC
  - DAI

claims:
  max_retries: 3

proof:
  default_min_description_chars: 10
`
