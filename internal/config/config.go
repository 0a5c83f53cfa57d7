package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"marketbot/internal/jobs"
	"marketbot/internal/scheduler"
)

// Config models marketbot.yml.
type Config struct {
	Discord struct {
		Token string `yaml:"token"`
		AppID string `yaml:"app_id"`
		// ResponseTimeout bounds every interaction response sent back to the platform.
		ResponseTimeout time.Duration `yaml:"response_timeout"`
	} `yaml:"discord"`
	HTTP struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"http"`
	Interaction struct {
		DialogTimeout time.Duration `yaml:"dialog_timeout"`
	} `yaml:"interaction"`
	Listings ListingRules      `yaml:"listings"`
	Jobs     map[string]string `yaml:"jobs"`
	Log      struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// ListingRules are the limits the executor enforces on user commands.
type ListingRules struct {
	ClosureGrace       time.Duration `yaml:"closure_grace"`
	MaxExtension       time.Duration `yaml:"max_extension"`
	MaxDiscountPercent int           `yaml:"max_discount_percent"`
	MaxOfferLength     int           `yaml:"max_offer_length"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with marketbot config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
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
	if c.Interaction.DialogTimeout <= 0 {
		return fmt.Errorf("config.interaction.dialog_timeout must be positive")
	}
	if c.Discord.ResponseTimeout <= 0 {
		return fmt.Errorf("config.discord.response_timeout must be positive")
	}
	if c.Listings.ClosureGrace < 0 {
		return fmt.Errorf("config.listings.closure_grace must not be negative")
	}
	if c.Listings.MaxExtension <= 0 {
		return fmt.Errorf("config.listings.max_extension must be positive")
	}
	if c.Listings.MaxDiscountPercent < 1 || c.Listings.MaxDiscountPercent > 99 {
		return fmt.Errorf("config.listings.max_discount_percent must be between 1 and 99")
	}
	if c.Listings.MaxOfferLength <= 0 {
		return fmt.Errorf("config.listings.max_offer_length must be positive")
	}
	for name, spec := range c.Jobs {
		if !knownJob(name) {
			return fmt.Errorf("config.jobs has unknown job %s (known: %s)", name, strings.Join(jobs.Names, ", "))
		}
		if _, err := scheduler.ParseSchedule(spec); err != nil {
			return fmt.Errorf("config.jobs.%s: %w", name, err)
		}
	}
	for _, name := range jobs.Names {
		if _, ok := c.Jobs[name]; !ok {
			return fmt.Errorf("config.jobs.%s is required", name)
		}
	}
	if c.HTTP.BasePath != "" && !strings.HasPrefix(c.HTTP.BasePath, "/") {
		return fmt.Errorf("config.http.base_path must start with /")
	}
	return nil
}

func knownJob(name string) bool {
	for _, n := range jobs.Names {
		if n == name {
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
	return filepath.Join(workspace, "marketbot.yml")
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

// FromYAML parses config from raw YAML bytes on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `discord:
  # token and app_id are usually supplied as MARKETBOT_DISCORD_TOKEN / MARKETBOT_DISCORD_APP_ID
  token: ""
  app_id: ""
  response_timeout: 3s

http:
  addr: 127.0.0.1:8080
  base_path: ""
  jwt_secret: ""

interaction:
  dialog_timeout: 5m

listings:
  closure_grace: 24h
  max_extension: 168h
  max_discount_percent: 90
  max_offer_length: 500

jobs:
  activation: "@every 1m"
  expiration: "@every 1m"
  pending_closure: "@every 5m"
  discount_expiration: "@every 5m"

log:
  level: info
`
