package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models marketline.yml.
type Config struct {
	Server struct {
		Addr    string `yaml:"addr"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret    string `yaml:"jwt_secret"`
		TokenTTLMins int    `yaml:"token_ttl_minutes"`
		DevLogin     bool   `yaml:"dev_login"`
	} `yaml:"auth"`
	Uploads struct {
		MaxSizeMB int    `yaml:"max_size_mb"`
		Dir       string `yaml:"dir"`
	} `yaml:"uploads"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "marketline.yml")
}

// Default returns a Config with every field at its default value.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Auth.TokenTTLMins = 15
	cfg.Uploads.MaxSizeMB = 50
	cfg.Uploads.Dir = ""
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config.auth.jwt_secret is required")
	}
	if c.Auth.TokenTTLMins <= 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must be positive")
	}
	if c.Uploads.MaxSizeMB <= 0 {
		return fmt.Errorf("config.uploads.max_size_mb must be positive")
	}
	return nil
}

// MaxUploadBytes converts the configured upload cap to bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Uploads.MaxSizeMB) << 20
}

// Load reads config from the workspace, applying defaults for fields the
// file leaves unset.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ml init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when no config file exists. The JWT
// secret still has to come from somewhere, so Validate is deferred to
// the caller after environment overrides are applied.
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

// FromYAML parses config from raw YAML bytes on top of the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return cfg, nil
}

// GenerateDefault returns starter config YAML for ml init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: ":8080"
  base_url: "http://localhost:8080"

auth:
  jwt_secret: ""
  token_ttl_minutes: 15
  dev_login: false

uploads:
  max_size_mb: 50
  dir: ""
`
