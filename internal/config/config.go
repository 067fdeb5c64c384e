// Package config layers ferry settings from three sources, lowest to
// highest precedence: built-in defaults, an optional YAML file, and
// FERRY_* environment variables. Command-line flags sit above all of
// these and are applied by the command layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Connections int           `yaml:"connections" validate:"min=1,max=64"`
	Workers     int           `yaml:"workers" validate:"min=1,max=16"`
	Timeout     time.Duration `yaml:"timeout"`
	KATimeout   time.Duration `yaml:"keep_alive_timeout"`
	UserAgent   string        `yaml:"user_agent"`
	Proxy       string        `yaml:"proxy" validate:"omitempty,url"`
	RateLimit   string        `yaml:"rate_limit"`

	Server   string `yaml:"server" validate:"omitempty,url"`
	Token    string `yaml:"token"`
	Username string `yaml:"username"`

	Debug bool `yaml:"debug"`
}

func Default() Config {
	return Config{
		Connections: 4,
		Workers:     2,
		Timeout:     3 * time.Hour,
		KATimeout:   90 * time.Second,
	}
}

// Load returns the layered configuration. A missing file at path is an
// error only when the path was given explicitly.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("error parsing config file %s: %v", path, err)
			}
		case os.IsNotExist(err) && !explicit:
			// Default location absent, carry on with defaults.
		default:
			return cfg, fmt.Errorf("error reading config file %s: %v", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DefaultPath is the conventional config location under the user's home
// directory, empty when the home directory cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.ferry.yaml"
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FERRY_SERVER"); v != "" {
		c.Server = v
	}
	if v := os.Getenv("FERRY_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("FERRY_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("FERRY_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("FERRY_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("FERRY_RATE_LIMIT"); v != "" {
		c.RateLimit = v
	}
	if v := os.Getenv("FERRY_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Connections = n
		}
	}
	if v := os.Getenv("FERRY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv("FERRY_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}
	return nil
}
