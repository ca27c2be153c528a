// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads the keymaster-chatops configuration. Values are layered
// defaults, then the config file, then KEYMASTER_* environment variables, then
// command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/keymaster-chatops/internal/fleet"
	"github.com/toeirei/keymaster-chatops/internal/model"
)

// ConfigName is the base name of the config file (without extension).
const ConfigName = "keymaster-chatops"

type Database struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

type SSH struct {
	User           string        `mapstructure:"user" yaml:"user"`
	PrivateKeyPath string        `mapstructure:"private_key_path" yaml:"private_key_path"`
	KnownHosts     string        `mapstructure:"known_hosts" yaml:"known_hosts"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

type Fleet struct {
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	HostTimeout time.Duration `mapstructure:"host_timeout" yaml:"host_timeout"`
}

type RateLimit struct {
	PerMinute int `mapstructure:"per_minute" yaml:"per_minute"`
	Burst     int `mapstructure:"burst" yaml:"burst"`
}

// Config is the full application configuration.
type Config struct {
	Database      Database      `mapstructure:"database" yaml:"database"`
	Language      string        `mapstructure:"language" yaml:"language"`
	LogLevel      string        `mapstructure:"log_level" yaml:"log_level"`
	Accounts      []string      `mapstructure:"accounts" yaml:"accounts"`
	Hosts         []model.Host  `mapstructure:"hosts" yaml:"hosts"`
	Admins        []string      `mapstructure:"admins" yaml:"admins"`
	SSH           SSH           `mapstructure:"ssh" yaml:"ssh"`
	Fleet         Fleet         `mapstructure:"fleet" yaml:"fleet"`
	ManagementTag string        `mapstructure:"management_tag" yaml:"management_tag"`
	HomeRoot      string        `mapstructure:"home_root" yaml:"home_root"`
	AdminCacheTTL time.Duration `mapstructure:"admin_cache_ttl" yaml:"admin_cache_ttl"`
	RateLimit     RateLimit     `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// Defaults returns the default values keyed the way viper expects them.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":         "sqlite",
		"database.dsn":          "./keymaster-chatops.db",
		"language":              "en",
		"log_level":             "info",
		"ssh.user":              "root",
		"ssh.connect_timeout":   "10s",
		"fleet.concurrency":     5,
		"fleet.host_timeout":    "30s",
		"management_tag":        "keymaster-chatops",
		"home_root":             "/home",
		"admin_cache_ttl":       "5m",
		"rate_limit.per_minute": 6,
		"rate_limit.burst":      3,
	}
}

// Validate reports configuration errors that must stop the process before it
// serves any command.
func (c Config) Validate() error {
	if len(c.Accounts) == 0 {
		return errors.NotValidf("empty account allow-list")
	}
	seen := set.NewStrings()
	for _, a := range c.Accounts {
		if a == "" || strings.ContainsAny(a, ": \t") {
			return errors.NotValidf("account name %q", a)
		}
		if seen.Contains(a) {
			return errors.NotValidf("duplicate account %q", a)
		}
		seen.Add(a)
	}
	if _, err := c.Roster(); err != nil {
		return err
	}
	if !fleet.ValidTag(c.ManagementTag) {
		return errors.NotValidf("management_tag %q", c.ManagementTag)
	}
	if c.Fleet.Concurrency < 1 {
		return errors.NotValidf("fleet.concurrency %d", c.Fleet.Concurrency)
	}
	return nil
}

// Roster builds the immutable host roster from the configured hosts.
func (c Config) Roster() (model.Roster, error) {
	if len(c.Hosts) == 0 {
		return model.Roster{}, errors.NotValidf("empty host roster")
	}
	return model.NewRoster(c.Hosts)
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Keymaster")
		default:
			configDir = "/etc/keymaster"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "keymaster")
	}

	return filepath.Join(configDir, ConfigName+".yaml"), nil
}

// LoadConfig reads configuration into T. configFile, when non-nil and
// non-empty, takes precedence over the standard search locations.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFile *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")

	if configFile != nil && *configFile != "" {
		v.SetConfigFile(*configFile)
	}

	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, defaults and env still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("keymaster")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}

// WriteConfigFile writes c as YAML to the user (or system) config path.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600: the DSN may carry credentials.
	return os.WriteFile(path, data, 0600)
}
