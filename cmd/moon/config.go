package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// cliConfig is the optional YAML file accepted by every subcommand.
type cliConfig struct {
	Log     logConfig     `yaml:"log"`
	Lua     luaConfig     `yaml:"lua"`
	State   stateConfig   `yaml:"state"`
	Metrics metricsConfig `yaml:"metrics"`
}

type logConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
}

type luaConfig struct {
	Libraries []string                  `yaml:"libraries"`
	Base      string                    `yaml:"base"`
	Bases     map[string]map[string]any `yaml:"bases"`
	Strict    bool                      `yaml:"strict"`
}

type stateConfig struct {
	Path   string `yaml:"path"`
	Bucket string `yaml:"bucket"`
}

type metricsConfig struct {
	Addr string `yaml:"addr"`
}

func defaultConfig() cliConfig {
	return cliConfig{
		Log: logConfig{
			Level:      "warn",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (cliConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c cliConfig) validate() error {
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return errors.New("log rotation limits must not be negative")
	}
	if c.Lua.Base != "" {
		if _, ok := c.Lua.Bases[c.Lua.Base]; !ok {
			return fmt.Errorf("lua base %q is not defined", c.Lua.Base)
		}
	}
	return nil
}
