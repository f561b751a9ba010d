package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the rotor configuration file (~/.config/rotor/config.yaml).
type Config struct {
	BenchConfig string `yaml:"bench_config"`
	Cores       *int64 `yaml:"cores"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "rotor", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyConfig applies config file defaults when the corresponding CLI flag
// was not explicitly set.
func applyConfig(c *cli.Command, cfg Config) {
	if cfg.BenchConfig != "" && !c.IsSet("config") {
		benchConfig = cfg.BenchConfig
	}
	if cfg.Cores != nil && !c.IsSet("cores") {
		cores = *cfg.Cores
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}
