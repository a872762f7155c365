// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package config loads the server configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "/etc/spyhop/config.yaml"

// Config holds the server configuration.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port string `yaml:"port"`
	// AllowedOrigins restricts WebSocket upgrades to the listed origins.
	// An entry is an exact origin, "*" for any, or a ":*" port wildcard
	// such as "http://localhost:*". Empty rejects all browser connections.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// SpecDir is the directory of per-session spawn spec files.
	SpecDir string `yaml:"spec_dir"`
	// LogFile redirects logs from stderr to a file when set.
	LogFile string `yaml:"log_file"`
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() *Config {
	return &Config{
		Port: "8080",
	}
}

// Load reads the YAML file named by SPYHOP_CONFIG (default
// /etc/spyhop/config.yaml) and applies environment overrides on top.
// A missing file is not an error.
func Load() (*Config, error) {
	path := os.Getenv("SPYHOP_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	return loadFile(path)
}

func loadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitOrigins(v)
	}
	if v := os.Getenv("SPYHOP_SPEC_DIR"); v != "" {
		c.SpecDir = v
	}
	if v := os.Getenv("SPYHOP_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("SPYHOP_DEBUG"); v != "" {
		c.Debug = v == "1" || strings.EqualFold(v, "true")
	}
}

// splitOrigins parses a comma-separated origin list, dropping empty entries.
func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
