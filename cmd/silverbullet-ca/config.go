// Copyright (C) 2026 GÉANT Association
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package main

import (
	"fmt"
	"os"
	"strconv"

	"go.yaml.in/yaml/v3"
)

// serverConfig holds all configuration for the silverbullet-ca server.
// Fields are populated from (lowest → highest priority):
//
//	built-in defaults → config file → env vars → CLI flags
type serverConfig struct {
	CADir       string `yaml:"cadir"`
	DBPath      string `yaml:"db_path"`
	Consortium  string `yaml:"consortium"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Verbosity   int    `yaml:"verbosity"`
	LogFile     string `yaml:"logfile"`
	TLSCert     string `yaml:"tls_cert"`
	TLSKey      string `yaml:"tls_key"`
	OpenSSLPath string `yaml:"openssl_path"`
}

// loadServerConfig applies built-in defaults, optionally loads a YAML
// config file, then overlays environment variables. configFile may be ""
// to skip file loading.
func loadServerConfig(configFile string) (*serverConfig, error) {
	cfg := &serverConfig{
		Host:       "127.0.0.1",
		Port:       8447,
		Consortium: "eduroam",
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configFile, err)
		}
	}

	applyServerEnv(cfg)
	return cfg, nil
}

// applyServerEnv overlays SILVERBULLET_* environment variables onto cfg.
func applyServerEnv(cfg *serverConfig) {
	if v := os.Getenv("SILVERBULLET_CADIR"); v != "" {
		cfg.CADir = v
	}
	if v := os.Getenv("SILVERBULLET_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SILVERBULLET_CONSORTIUM"); v != "" {
		cfg.Consortium = v
	}
	if v := os.Getenv("SILVERBULLET_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("SILVERBULLET_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("SILVERBULLET_VERBOSITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Verbosity = n
		}
	}
	if v := os.Getenv("SILVERBULLET_LOGFILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("SILVERBULLET_TLS_CERT"); v != "" {
		cfg.TLSCert = v
	}
	if v := os.Getenv("SILVERBULLET_TLS_KEY"); v != "" {
		cfg.TLSKey = v
	}
	if v := os.Getenv("SILVERBULLET_OPENSSL_PATH"); v != "" {
		cfg.OpenSSLPath = v
	}
}

// resolveConfigFile returns the config file path to use:
// cliFlag → envVar → defaultPath (if it exists) → "".
func resolveConfigFile(cliFlag, envVar, defaultPath string) string {
	if cliFlag != "" {
		return cliFlag
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}
	return ""
}
