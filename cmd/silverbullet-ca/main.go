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
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/geant/silverbullet-ca/internal/api"
	"github.com/geant/silverbullet-ca/internal/ca"
	"github.com/geant/silverbullet-ca/internal/storage"
)

// isLoopback reports whether host is a loopback address (127.x.x.x, ::1,
// or "localhost"). Plain HTTP is only safe when the server cannot be
// reached from outside the local host.
func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return host == "localhost"
}

func main() {
	var (
		caDir       string
		dbPath      string
		consortium  string
		host        string
		port        int
		verbosity   int
		logFile     string
		tlsCert     string
		tlsKey      string
		opensslPath string
		configFile  string
	)

	root := &cobra.Command{
		Use:          "silverbullet-ca",
		Short:        "Silverbullet client certificate authority server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved := resolveConfigFile(configFile, "SILVERBULLET_CONFIG", "/etc/silverbullet-ca/config.yaml")
			cfg, err := loadServerConfig(resolved)
			if err != nil {
				return err
			}

			// Apply explicitly-set CLI flags (highest precedence).
			if cmd.Flags().Changed("cadir") {
				cfg.CADir = caDir
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}
			if cmd.Flags().Changed("consortium") {
				cfg.Consortium = consortium
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("verbosity") {
				cfg.Verbosity = verbosity
			}
			if cmd.Flags().Changed("logfile") {
				cfg.LogFile = logFile
			}
			if cmd.Flags().Changed("tls-cert") {
				cfg.TLSCert = tlsCert
			}
			if cmd.Flags().Changed("tls-key") {
				cfg.TLSKey = tlsKey
			}
			if cmd.Flags().Changed("openssl") {
				cfg.OpenSSLPath = opensslPath
			}

			if cfg.CADir == "" {
				return fmt.Errorf("--cadir is required (or set SILVERBULLET_CADIR / cadir in config file)")
			}
			absCADir, err := filepath.Abs(cfg.CADir)
			if err != nil {
				return fmt.Errorf("resolving --cadir: %w", err)
			}
			if cfg.DBPath == "" {
				cfg.DBPath = filepath.Join(absCADir, "silverbullet.db")
			}

			setupLogging(cfg)

			slog.Info("Starting Silverbullet CA",
				"cadir", absCADir,
				"db", cfg.DBPath,
				"host", cfg.Host,
				"port", cfg.Port,
			)

			// Plain HTTP over a non-loopback interface would expose private
			// keys in transit; refuse unless TLS is configured.
			if (cfg.TLSCert == "" || cfg.TLSKey == "") && !isLoopback(cfg.Host) {
				slog.Error("Refusing to start: issued private keys travel over this API. " +
					"Enable TLS (--tls-cert / --tls-key) or restrict to loopback (--host 127.0.0.1).")
				os.Exit(1)
			}

			db, err := storage.Open(cfg.DBPath)
			if err != nil {
				slog.Error("Failed to open certificate database", "error", err)
				os.Exit(1)
			}
			store, err := storage.New(db)
			if err != nil {
				slog.Error("Failed to initialise certificate store", "error", err)
				os.Exit(1)
			}

			paths := ca.DefaultPaths(absCADir)
			keys, err := ca.LoadKeyMaterial(paths)
			if err != nil {
				slog.Error("Failed to load CA key material (run `silverbullet-ca init` first?)", "error", err)
				os.Exit(1)
			}

			caCfg := ca.Config{Consortium: cfg.Consortium}
			if cfg.OpenSSLPath != "" {
				caCfg.OCSPSigner = &ca.OpenSSLPrimitive{
					BinaryPath:      cfg.OpenSSLPath,
					IssuingCertPath: paths.IssuingCert,
					IssuingKeyPath:  paths.IssuingKey,
				}
			}
			authority, err := ca.New(store, keys, caCfg)
			if err != nil {
				slog.Error("Failed to construct CA", "error", err)
				os.Exit(1)
			}

			srv := api.New(authority, store)

			addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
			slog.Info("Listening", "address", addr)

			server := &http.Server{
				Addr:              addr,
				Handler:           srv.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
				MaxHeaderBytes:    1 << 20,
			}

			if cfg.TLSCert != "" && cfg.TLSKey != "" {
				serverCert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
				if err != nil {
					slog.Error("Failed to load TLS cert/key", "cert", cfg.TLSCert, "key", cfg.TLSKey, "error", err)
					os.Exit(1)
				}
				server.TLSConfig = &tls.Config{
					Certificates: []tls.Certificate{serverCert},
					MinVersion:   tls.VersionTLS12,
				}
				slog.Info("TLS enabled", "cert", cfg.TLSCert)
				if err := server.ListenAndServeTLS("", ""); err != nil {
					slog.Error("Server failed", "error", err)
					os.Exit(1)
				}
				return nil
			}

			if err := server.ListenAndServe(); err != nil {
				slog.Error("Server failed", "error", err)
				os.Exit(1)
			}
			return nil
		},
	}

	root.Flags().StringVar(&caDir, "cadir", "", "directory holding the CA key material and database")
	root.Flags().StringVar(&dbPath, "db", "", "path to the certificate database (default <cadir>/silverbullet.db)")
	root.Flags().StringVar(&consortium, "consortium", "eduroam", "O= component of issued subject DNs")
	root.Flags().StringVar(&host, "host", "127.0.0.1", "bind address")
	root.Flags().IntVar(&port, "port", 8447, "bind port")
	root.Flags().IntVar(&verbosity, "verbosity", 0, "0=info, 1=debug, 2+=trace")
	root.Flags().StringVar(&logFile, "logfile", "", "log to this file (JSON) instead of stderr")
	root.Flags().StringVar(&tlsCert, "tls-cert", "", "TLS certificate for the API endpoint")
	root.Flags().StringVar(&tlsKey, "tls-key", "", "TLS key for the API endpoint")
	root.Flags().StringVar(&opensslPath, "openssl", "", "sign OCSP statements with this openssl binary instead of in-process")
	root.Flags().StringVar(&configFile, "config", "", "YAML config file")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Bootstrap root and issuing CA key material under --cadir",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved := resolveConfigFile(configFile, "SILVERBULLET_CONFIG", "/etc/silverbullet-ca/config.yaml")
			cfg, err := loadServerConfig(resolved)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("cadir") {
				cfg.CADir = caDir
			}
			if cmd.Flags().Changed("consortium") {
				cfg.Consortium = consortium
			}
			if cfg.CADir == "" {
				return fmt.Errorf("--cadir is required")
			}
			setupLogging(cfg)

			if err := os.MkdirAll(cfg.CADir, 0750); err != nil {
				return fmt.Errorf("creating %s: %w", cfg.CADir, err)
			}
			paths := ca.DefaultPaths(cfg.CADir)
			if _, err := ca.LoadKeyMaterial(paths); err == nil {
				return fmt.Errorf("key material already exists under %s, refusing to overwrite", cfg.CADir)
			}
			return ca.Bootstrap(paths, cfg.Consortium)
		},
	}
	initCmd.Flags().StringVar(&caDir, "cadir", "", "directory to hold the CA key material")
	initCmd.Flags().StringVar(&consortium, "consortium", "eduroam", "consortium name for the CA subject DNs")
	initCmd.Flags().StringVar(&configFile, "config", "", "YAML config file")
	root.AddCommand(initCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cfg *serverConfig) {
	var logLevel slog.Level
	switch cfg.Verbosity {
	case 0:
		logLevel = slog.LevelInfo
	case 1:
		logLevel = slog.LevelDebug
	default:
		logLevel = slog.Level(-8) // Trace
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", cfg.LogFile, err)
			os.Exit(1)
		}
		logHandler = slog.NewJSONHandler(f, opts)
	} else {
		logHandler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(logHandler))
}
