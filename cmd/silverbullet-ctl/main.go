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

// silverbullet-ctl is an operator CLI for the silverbullet-ca server:
// issue, revoke, and inspect client credentials over the HTTP API.
package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	caCertPath string
	insecure   bool
)

type client struct {
	baseURL string
	http    *http.Client
}

func newClient() (*client, error) {
	tlsCfg := &tls.Config{}
	if caCertPath != "" {
		caPEM, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("reading --ca-cert %s: %w", caCertPath, err)
		}
		pool := x509.NewCertPool()
		block, _ := pem.Decode(caPEM)
		if block == nil {
			return nil, fmt.Errorf("--ca-cert %s is not PEM", caCertPath)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing --ca-cert: %w", err)
		}
		pool.AddCert(cert)
		tlsCfg.RootCAs = pool
	} else if insecure {
		tlsCfg.InsecureSkipVerify = true //nolint:gosec
	}

	return &client{
		baseURL: serverURL,
		http: &http.Client{
			Timeout:   60 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
	}, nil
}

func (c *client) do(method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type issueResponse struct {
	Serial      string    `json:"serial"`
	Certificate string    `json:"certificate"`
	PrivateKey  string    `json:"private_key"`
	IssuingCA   string    `json:"issuing_ca"`
	RootCA      string    `json:"root_ca"`
	NotAfter    time.Time `json:"not_after"`
}

type statusResponse struct {
	Serial     string     `json:"serial"`
	Username   string     `json:"username"`
	Federation string     `json:"federation"`
	Status     string     `json:"status"`
	NotAfter   time.Time  `json:"not_after"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

func main() {
	root := &cobra.Command{
		Use:          "silverbullet-ctl",
		Short:        "Operator CLI for the Silverbullet CA",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8447", "CA server base URL")
	root.PersistentFlags().StringVar(&caCertPath, "ca-cert", "", "PEM certificate to trust for the server's TLS endpoint")
	root.PersistentFlags().BoolVar(&insecure, "insecure", false, "skip TLS verification (dev only)")

	var (
		federation   string
		validityDays int
		outDir       string
	)
	issueCmd := &cobra.Command{
		Use:   "issue <username>",
		Short: "Issue a credential and write key, certificate, and chain to --out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			var resp issueResponse
			err = c.do(http.MethodPost, "/credentials", map[string]interface{}{
				"username":      args[0],
				"federation":    federation,
				"validity_days": validityDays,
			}, &resp)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0750); err != nil {
				return err
			}
			base := filepath.Join(outDir, args[0])
			if err := os.WriteFile(base+".key", []byte(resp.PrivateKey), 0600); err != nil {
				return err
			}
			chain := resp.Certificate + resp.IssuingCA + resp.RootCA
			if err := os.WriteFile(base+".pem", []byte(chain), 0644); err != nil {
				return err
			}
			fmt.Printf("Issued serial %s (expires %s)\nKey:   %s.key\nChain: %s.pem\n",
				resp.Serial, resp.NotAfter.Format(time.RFC3339), base, base)
			return nil
		},
	}
	issueCmd.Flags().StringVar(&federation, "federation", "", "federation tag (OU= component)")
	issueCmd.Flags().IntVar(&validityDays, "validity-days", 365, "certificate lifetime in days")
	issueCmd.Flags().StringVar(&outDir, "out", ".", "directory to write the credential files to")
	_ = issueCmd.MarkFlagRequired("federation")
	root.AddCommand(issueCmd)

	revokeCmd := &cobra.Command{
		Use:   "revoke <serial>",
		Short: "Revoke a credential by serial",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.do(http.MethodDelete, "/credentials/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Printf("Revoked serial %s\n", args[0])
			return nil
		},
	}
	root.AddCommand(revokeCmd)

	statusCmd := &cobra.Command{
		Use:   "status <serial>",
		Short: "Show a credential's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			var resp statusResponse
			if err := c.do(http.MethodGet, "/credentials/"+args[0], nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Serial:     %s\nUser:       %s@%s\nStatus:     %s\nExpires:    %s\n",
				resp.Serial, resp.Username, resp.Federation, resp.Status, resp.NotAfter.Format(time.RFC3339))
			if resp.RevokedAt != nil {
				fmt.Printf("Revoked at: %s\n", resp.RevokedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	root.AddCommand(statusCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
