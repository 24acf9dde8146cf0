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

package ca

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// indexTimeLayout is the openssl CA index.txt timestamp format (YYMMDDHHMMSSZ).
const indexTimeLayout = "060102150405Z"

// OpenSSLPrimitive signs OCSP statements by shelling out to `openssl ocsp`
// with a one-line stub index file. Because the tool operates on files, the
// snapshot is materialized into a scoped temporary workspace that is
// removed on every exit path — success, signing failure, or a cancelled
// context that kills the subprocess.
type OpenSSLPrimitive struct {
	// BinaryPath is the openssl executable. Empty means "openssl" on PATH.
	BinaryPath string
	// IssuingCertPath and IssuingKeyPath point at the same issuing
	// credentials held in KeyMaterial; the subprocess reads them from disk.
	IssuingCertPath string
	IssuingKeyPath  string
	// WorkDir is the parent for temporary workspaces. Empty means the
	// system default temp directory.
	WorkDir string
}

func (p *OpenSSLPrimitive) SignStatement(ctx context.Context, _ *KeyMaterial, snap StatusSnapshot) ([]byte, error) {
	workspace, err := os.MkdirTemp(p.WorkDir, "silverbullet-ocsp-")
	if err != nil {
		return nil, fmt.Errorf("%w: creating workspace: %v", ErrOCSPSigning, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workspace); rmErr != nil {
			slog.Warn("Could not remove OCSP workspace", "dir", workspace, "error", rmErr)
		}
	}()

	serialHex := fmt.Sprintf("%X", snap.Serial)
	if len(serialHex)%2 == 1 {
		serialHex = "0" + serialHex
	}

	indexPath := filepath.Join(workspace, "index.txt")
	respPath := filepath.Join(workspace, serialHex+".response.der")
	if err := os.WriteFile(indexPath, []byte(indexLine(snap, serialHex)), filePermPrivate); err != nil {
		return nil, fmt.Errorf("%w: writing index stub: %v", ErrOCSPSigning, err)
	}
	// index.txt.attr is dull but needs to exist.
	if err := os.WriteFile(filepath.Join(workspace, "index.txt.attr"), []byte("unique_subject = yes\n"), filePermPrivate); err != nil {
		return nil, fmt.Errorf("%w: writing index attributes: %v", ErrOCSPSigning, err)
	}

	binary := p.BinaryPath
	if binary == "" {
		binary = "openssl"
	}
	ndays := int(OCSPValidity.Hours() / 24)
	cmd := exec.CommandContext(ctx, binary, "ocsp",
		"-issuer", p.IssuingCertPath,
		"-sha1",
		"-ndays", fmt.Sprint(ndays),
		"-no_nonce",
		"-serial", "0x"+serialHex,
		"-CA", p.IssuingCertPath,
		"-rsigner", p.IssuingCertPath,
		"-rkey", p.IssuingKeyPath,
		"-index", indexPath,
		"-no_cert_verify",
		"-respout", respPath,
	)

	slog.Debug("Calling openssl ocsp", "cmd", strings.Join(cmd.Args, " "))
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%w: openssl ocsp: %v (%s)", ErrOCSPSigning, err, strings.TrimSpace(string(output)))
	}

	der, err := os.ReadFile(respPath)
	if err != nil {
		return nil, fmt.Errorf("%w: openssl ocsp produced no response file: %v", ErrOCSPSigning, err)
	}
	return der, nil
}

// indexLine renders the snapshot as one openssl CA index entry:
// STATUS \t EXPIRY \t [REVOCATION,reason] \t SERIAL \t unknown \t SUBJECT
func indexLine(snap StatusSnapshot, serialHex string) string {
	status := "V"
	revocation := ""
	if snap.Revoked {
		status = "R"
		revocation = snap.RevokedAt.UTC().Format(indexTimeLayout) + ",unspecified"
	}
	expiry := snap.NotAfter.UTC().Format(indexTimeLayout)
	return fmt.Sprintf("%s\t%s\t%s\t%s\tunknown\t%s\n", status, expiry, revocation, serialHex, snap.Subject)
}

// WorkspaceLeaks reports leftover OCSP workspaces under dir. Used by
// operators (and tests) to verify the cleanup guarantee.
func WorkspaceLeaks(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "silverbullet-ocsp-*"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
