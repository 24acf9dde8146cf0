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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"strings"
)

// clientKeyBits is the key size mandated for client credentials. The CA
// chain itself uses 4096-bit keys; client keys stay at 2048 because
// supplicants re-enrol on a short cycle anyway.
const clientKeyBits = 2048

// ErrBadSubject is returned by BuildCSR when the subject fields cannot
// form a distinguished name.
var ErrBadSubject = errors.New("invalid certificate subject")

// GenerateClientKey produces a fresh RSA key pair for a client credential.
// The key is unencrypted in memory; secure storage and transport are the
// caller's responsibility.
func GenerateClientKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, clientKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client key: %w", err)
	}
	return key, nil
}

// BuildCSR creates a certificate signing request for the given key pair
// with subject O=<consortium>, OU=<FEDERATION>, CN=<username>. The
// federation tag is uppercased. The CSR is ephemeral: it is consumed by
// signing and never persisted.
func (c *EmbeddedRSA) BuildCSR(key *rsa.PrivateKey, federation, username string) (*x509.CertificateRequest, error) {
	if username == "" || federation == "" {
		return nil, fmt.Errorf("%w: username and federation are required", ErrBadSubject)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: no key pair supplied", ErrBadSubject)
	}

	template := &x509.CertificateRequest{
		Subject: pkix.Name{
			Organization:       []string{c.consortium},
			OrganizationalUnit: []string{strings.ToUpper(federation)},
			CommonName:         username,
		},
		SignatureAlgorithm: x509.SHA256WithRSA,
	}

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSR for %s: %w", username, err)
	}
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated CSR for %s: %w", username, err)
	}
	return csr, nil
}
