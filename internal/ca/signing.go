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
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"
)

// ErrSigningRejected is returned when the signing primitive refuses the
// CSR (bad signature, malformed key). Nothing is persisted in that case;
// an already-allocated serial is simply abandoned.
var ErrSigningRejected = errors.New("certificate request rejected by signing primitive")

// IssuedCertificate is the result of one signing operation: the leaf
// certificate plus the full trust chain, so callers can bundle everything
// without a second call.
type IssuedCertificate struct {
	CertPEM    []byte
	Serial     *big.Int
	IssuingPEM []byte
	RootPEM    []byte
	NotAfter   time.Time
}

// signRequest signs csr with the issuing key material for validityDays.
// It allocates a unique serial but persists nothing — the caller inserts
// the certificate row and retries with a fresh serial if the store's
// unique index fires.
func (c *EmbeddedRSA) signRequest(ctx context.Context, csr *x509.CertificateRequest, validityDays int) (*IssuedCertificate, error) {
	if validityDays <= 0 {
		return nil, fmt.Errorf("%w: validity must be positive, got %d days", ErrSigningRejected, validityDays)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: invalid CSR signature: %v", ErrSigningRejected, err)
	}

	serial, err := c.serials.Allocate(ctx)
	if err != nil {
		return nil, err
	}

	slog.Debug("Signing certificate", "cn", csr.Subject.CommonName, "serial", serial.String())

	now := c.now().UTC()
	validity := time.Duration(validityDays) * 24 * time.Hour

	// Cap validity to the issuing certificate's remaining lifetime. A leaf
	// must never outlive the certificate that signed it.
	caRemaining := c.keys.Issuing.NotAfter.Sub(now)
	if caRemaining <= 0 {
		return nil, fmt.Errorf("issuing CA certificate has expired")
	}
	if validity > caRemaining {
		validity = caRemaining
	}

	// SubjectKeyIdentifier: SHA1 of the SubjectPublicKeyInfo DER (RFC 5280 §4.2.1.2).
	pubKeyDER, err := x509.MarshalPKIXPublicKey(csr.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: unusable public key: %v", ErrSigningRejected, err)
	}
	subjectKeyID := sha1.Sum(pubKeyDER)

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      csr.Subject,
		NotBefore:    now.Add(-24 * time.Hour),
		NotAfter:     now.Add(validity),

		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},

		BasicConstraintsValid: true,
		IsCA:                  false,

		SubjectKeyId:   subjectKeyID[:],
		AuthorityKeyId: c.keys.Issuing.SubjectKeyId,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, c.keys.Issuing, csr.PublicKey, c.keys.IssuingKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningRejected, err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	slog.Info("Certificate signed", "cn", csr.Subject.CommonName, "serial", serial.String())
	return &IssuedCertificate{
		CertPEM:    certPEM,
		Serial:     serial,
		IssuingPEM: c.keys.IssuingPEM,
		RootPEM:    c.keys.RootPEM,
		NotAfter:   template.NotAfter,
	}, nil
}
