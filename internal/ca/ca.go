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

// Package ca implements the Silverbullet certificate authority: signing
// short-lived client certificates, tracking their revocation state in the
// relational ledger, and synthesizing per-certificate OCSP statements on
// demand instead of running a responder daemon.
package ca

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/geant/silverbullet-ca/internal/storage"
)

// CATypeRSA is the serial-space partition tag of the embedded RSA CA.
// Other flavors (EC, externally delegated) would carry their own tag and
// therefore their own serial space.
const CATypeRSA = "RSA"

// maxIssueAttempts bounds the issuance retry loop around duplicate-serial
// inserts. The allocator already probed for collisions, so more than one
// retry firing means two issuances raced on the same serial — vanishingly
// rare with 128-bit serials.
const maxIssueAttempts = 3

// CertificationAuthority is the capability set shared by all CA variants.
// Variant selection happens at configuration time; callers only ever see
// this interface.
type CertificationAuthority interface {
	// IssueFor signs a certificate for the caller-supplied key pair with
	// subject identity (federation, username), valid for validityDays.
	IssueFor(ctx context.Context, key *rsa.PrivateKey, federation, username string, validityDays int) (*IssuedCertificate, error)
	// Revoke marks the certificate revoked and immediately refreshes its
	// cached OCSP statement. Revoking twice is a no-op success.
	Revoke(ctx context.Context, serial *big.Int) error
	// StatusStatement returns a DER-encoded OCSP response for the
	// certificate: the cached statement when still fresh, otherwise a
	// newly synthesized one.
	StatusStatement(ctx context.Context, serial *big.Int) ([]byte, error)
	// UpdateFreshness refreshes any locally cached upstream material.
	// The embedded CA holds none; the hook exists for variants that do.
	UpdateFreshness(ctx context.Context) error
}

// Config carries the policy knobs of the embedded RSA CA.
type Config struct {
	// Consortium is the O= component of every subject DN. Required.
	Consortium string
	// OCSPSigner overrides the signing primitive; nil selects the
	// in-process implementation.
	OCSPSigner OCSPSigningPrimitive
	// Clock overrides the time source; nil selects time.Now. Tests use it
	// to drive expiry derivation.
	Clock func() time.Time
}

// EmbeddedRSA is the CA variant that holds its issuing key in-process.
type EmbeddedRSA struct {
	store      *storage.CertificateStore
	keys       *KeyMaterial
	serials    *SerialAllocator
	ocspSigner OCSPSigningPrimitive
	consortium string
	now        func() time.Time
}

var _ CertificationAuthority = (*EmbeddedRSA)(nil)

// New constructs the embedded RSA CA. Key material must already be loaded
// and consistent (LoadKeyMaterial); a CA never comes into existence with
// unusable credentials.
func New(store *storage.CertificateStore, keys *KeyMaterial, cfg Config) (*EmbeddedRSA, error) {
	if store == nil {
		return nil, errors.New("certificate store is required")
	}
	if keys == nil {
		return nil, errors.New("key material is required")
	}
	if cfg.Consortium == "" {
		return nil, errors.New("consortium name is required")
	}

	c := &EmbeddedRSA{
		store:      store,
		keys:       keys,
		serials:    NewSerialAllocator(store, CATypeRSA),
		ocspSigner: cfg.OCSPSigner,
		consortium: cfg.Consortium,
		now:        cfg.Clock,
	}
	if c.ocspSigner == nil {
		c.ocspSigner = cryptoPrimitive{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// KeyMaterial exposes the loaded credentials (certificates and their PEM
// forms only; the private key stays inside signing calls).
func (c *EmbeddedRSA) KeyMaterial() *KeyMaterial {
	return c.keys
}

// IssueFor builds a CSR for the key pair, signs it, and persists the
// certificate row. On the (rare) duplicate-serial insert the whole signing
// step is retried with a freshly allocated serial.
func (c *EmbeddedRSA) IssueFor(ctx context.Context, key *rsa.PrivateKey, federation, username string, validityDays int) (*IssuedCertificate, error) {
	csr, err := c.BuildCSR(key, federation, username)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		issued, err := c.signRequest(ctx, csr, validityDays)
		if err != nil {
			return nil, err
		}

		record := &storage.Certificate{
			Serial:     issued.Serial.String(),
			CAType:     CATypeRSA,
			Username:   username,
			Federation: csr.Subject.OrganizationalUnit[0],
			NotAfter:   issued.NotAfter,
			CertPEM:    issued.CertPEM,
		}
		err = c.store.Insert(ctx, record)
		if errors.Is(err, storage.ErrDuplicateSerial) {
			slog.Warn("Serial collided at insert, retrying issuance",
				"serial", issued.Serial.String(), "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return issued, nil
	}
	return nil, fmt.Errorf("%w: insert kept colliding", ErrSerialExhausted)
}

// Revoke flips the ledger flag and refreshes the cached OCSP statement so
// a just-revoked certificate answers correctly without waiting for the
// next status query. The two steps stay explicit and ordered: the flag is
// durable before any statement is signed.
func (c *EmbeddedRSA) Revoke(ctx context.Context, serial *big.Int) error {
	if err := c.store.MarkRevoked(ctx, CATypeRSA, serial.String()); err != nil {
		return err
	}
	slog.Info("Certificate revoked", "serial", serial.String())

	cert, err := c.store.FindBySerial(ctx, CATypeRSA, serial.String())
	if err != nil {
		return err
	}
	if _, err := c.Synthesize(ctx, cert); err != nil {
		// The revocation itself is already durable; only the statement
		// refresh failed.
		return fmt.Errorf("certificate %s revoked, but OCSP refresh failed: %w", serial, err)
	}
	return nil
}

// StatusStatement serves the cached OCSP blob while it is within
// OCSPValidity of its generation instant, and synthesizes a fresh one
// otherwise.
func (c *EmbeddedRSA) StatusStatement(ctx context.Context, serial *big.Int) ([]byte, error) {
	cert, err := c.store.FindBySerial(ctx, CATypeRSA, serial.String())
	if err != nil {
		return nil, err
	}
	if cert.OCSPBlob != nil && cert.OCSPStamp != nil &&
		c.now().Sub(*cert.OCSPStamp) < OCSPValidity {
		return cert.OCSPBlob, nil
	}
	return c.Synthesize(ctx, cert)
}

// UpdateFreshness is a no-op: the embedded CA has no locally cached
// upstream material to refresh.
func (c *EmbeddedRSA) UpdateFreshness(_ context.Context) error {
	return nil
}
