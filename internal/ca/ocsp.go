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
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/geant/silverbullet-ca/internal/storage"
)

// OCSPValidity is the NextUpdate window written into every synthesized
// response, and the freshness window for serving a cached one.
const OCSPValidity = 10 * 24 * time.Hour

// ErrOCSPSigning is returned when the signing primitive fails to produce
// a response. The previously cached statement (if any) stays valid as a
// degraded fallback at the caller's discretion.
var ErrOCSPSigning = errors.New("OCSP signing primitive failed")

// StatusSnapshot is a single-entry revocation index covering exactly one
// certificate at one instant. It is built fresh per synthesis call and
// discarded afterwards — the relational store is the durable ledger, the
// snapshot is only its transient OCSP projection.
type StatusSnapshot struct {
	Serial    *big.Int
	Revoked   bool
	RevokedAt time.Time // zero unless Revoked
	NotAfter  time.Time
	Subject   string // issuer-side DN line: /O=.../OU=.../CN=...
}

// OCSPSigningPrimitive turns a status snapshot into a signed, DER-encoded
// OCSP response. Implementations must treat the key material as read-only
// and clean up any scratch resources on every exit path.
type OCSPSigningPrimitive interface {
	SignStatement(ctx context.Context, keys *KeyMaterial, snap StatusSnapshot) ([]byte, error)
}

// cryptoPrimitive is the default in-process primitive. The issuing
// certificate signs the response directly and acts as its own responder,
// with the protocol-conventional SHA-1 issuer hash.
type cryptoPrimitive struct{}

func (cryptoPrimitive) SignStatement(_ context.Context, keys *KeyMaterial, snap StatusSnapshot) ([]byte, error) {
	now := time.Now().UTC()
	template := ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: snap.Serial,
		ThisUpdate:   now,
		NextUpdate:   now.Add(OCSPValidity),
		IssuerHash:   crypto.SHA1,
	}
	if snap.Revoked {
		template.Status = ocsp.Revoked
		template.RevokedAt = snap.RevokedAt.UTC()
		template.RevocationReason = ocsp.Unspecified
	}

	der, err := ocsp.CreateResponse(keys.Issuing, keys.Issuing, template, keys.IssuingKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPSigning, err)
	}
	return der, nil
}

// Synthesize manufactures a fresh OCSP statement for cert, persists it to
// the certificate row's cache columns, and returns the DER bytes. It
// always computes fresh; serving a still-fresh cached blob is the
// caller's decision (see StatusStatement).
//
// Status mapping: VALID → good, REVOKED → revoked (reason unspecified),
// EXPIRED → good. An expired certificate needs no revocation statement —
// relying parties enforce not_after themselves, and OCSP defines no
// expired status (see snapshotFor).
func (c *EmbeddedRSA) Synthesize(ctx context.Context, cert *storage.Certificate) ([]byte, error) {
	snap, err := c.snapshotFor(cert)
	if err != nil {
		return nil, err
	}

	slog.Debug("Synthesizing OCSP statement", "serial", cert.Serial,
		"status", storage.StatusOf(cert, c.now()))

	der, err := c.ocspSigner.SignStatement(ctx, c.keys, snap)
	if err != nil {
		return nil, err
	}

	if err := c.store.UpdateOCSPCache(ctx, cert.CAType, cert.Serial, der, c.now()); err != nil {
		return nil, fmt.Errorf("persisting OCSP statement for %s: %w", cert.Serial, err)
	}
	return der, nil
}

// snapshotFor projects a certificate row into its transient single-entry
// status snapshot. Both VALID and EXPIRED collapse to a non-revoked entry.
func (c *EmbeddedRSA) snapshotFor(cert *storage.Certificate) (StatusSnapshot, error) {
	serial, ok := new(big.Int).SetString(cert.Serial, 10)
	if !ok || serial.Sign() <= 0 {
		return StatusSnapshot{}, fmt.Errorf("certificate %s has a malformed serial", cert.Serial)
	}

	snap := StatusSnapshot{
		Serial:   serial,
		NotAfter: cert.NotAfter,
		Subject:  fmt.Sprintf("/O=%s/OU=%s/CN=%s", c.consortium, cert.Federation, cert.Username),
	}
	if storage.StatusOf(cert, c.now()) == storage.StatusRevoked {
		snap.Revoked = true
		if cert.RevokedAt != nil {
			snap.RevokedAt = *cert.RevokedAt
		} else {
			snap.RevokedAt = c.now()
		}
	}
	return snap, nil
}
