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
	"errors"
	"fmt"
	"math/big"

	"github.com/geant/silverbullet-ca/internal/storage"
)

// maxSerialAttempts caps the probe loop. With 128-bit random serials a
// collision essentially never happens, so hitting the cap indicates a
// persistence-layer problem (e.g. a broken unique index) rather than bad
// luck — surface it instead of looping forever.
const maxSerialAttempts = 32

// ErrSerialExhausted is returned when no collision-free serial could be
// found within maxSerialAttempts.
var ErrSerialExhausted = errors.New("serial allocation attempts exhausted")

// serialLimit bounds random serials to 128 bits, matching the width used
// for the CA certificates themselves.
var serialLimit = new(big.Int).Lsh(big.NewInt(1), 128)

// serialProber is the slice of the certificate store the allocator needs.
type serialProber interface {
	FindBySerial(ctx context.Context, caType, serial string) (*storage.Certificate, error)
}

// SerialAllocator hands out serial numbers unique within one CA-type
// partition. It is an optimistic probe-and-retry loop, not a reservation:
// the store's unique index remains the final backstop, and callers retry
// issuance on a duplicate-key insert.
type SerialAllocator struct {
	store  serialProber
	caType string
}

// NewSerialAllocator creates an allocator scoped to caType.
func NewSerialAllocator(store serialProber, caType string) *SerialAllocator {
	return &SerialAllocator{store: store, caType: caType}
}

// Allocate returns a random positive serial with no existing certificate
// row in this allocator's partition. Never returns zero or a negative
// value.
func (a *SerialAllocator) Allocate(ctx context.Context) (*big.Int, error) {
	for attempt := 0; attempt < maxSerialAttempts; attempt++ {
		serial, err := rand.Int(rand.Reader, serialLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to generate serial candidate: %w", err)
		}
		if serial.Sign() <= 0 {
			continue
		}

		_, err = a.store.FindBySerial(ctx, a.caType, serial.String())
		if errors.Is(err, storage.ErrNotFound) {
			return serial, nil
		}
		if err == nil {
			// Taken; discard and resample.
			continue
		}
		return nil, fmt.Errorf("probing serial %s: %w", serial, err)
	}
	return nil, fmt.Errorf("%w after %d attempts (ca type %s)", ErrSerialExhausted, maxSerialAttempts, a.caType)
}
