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

package ca_test

import (
	"context"
	"errors"
	"math/big"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/geant/silverbullet-ca/internal/ca"
	"github.com/geant/silverbullet-ca/internal/storage"
)

// emptyLedger reports every serial as free.
type emptyLedger struct{}

func (emptyLedger) FindBySerial(_ context.Context, caType, serial string) (*storage.Certificate, error) {
	return nil, storage.ErrNotFound
}

// occupiedLedger reports every serial as already taken.
type occupiedLedger struct{}

func (occupiedLedger) FindBySerial(_ context.Context, caType, serial string) (*storage.Certificate, error) {
	return &storage.Certificate{Serial: serial, CAType: caType}, nil
}

// brokenLedger fails every probe.
type brokenLedger struct{}

func (brokenLedger) FindBySerial(_ context.Context, _, _ string) (*storage.Certificate, error) {
	return nil, errors.New("ledger unavailable")
}

var _ = Describe("Serial Allocation", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("returns a positive 128-bit serial when the ledger is empty", func() {
		allocator := ca.NewSerialAllocator(emptyLedger{}, ca.CATypeRSA)
		limit := new(big.Int).Lsh(big.NewInt(1), 128)

		serial, err := allocator.Allocate(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(serial.Sign()).To(Equal(1))
		Expect(serial.Cmp(limit)).To(Equal(-1))
	})

	It("hands out distinct serials across calls", func() {
		allocator := ca.NewSerialAllocator(emptyLedger{}, ca.CATypeRSA)

		seen := map[string]bool{}
		for i := 0; i < 5; i++ {
			serial, err := allocator.Allocate(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(seen[serial.String()]).To(BeFalse())
			seen[serial.String()] = true
		}
	})

	It("gives up with ErrSerialExhausted when every candidate is taken", func() {
		allocator := ca.NewSerialAllocator(occupiedLedger{}, ca.CATypeRSA)

		_, err := allocator.Allocate(ctx)
		Expect(err).To(MatchError(ca.ErrSerialExhausted))
	})

	It("propagates probe failures instead of retrying", func() {
		allocator := ca.NewSerialAllocator(brokenLedger{}, ca.CATypeRSA)

		_, err := allocator.Allocate(ctx)
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(MatchError(ca.ErrSerialExhausted))
		Expect(err.Error()).To(ContainSubstring("ledger unavailable"))
	})
})
