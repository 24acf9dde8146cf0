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
	"crypto/x509"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/geant/silverbullet-ca/internal/ca"
	"github.com/geant/silverbullet-ca/internal/testutil"
)

var _ = Describe("Key Material", func() {
	var (
		tmpDir string
		paths  ca.KeyMaterialPaths
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "silverbullet-keys-test")
		Expect(err).NotTo(HaveOccurred())
		paths = ca.DefaultPaths(tmpDir)
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Context("Loading", func() {
		It("loads a consistent credential set", func() {
			_, _, _, err := cachedChain.WriteTo(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			keys, err := ca.LoadKeyMaterial(paths)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys.Root).NotTo(BeNil())
			Expect(keys.Issuing).NotTo(BeNil())
			Expect(keys.IssuingKey).NotTo(BeNil())
			Expect(keys.RootPEM).To(Equal(cachedChain.RootPEM))
			Expect(keys.IssuingPEM).To(Equal(cachedChain.IssuingPEM))
		})

		It("fails with ErrKeyMaterialMissing when an artifact is absent", func() {
			_, err := ca.LoadKeyMaterial(paths)
			Expect(err).To(MatchError(ca.ErrKeyMaterialMissing))
		})

		It("fails with ErrKeyMaterialParse on a garbage certificate file", func() {
			_, _, _, err := cachedChain.WriteTo(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(os.WriteFile(paths.IssuingCert, []byte("not a certificate"), 0644)).To(Succeed())

			_, err = ca.LoadKeyMaterial(paths)
			Expect(err).To(MatchError(ca.ErrKeyMaterialParse))
		})

		It("fails with ErrKeyMismatch when the key belongs to another CA", func() {
			_, _, _, err := cachedChain.WriteTo(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			stranger, err := testutil.GenerateTestChain()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.WriteFile(paths.IssuingKey, stranger.KeyPEM, 0640)).To(Succeed())

			_, err = ca.LoadKeyMaterial(paths)
			Expect(err).To(MatchError(ca.ErrKeyMismatch))
		})

		It("fails with ErrKeyMismatch when the issuing cert does not chain to the root", func() {
			_, _, _, err := cachedChain.WriteTo(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			stranger, err := testutil.GenerateTestChain()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.WriteFile(paths.RootCert, stranger.RootPEM, 0644)).To(Succeed())

			_, err = ca.LoadKeyMaterial(paths)
			Expect(err).To(MatchError(ca.ErrKeyMismatch))
		})
	})

	Context("Bootstrap", func() {
		It("writes a loadable two-tier chain", func() {
			// Generates two 4096-bit keys; noticeably slower than the
			// other specs.
			Expect(ca.Bootstrap(paths, "testnet")).To(Succeed())

			keys, err := ca.LoadKeyMaterial(paths)
			Expect(err).NotTo(HaveOccurred())

			Expect(keys.Root.Subject.CommonName).To(Equal("testnet Root CA"))
			Expect(keys.Issuing.Subject.CommonName).To(Equal("testnet Issuing CA"))
			Expect(keys.Issuing.CheckSignatureFrom(keys.Root)).To(Succeed())

			// The issuing key signs leaves and OCSP statements.
			Expect(keys.Issuing.KeyUsage & x509.KeyUsageDigitalSignature).NotTo(BeZero())
			Expect(keys.Issuing.KeyUsage & x509.KeyUsageCertSign).NotTo(BeZero())

			// The issuing key stays private, the certificates are public.
			info, err := os.Stat(paths.IssuingKey)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0640)))
		})
	})
})
