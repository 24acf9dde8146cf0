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
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	xocsp "golang.org/x/crypto/ocsp"

	"github.com/geant/silverbullet-ca/internal/ca"
)

var _ = Describe("OpenSSL Signing Primitive", func() {
	var (
		tmpDir string
		paths  ca.KeyMaterialPaths
		snap   ca.StatusSnapshot
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "silverbullet-openssl-test")
		Expect(err).NotTo(HaveOccurred())
		_, _, _, err = cachedChain.WriteTo(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		paths = ca.DefaultPaths(tmpDir)

		snap = ca.StatusSnapshot{
			Serial:   big.NewInt(987654321),
			NotAfter: time.Now().Add(12 * time.Hour),
			Subject:  "/O=eduroam/OU=LU/CN=alice",
		}
		ctx = context.Background()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("removes its workspace when the binary cannot be run", func() {
		primitive := &ca.OpenSSLPrimitive{
			BinaryPath:      filepath.Join(tmpDir, "no-such-openssl"),
			IssuingCertPath: paths.IssuingCert,
			IssuingKeyPath:  paths.IssuingKey,
			WorkDir:         tmpDir,
		}

		_, err := primitive.SignStatement(ctx, nil, snap)
		Expect(err).To(MatchError(ca.ErrOCSPSigning))

		leaks, err := ca.WorkspaceLeaks(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(leaks).To(BeEmpty(), "failed signing must not leave a workspace behind")
	})

	It("signs good and revoked statements with a real openssl", func() {
		if _, err := exec.LookPath("openssl"); err != nil {
			Skip("openssl not installed")
		}

		primitive := &ca.OpenSSLPrimitive{
			IssuingCertPath: paths.IssuingCert,
			IssuingKeyPath:  paths.IssuingKey,
			WorkDir:         tmpDir,
		}
		// openssl embeds the responder certificate (the issuing cert) in
		// the response, so ParseResponse verifies that embedded cert
		// against the issuer we pass: the root.
		rootCert := decodeCert(cachedChain.RootPEM)

		der, err := primitive.SignStatement(ctx, nil, snap)
		Expect(err).NotTo(HaveOccurred())
		resp, err := xocsp.ParseResponse(der, rootCert)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(xocsp.Good))
		Expect(resp.SerialNumber.Cmp(snap.Serial)).To(Equal(0))

		snap.Revoked = true
		snap.RevokedAt = time.Now().Add(-time.Hour)
		der, err = primitive.SignStatement(ctx, nil, snap)
		Expect(err).NotTo(HaveOccurred())
		resp, err = xocsp.ParseResponse(der, rootCert)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(xocsp.Revoked))

		leaks, err := ca.WorkspaceLeaks(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(leaks).To(BeEmpty(), "successful signing must clean up after itself")
	})
})
