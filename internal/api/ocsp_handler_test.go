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

package api_test

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	xocsp "golang.org/x/crypto/ocsp"

	"github.com/geant/silverbullet-ca/internal/api"
)

var _ = Describe("OCSP Transport", func() {
	var (
		tmpDir      string
		mux         http.Handler
		issuingCert *x509.Certificate
		leafCert    *x509.Certificate
		serial      string
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "silverbullet-ocsp-api-test")
		Expect(err).NotTo(HaveOccurred())
		server, _ := setupServer(tmpDir)
		mux = server.Routes()
		issuingCert = decodeCert(cachedChain.IssuingPEM)

		// Issue one credential to query about.
		body, err := json.Marshal(api.IssueRequest{Username: "alice", Federation: "lu", ValidityDays: 30})
		Expect(err).NotTo(HaveOccurred())
		req := httptest.NewRequest("POST", "/credentials", bytes.NewReader(body))
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		Expect(rr.Code).To(Equal(http.StatusCreated))

		var resp api.IssueResponse
		Expect(json.Unmarshal(rr.Body.Bytes(), &resp)).To(Succeed())
		leafCert = decodeCert([]byte(resp.Certificate))
		serial = resp.Serial
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	buildRequest := func(cert *x509.Certificate) []byte {
		reqDER, err := xocsp.CreateRequest(cert, issuingCert, nil)
		Expect(err).NotTo(HaveOccurred())
		return reqDER
	}

	It("answers a POST request with a good statement", func() {
		req := httptest.NewRequest("POST", "/ocsp", bytes.NewReader(buildRequest(leafCert)))
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		Expect(rr.Code).To(Equal(http.StatusOK))
		Expect(rr.Header().Get("Content-Type")).To(Equal("application/ocsp-response"))

		resp, err := xocsp.ParseResponse(rr.Body.Bytes(), issuingCert)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(xocsp.Good))
		Expect(resp.SerialNumber.Cmp(leafCert.SerialNumber)).To(Equal(0))
	})

	It("answers a GET request and marks the response cacheable", func() {
		encoded := base64.RawURLEncoding.EncodeToString(buildRequest(leafCert))
		req := httptest.NewRequest("GET", "/ocsp/"+encoded, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		Expect(rr.Code).To(Equal(http.StatusOK))
		Expect(rr.Header().Get("Cache-Control")).To(ContainSubstring("max-age="))

		resp, err := xocsp.ParseResponse(rr.Body.Bytes(), issuingCert)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(xocsp.Good))
	})

	It("answers revoked after the credential is revoked", func() {
		req := httptest.NewRequest("DELETE", "/credentials/"+serial, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		Expect(rr.Code).To(Equal(http.StatusNoContent))

		req = httptest.NewRequest("POST", "/ocsp", bytes.NewReader(buildRequest(leafCert)))
		rr = httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		Expect(rr.Code).To(Equal(http.StatusOK))

		resp, err := xocsp.ParseResponse(rr.Body.Bytes(), issuingCert)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(xocsp.Revoked))
		Expect(resp.RevocationReason).To(Equal(xocsp.Unspecified))
		Expect(resp.RevokedAt.IsZero()).To(BeFalse())
	})

	It("answers unauthorized for a serial this CA never issued", func() {
		// The root cert's serial is not in the ledger.
		stranger := decodeCert(cachedChain.RootPEM)
		req := httptest.NewRequest("POST", "/ocsp", bytes.NewReader(buildRequest(stranger)))
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		Expect(rr.Code).To(Equal(http.StatusOK))
		Expect(rr.Body.Bytes()).To(Equal(xocsp.UnauthorizedErrorResponse))
	})

	It("rejects a malformed request with the RFC error response", func() {
		req := httptest.NewRequest("POST", "/ocsp", bytes.NewReader([]byte("this is not DER")))
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		Expect(rr.Code).To(Equal(http.StatusBadRequest))
		Expect(rr.Header().Get("Content-Type")).To(Equal("application/ocsp-response"))
		Expect(rr.Body.Bytes()).To(Equal(xocsp.MalformedRequestErrorResponse))
	})

	It("rejects undecodable base64 on the GET path", func() {
		req := httptest.NewRequest("GET", "/ocsp/!!!!", nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		Expect(rr.Code).To(Equal(http.StatusBadRequest))
	})
})
