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

package api

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	xocsp "golang.org/x/crypto/ocsp"

	"github.com/geant/silverbullet-ca/internal/ca"
	"github.com/geant/silverbullet-ca/internal/storage"
)

// handleOCSP serves RFC 6960 OCSP requests on both endpoints:
//
//	POST /ocsp             — DER-encoded OCSPRequest in the body
//	GET  /ocsp/{request}   — base64-encoded (standard or URL-safe) DER in path
//
// Only the serial is taken from the request; the statement itself is the
// cached-or-synthesized blob from the CA. Nonces are not supported (the
// statements are deliberately cacheable), matching the synthesizer's
// no-nonce signing.
func (s *Server) handleOCSP(w http.ResponseWriter, r *http.Request) {
	var (
		reqDER []byte
		err    error
	)

	switch r.Method {
	case http.MethodGet:
		encoded := r.PathValue("request")
		reqDER, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			// RFC 6960 §A.1: GET path uses URL-safe base64 without padding.
			reqDER, err = base64.RawURLEncoding.DecodeString(encoded)
			if err != nil {
				http.Error(w, "invalid base64 in OCSP GET request path", http.StatusBadRequest)
				return
			}
		}

	case http.MethodPost:
		reqDER, err = io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			http.Error(w, "failed to read OCSP request body: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	req, err := xocsp.ParseRequest(reqDER)
	if err != nil {
		slog.Warn("Malformed OCSP request", "error", err)
		writeOCSPError(w, http.StatusBadRequest, xocsp.MalformedRequestErrorResponse)
		return
	}

	start := time.Now()
	respDER, err := s.CA.StatusStatement(r.Context(), req.SerialNumber)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Not ours; RFC 6960 has no "unknown serial" error code, so
			// answer Unauthorized like a responder with no record would.
			writeOCSPError(w, http.StatusOK, xocsp.UnauthorizedErrorResponse)
			return
		}
		slog.Error("OCSP statement failed", "serial", req.SerialNumber.String(), "error", err)
		writeOCSPError(w, http.StatusInternalServerError, xocsp.InternalErrorErrorResponse)
		return
	}
	ocspSynthesisDuration.Observe(time.Since(start).Seconds())
	ocspRequests.WithLabelValues("ok").Inc()

	w.Header().Set("Content-Type", "application/ocsp-response")
	if r.Method == http.MethodGet {
		maxAge := int(ca.OCSPValidity.Seconds())
		w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(maxAge)+", public")
	}
	w.Write(respDER) //nolint:errcheck
}

func writeOCSPError(w http.ResponseWriter, status int, der []byte) {
	ocspRequests.WithLabelValues("error").Inc()
	w.Header().Set("Content-Type", "application/ocsp-response")
	w.WriteHeader(status)
	w.Write(der) //nolint:errcheck
}
