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

// Package api is the HTTP boundary of the CA: credential issuance and
// revocation for the admin workflow, status queries, and the RFC 6960
// transport for synthesized OCSP statements. Who may call these endpoints
// is decided by the deployment (reverse proxy, mTLS), not here.
package api

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geant/silverbullet-ca/internal/ca"
	"github.com/geant/silverbullet-ca/internal/storage"
)

type Server struct {
	CA    ca.CertificationAuthority
	Store *storage.CertificateStore
}

func New(authority ca.CertificationAuthority, store *storage.CertificateStore) *Server {
	return &Server{CA: authority, Store: store}
}

// Routes registers all handlers and returns the root handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /credentials", s.handleIssue)
	mux.HandleFunc("GET /credentials/{serial}", s.handleStatus)
	mux.HandleFunc("DELETE /credentials/{serial}", s.handleRevoke)
	mux.HandleFunc("POST /ocsp", s.handleOCSP)
	mux.HandleFunc("GET /ocsp/{request}", s.handleOCSP)

	mux.HandleFunc("GET /healthz/live", s.handleLive)
	mux.HandleFunc("GET /healthz/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// --- Issuance ---

type IssueRequest struct {
	Username     string `json:"username"`
	Federation   string `json:"federation"`
	ValidityDays int    `json:"validity_days"`
}

type IssueResponse struct {
	Serial      string    `json:"serial"`
	Certificate string    `json:"certificate"`
	PrivateKey  string    `json:"private_key"`
	IssuingCA   string    `json:"issuing_ca"`
	RootCA      string    `json:"root_ca"`
	NotAfter    time.Time `json:"not_after"`
}

// handleIssue generates a key pair server-side, issues a certificate for
// it, and returns the full credential bundle in one response. The private
// key is never stored; this response is its only copy.
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ValidityDays <= 0 {
		http.Error(w, "validity_days must be positive", http.StatusBadRequest)
		return
	}

	key, err := ca.GenerateClientKey()
	if err != nil {
		slog.Error("Key generation failed", "error", err)
		http.Error(w, "key generation failed", http.StatusInternalServerError)
		return
	}

	issued, err := s.CA.IssueFor(r.Context(), key, req.Federation, req.Username, req.ValidityDays)
	if err != nil {
		if errors.Is(err, ca.ErrBadSubject) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Issuance failed", "username", req.Username, "error", err)
		http.Error(w, "issuance failed", http.StatusInternalServerError)
		return
	}
	certificatesIssued.Inc()

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	writeJSON(w, http.StatusCreated, IssueResponse{
		Serial:      issued.Serial.String(),
		Certificate: string(issued.CertPEM),
		PrivateKey:  string(keyPEM),
		IssuingCA:   string(issued.IssuingPEM),
		RootCA:      string(issued.RootPEM),
		NotAfter:    issued.NotAfter,
	})
}

// --- Status ---

type StatusResponse struct {
	Serial     string     `json:"serial"`
	Username   string     `json:"username"`
	Federation string     `json:"federation"`
	Status     string     `json:"status"`
	NotAfter   time.Time  `json:"not_after"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	serial, ok := parseSerial(w, r)
	if !ok {
		return
	}

	cert, err := s.Store.FindBySerial(r.Context(), ca.CATypeRSA, serial.String())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "certificate not found", http.StatusNotFound)
			return
		}
		slog.Error("Status lookup failed", "serial", serial.String(), "error", err)
		http.Error(w, "status lookup failed", http.StatusInternalServerError)
		return
	}
	status, err := s.Store.CurrentStatus(r.Context(), ca.CATypeRSA, serial.String())
	if err != nil {
		http.Error(w, "status lookup failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Serial:     cert.Serial,
		Username:   cert.Username,
		Federation: cert.Federation,
		Status:     string(status),
		NotAfter:   cert.NotAfter,
		RevokedAt:  cert.RevokedAt,
	})
}

// --- Revocation ---

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	serial, ok := parseSerial(w, r)
	if !ok {
		return
	}

	if err := s.CA.Revoke(r.Context(), serial); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "certificate not found", http.StatusNotFound)
			return
		}
		slog.Error("Revocation failed", "serial", serial.String(), "error", err)
		http.Error(w, "revocation failed", http.StatusInternalServerError)
		return
	}
	certificatesRevoked.Inc()
	w.WriteHeader(http.StatusNoContent)
}

// --- Health ---

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- Helpers ---

func parseSerial(w http.ResponseWriter, r *http.Request) (*big.Int, bool) {
	serial, ok := new(big.Int).SetString(r.PathValue("serial"), 10)
	if !ok || serial.Sign() <= 0 {
		http.Error(w, "serial must be a positive decimal integer", http.StatusBadRequest)
		return nil, false
	}
	return serial, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Could not write JSON response", "error", err)
	}
}
