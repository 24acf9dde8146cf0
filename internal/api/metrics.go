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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	certificatesIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silverbullet_certificates_issued_total",
			Help: "Total number of client certificates issued",
		},
	)

	certificatesRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silverbullet_certificates_revoked_total",
			Help: "Total number of certificate revocations",
		},
	)

	// ocspRequests counts OCSP transport requests by outcome.
	// Labels: result (ok, error)
	ocspRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silverbullet_ocsp_requests_total",
			Help: "Total number of OCSP requests grouped by result",
		},
		[]string{"result"},
	)

	// ocspSynthesisDuration covers the whole status-statement path,
	// including a cache hit (sub-millisecond) or a fresh signing call.
	ocspSynthesisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "silverbullet_ocsp_statement_duration_seconds",
			Help:    "Duration of OCSP status statement retrieval in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)
