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

// Package storage owns the relational certificate ledger. The database is
// the single authoritative record of every certificate ever issued: rows
// are inserted at signing time and never deleted, revocation flips a flag,
// and expiry is derived from not_after at read time.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Status is the lifecycle state of an issued certificate as reported by
// CurrentStatus. Only the revoked flag is ever stored; EXPIRED is computed
// from not_after on every read so no background sweep is needed.
type Status string

const (
	StatusValid   Status = "VALID"
	StatusRevoked Status = "REVOKED"
	StatusExpired Status = "EXPIRED"
)

var (
	// ErrNotFound is returned when no certificate matches (caType, serial).
	ErrNotFound = errors.New("certificate not found")
	// ErrDuplicateSerial is returned by Insert when the (serial, ca_type)
	// unique index rejects the row. Issuance retries with a fresh serial.
	ErrDuplicateSerial = errors.New("serial already in use")
)

// Certificate is one issued client certificate. Identity fields and
// not_after are fixed at signing time; only the revocation flag and the
// OCSP cache columns are ever updated.
type Certificate struct {
	ID         uint       `gorm:"primaryKey"`
	Serial     string     `gorm:"uniqueIndex:idx_serial_ca_type;not null"`
	CAType     string     `gorm:"column:ca_type;uniqueIndex:idx_serial_ca_type;not null"`
	Username   string     `gorm:"not null"`
	Federation string     `gorm:"not null"`
	NotAfter   time.Time  `gorm:"not null"`
	Revoked    bool       `gorm:"not null;default:false"`
	RevokedAt  *time.Time
	CertPEM    []byte
	OCSPBlob   []byte     `gorm:"column:ocsp_blob"`
	OCSPStamp  *time.Time `gorm:"column:ocsp_timestamp"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Certificate) TableName() string {
	return "silverbullet_certificates"
}

// StatusOf derives the certificate's status at instant now. The stored
// revocation flag takes priority over time-derived expiry, so a revoked
// certificate still reports REVOKED after its not_after has passed.
func StatusOf(cert *Certificate, now time.Time) Status {
	if cert.Revoked {
		return StatusRevoked
	}
	if !now.Before(cert.NotAfter) {
		return StatusExpired
	}
	return StatusValid
}

// CertificateStore wraps the database handle for certificate rows.
type CertificateStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens (creating if necessary) the SQLite database at path. Error
// translation is enabled so unique-index violations surface as
// gorm.ErrDuplicatedKey.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening certificate database %s: %w", path, err)
	}
	return db, nil
}

// New creates a CertificateStore and migrates the certificate table.
func New(db *gorm.DB) (*CertificateStore, error) {
	return NewWithClock(db, time.Now)
}

// NewWithClock is New with an injected time source, used by tests to
// exercise expiry derivation without waiting for wall-clock time.
func NewWithClock(db *gorm.DB, now func() time.Time) (*CertificateStore, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if err := db.AutoMigrate(&Certificate{}); err != nil {
		return nil, fmt.Errorf("migrating certificate table: %w", err)
	}
	return &CertificateStore{db: db, now: now}, nil
}

// Insert persists a freshly signed certificate row. A unique-index
// violation on (serial, ca_type) is reported as ErrDuplicateSerial; this
// is the final backstop against a serial-allocation race.
func (s *CertificateStore) Insert(ctx context.Context, cert *Certificate) error {
	result := s.db.WithContext(ctx).Create(cert)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: serial %s (%s)", ErrDuplicateSerial, cert.Serial, cert.CAType)
		}
		return fmt.Errorf("inserting certificate %s: %w", cert.Serial, result.Error)
	}
	return nil
}

// FindBySerial returns the certificate with the given serial within the
// caType partition, or ErrNotFound.
func (s *CertificateStore) FindBySerial(ctx context.Context, caType, serial string) (*Certificate, error) {
	var cert Certificate
	result := s.db.WithContext(ctx).
		Where("ca_type = ? AND serial = ?", caType, serial).
		First(&cert)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: serial %s (%s)", ErrNotFound, serial, caType)
		}
		return nil, fmt.Errorf("querying certificate %s: %w", serial, result.Error)
	}
	return &cert, nil
}

// MarkRevoked flips the revocation flag for (caType, serial). Revoking an
// already-revoked certificate is a no-op success and keeps the original
// revocation instant. Returns ErrNotFound for unknown serials.
func (s *CertificateStore) MarkRevoked(ctx context.Context, caType, serial string) error {
	now := s.now()
	result := s.db.WithContext(ctx).Model(&Certificate{}).
		Where("ca_type = ? AND serial = ? AND revoked = ?", caType, serial, false).
		Updates(map[string]interface{}{"revoked": true, "revoked_at": &now})
	if result.Error != nil {
		return fmt.Errorf("revoking certificate %s: %w", serial, result.Error)
	}
	if result.RowsAffected == 0 {
		// Either already revoked (a no-op) or the serial does not exist.
		if _, err := s.FindBySerial(ctx, caType, serial); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOCSPCache stores a freshly synthesized OCSP response and its
// generation instant on the certificate row. Last writer wins.
func (s *CertificateStore) UpdateOCSPCache(ctx context.Context, caType, serial string, blob []byte, stamp time.Time) error {
	result := s.db.WithContext(ctx).Model(&Certificate{}).
		Where("ca_type = ? AND serial = ?", caType, serial).
		Updates(map[string]interface{}{"ocsp_blob": blob, "ocsp_timestamp": &stamp})
	if result.Error != nil {
		return fmt.Errorf("caching OCSP response for %s: %w", serial, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: serial %s (%s)", ErrNotFound, serial, caType)
	}
	return nil
}

// CurrentStatus recomputes the certificate's status from the stored
// revocation flag and not_after. Nothing is written.
func (s *CertificateStore) CurrentStatus(ctx context.Context, caType, serial string) (Status, error) {
	cert, err := s.FindBySerial(ctx, caType, serial)
	if err != nil {
		return "", err
	}
	return StatusOf(cert, s.now()), nil
}

// Ping reports whether the underlying database is reachable.
func (s *CertificateStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
