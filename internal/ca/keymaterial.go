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
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"time"
)

const (
	// caCertValidity is the lifetime of bootstrapped root and issuing certs.
	caCertValidity = 10 * 365 * 24 * time.Hour

	filePermPrivate = 0640
	filePermPublic  = 0644
)

// Key-material load failures. Any of these is fatal at CA construction:
// a missing or inconsistent credential set is an operational
// misconfiguration, never retried.
var (
	ErrKeyMaterialMissing = errors.New("key material file missing")
	ErrKeyMaterialParse   = errors.New("key material did not parse")
	ErrKeyMismatch        = errors.New("issuing certificate and private key are inconsistent")
)

// KeyMaterialPaths names the on-disk credential artifacts of one CA flavor.
type KeyMaterialPaths struct {
	RootCert    string
	IssuingCert string
	IssuingKey  string
}

// DefaultPaths returns the conventional artifact layout under dir.
func DefaultPaths(dir string) KeyMaterialPaths {
	return KeyMaterialPaths{
		RootCert:    dir + "/rootca-RSA.pem",
		IssuingCert: dir + "/real-RSA.pem",
		IssuingKey:  dir + "/real-RSA.key",
	}
}

// KeyMaterial holds the loaded trust anchor, issuing certificate, and
// issuing private key. It is loaded once at startup and read-only for the
// remainder of the process lifetime; the private key never leaves it.
type KeyMaterial struct {
	RootPEM    []byte
	IssuingPEM []byte
	Root       *x509.Certificate
	Issuing    *x509.Certificate
	IssuingKey *rsa.PrivateKey
}

// LoadKeyMaterial reads and validates the three credential artifacts.
// The set is usable only if everything parses, the issuing certificate's
// public key matches the private key, and the issuing certificate chains
// to the root.
func LoadKeyMaterial(paths KeyMaterialPaths) (*KeyMaterial, error) {
	rootPEM, err := readPEMFile(paths.RootCert)
	if err != nil {
		return nil, err
	}
	issuingPEM, err := readPEMFile(paths.IssuingCert)
	if err != nil {
		return nil, err
	}
	keyPEM, err := readPEMFile(paths.IssuingKey)
	if err != nil {
		return nil, err
	}

	root, err := parseCertPEM(rootPEM, paths.RootCert)
	if err != nil {
		return nil, err
	}
	issuing, err := parseCertPEM(issuingPEM, paths.IssuingCert)
	if err != nil {
		return nil, err
	}
	key, err := parseRSAKeyPEM(keyPEM, paths.IssuingKey)
	if err != nil {
		return nil, err
	}

	issuingPub, ok := issuing.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: issuing certificate %s does not carry an RSA key",
			ErrKeyMaterialParse, paths.IssuingCert)
	}
	if !issuingPub.Equal(&key.PublicKey) {
		return nil, fmt.Errorf("%w: %s vs %s", ErrKeyMismatch, paths.IssuingCert, paths.IssuingKey)
	}
	if err := issuing.CheckSignatureFrom(root); err != nil {
		return nil, fmt.Errorf("%w: issuing certificate is not signed by the root: %v",
			ErrKeyMismatch, err)
	}

	return &KeyMaterial{
		RootPEM:    rootPEM,
		IssuingPEM: issuingPEM,
		Root:       root,
		Issuing:    issuing,
		IssuingKey: key,
	}, nil
}

func readPEMFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyMaterialMissing, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func parseCertPEM(data []byte, path string) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: %s is not PEM", ErrKeyMaterialParse, path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyMaterialParse, path, err)
	}
	return cert, nil
}

// parseRSAKeyPEM accepts both PKCS1 ("BEGIN RSA PRIVATE KEY") and PKCS8
// ("BEGIN PRIVATE KEY"). Bootstrapped keys are PKCS1; imported keys may be
// PKCS8 (openssl-3.x default).
func parseRSAKeyPEM(data []byte, path string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: %s is not PEM", ErrKeyMaterialParse, path)
	}
	if k1, err1 := x509.ParsePKCS1PrivateKey(block.Bytes); err1 == nil {
		return k1, nil
	}
	k8, err8 := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err8 != nil {
		return nil, fmt.Errorf("%w: %s is neither PKCS1 nor PKCS8", ErrKeyMaterialParse, path)
	}
	key, ok := k8.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an RSA key", ErrKeyMaterialParse, path)
	}
	return key, nil
}

// Bootstrap generates a fresh two-tier CA — a self-signed root trust
// anchor and an issuing certificate signed by it — and writes the three
// artifacts to paths. The root key is used exactly once, to certify the
// issuing certificate, and is deliberately not persisted: leaf signing and
// OCSP responses only ever need the issuing key.
func Bootstrap(paths KeyMaterialPaths, consortium string) error {
	if consortium == "" {
		consortium = "Silverbullet"
	}

	slog.Debug("Generating CA keys (4096-bit RSA) — this may take a moment")
	rootKey, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return fmt.Errorf("failed to generate root key: %w", err)
	}
	issuingKey, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return fmt.Errorf("failed to generate issuing key: %w", err)
	}

	now := time.Now().UTC()

	rootTemplate, err := caTemplate(consortium+" Root CA", &rootKey.PublicKey, now)
	if err != nil {
		return err
	}
	rootTemplate.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("failed to create root cert: %w", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return fmt.Errorf("failed to parse generated root cert: %w", err)
	}

	issuingTemplate, err := caTemplate(consortium+" Issuing CA", &issuingKey.PublicKey, now)
	if err != nil {
		return err
	}
	// The issuing key signs both leaf certificates and OCSP statements.
	issuingTemplate.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	issuingTemplate.MaxPathLenZero = true
	issuingDER, err := x509.CreateCertificate(rand.Reader, issuingTemplate, rootCert, &issuingKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("failed to create issuing cert: %w", err)
	}

	rootPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER})
	issuingPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: issuingDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(issuingKey)})

	if err := os.WriteFile(paths.RootCert, rootPEM, filePermPublic); err != nil {
		return fmt.Errorf("failed to write root cert: %w", err)
	}
	if err := os.WriteFile(paths.IssuingCert, issuingPEM, filePermPublic); err != nil {
		return fmt.Errorf("failed to write issuing cert: %w", err)
	}
	if err := os.WriteFile(paths.IssuingKey, keyPEM, filePermPrivate); err != nil {
		return fmt.Errorf("failed to write issuing key: %w", err)
	}

	slog.Info("CA bootstrapped", "root", rootTemplate.Subject.CommonName,
		"issuing", issuingTemplate.Subject.CommonName)
	return nil
}

func caTemplate(commonName string, pub *rsa.PublicKey, now time.Time) (*x509.Certificate, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	// SubjectKeyIdentifier: SHA1 of the DER-encoded public key.
	pubBytes, _ := asn1.Marshal(*pub)
	subjectKeyID := sha1.Sum(pubBytes)

	return &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-24 * time.Hour),
		NotAfter:              now.Add(caCertValidity),
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          subjectKeyID[:],
	}, nil
}
