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

package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// TestChain holds a lighter-weight (2048-bit) two-tier CA for tests:
// a self-signed root plus an issuing certificate signed by it.
type TestChain struct {
	RootPEM    []byte
	IssuingPEM []byte
	KeyPEM     []byte // issuing private key, PKCS1
}

// GenerateTestChain generates the chain. 2048-bit keys instead of the
// production 4096 keep suite setup fast.
func GenerateTestChain() (*TestChain, error) {
	rootKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	issuingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	rootTemplate, err := testCATemplate("Silverbullet Test Root CA", &rootKey.PublicKey, now)
	if err != nil {
		return nil, err
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	issuingTemplate, err := testCATemplate("Silverbullet Test Issuing CA", &issuingKey.PublicKey, now)
	if err != nil {
		return nil, err
	}
	issuingDER, err := x509.CreateCertificate(rand.Reader, issuingTemplate, rootCert, &issuingKey.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}

	return &TestChain{
		RootPEM:    pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER}),
		IssuingPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: issuingDER}),
		KeyPEM:     pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(issuingKey)}),
	}, nil
}

// WriteTo materializes the chain under dir using the conventional
// artifact names and returns the three paths (root, issuing, key).
func (tc *TestChain) WriteTo(dir string) (root, issuing, key string, err error) {
	root = filepath.Join(dir, "rootca-RSA.pem")
	issuing = filepath.Join(dir, "real-RSA.pem")
	key = filepath.Join(dir, "real-RSA.key")

	if err = os.WriteFile(root, tc.RootPEM, 0644); err != nil {
		return
	}
	if err = os.WriteFile(issuing, tc.IssuingPEM, 0644); err != nil {
		return
	}
	err = os.WriteFile(key, tc.KeyPEM, 0640)
	return
}

func testCATemplate(commonName string, pub *rsa.PublicKey, now time.Time) (*x509.Certificate, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, err
	}

	pubBytes, _ := asn1.Marshal(*pub)
	subjectKeyID := sha1.Sum(pubBytes)

	return &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"Silverbullet Test"},
		},
		NotBefore:             now.Add(-1 * time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          subjectKeyID[:],
	}, nil
}
