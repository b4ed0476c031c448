package cryptoutils

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ParsePEMChain parses a PEM bundle into certificates, keeping the bundle order.
// Blocks that are not certificates are skipped; a bundle without any certificate is an error.
func ParsePEMChain(data []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %d: %w", len(chain), err)
		}
		chain = append(chain, cert)
	}

	if len(chain) == 0 {
		return nil, errors.New("no certificates in PEM data")
	}
	return chain, nil
}

// EncodePEMChain encodes chain as a PEM bundle in the given order.
func EncodePEMChain(chain []*x509.Certificate) []byte {
	var buf bytes.Buffer
	for _, cert := range chain {
		pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	}
	return buf.Bytes()
}

// GenerateChain creates a root → intermediate → leaf chain and returns it leaf
// first. serials, if given, set the serial numbers in that order (leaf first);
// missing ones are random.
//
// The chain mimics a device attestation chain closely enough for development and
// tests: ECDSA P-256 keys, CA basic constraints on the upper two certificates.
func GenerateChain(serials ...*big.Int) ([]*x509.Certificate, error) {
	serialAt := func(i int) (*big.Int, error) {
		if i < len(serials) && serials[i] != nil {
			return serials[i], nil
		}
		return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	}

	names := []string{"Attestation Key", "Attestation Intermediate", "Attestation Root"}
	now := time.Now()

	type issued struct {
		cert *x509.Certificate
		key  *ecdsa.PrivateKey
	}
	var parent *issued
	chain := make([]*x509.Certificate, 3)

	// Issue from the root down; position 2 is the root.
	for pos := 2; pos >= 0; pos-- {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}

		serial, err := serialAt(pos)
		if err != nil {
			return nil, err
		}

		template := &x509.Certificate{
			SerialNumber:          serial,
			Subject:               pkix.Name{CommonName: names[pos], Organization: []string{"keybox-sentinel"}},
			NotBefore:             now.Add(-time.Hour),
			NotAfter:              now.Add(24 * time.Hour),
			BasicConstraintsValid: true,
			IsCA:                  pos > 0,
			KeyUsage:              x509.KeyUsageDigitalSignature,
		}
		if pos > 0 {
			template.KeyUsage |= x509.KeyUsageCertSign
		}

		issuerCert, issuerKey := template, key
		if parent != nil {
			issuerCert, issuerKey = parent.cert, parent.key
		}

		der, err := x509.CreateCertificate(rand.Reader, template, issuerCert, key.Public(), issuerKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create certificate %d: %w", pos, err)
		}

		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, err
		}

		chain[pos] = cert
		parent = &issued{cert: cert, key: key}
	}

	return chain, nil
}
