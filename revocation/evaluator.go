package revocation

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ruteri/keybox-sentinel/interfaces"
)

// NoCertificatesReason is the failure reason reported for an empty chain.
const NoCertificatesReason = "no attestation certificates"

// Evaluator implements interfaces.ChainEvaluator.
//
// A certificate counts as revoked when the lowercased document text contains its
// serial number quoted, either as even-length lowercase hex or as decimal. The
// match is a plain substring search over the raw text, not a lookup in parsed JSON,
// so it keeps working if the document layout changes but can also hit a serial
// that happens to appear inside an unrelated quoted value.
type Evaluator struct {
	fetcher interfaces.RevocationFetcher
	log     *slog.Logger
}

func NewEvaluator(fetcher interfaces.RevocationFetcher, log *slog.Logger) *Evaluator {
	return &Evaluator{fetcher: fetcher, log: log}
}

// Evaluate matches chain against the current revocation document. Records are
// returned whenever the chain could be described; their Revoked flags are only
// set when a document was actually consulted.
func (e *Evaluator) Evaluate(ctx context.Context, chain []*x509.Certificate) (interfaces.CheckOutcome, []interfaces.CertificateRecord) {
	if len(chain) == 0 {
		return interfaces.Failed(NoCertificatesReason), nil
	}

	records := make([]interfaces.CertificateRecord, 0, len(chain))
	for i, cert := range chain {
		record, err := NewCertificateRecord(i, cert)
		if err != nil {
			e.log.Error("Could not describe certificate", slog.Int("position", i), "err", err)
			return interfaces.Failed(err.Error()), records
		}
		records = append(records, record)
	}

	doc, source, err := e.fetcher.Fetch(ctx)
	if err != nil {
		return interfaces.Failed(err.Error()), records
	}

	document := strings.ToLower(doc.Body)
	outcome := interfaces.Healthy()
	for i := range records {
		if isListed(document, &records[i]) {
			records[i].Revoked = true
			outcome = interfaces.Revoked()
			e.log.Warn("Certificate listed as revoked",
				slog.Int("position", records[i].Position),
				slog.String("serial", records[i].SerialHex),
				slog.String("subject", records[i].Subject))
		}
	}

	e.log.Debug("Evaluated chain",
		slog.Int("certificates", len(records)),
		slog.String("source", source.String()),
		slog.String("outcome", outcome.Kind.String()))
	return outcome, records
}

// NewCertificateRecord describes cert at position in its chain. It fails with
// interfaces.ErrEvaluation if the certificate carries no serial number.
func NewCertificateRecord(position int, cert *x509.Certificate) (interfaces.CertificateRecord, error) {
	if cert == nil || cert.SerialNumber == nil {
		return interfaces.CertificateRecord{}, fmt.Errorf("%w: certificate %d has no serial number", interfaces.ErrEvaluation, position)
	}

	return interfaces.CertificateRecord{
		Position:           position,
		Subject:            cert.Subject.String(),
		Issuer:             cert.Issuer.String(),
		SerialHex:          SerialHex(cert.SerialNumber),
		SerialDecimal:      cert.SerialNumber.Text(10),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		PublicKeyAlgorithm: cert.PublicKeyAlgorithm.String(),
		Version:            cert.Version,
	}, nil
}

// SerialHex renders serial as lowercase hex with an even number of digits.
func SerialHex(serial *big.Int) string {
	h := serial.Text(16)
	if len(strings.TrimPrefix(h, "-"))%2 == 1 {
		if strings.HasPrefix(h, "-") {
			return "-0" + h[1:]
		}
		return "0" + h
	}
	return h
}

func isListed(document string, record *interfaces.CertificateRecord) bool {
	return strings.Contains(document, `"`+record.SerialHex+`"`) ||
		strings.Contains(document, `"`+record.SerialDecimal+`"`)
}
