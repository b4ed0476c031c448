package cryptoutils

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"time"

	tdx_abi "github.com/google/go-tdx-guest/abi"
	tdx_client "github.com/google/go-tdx-guest/client"
	tdx_pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/ruteri/keybox-sentinel/interfaces"
)

// NewChallenge returns fresh random report data for one attestation request.
func NewChallenge() ([64]byte, error) {
	var challenge [64]byte
	_, err := rand.Read(challenge[:])
	return challenge, err
}

// PEMChainProvider reads a fixed attestation chain from a PEM file, leaf first.
// The file is re-read on every call so a rotated chain is picked up.
type PEMChainProvider struct {
	Path string
}

func (p *PEMChainProvider) Chain(ctx context.Context) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrChainUnavailable, err)
	}

	chain, err := ParsePEMChain(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", interfaces.ErrChainUnavailable, p.Path, err)
	}
	return chain, nil
}

// RemoteChainProvider asks a local attestation agent for a chain bound to a fresh
// challenge: GET <Address>/attest/chain/<challenge hex>, answered with a PEM bundle.
type RemoteChainProvider struct {
	Address string
	Client  *http.Client
}

func (p *RemoteChainProvider) Chain(ctx context.Context) ([]*x509.Certificate, error) {
	challenge, err := NewChallenge()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/attest/chain/%s", p.Address, hex.EncodeToString(challenge[:]))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: calling attestation agent: %v", interfaces.ErrChainUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: attestation agent returned status %d: %s", interfaces.ErrChainUnavailable, resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading chain: %v", interfaces.ErrChainUnavailable, err)
	}

	chain, err := ParsePEMChain(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrChainUnavailable, err)
	}
	return chain, nil
}

// QuoteProvider produces a raw TDX quote over reportData.
type QuoteProvider interface {
	Quote(ctx context.Context, reportData [64]byte) ([]byte, error)
}

// DCAPQuoteProvider gets quotes from the local TDX guest, preferring the configfs
// interface and falling back to the legacy guest device.
type DCAPQuoteProvider struct{}

func (DCAPQuoteProvider) Quote(ctx context.Context, reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

// RemoteQuoteProvider fetches quotes from a quote agent: GET <Address>/attest/<report data hex>.
type RemoteQuoteProvider struct {
	Address string
	Client  *http.Client
}

func (p *RemoteQuoteProvider) Quote(ctx context.Context, reportData [64]byte) ([]byte, error) {
	url := fmt.Sprintf("%s/attest/%s", p.Address, hex.EncodeToString(reportData[:]))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return rawQuote, nil
}

// TDXChainProvider returns the PCK certificate chain embedded in a TDX quote
// taken over a fresh challenge: PCK leaf, platform intermediate, root.
type TDXChainProvider struct {
	Quotes QuoteProvider
}

func (p *TDXChainProvider) Chain(ctx context.Context) ([]*x509.Certificate, error) {
	challenge, err := NewChallenge()
	if err != nil {
		return nil, err
	}

	rawQuote, err := p.Quotes.Quote(ctx, challenge)
	if err != nil {
		return nil, fmt.Errorf("%w: could not get quote: %v", interfaces.ErrChainUnavailable, err)
	}

	return ChainFromQuote(rawQuote)
}

// ChainFromQuote extracts the PCK certificate chain from a raw v4 TDX quote, leaf first.
func ChainFromQuote(rawQuote []byte) ([]*x509.Certificate, error) {
	protoQuote, err := tdx_abi.QuoteToProto(rawQuote)
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse quote: %v", interfaces.ErrChainUnavailable, err)
	}

	quote, ok := protoQuote.(*tdx_pb.QuoteV4)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported quote type: %T", interfaces.ErrChainUnavailable, protoQuote)
	}

	return PCKChain(quote)
}

// PCKChain returns the PCK leaf, platform intermediate and root certificates
// carried in the quote's certification data.
func PCKChain(quote *tdx_pb.QuoteV4) ([]*x509.Certificate, error) {
	pemChain := quote.GetSignedData().GetCertificationData().GetQeReportCertificationData().GetPckCertificateChainData().GetPckCertChain()
	if len(pemChain) == 0 {
		return nil, fmt.Errorf("%w: quote carries no PCK certificate chain", interfaces.ErrChainUnavailable)
	}

	chain, err := ParsePEMChain(pemChain)
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse PCK chain: %v", interfaces.ErrChainUnavailable, err)
	}
	if len(chain) != 3 {
		return nil, fmt.Errorf("%w: PCK chain has %d certificates, want 3", interfaces.ErrChainUnavailable, len(chain))
	}
	return chain, nil
}

// FallbackChainProvider tries Preferred and, if it fails, Fallback exactly once.
type FallbackChainProvider struct {
	Preferred interfaces.TrustAnchorProvider
	Fallback  interfaces.TrustAnchorProvider
	Log       *slog.Logger
}

func (p *FallbackChainProvider) Chain(ctx context.Context) ([]*x509.Certificate, error) {
	chain, err := p.Preferred.Chain(ctx)
	if err == nil {
		return chain, nil
	}
	if p.Fallback == nil {
		return nil, wrapChainUnavailable(err)
	}

	if p.Log != nil {
		p.Log.Warn("Preferred trust anchor failed, retrying with fallback", "err", err)
	}

	chain, fallbackErr := p.Fallback.Chain(ctx)
	if fallbackErr != nil {
		return nil, wrapChainUnavailable(errors.Join(err, fallbackErr))
	}
	return chain, nil
}

// SelfSignedChainProvider generates a new chain on every call. Serials pins the
// serial numbers (leaf first), which lets a development setup reproduce a listed key.
type SelfSignedChainProvider struct {
	Serials []*big.Int
}

func (p *SelfSignedChainProvider) Chain(ctx context.Context) ([]*x509.Certificate, error) {
	chain, err := GenerateChain(p.Serials...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrChainUnavailable, err)
	}
	return chain, nil
}

func wrapChainUnavailable(err error) error {
	if errors.Is(err, interfaces.ErrChainUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", interfaces.ErrChainUnavailable, err)
}
