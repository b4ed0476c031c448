package cryptoutils

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tdx_pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/ruteri/keybox-sentinel/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTrustAnchor struct {
	mock.Mock
}

func (m *MockTrustAnchor) Chain(ctx context.Context) ([]*x509.Certificate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*x509.Certificate), args.Error(1)
}

type MockQuoteProvider struct {
	mock.Mock
}

func (m *MockQuoteProvider) Quote(ctx context.Context, reportData [64]byte) ([]byte, error) {
	args := m.Called(ctx, reportData)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func TestGenerateChain(t *testing.T) {
	chain, err := GenerateChain(big.NewInt(0xabc), nil, big.NewInt(7))
	require.NoError(t, err)
	require.Len(t, chain, 3)

	assert.Equal(t, int64(0xabc), chain[0].SerialNumber.Int64())
	assert.Equal(t, int64(7), chain[2].SerialNumber.Int64())
	assert.NotNil(t, chain[1].SerialNumber)

	assert.False(t, chain[0].IsCA)
	assert.True(t, chain[1].IsCA)
	assert.True(t, chain[2].IsCA)

	require.NoError(t, chain[0].CheckSignatureFrom(chain[1]))
	require.NoError(t, chain[1].CheckSignatureFrom(chain[2]))
	require.NoError(t, chain[2].CheckSignatureFrom(chain[2]))
}

func TestPEMChainRoundTrip(t *testing.T) {
	chain, err := GenerateChain()
	require.NoError(t, err)

	parsed, err := ParsePEMChain(EncodePEMChain(chain))
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	for i := range chain {
		assert.True(t, chain[i].Equal(parsed[i]))
	}

	_, err = ParsePEMChain([]byte("not pem"))
	assert.Error(t, err)
}

func TestPEMChainProvider(t *testing.T) {
	chain, err := GenerateChain()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "chain.pem")
	require.NoError(t, os.WriteFile(path, EncodePEMChain(chain), 0600))

	provider := &PEMChainProvider{Path: path}
	got, err := provider.Chain(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, chain[0].Equal(got[0]))

	missing := &PEMChainProvider{Path: filepath.Join(t.TempDir(), "missing.pem")}
	_, err = missing.Chain(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrChainUnavailable)
}

func TestRemoteChainProvider(t *testing.T) {
	chain, err := GenerateChain()
	require.NoError(t, err)

	var mu sync.Mutex
	var challenges []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/attest/chain/") {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		challenges = append(challenges, strings.TrimPrefix(r.URL.Path, "/attest/chain/"))
		mu.Unlock()
		w.Write(EncodePEMChain(chain))
	}))
	defer srv.Close()

	provider := &RemoteChainProvider{Address: srv.URL}
	for i := 0; i < 2; i++ {
		got, err := provider.Chain(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 3)
	}

	require.Len(t, challenges, 2)
	assert.Len(t, challenges[0], 128)
	assert.NotEqual(t, challenges[0], challenges[1])

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "hardware unavailable", http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	_, err = (&RemoteChainProvider{Address: failing.URL}).Chain(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrChainUnavailable)
	assert.Contains(t, err.Error(), "hardware unavailable")
}

func TestTDXChainProvider(t *testing.T) {
	t.Run("quote failure", func(t *testing.T) {
		quotes := &MockQuoteProvider{}
		quotes.On("Quote", mock.Anything, mock.Anything).Return(nil, errors.New("no tdx guest"))

		_, err := (&TDXChainProvider{Quotes: quotes}).Chain(context.Background())
		assert.ErrorIs(t, err, interfaces.ErrChainUnavailable)
		quotes.AssertExpectations(t)
	})

	t.Run("malformed quote", func(t *testing.T) {
		quotes := &MockQuoteProvider{}
		quotes.On("Quote", mock.Anything, mock.Anything).Return([]byte("garbage"), nil)

		_, err := (&TDXChainProvider{Quotes: quotes}).Chain(context.Background())
		assert.ErrorIs(t, err, interfaces.ErrChainUnavailable)
	})
}

func quoteWithPCKChain(pemChain []byte) *tdx_pb.QuoteV4 {
	return &tdx_pb.QuoteV4{
		SignedData: &tdx_pb.Ecdsa256BitQuoteV4AuthData{
			CertificationData: &tdx_pb.CertificationData{
				QeReportCertificationData: &tdx_pb.QEReportCertificationData{
					PckCertificateChainData: &tdx_pb.PCKCertificateChainData{
						PckCertChain: pemChain,
					},
				},
			},
		},
	}
}

func TestPCKChain(t *testing.T) {
	generated, err := GenerateChain(big.NewInt(11), big.NewInt(22), big.NewInt(33))
	require.NoError(t, err)

	// Quotes pad the chain with trailing zero bytes.
	pemChain := append(EncodePEMChain(generated), 0, 0, 0)

	chain, err := PCKChain(quoteWithPCKChain(pemChain))
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, int64(11), chain[0].SerialNumber.Int64())
	assert.Equal(t, int64(33), chain[2].SerialNumber.Int64())

	_, err = PCKChain(&tdx_pb.QuoteV4{})
	assert.ErrorIs(t, err, interfaces.ErrChainUnavailable)

	_, err = PCKChain(quoteWithPCKChain(EncodePEMChain(generated[:1])))
	assert.ErrorIs(t, err, interfaces.ErrChainUnavailable)
}

func TestRemoteQuoteProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/attest/"))
		w.Write([]byte("quote-bytes"))
	}))
	defer srv.Close()

	quote, err := (&RemoteQuoteProvider{Address: srv.URL}).Quote(context.Background(), [64]byte{1})
	require.NoError(t, err)
	assert.Equal(t, []byte("quote-bytes"), quote)
}

func TestFallbackChainProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain, err := GenerateChain()
	require.NoError(t, err)

	t.Run("preferred succeeds", func(t *testing.T) {
		preferred := &MockTrustAnchor{}
		preferred.On("Chain", mock.Anything).Return(chain, nil).Once()
		fallback := &MockTrustAnchor{}

		got, err := (&FallbackChainProvider{Preferred: preferred, Fallback: fallback, Log: logger}).Chain(context.Background())
		require.NoError(t, err)
		assert.Equal(t, chain, got)
		fallback.AssertNotCalled(t, "Chain", mock.Anything)
	})

	t.Run("falls back once", func(t *testing.T) {
		preferred := &MockTrustAnchor{}
		preferred.On("Chain", mock.Anything).Return(nil, errors.New("strongbox unavailable")).Once()
		fallback := &MockTrustAnchor{}
		fallback.On("Chain", mock.Anything).Return(chain, nil).Once()

		got, err := (&FallbackChainProvider{Preferred: preferred, Fallback: fallback, Log: logger}).Chain(context.Background())
		require.NoError(t, err)
		assert.Equal(t, chain, got)
		preferred.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("both fail", func(t *testing.T) {
		preferred := &MockTrustAnchor{}
		preferred.On("Chain", mock.Anything).Return(nil, errors.New("strongbox unavailable")).Once()
		fallback := &MockTrustAnchor{}
		fallback.On("Chain", mock.Anything).Return(nil, errors.New("tee unavailable")).Once()

		_, err := (&FallbackChainProvider{Preferred: preferred, Fallback: fallback, Log: logger}).Chain(context.Background())
		assert.ErrorIs(t, err, interfaces.ErrChainUnavailable)
		assert.Contains(t, err.Error(), "tee unavailable")
	})
}

func TestSelfSignedChainProvider(t *testing.T) {
	provider := &SelfSignedChainProvider{Serials: []*big.Int{big.NewInt(0xabc)}}

	first, err := provider.Chain(context.Background())
	require.NoError(t, err)
	second, err := provider.Chain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first[0].SerialNumber, second[0].SerialNumber)
	assert.False(t, first[0].Equal(second[0]))
}
