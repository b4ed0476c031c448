package revocation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ruteri/keybox-sentinel/interfaces"
	"github.com/ruteri/keybox-sentinel/metrics"
)

const (
	// DefaultURL is the public attestation status list.
	DefaultURL = "https://android.googleapis.com/attestation/status"

	// DefaultFreshnessWindow is how long a cached document is used without asking the server.
	DefaultFreshnessWindow = 5 * time.Minute

	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 30 * time.Second

	maxDocumentSize = 32 << 20
)

// FetcherConfig configures the revocation authority endpoint and timeouts.
// Zero values are replaced by the defaults above.
type FetcherConfig struct {
	URL             string
	FreshnessWindow time.Duration
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
}

func (cfg *FetcherConfig) withDefaults() FetcherConfig {
	out := *cfg
	if out.URL == "" {
		out.URL = DefaultURL
	}
	if out.FreshnessWindow == 0 {
		out.FreshnessWindow = DefaultFreshnessWindow
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = DefaultReadTimeout
	}
	return out
}

// Fetcher retrieves the revocation document with conditional GETs and falls back
// to the cached copy, however old, when the authority cannot be used.
type Fetcher struct {
	cfg    FetcherConfig
	cache  interfaces.RevocationCache
	client *http.Client
	log    *slog.Logger
}

// NewFetcher creates a fetcher for cfg.URL backed by cache.
//
// The HTTP client bounds connection setup by ConnectTimeout and waiting for the
// response by ReadTimeout; the whole exchange including the body may take at
// most their sum.
func NewFetcher(cfg FetcherConfig, cache interfaces.RevocationCache, log *slog.Logger) *Fetcher {
	cfg = cfg.withDefaults()

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          2,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Fetcher{
		cfg:   cfg,
		cache: cache,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		log: log,
	}
}

// Fetch returns the document to evaluate and where it came from.
//
//  1. A cached document younger than the freshness window is returned without any request.
//  2. Otherwise a GET is sent, with If-None-Match when the cached document has an ETag.
//  3. 304 returns the cached document untouched; 2xx stores and returns the new one.
//  4. Any other status or transport error returns the cached document as SourceStaleCache,
//     or wraps interfaces.ErrNetworkFailure when there is none.
func (f *Fetcher) Fetch(ctx context.Context) (*interfaces.RevocationDocument, interfaces.DocumentSource, error) {
	cached, err := f.cache.Load(ctx)
	if err != nil {
		if !errors.Is(err, interfaces.ErrCacheMiss) {
			f.log.Warn("Failed to load revocation cache", "err", err)
		}
		cached = nil
	}

	if cached != nil && f.cache.AgeOf(cached) < f.cfg.FreshnessWindow {
		f.log.Debug("Using fresh cached revocation document",
			slog.Duration("age", f.cache.AgeOf(cached)))
		return f.served(cached, interfaces.SourceCache)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return f.fallback(cached, fmt.Errorf("could not build request: %w", err))
	}
	if cached != nil && cached.ETag != "" {
		req.Header.Set("If-None-Match", cached.ETag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return f.fallback(cached, fmt.Errorf("could not reach revocation authority: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		f.log.Debug("Revocation document not modified", slog.String("etag", cached.ETag))
		return f.served(cached, interfaces.SourceCache)

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		if err != nil {
			return f.fallback(cached, fmt.Errorf("could not read revocation document: %w", err))
		}

		doc := &interfaces.RevocationDocument{
			Body: string(body),
			ETag: resp.Header.Get("ETag"),
		}
		if err := f.cache.Store(ctx, doc); err != nil {
			// The fresh document is still usable for this cycle.
			f.log.Error("Failed to cache revocation document", "err", err)
		}

		f.log.Info("Fetched revocation document",
			slog.Int("size", len(body)),
			slog.String("etag", doc.ETag))
		return f.served(doc, interfaces.SourceNetwork)

	default:
		return f.fallback(cached, fmt.Errorf("revocation authority returned status %d", resp.StatusCode))
	}
}

func (f *Fetcher) served(doc *interfaces.RevocationDocument, source interfaces.DocumentSource) (*interfaces.RevocationDocument, interfaces.DocumentSource, error) {
	metrics.DocumentFetched(source.String())
	return doc, source, nil
}

func (f *Fetcher) fallback(cached *interfaces.RevocationDocument, cause error) (*interfaces.RevocationDocument, interfaces.DocumentSource, error) {
	if cached == nil {
		metrics.FetchFailed()
		f.log.Warn("Revocation document unavailable", "err", cause)
		return nil, interfaces.SourceNetwork, fmt.Errorf("%w: %v", interfaces.ErrNetworkFailure, cause)
	}

	f.log.Warn("Using stale revocation document",
		"err", cause,
		slog.Time("fetched_at", cached.FetchedAt))
	return f.served(cached, interfaces.SourceStaleCache)
}
