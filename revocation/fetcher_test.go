package revocation

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ruteri/keybox-sentinel/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDocument = `{"entries":{"0abc":{"status":"REVOKED","reason":"KEY_COMPROMISE"}}}`

type authority struct {
	srv      *httptest.Server
	requests atomic.Int32
	lastINM  atomic.Value
	handler  atomic.Value
}

func newAuthority(t *testing.T, handler http.HandlerFunc) *authority {
	t.Helper()
	a := &authority{}
	a.handler.Store(handler)
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.requests.Add(1)
		a.lastINM.Store(r.Header.Get("If-None-Match"))
		a.handler.Load().(http.HandlerFunc)(w, r)
	}))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *authority) setHandler(handler http.HandlerFunc) {
	a.handler.Store(handler)
}

func serveDocument(etag, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if etag != "" {
			w.Header().Set("ETag", etag)
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, body)
	}
}

func serveStatus(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}
}

func newTestFetcher(t *testing.T, url string) (*Fetcher, *Cache, *countingBackend, *testClock) {
	t.Helper()
	cache, backend, clock := newTestCache(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fetcher := NewFetcher(FetcherConfig{
		URL:            url,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
	}, cache, logger)
	return fetcher, cache, backend, clock
}

func TestFetchNetworkThenFreshCache(t *testing.T) {
	a := newAuthority(t, serveDocument(`"v1"`, testDocument))
	fetcher, cache, backend, clock := newTestFetcher(t, a.srv.URL)
	ctx := context.Background()

	doc, source, err := fetcher.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SourceNetwork, source)
	assert.Equal(t, testDocument, doc.Body)
	assert.Equal(t, int32(1), a.requests.Load())
	assert.Equal(t, "", a.lastINM.Load())
	assert.Equal(t, int32(1), backend.stores.Load())

	stored, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, stored.ETag)
	assert.Equal(t, testDocument, stored.Body)

	// Within the freshness window nothing reaches the network.
	for i := 0; i < 5; i++ {
		clock.Advance(30 * time.Second)
		doc, source, err := fetcher.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, interfaces.SourceCache, source)
		assert.Equal(t, testDocument, doc.Body)
	}
	assert.Equal(t, int32(1), a.requests.Load())
}

func TestFetchFreshCacheMakesNoRequests(t *testing.T) {
	a := newAuthority(t, serveDocument(`"v1"`, testDocument))
	fetcher, cache, _, _ := newTestFetcher(t, a.srv.URL)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, &interfaces.RevocationDocument{Body: testDocument, ETag: `"v0"`}))

	for i := 0; i < 20; i++ {
		_, source, err := fetcher.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, interfaces.SourceCache, source)
	}
	assert.Equal(t, int32(0), a.requests.Load())
}

func TestFetchNotModifiedKeepsCache(t *testing.T) {
	a := newAuthority(t, serveStatus(http.StatusNotModified))
	fetcher, cache, backend, clock := newTestFetcher(t, a.srv.URL)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, &interfaces.RevocationDocument{Body: testDocument, ETag: `"v1"`}))
	before, err := cache.Load(ctx)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)

	doc, source, err := fetcher.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SourceCache, source)
	assert.Equal(t, testDocument, doc.Body)
	assert.Equal(t, `"v1"`, a.lastINM.Load())

	// Only the seeding write happened.
	assert.Equal(t, int32(1), backend.stores.Load())
	after, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFetchFallsBackToStaleCache(t *testing.T) {
	tests := []struct {
		name  string
		setup func(a *authority)
	}{
		{
			name:  "server error",
			setup: func(a *authority) { a.setHandler(serveStatus(http.StatusInternalServerError)) },
		},
		{
			name:  "not found",
			setup: func(a *authority) { a.setHandler(serveStatus(http.StatusNotFound)) },
		},
		{
			name:  "connection refused",
			setup: func(a *authority) { a.srv.Close() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAuthority(t, serveDocument(`"v2"`, `{"entries":{}}`))
			fetcher, cache, backend, clock := newTestFetcher(t, a.srv.URL)
			ctx := context.Background()

			require.NoError(t, cache.Store(ctx, &interfaces.RevocationDocument{Body: testDocument, ETag: `"v1"`}))
			clock.Advance(48 * time.Hour)
			tt.setup(a)

			doc, source, err := fetcher.Fetch(ctx)
			require.NoError(t, err)
			assert.Equal(t, interfaces.SourceStaleCache, source)
			assert.Equal(t, testDocument, doc.Body)
			assert.Equal(t, int32(1), backend.stores.Load())
		})
	}
}

func TestFetchFailsWithoutCache(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "server error", handler: serveStatus(http.StatusServiceUnavailable)},
		{name: "not modified without cache", handler: serveStatus(http.StatusNotModified)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAuthority(t, tt.handler)
			fetcher, _, backend, _ := newTestFetcher(t, a.srv.URL)

			doc, _, err := fetcher.Fetch(context.Background())
			assert.ErrorIs(t, err, interfaces.ErrNetworkFailure)
			assert.Nil(t, doc)
			assert.Equal(t, int32(0), backend.stores.Load())
		})
	}
}

func TestFetchTimesOut(t *testing.T) {
	stall := func(release <-chan struct{}) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}
	}

	newStalledFetcher := func(t *testing.T) (*Fetcher, *Cache, *testClock) {
		release := make(chan struct{})
		a := newAuthority(t, stall(release))
		t.Cleanup(func() { close(release) })

		cache, _, clock := newTestCache(t)
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		fetcher := NewFetcher(FetcherConfig{
			URL:            a.srv.URL,
			ConnectTimeout: 100 * time.Millisecond,
			ReadTimeout:    100 * time.Millisecond,
		}, cache, logger)
		return fetcher, cache, clock
	}

	t.Run("stale cache", func(t *testing.T) {
		fetcher, cache, clock := newStalledFetcher(t)
		ctx := context.Background()
		require.NoError(t, cache.Store(ctx, &interfaces.RevocationDocument{Body: testDocument, ETag: `"v1"`}))
		clock.Advance(time.Hour)

		start := time.Now()
		doc, source, err := fetcher.Fetch(ctx)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, interfaces.SourceStaleCache, source)
		assert.Equal(t, testDocument, doc.Body)
	})

	t.Run("no cache", func(t *testing.T) {
		fetcher, _, _ := newStalledFetcher(t)

		start := time.Now()
		doc, _, err := fetcher.Fetch(context.Background())
		assert.ErrorIs(t, err, interfaces.ErrNetworkFailure)
		assert.Nil(t, doc)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestFetchWithoutETagFetchesUnconditionally(t *testing.T) {
	a := newAuthority(t, serveDocument("", testDocument))
	fetcher, cache, _, clock := newTestFetcher(t, a.srv.URL)
	ctx := context.Background()

	_, source, err := fetcher.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SourceNetwork, source)

	stored, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored.ETag)

	clock.Advance(6 * time.Minute)
	_, source, err = fetcher.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SourceNetwork, source)
	assert.Equal(t, "", a.lastINM.Load())
	assert.Equal(t, int32(2), a.requests.Load())
}

func TestFetchReplacesCacheOnNewDocument(t *testing.T) {
	a := newAuthority(t, serveDocument(`"v2"`, `{"entries":{}}`))
	fetcher, cache, _, clock := newTestFetcher(t, a.srv.URL)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, &interfaces.RevocationDocument{Body: testDocument, ETag: `"v1"`}))
	clock.Advance(time.Hour)

	doc, source, err := fetcher.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SourceNetwork, source)
	assert.Equal(t, `{"entries":{}}`, doc.Body)
	assert.Equal(t, `"v1"`, a.lastINM.Load())

	stored, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `"v2"`, stored.ETag)
	assert.Equal(t, `{"entries":{}}`, stored.Body)
	assert.True(t, clock.now.Equal(stored.FetchedAt))
}
