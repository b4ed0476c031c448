package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServer(t *testing.T) {
	srv, err := New("keybox-sentinel", "127.0.0.1:0")
	require.NoError(t, err)

	CheckCompleted("manual", "revoked", 1700000000)
	DocumentFetched("stale_cache")
	AlertFired()
	SetRevoked(true)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `keybox_checks_total{trigger="manual",outcome="revoked"}`)
	assert.Contains(t, body, `keybox_revocation_fetches_total{source="stale_cache"}`)
	assert.Contains(t, body, `keybox_chain_revoked 1`)
	assert.Contains(t, body, `keybox_alerts_fired_total`)
}

func TestNewRequiresName(t *testing.T) {
	_, err := New("", "127.0.0.1:0")
	assert.Error(t, err)
}
