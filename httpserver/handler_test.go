package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/keybox-sentinel/api"
	"github.com/ruteri/keybox-sentinel/interfaces"
	"github.com/ruteri/keybox-sentinel/monitor"
	"github.com/ruteri/keybox-sentinel/settings"
	"github.com/ruteri/keybox-sentinel/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) RunManualCheck(ctx context.Context) (*monitor.CycleResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*monitor.CycleResult), args.Error(1)
}

func (m *MockMonitor) TryRunManualCheck(ctx context.Context) (*monitor.CycleResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*monitor.CycleResult), args.Error(1)
}

func (m *MockMonitor) SetEnabled(ctx context.Context, enabled bool) error {
	return m.Called(ctx, enabled).Error(0)
}

func (m *MockMonitor) UpdateSchedule(ctx context.Context, cfg interfaces.ScheduleConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *MockMonitor) Checking() bool {
	return m.Called().Bool(0)
}

type testEnv struct {
	server   *httptest.Server
	monitor  *MockMonitor
	settings *settings.Store
	jobs     *monitor.TimerScheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := storage.NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)

	env := &testEnv{
		monitor:  &MockMonitor{},
		settings: settings.NewStore(backend, logger),
		jobs:     monitor.NewTimerScheduler(nil, 0, logger),
	}
	t.Cleanup(env.jobs.Stop)

	handler := NewHandler(env.monitor, env.settings, env.jobs, logger)
	srv, err := New(&api.HTTPServerConfig{Log: logger}, handler)
	require.NoError(t, err)

	env.server = httptest.NewServer(srv.getRouter())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandleStatusInitial(t *testing.T) {
	env := newTestEnv(t)
	env.monitor.On("Checking").Return(false)

	resp := env.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	status := decode[api.StatusResponse](t, resp)
	assert.False(t, status.Enabled)
	assert.Equal(t, settings.InitialStatus, status.Status)
	assert.Nil(t, status.CheckedAt)
	assert.Nil(t, status.NextCheck)
}

func TestHandleStatusAfterCheck(t *testing.T) {
	env := newTestEnv(t)
	env.monitor.On("Checking").Return(true)

	checkedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, env.settings.Update(context.Background(), func(s *interfaces.Settings) error {
		s.Enabled = true
		s.State.LastOutcome = interfaces.Revoked()
		s.State.LastStatus = interfaces.Revoked().Status()
		s.State.LastCheckedAt = checkedAt
		s.State.AlertFired = true
		s.State.LastRecords = []interfaces.CertificateRecord{{Position: 0, SerialHex: "0abc", Revoked: true}}
		return nil
	}))
	env.jobs.Enqueue(monitor.JobName, time.Hour, interfaces.Constraints{}, func(ctx context.Context) {})

	status := decode[api.StatusResponse](t, env.do(t, http.MethodGet, "/api/status", ""))
	assert.True(t, status.Enabled)
	assert.True(t, status.Checking)
	assert.Equal(t, "Not Certified / Banned", status.Status)
	assert.Equal(t, "revoked", status.Outcome)
	assert.True(t, status.AlertFired)
	require.Len(t, status.Records, 1)
	assert.True(t, status.Records[0].Revoked)
	require.NotNil(t, status.CheckedAt)
	assert.True(t, checkedAt.Equal(*status.CheckedAt))
	require.NotNil(t, status.NextCheck)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *status.NextCheck, time.Minute)
}

func TestHandleCheck(t *testing.T) {
	env := newTestEnv(t)
	result := &monitor.CycleResult{
		ID:        "cycle-1",
		Outcome:   interfaces.Failed("network failure"),
		Status:    "Error: network failure",
		CheckedAt: time.Now(),
	}
	// The check must not be cut short when the caller disconnects.
	detached := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Done() == nil })
	env.monitor.On("RunManualCheck", detached).Return(result, nil).Once()

	resp := env.do(t, http.MethodPost, "/api/check", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	check := decode[api.CheckResponse](t, resp)
	assert.Equal(t, "cycle-1", check.ID)
	assert.Equal(t, "failed", check.Outcome)
	assert.Equal(t, "network failure", check.Reason)
	assert.Equal(t, "Error: network failure", check.Status)
	env.monitor.AssertExpectations(t)
}

func TestHandleCheckNoWait(t *testing.T) {
	env := newTestEnv(t)
	env.monitor.On("TryRunManualCheck", mock.Anything).Return(nil, monitor.ErrCheckInProgress).Once()

	resp := env.do(t, http.MethodPost, "/api/check?wait=false", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	env.monitor.AssertNotCalled(t, "RunManualCheck", mock.Anything)
}

func TestHandleSettings(t *testing.T) {
	env := newTestEnv(t)

	got := decode[api.SettingsResponse](t, env.do(t, http.MethodGet, "/api/settings", ""))
	assert.False(t, got.Enabled)
	assert.Equal(t, "1h0m0s", got.Schedule.HealthyInterval)
	assert.Equal(t, "5m0s", got.Schedule.RevokedInterval)
	assert.Equal(t, interfaces.NetworkAny, got.Schedule.Constraints.Network)
}

func TestHandlePutSettings(t *testing.T) {
	env := newTestEnv(t)
	want := interfaces.ScheduleConfig{
		HealthyInterval: 2 * time.Hour,
		RevokedInterval: 10 * time.Minute,
		Constraints:     interfaces.Constraints{Network: interfaces.NetworkUnmetered, RequireIdle: true},
	}
	env.monitor.On("UpdateSchedule", mock.Anything, want).Return(nil).Once()

	body := `{"healthy_interval":"2h","revoked_interval":"10m","constraints":{"network":"unmetered","require_idle":true}}`
	resp := env.do(t, http.MethodPut, "/api/settings", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	env.monitor.AssertExpectations(t)
}

func TestHandlePutSettingsInvalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantBody string
	}{
		{"not json", `{`, http.StatusBadRequest, "invalid settings format"},
		{"bad duration", `{"healthy_interval":"soon","revoked_interval":"5m"}`, http.StatusBadRequest, "healthy_interval"},
		{"too large", `{"healthy_interval":"` + strings.Repeat("1", maxBodySize) + `s"}`, http.StatusRequestEntityTooLarge, "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPut, "/api/settings", tt.body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), tt.wantBody)
		})
	}

	env.monitor.On("UpdateSchedule", mock.Anything, mock.Anything).
		Return(errors.Join(interfaces.ErrInvalidSettings, errors.New("healthy_interval too short"))).Once()
	resp := env.do(t, http.MethodPut, "/api/settings", `{"healthy_interval":"1s","revoked_interval":"5m"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleEnableDisable(t *testing.T) {
	env := newTestEnv(t)
	env.monitor.On("SetEnabled", mock.Anything, true).Return(nil).Once()
	env.monitor.On("SetEnabled", mock.Anything, false).Return(errors.New("disk full")).Once()

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/monitoring/enable", "").StatusCode)
	assert.Equal(t, http.StatusInternalServerError, env.do(t, http.MethodPost, "/api/monitoring/disable", "").StatusCode)
	env.monitor.AssertExpectations(t)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/livez", http.StatusOK, `{"status":"alive"}`},
		{"/readyz", http.StatusOK, `{"status":"ready"}`},
		{"/drain", http.StatusOK, `{"status":"draining"}`},
		{"/drain", http.StatusOK, `{"status":"already draining"}`},
		{"/readyz", http.StatusServiceUnavailable, `{"status":"not ready"}`},
		{"/undrain", http.StatusOK, `{"status":"ready"}`},
		{"/undrain", http.StatusOK, `{"status":"already ready"}`},
		{"/readyz", http.StatusOK, `{"status":"ready"}`},
	}

	for _, tt := range tests {
		resp := env.do(t, http.MethodGet, tt.path, "")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, tt.wantStatus, resp.StatusCode, tt.path)
		assert.Equal(t, tt.wantBody, string(body), tt.path)
	}
}
