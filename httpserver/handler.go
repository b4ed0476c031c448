package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ruteri/keybox-sentinel/api"
	"github.com/ruteri/keybox-sentinel/interfaces"
	"github.com/ruteri/keybox-sentinel/monitor"
)

// maxBodySize is the maximum allowed request body size (64KB).
const maxBodySize = 64 * 1024

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Monitor is the part of monitor.Coordinator the API drives.
type Monitor interface {
	RunManualCheck(ctx context.Context) (*monitor.CycleResult, error)
	TryRunManualCheck(ctx context.Context) (*monitor.CycleResult, error)
	SetEnabled(ctx context.Context, enabled bool) error
	UpdateSchedule(ctx context.Context, cfg interfaces.ScheduleConfig) error
	Checking() bool
}

// Handler serves the control API of the keybox monitor.
type Handler struct {
	monitor  Monitor
	settings interfaces.SettingsStore
	jobs     interfaces.JobScheduler
	log      *slog.Logger
}

// NewHandler creates a new HTTP request handler with the specified dependencies.
//
// Parameters:
//   - monitor: Coordinator running checks and owning the enabled flag
//   - settings: Store the status and settings views are read from
//   - jobs: Scheduler queried for the next pending check
//   - log: Structured logger for operational insights
func NewHandler(monitor Monitor, settings interfaces.SettingsStore, jobs interfaces.JobScheduler, log *slog.Logger) *Handler {
	return &Handler{
		monitor:  monitor,
		settings: settings,
		jobs:     jobs,
		log:      log,
	}
}

// HandleStatus reports the last check and the next scheduled one.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := api.StatusResponse{
		Enabled:    s.Enabled,
		Checking:   h.monitor.Checking(),
		Status:     s.State.LastStatus,
		Records:    s.State.LastRecords,
		AlertFired: s.State.AlertFired,
	}
	if !s.State.LastCheckedAt.IsZero() {
		checkedAt := s.State.LastCheckedAt
		resp.CheckedAt = &checkedAt
		resp.Outcome = s.State.LastOutcome.Kind.String()
		resp.Reason = s.State.LastOutcome.Reason
	}
	if due, ok := h.jobs.Pending(monitor.JobName); ok {
		resp.NextCheck = &due
	}

	h.writeJSON(w, resp)
}

// HandleCheck runs a manual check and returns its result. By default it waits
// for a running cycle; with ?wait=false it answers 409 instead.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	run := h.monitor.RunManualCheck
	if r.URL.Query().Get("wait") == "false" {
		run = h.monitor.TryRunManualCheck
	}

	// A started check runs to completion even if the caller goes away.
	result, err := run(context.WithoutCancel(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, api.CheckResponse{
		ID:        result.ID,
		Status:    result.Status,
		Outcome:   result.Outcome.Kind.String(),
		Reason:    result.Outcome.Reason,
		Records:   result.Records,
		CheckedAt: result.CheckedAt,
	})
}

// HandleGetSettings returns the enabled flag and the schedule.
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	h.writeSettings(w, r)
}

// HandlePutSettings replaces the schedule.
func (h *Handler) HandlePutSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: err})
			return
		}
		h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("failed to read request body: %w", err)})
		return
	}

	var schedule api.Schedule
	if err := json.Unmarshal(body, &schedule); err != nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid settings format: %w", err)})
		return
	}

	cfg, err := schedule.Config()
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.monitor.UpdateSchedule(r.Context(), cfg); err != nil {
		h.writeError(w, err)
		return
	}

	h.log.Info("Schedule updated",
		slog.Duration("healthy_interval", cfg.HealthyInterval),
		slog.Duration("revoked_interval", cfg.RevokedInterval),
		slog.String("network", string(cfg.Constraints.Network)))
	h.writeSettings(w, r)
}

func (h *Handler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *Handler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if err := h.monitor.SetEnabled(r.Context(), enabled); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSettings(w, r)
}

func (h *Handler) writeSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, api.SettingsResponse{
		Enabled:  s.Enabled,
		Schedule: api.ScheduleFromConfig(s.Schedule),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		http.Error(w, reqErr.Error(), reqErr.StatusCode)
	case errors.Is(err, interfaces.ErrInvalidSettings):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, monitor.ErrCheckInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("Request failed", "err", err)
		http.Error(w, fmt.Sprintf("Internal server error: %v", err), http.StatusInternalServerError)
	}
}
