package api

import (
	"fmt"
	"time"

	"github.com/ruteri/keybox-sentinel/interfaces"
)

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Enabled    bool                           `json:"enabled"`
	Checking   bool                           `json:"checking"`
	Status     string                         `json:"status"`
	Outcome    string                         `json:"outcome,omitempty"`
	Reason     string                         `json:"reason,omitempty"`
	Records    []interfaces.CertificateRecord `json:"records,omitempty"`
	CheckedAt  *time.Time                     `json:"checked_at,omitempty"`
	AlertFired bool                           `json:"alert_fired"`
	NextCheck  *time.Time                     `json:"next_check,omitempty"`
}

// CheckResponse is returned by POST /api/check.
type CheckResponse struct {
	ID        string                         `json:"id"`
	Status    string                         `json:"status"`
	Outcome   string                         `json:"outcome"`
	Reason    string                         `json:"reason,omitempty"`
	Records   []interfaces.CertificateRecord `json:"records,omitempty"`
	CheckedAt time.Time                      `json:"checked_at"`
}

// Schedule is the wire form of interfaces.ScheduleConfig. Intervals are Go
// duration strings such as "60m" or "1h30m".
type Schedule struct {
	HealthyInterval string                 `json:"healthy_interval"`
	RevokedInterval string                 `json:"revoked_interval"`
	Constraints     interfaces.Constraints `json:"constraints"`
}

// SettingsResponse is returned by GET /api/settings.
type SettingsResponse struct {
	Enabled  bool     `json:"enabled"`
	Schedule Schedule `json:"schedule"`
}

// ScheduleFromConfig converts a schedule to its wire form.
func ScheduleFromConfig(cfg interfaces.ScheduleConfig) Schedule {
	return Schedule{
		HealthyInterval: cfg.HealthyInterval.String(),
		RevokedInterval: cfg.RevokedInterval.String(),
		Constraints:     cfg.Constraints,
	}
}

// Config parses the wire form. Range checks are left to the settings store.
func (s Schedule) Config() (interfaces.ScheduleConfig, error) {
	healthy, err := time.ParseDuration(s.HealthyInterval)
	if err != nil {
		return interfaces.ScheduleConfig{}, fmt.Errorf("%w: healthy_interval: %v", interfaces.ErrInvalidSettings, err)
	}
	revoked, err := time.ParseDuration(s.RevokedInterval)
	if err != nil {
		return interfaces.ScheduleConfig{}, fmt.Errorf("%w: revoked_interval: %v", interfaces.ErrInvalidSettings, err)
	}

	constraints := s.Constraints
	if constraints.Network == "" {
		constraints.Network = interfaces.NetworkAny
	}

	return interfaces.ScheduleConfig{
		HealthyInterval: healthy,
		RevokedInterval: revoked,
		Constraints:     constraints,
	}, nil
}
