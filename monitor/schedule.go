package monitor

import (
	"time"

	"github.com/ruteri/keybox-sentinel/interfaces"
)

const (
	// FailureRetryDelay is the delay after a Failed cycle, regardless of configuration.
	FailureRetryDelay = 5 * time.Minute

	// BootDelay is the initial delay when the process (re)starts with monitoring enabled.
	BootDelay = 1 * time.Minute
)

// NextDelay returns how long to wait before the cycle following outcome.
func NextDelay(outcome interfaces.CheckOutcome, cfg interfaces.ScheduleConfig) time.Duration {
	switch outcome.Kind {
	case interfaces.OutcomeHealthy:
		return cfg.HealthyInterval
	case interfaces.OutcomeRevoked:
		return cfg.RevokedInterval
	default:
		return FailureRetryDelay
	}
}
