package metrics

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

var (
	alertsFired   = metrics.NewCounter(`keybox_alerts_fired_total`)
	cyclePanics = metrics.NewCounter(`keybox_cycle_panics_total`)
	revoked       = metrics.NewGauge(`keybox_chain_revoked`, nil)
	lastCheck     = metrics.NewGauge(`keybox_last_check_timestamp_seconds`, nil)
)

// WritePrometheus writes all registered metrics in Prometheus text format.
func WritePrometheus(w io.Writer, exposeProcessMetrics bool) {
	metrics.WritePrometheus(w, exposeProcessMetrics)
}

// CheckCompleted counts one finished cycle by trigger ("scheduled" or "manual") and outcome.
func CheckCompleted(trigger, outcome string, unixSeconds int64) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`keybox_checks_total{trigger=%q,outcome=%q}`, trigger, outcome)).Inc()
	lastCheck.Set(float64(unixSeconds))
}

// DocumentFetched counts one revocation document handed to the evaluator, by source.
func DocumentFetched(source string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`keybox_revocation_fetches_total{source=%q}`, source)).Inc()
}

// FetchFailed counts a revocation fetch that produced no document at all.
func FetchFailed() {
	metrics.GetOrCreateCounter(`keybox_revocation_fetches_total{source="none"}`).Inc()
}

// AlertFired counts one posted revocation alert.
func AlertFired() {
	alertsFired.Inc()
}

// CyclePanicked counts a cycle whose panic was recovered.
func CyclePanicked() {
	cyclePanics.Inc()
}

// SetRevoked records whether the last evaluated chain was revoked.
func SetRevoked(isRevoked bool) {
	if isRevoked {
		revoked.Set(1)
		return
	}
	revoked.Set(0)
}
