package monitor

import "github.com/ruteri/keybox-sentinel/interfaces"

// ShouldAlert decides whether outcome opens a new revocation episode.
//
//	alertFired  outcome   fire   new alertFired
//	false       Revoked   true   true
//	true        Revoked   false  true
//	any         Healthy   false  false
//	any         Failed    false  unchanged
func ShouldAlert(outcome interfaces.CheckOutcome, alertFired bool) (fire bool, newAlertFired bool) {
	switch outcome.Kind {
	case interfaces.OutcomeRevoked:
		return !alertFired, true
	case interfaces.OutcomeHealthy:
		return false, false
	default:
		return false, alertFired
	}
}
