package monitor

import (
	"testing"
	"time"

	"github.com/ruteri/keybox-sentinel/interfaces"
	"github.com/stretchr/testify/assert"
)

func TestShouldAlert(t *testing.T) {
	tests := []struct {
		name      string
		state     bool
		outcome   interfaces.CheckOutcome
		wantFire  bool
		wantState bool
	}{
		{"first revoked", false, interfaces.Revoked(), true, true},
		{"still revoked", true, interfaces.Revoked(), false, true},
		{"healthy resets", true, interfaces.Healthy(), false, false},
		{"healthy stays clear", false, interfaces.Healthy(), false, false},
		{"failed keeps episode", true, interfaces.Failed("timeout"), false, true},
		{"failed keeps clear", false, interfaces.Failed("timeout"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fire, state := ShouldAlert(tt.outcome, tt.state)
			assert.Equal(t, tt.wantFire, fire)
			assert.Equal(t, tt.wantState, state)
		})
	}
}

func TestShouldAlertOncePerEpisode(t *testing.T) {
	sequence := []interfaces.CheckOutcome{
		interfaces.Healthy(),
		interfaces.Revoked(),
		interfaces.Revoked(),
		interfaces.Revoked(),
		interfaces.Healthy(),
		interfaces.Revoked(),
	}

	var fired []int
	state := false
	for i, outcome := range sequence {
		var fire bool
		fire, state = ShouldAlert(outcome, state)
		if fire {
			fired = append(fired, i+1)
		}
	}
	assert.Equal(t, []int{2, 6}, fired)
}

func TestNextDelay(t *testing.T) {
	cfg := interfaces.ScheduleConfig{HealthyInterval: 60 * time.Minute, RevokedInterval: 5 * time.Minute}

	assert.Equal(t, 60*time.Minute, NextDelay(interfaces.Healthy(), cfg))
	assert.Equal(t, 5*time.Minute, NextDelay(interfaces.Revoked(), cfg))
	assert.Equal(t, FailureRetryDelay, NextDelay(interfaces.Failed("x"), cfg))

	for _, healthy := range []time.Duration{10 * time.Minute, time.Hour, 24 * time.Hour} {
		cfg := interfaces.ScheduleConfig{HealthyInterval: healthy, RevokedInterval: time.Minute}
		assert.Less(t, NextDelay(interfaces.Failed("x"), cfg), NextDelay(interfaces.Healthy(), cfg))
	}
}
