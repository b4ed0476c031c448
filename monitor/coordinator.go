package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/keybox-sentinel/interfaces"
	"github.com/ruteri/keybox-sentinel/metrics"
	"go.uber.org/atomic"
)

// JobName is the pending-job slot owned by the automatic check cycle.
const JobName = "keybox-check"

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"

	// AlertText is posted once at the start of every revocation episode.
	AlertText = "KEYBOX BANNED! Your keybox has been revoked!"
)

// ErrCheckInProgress is returned by TryRunManualCheck while another cycle runs.
var ErrCheckInProgress = errors.New("check already in progress")

// CycleResult describes one completed cycle.
type CycleResult struct {
	ID        string                         `json:"id"`
	Trigger   string                         `json:"trigger"`
	Skipped   bool                           `json:"skipped,omitempty"`
	Outcome   interfaces.CheckOutcome        `json:"outcome"`
	Status    string                         `json:"status"`
	Records   []interfaces.CertificateRecord `json:"records,omitempty"`
	CheckedAt time.Time                      `json:"checked_at"`
	Alerted   bool                           `json:"alerted"`
	NextDelay time.Duration                  `json:"next_delay,omitempty"`
}

// Coordinator runs check cycles: chain, evaluation, persisted state, alert gate,
// next schedule. At most one cycle runs at a time; scheduled and manual checks
// share the same path.
type Coordinator struct {
	settings  interfaces.SettingsStore
	anchor    interfaces.TrustAnchorProvider
	evaluator interfaces.ChainEvaluator
	jobs      interfaces.JobScheduler
	sink      interfaces.NotificationSink
	log       *slog.Logger
	now       func() time.Time

	cycleMu  sync.Mutex
	checking atomic.Bool

	// unsavedAlertFired holds the gate state of the last cycle whose state write
	// failed. While set it is the gate input instead of the persisted flag.
	// Guarded by cycleMu.
	unsavedAlertFired *bool
}

// NewCoordinator wires a coordinator.
//
// Parameters:
//   - settings: Persisted configuration and check state, read at the start of every cycle
//   - anchor: Source of the attestation chain
//   - evaluator: Matches the chain against the revocation document
//   - jobs: Deferred-job scheduler owning the JobName slot
//   - sink: Destination of status lines and alerts
//   - log: Structured logger for operational insights
func NewCoordinator(
	settings interfaces.SettingsStore,
	anchor interfaces.TrustAnchorProvider,
	evaluator interfaces.ChainEvaluator,
	jobs interfaces.JobScheduler,
	sink interfaces.NotificationSink,
	log *slog.Logger,
) *Coordinator {
	return &Coordinator{
		settings:  settings,
		anchor:    anchor,
		evaluator: evaluator,
		jobs:      jobs,
		sink:      sink,
		log:       log,
		now:       time.Now,
	}
}

// Checking reports whether a cycle is running right now.
func (c *Coordinator) Checking() bool {
	return c.checking.Load()
}

// Start arms the first automatic cycle after initialDelay if monitoring is enabled.
// It is the process restart trigger.
func (c *Coordinator) Start(ctx context.Context, initialDelay time.Duration) error {
	s, err := c.settings.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}

	if !s.Enabled {
		c.log.Info("Monitoring disabled, nothing scheduled")
		return nil
	}

	c.arm(initialDelay, s.Schedule.Constraints)
	c.log.Info("Monitoring armed", slog.Duration("initial_delay", initialDelay))
	return nil
}

// SetEnabled persists the enabled flag. Enabling arms an immediate cycle,
// disabling cancels the pending one.
func (c *Coordinator) SetEnabled(ctx context.Context, enabled bool) error {
	var constraints interfaces.Constraints
	err := c.settings.Update(ctx, func(s *interfaces.Settings) error {
		s.Enabled = enabled
		constraints = s.Schedule.Constraints
		return nil
	})
	if err != nil {
		return err
	}

	if enabled {
		c.arm(0, constraints)
		c.log.Info("Monitoring enabled")
	} else {
		c.jobs.Cancel(JobName)
		c.log.Info("Monitoring disabled")
	}
	return nil
}

// UpdateSchedule persists cfg and, when monitoring is enabled, re-arms an immediate
// cycle so the new constraints apply.
func (c *Coordinator) UpdateSchedule(ctx context.Context, cfg interfaces.ScheduleConfig) error {
	var enabled bool
	err := c.settings.Update(ctx, func(s *interfaces.Settings) error {
		s.Schedule = cfg
		enabled = s.Enabled
		return nil
	})
	if err != nil {
		return err
	}

	if enabled {
		c.arm(0, cfg.Constraints)
	}
	return nil
}

// RunCycle runs one automatic cycle and arms the next one. With monitoring
// disabled it does nothing and arms nothing.
func (c *Coordinator) RunCycle(ctx context.Context) (*CycleResult, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	return c.runCycle(ctx)
}

// RunManualCheck runs a user-requested check, waiting for a running cycle to finish
// first. It records and posts the status but leaves the alert gate alone; if
// monitoring is enabled it then arms an immediate automatic cycle, which does.
func (c *Coordinator) RunManualCheck(ctx context.Context) (*CycleResult, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	return c.runManual(ctx)
}

// TryRunManualCheck is RunManualCheck that fails with ErrCheckInProgress instead of waiting.
func (c *Coordinator) TryRunManualCheck(ctx context.Context) (*CycleResult, error) {
	if !c.cycleMu.TryLock() {
		return nil, ErrCheckInProgress
	}
	defer c.cycleMu.Unlock()

	return c.runManual(ctx)
}

func (c *Coordinator) scheduledJob(ctx context.Context) {
	if _, err := c.RunCycle(ctx); err != nil {
		c.log.Error("Scheduled check failed", "err", err)
	}
}

func (c *Coordinator) arm(delay time.Duration, constraints interfaces.Constraints) {
	c.jobs.Enqueue(JobName, delay, constraints, c.scheduledJob)
}

func (c *Coordinator) runCycle(ctx context.Context) (result *CycleResult, err error) {
	c.checking.Store(true)
	defer c.checking.Store(false)

	result = &CycleResult{ID: uuid.NewString(), Trigger: TriggerScheduled}
	log := c.log.With("cycle", result.ID, "trigger", result.Trigger)

	// Every enabled cycle ends by arming the next one, even when it panics.
	rearm := true
	result.NextDelay = FailureRetryDelay
	constraints := interfaces.Constraints{Network: interfaces.NetworkAny}
	defer func() {
		if r := recover(); r != nil {
			metrics.CyclePanicked()
			log.Error("Check cycle panicked", slog.Any("panic", r))
			result.Outcome = interfaces.Failed(fmt.Sprint(r))
			result.Status = result.Outcome.Status()
			result.NextDelay = FailureRetryDelay
			err = fmt.Errorf("check cycle panicked: %v", r)
		}
		if rearm {
			c.arm(result.NextDelay, constraints)
		}
	}()

	s, err := c.settings.Snapshot(ctx)
	if err != nil {
		// Without settings the enabled flag is unknown; retry soon rather than go silent.
		log.Error("Failed to read settings", "err", err)
		result.Outcome = interfaces.Failed("failed to read settings")
		result.Status = result.Outcome.Status()
		result.CheckedAt = c.now()
		c.postStatus(ctx, log, result)
		return result, fmt.Errorf("failed to read settings: %w", err)
	}

	if !s.Enabled {
		log.Debug("Monitoring disabled, skipping cycle")
		rearm = false
		result.Skipped = true
		result.NextDelay = 0
		return result, nil
	}
	constraints = s.Schedule.Constraints

	c.evaluate(ctx, log, result)

	alertFired := s.State.AlertFired
	if c.unsavedAlertFired != nil {
		alertFired = *c.unsavedAlertFired
	}
	fire, newAlertFired := ShouldAlert(result.Outcome, alertFired)

	err = c.settings.Update(ctx, func(cur *interfaces.Settings) error {
		c.recordState(cur, result)
		cur.State.AlertFired = newAlertFired
		return nil
	})
	if err != nil {
		log.Error("Failed to persist check state", "err", err)
		c.unsavedAlertFired = &newAlertFired
	} else {
		c.unsavedAlertFired = nil
	}

	c.postStatus(ctx, log, result)

	if fire {
		result.Alerted = true
		metrics.AlertFired()
		if err := c.sink.PostAlert(ctx, AlertText); err != nil {
			log.Error("Failed to post alert", "err", err)
		}
	}

	result.NextDelay = NextDelay(result.Outcome, s.Schedule)

	log.Info("Check cycle completed",
		slog.String("status", result.Status),
		slog.Bool("alerted", result.Alerted),
		slog.Duration("next_delay", result.NextDelay))
	return result, nil
}

func (c *Coordinator) runManual(ctx context.Context) (*CycleResult, error) {
	c.checking.Store(true)
	defer c.checking.Store(false)

	result := &CycleResult{ID: uuid.NewString(), Trigger: TriggerManual}
	log := c.log.With("cycle", result.ID, "trigger", result.Trigger)

	s, err := c.settings.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	c.evaluate(ctx, log, result)

	err = c.settings.Update(ctx, func(cur *interfaces.Settings) error {
		c.recordState(cur, result)
		return nil
	})
	if err != nil {
		log.Error("Failed to persist check state", "err", err)
	}

	c.postStatus(ctx, log, result)

	if s.Enabled {
		c.arm(0, s.Schedule.Constraints)
	}

	log.Info("Manual check completed", slog.String("status", result.Status))
	return result, nil
}

// evaluate fills in outcome, status and records. Panics from the trust anchor or
// the evaluator become a Failed outcome.
func (c *Coordinator) evaluate(ctx context.Context, log *slog.Logger, result *CycleResult) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CyclePanicked()
			log.Error("Check cycle panicked", slog.Any("panic", r))
			result.Outcome = interfaces.Failed(fmt.Sprint(r))
			for i := range result.Records {
				result.Records[i].Revoked = false
			}
		}
		result.Status = result.Outcome.Status()
		result.CheckedAt = c.now()
		metrics.CheckCompleted(result.Trigger, result.Outcome.Kind.String(), result.CheckedAt.Unix())
		metrics.SetRevoked(result.Outcome.Kind == interfaces.OutcomeRevoked)
	}()

	chain, err := c.anchor.Chain(ctx)
	if err != nil {
		log.Warn("Attestation chain unavailable", "err", err)
		result.Outcome = interfaces.Failed(err.Error())
		return
	}

	result.Outcome, result.Records = c.evaluator.Evaluate(ctx, chain)
}

func (c *Coordinator) recordState(s *interfaces.Settings, result *CycleResult) {
	s.State.LastOutcome = result.Outcome
	s.State.LastStatus = result.Status
	s.State.LastRecords = result.Records
	s.State.LastCheckedAt = result.CheckedAt
}

func (c *Coordinator) postStatus(ctx context.Context, log *slog.Logger, result *CycleResult) {
	text := StatusLine(result.Status, result.CheckedAt)
	if err := c.sink.PostStatus(ctx, text); err != nil {
		log.Error("Failed to post status", "err", err)
	}
}

// StatusLine formats the status message posted after a check.
func StatusLine(status string, checkedAt time.Time) string {
	return fmt.Sprintf("Status: %s | Last: %s", status, checkedAt.Local().Format("15:04:05"))
}
