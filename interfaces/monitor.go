package interfaces

import (
	"context"
	"crypto/x509"
	"time"
)

// TrustAnchorProvider hands out the device's attestation chain, leaf first.
// Each call may generate a new attestation key under a fresh challenge, so two
// calls are not required to return identical chains.
type TrustAnchorProvider interface {
	Chain(ctx context.Context) ([]*x509.Certificate, error)
}

// RevocationCache keeps the last downloaded revocation document.
type RevocationCache interface {
	// Load returns the cached document or ErrCacheMiss.
	Load(ctx context.Context) (*RevocationDocument, error)

	// Store persists the document body together with its validator token.
	Store(ctx context.Context, doc *RevocationDocument) error

	// AgeOf returns how long ago doc was fetched.
	AgeOf(doc *RevocationDocument) time.Duration
}

// RevocationFetcher returns the revocation document to evaluate against.
type RevocationFetcher interface {
	Fetch(ctx context.Context) (*RevocationDocument, DocumentSource, error)
}

// ChainEvaluator matches a chain against the revocation document.
type ChainEvaluator interface {
	Evaluate(ctx context.Context, chain []*x509.Certificate) (CheckOutcome, []CertificateRecord)
}

// SettingsStore persists the monitor configuration and check state.
type SettingsStore interface {
	// Snapshot returns a copy of the current settings.
	Snapshot(ctx context.Context) (Settings, error)

	// Update applies fn to the current settings and persists the result.
	Update(ctx context.Context, fn func(*Settings) error) error
}

// Settings is everything the monitor persists across restarts.
type Settings struct {
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`
	State    CheckState     `json:"state" yaml:"-"`
}

// Job is a unit of deferred work run by a JobScheduler.
type Job func(ctx context.Context)

// JobScheduler runs named jobs later, once their constraints hold. A name has at
// most one pending job; enqueueing again replaces the pending one.
type JobScheduler interface {
	Enqueue(name string, delay time.Duration, constraints Constraints, job Job)
	Cancel(name string)
	Pending(name string) (time.Time, bool)
}

// NotificationSink delivers user-visible messages.
type NotificationSink interface {
	// PostStatus replaces the current status message.
	PostStatus(ctx context.Context, text string) error

	// PostAlert posts a one-shot, dismissible alert.
	PostAlert(ctx context.Context, text string) error
}
