package interfaces

import (
	"fmt"
	"time"
)

// CertificateRecord describes one certificate of an attestation chain as seen by
// a single check cycle. Position 0 is the leaf.
type CertificateRecord struct {
	Position           int       `json:"position"`
	Subject            string    `json:"subject"`
	Issuer             string    `json:"issuer"`
	SerialHex          string    `json:"serial_hex"`
	SerialDecimal      string    `json:"serial_decimal"`
	NotBefore          time.Time `json:"not_before"`
	NotAfter           time.Time `json:"not_after"`
	SignatureAlgorithm string    `json:"signature_algorithm"`
	PublicKeyAlgorithm string    `json:"public_key_algorithm"`
	Version            int       `json:"version"`
	Revoked            bool      `json:"revoked"`
}

// RevocationDocument is the raw revocation list together with its validation metadata.
type RevocationDocument struct {
	// Body is the raw, JSON-shaped document text as served by the authority.
	Body string `json:"body"`

	// ETag is the opaque validator token returned with Body, empty if none was sent.
	ETag string `json:"etag,omitempty"`

	// FetchedAt is when Body was last downloaded from the authority.
	FetchedAt time.Time `json:"fetched_at"`
}

// DocumentSource tells where a RevocationDocument handed to the evaluator came from.
type DocumentSource int

const (
	SourceNetwork DocumentSource = iota
	SourceCache
	SourceStaleCache
)

func (s DocumentSource) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceCache:
		return "cache"
	case SourceStaleCache:
		return "stale_cache"
	default:
		return "unknown"
	}
}

// OutcomeKind enumerates the results of a check cycle.
type OutcomeKind int

const (
	OutcomeHealthy OutcomeKind = iota
	OutcomeRevoked
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeHealthy:
		return "healthy"
	case OutcomeRevoked:
		return "revoked"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name so persisted state stays readable.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind previously encoded with MarshalText.
func (k *OutcomeKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "healthy":
		*k = OutcomeHealthy
	case "revoked":
		*k = OutcomeRevoked
	case "failed":
		*k = OutcomeFailed
	default:
		return fmt.Errorf("unknown outcome kind %q", string(text))
	}
	return nil
}

// CheckOutcome is the result of one check cycle: Healthy, Revoked or Failed(reason).
type CheckOutcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

// Healthy returns the outcome for a chain with no revoked certificate.
func Healthy() CheckOutcome { return CheckOutcome{Kind: OutcomeHealthy} }

// Revoked returns the outcome for a chain with at least one revoked certificate.
func Revoked() CheckOutcome { return CheckOutcome{Kind: OutcomeRevoked} }

// Failed returns the outcome for a cycle that could not evaluate the chain.
func Failed(reason string) CheckOutcome {
	return CheckOutcome{Kind: OutcomeFailed, Reason: reason}
}

// Status renders the outcome as the user-facing status line.
func (o CheckOutcome) Status() string {
	switch o.Kind {
	case OutcomeHealthy:
		return "Certified"
	case OutcomeRevoked:
		return "Not Certified / Banned"
	default:
		return "Error: " + o.Reason
	}
}

// NetworkClass is the kind of connectivity a check requires before it may run.
type NetworkClass string

const (
	NetworkAny        NetworkClass = "any"
	NetworkUnmetered  NetworkClass = "unmetered"
	NetworkNotRoaming NetworkClass = "not_roaming"
	NetworkMetered    NetworkClass = "metered"
)

// Constraints gate a deferred check; the job does not run until all of them hold.
type Constraints struct {
	Network              NetworkClass `json:"network" yaml:"network" validate:"oneof=any unmetered not_roaming metered"`
	RequireCharging      bool         `json:"require_charging" yaml:"require_charging"`
	RequireIdle          bool         `json:"require_idle" yaml:"require_idle"`
	RequireBatteryNotLow bool         `json:"require_battery_not_low" yaml:"require_battery_not_low"`
}

// ScheduleConfig holds the user-controlled cadence of automatic checks.
type ScheduleConfig struct {
	HealthyInterval time.Duration `json:"healthy_interval" yaml:"healthy_interval" validate:"gte=1m"`
	RevokedInterval time.Duration `json:"revoked_interval" yaml:"revoked_interval" validate:"gte=1m"`
	Constraints     Constraints   `json:"constraints" yaml:"constraints"`
}

// CheckState is the persisted outcome of the most recent cycle plus the alert gate.
type CheckState struct {
	LastOutcome   CheckOutcome        `json:"last_outcome"`
	LastStatus    string              `json:"last_status"`
	LastRecords   []CertificateRecord `json:"last_records,omitempty"`
	LastCheckedAt time.Time           `json:"last_checked_at,omitempty"`

	// AlertFired is true once an alert was posted for the current revocation episode.
	AlertFired bool `json:"alert_fired"`
}
