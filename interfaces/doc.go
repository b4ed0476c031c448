// Package interfaces defines core interfaces and types for the keybox revocation
// monitor, separating interface definitions from implementations.
//
// # Domain Types
//
//   - CertificateRecord: one certificate of the attestation chain with its serial
//     encodings and revocation flag
//   - RevocationDocument: raw revocation list with its ETag and fetch time
//   - CheckOutcome: Healthy, Revoked or Failed(reason)
//   - ScheduleConfig and Constraints: user-controlled check cadence and gating
//   - CheckState and Settings: persisted monitor state
//
// # Component Interfaces
//
// TrustAnchorProvider: Produces the device's attestation chain on demand.
//
// RevocationCache, RevocationFetcher: Keep and retrieve the revocation document.
//
// ChainEvaluator: Matches a chain against the revocation document.
//
// SettingsStore: Persists configuration and check state.
//
// JobScheduler: Runs a named check later, one pending job per name.
//
// NotificationSink: Posts status lines and alerts.
//
// # Storage Interfaces
//
// StorageBackend: Stores named documents across backend types (file, S3, Vault).
//
// StorageBackendFactory: Creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
package interfaces
