// Package monitor drives the periodic keybox revocation check.
//
// A Coordinator runs one check cycle at a time: it obtains the attestation chain,
// evaluates it against the revocation document, persists the outcome, posts the
// status line and decides through ShouldAlert whether a new revocation episode
// starts. Each automatic cycle arms the next one with NextDelay.
//
// TimerScheduler is the in-process interfaces.JobScheduler. Jobs carry
// interfaces.Constraints which a ConditionProbe checks when the job is due;
// HostProbe reads them from a Linux host.
package monitor
