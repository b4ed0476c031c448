// Package revocation keeps a local copy of the attestation revocation list and
// checks certificate chains against it.
//
// Cache stores the list together with its ETag and fetch time. Fetcher serves a
// cached list for a short freshness window, revalidates with conditional GETs
// after that, and falls back to the cached list on any failure. Evaluator turns a
// chain into per-certificate records and an overall outcome.
package revocation
