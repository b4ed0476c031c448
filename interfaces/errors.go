package interfaces

import "errors"

var (
	// ErrChainUnavailable is returned when the trust anchor could not produce a chain.
	ErrChainUnavailable = errors.New("attestation chain unavailable")

	// ErrNetworkFailure is returned when the revocation authority could not be reached
	// and no cached document exists to fall back on.
	ErrNetworkFailure = errors.New("revocation list unavailable")

	// ErrCacheMiss is returned by the revocation cache when it holds no document.
	ErrCacheMiss = errors.New("revocation cache empty")

	// ErrEvaluation is returned when certificate data could not be evaluated.
	ErrEvaluation = errors.New("chain evaluation failed")

	// ErrInvalidSettings is returned when a settings update fails validation.
	ErrInvalidSettings = errors.New("invalid settings")
)
