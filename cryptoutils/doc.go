// Package cryptoutils provides the trust anchors that hand the monitor its
// attestation certificate chain, plus PEM and test-chain helpers.
//
// # Providers
//
//   - PEMChainProvider: a chain exported to a file by another component
//   - RemoteChainProvider: a local attestation agent issuing a new chain per challenge
//   - TDXChainProvider: the PCK chain embedded in a TDX quote (go-tdx-guest)
//   - FallbackChainProvider: retries once with a less demanding provider
//   - SelfSignedChainProvider: fresh generated chains for development
//
// Every provider wraps its failures in interfaces.ErrChainUnavailable.
package cryptoutils
