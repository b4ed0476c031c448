// Package httpserver serves the keybox monitor control API over chi, with
// request logging, liveness/readiness probes and drain support, and starts the
// Prometheus metrics listener next to it.
package httpserver
