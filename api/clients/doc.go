// Package clients provides a Go client for the keybox monitor control API.
package clients
