// Package api defines the wire types of the keybox monitor's HTTP control API
// and the server configuration shared by the daemon and its HTTP server.
//
// Endpoints:
//
//	GET  /api/status               current status, records and next scheduled check
//	POST /api/check                run a manual check (?wait=false fails with 409 when busy)
//	GET  /api/settings             enabled flag and schedule
//	PUT  /api/settings             replace the schedule
//	POST /api/monitoring/enable    enable automatic checks
//	POST /api/monitoring/disable   disable automatic checks
//
// The clients subpackage is a Go client for these endpoints.
package api
