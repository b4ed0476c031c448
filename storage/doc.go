// Package storage provides keyed document storage with pluggable backends.
//
// The monitor persists two small documents: its settings and the last downloaded
// revocation list. Both go through interfaces.StorageBackend so a deployment can
// keep them on local disk, in an S3 bucket, in Vault, or in several at once:
//
//   - File system storage with atomic replace (temp file, fsync, rename)
//   - S3-compatible object storage
//   - Vault KV v2 with token or TLS client certificate authentication
//
// # Storage URI Format
//
// Storage backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/keybox-sentinel/
//   - s3://bucket-name/prefix/?region=us-west-2&endpoint=minio.local:9000
//   - vault://vault.example.com:8200/secret/keybox-sentinel?token=...
//
// # Multi-Backend Redundancy
//
// MultiStorageBackend fans writes out to every available backend and reads from
// the first backend holding the key. A read reports interfaces.ErrContentNotFound
// only when every reachable backend agrees the key is missing, so callers can
// tell first boot apart from an outage.
//
// # Usage
//
//	factory := storage.NewStorageBackendFactory(logger)
//	loc, _ := interfaces.NewStorageBackendLocation("file:///var/lib/keybox-sentinel")
//	backend, err := factory.StorageBackendFor(loc)
//	if err != nil {
//		return err
//	}
//	err = backend.Store(ctx, "settings.json", data)
package storage
