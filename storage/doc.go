// Package storage persists encrypted store blobs by name with pluggable backends.
//
//   - File system storage with atomic rename and flock-based writer locks
//   - S3-compatible object storage
//   - HashiCorp Vault KV v2
//   - Embedded BadgerDB
//
// # Storage URI Format
//
// Storage backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/mdstore/ or file://./data
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=http://minio:9000
//   - vault://vault.example.com:8200/secret/mdstore?token=...
//   - badger:///var/lib/mdstore-db or badger://?inmemory=true
//
// Several locations can be combined into a MultiStorageBackend, which
// mirrors every save to all available backends and loads from the first
// backend holding the store.
//
// Every backend replaces a store in one step: the file backend writes a
// temporary file and renames it, S3 and Vault replace the object or secret
// in one request and BadgerDB commits a single transaction.
package storage
