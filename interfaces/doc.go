// Package interfaces defines the core types, errors and interfaces shared by
// the mdstore packages, separating interface definitions from implementations.
//
// # Store Types
//
// EncryptedStore is the persisted unit: public StoreMetadata plus a share map
// keyed by (chunk index, share id). Every partition's document is split into
// chunks and each chunk is Shamir-shared over its own slots of the map.
//
// # Storage Interfaces
//
// StoreBackend persists named store blobs with atomic replace semantics
// across file, S3, Vault and BadgerDB backends. StorageBackendFactory builds
// backends from location URIs and mirrors them for redundancy. Backends that
// implement Locker serialize writers across processes.
//
// # Key Management
//
// KeyStore resolves named partition keys for front ends. The core store
// operations always take raw key bytes.
//
// # Errors
//
// All sentinel errors live here so that callers can match them with
// errors.Is regardless of which package produced them.
package interfaces
