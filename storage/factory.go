package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ruteri/mdstore/interfaces"
)

// StorageBackendFactory creates storage backends from location URIs and
// manages multi-backend configurations for redundant storage.
type StorageBackendFactory struct {
	log *slog.Logger

	mu      sync.Mutex
	badgers map[string]*BadgerBackend
}

// NewStorageBackendFactory creates a new factory instance that can create storage backends.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageBackendFactory{
		log:     logger,
		badgers: make(map[string]*BadgerBackend),
	}
}

// BackendFor creates a storage backend from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2
//   - badger:// - Embedded BadgerDB
func (sf *StorageBackendFactory) BackendFor(location interfaces.StorageBackendLocation) (interfaces.StoreBackend, error) {
	switch location.Scheme {
	case "s3":
		return sf.createS3Backend(location)
	case "file":
		return sf.createFileBackend(location)
	case "vault":
		return sf.createVaultBackend(location)
	case "badger":
		return sf.createBadgerBackend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiBackend creates a multi-storage backend from a list of location URIs.
// Every location must produce a backend; a mirror silently missing one
// replica would defeat its purpose.
func (sf *StorageBackendFactory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (interfaces.StoreBackend, error) {
	if len(locations) == 0 {
		return nil, fmt.Errorf("%w: no storage locations configured", interfaces.ErrInvalidLocationURI)
	}
	if len(locations) == 1 {
		return sf.BackendFor(locations[0])
	}

	backends := make([]interfaces.StoreBackend, 0, len(locations))
	for _, loc := range locations {
		backend, err := sf.BackendFor(loc)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", loc.String()))
			return nil, fmt.Errorf("failed to create backend %s: %w", loc.String(), err)
		}
		backends = append(backends, backend)
	}

	return NewMultiStorageBackend(backends, sf.log), nil
}

// ParseLocations parses a comma-separated list of location URIs.
func ParseLocations(uris string) ([]interfaces.StorageBackendLocation, error) {
	var locations []interfaces.StorageBackendLocation
	for _, uri := range strings.Split(uris, ",") {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		loc, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// createS3Backend creates an S3 or S3-compatible storage backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=http://minio:9000
func (sf *StorageBackendFactory) createS3Backend(loc interfaces.StorageBackendLocation) (interfaces.StoreBackend, error) {
	sf.log.Debug("Creating S3 backend", slog.String("bucket", loc.Host))

	if loc.Host == "" {
		return nil, fmt.Errorf("%w: s3 location without bucket", interfaces.ErrInvalidLocationURI)
	}

	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if loc.Auth != "" {
		accessKey, secretKey, _ = strings.Cut(loc.Auth, ":")
	}

	return NewS3Backend(loc.Host, strings.TrimPrefix(loc.Path, "/"), region, loc.GetParam("endpoint"), accessKey, secretKey, sf.log)
}

// createFileBackend creates a file system storage backend.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StorageBackendFactory) createFileBackend(loc interfaces.StorageBackendLocation) (interfaces.StoreBackend, error) {
	path := localPath(loc)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, loc.String())
	}

	sf.log.Debug("Creating file backend", slog.String("path", path))
	return NewFileBackend(path, sf.log)
}

// createVaultBackend creates a Vault KV v2 backend.
// URI format: vault://host:8200/mount/path?token=...&tls=false
// Without a token parameter the client falls back to VAULT_TOKEN.
func (sf *StorageBackendFactory) createVaultBackend(loc interfaces.StorageBackendLocation) (interfaces.StoreBackend, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: vault location without host", interfaces.ErrInvalidLocationURI)
	}

	mount, dataPath, _ := strings.Cut(strings.TrimPrefix(loc.Path, "/"), "/")
	if mount == "" {
		mount = "secret"
	}

	scheme := "https"
	if loc.GetParam("tls") == "false" {
		scheme = "http"
	}

	sf.log.Debug("Creating Vault backend",
		slog.String("host", loc.Host),
		slog.String("mount", mount),
		slog.String("path", dataPath))

	return NewVaultBackend(fmt.Sprintf("%s://%s", scheme, loc.Host), mount, dataPath, loc.GetParam("token"), sf.log)
}

// createBadgerBackend opens an embedded BadgerDB backend. A database
// directory can only be opened once per process, so backends are cached.
// URI format: badger:///var/lib/mdstore or badger://?inmemory=true
func (sf *StorageBackendFactory) createBadgerBackend(loc interfaces.StorageBackendLocation) (interfaces.StoreBackend, error) {
	inMemory := loc.GetParamBool("inmemory")
	path := localPath(loc)
	if path == "" && !inMemory {
		return nil, fmt.Errorf("%w: empty path in badger URI: %s", interfaces.ErrInvalidLocationURI, loc.String())
	}

	if inMemory {
		sf.log.Debug("Creating in-memory badger backend")
		return NewBadgerBackend("", true, sf.log)
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()
	if b, ok := sf.badgers[path]; ok && !b.db.IsClosed() {
		return b, nil
	}

	sf.log.Debug("Creating badger backend", slog.String("path", path))
	b, err := NewBadgerBackend(path, false, sf.log)
	if err != nil {
		return nil, err
	}
	sf.badgers[path] = b
	return b, nil
}

// Close closes every database opened by the factory.
func (sf *StorageBackendFactory) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	for path, b := range sf.badgers {
		if err := b.Close(); err != nil {
			return fmt.Errorf("failed to close badger db %s: %w", path, err)
		}
		delete(sf.badgers, path)
	}
	return nil
}

// localPath joins host and path so that file://./data and file:///data both work.
func localPath(loc interfaces.StorageBackendLocation) string {
	if loc.Host == "" {
		return loc.Path
	}
	return loc.Host + "/" + strings.TrimPrefix(loc.Path, "/")
}
