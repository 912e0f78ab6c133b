package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "file", "s3", "vault", "badger":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrStoreNotFound is returned when no blob exists under the requested name.
	ErrStoreNotFound = errors.New("store not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrMirrorDiverged is returned when mirrored backends hold different
	// blobs for the same store.
	ErrMirrorDiverged = errors.New("storage mirrors diverged")

	// ErrInvalidStoreName is returned for store names outside [A-Za-z0-9._-].
	ErrInvalidStoreName = errors.New("invalid store name")
)

var storeNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ReservedPrefix starts the names of internal blobs, such as the keyring,
// that share a backend with stores. Store names cannot start with it.
const ReservedPrefix = "_"

// ValidateStoreName checks that a store name is safe to use as a file name,
// object key or KV path segment and does not use ReservedPrefix.
func ValidateStoreName(name string) error {
	if !storeNameRe.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidStoreName, name)
	}
	return nil
}

// ValidateBlobName accepts store names and reserved internal blob names.
// Backends use it; front ends use ValidateStoreName.
func ValidateBlobName(name string) error {
	return ValidateStoreName(strings.TrimPrefix(name, ReservedPrefix))
}

// StoreBackend persists named store blobs. Save must replace the previous blob
// atomically: a reader sees either the old or the new blob, never a mix, and
// a failed Save leaves the old blob in place.
type StoreBackend interface {
	// Load returns the blob stored under name or ErrStoreNotFound.
	Load(ctx context.Context, name string) ([]byte, error)

	// Save atomically replaces the blob stored under name.
	Save(ctx context.Context, name string, data []byte) error

	// Delete removes the blob stored under name. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// Locker is implemented by backends that can serialize writers across
// processes. The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func() error, err error)
}

// StorageBackendFactory creates storage backends.
type StorageBackendFactory interface {
	// BackendFor creates backend from URI.
	// Supports file://, s3://, vault://, badger://
	BackendFor(location StorageBackendLocation) (StoreBackend, error)

	// CreateMultiBackend creates aggregated storage backend.
	CreateMultiBackend(locations []StorageBackendLocation) (StoreBackend, error)
}
