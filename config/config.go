// Package config loads the optional YAML configuration file.
//
// Missing fields take their defaults, so an empty file is valid. Command-line
// flags override file values in cmd/mdstore.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/ruteri/mdstore/multidoc"
	"github.com/ruteri/mdstore/storage"
	"gopkg.in/yaml.v2"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Storage StorageConfig `yaml:"storage"`
	Keyring KeyringConfig `yaml:"keyring"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// StoreConfig holds parameters for newly created stores. Existing stores
// always use the parameters recorded in their metadata.
type StoreConfig struct {
	SpaceSize       int       `yaml:"space_size"`
	AllocationRatio float64   `yaml:"allocation_ratio"`
	Threshold       int       `yaml:"threshold"`
	Compress        bool      `yaml:"compress"`
	KDF             KDFConfig `yaml:"kdf"`
}

// KDFConfig holds the Argon2id cost parameters for new stores.
type KDFConfig struct {
	Time      uint32 `yaml:"time"`
	MemoryKiB uint32 `yaml:"memory_kib"`
	Threads   uint8  `yaml:"threads"`
}

// StorageConfig selects where stores are persisted.
type StorageConfig struct {
	// Locations are storage URIs; more than one mirrors every store.
	Locations []string `yaml:"locations"`
}

// KeyringConfig locates the passphrase-sealed keyring of named partition keys.
type KeyringConfig struct {
	// Name of the keyring. The blob is stored as interfaces.ReservedPrefix+Name.
	Name string `yaml:"name"`
	// PassphraseEnv names the environment variable holding the passphrase.
	PassphraseEnv string `yaml:"passphrase_env"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	DrainSeconds int    `yaml:"drain_seconds"`
	Pprof        bool   `yaml:"pprof"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	JSON    bool   `yaml:"json"`
	Debug   bool   `yaml:"debug"`
	Service string `yaml:"service"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	store := multidoc.DefaultConfig()
	return Config{
		Store: StoreConfig{
			SpaceSize:       store.SpaceSize,
			AllocationRatio: store.AllocationRatio,
			Threshold:       store.Threshold,
			Compress:        store.Compress,
			KDF: KDFConfig{
				Time:      store.KDF.Time,
				MemoryKiB: store.KDF.MemoryKiB,
				Threads:   store.KDF.Threads,
			},
		},
		Storage: StorageConfig{
			Locations: []string{"file://./data"},
		},
		Keyring: KeyringConfig{
			Name:          "keyring",
			PassphraseEnv: "MDSTORE_KEYRING_PASSPHRASE",
		},
		Server: ServerConfig{
			ListenAddr:   "127.0.0.1:8080",
			DrainSeconds: 45,
			MaxBodyBytes: 2 * multidoc.MaxDocumentSize,
		},
		Log: LogConfig{
			Service: "mdstore",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", interfaces.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the store parameters and storage locations.
func (c Config) Validate() error {
	if err := c.StoreParams().Validate(); err != nil {
		return fmt.Errorf("%w: store: %w", interfaces.ErrInvalidConfig, err)
	}
	if len(c.Storage.Locations) == 0 {
		return fmt.Errorf("%w: no storage locations", interfaces.ErrInvalidConfig)
	}
	if _, err := c.Locations(); err != nil {
		return fmt.Errorf("%w: storage: %w", interfaces.ErrInvalidConfig, err)
	}
	if c.Server.DrainSeconds < 0 || c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("%w: negative server limits", interfaces.ErrInvalidConfig)
	}
	return nil
}

// StoreParams converts the store section into multidoc.Config.
func (c Config) StoreParams() multidoc.Config {
	return multidoc.Config{
		SpaceSize:       c.Store.SpaceSize,
		AllocationRatio: c.Store.AllocationRatio,
		Threshold:       c.Store.Threshold,
		Compress:        c.Store.Compress,
		KDF: interfaces.KDFParams{
			Algorithm: interfaces.KDFArgon2id,
			Time:      c.Store.KDF.Time,
			MemoryKiB: c.Store.KDF.MemoryKiB,
			Threads:   c.Store.KDF.Threads,
		},
	}
}

// Locations parses the configured storage URIs.
func (c Config) Locations() ([]interfaces.StorageBackendLocation, error) {
	locations := make([]interfaces.StorageBackendLocation, 0, len(c.Storage.Locations))
	for _, uri := range c.Storage.Locations {
		parsed, err := storage.ParseLocations(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, parsed...)
	}
	return locations, nil
}

// DrainDuration is the server drain delay.
func (c Config) DrainDuration() time.Duration {
	return time.Duration(c.Server.DrainSeconds) * time.Second
}
