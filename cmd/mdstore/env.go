package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ruteri/mdstore/cmd/flags"
	"github.com/ruteri/mdstore/config"
	"github.com/ruteri/mdstore/interfaces"
	"github.com/ruteri/mdstore/kms"
	"github.com/ruteri/mdstore/multidoc"
	"github.com/ruteri/mdstore/storage"
	"github.com/urfave/cli/v2"
)

// env holds what every store command needs: config, logger and the opened
// storage backend.
type env struct {
	cfg     config.Config
	log     *slog.Logger
	factory *storage.StorageBackendFactory
	backend interfaces.StoreBackend
}

func openEnv(cCtx *cli.Context) (*env, error) {
	cfg, err := config.Load(cCtx.String(flags.ConfigFlag.Name))
	if err != nil {
		return nil, err
	}
	if uris := cCtx.String(flags.StorageFlag.Name); uris != "" {
		cfg.Storage.Locations = []string{uris}
	}
	if cCtx.Bool(flagCompress.Name) {
		cfg.Store.Compress = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := flags.SetupLogger(cCtx, cfg.Log)

	locations, err := cfg.Locations()
	if err != nil {
		return nil, err
	}
	factory := storage.NewStorageBackendFactory(logger)
	backend, err := factory.CreateMultiBackend(locations)
	if err != nil {
		factory.Close()
		return nil, err
	}

	logger.Debug("Storage opened", "backend", backend.Name(), "location", backend.LocationURI())
	return &env{cfg: cfg, log: logger, factory: factory, backend: backend}, nil
}

func (e *env) Close() {
	if err := e.factory.Close(); err != nil {
		e.log.Error("Failed to close storage", "err", err)
	}
}

func (e *env) service() (*multidoc.Service, error) {
	return multidoc.NewService(e.backend, e.cfg.StoreParams(), e.log)
}

func (e *env) keyring() (*kms.Keyring, error) {
	passphrase := os.Getenv(e.cfg.Keyring.PassphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("keyring passphrase not set, export %s", e.cfg.Keyring.PassphraseEnv)
	}
	return kms.NewKeyring(e.backend, e.cfg.Keyring.Name, passphrase, e.log)
}

// partitionKey reads the key from --key-file or looks up --key-name.
func (e *env) partitionKey(cCtx *cli.Context) ([]byte, error) {
	keyFile := cCtx.String(flagKeyFile.Name)
	keyName := cCtx.String(flagKeyName.Name)

	switch {
	case keyFile != "" && keyName != "":
		return nil, errors.New("--key-file and --key-name are exclusive")
	case keyFile != "":
		return readKeyFile(keyFile)
	case keyName != "":
		keys, err := e.keyring()
		if err != nil {
			return nil, err
		}
		return keys.Get(cCtx.Context, keyName)
	default:
		return nil, errors.New("one of --key-file or --key-name is required")
	}
}

// readKeyFile reads a hex encoded partition key.
func readKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("key file %s is not hex: %w", path, err)
	}
	if len(key) == 0 {
		return nil, interfaces.ErrEmptyPartitionKey
	}
	return key, nil
}

func writeKeyFile(path string, key []byte) error {
	return os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600)
}

// readInput reads a document from a file or, for "-", from stdin.
func readInput(path string) ([]byte, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, multidoc.MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if len(data) > multidoc.MaxDocumentSize {
		return nil, multidoc.ErrDocumentTooLarge
	}
	return data, nil
}

// writeOutput writes to a file or, for "-", to stdout.
func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := io.Copy(os.Stdout, bytes.NewReader(data))
		return err
	}
	return os.WriteFile(path, data, 0600)
}
