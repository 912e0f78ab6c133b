package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/mdstore/cmd/flags"
	"github.com/ruteri/mdstore/httpserver"
	"github.com/ruteri/mdstore/kms"
	"github.com/ruteri/mdstore/multidoc"
	"github.com/urfave/cli/v2"
)

var flagStore = &cli.StringFlag{
	Name:     "store",
	Required: true,
	Usage:    "store name",
}
var flagPassword = &cli.StringFlag{
	Name:     "password",
	Required: true,
	EnvVars:  []string{"MDSTORE_PASSWORD"},
	Usage:    "partition password",
}
var flagNewPassword = &cli.StringFlag{
	Name:     "new-password",
	Required: true,
	EnvVars:  []string{"MDSTORE_NEW_PASSWORD"},
	Usage:    "new partition password",
}
var flagKeyFile = &cli.StringFlag{
	Name:  "key-file",
	Usage: "file holding the hex encoded partition key",
}
var flagKeyName = &cli.StringFlag{
	Name:  "key-name",
	Usage: "name of the partition key in the keyring",
}
var flagIn = &cli.StringFlag{
	Name:  "in",
	Value: "-",
	Usage: "document to store, - for stdin",
}
var flagOut = &cli.StringFlag{
	Name:  "out",
	Value: "-",
	Usage: "output file, - for stdout",
}
var flagCompress = &cli.BoolFlag{
	Name:  "compress",
	Usage: "compress documents of newly created stores",
}

var keyFlags = []cli.Flag{flagKeyFile, flagKeyName}

func main() {
	app := &cli.App{
		Name:  "mdstore",
		Usage: "Store several partitions' documents in one Shamir-shared store",
		Flags: flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:  "encrypt",
				Usage: "create a new store holding one document",
				Flags: append([]cli.Flag{flagStore, flagPassword, flagIn, flagCompress}, keyFlags...),
				Action: withService(func(cCtx *cli.Context, e *env, svc *multidoc.Service, key []byte) error {
					doc, err := readInput(cCtx.String(flagIn.Name))
					if err != nil {
						return err
					}
					return svc.Create(cCtx.Context, cCtx.String(flagStore.Name), doc, cCtx.String(flagPassword.Name), key)
				}),
			},
			{
				Name:  "update",
				Usage: "add or replace a partition's document in an existing store",
				Flags: append([]cli.Flag{flagStore, flagPassword, flagIn}, keyFlags...),
				Action: withService(func(cCtx *cli.Context, e *env, svc *multidoc.Service, key []byte) error {
					doc, err := readInput(cCtx.String(flagIn.Name))
					if err != nil {
						return err
					}
					return svc.Update(cCtx.Context, cCtx.String(flagStore.Name), doc, cCtx.String(flagPassword.Name), key)
				}),
			},
			{
				Name:  "decrypt",
				Usage: "reconstruct a partition's document",
				Flags: append([]cli.Flag{flagStore, flagPassword, flagOut}, keyFlags...),
				Action: withService(func(cCtx *cli.Context, e *env, svc *multidoc.Service, key []byte) error {
					doc, err := svc.Decrypt(cCtx.Context, cCtx.String(flagStore.Name), cCtx.String(flagPassword.Name), key)
					if err != nil {
						return err
					}
					return writeOutput(cCtx.String(flagOut.Name), doc)
				}),
			},
			{
				Name:  "remove",
				Usage: "remove a partition from a store",
				Flags: append([]cli.Flag{flagStore, flagPassword}, keyFlags...),
				Action: withService(func(cCtx *cli.Context, e *env, svc *multidoc.Service, key []byte) error {
					return svc.Remove(cCtx.Context, cCtx.String(flagStore.Name), cCtx.String(flagPassword.Name), key)
				}),
			},
			{
				Name:  "rotate",
				Usage: "change a partition's password",
				Flags: append([]cli.Flag{flagStore, flagPassword, flagNewPassword}, keyFlags...),
				Action: withService(func(cCtx *cli.Context, e *env, svc *multidoc.Service, key []byte) error {
					return svc.Rotate(cCtx.Context, cCtx.String(flagStore.Name), key,
						cCtx.String(flagPassword.Name), cCtx.String(flagNewPassword.Name))
				}),
			},
			{
				Name:   "inspect",
				Usage:  "print a store's public metadata",
				Flags:  []cli.Flag{flagStore},
				Action: inspect,
			},
			{
				Name:   "keygen",
				Usage:  "generate a random partition key",
				Flags:  []cli.Flag{flagKeyFile, flagKeyName},
				Action: keygen,
			},
			escrowSplitCommand,
			escrowRecoverCommand,
			custodianKeygenCommand,
			{
				Name:   "serve",
				Usage:  "serve the store API over HTTP",
				Flags:  append([]cli.Flag{flagCompress}, flags.ServerFlags...),
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withService opens storage, builds the service and resolves the partition key.
func withService(fn func(*cli.Context, *env, *multidoc.Service, []byte) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		e, err := openEnv(cCtx)
		if err != nil {
			return err
		}
		defer e.Close()

		svc, err := e.service()
		if err != nil {
			return err
		}
		key, err := e.partitionKey(cCtx)
		if err != nil {
			return err
		}
		return fn(cCtx, e, svc, key)
	}
}

func inspect(cCtx *cli.Context) error {
	e, err := openEnv(cCtx)
	if err != nil {
		return err
	}
	defer e.Close()

	svc, err := e.service()
	if err != nil {
		return err
	}
	summary, err := svc.Inspect(cCtx.Context, cCtx.String(flagStore.Name))
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func keygen(cCtx *cli.Context) error {
	keyFile := cCtx.String(flagKeyFile.Name)
	keyName := cCtx.String(flagKeyName.Name)
	if keyFile == "" && keyName == "" {
		return fmt.Errorf("one of --%s or --%s is required", flagKeyFile.Name, flagKeyName.Name)
	}

	key, err := kms.GeneratePartitionKey()
	if err != nil {
		return err
	}

	if keyFile != "" {
		if err := writeKeyFile(keyFile, key); err != nil {
			return fmt.Errorf("failed to write key file: %w", err)
		}
	}
	if keyName != "" {
		e, err := openEnv(cCtx)
		if err != nil {
			return err
		}
		defer e.Close()

		keys, err := e.keyring()
		if err != nil {
			return err
		}
		if err := keys.Put(cCtx.Context, keyName, key); err != nil {
			return err
		}
	}

	fmt.Println(multidoc.PartitionIDOf(key))
	return nil
}

func serve(cCtx *cli.Context) error {
	e, err := openEnv(cCtx)
	if err != nil {
		return err
	}
	defer e.Close()

	svc, err := e.service()
	if err != nil {
		return err
	}

	handler := httpserver.NewHandler(svc, nil, e.log).WithMaxBodySize(e.cfg.Server.MaxBodyBytes)
	if os.Getenv(e.cfg.Keyring.PassphraseEnv) != "" {
		keys, err := e.keyring()
		if err != nil {
			return err
		}
		handler = httpserver.NewHandler(svc, keys, e.log).WithMaxBodySize(e.cfg.Server.MaxBodyBytes)
		e.log.Info("Keyring enabled", "name", e.cfg.Keyring.Name)
	}

	server, err := httpserver.New(flags.ConfigureServer(cCtx, e.log, e.cfg.Server), handler)
	if err != nil {
		e.log.Error("Failed to create server", "err", err)
		return err
	}
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	e.log.Info("Server is running, press Ctrl+C to stop")
	<-exit
	e.log.Info("Shutdown signal received")

	server.Shutdown()
	e.log.Info("Server shutdown complete")
	return nil
}
