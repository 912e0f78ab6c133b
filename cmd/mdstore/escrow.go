package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ruteri/mdstore/cryptoutils"
	"github.com/ruteri/mdstore/interfaces"
	"github.com/ruteri/mdstore/kms"
	"github.com/ruteri/mdstore/multidoc"
	"github.com/urfave/cli/v2"
)

// escrowBundle is the file written by escrow-split. Each custodian can only
// open the share addressed to their key fingerprint.
type escrowBundle struct {
	PartitionID interfaces.PartitionID `json:"partition_id"`
	Threshold   int                    `json:"threshold"`
	Custodians  []string               `json:"custodians"`
	Shares      []kms.EscrowShare      `json:"shares"`
}

var flagBundle = &cli.StringFlag{
	Name:  "bundle",
	Value: "escrow.json",
	Usage: "escrow bundle file",
}
var flagCustodian = &cli.StringSliceFlag{
	Name:     "custodian",
	Required: true,
	Usage:    "custodian public key PEM file, repeat per custodian",
}
var flagCustodianKey = &cli.StringSliceFlag{
	Name:     "custodian-key",
	Required: true,
	Usage:    "custodian private key PEM file, repeat per custodian",
}
var flagEscrowThreshold = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
	Usage: "custodians needed to recover the key",
}
var flagPrivateKeyFile = &cli.StringFlag{
	Name:  "private-key-file",
	Value: "custodian-private.pem",
	Usage: "path to write the custodian private key",
}
var flagPublicKeyFile = &cli.StringFlag{
	Name:  "public-key-file",
	Value: "custodian-public.pem",
	Usage: "path to write the custodian public key",
}

var escrowSplitCommand = &cli.Command{
	Name:  "escrow-split",
	Usage: "split a partition key between custodians",
	Flags: []cli.Flag{flagKeyFile, flagKeyName, flagCustodian, flagEscrowThreshold, flagBundle},
	Action: func(cCtx *cli.Context) error {
		var key []byte
		var err error
		if keyFile := cCtx.String(flagKeyFile.Name); keyFile != "" && cCtx.String(flagKeyName.Name) == "" {
			key, err = readKeyFile(keyFile)
		} else {
			e, openErr := openEnv(cCtx)
			if openErr != nil {
				return openErr
			}
			defer e.Close()
			key, err = e.partitionKey(cCtx)
		}
		if err != nil {
			return err
		}

		bundle := escrowBundle{
			PartitionID: multidoc.PartitionIDOf(key),
			Threshold:   cCtx.Int(flagEscrowThreshold.Name),
		}
		var custodians [][]byte
		for _, path := range cCtx.StringSlice(flagCustodian.Name) {
			pem, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read custodian key: %w", err)
			}
			custodians = append(custodians, pem)
			bundle.Custodians = append(bundle.Custodians, string(pem))
		}

		bundle.Shares, err = kms.SplitKey(key, kms.EscrowConfig{Threshold: bundle.Threshold, Custodians: custodians})
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return err
		}
		if err := writeOutput(cCtx.String(flagBundle.Name), data); err != nil {
			return fmt.Errorf("failed to write bundle: %w", err)
		}
		fmt.Fprintf(os.Stderr, "split key %s into %d shares, %d needed\n", bundle.PartitionID, len(bundle.Shares), bundle.Threshold)
		return nil
	},
}

var escrowRecoverCommand = &cli.Command{
	Name:  "escrow-recover",
	Usage: "recover a partition key from custodian shares",
	Flags: []cli.Flag{flagBundle, flagCustodianKey, flagKeyFile, flagKeyName},
	Action: func(cCtx *cli.Context) error {
		data, err := os.ReadFile(cCtx.String(flagBundle.Name))
		if err != nil {
			return fmt.Errorf("failed to read bundle: %w", err)
		}
		var bundle escrowBundle
		if err := json.Unmarshal(data, &bundle); err != nil {
			return fmt.Errorf("invalid bundle: %w", err)
		}

		key, err := recoverKey(bundle, cCtx.StringSlice(flagCustodianKey.Name))
		if err != nil {
			return err
		}

		keyFile := cCtx.String(flagKeyFile.Name)
		keyName := cCtx.String(flagKeyName.Name)
		if keyFile == "" && keyName == "" {
			return fmt.Errorf("one of --%s or --%s is required", flagKeyFile.Name, flagKeyName.Name)
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

		fmt.Println(bundle.PartitionID)
		return nil
	},
}

// recoverKey opens shares with the given private keys until the threshold is
// met, then checks the result against the bundle's partition id.
func recoverKey(bundle escrowBundle, privateKeyFiles []string) ([]byte, error) {
	custodians := make([][]byte, len(bundle.Custodians))
	for i, pem := range bundle.Custodians {
		custodians[i] = []byte(pem)
	}
	recovery, err := kms.NewRecovery(kms.EscrowConfig{Threshold: bundle.Threshold, Custodians: custodians})
	if err != nil {
		return nil, err
	}

	opened := make(map[int]bool)
	for _, path := range privateKeyFiles {
		privateKeyPEM, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read custodian key: %w", err)
		}
		for i, share := range bundle.Shares {
			if opened[i] {
				continue
			}
			if err := recovery.Submit(share, privateKeyPEM); err == nil {
				opened[i] = true
				break
			}
		}
		if _, done := recovery.Key(); done {
			break
		}
	}

	key, done := recovery.Key()
	if !done {
		return nil, fmt.Errorf("not enough custodian keys, %d more shares needed", recovery.Pending())
	}
	if multidoc.PartitionIDOf(key) != bundle.PartitionID {
		return nil, errors.New("recovered key does not match the bundle's partition id")
	}
	return key, nil
}

var custodianKeygenCommand = &cli.Command{
	Name:  "custodian-keygen",
	Usage: "generate a custodian keypair for key escrow",
	Flags: []cli.Flag{flagPrivateKeyFile, flagPublicKeyFile},
	Action: func(cCtx *cli.Context) error {
		publicKeyPEM, privateKeyPEM, err := cryptoutils.GenerateKeypair()
		if err != nil {
			return err
		}
		if err := os.WriteFile(cCtx.String(flagPrivateKeyFile.Name), privateKeyPEM, 0600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		if err := os.WriteFile(cCtx.String(flagPublicKeyFile.Name), publicKeyPEM, 0644); err != nil {
			return fmt.Errorf("failed to write public key: %w", err)
		}

		fingerprint, err := cryptoutils.Fingerprint(publicKeyPEM)
		if err != nil {
			return err
		}
		fmt.Println(fingerprint)
		return nil
	},
}
