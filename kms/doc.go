// Package kms manages partition keys outside the store.
//
// Partition keys are the sole capability for a tenant's partition, so
// losing one loses the document. The package offers two tools around them:
//
// # Keyring
//
// Keyring implements interfaces.KeyStore. It keeps named partition keys in a
// single password-sealed blob on any interfaces.StoreBackend, so front ends
// can refer to keys by name.
//
// # Escrow
//
// SplitKey splits a partition key with Shamir's Secret Sharing (GF(256),
// hashicorp/vault/shamir) and encrypts each share to one custodian's P-256
// public key. Recovery collects shares opened by custodians until the
// threshold is met and then combines them.
//
//	shares, _ := kms.SplitKey(key, kms.EscrowConfig{Threshold: 2, Custodians: pubkeys})
//	recovery, _ := kms.NewRecovery(kms.EscrowConfig{Threshold: 2, Custodians: pubkeys})
//	_ = recovery.Submit(shares[0], custodian0PrivateKey)
//	_ = recovery.Submit(shares[2], custodian2PrivateKey)
//	key, ok := recovery.Key()
package kms
