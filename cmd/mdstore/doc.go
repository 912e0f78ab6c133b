// Package main (cmd/mdstore) is the command line front end for multi-partition
// document stores.
//
// Store commands operate on the storage locations from the config file or
// --storage. Partition keys are given as a hex key file or by name from the
// passphrase-sealed keyring:
//
//	mdstore keygen --key-file alice.key
//	mdstore --storage file:///var/lib/mdstore encrypt --store users --key-file alice.key --password pw --in alice.json
//	mdstore --storage file:///var/lib/mdstore update --store users --key-file bob.key --password pw2 --in bob.json
//	mdstore --storage file:///var/lib/mdstore decrypt --store users --key-file alice.key --password pw
//
// Key escrow splits a partition key between custodians so that a threshold
// of them can restore it:
//
//	mdstore custodian-keygen --private-key-file c1.pem --public-key-file c1.pub.pem
//	mdstore escrow-split --key-file alice.key --custodian c1.pub.pem --custodian c2.pub.pem --threshold 2
//	mdstore escrow-recover --custodian-key c1.pem --custodian-key c2.pem --key-file alice.key
//
// serve exposes the same operations over HTTP, see package httpserver.
package main
