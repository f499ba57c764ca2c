// Package identity manages the local long-term keys: generating them,
// tracking generations in flight, and reporting their fingerprints.
//
// It also enforces the passphrase policy for the sealed key file.
package identity
