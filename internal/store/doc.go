// Package store provides on-disk persistence for otrkit's long-lived data.
//
// It contains concrete implementations of the domain storage interfaces.
// All types are safe for concurrent use. Files typically live under the
// configured data directory.
//
// The package includes stores for:
//   - Long-term private keys, sealed with a passphrase (PrivateKeyFileStore)
//   - Instance tags, as plain JSON (InstanceTagFileStore)
//   - Known peer fingerprints, in a bbolt database (FingerprintDB)
package store
