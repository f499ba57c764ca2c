// Package trust keeps the known peer fingerprints, which one each
// conversation currently presents, and whether the user has verified it.
//
// Records live in memory and are written through to a
// domain.FingerprintStore on every change.
package trust
