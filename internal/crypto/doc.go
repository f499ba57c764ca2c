// Package crypto exposes the small set of key helpers otrkit needs around
// OTR's DSA identity keys.
//
// Contents
//
//   - Generating, serializing and parsing long-term private keys
//     (GeneratePrivateKey, SerializePrivateKey, ParsePrivateKey)
//   - Hex fingerprints of public keys (Fingerprint)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//
// # Notes
//
// Callers should treat serialized keys and SMP secrets as sensitive and
// rely on Wipe when practical to reduce their lifetime in memory.
package crypto
