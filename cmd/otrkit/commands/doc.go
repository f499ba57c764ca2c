// Package commands implements the otrkit CLI.
//
// Commands:
//
//	keygen                       create the account's long-term OTR key
//	fingerprint list             known peer fingerprints and their trust
//	fingerprint show [--qr]      our own fingerprint
//	fingerprint verify USER FP   mark a peer fingerprint verified (--revoke undoes)
//	fingerprint forget USER FP   delete a peer fingerprint
//	classify TEXT                report what kind of OTR message TEXT is
//	chat PEER                    interactive OTR chat over the relay
//
// The account is named with --account and the protocol with --protocol.
// The private key file is sealed with the passphrase given by -p, or read
// from the terminal when the flag is omitted.
package commands
