package app

import "net/http"

// Options holds runtime inputs that do not belong in the config file.
type Options struct {
	// Passphrase seals the private key file.
	Passphrase string
	// HTTP is used for relay calls; defaults to http.DefaultClient.
	HTTP *http.Client
	// FastKDF lowers the scrypt cost of the key file. Tests only.
	FastKDF bool
}
