package crypto

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/otr"
)

// ErrBadPrivateKey is returned when serialized key bytes do not parse.
var ErrBadPrivateKey = errors.New("malformed private key")

// GeneratePrivateKey creates a fresh DSA identity key. It reads from rand.
func GeneratePrivateKey(rand io.Reader) (key *otr.PrivateKey, err error) {
	// Generate panics when rand fails.
	defer func() {
		if r := recover(); r != nil {
			key, err = nil, fmt.Errorf("generate private key: %v", r)
		}
	}()
	key = new(otr.PrivateKey)
	key.Generate(rand)
	return key, nil
}

// SerializePrivateKey returns the OTR wire form of key.
func SerializePrivateKey(key *otr.PrivateKey) []byte {
	return key.Serialize(nil)
}

// ParsePrivateKey reverses SerializePrivateKey. Trailing bytes are an error.
func ParsePrivateKey(b []byte) (*otr.PrivateKey, error) {
	key := new(otr.PrivateKey)
	rest, ok := key.Parse(b)
	if !ok || len(rest) != 0 {
		return nil, ErrBadPrivateKey
	}
	return key, nil
}
