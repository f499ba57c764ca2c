package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"otrkit/internal/crypto"
)

// envelopeVersion is the sealed file format written by sealer.
const envelopeVersion = 2

// maxScryptN bounds the work factor accepted from a file header.
const maxScryptN = 1 << 20

// ErrWrongPassphrase is returned when the passphrase is incorrect or the
// ciphertext has been modified.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key file")

// kdfParams are the scrypt tunables.
type kdfParams struct {
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`
}

func defaultKDF() kdfParams { return kdfParams{N: 1 << 15, R: 8, P: 1} }

// fastKDF keeps tests quick.
func fastKDF() kdfParams { return kdfParams{N: 1 << 10, R: 8, P: 1} }

// envelopeHeader is authenticated but not encrypted.
type envelopeHeader struct {
	Version int       `json:"version"`
	KDF     kdfParams `json:"scrypt"`
	Salt    []byte    `json:"salt"`
	Nonce   []byte    `json:"nonce"`
}

type envelope struct {
	Header     envelopeHeader `json:"header"`
	Ciphertext []byte         `json:"ciphertext"`
}

// sealer encrypts whole files under a key derived from a passphrase.
type sealer struct {
	passphrase string
	kdf        kdfParams
}

func (s sealer) key(salt []byte, p kdfParams) ([]byte, error) {
	if p.N <= 1 || p.N > maxScryptN {
		return nil, fmt.Errorf("scrypt work factor %d out of range", p.N)
	}
	return scrypt.Key([]byte(s.passphrase), salt, p.N, p.R, p.P, chacha20poly1305.KeySize)
}

func (s sealer) seal(plain []byte) ([]byte, error) {
	hdr := envelopeHeader{
		Version: envelopeVersion,
		KDF:     s.kdf,
		Salt:    make([]byte, 16),
		Nonce:   make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := rand.Read(hdr.Salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(hdr.Nonce); err != nil {
		return nil, err
	}
	ad, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}
	key, err := s.key(hdr.Salt, hdr.KDF)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Header: hdr, Ciphertext: aead.Seal(nil, hdr.Nonce, plain, ad)})
}

func (s sealer) open(b []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("key file: %w", err)
	}
	hdr := env.Header
	if hdr.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported key file version %d", hdr.Version)
	}
	if len(hdr.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrWrongPassphrase
	}
	ad, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}
	key, err := s.key(hdr.Salt, hdr.KDF)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, hdr.Nonce, env.Ciphertext, ad)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}
