package crypto_test

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"otrkit/internal/crypto"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestPrivateKeyRoundTrip(t *testing.T) {
	key, err := crypto.GeneratePrivateKey(rand.Reader)
	require.NoError(t, err)

	b := crypto.SerializePrivateKey(key)
	parsed, err := crypto.ParsePrivateKey(b)
	require.NoError(t, err)

	fp := crypto.Fingerprint(&key.PublicKey)
	require.Len(t, fp, 40)
	require.Equal(t, fp, crypto.Fingerprint(&parsed.PublicKey))

	_, err = crypto.ParsePrivateKey(b[:len(b)-4])
	require.ErrorIs(t, err, crypto.ErrBadPrivateKey)
	_, err = crypto.ParsePrivateKey(append(b, 0))
	require.ErrorIs(t, err, crypto.ErrBadPrivateKey)
}

func TestGenerateWithBrokenRand(t *testing.T) {
	_, err := crypto.GeneratePrivateKey(failingReader{})
	require.Error(t, err)
}

func TestWipe(t *testing.T) {
	b := []byte("secret")
	crypto.Wipe(b)
	require.Equal(t, make([]byte, 6), b)
}
