package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/otr"

	"otrkit/internal/domain/types"
)

// Fingerprint returns the lowercase hex OTR fingerprint of pub, the SHA-1
// of its serialized form.
func Fingerprint(pub *otr.PublicKey) types.Fingerprint {
	return types.Fingerprint(hex.EncodeToString(pub.Fingerprint()))
}
