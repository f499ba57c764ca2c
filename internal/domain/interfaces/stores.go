package interfaces

import domaintypes "otrkit/internal/domain/types"

// PrivateKeyStore persists serialized long-term private keys per account.
type PrivateKeyStore interface {
	LoadPrivateKey(account domaintypes.AccountKey) ([]byte, bool, error)
	SavePrivateKey(account domaintypes.AccountKey, key []byte) error
}

// InstanceTagStore hands out stable instance tags per account.
type InstanceTagStore interface {
	// InstanceTag returns the account's tag, allocating one if needed.
	InstanceTag(account domaintypes.AccountKey) (uint32, error)
}

// FingerprintStore persists known peer fingerprints.
type FingerprintStore interface {
	LoadFingerprints() ([]domaintypes.FingerprintRecord, error)
	SaveFingerprint(rec domaintypes.FingerprintRecord) error
	DeleteFingerprint(rec domaintypes.FingerprintRecord) error
}
