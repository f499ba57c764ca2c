package store

import (
	"encoding/json"
	"sync"

	"otrkit/internal/crypto"
	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
)

// PrivateKeyFilename is the sealed key file inside the data directory.
const PrivateKeyFilename = "private_keys.json.enc"

// accountKey is one entry of the sealed key list.
type accountKey struct {
	Account  string `json:"account"`
	Protocol string `json:"protocol"`
	Key      []byte `json:"key"`
}

// PrivateKeyFileStore keeps every account's serialized private key in one
// passphrase-sealed file.
type PrivateKeyFileStore struct {
	file   file
	sealer sealer

	mu sync.Mutex
}

// NewPrivateKeyFileStore returns a store rooted at dir, sealed with passphrase.
func NewPrivateKeyFileStore(dir, passphrase string) *PrivateKeyFileStore {
	return &PrivateKeyFileStore{
		file:   newFile(dir, PrivateKeyFilename),
		sealer: sealer{passphrase: passphrase, kdf: defaultKDF()},
	}
}

// FastKDF lowers the scrypt cost. Only tests should call it.
func (s *PrivateKeyFileStore) FastKDF() *PrivateKeyFileStore {
	s.sealer.kdf = fastKDF()
	return s
}

func (s *PrivateKeyFileStore) loadLocked() (map[types.AccountKey][]byte, error) {
	m := make(map[types.AccountKey][]byte)
	b, err := s.file.read()
	if err != nil || b == nil {
		return m, err
	}
	raw, err := s.sealer.open(b)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)
	var entries []accountKey
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	for _, e := range entries {
		m[types.AccountKey{Account: e.Account, Protocol: e.Protocol}] = e.Key
	}
	return m, nil
}

func (s *PrivateKeyFileStore) saveLocked(m map[types.AccountKey][]byte) error {
	entries := make([]accountKey, 0, len(m))
	for a, k := range m {
		entries = append(entries, accountKey{Account: a.Account, Protocol: a.Protocol, Key: k})
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	defer crypto.Wipe(raw)
	sealed, err := s.sealer.seal(raw)
	if err != nil {
		return err
	}
	return s.file.replace(sealed)
}

// LoadPrivateKey returns the account's serialized key.
func (s *PrivateKeyFileStore) LoadPrivateKey(account types.AccountKey) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return nil, false, err
	}
	k, ok := m[account]
	return k, ok, nil
}

// SavePrivateKey seals key for account, replacing any previous key.
func (s *PrivateKeyFileStore) SavePrivateKey(account types.AccountKey, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	m[account] = append([]byte(nil), key...)
	return s.saveLocked(m)
}

// Accounts lists the accounts that have a key.
func (s *PrivateKeyFileStore) Accounts() ([]types.AccountKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	out := make([]types.AccountKey, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	return out, nil
}

var _ domain.PrivateKeyStore = (*PrivateKeyFileStore)(nil)
