package store

import (
	"sync"

	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
)

// MemoryFingerprintStore keeps fingerprint records for the life of the
// process only.
type MemoryFingerprintStore struct {
	mu   sync.Mutex
	recs map[string]types.FingerprintRecord
}

// NewMemoryFingerprintStore returns an empty store.
func NewMemoryFingerprintStore() *MemoryFingerprintStore {
	return &MemoryFingerprintStore{recs: make(map[string]types.FingerprintRecord)}
}

func (s *MemoryFingerprintStore) LoadFingerprints() ([]types.FingerprintRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.FingerprintRecord, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryFingerprintStore) SaveFingerprint(rec types.FingerprintRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[string(recordKey(rec))] = rec
	return nil
}

func (s *MemoryFingerprintStore) DeleteFingerprint(rec types.FingerprintRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, string(recordKey(rec)))
	return nil
}

var _ domain.FingerprintStore = (*MemoryFingerprintStore)(nil)
