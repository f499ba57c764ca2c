package trust

import (
	"context"
	"sort"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
	"otrkit/internal/events"
	"otrkit/internal/services/registry"
)

// Finisher tears a conversation down to Finished without telling the peer.
type Finisher interface {
	ForceFinished(ctx context.Context, key types.ConversationKey) error
}

type recordID struct {
	key types.ConversationKey
	fp  types.Fingerprint
}

func idOf(rec types.FingerprintRecord) recordID {
	return recordID{key: rec.Key(), fp: rec.Fingerprint}
}

// Service is the trust store.
type Service struct {
	log    *logging.Logger
	store  domain.FingerprintStore
	reg    *registry.Service
	bridge *events.Bridge

	mu       sync.RWMutex
	finisher Finisher
	records  map[recordID]*types.FingerprintRecord
}

// New loads every persisted record from store.
func New(
	log *logging.Logger,
	store domain.FingerprintStore,
	reg *registry.Service,
	bridge *events.Bridge,
) (*Service, error) {
	recs, err := store.LoadFingerprints()
	if err != nil {
		return nil, domain.NewError(domain.KindPersistence, "load fingerprints", types.ConversationKey{}, err)
	}
	s := &Service{
		log:     log,
		store:   store,
		reg:     reg,
		bridge:  bridge,
		records: make(map[recordID]*types.FingerprintRecord, len(recs)),
	}
	for i := range recs {
		rec := recs[i]
		s.records[idOf(rec)] = &rec
	}
	log.Debugf("loaded %d fingerprints", len(recs))
	return s, nil
}

// SetFinisher installs what Delete uses to end a session whose active key
// was removed.
func (s *Service) SetFinisher(f Finisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finisher = f
}

// ListAll returns every record ordered by account, username, protocol and
// fingerprint.
func (s *Service) ListAll() []types.FingerprintRecord {
	s.mu.RLock()
	out := make([]types.FingerprintRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Key() != b.Key() {
			return registry.Less(a.Key(), b.Key())
		}
		return a.Fingerprint < b.Fingerprint
	})
	return out
}

// ForKey returns the records of one conversation.
func (s *Service) ForKey(key types.ConversationKey) []types.FingerprintRecord {
	var out []types.FingerprintRecord
	for _, rec := range s.ListAll() {
		if rec.Key() == key {
			out = append(out, rec)
		}
	}
	return out
}

// ActiveFor returns the record the peer's current session presented.
func (s *Service) ActiveFor(key types.ConversationKey) (types.FingerprintRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, rec := range s.records {
		if id.key == key && rec.Active {
			return *rec, true
		}
	}
	return types.FingerprintRecord{}, false
}

// Lookup returns the record for fp under key.
func (s *Service) Lookup(key types.ConversationKey, fp types.Fingerprint) (types.FingerprintRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID{key: key, fp: fp}]
	if !ok {
		return types.FingerprintRecord{}, false
	}
	return *rec, true
}

// SetVerified records the user's decision about rec. Setting the current
// value again changes nothing and signals nothing.
func (s *Service) SetVerified(rec types.FingerprintRecord, verified bool) error {
	s.mu.Lock()
	cur, ok := s.records[idOf(rec)]
	if !ok {
		s.mu.Unlock()
		return domain.NewError(domain.KindValidation, "set verified", rec.Key(), domain.ErrUnknownFingerprint)
	}
	if cur.Verified == verified {
		s.mu.Unlock()
		return nil
	}
	next := *cur
	next.Verified = verified
	if err := s.store.SaveFingerprint(next); err != nil {
		s.mu.Unlock()
		return domain.NewError(domain.KindPersistence, "set verified", rec.Key(), err)
	}
	*cur = next
	s.mu.Unlock()

	s.log.Infof("%v: %s verified=%v", next.Key(), next.Fingerprint, verified)
	s.bridge.FingerprintListChanged()
	if next.Active {
		s.bridge.Post(events.Notification{
			Kind:             events.KindFingerprintVerifiedChanged,
			Key:              next.Key(),
			TheirFingerprint: next.Fingerprint,
			Verified:         verified,
		})
	}
	return nil
}

// Delete forgets rec. Removing the active key of an encrypted conversation
// forces that conversation to Finished.
func (s *Service) Delete(ctx context.Context, rec types.FingerprintRecord) error {
	s.mu.Lock()
	id := idOf(rec)
	cur, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return domain.NewError(domain.KindValidation, "delete fingerprint", rec.Key(), domain.ErrUnknownFingerprint)
	}
	if err := s.store.DeleteFingerprint(*cur); err != nil {
		s.mu.Unlock()
		return domain.NewError(domain.KindPersistence, "delete fingerprint", rec.Key(), err)
	}
	wasActive := cur.Active
	delete(s.records, id)
	finisher := s.finisher
	s.mu.Unlock()

	s.log.Infof("%v: forgot %s", id.key, id.fp)
	s.bridge.FingerprintListChanged()

	if !wasActive || finisher == nil || s.reg.MessageState(id.key) != types.MessageStateEncrypted {
		return nil
	}
	return finisher.ForceFinished(ctx, id.key)
}

// Observe records fp as the key the peer presented for key's new session
// and makes it the active record. It reports whether fp was unknown. It
// runs from inside engine calls and never calls back into the engine. Each
// change reaches memory only once the store has accepted it.
func (s *Service) Observe(key types.ConversationKey, fp types.Fingerprint) (bool, error) {
	s.mu.Lock()
	id := recordID{key: key, fp: fp}
	rec, known := s.records[id]
	changed := false
	fail := func(err error) (bool, error) {
		s.mu.Unlock()
		if changed {
			s.bridge.FingerprintListChanged()
		}
		return !known, domain.NewError(domain.KindPersistence, "observe fingerprint", key, err)
	}

	for other, cur := range s.records {
		if other.key != key || other.fp == fp || !cur.Active {
			continue
		}
		next := *cur
		next.Active = false
		if err := s.store.SaveFingerprint(next); err != nil {
			return fail(err)
		}
		*cur = next
		changed = true
	}

	var next types.FingerprintRecord
	if known {
		next = *rec
	} else {
		next = types.FingerprintRecord{
			Fingerprint: fp,
			Account:     key.Account,
			Username:    key.Username,
			Protocol:    key.Protocol,
		}
	}
	if !known || !next.Active {
		next.Active = true
		if err := s.store.SaveFingerprint(next); err != nil {
			return fail(err)
		}
		if known {
			*rec = next
		} else {
			s.records[id] = &next
		}
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.bridge.FingerprintListChanged()
	}
	if !known {
		s.log.Noticef("%v: new fingerprint %s", key, fp)
	}
	return !known, nil
}

// IsVerified reports whether the active record for key is verified.
func (s *Service) IsVerified(key types.ConversationKey) bool {
	rec, ok := s.ActiveFor(key)
	return ok && rec.Verified
}
