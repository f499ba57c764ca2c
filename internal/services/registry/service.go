package registry

import (
	"sort"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
)

// Service is the conversation registry. It is safe for concurrent use.
type Service struct {
	log  *logging.Logger
	tags domain.InstanceTagStore

	mu     sync.Mutex
	states map[types.ConversationKey]*types.ConversationState
}

// New returns an empty registry. tags may be nil.
func New(log *logging.Logger, tags domain.InstanceTagStore) *Service {
	return &Service{
		log:    log,
		tags:   tags,
		states: make(map[types.ConversationKey]*types.ConversationState),
	}
}

func (s *Service) getLocked(key types.ConversationKey) *types.ConversationState {
	st, ok := s.states[key]
	if ok {
		return st
	}
	st = &types.ConversationState{Key: key}
	if s.tags != nil {
		tag, err := s.tags.InstanceTag(key.AccountKey())
		if err != nil {
			s.log.Warningf("instance tag for %v: %v", key.AccountKey(), err)
		}
		st.InstanceTag = tag
	}
	s.states[key] = st
	return st
}

func snapshot(st *types.ConversationState) types.ConversationState {
	out := *st
	if st.SMP != nil {
		smp := *st.SMP
		out.SMP = &smp
	}
	return out
}

// Get returns the state for key, creating it if absent.
func (s *Service) Get(key types.ConversationKey) types.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.getLocked(key))
}

// Lookup returns the state for key without creating it.
func (s *Service) Lookup(key types.ConversationKey) (types.ConversationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok {
		return types.ConversationState{Key: key}, false
	}
	return snapshot(st), true
}

// MessageState is Plaintext for unknown keys.
func (s *Service) MessageState(key types.ConversationKey) types.MessageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		return st.MessageState
	}
	return types.MessageStatePlaintext
}

// OfferState is None for unknown keys.
func (s *Service) OfferState(key types.ConversationKey) types.OfferState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		return st.OfferState
	}
	return types.OfferStateNone
}

// SetMessageState records the engine's view of the session and reports
// whether it changed. A move back to plaintext releases the entry unless a
// negotiation is pending.
func (s *Service) SetMessageState(key types.ConversationKey, ms types.MessageState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok && ms == types.MessageStatePlaintext {
		return false
	}
	if !ok {
		st = s.getLocked(key)
	}
	if st.MessageState == ms {
		return false
	}
	st.MessageState = ms
	if ms == types.MessageStatePlaintext && st.SMP == nil {
		delete(s.states, key)
	}
	return true
}

// SetOfferState records the whitespace tag offer and reports whether it
// changed.
func (s *Service) SetOfferState(key types.ConversationKey, offer types.OfferState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getLocked(key)
	if st.OfferState == offer {
		return false
	}
	st.OfferState = offer
	return true
}

// Release drops a plaintext entry that has no negotiation pending.
func (s *Service) Release(key types.ConversationKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok || st.MessageState != types.MessageStatePlaintext || st.SMP != nil {
		return false
	}
	delete(s.states, key)
	return true
}

// BeginSMP installs a new negotiation. It fails with a ProtocolConflict if
// one is already running for key and leaves that one untouched.
func (s *Service) BeginSMP(key types.ConversationKey, sess types.SMPSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getLocked(key)
	if st.SMP != nil {
		return domain.NewError(domain.KindProtocolConflict, "smp begin", key, domain.ErrSMPAlreadyInProgress)
	}
	st.SMP = &sess
	return nil
}

// SMP returns a copy of the running negotiation.
func (s *Service) SMP(key types.ConversationKey) (types.SMPSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok || st.SMP == nil {
		return types.SMPSession{}, false
	}
	return *st.SMP, true
}

// UpdateSMP applies fn to the running negotiation under the registry lock.
func (s *Service) UpdateSMP(key types.ConversationKey, fn func(*types.SMPSession)) (types.SMPSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok || st.SMP == nil {
		return types.SMPSession{}, false
	}
	fn(st.SMP)
	return *st.SMP, true
}

// EndSMP clears the running negotiation and returns it.
func (s *Service) EndSMP(key types.ConversationKey) (types.SMPSession, bool) {
	return s.EndSMPIf(key, nil)
}

// EndSMPIf clears the running negotiation if pred accepts it. A nil pred
// accepts anything.
func (s *Service) EndSMPIf(key types.ConversationKey, pred func(types.SMPSession) bool) (types.SMPSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok || st.SMP == nil {
		return types.SMPSession{}, false
	}
	if pred != nil && !pred(*st.SMP) {
		return types.SMPSession{}, false
	}
	sess := *st.SMP
	st.SMP = nil
	if st.MessageState == types.MessageStatePlaintext && st.OfferState == types.OfferStateNone {
		delete(s.states, key)
	}
	return sess, true
}

// Keys lists the conversations with live state, sorted.
func (s *Service) Keys() []types.ConversationKey {
	s.mu.Lock()
	out := make([]types.ConversationKey, 0, len(s.states))
	for k := range s.states {
		out = append(out, k)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// Less orders keys by account, then username, then protocol.
func Less(a, b types.ConversationKey) bool {
	if a.Account != b.Account {
		return a.Account < b.Account
	}
	if a.Username != b.Username {
		return a.Username < b.Username
	}
	return a.Protocol < b.Protocol
}
