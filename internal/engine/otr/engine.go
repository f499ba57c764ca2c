package otr

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
	xotr "golang.org/x/crypto/otr"

	"otrkit/internal/crypto"
	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
	"otrkit/internal/tlv"
)

type smpPhase int

const (
	smpIdle smpPhase = iota
	smpInitiated
	smpAsked
	smpResponded
)

// Progress reported for each SMP step this side takes.
const (
	progressAsked     = 25
	progressResponded = 40
	progressThirdStep = 60
	progressDone      = 100
)

type session struct {
	conv   *xotr.Conversation
	state  types.MessageState
	peerFP types.Fingerprint
	smp    smpPhase
}

// Engine drives one xotr.Conversation per conversation key.
type Engine struct {
	log   *logging.Logger
	store domain.PrivateKeyStore
	rand  io.Reader

	mu       sync.Mutex
	obs      domain.EngineObserver
	keys     map[types.AccountKey]*xotr.PrivateKey
	sessions map[types.ConversationKey]*session
}

// New returns an engine that keeps private keys in store. A nil store keeps
// them in memory only.
func New(log *logging.Logger, store domain.PrivateKeyStore) *Engine {
	return &Engine{
		log:      log,
		store:    store,
		rand:     rand.Reader,
		keys:     make(map[types.AccountKey]*xotr.PrivateKey),
		sessions: make(map[types.ConversationKey]*session),
	}
}

var _ domain.Engine = (*Engine)(nil)

func (e *Engine) SetObserver(obs domain.EngineObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.obs = obs
}

func (e *Engine) emit(evs []types.EngineEvent) {
	e.mu.Lock()
	obs := e.obs
	e.mu.Unlock()
	if obs == nil {
		return
	}
	for _, ev := range evs {
		obs.HandleEngineEvent(ev)
	}
}

func accountEventKey(account types.AccountKey) types.ConversationKey {
	return types.ConversationKey{Account: account.Account, Protocol: account.Protocol}
}

// loadKeyLocked returns the account's key from memory or the store.
func (e *Engine) loadKeyLocked(account types.AccountKey) (*xotr.PrivateKey, error) {
	if k, ok := e.keys[account]; ok {
		return k, nil
	}
	if e.store == nil {
		return nil, nil
	}
	b, ok, err := e.store.LoadPrivateKey(account)
	if err != nil || !ok {
		return nil, err
	}
	defer crypto.Wipe(b)
	k, err := crypto.ParsePrivateKey(b)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", account.Account, account.Protocol, err)
	}
	e.keys[account] = k
	return k, nil
}

// generateKeyLocked makes and stores a new key for account.
func (e *Engine) generateKeyLocked(account types.AccountKey) (*xotr.PrivateKey, []types.EngineEvent, error) {
	evKey := accountEventKey(account)
	evs := []types.EngineEvent{{Type: types.EngineEventKeyGenStarted, Key: evKey}}
	e.log.Noticef("%s/%s: generating private key", account.Account, account.Protocol)

	k, err := crypto.GeneratePrivateKey(e.rand)
	if err == nil && e.store != nil {
		b := crypto.SerializePrivateKey(k)
		err = e.store.SavePrivateKey(account, b)
		crypto.Wipe(b)
	}
	if err != nil {
		evs = append(evs, types.EngineEvent{Type: types.EngineEventKeyGenFinished, Key: evKey, Err: err})
		return nil, evs, err
	}
	e.keys[account] = k
	return k, append(evs, types.EngineEvent{
		Type:             types.EngineEventKeyGenFinished,
		Key:              evKey,
		LocalFingerprint: crypto.Fingerprint(&k.PublicKey),
	}), nil
}

func (e *Engine) ensureKeyLocked(account types.AccountKey) (*xotr.PrivateKey, []types.EngineEvent, error) {
	k, err := e.loadKeyLocked(account)
	if err != nil || k != nil {
		return k, nil, err
	}
	return e.generateKeyLocked(account)
}

// sessionLocked returns key's session, creating it and the account key if
// needed.
func (e *Engine) sessionLocked(key types.ConversationKey) (*session, []types.EngineEvent, error) {
	if s, ok := e.sessions[key]; ok {
		return s, nil, nil
	}
	k, evs, err := e.ensureKeyLocked(key.AccountKey())
	if err != nil {
		return nil, evs, err
	}
	s := &session{conv: e.newConversation(k)}
	e.sessions[key] = s
	return s, evs, nil
}

func (e *Engine) newConversation(k *xotr.PrivateKey) *xotr.Conversation {
	return &xotr.Conversation{PrivateKey: k, Rand: e.rand}
}

func toStrings(msgs [][]byte) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m)
	}
	return out
}

func stateEvent(key types.ConversationKey, ms types.MessageState) types.EngineEvent {
	return types.EngineEvent{Type: types.EngineEventMessageState, Key: key, MessageState: ms}
}

func smpEvent(key types.ConversationKey, ev types.SMPEvent, progress int, question string) types.EngineEvent {
	return types.EngineEvent{Type: types.EngineEventSMP, Key: key, SMPEvent: ev, Progress: progress, Question: question}
}

func (e *Engine) StartSession(key types.ConversationKey) (string, error) {
	e.mu.Lock()
	s, evs, err := e.sessionLocked(key)
	if err == nil && s.state == types.MessageStateFinished {
		s.conv = e.newConversation(s.conv.PrivateKey)
	}
	e.mu.Unlock()
	e.emit(evs)
	if err != nil {
		return "", err
	}
	return xotr.QueryMessage, nil
}

func (e *Engine) EndSession(key types.ConversationKey) ([]string, error) {
	e.mu.Lock()
	s, ok := e.sessions[key]
	if !ok || s.state == types.MessageStatePlaintext {
		e.mu.Unlock()
		return nil, nil
	}
	prev := s.state
	msgs := s.conv.End()
	s.state = types.MessageStatePlaintext
	s.smp = smpIdle
	obs := e.obs
	e.mu.Unlock()

	var out []string
	if prev == types.MessageStateEncrypted && obs != nil && obs.IsLoggedIn(key) {
		out = toStrings(msgs)
	}
	e.emit([]types.EngineEvent{stateEvent(key, types.MessageStatePlaintext)})
	return out, nil
}

func (e *Engine) ForceFinished(key types.ConversationKey) error {
	e.mu.Lock()
	s, ok := e.sessions[key]
	if !ok || s.state != types.MessageStateEncrypted {
		e.mu.Unlock()
		return nil
	}
	s.conv = e.newConversation(s.conv.PrivateKey)
	s.state = types.MessageStateFinished
	s.smp = smpIdle
	e.mu.Unlock()
	e.emit([]types.EngineEvent{stateEvent(key, types.MessageStateFinished)})
	return nil
}

func (e *Engine) Encrypt(key types.ConversationKey, plaintext string, tlvs []types.TLV) (types.EncryptResult, error) {
	if len(tlv.WithoutPadding(tlvs)) > 0 {
		return types.EncryptResult{}, fmt.Errorf("%w: custom TLVs", domain.ErrUnsupported)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[key]
	if !ok || s.state == types.MessageStatePlaintext {
		return types.EncryptResult{Message: plaintext}, nil
	}
	if s.state == types.MessageStateFinished {
		return types.EncryptResult{}, domain.ErrConnectionEnded
	}
	msgs, err := s.conv.Send([]byte(plaintext))
	if err != nil {
		return types.EncryptResult{}, err
	}
	return types.EncryptResult{Message: strings.Join(toStrings(msgs), ""), Encrypted: true}, nil
}

func (e *Engine) Decrypt(key types.ConversationKey, wire string) (types.DecryptResult, error) {
	e.mu.Lock()
	s, evs, err := e.sessionLocked(key)
	if err != nil {
		e.mu.Unlock()
		e.emit(evs)
		return types.DecryptResult{}, err
	}
	out, encrypted, change, toSend, err := s.conv.Receive([]byte(wire))
	if err != nil {
		e.mu.Unlock()
		e.emit(evs)
		return types.DecryptResult{}, receiveError(err)
	}
	res := types.DecryptResult{
		Plaintext: string(out),
		Encrypted: encrypted,
		Replies:   toStrings(toSend),
	}
	evs = append(evs, e.changeLocked(key, s, change, len(toSend) > 0)...)
	if change == xotr.ConversationEnded {
		res.TLVs = append(res.TLVs, types.TLV{Type: types.TLVTypeDisconnected})
	}
	e.mu.Unlock()
	e.emit(evs)
	return res, nil
}

// changeLocked turns a security change into engine events.
func (e *Engine) changeLocked(key types.ConversationKey, s *session, change xotr.SecurityChange, replied bool) []types.EngineEvent {
	var evs []types.EngineEvent
	switch change {
	case xotr.NewKeys:
		s.peerFP = crypto.Fingerprint(&s.conv.TheirPublicKey)
		evs = append(evs, types.EngineEvent{
			Type:             types.EngineEventNewFingerprint,
			Key:              key,
			Fingerprint:      s.peerFP,
			LocalFingerprint: crypto.Fingerprint(&s.conv.PrivateKey.PublicKey),
		})
		if s.smp != smpIdle {
			s.smp = smpIdle
			evs = append(evs, smpEvent(key, types.SMPEventAbort, 0, ""))
		}
		if s.state != types.MessageStateEncrypted {
			s.state = types.MessageStateEncrypted
			evs = append(evs, stateEvent(key, types.MessageStateEncrypted))
		}

	case xotr.ConversationEnded:
		if s.smp != smpIdle {
			s.smp = smpIdle
			evs = append(evs, smpEvent(key, types.SMPEventAbort, 0, ""))
		}
		s.state = types.MessageStateFinished
		evs = append(evs, stateEvent(key, types.MessageStateFinished))

	case xotr.SMPSecretNeeded:
		if s.smp == smpInitiated || s.smp == smpResponded {
			// the peer's request replaces ours
			evs = append(evs, smpEvent(key, types.SMPEventAbort, 0, ""))
		}
		s.smp = smpAsked
		q := s.conv.SMPQuestion()
		ev := types.SMPEventAskForSecret
		if q != "" {
			ev = types.SMPEventAskForAnswer
		}
		evs = append(evs, smpEvent(key, ev, progressAsked, q))

	case xotr.SMPComplete:
		s.smp = smpIdle
		evs = append(evs, smpEvent(key, types.SMPEventSuccess, progressDone, ""))

	case xotr.SMPFailed:
		s.smp = smpIdle
		evs = append(evs, smpEvent(key, types.SMPEventFailure, progressDone, ""))

	case xotr.NoChange:
		if s.smp == smpInitiated && replied {
			evs = append(evs, smpEvent(key, types.SMPEventInProgress, progressThirdStep, ""))
		}
	}
	return evs
}

// receiveError classifies the library's receive errors.
func receiveError(err error) error {
	msg := err.Error()
	var kind error
	switch {
	case strings.Contains(msg, "without encrypted session"):
		kind = domain.ErrNotInPrivate
	case strings.Contains(msg, "base64"), strings.Contains(msg, "invalid OTR"), strings.Contains(msg, "corrupt"):
		kind = domain.ErrMalformed
	case strings.Contains(msg, "unknown message type"), strings.Contains(msg, "unsupported"):
		kind = domain.ErrUnrecognized
	default:
		kind = domain.ErrUnreadable
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func (e *Engine) MessageState(key types.ConversationKey) types.MessageState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[key]; ok {
		return s.state
	}
	return types.MessageStatePlaintext
}

func (e *Engine) Fingerprint(key types.ConversationKey) (types.Fingerprint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[key]
	if !ok || s.peerFP == "" {
		return "", false
	}
	return s.peerFP, true
}

func (e *Engine) LocalFingerprint(account types.AccountKey) (types.Fingerprint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, err := e.loadKeyLocked(account)
	if err != nil {
		e.log.Warningf("%s/%s: %v", account.Account, account.Protocol, err)
	}
	if k == nil {
		return "", false
	}
	return crypto.Fingerprint(&k.PublicKey), true
}

// GenerateKey replaces the account's key. Sessions already running keep
// the key they started with.
func (e *Engine) GenerateKey(account types.AccountKey) error {
	e.mu.Lock()
	_, evs, err := e.generateKeyLocked(account)
	e.mu.Unlock()
	e.emit(evs)
	return err
}

func (e *Engine) SMPInitiate(key types.ConversationKey, question string, secret []byte) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[key]
	if !ok || s.state != types.MessageStateEncrypted {
		return nil, domain.ErrNotEncrypted
	}
	msgs, err := s.conv.Authenticate(question, secret)
	if err != nil {
		return nil, err
	}
	s.smp = smpInitiated
	return toStrings(msgs), nil
}

func (e *Engine) SMPRespond(key types.ConversationKey, secret []byte) ([]string, error) {
	e.mu.Lock()
	s, ok := e.sessions[key]
	if !ok || s.smp != smpAsked {
		e.mu.Unlock()
		return nil, domain.ErrNoSMPRequest
	}
	msgs, err := s.conv.Authenticate("", secret)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	s.smp = smpResponded
	e.mu.Unlock()
	e.emit([]types.EngineEvent{smpEvent(key, types.SMPEventInProgress, progressResponded, "")})
	return toStrings(msgs), nil
}

// SMPAbort forgets the local negotiation. The library cannot tell the
// peer, whose side runs on until its own timeout.
func (e *Engine) SMPAbort(key types.ConversationKey) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[key]; ok && s.smp != smpIdle {
		s.smp = smpIdle
		e.log.Debugf("%v: smp abort is local only", key)
	}
	return nil, nil
}

func (e *Engine) RequestSymmetricKey(types.ConversationKey, uint32, []byte) ([]byte, []string, error) {
	return nil, nil, fmt.Errorf("%w: extra symmetric key", domain.ErrUnsupported)
}
