// Package enginetest provides a scripted in-memory engine for exercising the
// orchestration layer without real cryptography.
//
// The fake speaks a toy protocol shaped like OTRv2 on the wire, so the
// classifier and fragmenter see realistic "?OTR:" messages: a query is
// answered with a DH commit carrying the sender's fingerprint, the commit is
// answered with a DH key, and both sides are then encrypted. Data messages
// carry the plaintext and a TLV block in clear base64. SMP compares secret
// hashes in one round trip.
package enginetest

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"otrkit/internal/classify"
	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
	"otrkit/internal/tlv"
)

const (
	wireDHCommit = 0x02
	wireData     = 0x03
	wireDHKey    = 0x0a
)

type smpState struct {
	initiator bool
	hash      []byte
	question  string
}

type conv struct {
	state  types.MessageState
	peerFP types.Fingerprint
	smp    *smpState
}

// Engine is the fake. It is safe for concurrent use; events are raised
// after its own lock is released.
type Engine struct {
	mu       sync.Mutex
	obs      domain.EngineObserver
	keys     map[types.AccountKey]types.Fingerprint
	gens     map[types.AccountKey]int
	convs    map[types.ConversationKey]*conv
	failures map[string]error
	calls    []string
}

// New returns an engine with no keys.
func New() *Engine {
	return &Engine{
		keys:     make(map[types.AccountKey]types.Fingerprint),
		gens:     make(map[types.AccountKey]int),
		convs:    make(map[types.ConversationKey]*conv),
		failures: make(map[string]error),
	}
}

var _ domain.Engine = (*Engine)(nil)

// Fail makes the next call to op return err. op is the method name.
func (e *Engine) Fail(op string, err error) {
	e.mu.Lock()
	e.failures[op] = err
	e.mu.Unlock()
}

// Calls returns the method names called so far, in order.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// CallCount counts calls to op.
func (e *Engine) CallCount(op string) int {
	n := 0
	for _, c := range e.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// Emit raises ev on the observer as if the engine had produced it.
func (e *Engine) Emit(ev types.EngineEvent) {
	e.emit([]types.EngineEvent{ev})
}

func (e *Engine) enter(op string) error {
	e.calls = append(e.calls, op)
	if err, ok := e.failures[op]; ok {
		delete(e.failures, op)
		return err
	}
	return nil
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

func (e *Engine) conv(key types.ConversationKey) *conv {
	c, ok := e.convs[key]
	if !ok {
		c = &conv{}
		e.convs[key] = c
	}
	return c
}

func (e *Engine) ensureKeyLocked(account types.AccountKey) (types.Fingerprint, []types.EngineEvent) {
	if fp, ok := e.keys[account]; ok {
		return fp, nil
	}
	return e.generateLocked(account)
}

func (e *Engine) generateLocked(account types.AccountKey) (types.Fingerprint, []types.EngineEvent) {
	key := types.ConversationKey{Account: account.Account, Protocol: account.Protocol}
	e.gens[account]++
	sum := sha1.Sum([]byte(fmt.Sprintf("%s/%s/%d", account.Account, account.Protocol, e.gens[account])))
	fp := types.Fingerprint(hex.EncodeToString(sum[:]))
	e.keys[account] = fp
	return fp, []types.EngineEvent{
		{Type: types.EngineEventKeyGenStarted, Key: key},
		{Type: types.EngineEventKeyGenFinished, Key: key, LocalFingerprint: fp},
	}
}

func encode(typ byte, payload []byte) string {
	msg := append([]byte{0, 2, typ}, payload...)
	return classify.DataPrefix + base64.StdEncoding.EncodeToString(msg) + "."
}

func encodeData(plaintext string, tlvs []types.TLV) (string, error) {
	block, err := tlv.Encode(tlvs...)
	if err != nil {
		return "", err
	}
	payload := append([]byte(plaintext), 0)
	return encode(wireData, append(payload, block...)), nil
}

func stateEvent(key types.ConversationKey, ms types.MessageState) types.EngineEvent {
	return types.EngineEvent{Type: types.EngineEventMessageState, Key: key, MessageState: ms}
}

func smpEvent(key types.ConversationKey, ev types.SMPEvent, progress int, question string) types.EngineEvent {
	return types.EngineEvent{Type: types.EngineEventSMP, Key: key, SMPEvent: ev, Progress: progress, Question: question}
}

func (e *Engine) SetObserver(obs domain.EngineObserver) {
	e.mu.Lock()
	e.obs = obs
	e.mu.Unlock()
}

func (e *Engine) StartSession(key types.ConversationKey) (string, error) {
	e.mu.Lock()
	if err := e.enter("StartSession"); err != nil {
		e.mu.Unlock()
		return "", err
	}
	_, evs := e.ensureKeyLocked(key.AccountKey())
	e.mu.Unlock()
	e.emit(evs)
	return classify.Query, nil
}

func (e *Engine) EndSession(key types.ConversationKey) ([]string, error) {
	e.mu.Lock()
	if err := e.enter("EndSession"); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	c := e.conv(key)
	prev := c.state
	c.state = types.MessageStatePlaintext
	c.smp = nil
	obs := e.obs
	e.mu.Unlock()

	if prev == types.MessageStatePlaintext {
		return nil, nil
	}
	var out []string
	if prev == types.MessageStateEncrypted && obs != nil && obs.IsLoggedIn(key) {
		msg, err := encodeData("", []types.TLV{{Type: types.TLVTypeDisconnected}})
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	e.emit([]types.EngineEvent{stateEvent(key, types.MessageStatePlaintext)})
	return out, nil
}

func (e *Engine) ForceFinished(key types.ConversationKey) error {
	e.mu.Lock()
	if err := e.enter("ForceFinished"); err != nil {
		e.mu.Unlock()
		return err
	}
	c := e.conv(key)
	if c.state != types.MessageStateEncrypted {
		e.mu.Unlock()
		return nil
	}
	c.state = types.MessageStateFinished
	e.mu.Unlock()
	e.emit([]types.EngineEvent{stateEvent(key, types.MessageStateFinished)})
	return nil
}

func (e *Engine) Encrypt(key types.ConversationKey, plaintext string, tlvs []types.TLV) (types.EncryptResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("Encrypt"); err != nil {
		return types.EncryptResult{}, err
	}
	switch e.conv(key).state {
	case types.MessageStateEncrypted:
		msg, err := encodeData(plaintext, tlvs)
		if err != nil {
			return types.EncryptResult{}, err
		}
		return types.EncryptResult{Message: msg, Encrypted: true}, nil
	case types.MessageStateFinished:
		return types.EncryptResult{}, domain.ErrConnectionEnded
	}
	return types.EncryptResult{Message: plaintext}, nil
}

func (e *Engine) Decrypt(key types.ConversationKey, wire string) (types.DecryptResult, error) {
	e.mu.Lock()
	if err := e.enter("Decrypt"); err != nil {
		e.mu.Unlock()
		return types.DecryptResult{}, err
	}
	res, evs, err := e.decryptLocked(key, wire)
	e.mu.Unlock()
	e.emit(evs)
	return res, err
}

func (e *Engine) decryptLocked(key types.ConversationKey, wire string) (types.DecryptResult, []types.EngineEvent, error) {
	if classify.IsQuery(wire) && !strings.HasPrefix(wire, classify.DataPrefix) {
		fp, evs := e.ensureKeyLocked(key.AccountKey())
		return types.DecryptResult{Replies: []string{encode(wireDHCommit, []byte(fp))}}, evs, nil
	}
	if !strings.HasPrefix(wire, classify.DataPrefix) || !strings.HasSuffix(wire, ".") {
		return types.DecryptResult{Plaintext: wire}, nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(wire[len(classify.DataPrefix) : len(wire)-1])
	if err != nil {
		return types.DecryptResult{}, nil, fmt.Errorf("%w: bad base64", domain.ErrMalformed)
	}
	if len(raw) < 3 || raw[0] != 0 || raw[1] != 2 {
		return types.DecryptResult{}, nil, fmt.Errorf("%w: bad header", domain.ErrMalformed)
	}
	body := raw[3:]
	c := e.conv(key)
	switch raw[2] {
	case wireDHCommit:
		mine, evs := e.ensureKeyLocked(key.AccountKey())
		evs = append(evs, e.secureLocked(key, c, types.Fingerprint(body), mine)...)
		return types.DecryptResult{Replies: []string{encode(wireDHKey, []byte(mine))}}, evs, nil
	case wireDHKey:
		mine, evs := e.ensureKeyLocked(key.AccountKey())
		evs = append(evs, e.secureLocked(key, c, types.Fingerprint(body), mine)...)
		return types.DecryptResult{}, evs, nil
	case wireData:
		if c.state != types.MessageStateEncrypted {
			return types.DecryptResult{}, nil, domain.ErrNotInPrivate
		}
		return e.dataLocked(key, c, body)
	}
	return types.DecryptResult{}, nil, fmt.Errorf("%w: type %d", domain.ErrUnrecognized, raw[2])
}

func (e *Engine) secureLocked(key types.ConversationKey, c *conv, peer, mine types.Fingerprint) []types.EngineEvent {
	c.peerFP = peer
	evs := []types.EngineEvent{{
		Type:             types.EngineEventNewFingerprint,
		Key:              key,
		Fingerprint:      peer,
		LocalFingerprint: mine,
	}}
	if c.state != types.MessageStateEncrypted {
		c.state = types.MessageStateEncrypted
		evs = append(evs, stateEvent(key, types.MessageStateEncrypted))
	}
	return evs
}

func (e *Engine) dataLocked(key types.ConversationKey, c *conv, body []byte) (types.DecryptResult, []types.EngineEvent, error) {
	nul := bytes.IndexByte(body, 0)
	if nul < 0 {
		return types.DecryptResult{}, nil, fmt.Errorf("%w: no terminator", domain.ErrUnreadable)
	}
	res := types.DecryptResult{Plaintext: string(body[:nul]), Encrypted: true}
	tlvs, _ := tlv.DecodeAll(body[nul+1:])

	var evs []types.EngineEvent
	for _, t := range tlvs {
		switch t.Type {
		case types.TLVTypeDisconnected:
			c.state = types.MessageStateFinished
			c.smp = nil
			evs = append(evs, stateEvent(key, types.MessageStateFinished))
			res.TLVs = append(res.TLVs, t)
		case types.TLVTypeSMP1, types.TLVTypeSMP1Question:
			q := ""
			hash := t.Payload
			if t.Type == types.TLVTypeSMP1Question {
				q = tlv.SMPQuestion(t.Payload)
				hash = nil
				if len(q) < len(t.Payload) {
					hash = t.Payload[len(q)+1:]
				}
			}
			c.smp = &smpState{hash: append([]byte(nil), hash...), question: q}
			ev := types.SMPEventAskForSecret
			if t.Type == types.TLVTypeSMP1Question {
				ev = types.SMPEventAskForAnswer
			}
			evs = append(evs, smpEvent(key, ev, 25, q))
		case types.TLVTypeSMP2:
			if c.smp == nil || !c.smp.initiator {
				continue
			}
			c.smp = nil
			evs = append(evs, smpEvent(key, types.SMPEventInProgress, 75, ""))
			if len(t.Payload) == 1 && t.Payload[0] == 1 {
				evs = append(evs, smpEvent(key, types.SMPEventSuccess, 100, ""))
			} else {
				evs = append(evs, smpEvent(key, types.SMPEventFailure, 100, ""))
			}
		case types.TLVTypeSMPAbort:
			c.smp = nil
			evs = append(evs, smpEvent(key, types.SMPEventAbort, 0, ""))
		case types.TLVTypeSymmetricKey:
			if len(t.Payload) < 4 {
				continue
			}
			evs = append(evs, types.EngineEvent{
				Type:         types.EngineEventSymmetricKey,
				Key:          key,
				SymmetricKey: e.symmetricKeyLocked(key, c),
				KeyUse:       binary.BigEndian.Uint32(t.Payload),
				KeyUseData:   append([]byte(nil), t.Payload[4:]...),
			})
		case types.TLVTypePadding, types.TLVTypeSMP3, types.TLVTypeSMP4:
		default:
			res.TLVs = append(res.TLVs, t)
		}
	}
	return res, evs, nil
}

func (e *Engine) symmetricKeyLocked(key types.ConversationKey, c *conv) []byte {
	a := string(e.keys[key.AccountKey()])
	b := string(c.peerFP)
	if a > b {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + b))
	return sum[:]
}

func (e *Engine) MessageState(key types.ConversationKey) types.MessageState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.convs[key]; ok {
		return c.state
	}
	return types.MessageStatePlaintext
}

func (e *Engine) Fingerprint(key types.ConversationKey) (types.Fingerprint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.convs[key]
	if !ok || c.peerFP == "" {
		return "", false
	}
	return c.peerFP, true
}

func (e *Engine) LocalFingerprint(account types.AccountKey) (types.Fingerprint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fp, ok := e.keys[account]
	return fp, ok
}

func (e *Engine) GenerateKey(account types.AccountKey) error {
	e.mu.Lock()
	if err := e.enter("GenerateKey"); err != nil {
		e.mu.Unlock()
		return err
	}
	_, evs := e.generateLocked(account)
	e.mu.Unlock()
	e.emit(evs)
	return nil
}

func secretHash(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:]
}

func (e *Engine) SMPInitiate(key types.ConversationKey, question string, secret []byte) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("SMPInitiate"); err != nil {
		return nil, err
	}
	c := e.conv(key)
	if c.state != types.MessageStateEncrypted {
		return nil, domain.ErrNotEncrypted
	}
	hash := secretHash(secret)
	c.smp = &smpState{initiator: true, hash: hash, question: question}
	t := types.TLV{Type: types.TLVTypeSMP1, Payload: hash}
	if question != "" {
		t = types.TLV{Type: types.TLVTypeSMP1Question, Payload: append([]byte(question+"\x00"), hash...)}
	}
	msg, err := encodeData("", []types.TLV{t})
	if err != nil {
		return nil, err
	}
	return []string{msg}, nil
}

func (e *Engine) SMPRespond(key types.ConversationKey, secret []byte) ([]string, error) {
	e.mu.Lock()
	if err := e.enter("SMPRespond"); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	c := e.conv(key)
	if c.smp == nil || c.smp.initiator {
		e.mu.Unlock()
		return nil, domain.ErrNoSMPRequest
	}
	ok := bytes.Equal(c.smp.hash, secretHash(secret))
	c.smp = nil
	result := byte(0)
	outcome := types.SMPEventFailure
	if ok {
		result = 1
		outcome = types.SMPEventSuccess
	}
	msg, err := encodeData("", []types.TLV{{Type: types.TLVTypeSMP2, Payload: []byte{result}}})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.emit([]types.EngineEvent{
		smpEvent(key, types.SMPEventInProgress, 50, ""),
		smpEvent(key, outcome, 100, ""),
	})
	return []string{msg}, nil
}

func (e *Engine) SMPAbort(key types.ConversationKey) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("SMPAbort"); err != nil {
		return nil, err
	}
	c := e.conv(key)
	c.smp = nil
	if c.state != types.MessageStateEncrypted {
		return nil, nil
	}
	msg, err := encodeData("", []types.TLV{{Type: types.TLVTypeSMPAbort}})
	if err != nil {
		return nil, err
	}
	return []string{msg}, nil
}

func (e *Engine) RequestSymmetricKey(key types.ConversationKey, use uint32, useData []byte) ([]byte, []string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("RequestSymmetricKey"); err != nil {
		return nil, nil, err
	}
	c := e.conv(key)
	if c.state != types.MessageStateEncrypted {
		return nil, nil, domain.ErrNotEncrypted
	}
	payload := binary.BigEndian.AppendUint32(nil, use)
	msg, err := encodeData("", []types.TLV{{Type: types.TLVTypeSymmetricKey, Payload: append(payload, useData...)}})
	if err != nil {
		return nil, nil, err
	}
	return e.symmetricKeyLocked(key, c), []string{msg}, nil
}
