// Package engine holds helpers shared by engine implementations.
package engine

import (
	"sync"

	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
)

// processLock guards every engine in the process. OTR engines keep global
// state and are not reentrant.
var processLock sync.Mutex

type serialized struct {
	e domain.Engine
}

// Serialize wraps e so that no two calls into any serialized engine in the
// process overlap. Observers must not call back into the engine.
func Serialize(e domain.Engine) domain.Engine {
	if s, ok := e.(*serialized); ok {
		return s
	}
	return &serialized{e: e}
}

var _ domain.Engine = (*serialized)(nil)

func (s *serialized) SetObserver(obs domain.EngineObserver) {
	processLock.Lock()
	defer processLock.Unlock()
	s.e.SetObserver(obs)
}

func (s *serialized) StartSession(key types.ConversationKey) (string, error) {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.StartSession(key)
}

func (s *serialized) EndSession(key types.ConversationKey) ([]string, error) {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.EndSession(key)
}

func (s *serialized) ForceFinished(key types.ConversationKey) error {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.ForceFinished(key)
}

func (s *serialized) Encrypt(key types.ConversationKey, plaintext string, tlvs []types.TLV) (types.EncryptResult, error) {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.Encrypt(key, plaintext, tlvs)
}

func (s *serialized) Decrypt(key types.ConversationKey, wire string) (types.DecryptResult, error) {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.Decrypt(key, wire)
}

func (s *serialized) MessageState(key types.ConversationKey) types.MessageState {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.MessageState(key)
}

func (s *serialized) Fingerprint(key types.ConversationKey) (types.Fingerprint, bool) {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.Fingerprint(key)
}

func (s *serialized) LocalFingerprint(account types.AccountKey) (types.Fingerprint, bool) {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.LocalFingerprint(account)
}

func (s *serialized) GenerateKey(account types.AccountKey) error {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.GenerateKey(account)
}

func (s *serialized) SMPInitiate(key types.ConversationKey, question string, secret []byte) ([]string, error) {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.SMPInitiate(key, question, secret)
}

func (s *serialized) SMPRespond(key types.ConversationKey, secret []byte) ([]string, error) {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.SMPRespond(key, secret)
}

func (s *serialized) SMPAbort(key types.ConversationKey) ([]string, error) {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.SMPAbort(key)
}

func (s *serialized) RequestSymmetricKey(key types.ConversationKey, use uint32, useData []byte) ([]byte, []string, error) {
	processLock.Lock()
	defer processLock.Unlock()
	return s.e.RequestSymmetricKey(key, use, useData)
}
