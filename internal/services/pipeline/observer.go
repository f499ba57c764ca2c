package pipeline

import (
	"context"

	"otrkit/internal/domain/types"
	"otrkit/internal/events"
)

// HandleEngineEvent implements domain.EngineObserver. It runs inside an
// engine call, so it never calls the engine itself.
func (s *Service) HandleEngineEvent(ev types.EngineEvent) {
	hooks := s.getHooks()
	switch ev.Type {
	case types.EngineEventMessageState:
		if !s.reg.SetMessageState(ev.Key, ev.MessageState) {
			return
		}
		s.log.Debugf("%v: %v", ev.Key, ev.MessageState)
		s.bridge.Post(events.Notification{
			Kind:         events.KindMessageStateChanged,
			Key:          ev.Key,
			MessageState: ev.MessageState,
		})
		if ev.MessageState == types.MessageStateEncrypted && s.HeldCount(ev.Key) > 0 {
			key := ev.Key
			s.submit(key, func(context.Context) error { return s.resendHeld(key) })
		}

	case types.EngineEventNewFingerprint:
		if hooks.Fingerprint == nil || !hooks.Fingerprint(ev.Key, ev.Fingerprint) {
			return
		}
		s.bridge.Post(events.Notification{
			Kind:             events.KindFingerprintConfirmation,
			Key:              ev.Key,
			TheirFingerprint: ev.Fingerprint,
			OurFingerprint:   ev.LocalFingerprint,
		})

	case types.EngineEventSMP:
		if hooks.SMP != nil {
			hooks.SMP(ev)
			return
		}
		s.bridge.Post(events.Notification{
			Kind:     events.KindSMPEvent,
			Key:      ev.Key,
			SMPEvent: ev.SMPEvent,
			Progress: ev.Progress,
			Question: ev.Question,
			Err:      ev.Err,
		})

	case types.EngineEventMessage:
		s.postMessageEvent(ev.Key, ev.MessageEvent, ev.Message, ev.Err, nil)

	case types.EngineEventSymmetricKey:
		s.bridge.Post(events.Notification{
			Kind:         events.KindSymmetricKey,
			Key:          ev.Key,
			SymmetricKey: ev.SymmetricKey,
			KeyUse:       ev.KeyUse,
			KeyUseData:   ev.KeyUseData,
		})

	case types.EngineEventKeyGenStarted, types.EngineEventKeyGenFinished:
		if hooks.KeyGen != nil {
			hooks.KeyGen(ev)
		}
		kind := events.KindKeyGenStarted
		if ev.Type == types.EngineEventKeyGenFinished {
			kind = events.KindKeyGenFinished
		}
		s.bridge.Post(events.Notification{
			Kind:           kind,
			Account:        ev.Key.AccountKey(),
			OurFingerprint: ev.LocalFingerprint,
			Err:            ev.Err,
		})
	}
}

// IsLoggedIn implements domain.EngineObserver. Without a hook the peer is
// assumed online.
func (s *Service) IsLoggedIn(key types.ConversationKey) bool {
	if h := s.getHooks().LoggedIn; h != nil {
		return h(key)
	}
	return true
}
