package pipeline

import (
	"context"

	"otrkit/internal/classify"
	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
	"otrkit/internal/events"
	"otrkit/internal/tlv"
)

// Encode prepares plaintext and tlvs for the wire. The outcome is reported
// as an encoded-message notification followed by one inject notification
// per fragment. In sync mode the error is also returned. Invalid TLVs are
// rejected before anything is queued.
func (s *Service) Encode(
	ctx context.Context,
	key types.ConversationKey,
	plaintext string,
	tlvs []types.TLV,
	mode types.Mode,
	tag any,
) error {
	if err := tlv.Validate(tlvs); err != nil {
		return domain.NewError(domain.KindValidation, "encode", key, err)
	}
	return s.run(ctx, key, mode, func(context.Context) error {
		return s.encode(key, plaintext, tlvs, tag)
	})
}

func (s *Service) encode(key types.ConversationKey, plaintext string, tlvs []types.TLV, tag any) error {
	policy := s.Policy()
	if !policy.AllowsEncryption() {
		s.send(key, plaintext, false, tag)
		return nil
	}

	switch s.engine.MessageState(key) {
	case types.MessageStateFinished:
		err := domain.NewError(domain.KindProtocolConflict, "encode", key, domain.ErrConnectionEnded)
		s.postMessageEvent(key, types.MessageEventConnectionEnded, plaintext, err, tag)
		s.postEncodeError(key, err, tag)
		return err
	case types.MessageStatePlaintext:
		if policy.RequiresEncryption() {
			return s.hold(key, plaintext, tlvs, tag)
		}
		if policy.SendsWhitespaceTag() && len(tlvs) == 0 {
			switch s.reg.OfferState(key) {
			case types.OfferStateNone, types.OfferStateSent:
				plaintext = classify.AddTag(plaintext)
				s.reg.SetOfferState(key, types.OfferStateSent)
			}
		}
	}

	res, err := s.engine.Encrypt(key, plaintext, tlvs)
	if err != nil {
		e := domain.NewError(domain.KindEngine, "encode", key, err)
		s.postMessageEvent(key, types.MessageEventEncryptionError, plaintext, e, tag)
		s.postEncodeError(key, e, tag)
		return e
	}
	s.send(key, res.Message, res.Encrypted, tag)
	return nil
}

func (s *Service) postEncodeError(key types.ConversationKey, err error, tag any) {
	s.bridge.Post(events.Notification{Kind: events.KindEncodedMessage, Key: key, Err: err, Tag: tag})
}

// hold parks a message until the conversation is encrypted. Held messages
// ask the peer to start OTR until one query has gone out.
func (s *Service) hold(key types.ConversationKey, plaintext string, tlvs []types.TLV, tag any) error {
	s.mu.Lock()
	s.held[key] = append(s.held[key], held{text: plaintext, tlvs: tlvs, tag: tag})
	asked := s.queried[key]
	s.mu.Unlock()

	s.postMessageEvent(key, types.MessageEventEncryptionRequired, plaintext, nil, tag)
	if asked {
		return nil
	}
	query, err := s.engine.StartSession(key)
	if err != nil {
		e := domain.NewError(domain.KindEngine, "encode", key, err)
		s.postMessageEvent(key, types.MessageEventSetupError, "", e, tag)
		return e
	}
	s.mu.Lock()
	s.queried[key] = true
	s.mu.Unlock()
	s.inject(key, query, tag)
	return nil
}

// HeldCount returns how many messages wait for encryption on key.
func (s *Service) HeldCount(key types.ConversationKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held[key])
}

func (s *Service) resendHeld(key types.ConversationKey) error {
	s.mu.Lock()
	msgs := s.held[key]
	delete(s.held, key)
	delete(s.queried, key)
	s.mu.Unlock()

	for i, m := range msgs {
		res, err := s.engine.Encrypt(key, m.text, m.tlvs)
		if err != nil || !res.Encrypted {
			// the session went away again; keep the rest for the next one
			s.mu.Lock()
			s.held[key] = append(msgs[i:], s.held[key]...)
			s.mu.Unlock()
			if err != nil {
				return domain.NewError(domain.KindEngine, "resend", key, err)
			}
			return nil
		}
		s.send(key, res.Message, true, m.tag)
		s.postMessageEvent(key, types.MessageEventMessageResent, m.text, nil, m.tag)
	}
	return nil
}
