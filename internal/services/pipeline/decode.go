package pipeline

import (
	"context"
	"errors"
	"fmt"

	"otrkit/internal/classify"
	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
	"otrkit/internal/events"
	"otrkit/internal/fragment"
	"otrkit/internal/tlv"
)

// Decode processes one message received from the transport. Fragments are
// buffered until their message is complete. Plaintext and TLVs reach the
// host as a decoded-message notification; protocol replies are injected;
// failures become message events. In sync mode the error is also returned.
func (s *Service) Decode(
	ctx context.Context,
	key types.ConversationKey,
	wire string,
	mode types.Mode,
	tag any,
) error {
	return s.run(ctx, key, mode, func(context.Context) error {
		return s.decode(key, wire, tag)
	})
}

func (s *Service) decode(key types.ConversationKey, wire string, tag any) error {
	typ := classify.TypeOf(wire)
	if ignore := s.getHooks().Ignore; ignore != nil && ignore(key, wire, typ) {
		return nil
	}

	policy := s.Policy()
	if !policy.AllowsEncryption() {
		s.postDecoded(key, wire, false, nil, tag)
		return nil
	}

	if fragment.IsFragment(wire) {
		f, err := fragment.Parse(wire)
		if err != nil {
			e := domain.NewError(domain.KindEngine, "decode", key, fmt.Errorf("%w: %v", domain.ErrMalformed, err))
			s.postMessageEvent(key, types.MessageEventReceivedMessageMalformed, wire, e, tag)
			return e
		}
		whole, ok := s.reasm.Add(key, f)
		if !ok {
			return nil
		}
		s.metrics.FragmentsReassembled(key.Protocol)
		wire = whole
		typ = classify.TypeOf(wire)
	}

	switch typ {
	case types.MessageTypeNotOTR:
		return s.receivePlain(key, wire, policy, tag)
	case types.MessageTypeTaggedPlainText:
		return s.receiveTagged(key, wire, policy, tag)
	case types.MessageTypeError:
		return s.receiveError(key, wire, policy, tag)
	}

	if s.reg.OfferState(key) == types.OfferStateSent {
		s.reg.SetOfferState(key, types.OfferStateAccepted)
	}
	res, err := s.engine.Decrypt(key, wire)
	if err != nil {
		return s.decryptFailed(key, wire, err, tag)
	}
	for _, r := range res.Replies {
		s.inject(key, r, tag)
	}
	s.postDecoded(key, res.Plaintext, res.Encrypted, tlv.WithoutPadding(res.TLVs), tag)
	return nil
}

func (s *Service) postDecoded(key types.ConversationKey, plaintext string, encrypted bool, tlvs []types.TLV, tag any) {
	if plaintext == "" && len(tlvs) == 0 {
		return
	}
	s.bridge.Post(events.Notification{
		Kind:      events.KindDecodedMessage,
		Key:       key,
		Message:   plaintext,
		Encrypted: encrypted,
		TLVs:      tlvs,
		Tag:       tag,
	})
	s.metrics.MessageDecoded(key.Protocol, encrypted)
}

func (s *Service) receivePlain(key types.ConversationKey, text string, policy types.Policy, tag any) error {
	if s.reg.OfferState(key) == types.OfferStateSent {
		s.reg.SetOfferState(key, types.OfferStateRejected)
	}
	s.warnUnencrypted(key, text, policy, tag)
	s.postDecoded(key, text, false, nil, tag)
	return nil
}

func (s *Service) receiveTagged(key types.ConversationKey, wire string, policy types.Policy, tag any) error {
	text := classify.StripTag(wire)
	if s.reg.OfferState(key) == types.OfferStateSent {
		s.reg.SetOfferState(key, types.OfferStateAccepted)
	}
	var err error
	if policy.StartsOnTag() && s.engine.MessageState(key) != types.MessageStateEncrypted {
		err = s.startSession(key, tag)
	}
	s.warnUnencrypted(key, text, policy, tag)
	s.postDecoded(key, text, false, nil, tag)
	return err
}

func (s *Service) receiveError(key types.ConversationKey, wire string, policy types.Policy, tag any) error {
	text := classify.ErrorText(wire)
	e := domain.NewError(domain.KindEngine, "decode", key, fmt.Errorf("peer reported: %s", text))
	s.postMessageEvent(key, types.MessageEventReceivedMessageGeneralError, text, e, tag)
	if policy.StartsOnTag() {
		return s.startSession(key, tag)
	}
	return nil
}

func (s *Service) warnUnencrypted(key types.ConversationKey, text string, policy types.Policy, tag any) {
	if policy.RequiresEncryption() || s.engine.MessageState(key) == types.MessageStateEncrypted {
		s.postMessageEvent(key, types.MessageEventReceivedMessageUnencrypted, text, nil, tag)
	}
}

func (s *Service) startSession(key types.ConversationKey, tag any) error {
	query, err := s.engine.StartSession(key)
	if err != nil {
		e := domain.NewError(domain.KindEngine, "start session", key, err)
		s.postMessageEvent(key, types.MessageEventSetupError, "", e, tag)
		return e
	}
	s.inject(key, query, tag)
	return nil
}

// receiveFailures maps engine receive errors onto message events.
var receiveFailures = []struct {
	err  error
	ev   types.MessageEvent
	kind domain.Kind
}{
	{domain.ErrNotInPrivate, types.MessageEventReceivedMessageNotInPrivate, domain.KindEngine},
	{domain.ErrUnreadable, types.MessageEventReceivedMessageUnreadable, domain.KindEngine},
	{domain.ErrMalformed, types.MessageEventReceivedMessageMalformed, domain.KindEngine},
	{domain.ErrUnrecognized, types.MessageEventReceivedMessageUnrecognized, domain.KindEngine},
	{domain.ErrOtherInstance, types.MessageEventReceivedMessageForOtherInstance, domain.KindTransportAssumption},
	{domain.ErrReflected, types.MessageEventMessageReflected, domain.KindTransportAssumption},
}

func (s *Service) decryptFailed(key types.ConversationKey, wire string, err error, tag any) error {
	ev := types.MessageEventReceivedMessageGeneralError
	kind := domain.KindEngine
	for _, f := range receiveFailures {
		if errors.Is(err, f.err) {
			ev, kind = f.ev, f.kind
			break
		}
	}
	e := domain.NewError(kind, "decode", key, err)
	s.log.Debugf("%v: %v", key, err)
	s.postMessageEvent(key, ev, wire, e, tag)
	return e
}
