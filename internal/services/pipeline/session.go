package pipeline

import (
	"context"

	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
)

// InitiateEncryption asks the peer to start OTR.
func (s *Service) InitiateEncryption(ctx context.Context, key types.ConversationKey, mode types.Mode) error {
	return s.run(ctx, key, mode, func(context.Context) error {
		return s.startSession(key, nil)
	})
}

// DisableEncryption ends the private conversation. The engine tells the peer
// only if the host reports them logged in.
func (s *Service) DisableEncryption(ctx context.Context, key types.ConversationKey, mode types.Mode) error {
	return s.run(ctx, key, mode, func(context.Context) error {
		msgs, err := s.engine.EndSession(key)
		if err != nil {
			return domain.NewError(domain.KindEngine, "disable encryption", key, err)
		}
		for _, m := range msgs {
			s.inject(key, m, nil)
		}
		return nil
	})
}

// ForceFinished drops the session keys without telling the peer. It runs
// synchronously.
func (s *Service) ForceFinished(ctx context.Context, key types.ConversationKey) error {
	return s.run(ctx, key, types.ModeSync, func(context.Context) error {
		if err := s.engine.ForceFinished(key); err != nil {
			return domain.NewError(domain.KindEngine, "force finished", key, err)
		}
		return nil
	})
}

// SMPInitiate runs the engine's first SMP step and sends it.
func (s *Service) SMPInitiate(ctx context.Context, key types.ConversationKey, question string, secret []byte) error {
	return s.run(ctx, key, types.ModeSync, func(context.Context) error {
		msgs, err := s.engine.SMPInitiate(key, question, secret)
		if err != nil {
			return domain.NewError(domain.KindEngine, "smp initiate", key, err)
		}
		for _, m := range msgs {
			s.inject(key, m, nil)
		}
		return nil
	})
}

// SMPRespond answers the peer's SMP request with secret.
func (s *Service) SMPRespond(ctx context.Context, key types.ConversationKey, secret []byte) error {
	return s.run(ctx, key, types.ModeSync, func(context.Context) error {
		msgs, err := s.engine.SMPRespond(key, secret)
		if err != nil {
			return domain.NewError(domain.KindEngine, "smp respond", key, err)
		}
		for _, m := range msgs {
			s.inject(key, m, nil)
		}
		return nil
	})
}

// SMPAbort queues an abort of the engine's SMP state. Failures are logged.
func (s *Service) SMPAbort(key types.ConversationKey) {
	s.submit(key, func(context.Context) error {
		msgs, err := s.engine.SMPAbort(key)
		if err != nil {
			s.log.Warningf("%v: smp abort: %v", key, err)
			return nil
		}
		for _, m := range msgs {
			s.inject(key, m, nil)
		}
		return nil
	})
}

// RequestSymmetricKey derives the session's extra symmetric key and tells
// the peer what it will be used for.
func (s *Service) RequestSymmetricKey(
	ctx context.Context,
	key types.ConversationKey,
	use uint32,
	useData []byte,
) ([]byte, error) {
	var out []byte
	err := s.run(ctx, key, types.ModeSync, func(context.Context) error {
		if s.engine.MessageState(key) != types.MessageStateEncrypted {
			return domain.NewError(domain.KindProtocolConflict, "symmetric key", key, domain.ErrNotEncrypted)
		}
		k, msgs, err := s.engine.RequestSymmetricKey(key, use, useData)
		if err != nil {
			return domain.NewError(domain.KindEngine, "symmetric key", key, err)
		}
		for _, m := range msgs {
			s.inject(key, m, nil)
		}
		out = k
		return nil
	})
	return out, err
}
