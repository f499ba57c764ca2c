package smp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
	"otrkit/internal/events"
	"otrkit/internal/instrument"
	"otrkit/internal/services/registry"
)

// Driver runs the engine side of each step.
type Driver interface {
	SMPInitiate(ctx context.Context, key types.ConversationKey, question string, secret []byte) error
	SMPRespond(ctx context.Context, key types.ConversationKey, secret []byte) error
	SMPAbort(key types.ConversationKey)
}

// Service is the SMP state machine.
type Service struct {
	log     *logging.Logger
	reg     *registry.Service
	driver  Driver
	bridge  *events.Bridge
	metrics domain.Metrics
	timeout time.Duration

	ids atomic.Uint64

	mu     sync.Mutex
	timers map[uint64]*time.Timer
}

// New returns a state machine. A positive timeout cancels requests the peer
// leaves unanswered.
func New(
	log *logging.Logger,
	reg *registry.Service,
	driver Driver,
	bridge *events.Bridge,
	metrics domain.Metrics,
	timeout time.Duration,
) *Service {
	if metrics == nil {
		metrics = instrument.Nop{}
	}
	return &Service{
		log:     log,
		reg:     reg,
		driver:  driver,
		bridge:  bridge,
		metrics: metrics,
		timeout: timeout,
		timers:  make(map[uint64]*time.Timer),
	}
}

func (s *Service) post(key types.ConversationKey, ev types.SMPEvent, sess types.SMPSession, err error) {
	s.bridge.Post(events.Notification{
		Kind:     events.KindSMPEvent,
		Key:      key,
		SMPEvent: ev,
		Progress: sess.Progress,
		Question: sess.Question,
		Err:      err,
	})
}

// Session returns the running negotiation for key.
func (s *Service) Session(key types.ConversationKey) (types.SMPSession, bool) {
	return s.reg.SMP(key)
}

// Initiate starts a negotiation as the initiator. secret is the shared
// secret or the expected answer to question.
func (s *Service) Initiate(
	ctx context.Context,
	key types.ConversationKey,
	method types.SMPMethod,
	secret []byte,
	question string,
) error {
	if method == types.SMPMethodFingerprint {
		return domain.NewError(domain.KindValidation, "smp initiate", key, domain.ErrManualMethod)
	}
	if method == types.SMPMethodQuestionAndAnswer && question == "" {
		return domain.NewError(domain.KindValidation, "smp initiate", key, domain.ErrMissingQuestion)
	}
	if method != types.SMPMethodQuestionAndAnswer {
		question = ""
	}
	if s.reg.MessageState(key) != types.MessageStateEncrypted {
		return domain.NewError(domain.KindProtocolConflict, "smp initiate", key, domain.ErrNotEncrypted)
	}

	id := s.ids.Add(1)
	sess := types.SMPSession{
		ID:       id,
		Role:     types.SMPRoleInitiator,
		Method:   method,
		State:    types.SMPStateRequested,
		Question: question,
	}
	if err := s.reg.BeginSMP(key, sess); err != nil {
		return err
	}

	if err := s.driver.SMPInitiate(ctx, key, question, secret); err != nil {
		s.endIf(key, id)
		return err
	}
	updated, ok := s.reg.UpdateSMP(key, func(cur *types.SMPSession) {
		if cur.ID == id && cur.State == types.SMPStateRequested {
			cur.State = types.SMPStateInProgress
			cur.LastEvent = types.SMPEventInProgress
			cur.Progress = maxProgress(cur.Progress, 20)
		}
	})
	if ok && updated.ID == id && updated.State == types.SMPStateInProgress {
		s.post(key, types.SMPEventInProgress, updated, nil)
		s.armTimeout(key, id)
	}
	return nil
}

// Respond answers the peer's request with secret.
func (s *Service) Respond(ctx context.Context, key types.ConversationKey, secret []byte) error {
	var conflict error
	sess, ok := s.reg.UpdateSMP(key, func(cur *types.SMPSession) {
		switch {
		case cur.Role != types.SMPRoleResponder:
			conflict = domain.ErrNotResponder
		case cur.State != types.SMPStateRequested:
			conflict = domain.ErrNoSMPRequest
		default:
			cur.State = types.SMPStateInProgress
			cur.LastEvent = types.SMPEventInProgress
		}
	})
	if !ok {
		conflict = domain.ErrNoSMPRequest
	}
	if conflict != nil {
		return domain.NewError(domain.KindProtocolConflict, "smp respond", key, conflict)
	}
	s.stopTimer(sess.ID)

	if err := s.driver.SMPRespond(ctx, key, secret); err != nil {
		if ended, ok := s.endIf(key, sess.ID); ok {
			s.post(key, types.SMPEventError, ended, err)
		}
		return err
	}
	return nil
}

// Cancel ends the running negotiation at once and aborts it in the engine
// in the background. It is a no-op when nothing is running.
func (s *Service) Cancel(key types.ConversationKey) {
	sess, ok := s.reg.EndSMP(key)
	if !ok {
		return
	}
	s.stopTimer(sess.ID)
	s.log.Debugf("%v: smp %d cancelled in state %v", key, sess.ID, sess.State)
	s.driver.SMPAbort(key)
}

// HandleEngineEvent consumes SMP events from the engine. It is called from
// inside an engine call and never calls the engine.
func (s *Service) HandleEngineEvent(ev types.EngineEvent) {
	switch ev.SMPEvent {
	case types.SMPEventAskForSecret, types.SMPEventAskForAnswer:
		s.remoteRequest(ev)
	case types.SMPEventInProgress:
		sess, ok := s.reg.UpdateSMP(ev.Key, func(cur *types.SMPSession) {
			cur.State = types.SMPStateInProgress
			cur.LastEvent = ev.SMPEvent
			cur.Progress = maxProgress(cur.Progress, ev.Progress)
		})
		if !ok {
			s.log.Debugf("%v: smp progress without a session", ev.Key)
			return
		}
		s.post(ev.Key, ev.SMPEvent, sess, nil)
	case types.SMPEventNone:
	default:
		s.finish(ev)
	}
}

func (s *Service) remoteRequest(ev types.EngineEvent) {
	method := types.SMPMethodSharedSecret
	if ev.SMPEvent == types.SMPEventAskForAnswer {
		method = types.SMPMethodQuestionAndAnswer
	}
	id := s.ids.Add(1)
	sess := types.SMPSession{
		ID:        id,
		Role:      types.SMPRoleResponder,
		Method:    method,
		State:     types.SMPStateRequested,
		LastEvent: ev.SMPEvent,
		Progress:  ev.Progress,
		Question:  ev.Question,
	}
	if err := s.reg.BeginSMP(ev.Key, sess); err != nil {
		cur, _ := s.reg.SMP(ev.Key)
		s.log.Noticef("%v: peer asked for smp while %d is %v", ev.Key, cur.ID, cur.State)
		s.post(ev.Key, types.SMPEventError, cur,
			domain.NewError(domain.KindProtocolConflict, "smp request", ev.Key, domain.ErrSMPRequestExists))
		return
	}
	s.post(ev.Key, ev.SMPEvent, sess, nil)
	s.armTimeout(ev.Key, id)
}

func (s *Service) finish(ev types.EngineEvent) {
	sess, ok := s.reg.EndSMP(ev.Key)
	if !ok {
		s.log.Debugf("%v: smp %v without a session", ev.Key, ev.SMPEvent)
		return
	}
	s.stopTimer(sess.ID)
	sess.State = types.StateForEvent(ev.SMPEvent)
	sess.LastEvent = ev.SMPEvent
	if ev.SMPEvent == types.SMPEventSuccess || ev.SMPEvent == types.SMPEventFailure {
		sess.Progress = 100
	}
	err := ev.Err
	if err != nil {
		err = domain.NewError(domain.KindEngine, "smp", ev.Key, err)
	}
	s.log.Infof("%v: smp %d ended: %v", ev.Key, sess.ID, ev.SMPEvent)
	s.metrics.SMPOutcome(ev.SMPEvent)
	s.post(ev.Key, ev.SMPEvent, sess, err)
}

// endIf clears the session only if it is still the one identified by id.
func (s *Service) endIf(key types.ConversationKey, id uint64) (types.SMPSession, bool) {
	sess, ok := s.reg.EndSMPIf(key, func(cur types.SMPSession) bool { return cur.ID == id })
	if ok {
		s.stopTimer(id)
	}
	return sess, ok
}

func (s *Service) armTimeout(key types.ConversationKey, id uint64) {
	if s.timeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[id] = time.AfterFunc(s.timeout, func() { s.expire(key, id) })
}

func (s *Service) stopTimer(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) expire(key types.ConversationKey, id uint64) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	sess, ok := s.endIf(key, id)
	if !ok {
		return
	}
	s.log.Noticef("%v: smp %d timed out", key, id)
	s.driver.SMPAbort(key)
	sess.State = types.SMPStateAborted
	sess.LastEvent = types.SMPEventAbort
	s.post(key, types.SMPEventAbort, sess, domain.NewError(domain.KindProtocolConflict, "smp", key, domain.ErrSMPTimeout))
}

// Close stops pending timeouts.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func maxProgress(a, b int) int {
	if b > a {
		return b
	}
	return a
}
