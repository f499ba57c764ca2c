package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/katzenpost/core/worker"
	"golang.org/x/sync/semaphore"
	"gopkg.in/op/go-logging.v1"

	"otrkit/internal/classify"
	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
	"otrkit/internal/events"
	"otrkit/internal/fragment"
	"otrkit/internal/instrument"
	"otrkit/internal/services/registry"
)

// DefaultWorkers bounds concurrent async operations when Config.Workers is
// zero.
const DefaultWorkers = 4

// Config tunes a pipeline.
type Config struct {
	Policy types.Policy
	// Workers bounds how many conversations run engine work at once.
	Workers int
	// MaxSizes maps a protocol name to its largest transport message.
	MaxSizes map[string]int
	// Retention drops incomplete fragment sets idle for longer. Zero keeps
	// them.
	Retention time.Duration
}

// Hooks connect the pipeline to the services that own the rest of the
// engine's events. Any of them may be nil.
type Hooks struct {
	SMP         func(ev types.EngineEvent)
	Fingerprint func(key types.ConversationKey, fp types.Fingerprint) bool
	KeyGen      func(ev types.EngineEvent)
	LoggedIn    func(key types.ConversationKey) bool
	Ignore      func(key types.ConversationKey, msg string, typ types.MessageType) bool
}

type task func(ctx context.Context) error

type lane struct {
	busy  bool
	queue []task
}

type held struct {
	text string
	tlvs []types.TLV
	tag  any
}

// Service is the message pipeline.
type Service struct {
	worker.Worker

	log     *logging.Logger
	engine  domain.Engine
	reg     *registry.Service
	bridge  *events.Bridge
	metrics domain.Metrics
	reasm   *fragment.Reassembler
	sem     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	policy   types.Policy
	maxSizes map[string]int
	lanes    map[types.ConversationKey]*lane
	held     map[types.ConversationKey][]held
	queried  map[types.ConversationKey]bool
	hooks    Hooks
}

var _ domain.EngineObserver = (*Service)(nil)

// New builds a pipeline and installs it as the engine's observer.
func New(
	log *logging.Logger,
	engine domain.Engine,
	reg *registry.Service,
	bridge *events.Bridge,
	metrics domain.Metrics,
	cfg Config,
) *Service {
	if metrics == nil {
		metrics = instrument.Nop{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		log:      log,
		engine:   engine,
		reg:      reg,
		bridge:   bridge,
		metrics:  metrics,
		reasm:    fragment.NewReassembler(cfg.Retention),
		sem:      semaphore.NewWeighted(int64(workers)),
		ctx:      ctx,
		cancel:   cancel,
		policy:   cfg.Policy,
		maxSizes: make(map[string]int),
		lanes:    make(map[types.ConversationKey]*lane),
		held:     make(map[types.ConversationKey][]held),
		queried:  make(map[types.ConversationKey]bool),
	}
	for proto, n := range cfg.MaxSizes {
		s.maxSizes[proto] = n
	}
	engine.SetObserver(s)
	return s
}

// SetHooks installs the routing hooks.
func (s *Service) SetHooks(h Hooks) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

func (s *Service) getHooks() Hooks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hooks
}

// Policy returns the current policy.
func (s *Service) Policy() types.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetPolicy changes the policy for operations started afterwards.
func (s *Service) SetPolicy(p types.Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

// SetMaximumSize sets the largest message the protocol's transport carries.
// Zero disables fragmentation for it.
func (s *Service) SetMaximumSize(protocol string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		delete(s.maxSizes, protocol)
		return
	}
	s.maxSizes[protocol] = n
}

// MaximumSize returns the limit for protocol, zero when unlimited.
func (s *Service) MaximumSize(protocol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSizes[protocol]
}

// Close stops accepting work, abandons queued async work and waits for
// running operations.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.Halt()
}

func (s *Service) laneLocked(key types.ConversationKey) *lane {
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{}
		s.lanes[key] = l
	}
	return l
}

// run executes t on key's lane.
func (s *Service) run(ctx context.Context, key types.ConversationKey, mode types.Mode, t task) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.NewError(domain.KindValidation, "pipeline", key, domain.ErrClosed)
	}
	l := s.laneLocked(key)

	if mode == types.ModeAsync {
		if l.busy {
			l.queue = append(l.queue, t)
			s.mu.Unlock()
			return nil
		}
		l.busy = true
		// Go must be called under mu, see Close.
		s.Go(func() { s.drain(key, t) })
		s.mu.Unlock()
		return nil
	}

	if !l.busy {
		l.busy = true
		s.mu.Unlock()
		err := t(ctx)
		s.handOff(key)
		return err
	}

	var err error
	done := make(chan struct{})
	l.queue = append(l.queue, func(context.Context) error {
		defer close(done)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			return err
		}
		err = t(ctx)
		return err
	})
	s.mu.Unlock()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.HaltCh():
		return domain.NewError(domain.KindValidation, "pipeline", key, domain.ErrClosed)
	}
}

// handOff passes a lane that finished inline work to a background drainer
// if more work queued up meanwhile.
func (s *Service) handOff(key types.ConversationKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next := s.nextLocked(key); next != nil {
		s.Go(func() { s.drain(key, next) })
	}
}

func (s *Service) next(key types.ConversationKey) task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked(key)
}

func (s *Service) nextLocked(key types.ConversationKey) task {
	l, ok := s.lanes[key]
	if !ok {
		return nil
	}
	if len(l.queue) == 0 || s.closed {
		delete(s.lanes, key)
		return nil
	}
	t := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return t
}

func (s *Service) drain(key types.ConversationKey, t task) {
	for t != nil {
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			s.mu.Lock()
			delete(s.lanes, key)
			s.mu.Unlock()
			return
		}
		if err := t(s.ctx); err != nil {
			s.log.Debugf("%v: %v", key, err)
		}
		s.sem.Release(1)
		t = s.next(key)
	}
}

// submit queues async work from inside the pipeline.
func (s *Service) submit(key types.ConversationKey, t task) {
	if err := s.run(s.ctx, key, types.ModeAsync, t); err != nil {
		s.log.Debugf("%v: dropped: %v", key, err)
	}
}

// Idle reports whether no work is queued or running for key.
func (s *Service) Idle(key types.ConversationKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lanes[key]
	return !ok
}

func (s *Service) send(key types.ConversationKey, wire string, encrypted bool, tag any) {
	frags := s.fragments(key.Protocol, wire)
	s.bridge.Post(events.Notification{
		Kind:      events.KindEncodedMessage,
		Key:       key,
		Message:   wire,
		Encrypted: encrypted,
		Tag:       tag,
	})
	for _, f := range frags {
		s.bridge.Post(events.Notification{Kind: events.KindInjectMessage, Key: key, Message: f, Tag: tag})
	}
	s.metrics.MessageEncoded(key.Protocol, encrypted)
}

// inject sends a protocol message the host did not write.
func (s *Service) inject(key types.ConversationKey, wire string, tag any) {
	for _, f := range s.fragments(key.Protocol, wire) {
		s.bridge.Post(events.Notification{Kind: events.KindInjectMessage, Key: key, Message: f, Tag: tag})
	}
}

func (s *Service) fragments(protocol, wire string) []string {
	if !classify.StartsWithOTRPrefix(wire) {
		return []string{wire}
	}
	frags := fragment.Split(wire, s.MaximumSize(protocol))
	if len(frags) > 1 {
		s.metrics.FragmentsSent(protocol, len(frags))
	}
	return frags
}

func (s *Service) postMessageEvent(key types.ConversationKey, ev types.MessageEvent, msg string, err error, tag any) {
	s.bridge.Post(events.Notification{
		Kind:         events.KindMessageEvent,
		Key:          key,
		MessageEvent: ev,
		Message:      msg,
		Err:          err,
		Tag:          tag,
	})
}
