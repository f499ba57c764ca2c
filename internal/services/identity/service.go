package identity

import (
	"context"
	"fmt"
	"sync"
	"unicode"

	"github.com/katzenpost/core/worker"
	"gopkg.in/op/go-logging.v1"

	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

// Service runs key generation against the engine.
type Service struct {
	worker.Worker

	log       *logging.Logger
	engine    domain.Engine
	closeOnce sync.Once

	mu        sync.Mutex
	requested map[types.AccountKey]int
	running   map[types.AccountKey]int
}

// New returns an identity service over engine.
func New(log *logging.Logger, engine domain.Engine) *Service {
	return &Service{
		log:       log,
		engine:    engine,
		requested: make(map[types.AccountKey]int),
		running:   make(map[types.AccountKey]int),
	}
}

// GenerateKey creates a new private key for account. In async mode it
// returns at once and the outcome arrives as key generation notifications.
func (s *Service) GenerateKey(ctx context.Context, account types.AccountKey, mode types.Mode) error {
	s.mu.Lock()
	s.requested[account]++
	s.mu.Unlock()

	if mode == types.ModeSync {
		return s.generate(ctx, account)
	}
	s.Go(func() {
		if err := s.generate(ctx, account); err != nil {
			s.log.Warningf("%s/%s: key generation: %v", account.Account, account.Protocol, err)
		}
	})
	return nil
}

func (s *Service) generate(ctx context.Context, account types.AccountKey) error {
	defer func() {
		s.mu.Lock()
		if s.requested[account]--; s.requested[account] <= 0 {
			delete(s.requested, account)
		}
		s.mu.Unlock()
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.engine.GenerateKey(account); err != nil {
		key := types.ConversationKey{Account: account.Account, Protocol: account.Protocol}
		return domain.NewError(domain.KindEngine, "generate key", key, err)
	}
	return nil
}

// HandleKeyGen tracks generations the engine starts on its own, such as the
// first time an account needs a key.
func (s *Service) HandleKeyGen(ev types.EngineEvent) {
	account := ev.Key.AccountKey()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case types.EngineEventKeyGenStarted:
		s.running[account]++
	case types.EngineEventKeyGenFinished:
		if s.running[account]--; s.running[account] <= 0 {
			delete(s.running, account)
		}
	}
}

// IsGeneratingKey reports whether a key for account is being generated.
func (s *Service) IsGeneratingKey(account types.AccountKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested[account] > 0 || s.running[account] > 0
}

// LocalFingerprint returns the fingerprint of account's key, if it has one.
func (s *Service) LocalFingerprint(account types.AccountKey) (types.Fingerprint, bool) {
	return s.engine.LocalFingerprint(account)
}

// Close waits for background generations.
func (s *Service) Close() {
	s.closeOnce.Do(s.Halt)
}

// CheckPassphrase enforces a basic strength policy on the passphrase that
// seals the key file.
func CheckPassphrase(passphrase string) error {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len([]rune(passphrase)) < minPassphraseLength {
		return weak()
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if !(hasUpper && hasLower && hasDigit && hasSymbol) {
		return weak()
	}
	return nil
}

func weak() error {
	return domain.NewError(domain.KindValidation, "passphrase", types.ConversationKey{},
		fmt.Errorf("%w: need at least %d characters with upper, lower, number and symbol",
			domain.ErrWeakPassphrase, minPassphraseLength))
}
