package pipeline_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"otrkit/internal/domain/types"
	"otrkit/internal/engine"
	"otrkit/internal/engine/enginetest"
	"otrkit/internal/events"
	"otrkit/internal/log"
	"otrkit/internal/services/pipeline"
	"otrkit/internal/services/registry"
)

var (
	aliceKey = types.ConversationKey{Account: "alice@example.org", Username: "bob@example.org", Protocol: "xmpp"}
	bobKey   = types.ConversationKey{Account: "bob@example.org", Username: "alice@example.org", Protocol: "xmpp"}
)

type party struct {
	key    types.ConversationKey
	fake   *enginetest.Engine
	reg    *registry.Service
	bridge *events.Bridge
	pipe   *pipeline.Service

	mu       sync.Mutex
	got      []events.Notification
	injected []string
}

func newParty(t *testing.T, key types.ConversationKey, cfg pipeline.Config) *party {
	t.Helper()
	backend := log.Discard()
	p := &party{key: key, fake: enginetest.New()}
	p.reg = registry.New(backend.GetLogger("registry"), nil)
	p.bridge = events.New(backend.GetLogger("events"), p.record, nil, nil)
	p.pipe = pipeline.New(backend.GetLogger("pipeline"), engine.Serialize(p.fake), p.reg, p.bridge, nil, cfg)
	p.pipe.SetHooks(pipeline.Hooks{
		Fingerprint: func(types.ConversationKey, types.Fingerprint) bool { return true },
	})
	t.Cleanup(func() {
		p.pipe.Close()
		p.bridge.Close()
	})
	return p
}

func (p *party) record(n events.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, n)
	if n.Kind == events.KindInjectMessage {
		p.injected = append(p.injected, n.Message)
	}
}

// settle waits for queued work and delivered notifications.
func (p *party) settle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return p.pipe.Idle(p.key) }, waitFor, tick)
	p.bridge.Flush()
}

func (p *party) takeInjected() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.injected
	p.injected = nil
	return out
}

func (p *party) notifications(kind events.Kind) []events.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Notification
	for _, n := range p.got {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// exchange delivers injected messages back and forth until both sides are
// quiet.
func exchange(t *testing.T, a, b *party) {
	t.Helper()
	for i := 0; i < 20; i++ {
		a.settle(t)
		b.settle(t)
		fromA, fromB := a.takeInjected(), b.takeInjected()
		if len(fromA) == 0 && len(fromB) == 0 {
			return
		}
		for _, m := range fromA {
			require.NoError(t, b.pipe.Decode(context.Background(), b.key, m, types.ModeSync, nil))
		}
		for _, m := range fromB {
			require.NoError(t, a.pipe.Decode(context.Background(), a.key, m, types.ModeSync, nil))
		}
	}
	t.Fatal("exchange did not settle")
}

func connected(t *testing.T, cfg pipeline.Config) (*party, *party) {
	t.Helper()
	alice := newParty(t, aliceKey, cfg)
	bob := newParty(t, bobKey, cfg)
	require.NoError(t, alice.pipe.InitiateEncryption(context.Background(), aliceKey, types.ModeSync))
	exchange(t, alice, bob)
	require.Equal(t, types.MessageStateEncrypted, alice.reg.MessageState(aliceKey))
	require.Equal(t, types.MessageStateEncrypted, bob.reg.MessageState(bobKey))
	return alice, bob
}
