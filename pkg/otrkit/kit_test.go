package otrkit_test

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"otrkit/internal/crypto"
	"otrkit/internal/engine/enginetest"
	"otrkit/pkg/otrkit"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	ctx      = context.Background()
	aliceKey = otrkit.ConversationKey{Account: "alice@example.org", Username: "bob@example.org", Protocol: "xmpp"}
	bobKey   = otrkit.ConversationKey{Account: "bob@example.org", Username: "alice@example.org", Protocol: "xmpp"}
)

type smpCall struct {
	event    otrkit.SMPEvent
	progress int
	question string
	err      error
}

// host is a chat client wired to its peer: injected messages are decoded
// by the other side asynchronously, as a transport would.
type host struct {
	key  otrkit.ConversationKey
	kit  *otrkit.Kit
	peer *host
	drop func(string) bool

	mu        sync.Mutex
	decoded   []string
	states    []otrkit.MessageState
	smp       []smpCall
	confirms  []otrkit.Fingerprint
	verified  []bool
	msgEvents []otrkit.MessageEvent
	lists     int
	keygens   []string
	symKeys   [][]byte
	encoded   []error
}

func (h *host) InjectMessage(_ otrkit.ConversationKey, message string, _ any) {
	if h.drop != nil && h.drop(message) {
		return
	}
	if h.peer != nil && h.peer.kit != nil {
		_ = h.peer.kit.DecodeMessage(ctx, h.peer.key, message, otrkit.ModeAsync, nil)
	}
}

func (h *host) EncodedMessage(_ otrkit.ConversationKey, _ string, _ bool, _ any, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.encoded = append(h.encoded, err)
}

func (h *host) DecodedMessage(_ otrkit.ConversationKey, plaintext string, _ bool, _ []otrkit.TLV, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decoded = append(h.decoded, plaintext)
}

func (h *host) UpdateMessageState(_ otrkit.ConversationKey, state otrkit.MessageState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, state)
}

func (h *host) IsLoggedIn(otrkit.ConversationKey) bool { return true }

func (h *host) ShowFingerprintConfirmation(_ otrkit.ConversationKey, theirs, _ otrkit.Fingerprint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.confirms = append(h.confirms, theirs)
}

func (h *host) FingerprintVerifiedStateChanged(_ otrkit.ConversationKey, verified bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.verified = append(h.verified, verified)
}

func (h *host) HandleSMPEvent(_ otrkit.ConversationKey, ev otrkit.SMPEvent, progress int, question string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.smp = append(h.smp, smpCall{event: ev, progress: progress, question: question, err: err})
}

func (h *host) HandleMessageEvent(_ otrkit.ConversationKey, ev otrkit.MessageEvent, _ string, _ any, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgEvents = append(h.msgEvents, ev)
}

func (h *host) ReceivedSymmetricKey(_ otrkit.ConversationKey, key []byte, _ uint32, _ []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.symKeys = append(h.symKeys, key)
}

func (h *host) FingerprintListChanged() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lists++
}

func (h *host) WillStartGeneratingKey(a otrkit.AccountKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.keygens = append(h.keygens, "start "+a.Account)
}

func (h *host) DidFinishGeneratingKey(a otrkit.AccountKey, _ otrkit.Fingerprint, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.keygens = append(h.keygens, "failed "+a.Account)
		return
	}
	h.keygens = append(h.keygens, "done "+a.Account)
}

func (h *host) snapshot(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn()
}

func (h *host) lastSMP() smpCall {
	var c smpCall
	h.snapshot(func() {
		if len(h.smp) > 0 {
			c = h.smp[len(h.smp)-1]
		}
	})
	return c
}

func newKit(t *testing.T, h *host, opts otrkit.Options) {
	t.Helper()
	opts.Delegate = h
	if opts.Engine == nil {
		opts.Engine = enginetest.New()
	}
	if opts.Policy == otrkit.PolicyDefault {
		opts.Policy = otrkit.PolicyManual
	}
	kit, err := otrkit.New(opts)
	require.NoError(t, err)
	h.kit = kit
	t.Cleanup(kit.Close)
}

func pair(t *testing.T, opts otrkit.Options) (*host, *host) {
	t.Helper()
	alice, bob := &host{key: aliceKey}, &host{key: bobKey}
	alice.peer, bob.peer = bob, alice
	newKit(t, alice, opts)
	newKit(t, bob, opts)
	return alice, bob
}

func encrypted(t *testing.T, alice, bob *host) {
	t.Helper()
	require.NoError(t, alice.kit.InitiateEncryption(ctx, aliceKey, otrkit.ModeSync))
	require.Eventually(t, func() bool {
		return alice.kit.MessageState(aliceKey) == otrkit.MessageStateEncrypted &&
			bob.kit.MessageState(bobKey) == otrkit.MessageStateEncrypted
	}, waitFor, tick)
}

func TestNewRequiresDelegate(t *testing.T) {
	_, err := otrkit.New(otrkit.Options{})
	require.ErrorIs(t, err, otrkit.ErrNoDelegate)
}

func TestConversationEndToEnd(t *testing.T) {
	alice, bob := pair(t, otrkit.Options{})
	encrypted(t, alice, bob)

	require.NoError(t, alice.kit.EncodeMessage(ctx, aliceKey, "hello bob", nil, otrkit.ModeAsync, nil))
	require.Eventually(t, func() bool {
		var ok bool
		bob.snapshot(func() { ok = len(bob.decoded) == 1 && bob.decoded[0] == "hello bob" })
		return ok
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		var n int
		alice.snapshot(func() { n = len(alice.confirms) })
		return n == 1
	}, waitFor, tick)
	active, ok := alice.kit.ActiveFingerprint(aliceKey)
	require.True(t, ok)
	bobFP, ok := bob.kit.LocalFingerprint(bobKey.AccountKey())
	require.True(t, ok)
	require.Equal(t, bobFP, active.Fingerprint)
	require.False(t, alice.kit.ActiveFingerprintIsVerified(aliceKey))

	require.NoError(t, alice.kit.DisableEncryption(ctx, aliceKey, otrkit.ModeSync))
	require.Equal(t, otrkit.MessageStatePlaintext, alice.kit.MessageState(aliceKey))
	require.Eventually(t, func() bool {
		return bob.kit.MessageState(bobKey) == otrkit.MessageStateFinished
	}, waitFor, tick)
}

func TestFragmentedConversation(t *testing.T) {
	alice, bob := pair(t, otrkit.Options{MaxSizes: map[string]int{"xmpp": 60}})
	encrypted(t, alice, bob)

	long := strings.Repeat("the quick brown fox ", 20)
	require.NoError(t, alice.kit.EncodeMessage(ctx, aliceKey, long, nil, otrkit.ModeSync, nil))
	require.Eventually(t, func() bool {
		var got string
		bob.snapshot(func() {
			if len(bob.decoded) > 0 {
				got = bob.decoded[0]
			}
		})
		return got == long
	}, waitFor, tick)
	require.Equal(t, 60, alice.kit.MaximumSize("xmpp"))
}

func TestSMPLeavesTrustUnchanged(t *testing.T) {
	alice, bob := pair(t, otrkit.Options{})
	encrypted(t, alice, bob)

	require.NoError(t, alice.kit.InitiateSMP(ctx, aliceKey, otrkit.SMPMethodQuestionAndAnswer, []byte("paris"), "capital?"))
	require.Eventually(t, func() bool {
		return bob.lastSMP().event == otrkit.SMPEventAskForAnswer
	}, waitFor, tick)
	require.Equal(t, "capital?", bob.lastSMP().question)
	sess, ok := bob.kit.SMPSession(bobKey)
	require.True(t, ok)
	require.Equal(t, otrkit.SMPMethodQuestionAndAnswer, sess.Method)

	require.NoError(t, bob.kit.RespondToSMP(ctx, bobKey, []byte("paris")))
	require.Eventually(t, func() bool {
		return alice.lastSMP().progress == 100 && bob.lastSMP().progress == 100
	}, waitFor, tick)
	require.Equal(t, otrkit.SMPEventSuccess, alice.lastSMP().event)
	require.Equal(t, otrkit.SMPEventSuccess, bob.lastSMP().event)

	_, ok = alice.kit.SMPSession(aliceKey)
	require.False(t, ok)
	require.False(t, alice.kit.ActiveFingerprintIsVerified(aliceKey))
	require.False(t, bob.kit.ActiveFingerprintIsVerified(bobKey))
}

func TestAbortSMP(t *testing.T) {
	alice, bob := pair(t, otrkit.Options{})
	encrypted(t, alice, bob)
	require.NoError(t, alice.kit.InitiateSMP(ctx, aliceKey, otrkit.SMPMethodSharedSecret, []byte("s"), ""))
	require.Eventually(t, func() bool {
		_, ok := bob.kit.SMPSession(bobKey)
		return ok
	}, waitFor, tick)

	alice.kit.AbortSMP(aliceKey)
	_, ok := alice.kit.SMPSession(aliceKey)
	require.False(t, ok)
	require.Eventually(t, func() bool {
		_, ok := bob.kit.SMPSession(bobKey)
		return !ok
	}, waitFor, tick)
	require.Equal(t, otrkit.SMPEventAbort, bob.lastSMP().event)
}

func TestVerifyAndForgetFingerprint(t *testing.T) {
	alice, bob := pair(t, otrkit.Options{})
	encrypted(t, alice, bob)
	rec, ok := alice.kit.ActiveFingerprint(aliceKey)
	require.True(t, ok)

	require.NoError(t, alice.kit.SetFingerprintVerified(rec, true))
	require.NoError(t, alice.kit.SetFingerprintVerified(rec, true))
	require.True(t, alice.kit.ActiveFingerprintIsVerified(aliceKey))
	require.Eventually(t, func() bool {
		var n int
		alice.snapshot(func() { n = len(alice.verified) })
		return n == 1
	}, waitFor, tick)
	require.Len(t, alice.kit.Fingerprints(), 1)

	var before int
	alice.snapshot(func() { before = len(alice.states) })
	require.NoError(t, alice.kit.DeleteFingerprint(ctx, rec))
	require.Equal(t, otrkit.MessageStateFinished, alice.kit.MessageState(aliceKey))
	require.Empty(t, alice.kit.Fingerprints())
	require.Eventually(t, func() bool {
		var states []otrkit.MessageState
		alice.snapshot(func() { states = append(states, alice.states[before:]...) })
		return len(states) == 1 && states[0] == otrkit.MessageStateFinished
	}, waitFor, tick)

	var lists int
	alice.snapshot(func() { lists = alice.lists })
	require.GreaterOrEqual(t, lists, 1)
}

func TestSymmetricKey(t *testing.T) {
	alice, bob := pair(t, otrkit.Options{})
	encrypted(t, alice, bob)

	key, err := alice.kit.RequestSymmetricKey(ctx, aliceKey, 7, []byte("file.txt"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		var got [][]byte
		bob.snapshot(func() { got = bob.symKeys })
		return len(got) == 1 && string(got[0]) == string(key)
	}, waitFor, tick)
}

func TestGenerateKeyNotifiesObserver(t *testing.T) {
	alice, _ := pair(t, otrkit.Options{})
	account := aliceKey.AccountKey()

	require.NoError(t, alice.kit.GenerateKey(ctx, account, otrkit.ModeSync))
	require.False(t, alice.kit.IsGeneratingKey(account))
	_, ok := alice.kit.LocalFingerprint(account)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		var got []string
		alice.snapshot(func() { got = alice.keygens })
		return len(got) == 2 && got[0] == "start alice@example.org" && got[1] == "done alice@example.org"
	}, waitFor, tick)
}

type filteringHost struct{ *host }

func (f filteringHost) IgnoreMessage(_ otrkit.ConversationKey, msg string, _ otrkit.MessageType) bool {
	return strings.Contains(msg, "spam")
}

func TestMessageFilter(t *testing.T) {
	h := &host{key: aliceKey}
	kit, err := otrkit.New(otrkit.Options{Delegate: filteringHost{h}, Engine: enginetest.New(), Policy: otrkit.PolicyManual})
	require.NoError(t, err)
	defer kit.Close()

	require.NoError(t, kit.DecodeMessage(ctx, aliceKey, "buy spam now", otrkit.ModeSync, nil))
	require.NoError(t, kit.DecodeMessage(ctx, aliceKey, "hello", otrkit.ModeSync, nil))
	require.Eventually(t, func() bool {
		var got []string
		h.snapshot(func() { got = h.decoded })
		return len(got) == 1 && got[0] == "hello"
	}, waitFor, tick)
}

func TestAccountPortions(t *testing.T) {
	h := &host{}
	kit, err := otrkit.New(otrkit.Options{Delegate: h, Engine: enginetest.New()})
	require.NoError(t, err)
	defer kit.Close()

	require.Equal(t, "alice", kit.LeftPortion("alice@example.org"))
	require.Equal(t, "example.org", kit.RightPortion("alice@example.org"))
	require.Equal(t, "alice", kit.LeftPortion("alice"))
	require.Equal(t, "", kit.RightPortion("alice"))

	slash, err := otrkit.New(otrkit.Options{Delegate: h, Engine: enginetest.New(), Separator: "/"})
	require.NoError(t, err)
	defer slash.Close()
	require.Equal(t, "resource", slash.RightPortion("alice/resource"))
}

func TestClassification(t *testing.T) {
	require.Equal(t, "data", otrkit.TypeOfMessage("?OTR:AAIDAAAAAAEAAAABAAAAwA==.").String())
	require.Equal(t, "not-otr", otrkit.TypeOfMessage("hello").String())
	require.True(t, otrkit.StartsWithOTRPrefix("?OTR:abc"))
	require.False(t, otrkit.StartsWithOTRPrefix("hello ?OTR"))

	_, err := otrkit.NewTLV(1, make([]byte, 1<<16))
	require.ErrorIs(t, err, otrkit.ValidationError)
}

type memKeys struct {
	mu   sync.Mutex
	keys map[otrkit.AccountKey][]byte
}

func (m *memKeys) LoadPrivateKey(a otrkit.AccountKey) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[a]
	return append([]byte(nil), k...), ok, nil
}

func (m *memKeys) SavePrivateKey(a otrkit.AccountKey, k []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[a] = append([]byte(nil), k...)
	return nil
}

func keysFor(t *testing.T, account otrkit.AccountKey) *memKeys {
	t.Helper()
	k, err := crypto.GeneratePrivateKey(rand.Reader)
	require.NoError(t, err)
	return &memKeys{keys: map[otrkit.AccountKey][]byte{account: crypto.SerializePrivateKey(k)}}
}

func TestRealEngineConversation(t *testing.T) {
	if testing.Short() {
		t.Skip("generates DSA keys")
	}
	alice, bob := &host{key: aliceKey}, &host{key: bobKey}
	alice.peer, bob.peer = bob, alice
	newKit(t, alice, otrkit.Options{Engine: nil, PrivateKeys: keysFor(t, aliceKey.AccountKey()), Policy: otrkit.PolicyOpportunistic})
	newKit(t, bob, otrkit.Options{Engine: nil, PrivateKeys: keysFor(t, bobKey.AccountKey()), Policy: otrkit.PolicyOpportunistic})

	// An opportunistic first message carries the whitespace tag, which
	// starts the key exchange on the other side.
	require.NoError(t, alice.kit.EncodeMessage(ctx, aliceKey, "hi", nil, otrkit.ModeSync, nil))
	require.Eventually(t, func() bool {
		return alice.kit.MessageState(aliceKey) == otrkit.MessageStateEncrypted &&
			bob.kit.MessageState(bobKey) == otrkit.MessageStateEncrypted
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.kit.EncodeMessage(ctx, bobKey, "secret reply", nil, otrkit.ModeSync, nil))
	require.Eventually(t, func() bool {
		var got []string
		alice.snapshot(func() { got = alice.decoded })
		return len(got) == 1 && got[0] == "secret reply"
	}, waitFor, tick)

	require.NoError(t, bob.kit.InitiateSMP(ctx, bobKey, otrkit.SMPMethodSharedSecret, []byte("shared"), ""))
	require.Eventually(t, func() bool { return alice.lastSMP().event == otrkit.SMPEventAskForSecret }, waitFor, tick)
	require.NoError(t, alice.kit.RespondToSMP(ctx, aliceKey, []byte("shared")))
	require.Eventually(t, func() bool {
		return alice.lastSMP().event == otrkit.SMPEventSuccess && bob.lastSMP().event == otrkit.SMPEventSuccess
	}, 10*time.Second, 10*time.Millisecond)
}

func TestCloseTwice(t *testing.T) {
	kit, err := otrkit.New(otrkit.Options{Delegate: &host{}, Engine: enginetest.New()})
	require.NoError(t, err)
	kit.Close()
	require.NotPanics(t, kit.Close)
}
