package trust_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
	"otrkit/internal/engine"
	"otrkit/internal/engine/enginetest"
	"otrkit/internal/events"
	"otrkit/internal/log"
	"otrkit/internal/services/pipeline"
	"otrkit/internal/services/registry"
	"otrkit/internal/services/trust"
)

var key = types.ConversationKey{Account: "alice", Username: "bob", Protocol: "xmpp"}

type memStore struct {
	mu   sync.Mutex
	recs map[string]types.FingerprintRecord
	fail error
}

func newMemStore(recs ...types.FingerprintRecord) *memStore {
	m := &memStore{recs: make(map[string]types.FingerprintRecord)}
	for _, r := range recs {
		m.recs[r.Key().String()+string(r.Fingerprint)] = r
	}
	return m
}

func (m *memStore) LoadFingerprints() ([]types.FingerprintRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.FingerprintRecord, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) SaveFingerprint(r types.FingerprintRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.recs[r.Key().String()+string(r.Fingerprint)] = r
	return nil
}

func (m *memStore) DeleteFingerprint(r types.FingerprintRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	delete(m.recs, r.Key().String()+string(r.Fingerprint))
	return nil
}

type fixture struct {
	store  *memStore
	reg    *registry.Service
	bridge *events.Bridge
	pipe   *pipeline.Service
	trust  *trust.Service

	mu  sync.Mutex
	got []events.Notification
}

func newFixture(t *testing.T, store *memStore) *fixture {
	t.Helper()
	backend := log.Discard()
	f := &fixture{store: store}
	f.reg = registry.New(backend.GetLogger("registry"), nil)
	f.bridge = events.New(backend.GetLogger("events"), f.record, nil, nil)
	f.pipe = pipeline.New(backend.GetLogger("pipeline"), engine.Serialize(enginetest.New()), f.reg, f.bridge, nil,
		pipeline.Config{Policy: types.PolicyManual})

	var err error
	f.trust, err = trust.New(backend.GetLogger("trust"), store, f.reg, f.bridge)
	require.NoError(t, err)
	f.trust.SetFinisher(f.pipe)
	f.pipe.SetHooks(pipeline.Hooks{
		Fingerprint: func(k types.ConversationKey, fp types.Fingerprint) bool {
			isNew, err := f.trust.Observe(k, fp)
			return err == nil && isNew
		},
	})
	t.Cleanup(func() {
		f.pipe.Close()
		f.bridge.Close()
	})
	return f
}

func (f *fixture) record(n events.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
}

func (f *fixture) count(kind events.Kind) int {
	f.bridge.Flush()
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.got {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (f *fixture) reset() {
	f.bridge.Flush()
	f.mu.Lock()
	f.got = nil
	f.mu.Unlock()
}

// commit delivers a DH commit from a peer presenting fp, which brings the
// conversation to Encrypted.
func (f *fixture) commit(t *testing.T, fp string) {
	t.Helper()
	wire := "?OTR:" + base64.StdEncoding.EncodeToString(append([]byte{0, 2, 0x02}, fp...)) + "."
	require.NoError(t, f.pipe.Decode(context.Background(), key, wire, types.ModeSync, nil))
	require.Eventually(t, func() bool { return f.pipe.Idle(key) }, time.Second, 5*time.Millisecond)
}

func TestObserveTracksActive(t *testing.T) {
	f := newFixture(t, newMemStore())

	isNew, err := f.trust.Observe(key, "aaaa")
	require.NoError(t, err)
	require.True(t, isNew)
	active, ok := f.trust.ActiveFor(key)
	require.True(t, ok)
	require.Equal(t, types.Fingerprint("aaaa"), active.Fingerprint)

	isNew, err = f.trust.Observe(key, "bbbb")
	require.NoError(t, err)
	require.True(t, isNew)
	old, ok := f.trust.Lookup(key, "aaaa")
	require.True(t, ok)
	require.False(t, old.Active)

	isNew, err = f.trust.Observe(key, "aaaa")
	require.NoError(t, err)
	require.False(t, isNew)
	active, _ = f.trust.ActiveFor(key)
	require.Equal(t, types.Fingerprint("aaaa"), active.Fingerprint)

	persisted, err := f.store.LoadFingerprints()
	require.NoError(t, err)
	require.Len(t, persisted, 2)
}

func TestListAllOrdered(t *testing.T) {
	store := newMemStore(
		types.FingerprintRecord{Fingerprint: "02", Account: "b", Username: "x", Protocol: "irc"},
		types.FingerprintRecord{Fingerprint: "01", Account: "b", Username: "x", Protocol: "irc"},
		types.FingerprintRecord{Fingerprint: "09", Account: "a", Username: "z", Protocol: "irc"},
		types.FingerprintRecord{Fingerprint: "03", Account: "a", Username: "y", Protocol: "xmpp"},
	)
	f := newFixture(t, store)

	var got []string
	for _, r := range f.trust.ListAll() {
		got = append(got, r.Account+r.Username+string(r.Fingerprint))
	}
	require.Equal(t, []string{"ay03", "az09", "bx01", "bx02"}, got)
	require.Len(t, f.trust.ForKey(types.ConversationKey{Account: "b", Username: "x", Protocol: "irc"}), 2)
}

func TestSetVerifiedIdempotent(t *testing.T) {
	f := newFixture(t, newMemStore())
	_, err := f.trust.Observe(key, "aaaa")
	require.NoError(t, err)
	rec, _ := f.trust.ActiveFor(key)
	f.reset()

	require.NoError(t, f.trust.SetVerified(rec, true))
	require.NoError(t, f.trust.SetVerified(rec, true))
	require.Equal(t, 1, f.count(events.KindFingerprintListChanged))
	require.Equal(t, 1, f.count(events.KindFingerprintVerifiedChanged))
	require.True(t, f.trust.IsVerified(key))

	f.reset()
	require.NoError(t, f.trust.SetVerified(rec, true))
	require.Equal(t, 0, f.count(events.KindFingerprintListChanged))
}

func TestSetVerifiedUnknown(t *testing.T) {
	f := newFixture(t, newMemStore())
	err := f.trust.SetVerified(types.FingerprintRecord{Fingerprint: "ff", Account: "a"}, true)
	require.ErrorIs(t, err, domain.ErrUnknownFingerprint)
	require.ErrorIs(t, err, domain.ValidationError)
}

func TestPersistenceFailure(t *testing.T) {
	f := newFixture(t, newMemStore())
	_, err := f.trust.Observe(key, "aaaa")
	require.NoError(t, err)
	rec, _ := f.trust.ActiveFor(key)

	f.store.fail = errors.New("disk full")
	err = f.trust.SetVerified(rec, true)
	require.ErrorIs(t, err, domain.PersistenceError)
	rec, _ = f.trust.ActiveFor(key)
	require.False(t, rec.Verified)

	err = f.trust.Delete(context.Background(), rec)
	require.ErrorIs(t, err, domain.PersistenceError)
	_, ok := f.trust.ActiveFor(key)
	require.True(t, ok)
}

func TestObserveSaveFailureKeepsMemory(t *testing.T) {
	f := newFixture(t, newMemStore())
	_, err := f.trust.Observe(key, "aaaa")
	require.NoError(t, err)

	f.store.fail = errors.New("disk full")
	isNew, err := f.trust.Observe(key, "bbbb")
	require.ErrorIs(t, err, domain.PersistenceError)
	require.True(t, isNew)

	_, ok := f.trust.Lookup(key, "bbbb")
	require.False(t, ok)
	active, ok := f.trust.ActiveFor(key)
	require.True(t, ok)
	require.Equal(t, types.Fingerprint("aaaa"), active.Fingerprint)

	f.store.fail = nil
	persisted, err := f.store.LoadFingerprints()
	require.NoError(t, err)
	require.Equal(t, []types.FingerprintRecord{active}, persisted)
}

func TestDeleteActiveFinishesSession(t *testing.T) {
	f := newFixture(t, newMemStore())
	f.commit(t, "peerkey")
	require.Equal(t, types.MessageStateEncrypted, f.reg.MessageState(key))
	rec, ok := f.trust.ActiveFor(key)
	require.True(t, ok)
	require.Equal(t, types.Fingerprint("peerkey"), rec.Fingerprint)
	require.Equal(t, 1, f.count(events.KindFingerprintConfirmation))
	f.reset()

	require.NoError(t, f.trust.Delete(context.Background(), rec))
	require.Equal(t, types.MessageStateFinished, f.reg.MessageState(key))
	require.Equal(t, 1, f.count(events.KindMessageStateChanged))
	require.Equal(t, 1, f.count(events.KindFingerprintListChanged))
	require.Empty(t, f.trust.ListAll())
}

func TestDeleteInactiveKeepsSession(t *testing.T) {
	f := newFixture(t, newMemStore())
	_, err := f.trust.Observe(key, "old")
	require.NoError(t, err)
	f.commit(t, "peerkey")
	old, ok := f.trust.Lookup(key, "old")
	require.True(t, ok)
	f.reset()

	require.NoError(t, f.trust.Delete(context.Background(), old))
	require.Equal(t, types.MessageStateEncrypted, f.reg.MessageState(key))
	require.Equal(t, 0, f.count(events.KindMessageStateChanged))

	err = f.trust.Delete(context.Background(), old)
	require.ErrorIs(t, err, domain.ErrUnknownFingerprint)
}
