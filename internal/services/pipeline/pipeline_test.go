package pipeline_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"otrkit/internal/classify"
	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
	"otrkit/internal/events"
	"otrkit/internal/fragment"
	"otrkit/internal/services/pipeline"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var ctx = context.Background()

func TestWhitespaceOffer(t *testing.T) {
	alice := newParty(t, aliceKey, pipeline.Config{Policy: types.PolicyOpportunistic})

	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "hi", nil, types.ModeSync, nil))
	alice.settle(t)
	sent := alice.takeInjected()
	require.Len(t, sent, 1)
	require.Equal(t, types.MessageTypeTaggedPlainText, classify.TypeOf(sent[0]))
	require.Equal(t, types.OfferStateSent, alice.reg.OfferState(aliceKey))

	// the offer stays on the wire until the peer answers it
	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "still there?", nil, types.ModeSync, nil))
	alice.settle(t)
	sent = alice.takeInjected()
	require.Len(t, sent, 1)
	require.Equal(t, types.MessageTypeTaggedPlainText, classify.TypeOf(sent[0]))
	require.Equal(t, "still there?", classify.StripTag(sent[0]))

	// an untagged reply rejects the offer and stops the tagging
	require.NoError(t, alice.pipe.Decode(ctx, aliceKey, "no thanks", types.ModeSync, nil))
	require.Equal(t, types.OfferStateRejected, alice.reg.OfferState(aliceKey))
	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "ok", nil, types.ModeSync, nil))
	alice.settle(t)
	require.Equal(t, []string{"ok"}, alice.takeInjected())

	decoded := alice.notifications(events.KindDecodedMessage)
	require.Len(t, decoded, 1)
	require.Equal(t, "no thanks", decoded[0].Message)
	require.False(t, decoded[0].Encrypted)
}

func TestManualPolicyDoesNotTag(t *testing.T) {
	alice := newParty(t, aliceKey, pipeline.Config{Policy: types.PolicyManual})
	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "hi", nil, types.ModeSync, nil))
	alice.settle(t)
	require.Equal(t, []string{"hi"}, alice.takeInjected())
	require.Equal(t, types.OfferStateNone, alice.reg.OfferState(aliceKey))
}

func TestTaggedPlaintextStartsAKE(t *testing.T) {
	alice := newParty(t, aliceKey, pipeline.Config{Policy: types.PolicyOpportunistic})
	bob := newParty(t, bobKey, pipeline.Config{Policy: types.PolicyOpportunistic})

	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "hello", nil, types.ModeSync, nil))
	exchange(t, alice, bob)

	require.Equal(t, types.MessageStateEncrypted, alice.reg.MessageState(aliceKey))
	require.Equal(t, types.MessageStateEncrypted, bob.reg.MessageState(bobKey))
	require.Equal(t, types.OfferStateAccepted, alice.reg.OfferState(aliceKey))

	decoded := bob.notifications(events.KindDecodedMessage)
	require.Len(t, decoded, 1)
	require.Equal(t, "hello", decoded[0].Message)
}

func TestHandshakeNotifiesOnce(t *testing.T) {
	alice, bob := connected(t, pipeline.Config{Policy: types.PolicyManual})
	for _, p := range []*party{alice, bob} {
		states := p.notifications(events.KindMessageStateChanged)
		require.Len(t, states, 1)
		require.Equal(t, types.MessageStateEncrypted, states[0].MessageState)

		confirm := p.notifications(events.KindFingerprintConfirmation)
		require.Len(t, confirm, 1)
		require.NotEmpty(t, confirm[0].TheirFingerprint)
		require.NotEmpty(t, confirm[0].OurFingerprint)
	}
	ours, _ := alice.fake.LocalFingerprint(aliceKey.AccountKey())
	require.Equal(t, ours, bob.notifications(events.KindFingerprintConfirmation)[0].TheirFingerprint)
}

func TestEncryptedRoundTrip(t *testing.T) {
	alice, bob := connected(t, pipeline.Config{})

	tlvs := []types.TLV{{Type: types.TLVTypeDataRequest, Payload: []byte("GET /")}}
	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "secret", tlvs, types.ModeSync, "tag-1"))
	alice.settle(t)
	encoded := alice.notifications(events.KindEncodedMessage)
	require.Len(t, encoded, 1)
	require.True(t, encoded[0].Encrypted)
	require.Equal(t, "tag-1", encoded[0].Tag)
	require.Equal(t, types.MessageTypeData, classify.TypeOf(encoded[0].Message))

	exchange(t, alice, bob)
	decoded := bob.notifications(events.KindDecodedMessage)
	require.Len(t, decoded, 1)
	require.Equal(t, "secret", decoded[0].Message)
	require.True(t, decoded[0].Encrypted)
	require.Equal(t, tlvs, decoded[0].TLVs)
}

func TestFragmentedDelivery(t *testing.T) {
	alice, bob := connected(t, pipeline.Config{MaxSizes: map[string]int{"xmpp": 40}})

	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "a message long enough to need several fragments", nil, types.ModeSync, nil))
	alice.settle(t)
	frags := alice.takeInjected()
	require.Greater(t, len(frags), 2)
	for _, f := range frags {
		require.LessOrEqual(t, len(f), 40)
		require.True(t, fragment.IsFragment(f))
	}

	for i := len(frags) - 1; i >= 0; i-- {
		require.NoError(t, bob.pipe.Decode(ctx, bobKey, frags[i], types.ModeSync, nil))
	}
	bob.settle(t)
	decoded := bob.notifications(events.KindDecodedMessage)
	require.Len(t, decoded, 1)
	require.Equal(t, "a message long enough to need several fragments", decoded[0].Message)
}

func TestPlaintextIsNotFragmented(t *testing.T) {
	alice := newParty(t, aliceKey, pipeline.Config{Policy: types.PolicyManual, MaxSizes: map[string]int{"xmpp": 20}})
	long := "plain text that is far longer than twenty bytes"
	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, long, nil, types.ModeSync, nil))
	alice.settle(t)
	require.Equal(t, []string{long}, alice.takeInjected())
}

func TestAlwaysPolicyHoldsAndResends(t *testing.T) {
	cfg := pipeline.Config{Policy: types.PolicyAlways}
	alice := newParty(t, aliceKey, cfg)
	bob := newParty(t, bobKey, cfg)

	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "first", nil, types.ModeSync, nil))
	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "second", nil, types.ModeSync, nil))
	alice.settle(t)
	require.Equal(t, 2, alice.pipe.HeldCount(aliceKey))

	evs := alice.notifications(events.KindMessageEvent)
	require.Len(t, evs, 2)
	require.Equal(t, types.MessageEventEncryptionRequired, evs[0].MessageEvent)
	require.Empty(t, alice.notifications(events.KindEncodedMessage))

	exchange(t, alice, bob)
	require.Zero(t, alice.pipe.HeldCount(aliceKey))

	var resent []string
	for _, n := range alice.notifications(events.KindMessageEvent) {
		if n.MessageEvent == types.MessageEventMessageResent {
			resent = append(resent, n.Message)
		}
	}
	require.Equal(t, []string{"first", "second"}, resent)

	var got []string
	for _, n := range bob.notifications(events.KindDecodedMessage) {
		require.True(t, n.Encrypted)
		got = append(got, n.Message)
	}
	require.Equal(t, []string{"first", "second"}, got)
}

func TestHoldRetriesFailedQuery(t *testing.T) {
	alice := newParty(t, aliceKey, pipeline.Config{Policy: types.PolicyAlways})
	alice.fake.Fail("StartSession", fmt.Errorf("offline"))

	err := alice.pipe.Encode(ctx, aliceKey, "first", nil, types.ModeSync, nil)
	require.ErrorIs(t, err, domain.EngineError)
	alice.settle(t)
	require.Empty(t, alice.takeInjected())

	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "second", nil, types.ModeSync, nil))
	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "third", nil, types.ModeSync, nil))
	alice.settle(t)
	require.Equal(t, []string{classify.Query}, alice.takeInjected())
	require.Equal(t, 3, alice.pipe.HeldCount(aliceKey))
	require.Equal(t, 2, alice.fake.CallCount("StartSession"))
}

func TestFinishedRejectsEncode(t *testing.T) {
	alice, bob := connected(t, pipeline.Config{})

	require.NoError(t, bob.pipe.DisableEncryption(ctx, bobKey, types.ModeSync))
	exchange(t, alice, bob)
	require.Equal(t, types.MessageStateFinished, alice.reg.MessageState(aliceKey))
	require.Equal(t, types.MessageStatePlaintext, bob.reg.MessageState(bobKey))

	err := alice.pipe.Encode(ctx, aliceKey, "anyone?", nil, types.ModeSync, nil)
	require.ErrorIs(t, err, domain.ErrConnectionEnded)
	alice.settle(t)

	var ended bool
	for _, n := range alice.notifications(events.KindMessageEvent) {
		ended = ended || n.MessageEvent == types.MessageEventConnectionEnded
	}
	require.True(t, ended)

	// the disconnect TLV is delivered to the host
	decoded := alice.notifications(events.KindDecodedMessage)
	require.Len(t, decoded, 1)
	require.Equal(t, types.TLVTypeDisconnected, decoded[0].TLVs[0].Type)
}

func TestDisableEncryptionOfflinePeer(t *testing.T) {
	alice, _ := connected(t, pipeline.Config{})
	alice.pipe.SetHooks(pipeline.Hooks{LoggedIn: func(types.ConversationKey) bool { return false }})

	require.NoError(t, alice.pipe.DisableEncryption(ctx, aliceKey, types.ModeSync))
	alice.settle(t)
	require.Empty(t, alice.takeInjected())
	require.Equal(t, types.MessageStatePlaintext, alice.reg.MessageState(aliceKey))

	states := alice.notifications(events.KindMessageStateChanged)
	require.Equal(t, types.MessageStatePlaintext, states[len(states)-1].MessageState)
}

func TestInvalidTLVNeverReachesEngine(t *testing.T) {
	alice := newParty(t, aliceKey, pipeline.Config{})
	err := alice.pipe.Encode(ctx, aliceKey, "", []types.TLV{{Type: 9, Payload: make([]byte, 1<<16)}}, types.ModeAsync, nil)
	require.ErrorIs(t, err, domain.ValidationError)
	require.ErrorIs(t, err, domain.ErrPayloadTooLarge)
	require.Zero(t, alice.fake.CallCount("Encrypt"))
}

func TestDataWithoutSessionIsReported(t *testing.T) {
	alice, bob := connected(t, pipeline.Config{})
	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "hi", nil, types.ModeSync, nil))
	alice.settle(t)
	data := alice.takeInjected()
	require.Len(t, data, 1)

	require.NoError(t, bob.pipe.DisableEncryption(ctx, bobKey, types.ModeSync))
	bob.settle(t)
	bob.takeInjected()

	err := bob.pipe.Decode(ctx, bobKey, data[0], types.ModeSync, nil)
	require.ErrorIs(t, err, domain.ErrNotInPrivate)
	bob.settle(t)
	evs := bob.notifications(events.KindMessageEvent)
	require.Equal(t, types.MessageEventReceivedMessageNotInPrivate, evs[len(evs)-1].MessageEvent)
	require.Empty(t, bob.notifications(events.KindDecodedMessage))
}

func TestErrorMessageRestartsAKE(t *testing.T) {
	alice := newParty(t, aliceKey, pipeline.Config{Policy: types.PolicyOpportunistic})
	require.NoError(t, alice.pipe.Decode(ctx, aliceKey, "?OTR Error: bad mac", types.ModeSync, nil))
	alice.settle(t)

	evs := alice.notifications(events.KindMessageEvent)
	require.Len(t, evs, 1)
	require.Equal(t, types.MessageEventReceivedMessageGeneralError, evs[0].MessageEvent)
	require.Equal(t, "bad mac", evs[0].Message)
	require.Equal(t, []string{classify.Query}, alice.takeInjected())
}

func TestIgnoreHook(t *testing.T) {
	alice := newParty(t, aliceKey, pipeline.Config{})
	var seen types.MessageType
	alice.pipe.SetHooks(pipeline.Hooks{Ignore: func(_ types.ConversationKey, _ string, typ types.MessageType) bool {
		seen = typ
		return true
	}})
	require.NoError(t, alice.pipe.Decode(ctx, aliceKey, classify.Query, types.ModeSync, nil))
	alice.settle(t)
	require.Equal(t, types.MessageTypeQuery, seen)
	require.Zero(t, alice.fake.CallCount("Decrypt"))
	require.Empty(t, alice.takeInjected())
}

func TestAsyncPreservesOrder(t *testing.T) {
	alice := newParty(t, aliceKey, pipeline.Config{Policy: types.PolicyManual, Workers: 2})
	for i := 0; i < 50; i++ {
		require.NoError(t, alice.pipe.Encode(ctx, aliceKey, fmt.Sprint(i), nil, types.ModeAsync, i))
	}
	alice.settle(t)
	encoded := alice.notifications(events.KindEncodedMessage)
	require.Len(t, encoded, 50)
	for i, n := range encoded {
		require.Equal(t, i, n.Tag)
		require.Equal(t, fmt.Sprint(i), n.Message)
	}
}

func TestSyncWaitsForLane(t *testing.T) {
	alice := newParty(t, aliceKey, pipeline.Config{Policy: types.PolicyManual})
	for i := 0; i < 10; i++ {
		require.NoError(t, alice.pipe.Encode(ctx, aliceKey, fmt.Sprint(i), nil, types.ModeAsync, nil))
	}
	require.NoError(t, alice.pipe.Encode(ctx, aliceKey, "last", nil, types.ModeSync, nil))
	alice.settle(t)
	encoded := alice.notifications(events.KindEncodedMessage)
	require.Len(t, encoded, 11)
	require.Equal(t, "last", encoded[10].Message)
}

func TestEngineErrorsAreReported(t *testing.T) {
	alice, _ := connected(t, pipeline.Config{})
	alice.fake.Fail("Encrypt", fmt.Errorf("boom"))
	err := alice.pipe.Encode(ctx, aliceKey, "hi", nil, types.ModeSync, nil)
	require.ErrorIs(t, err, domain.EngineError)
	alice.settle(t)

	encoded := alice.notifications(events.KindEncodedMessage)
	require.Error(t, encoded[len(encoded)-1].Err)
	require.Equal(t, types.MessageStateEncrypted, alice.reg.MessageState(aliceKey))
}

func TestForceFinished(t *testing.T) {
	alice, _ := connected(t, pipeline.Config{})
	require.NoError(t, alice.pipe.ForceFinished(ctx, aliceKey))
	alice.settle(t)
	require.Equal(t, types.MessageStateFinished, alice.reg.MessageState(aliceKey))
	states := alice.notifications(events.KindMessageStateChanged)
	require.Len(t, states, 2)
}

func TestSymmetricKeyShared(t *testing.T) {
	alice, bob := connected(t, pipeline.Config{})
	k, err := alice.pipe.RequestSymmetricKey(ctx, aliceKey, 7, []byte("file.txt"))
	require.NoError(t, err)
	require.Len(t, k, 32)
	exchange(t, alice, bob)

	got := bob.notifications(events.KindSymmetricKey)
	require.Len(t, got, 1)
	require.Equal(t, k, got[0].SymmetricKey)
	require.EqualValues(t, 7, got[0].KeyUse)
	require.Equal(t, []byte("file.txt"), got[0].KeyUseData)

	_, err = newParty(t, aliceKey, pipeline.Config{}).pipe.RequestSymmetricKey(ctx, aliceKey, 1, nil)
	require.ErrorIs(t, err, domain.ErrNotEncrypted)
}

func TestNeverPolicyPassesThrough(t *testing.T) {
	alice := newParty(t, aliceKey, pipeline.Config{Policy: types.PolicyNever})
	require.NoError(t, alice.pipe.Decode(ctx, aliceKey, classify.Query, types.ModeSync, nil))
	alice.settle(t)
	require.Empty(t, alice.takeInjected())
	decoded := alice.notifications(events.KindDecodedMessage)
	require.Len(t, decoded, 1)
	require.Equal(t, classify.Query, decoded[0].Message)
}
