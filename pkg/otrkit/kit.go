package otrkit

import (
	"context"
	"errors"
	"time"

	"gopkg.in/op/go-logging.v1"

	"otrkit/internal/domain"
	"otrkit/internal/engine"
	"otrkit/internal/engine/otr"
	"otrkit/internal/events"
	"otrkit/internal/instrument"
	"otrkit/internal/log"
	"otrkit/internal/services/identity"
	"otrkit/internal/services/pipeline"
	"otrkit/internal/services/registry"
	"otrkit/internal/services/smp"
	"otrkit/internal/services/trust"
	"otrkit/internal/store"
)

// ErrNoDelegate is returned by New without a Delegate.
var ErrNoDelegate = errors.New("otrkit: a delegate is required")

// Options configure a Kit. Only Delegate is required.
type Options struct {
	Delegate Delegate
	// Dispatcher runs delegate callbacks. Nil delivers them on a goroutine
	// owned by the Kit.
	Dispatcher Dispatcher

	// Engine defaults to the x/crypto/otr engine using PrivateKeys.
	Engine       Engine
	PrivateKeys  PrivateKeyStore
	Fingerprints FingerprintStore
	InstanceTags InstanceTagStore

	Policy Policy
	// MaxSizes maps a protocol name to its largest transport message.
	MaxSizes map[string]int
	// Workers bounds concurrent async operations.
	Workers int
	// FragmentRetention drops incomplete fragment sets idle this long.
	// Zero keeps them until completed or superseded.
	FragmentRetention time.Duration
	// SMPTimeout cancels negotiations the peer leaves unanswered. Zero
	// waits forever.
	SMPTimeout time.Duration
	// Separator splits account names for LeftPortion and RightPortion.
	Separator string

	Log     *log.Backend
	Metrics Metrics
}

// Kit is one OTR orchestration instance.
type Kit struct {
	log       *logging.Logger
	delegate  Delegate
	keyGenObs KeyGenerationObserver
	filter    MessageFilter
	listObs   FingerprintListObserver
	separator string

	engine   domain.Engine
	reg      *registry.Service
	bridge   *events.Bridge
	pipe     *pipeline.Service
	trust    *trust.Service
	smp      *smp.Service
	identity *identity.Service
}

// New wires a Kit. Optional delegate capabilities are detected here, once.
func New(opts Options) (*Kit, error) {
	if opts.Delegate == nil {
		return nil, ErrNoDelegate
	}
	backend := opts.Log
	if backend == nil {
		backend = log.Discard()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = instrument.Nop{}
	}
	fps := opts.Fingerprints
	if fps == nil {
		fps = store.NewMemoryFingerprintStore()
	}
	eng := opts.Engine
	if eng == nil {
		eng = otr.New(backend.GetLogger("engine"), opts.PrivateKeys)
	}

	k := &Kit{
		log:       backend.GetLogger("otrkit"),
		delegate:  opts.Delegate,
		separator: opts.Separator,
		engine:    engine.Serialize(eng),
	}
	if k.separator == "" {
		k.separator = DefaultSeparator
	}
	k.keyGenObs, _ = opts.Delegate.(KeyGenerationObserver)
	k.filter, _ = opts.Delegate.(MessageFilter)
	k.listObs, _ = opts.Delegate.(FingerprintListObserver)

	k.reg = registry.New(backend.GetLogger("registry"), opts.InstanceTags)
	k.bridge = events.New(backend.GetLogger("events"), k.deliver, opts.Dispatcher, metrics)
	k.pipe = pipeline.New(backend.GetLogger("pipeline"), k.engine, k.reg, k.bridge, metrics, pipeline.Config{
		Policy:    opts.Policy,
		Workers:   opts.Workers,
		MaxSizes:  opts.MaxSizes,
		Retention: opts.FragmentRetention,
	})
	var err error
	if k.trust, err = trust.New(backend.GetLogger("trust"), fps, k.reg, k.bridge); err != nil {
		k.pipe.Close()
		k.bridge.Close()
		return nil, err
	}
	k.trust.SetFinisher(k.pipe)
	k.smp = smp.New(backend.GetLogger("smp"), k.reg, k.pipe, k.bridge, metrics, opts.SMPTimeout)
	k.identity = identity.New(backend.GetLogger("identity"), k.engine)

	hooks := pipeline.Hooks{
		SMP:         k.smp.HandleEngineEvent,
		Fingerprint: k.observeFingerprint,
		KeyGen:      k.identity.HandleKeyGen,
		LoggedIn:    opts.Delegate.IsLoggedIn,
	}
	if k.filter != nil {
		hooks.Ignore = k.filter.IgnoreMessage
	}
	k.pipe.SetHooks(hooks)
	return k, nil
}

// Close stops background work and delivers pending callbacks.
func (k *Kit) Close() {
	k.identity.Close()
	k.smp.Close()
	k.pipe.Close()
	k.bridge.Close()
}

func (k *Kit) observeFingerprint(key ConversationKey, fp Fingerprint) bool {
	isNew, err := k.trust.Observe(key, fp)
	if err != nil {
		k.log.Errorf("%v: recording fingerprint: %v", key, err)
	}
	return isNew
}

// Policy returns the current policy.
func (k *Kit) Policy() Policy { return k.pipe.Policy() }

// SetPolicy changes the policy for subsequent messages.
func (k *Kit) SetPolicy(p Policy) { k.pipe.SetPolicy(p) }

// SetMaximumSize sets the largest message protocol can carry. Longer
// encrypted messages are fragmented. Zero disables fragmentation.
func (k *Kit) SetMaximumSize(protocol string, n int) { k.pipe.SetMaximumSize(protocol, n) }

// MaximumSize returns the limit set for protocol.
func (k *Kit) MaximumSize(protocol string) int { return k.pipe.MaximumSize(protocol) }

// EncodeMessage prepares plaintext for sending to the peer.
func (k *Kit) EncodeMessage(ctx context.Context, key ConversationKey, plaintext string, tlvs []TLV, mode Mode, tag any) error {
	return k.pipe.Encode(ctx, key, plaintext, tlvs, mode, tag)
}

// DecodeMessage processes a message received from the peer.
func (k *Kit) DecodeMessage(ctx context.Context, key ConversationKey, wire string, mode Mode, tag any) error {
	return k.pipe.Decode(ctx, key, wire, mode, tag)
}

// InitiateEncryption asks the peer to start OTR.
func (k *Kit) InitiateEncryption(ctx context.Context, key ConversationKey, mode Mode) error {
	return k.pipe.InitiateEncryption(ctx, key, mode)
}

// DisableEncryption ends the private conversation.
func (k *Kit) DisableEncryption(ctx context.Context, key ConversationKey, mode Mode) error {
	return k.pipe.DisableEncryption(ctx, key, mode)
}

// MessageState returns the conversation's message state.
func (k *Kit) MessageState(key ConversationKey) MessageState { return k.reg.MessageState(key) }

// OfferState returns whether we offered OTR and how the peer answered.
func (k *Kit) OfferState(key ConversationKey) OfferState { return k.reg.OfferState(key) }

// Conversations lists the keys with live state.
func (k *Kit) Conversations() []ConversationKey { return k.reg.Keys() }

// InitiateSMP starts authenticating the peer. Question is used only with
// SMPMethodQuestionAndAnswer.
func (k *Kit) InitiateSMP(ctx context.Context, key ConversationKey, method SMPMethod, secret []byte, question string) error {
	return k.smp.Initiate(ctx, key, method, secret, question)
}

// RespondToSMP answers the peer's authentication request.
func (k *Kit) RespondToSMP(ctx context.Context, key ConversationKey, secret []byte) error {
	return k.smp.Respond(ctx, key, secret)
}

// AbortSMP cancels the running negotiation.
func (k *Kit) AbortSMP(key ConversationKey) { k.smp.Cancel(key) }

// SMPSession returns the running negotiation, if any.
func (k *Kit) SMPSession(key ConversationKey) (SMPSession, bool) { return k.smp.Session(key) }

// Fingerprints lists every known peer fingerprint.
func (k *Kit) Fingerprints() []FingerprintRecord { return k.trust.ListAll() }

// DeleteFingerprint forgets rec. Deleting the key a peer is currently
// using ends that private conversation.
func (k *Kit) DeleteFingerprint(ctx context.Context, rec FingerprintRecord) error {
	return k.trust.Delete(ctx, rec)
}

// SetFingerprintVerified records whether the user trusts rec.
func (k *Kit) SetFingerprintVerified(rec FingerprintRecord, verified bool) error {
	return k.trust.SetVerified(rec, verified)
}

// ActiveFingerprint returns the fingerprint the peer's session presented.
func (k *Kit) ActiveFingerprint(key ConversationKey) (FingerprintRecord, bool) {
	return k.trust.ActiveFor(key)
}

// ActiveFingerprintIsVerified reports whether the peer's current key is
// verified.
func (k *Kit) ActiveFingerprintIsVerified(key ConversationKey) bool { return k.trust.IsVerified(key) }

// LocalFingerprint returns the fingerprint of the account's own key.
func (k *Kit) LocalFingerprint(account AccountKey) (Fingerprint, bool) {
	return k.identity.LocalFingerprint(account)
}

// GenerateKey creates a new private key for account.
func (k *Kit) GenerateKey(ctx context.Context, account AccountKey, mode Mode) error {
	return k.identity.GenerateKey(ctx, account, mode)
}

// IsGeneratingKey reports whether a key for account is being generated.
func (k *Kit) IsGeneratingKey(account AccountKey) bool { return k.identity.IsGeneratingKey(account) }

// RequestSymmetricKey derives the session's extra symmetric key and tells
// the peer what it is for.
func (k *Kit) RequestSymmetricKey(ctx context.Context, key ConversationKey, use uint32, useData []byte) ([]byte, error) {
	return k.pipe.RequestSymmetricKey(ctx, key, use, useData)
}

// deliver runs on the delivery context.
func (k *Kit) deliver(n events.Notification) {
	d := k.delegate
	switch n.Kind {
	case events.KindInjectMessage:
		d.InjectMessage(n.Key, n.Message, n.Tag)
	case events.KindEncodedMessage:
		d.EncodedMessage(n.Key, n.Message, n.Encrypted, n.Tag, n.Err)
	case events.KindDecodedMessage:
		d.DecodedMessage(n.Key, n.Message, n.Encrypted, n.TLVs, n.Tag)
	case events.KindMessageStateChanged:
		d.UpdateMessageState(n.Key, n.MessageState)
	case events.KindFingerprintConfirmation:
		d.ShowFingerprintConfirmation(n.Key, n.TheirFingerprint, n.OurFingerprint)
	case events.KindFingerprintVerifiedChanged:
		d.FingerprintVerifiedStateChanged(n.Key, n.Verified)
	case events.KindSMPEvent:
		d.HandleSMPEvent(n.Key, n.SMPEvent, n.Progress, n.Question, n.Err)
	case events.KindMessageEvent:
		d.HandleMessageEvent(n.Key, n.MessageEvent, n.Message, n.Tag, n.Err)
	case events.KindSymmetricKey:
		d.ReceivedSymmetricKey(n.Key, n.SymmetricKey, n.KeyUse, n.KeyUseData)
	case events.KindFingerprintListChanged:
		if k.listObs != nil {
			k.listObs.FingerprintListChanged()
		}
	case events.KindKeyGenStarted:
		if k.keyGenObs != nil {
			k.keyGenObs.WillStartGeneratingKey(n.Account)
		}
	case events.KindKeyGenFinished:
		if k.keyGenObs != nil {
			k.keyGenObs.DidFinishGeneratingKey(n.Account, n.OurFingerprint, n.Err)
		}
	default:
		k.log.Warningf("undeliverable notification %v", n.Kind)
	}
}
