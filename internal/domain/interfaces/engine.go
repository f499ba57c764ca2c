package interfaces

import domaintypes "otrkit/internal/domain/types"

// Engine is the OTR crypto engine. It owns all key material and protocol
// bytes; callers only pass opaque wire text around. Implementations are not
// required to be safe for concurrent use.
type Engine interface {
	// SetObserver installs the receiver of engine events.
	SetObserver(obs EngineObserver)

	// StartSession returns the query message that asks the peer to begin
	// the key exchange.
	StartSession(key domaintypes.ConversationKey) (string, error)
	// EndSession returns the messages that tell the peer the session is over
	// and resets the conversation to plaintext.
	EndSession(key domaintypes.ConversationKey) ([]string, error)
	// ForceFinished drops the session keys without telling the peer.
	ForceFinished(key domaintypes.ConversationKey) error

	Encrypt(
		key domaintypes.ConversationKey,
		plaintext string,
		tlvs []domaintypes.TLV,
	) (domaintypes.EncryptResult, error)
	Decrypt(
		key domaintypes.ConversationKey,
		wire string,
	) (domaintypes.DecryptResult, error)

	MessageState(key domaintypes.ConversationKey) domaintypes.MessageState
	Fingerprint(key domaintypes.ConversationKey) (domaintypes.Fingerprint, bool)
	LocalFingerprint(account domaintypes.AccountKey) (domaintypes.Fingerprint, bool)
	GenerateKey(account domaintypes.AccountKey) error

	SMPInitiate(
		key domaintypes.ConversationKey,
		question string,
		secret []byte,
	) ([]string, error)
	SMPRespond(key domaintypes.ConversationKey, secret []byte) ([]string, error)
	SMPAbort(key domaintypes.ConversationKey) ([]string, error)

	// RequestSymmetricKey derives the extra symmetric key of the session and
	// returns it with the messages that tell the peer how it will be used.
	RequestSymmetricKey(
		key domaintypes.ConversationKey,
		use uint32,
		useData []byte,
	) ([]byte, []string, error)
}

// EngineObserver receives engine events. Events are raised on the goroutine
// that called into the engine.
type EngineObserver interface {
	HandleEngineEvent(ev domaintypes.EngineEvent)
	IsLoggedIn(key domaintypes.ConversationKey) bool
}
