package types

// EngineEventType tells which fields of an EngineEvent are meaningful.
type EngineEventType int

const (
	EngineEventMessageState EngineEventType = iota
	EngineEventNewFingerprint
	EngineEventSMP
	EngineEventMessage
	EngineEventSymmetricKey
	EngineEventKeyGenStarted
	EngineEventKeyGenFinished
)

func (t EngineEventType) String() string {
	switch t {
	case EngineEventMessageState:
		return "message-state"
	case EngineEventNewFingerprint:
		return "new-fingerprint"
	case EngineEventSMP:
		return "smp"
	case EngineEventMessage:
		return "message"
	case EngineEventSymmetricKey:
		return "symmetric-key"
	case EngineEventKeyGenStarted:
		return "keygen-started"
	case EngineEventKeyGenFinished:
		return "keygen-finished"
	}
	return "unknown"
}

// EngineEvent is a callback from the crypto engine. Engines raise them
// synchronously from inside the call that caused them.
type EngineEvent struct {
	Type EngineEventType
	Key  ConversationKey

	MessageState     MessageState
	// Fingerprint is the peer's, LocalFingerprint ours, for NewFingerprint.
	Fingerprint      Fingerprint
	LocalFingerprint Fingerprint

	SMPEvent SMPEvent
	Progress int
	Question string

	MessageEvent MessageEvent
	Message      string
	Err          error

	SymmetricKey []byte
	KeyUse       uint32
	KeyUseData   []byte
}

// EncryptResult is the engine's answer to an outgoing message.
type EncryptResult struct {
	// Message is the wire text. For plaintext sessions it equals the input.
	Message   string
	Encrypted bool
}

// DecryptResult is the engine's answer to an incoming wire message.
type DecryptResult struct {
	Plaintext string
	TLVs      []TLV
	Encrypted bool
	// Replies are protocol messages the engine wants sent back to the peer.
	Replies []string
}
