package otrkit

// Delegate receives the Kit's callbacks. They arrive in the order they were
// raised, on the configured Dispatcher.
type Delegate interface {
	// InjectMessage asks the host to send message to the peer as is.
	InjectMessage(key ConversationKey, message string, tag any)
	// EncodedMessage reports the outcome of EncodeMessage. The wire text
	// itself reaches the peer through InjectMessage.
	EncodedMessage(key ConversationKey, message string, encrypted bool, tag any, err error)
	DecodedMessage(key ConversationKey, plaintext string, encrypted bool, tlvs []TLV, tag any)
	UpdateMessageState(key ConversationKey, state MessageState)
	// IsLoggedIn is called from inside engine calls, not on the Dispatcher.
	// It must not call into the Kit.
	IsLoggedIn(key ConversationKey) bool
	ShowFingerprintConfirmation(key ConversationKey, theirs, ours Fingerprint)
	FingerprintVerifiedStateChanged(key ConversationKey, verified bool)
	HandleSMPEvent(key ConversationKey, event SMPEvent, progress int, question string, err error)
	HandleMessageEvent(key ConversationKey, event MessageEvent, message string, tag any, err error)
	ReceivedSymmetricKey(key ConversationKey, symmetricKey []byte, use uint32, useData []byte)
}

// KeyGenerationObserver is implemented by delegates that want to know when
// private keys are being generated.
type KeyGenerationObserver interface {
	WillStartGeneratingKey(account AccountKey)
	DidFinishGeneratingKey(account AccountKey, fp Fingerprint, err error)
}

// MessageFilter is implemented by delegates that want to drop some incoming
// messages before the engine sees them.
type MessageFilter interface {
	IgnoreMessage(key ConversationKey, message string, typ MessageType) bool
}

// FingerprintListObserver is implemented by delegates that show the list
// of known fingerprints.
type FingerprintListObserver interface {
	FingerprintListChanged()
}
