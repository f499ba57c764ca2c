package types

// MessageEvent reports something notable about message traffic that is not
// itself a message for the user.
type MessageEvent int

const (
	MessageEventNone MessageEvent = iota
	MessageEventEncryptionRequired
	MessageEventEncryptionError
	MessageEventConnectionEnded
	MessageEventSetupError
	MessageEventMessageReflected
	MessageEventMessageResent
	MessageEventReceivedMessageNotInPrivate
	MessageEventReceivedMessageUnreadable
	MessageEventReceivedMessageMalformed
	MessageEventLogHeartbeatReceived
	MessageEventLogHeartbeatSent
	MessageEventReceivedMessageGeneralError
	MessageEventReceivedMessageUnencrypted
	MessageEventReceivedMessageUnrecognized
	MessageEventReceivedMessageForOtherInstance
)

var messageEventNames = [...]string{
	"none",
	"encryption-required",
	"encryption-error",
	"connection-ended",
	"setup-error",
	"message-reflected",
	"message-resent",
	"received-message-not-in-private",
	"received-message-unreadable",
	"received-message-malformed",
	"log-heartbeat-received",
	"log-heartbeat-sent",
	"received-message-general-error",
	"received-message-unencrypted",
	"received-message-unrecognized",
	"received-message-for-other-instance",
}

func (e MessageEvent) String() string {
	if e < 0 || int(e) >= len(messageEventNames) {
		return "unknown"
	}
	return messageEventNames[e]
}

// MessageType classifies a raw transport message without decrypting it.
type MessageType int

const (
	MessageTypeNotOTR MessageType = iota
	MessageTypeTaggedPlainText
	MessageTypeQuery
	MessageTypeDHCommit
	MessageTypeDHKey
	MessageTypeRevealSignature
	MessageTypeSignature
	MessageTypeV1KeyExchange
	MessageTypeData
	MessageTypeError
	MessageTypeUnknown
)

var messageTypeNames = [...]string{
	"not-otr",
	"tagged-plaintext",
	"query",
	"dh-commit",
	"dh-key",
	"reveal-signature",
	"signature",
	"v1-key-exchange",
	"data",
	"error",
	"unknown",
}

func (t MessageType) String() string {
	if t < 0 || int(t) >= len(messageTypeNames) {
		return "unknown"
	}
	return messageTypeNames[t]
}

// Mode selects whether a pipeline operation runs on the caller's goroutine.
type Mode int

const (
	ModeAsync Mode = iota
	ModeSync
)

func (m Mode) String() string {
	if m == ModeSync {
		return "sync"
	}
	return "async"
}
