package events

import "otrkit/internal/domain/types"

// Kind names a notification.
type Kind int

const (
	KindMessageStateChanged Kind = iota + 1
	KindFingerprintListChanged
	KindFingerprintVerifiedChanged
	KindFingerprintConfirmation
	KindSMPEvent
	KindMessageEvent
	KindEncodedMessage
	KindDecodedMessage
	KindInjectMessage
	KindSymmetricKey
	KindKeyGenStarted
	KindKeyGenFinished
)

var kindNames = map[Kind]string{
	KindMessageStateChanged:        "message_state_changed",
	KindFingerprintListChanged:     "fingerprint_list_changed",
	KindFingerprintVerifiedChanged: "fingerprint_verified_changed",
	KindFingerprintConfirmation:    "fingerprint_confirmation",
	KindSMPEvent:                   "smp_event",
	KindMessageEvent:               "message_event",
	KindEncodedMessage:             "encoded_message",
	KindDecodedMessage:             "decoded_message",
	KindInjectMessage:              "inject_message",
	KindSymmetricKey:               "symmetric_key",
	KindKeyGenStarted:              "keygen_started",
	KindKeyGenFinished:             "keygen_finished",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Notification is one callback for the host. Which fields are set depends
// on Kind.
type Notification struct {
	Kind    Kind
	Key     types.ConversationKey
	Account types.AccountKey
	Tag     any
	Err     error

	MessageState types.MessageState
	Verified     bool

	TheirFingerprint types.Fingerprint
	OurFingerprint   types.Fingerprint

	SMPEvent types.SMPEvent
	Progress int
	Question string

	MessageEvent types.MessageEvent

	// Message is wire text for encoded and injected messages and plaintext
	// for decoded ones.
	Message   string
	Encrypted bool
	TLVs      []types.TLV

	SymmetricKey []byte
	KeyUse       uint32
	KeyUseData   []byte
}
