package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error by how the caller should react to it.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindEngine
	KindProtocolConflict
	KindTransportAssumption
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation error"
	case KindEngine:
		return "engine error"
	case KindProtocolConflict:
		return "protocol conflict"
	case KindTransportAssumption:
		return "transport assumption violation"
	case KindPersistence:
		return "persistence error"
	}
	return "error"
}

// Kind sentinels match any *Error of that kind through errors.Is.
var (
	ValidationError              = &Error{Kind: KindValidation}
	EngineError                  = &Error{Kind: KindEngine}
	ProtocolConflict             = &Error{Kind: KindProtocolConflict}
	TransportAssumptionViolation = &Error{Kind: KindTransportAssumption}
	PersistenceError             = &Error{Kind: KindPersistence}
)

var (
	ErrPayloadTooLarge      = errors.New("tlv payload too large")
	ErrMalformedTLV         = errors.New("malformed tlv")
	ErrSMPAlreadyInProgress = errors.New("smp already in progress")
	ErrNotEncrypted         = errors.New("conversation is not encrypted")
	ErrManualMethod         = errors.New("fingerprint verification is manual")
	ErrMissingQuestion      = errors.New("question and answer needs a question")
	ErrSMPRequestExists     = errors.New("smp request already exists")
	ErrNoSMPRequest         = errors.New("no smp request pending")
	ErrNotResponder         = errors.New("smp request was not made by the peer")
	ErrConnectionEnded      = errors.New("private conversation has ended")
	ErrEncryptionRequired   = errors.New("encryption required")
	ErrUnknownFingerprint   = errors.New("unknown fingerprint")
	ErrUnsupported          = errors.New("not supported by engine")
	ErrNoPrivateKey         = errors.New("no private key for account")
	ErrClosed               = errors.New("kit closed")
	ErrWeakPassphrase       = errors.New("passphrase too weak")
	ErrSMPTimeout           = errors.New("smp request timed out")
)

// Engines wrap receive failures in these so they map onto message events.
var (
	ErrNotInPrivate  = errors.New("encrypted message received outside a private conversation")
	ErrUnreadable    = errors.New("message could not be decrypted")
	ErrMalformed     = errors.New("malformed otr message")
	ErrUnrecognized  = errors.New("unrecognized otr message")
	ErrOtherInstance = errors.New("message addressed to another instance")
	ErrReflected     = errors.New("message was reflected")
)

// Error is the error type returned by the orchestration layer.
type Error struct {
	Kind Kind
	Op   string
	Key  ConversationKey
	Err  error
}

// NewError wraps err with kind and context.
func NewError(kind Kind, op string, key ConversationKey, err error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

func (e *Error) Error() string {
	var s string
	if e.Op != "" {
		s = e.Op + ": "
	}
	if e.Key != (ConversationKey{}) {
		s += e.Key.String() + ": "
	}
	if e.Err == nil {
		return s + e.Kind.String()
	}
	return s + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Key == (ConversationKey{}) && t.Kind == e.Kind
}

// Describe returns a sentence suitable for showing to a user.
func (e *Error) Describe() string {
	switch {
	case errors.Is(e.Err, ErrPayloadTooLarge):
		return "The attached data is too large to send."
	case errors.Is(e.Err, ErrMalformedTLV):
		return "The message contained damaged data."
	case errors.Is(e.Err, ErrSMPAlreadyInProgress), errors.Is(e.Err, ErrSMPRequestExists):
		return "An identity verification is already in progress for this conversation."
	case errors.Is(e.Err, ErrNotEncrypted):
		return "The private conversation is not active."
	case errors.Is(e.Err, ErrManualMethod):
		return "Compare fingerprints with your buddy over another channel."
	case errors.Is(e.Err, ErrNoSMPRequest), errors.Is(e.Err, ErrNotResponder):
		return "There is no verification request to answer."
	case errors.Is(e.Err, ErrConnectionEnded):
		return "Your buddy has closed the private connection. Close it too or refresh it."
	case errors.Is(e.Err, ErrEncryptionRequired):
		return "The message was held until a private conversation is established."
	case errors.Is(e.Err, ErrUnknownFingerprint):
		return "That fingerprint is not known."
	case errors.Is(e.Err, ErrNotInPrivate):
		return "An encrypted message arrived but no private conversation is active."
	case errors.Is(e.Err, ErrUnreadable):
		return "An encrypted message could not be read."
	case errors.Is(e.Err, ErrMalformed), errors.Is(e.Err, ErrUnrecognized):
		return "A malformed message was received."
	case errors.Is(e.Err, ErrWeakPassphrase):
		return "Choose a longer passphrase mixing letters, digits and symbols."
	case errors.Is(e.Err, ErrSMPTimeout):
		return "Your buddy did not answer the verification request in time."
	}
	switch e.Kind {
	case KindEngine:
		return "The encryption engine could not process the message."
	case KindTransportAssumption:
		return "The message was meant for another session."
	case KindPersistence:
		return "Saved keys or fingerprints could not be read or written."
	case KindProtocolConflict:
		return "The request conflicts with the current conversation state."
	}
	return "The request is invalid."
}

// Describe returns the user facing text for any error.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Describe()
	}
	return fmt.Sprintf("Unexpected error: %v", err)
}

// KindOf returns the kind of err, or zero when it is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
