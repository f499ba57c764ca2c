package otrkit

import (
	"otrkit/internal/classify"
	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
	"otrkit/internal/events"
	"otrkit/internal/tlv"
)

type (
	ConversationKey   = types.ConversationKey
	AccountKey        = types.AccountKey
	Fingerprint       = types.Fingerprint
	FingerprintRecord = types.FingerprintRecord
	MessageState      = types.MessageState
	OfferState        = types.OfferState
	Policy            = types.Policy
	Mode              = types.Mode
	MessageEvent      = types.MessageEvent
	MessageType       = types.MessageType
	SMPEvent          = types.SMPEvent
	SMPMethod         = types.SMPMethod
	SMPSession        = types.SMPSession
	TLV               = types.TLV
	TLVType           = types.TLVType

	Engine           = domain.Engine
	PrivateKeyStore  = domain.PrivateKeyStore
	FingerprintStore = domain.FingerprintStore
	InstanceTagStore = domain.InstanceTagStore
	Metrics          = domain.Metrics

	Dispatcher     = events.Dispatcher
	DispatcherFunc = events.DispatcherFunc

	Error     = domain.Error
	ErrorKind = domain.Kind
)

const (
	ModeAsync = types.ModeAsync
	ModeSync  = types.ModeSync

	PolicyDefault       = types.PolicyDefault
	PolicyNever         = types.PolicyNever
	PolicyOpportunistic = types.PolicyOpportunistic
	PolicyManual        = types.PolicyManual
	PolicyAlways        = types.PolicyAlways

	MessageStatePlaintext = types.MessageStatePlaintext
	MessageStateEncrypted = types.MessageStateEncrypted
	MessageStateFinished  = types.MessageStateFinished

	SMPEventAskForSecret = types.SMPEventAskForSecret
	SMPEventAskForAnswer = types.SMPEventAskForAnswer
	SMPEventInProgress   = types.SMPEventInProgress
	SMPEventSuccess      = types.SMPEventSuccess
	SMPEventFailure      = types.SMPEventFailure
	SMPEventCheated      = types.SMPEventCheated
	SMPEventAbort        = types.SMPEventAbort
	SMPEventError        = types.SMPEventError

	SMPMethodFingerprint       = types.SMPMethodFingerprint
	SMPMethodQuestionAndAnswer = types.SMPMethodQuestionAndAnswer
	SMPMethodSharedSecret      = types.SMPMethodSharedSecret
)

// Error kind sentinels, for errors.Is.
var (
	ValidationError              = domain.ValidationError
	EngineError                  = domain.EngineError
	ProtocolConflict             = domain.ProtocolConflict
	TransportAssumptionViolation = domain.TransportAssumptionViolation
	PersistenceError             = domain.PersistenceError
)

// Describe returns a human-readable classification of err.
func Describe(err error) string { return domain.Describe(err) }

// TypeOfMessage classifies text without decrypting it.
func TypeOfMessage(text string) MessageType { return classify.TypeOf(text) }

// StartsWithOTRPrefix reports whether text begins with "?OTR".
func StartsWithOTRPrefix(text string) bool { return classify.StartsWithOTRPrefix(text) }

// NewTLV builds a TLV, rejecting payloads that do not fit.
func NewTLV(typ TLVType, payload []byte) (TLV, error) {
	return tlv.New(typ, payload)
}
