package domain

import (
	interfaces "otrkit/internal/domain/interfaces"
	types "otrkit/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Username          = types.Username
	Fingerprint       = types.Fingerprint
	ConversationKey   = types.ConversationKey
	AccountKey        = types.AccountKey
	ConversationState = types.ConversationState
	MessageState      = types.MessageState
	OfferState        = types.OfferState
	Policy            = types.Policy
	SMPEvent          = types.SMPEvent
	SMPMethod         = types.SMPMethod
	SMPRole           = types.SMPRole
	SMPState          = types.SMPState
	SMPSession        = types.SMPSession
	FingerprintRecord = types.FingerprintRecord
	TLV               = types.TLV
	TLVType           = types.TLVType
	MessageEvent      = types.MessageEvent
	MessageType       = types.MessageType
	Mode              = types.Mode
	EngineEvent       = types.EngineEvent
	EngineEventType   = types.EngineEventType
	EncryptResult     = types.EncryptResult
	DecryptResult     = types.DecryptResult
	Envelope          = types.Envelope
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Engine           = interfaces.Engine
	EngineObserver   = interfaces.EngineObserver
	PrivateKeyStore  = interfaces.PrivateKeyStore
	InstanceTagStore = interfaces.InstanceTagStore
	FingerprintStore = interfaces.FingerprintStore
	RelayClient      = interfaces.RelayClient
	Metrics          = interfaces.Metrics
)
