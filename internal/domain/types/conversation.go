package types

import "strings"

// MessageState is the encryption state of a conversation.
type MessageState int

const (
	MessageStatePlaintext MessageState = iota
	MessageStateEncrypted
	MessageStateFinished
)

func (s MessageState) String() string {
	switch s {
	case MessageStatePlaintext:
		return "plaintext"
	case MessageStateEncrypted:
		return "encrypted"
	case MessageStateFinished:
		return "finished"
	}
	return "unknown"
}

// OfferState tracks whether we offered encryption with a whitespace tag and
// how the peer answered.
type OfferState int

const (
	OfferStateNone OfferState = iota
	OfferStateSent
	OfferStateRejected
	OfferStateAccepted
)

func (s OfferState) String() string {
	switch s {
	case OfferStateNone:
		return "none"
	case OfferStateSent:
		return "sent"
	case OfferStateRejected:
		return "rejected"
	case OfferStateAccepted:
		return "accepted"
	}
	return "unknown"
}

// Policy governs when plaintext is tagged and whether encryption is required.
type Policy int

const (
	// PolicyDefault behaves like PolicyOpportunistic.
	PolicyDefault Policy = iota
	PolicyNever
	PolicyOpportunistic
	PolicyManual
	PolicyAlways
)

func (p Policy) String() string {
	switch p {
	case PolicyDefault:
		return "default"
	case PolicyNever:
		return "never"
	case PolicyOpportunistic:
		return "opportunistic"
	case PolicyManual:
		return "manual"
	case PolicyAlways:
		return "always"
	}
	return "unknown"
}

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return PolicyDefault, true
	case "never":
		return PolicyNever, true
	case "opportunistic":
		return PolicyOpportunistic, true
	case "manual":
		return PolicyManual, true
	case "always":
		return PolicyAlways, true
	}
	return PolicyDefault, false
}

// AllowsEncryption reports whether OTR messages are processed at all.
func (p Policy) AllowsEncryption() bool { return p != PolicyNever }

// SendsWhitespaceTag reports whether outgoing plaintext advertises OTR.
func (p Policy) SendsWhitespaceTag() bool {
	return p == PolicyDefault || p == PolicyOpportunistic || p == PolicyAlways
}

// StartsOnTag reports whether a received whitespace tag or OTR error message
// starts a key exchange.
func (p Policy) StartsOnTag() bool { return p.SendsWhitespaceTag() }

// RequiresEncryption reports whether plaintext may never leave the host.
func (p Policy) RequiresEncryption() bool { return p == PolicyAlways }

// ConversationState is a snapshot of the live state of one conversation.
type ConversationState struct {
	Key          ConversationKey
	MessageState MessageState
	OfferState   OfferState
	InstanceTag  uint32
	SMP          *SMPSession
}
