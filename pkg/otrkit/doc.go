// Package otrkit orchestrates Off-the-Record messaging for a chat client.
//
// A Kit sits between the host's transport and an OTR engine. The host hands
// it every outgoing and incoming message; the Kit tracks each
// conversation's state, fragments and reassembles wire messages, runs the
// socialist millionaires' protocol, keeps the trust store of peer
// fingerprints, and reports everything back through a Delegate on a single
// delivery context.
//
// Conversations are identified by a ConversationKey of account, peer
// username and protocol. All operations are safe for concurrent use.
// Delegate methods may call back into the Kit, with the exception of
// IsLoggedIn, which runs inside engine calls.
package otrkit
