// Package relay is a store-and-forward message relay for development chats
// and its HTTP client.
//
// The relay never sees plaintext: OTR runs end to end between the chat
// clients and the relay only queues the wire text of each transport message
// as an Envelope addressed to a username.
//
// HTTP API
//
//	POST /msg/{user}
//	    Enqueue an Envelope for {user}. A missing ID is replaced by a fresh
//	    UUID and a zero Timestamp by the current Unix time.
//
//	GET /msg/{user}
//	    Return and remove every queued Envelope for {user}.
//
//	GET /ws/{user}
//	    Upgrade to a WebSocket and push each Envelope for {user} as a JSON
//	    text frame, starting with anything already queued.
//
// Non-2xx statuses are returned by the client as errors carrying the method,
// path and status text.
package relay
