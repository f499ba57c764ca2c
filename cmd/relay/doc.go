// Command relay runs the in-memory message relay used by the otrkit chat
// command during development and tests.
//
// All state is held in memory and lost on process exit. The relay only
// stores the wire text of each transport message and never sees plaintext
// or keys. See package otrkit/internal/relay for the HTTP API.
package main
