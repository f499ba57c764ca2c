// Package registry keeps the live state of every conversation: message
// state, offer state, instance tag and the running SMP negotiation.
//
// Entries are created on first write and released once a conversation is
// back to plaintext with no negotiation pending. Reads of an unknown key
// return defaults without creating anything.
package registry
