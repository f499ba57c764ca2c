package types

import "strings"

// Username is an account or remote user name as the transport knows it.
type Username string

// String returns the string form of the username.
func (u Username) String() string { return string(u) }

// Fingerprint is the hex form of a public key hash presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// Human returns the fingerprint in upper case groups of eight characters,
// the way it is usually read aloud.
func (f Fingerprint) Human() string {
	s := strings.ToUpper(string(f))
	var b strings.Builder
	for i := 0; i < len(s); i += 8 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 8
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
	}
	return b.String()
}

// ConversationKey identifies one conversation: a local account talking to a
// remote user over a protocol. It is comparable and used as a map key.
type ConversationKey struct {
	Account  string
	Username string
	Protocol string
}

// String returns a compact form suitable for logs.
func (k ConversationKey) String() string {
	return k.Account + "->" + k.Username + "/" + k.Protocol
}

// AccountKey identifies a local account on a protocol. Private keys and
// instance tags are stored per AccountKey.
type AccountKey struct {
	Account  string
	Protocol string
}

// AccountKey returns the local account half of the key.
func (k ConversationKey) AccountKey() AccountKey {
	return AccountKey{Account: k.Account, Protocol: k.Protocol}
}
