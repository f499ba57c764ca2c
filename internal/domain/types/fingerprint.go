package types

// FingerprintRecord is one known peer key for a conversation.
type FingerprintRecord struct {
	Fingerprint Fingerprint
	Account     string
	Username    string
	Protocol    string
	Active      bool
	Verified    bool
}

// Key returns the conversation the record belongs to.
func (r FingerprintRecord) Key() ConversationKey {
	return ConversationKey{Account: r.Account, Username: r.Username, Protocol: r.Protocol}
}
