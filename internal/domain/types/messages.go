package types

// Envelope is one transport message as the relay stores and forwards it.
type Envelope struct {
	ID        string   `json:"id"`
	From      Username `json:"from"`
	To        Username `json:"to"`
	Protocol  string   `json:"protocol"`
	Body      string   `json:"body"`
	Timestamp int64    `json:"timestamp"`
}
