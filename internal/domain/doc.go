// Package domain defines the conversation model, engine contract and error
// kinds shared by the orchestration services. It holds plain types and
// interfaces only.
package domain
