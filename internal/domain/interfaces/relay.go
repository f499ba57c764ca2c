package interfaces

import (
	"context"

	domaintypes "otrkit/internal/domain/types"
)

// RelayClient is how the CLI talks to the relay server, all with context.
type RelayClient interface {
	SendMessage(ctx context.Context, envelope domaintypes.Envelope) error
	FetchMessages(
		ctx context.Context,
		username domaintypes.Username,
	) ([]domaintypes.Envelope, error)
	// Subscribe streams envelopes for username until ctx is done.
	Subscribe(
		ctx context.Context,
		username domaintypes.Username,
	) (<-chan domaintypes.Envelope, error)
}
