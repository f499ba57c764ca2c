package interfaces

import domaintypes "otrkit/internal/domain/types"

// Metrics counts orchestration activity.
type Metrics interface {
	MessageEncoded(protocol string, encrypted bool)
	MessageDecoded(protocol string, encrypted bool)
	FragmentsSent(protocol string, n int)
	FragmentsReassembled(protocol string)
	SMPOutcome(ev domaintypes.SMPEvent)
	NotificationDelivered(kind string)
}
