// Package pipeline runs every engine call of the kit: encoding, decoding,
// session start and stop, and the SMP steps.
//
// Work is queued on per-conversation lanes. Operations on one conversation
// run one at a time in the order they were issued; different conversations
// proceed in parallel on a bounded pool. Async operations return at once and
// report through the event bridge. Sync operations run on the caller's
// goroutine when the lane is idle and otherwise wait their turn.
//
// The pipeline is also the engine's observer. Engine events update the
// registry and become notifications; SMP, fingerprint and key generation
// events are routed to the hooks installed with SetHooks.
package pipeline
