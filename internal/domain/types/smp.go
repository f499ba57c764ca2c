package types

// SMPEvent is reported to the host while an authentication runs.
type SMPEvent int

const (
	SMPEventNone SMPEvent = iota
	SMPEventAskForSecret
	SMPEventAskForAnswer
	SMPEventCheated
	SMPEventInProgress
	SMPEventSuccess
	SMPEventFailure
	SMPEventAbort
	SMPEventError
)

func (e SMPEvent) String() string {
	switch e {
	case SMPEventNone:
		return "none"
	case SMPEventAskForSecret:
		return "ask-for-secret"
	case SMPEventAskForAnswer:
		return "ask-for-answer"
	case SMPEventCheated:
		return "cheated"
	case SMPEventInProgress:
		return "in-progress"
	case SMPEventSuccess:
		return "success"
	case SMPEventFailure:
		return "failure"
	case SMPEventAbort:
		return "abort"
	case SMPEventError:
		return "error"
	}
	return "unknown"
}

// Terminal reports whether the event ends a negotiation.
func (e SMPEvent) Terminal() bool {
	switch e {
	case SMPEventCheated, SMPEventSuccess, SMPEventFailure, SMPEventAbort, SMPEventError:
		return true
	}
	return false
}

// SMPMethod is how the two parties prove they share a secret.
type SMPMethod int

const (
	// SMPMethodFingerprint is manual comparison of fingerprints. It needs
	// no negotiation.
	SMPMethodFingerprint SMPMethod = iota
	SMPMethodQuestionAndAnswer
	SMPMethodSharedSecret
)

func (m SMPMethod) String() string {
	switch m {
	case SMPMethodFingerprint:
		return "fingerprint"
	case SMPMethodQuestionAndAnswer:
		return "question-and-answer"
	case SMPMethodSharedSecret:
		return "shared-secret"
	}
	return "unknown"
}

// SMPRole tells whose request a negotiation answers.
type SMPRole int

const (
	SMPRoleInitiator SMPRole = iota
	SMPRoleResponder
)

func (r SMPRole) String() string {
	if r == SMPRoleInitiator {
		return "initiator"
	}
	return "responder"
}

// SMPState is the position of a negotiation in the state machine.
type SMPState int

const (
	SMPStateIdle SMPState = iota
	SMPStateRequested
	SMPStateInProgress
	SMPStateSucceeded
	SMPStateFailed
	SMPStateAborted
	SMPStateCheated
	SMPStateErrored
)

func (s SMPState) String() string {
	switch s {
	case SMPStateIdle:
		return "idle"
	case SMPStateRequested:
		return "requested"
	case SMPStateInProgress:
		return "in-progress"
	case SMPStateSucceeded:
		return "succeeded"
	case SMPStateFailed:
		return "failed"
	case SMPStateAborted:
		return "aborted"
	case SMPStateCheated:
		return "cheated"
	case SMPStateErrored:
		return "errored"
	}
	return "unknown"
}

// StateForEvent maps a terminal event to the state it ends in.
func StateForEvent(e SMPEvent) SMPState {
	switch e {
	case SMPEventSuccess:
		return SMPStateSucceeded
	case SMPEventFailure:
		return SMPStateFailed
	case SMPEventAbort:
		return SMPStateAborted
	case SMPEventCheated:
		return SMPStateCheated
	case SMPEventError:
		return SMPStateErrored
	}
	return SMPStateInProgress
}

// SMPSession is one running negotiation.
type SMPSession struct {
	ID        uint64
	Role      SMPRole
	Method    SMPMethod
	State     SMPState
	LastEvent SMPEvent
	Progress  int
	Question  string
}
