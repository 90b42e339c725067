package workflow

import (
	domainwf "github.com/garyjia/procurement-workflow/internal/domain/workflow"
)

// BuildInstanceStateMachine creates a state machine configured for approval instances
func BuildInstanceStateMachine(initialState domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	// PENDING state transitions
	builder.Configure(domainwf.StatePending).
		Permit(domainwf.TriggerAdvance, domainwf.StatePending).
		Permit(domainwf.TriggerApprove, domainwf.StateApproved).
		Permit(domainwf.TriggerReject, domainwf.StateRejected)

	// APPROVED and REJECTED are terminal states - no outgoing transitions

	return builder.Build(initialState)
}
