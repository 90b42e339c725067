package workflow

// Trigger is the outcome of a step decision that drives the instance state machine
type Trigger string

const (
	// TriggerAdvance keeps the instance pending and moves the current step pointer
	TriggerAdvance Trigger = "ADVANCE"
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
