package workflow

import "github.com/garyjia/procurement-workflow/internal/domain/entity"

// Outcome is the aggregate view of an instance derived from its steps
type Outcome struct {
	State       State
	CurrentStep int
	Trigger     Trigger
}

// Aggregate derives instance status and current step from the full step set.
//
// Any rejected step rejects the instance. A non-empty step set with every step approved
// approves it. Otherwise the instance stays pending. CurrentStep is the lowest pending
// step number, or one past the highest step number when nothing is pending; step numbers
// need not be contiguous. An instance without steps stays pending on step 1.
func Aggregate(steps []*entity.ApprovalStep) Outcome {
	anyRejected := false
	allApproved := len(steps) > 0
	lowestPending := 0
	highest := 0

	for _, s := range steps {
		if s.StepNumber > highest {
			highest = s.StepNumber
		}
		switch s.Status {
		case entity.StepStatusRejected:
			anyRejected = true
			allApproved = false
		case entity.StepStatusApproved:
		default:
			allApproved = false
			if lowestPending == 0 || s.StepNumber < lowestPending {
				lowestPending = s.StepNumber
			}
		}
	}

	current := lowestPending
	if current == 0 {
		current = highest + 1
	}

	switch {
	case anyRejected:
		return Outcome{State: StateRejected, CurrentStep: current, Trigger: TriggerReject}
	case allApproved:
		return Outcome{State: StateApproved, CurrentStep: current, Trigger: TriggerApprove}
	default:
		return Outcome{State: StatePending, CurrentStep: current, Trigger: TriggerAdvance}
	}
}
