package event

// Type identifies the type of domain event
type Type string

const (
	TypeTemplateCreated     Type = "template.created"
	TypeTemplateUpdated     Type = "template.updated"
	TypeTemplateDeactivated Type = "template.deactivated"
	TypeTemplateStepAdded   Type = "template.step_added"
	TypeDefaultChanged      Type = "template.default_changed"
	TypeInstanceCreated     Type = "instance.created"
	TypeStepDecided         Type = "step.decided"
	TypeInstanceApproved    Type = "instance.approved"
	TypeInstanceRejected    Type = "instance.rejected"
	TypeInstanceReconciled  Type = "instance.reconciled"
)

var allTypes = []Type{
	TypeTemplateCreated,
	TypeTemplateUpdated,
	TypeTemplateDeactivated,
	TypeTemplateStepAdded,
	TypeDefaultChanged,
	TypeInstanceCreated,
	TypeStepDecided,
	TypeInstanceApproved,
	TypeInstanceRejected,
	TypeInstanceReconciled,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsTemplateEvent reports whether the event concerns workflow templates
func (t Type) IsTemplateEvent() bool {
	switch t {
	case TypeTemplateCreated, TypeTemplateUpdated, TypeTemplateDeactivated,
		TypeTemplateStepAdded, TypeDefaultChanged:
		return true
	default:
		return false
	}
}

// All returns every defined event type
func All() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}
