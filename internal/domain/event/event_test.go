package event

import (
	"testing"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{name: "instance created", eventType: TypeInstanceCreated, want: true},
		{name: "step decided", eventType: TypeStepDecided, want: true},
		{name: "default changed", eventType: TypeDefaultChanged, want: true},
		{name: "unknown", eventType: Type("invoice.paid"), want: false},
		{name: "empty", eventType: Type(""), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestType_IsTemplateEvent(t *testing.T) {
	if !TypeTemplateStepAdded.IsTemplateEvent() {
		t.Error("template.step_added should be a template event")
	}
	if TypeStepDecided.IsTemplateEvent() {
		t.Error("step.decided should not be a template event")
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	types := All()
	types[0] = Type("mutated")
	if All()[0] == Type("mutated") {
		t.Error("All() should return a copy")
	}
}

func TestNewEvent(t *testing.T) {
	evt := NewEvent(TypeInstanceCreated, "inst-1", map[string]interface{}{"status": "pending"})

	if evt.ID == "" {
		t.Error("expected generated id")
	}
	if evt.CorrelationID != evt.ID {
		t.Errorf("CorrelationID = %q, want event id %q", evt.CorrelationID, evt.ID)
	}
	if evt.AggregateID != "inst-1" {
		t.Errorf("AggregateID = %q, want inst-1", evt.AggregateID)
	}
	if evt.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}

	other := NewEvent(TypeInstanceCreated, "inst-1", nil)
	if other.ID == evt.ID {
		t.Error("event ids should be unique")
	}
}

func TestEvent_CopyHelpers(t *testing.T) {
	original := NewEvent(TypeStepDecided, "inst-1", map[string]interface{}{"step_number": 2})

	tagged := original.ForDocument("budget", "B1")
	if tagged.DocumentID != "B1" || original.DocumentID != "" {
		t.Error("ForDocument should not modify the original event")
	}

	linked := original.WithCorrelation("corr-1")
	if linked.CorrelationID != "corr-1" || original.CorrelationID == "corr-1" {
		t.Error("WithCorrelation should not modify the original event")
	}

	extended := original.WithPayload("decision", "approved")
	if _, ok := original.Payload["decision"]; ok {
		t.Error("WithPayload should not modify the original payload")
	}
	if extended.GetPayloadString("decision") != "approved" {
		t.Errorf("GetPayloadString() = %q, want approved", extended.GetPayloadString("decision"))
	}
	if extended.GetPayloadInt("step_number") != 2 {
		t.Errorf("GetPayloadInt() = %d, want 2", extended.GetPayloadInt("step_number"))
	}
}

func TestEvent_GetPayloadDefaults(t *testing.T) {
	evt := NewEvent(TypeInstanceApproved, "inst-1", map[string]interface{}{
		"count": float64(3),
		"name":  42,
	})

	if got := evt.GetPayloadInt("count"); got != 3 {
		t.Errorf("GetPayloadInt(float64) = %d, want 3", got)
	}
	if got := evt.GetPayloadString("name"); got != "" {
		t.Errorf("GetPayloadString(non-string) = %q, want empty", got)
	}
	if got := evt.GetPayloadString("missing"); got != "" {
		t.Errorf("GetPayloadString(missing) = %q, want empty", got)
	}
}
