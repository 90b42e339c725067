package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
)

// WorkflowTemplate is a named, reusable approver sequence for one document type.
// Templates are never physically removed; IsActive=false marks them deleted.
type WorkflowTemplate struct {
	ID           string       `json:"id" db:"id"`
	Name         string       `json:"name" db:"name"`
	Description  string       `json:"description" db:"description"`
	WorkflowType WorkflowType `json:"workflow_type" db:"workflow_type"`
	IsDefault    bool         `json:"is_default" db:"is_default"`
	IsActive     bool         `json:"is_active" db:"is_active"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`

	// Steps is ordered by StepOrder; loaded on demand
	Steps []StepSpec `json:"steps,omitempty" db:"-"`
}

// StepSpec is one approver slot of a template
type StepSpec struct {
	ID             string       `json:"id" db:"id"`
	TemplateID     string       `json:"template_id" db:"template_id"`
	StepOrder      int          `json:"step_order" db:"step_order"`
	ApproverType   ApproverType `json:"approver_type" db:"approver_type"`
	ApproverRole   string       `json:"approver_role,omitempty" db:"approver_role"`
	ApproverUserID string       `json:"approver_user_id,omitempty" db:"approver_user_id"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// NewWorkflowTemplate creates an active, non-default template
func NewWorkflowTemplate(name, description string, workflowType WorkflowType) (*WorkflowTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("NewWorkflowTemplate", "template name is required")
	}
	if !workflowType.IsValid() {
		return nil, apperr.Validation("NewWorkflowTemplate", "invalid workflow type %q", workflowType)
	}

	now := time.Now().UTC()
	return &WorkflowTemplate{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  strings.TrimSpace(description),
		WorkflowType: workflowType,
		IsDefault:    false,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NewStepSpec creates a step spec. Exactly one of role or userID must be set and it
// must agree with approverType.
func NewStepSpec(templateID string, stepOrder int, approverType ApproverType, role, userID string) (*StepSpec, error) {
	if err := ValidateApprover(approverType, role, userID); err != nil {
		return nil, err
	}
	if templateID == "" {
		return nil, apperr.Validation("NewStepSpec", "template id is required")
	}
	if stepOrder < 1 {
		return nil, apperr.Validation("NewStepSpec", "step order must be at least 1, got %d", stepOrder)
	}

	return &StepSpec{
		ID:             uuid.NewString(),
		TemplateID:     templateID,
		StepOrder:      stepOrder,
		ApproverType:   approverType,
		ApproverRole:   strings.TrimSpace(role),
		ApproverUserID: strings.TrimSpace(userID),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// ValidateApprover checks an approver spec without building a step
func ValidateApprover(approverType ApproverType, role, userID string) error {
	role = strings.TrimSpace(role)
	userID = strings.TrimSpace(userID)

	switch approverType {
	case ApproverTypeRole:
		if role == "" {
			return apperr.Validation("ValidateApprover", "approver role is required for role-based steps")
		}
		if userID != "" {
			return apperr.Validation("ValidateApprover", "role-based steps must not name a user")
		}
	case ApproverTypeUser:
		if userID == "" {
			return apperr.Validation("ValidateApprover", "approver user id is required for user-based steps")
		}
		if role != "" {
			return apperr.Validation("ValidateApprover", "user-based steps must not name a role")
		}
	default:
		return apperr.Validation("ValidateApprover", "invalid approver type %q", approverType)
	}
	return nil
}
