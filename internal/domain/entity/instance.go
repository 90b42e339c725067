package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
)

// WorkflowInstance is one run of a template against one document.
// Instances are never deleted; they form the approval audit trail.
type WorkflowInstance struct {
	ID           string       `json:"id" db:"id"`
	WorkflowID   string       `json:"workflow_id" db:"workflow_id"`
	DocumentType DocumentType `json:"document_type" db:"document_type"`
	DocumentID   string       `json:"document_id" db:"document_id"`
	CurrentStep  int          `json:"current_step" db:"current_step"`
	Status       string       `json:"status" db:"status"`
	CreatedBy    string       `json:"created_by" db:"created_by"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`

	// Steps is ordered by StepNumber; loaded on demand
	Steps []*ApprovalStep `json:"steps,omitempty" db:"-"`
}

// ApprovalStep is one approver's slot within an instance
type ApprovalStep struct {
	ID                 string     `json:"id" db:"id"`
	WorkflowInstanceID string     `json:"workflow_instance_id" db:"workflow_instance_id"`
	StepNumber         int        `json:"step_number" db:"step_number"`
	ApproverRole       string     `json:"approver_role,omitempty" db:"approver_role"`
	ApproverUserID     string     `json:"approver_user_id,omitempty" db:"approver_user_id"`
	ApproverName       string     `json:"approver_name,omitempty" db:"approver_name"`
	Status             string     `json:"status" db:"status"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	DecidedBy          string     `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt          *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	Comments           string     `json:"comments,omitempty" db:"comments"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// Approver identifies a user deciding or looking up approvals
type Approver struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// NewWorkflowInstance creates a pending instance positioned on step 1
func NewWorkflowInstance(workflowID string, documentType DocumentType, documentID, createdBy string) (*WorkflowInstance, error) {
	if !documentType.IsValid() {
		return nil, apperr.Validation("NewWorkflowInstance", "invalid document type %q", documentType)
	}
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, apperr.Validation("NewWorkflowInstance", "document id is required")
	}
	if workflowID == "" {
		return nil, apperr.Validation("NewWorkflowInstance", "workflow id is required")
	}

	now := time.Now().UTC()
	return &WorkflowInstance{
		ID:           uuid.NewString(),
		WorkflowID:   workflowID,
		DocumentType: documentType,
		DocumentID:   documentID,
		CurrentStep:  1,
		Status:       InstanceStatusPending,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NewApprovalStep snapshots a template step spec into a pending instance step
func NewApprovalStep(instanceID string, spec StepSpec) (*ApprovalStep, error) {
	if instanceID == "" {
		return nil, apperr.Validation("NewApprovalStep", "instance id is required")
	}
	if err := ValidateApprover(spec.ApproverType, spec.ApproverRole, spec.ApproverUserID); err != nil {
		return nil, err
	}
	if spec.StepOrder < 1 {
		return nil, apperr.Validation("NewApprovalStep", "step number must be at least 1, got %d", spec.StepOrder)
	}

	return &ApprovalStep{
		ID:                 uuid.NewString(),
		WorkflowInstanceID: instanceID,
		StepNumber:         spec.StepOrder,
		ApproverRole:       spec.ApproverRole,
		ApproverUserID:     spec.ApproverUserID,
		Status:             StepStatusPending,
		CreatedAt:          time.Now().UTC(),
	}, nil
}

// IsTerminal returns true once the instance has been approved or rejected
func (i *WorkflowInstance) IsTerminal() bool {
	return i.Status == InstanceStatusApproved || i.Status == InstanceStatusRejected
}

// StepAt returns the step with the given number, or nil
func (i *WorkflowInstance) StepAt(stepNumber int) *ApprovalStep {
	for _, s := range i.Steps {
		if s.StepNumber == stepNumber {
			return s
		}
	}
	return nil
}

// IsPending returns true while the step awaits a decision
func (s *ApprovalStep) IsPending() bool {
	return s.Status == StepStatusPending
}

// AssignedTo reports whether the approver may act on this step by role or user id
func (s *ApprovalStep) AssignedTo(a Approver) bool {
	if s.ApproverRole != "" && a.Role != "" && s.ApproverRole == a.Role {
		return true
	}
	return s.ApproverUserID != "" && a.ID != "" && s.ApproverUserID == a.ID
}

// Decide records a decision on a pending step
func (s *ApprovalStep) Decide(decision Decision, comments, decidedBy, approverName string, at time.Time) error {
	if !decision.IsValid() {
		return apperr.Validation("Decide", "invalid decision %q", decision)
	}
	if !s.IsPending() {
		return apperr.Conflict("Decide", "step %d already decided (%s)", s.StepNumber, s.Status)
	}

	s.Status = string(decision)
	s.Comments = comments
	s.DecidedBy = decidedBy
	s.ApproverName = approverName
	s.DecidedAt = &at
	if decision == DecisionApproved {
		s.ApprovedAt = &at
	} else {
		s.ApprovedAt = nil
	}
	return nil
}
