package workflow

import (
	"context"

	"github.com/garyjia/procurement-workflow/internal/application/port"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
)

// InstanceFilter narrows ListInstances
type InstanceFilter = port.InstanceFilter

// CreateInstanceRequest starts an approval run for a document.
// An empty TemplateID selects the default template for the document type.
type CreateInstanceRequest struct {
	DocumentType entity.DocumentType `json:"document_type"`
	DocumentID   string              `json:"document_id"`
	TemplateID   string              `json:"template_id,omitempty"`
	CreatedBy    string              `json:"created_by"`
}

// DecideRequest records an approver's verdict on one step
type DecideRequest struct {
	StepID       string          `json:"step_id"`
	Decision     entity.Decision `json:"decision"`
	Comments     string          `json:"comments,omitempty"`
	DecidedBy    string          `json:"decided_by"`
	ApproverName string          `json:"approver_name,omitempty"`
}

// WorkflowEngine orchestrates approval workflow instances
type WorkflowEngine interface {
	// CreateWorkflowInstance snapshots the template's steps into a new pending instance.
	// The instance and its steps are written atomically.
	CreateWorkflowInstance(ctx context.Context, req CreateInstanceRequest) (*entity.WorkflowInstance, error)

	// UpdateApprovalStep decides a step and recomputes the instance aggregate in the
	// same transaction
	UpdateApprovalStep(ctx context.Context, req DecideRequest) (*entity.ApprovalStep, error)

	// GetPendingApprovalsFor returns pending instances whose current step is assigned to
	// the approver's role or user id
	GetPendingApprovalsFor(ctx context.Context, approver entity.Approver) ([]*entity.WorkflowInstance, error)

	GetInstance(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error)

	// GetInstanceForDocument returns the latest instance created for a document
	GetInstanceForDocument(ctx context.Context, documentType entity.DocumentType, documentID string) (*entity.WorkflowInstance, error)

	ListInstances(ctx context.Context, filter InstanceFilter) ([]*entity.WorkflowInstance, error)

	// Reconcile re-derives a pending instance's status and current step from its steps.
	// Terminal instances are never reopened.
	Reconcile(ctx context.Context, instanceID string) (bool, error)
}
