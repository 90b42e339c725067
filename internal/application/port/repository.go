package port

import (
	"context"

	"github.com/garyjia/procurement-workflow/internal/domain/entity"
)

// Repositories return apperr.NotFound for unknown ids and apperr.Store for persistence
// failures. Every method joins the transaction carried by ctx, if any.

// TemplateRepository defines persistence operations for WorkflowTemplate and its StepSpecs
type TemplateRepository interface {
	Create(ctx context.Context, template *entity.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error)

	// GetByNameAndType returns apperr.NotFound when no active template matches
	GetByNameAndType(ctx context.Context, name string, workflowType entity.WorkflowType) (*entity.WorkflowTemplate, error)

	// Update writes name, description, workflow type, default and active flags
	Update(ctx context.Context, template *entity.WorkflowTemplate) error

	// ListActive returns active templates, newest first. A nil workflowType lists every type.
	ListActive(ctx context.Context, workflowType *entity.WorkflowType) ([]*entity.WorkflowTemplate, error)

	// ListActiveDefaults returns every active template flagged default for the type
	ListActiveDefaults(ctx context.Context, workflowType entity.WorkflowType) ([]*entity.WorkflowTemplate, error)

	// ClearDefaults unsets the default flag on every template of the type except exceptID
	ClearDefaults(ctx context.Context, workflowType entity.WorkflowType, exceptID string) error

	CreateStep(ctx context.Context, step *entity.StepSpec) error

	// ListSteps returns the template's steps ordered by StepOrder
	ListSteps(ctx context.Context, templateID string) ([]entity.StepSpec, error)

	CountSteps(ctx context.Context, templateID string) (int, error)
}

// InstanceFilter narrows ListInstances. Zero values mean no restriction.
type InstanceFilter struct {
	Status       string
	DocumentType entity.DocumentType
	Limit        int
	Offset       int
}

// InstanceRepository defines persistence operations for WorkflowInstance
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error)

	// GetForUpdate reads the instance and locks its row until the surrounding transaction
	// ends, on stores that support row locks
	GetForUpdate(ctx context.Context, id string) (*entity.WorkflowInstance, error)

	// GetLatestForDocument returns the most recently created instance for the document
	GetLatestForDocument(ctx context.Context, documentType entity.DocumentType, documentID string) (*entity.WorkflowInstance, error)

	// Update writes current step, status and completion time
	Update(ctx context.Context, instance *entity.WorkflowInstance) error

	List(ctx context.Context, filter InstanceFilter) ([]*entity.WorkflowInstance, error)

	// ListAwaiting returns pending instances whose step at CurrentStep is pending and
	// assigned to the approver's role or user id
	ListAwaiting(ctx context.Context, approver entity.Approver) ([]*entity.WorkflowInstance, error)
}

// StepRepository defines persistence operations for ApprovalStep
type StepRepository interface {
	CreateBatch(ctx context.Context, steps []*entity.ApprovalStep) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalStep, error)

	// ListByInstance returns the instance's steps ordered by StepNumber
	ListByInstance(ctx context.Context, instanceID string) ([]*entity.ApprovalStep, error)

	// Update writes the decision fields of a step
	Update(ctx context.Context, step *entity.ApprovalStep) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
