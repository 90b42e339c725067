package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/procurement-workflow/internal/application/dispatcher"
	"github.com/garyjia/procurement-workflow/internal/application/port"
	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
	"github.com/garyjia/procurement-workflow/internal/domain/event"
	"github.com/garyjia/procurement-workflow/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// StepInput describes an approver slot to append to a template
type StepInput struct {
	ApproverType   entity.ApproverType `json:"approver_type" yaml:"approver_type"`
	ApproverRole   string              `json:"approver_role,omitempty" yaml:"approver_role,omitempty"`
	ApproverUserID string              `json:"approver_user_id,omitempty" yaml:"approver_user_id,omitempty"`
}

// TemplateUpdate is a partial update; nil fields are left unchanged
type TemplateUpdate struct {
	Name         *string              `json:"name,omitempty"`
	Description  *string              `json:"description,omitempty"`
	WorkflowType *entity.WorkflowType `json:"workflow_type,omitempty"`
}

// TemplateService manages workflow templates
type TemplateService interface {
	CreateTemplate(ctx context.Context, name, description string, workflowType entity.WorkflowType) (*entity.WorkflowTemplate, error)

	// AddStep appends a step numbered one past the current step count
	AddStep(ctx context.Context, templateID string, input StepInput) (*entity.StepSpec, error)

	UpdateTemplate(ctx context.Context, templateID string, update TemplateUpdate) (*entity.WorkflowTemplate, error)

	// DeactivateTemplate soft-deletes a template. Default templates cannot be deactivated.
	DeactivateTemplate(ctx context.Context, templateID string) error

	// GetDefaultTemplate returns the single active default for the type, with steps
	GetDefaultTemplate(ctx context.Context, workflowType entity.WorkflowType) (*entity.WorkflowTemplate, error)

	// ListTemplates returns active templates newest first; nil lists every type
	ListTemplates(ctx context.Context, workflowType *entity.WorkflowType) ([]*entity.WorkflowTemplate, error)

	// GetTemplate returns a template with its steps, active or not
	GetTemplate(ctx context.Context, templateID string) (*entity.WorkflowTemplate, error)

	// SetDefaultTemplate makes the template the only default of its type
	SetDefaultTemplate(ctx context.Context, templateID string) (*entity.WorkflowTemplate, error)

	// SeedTemplates creates templates that do not exist yet, matched by name and type
	SeedTemplates(ctx context.Context, seeds []TemplateSeed) (*SeedResult, error)
}

type templateServiceImpl struct {
	templates  port.TemplateRepository
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher
	logger     Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// TemplateOption configures the template service
type TemplateOption func(*templateServiceImpl)

// WithTemplateDispatcher emits template events after each committed change
func WithTemplateDispatcher(d dispatcher.Dispatcher) TemplateOption {
	return func(s *templateServiceImpl) {
		s.dispatcher = d
	}
}

// WithTemplateClock overrides the time source
func WithTemplateClock(now func() time.Time) TemplateOption {
	return func(s *templateServiceImpl) {
		s.now = now
	}
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(
	templates port.TemplateRepository,
	txManager port.TransactionManager,
	logger Logger,
	opts ...TemplateOption,
) TemplateService {
	s := &templateServiceImpl{
		templates: templates,
		txManager: txManager,
		logger:    logger,
		tracer:    otel.Tracer("procurement-workflow/internal/application/service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *templateServiceImpl) CreateTemplate(ctx context.Context, name, description string, workflowType entity.WorkflowType) (tpl *entity.WorkflowTemplate, err error) {
	ctx, span := s.tracer.Start(ctx, "TemplateService.CreateTemplate",
		trace.WithAttributes(attribute.String("workflow.type", workflowType.String())))
	defer func() { utils.EndSpan(span, err) }()

	tpl, err = entity.NewWorkflowTemplate(name, description, workflowType)
	if err != nil {
		return nil, err
	}
	tpl.CreatedAt = s.now()
	tpl.UpdatedAt = tpl.CreatedAt

	if err := s.templates.Create(ctx, tpl); err != nil {
		s.logger.Error("Failed to create template", "error", err, "name", tpl.Name)
		return nil, err
	}

	s.logger.Info("Template created", "template_id", tpl.ID, "name", tpl.Name, "workflow_type", tpl.WorkflowType)
	s.emit(ctx, event.TypeTemplateCreated, tpl.ID, map[string]interface{}{
		"workflow_type": tpl.WorkflowType.String(),
	})
	return tpl, nil
}

func (s *templateServiceImpl) AddStep(ctx context.Context, templateID string, input StepInput) (spec *entity.StepSpec, err error) {
	ctx, span := s.tracer.Start(ctx, "TemplateService.AddStep",
		trace.WithAttributes(attribute.String("template.id", templateID)))
	defer func() { utils.EndSpan(span, err) }()

	if strings.TrimSpace(templateID) == "" {
		return nil, apperr.Validation("AddStep", "template id is required")
	}
	if err := entity.ValidateApprover(input.ApproverType, input.ApproverRole, input.ApproverUserID); err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tpl, err := s.templates.GetByID(txCtx, templateID)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Validation("AddStep", "template %s does not exist", templateID)
		}
		if err != nil {
			return err
		}
		if !tpl.IsActive {
			return apperr.Validation("AddStep", "template %s is inactive", templateID)
		}

		count, err := s.templates.CountSteps(txCtx, templateID)
		if err != nil {
			return err
		}

		spec, err = entity.NewStepSpec(templateID, count+1, input.ApproverType, input.ApproverRole, input.ApproverUserID)
		if err != nil {
			return err
		}
		spec.CreatedAt = s.now()
		return s.templates.CreateStep(txCtx, spec)
	})
	if err != nil {
		s.logError("Failed to add template step", err, "template_id", templateID)
		return nil, err
	}

	s.logger.Info("Template step added",
		"template_id", templateID,
		"step_order", spec.StepOrder,
		"approver_type", spec.ApproverType,
	)
	s.emit(ctx, event.TypeTemplateStepAdded, templateID, map[string]interface{}{"step_order": spec.StepOrder})
	return spec, nil
}

func (s *templateServiceImpl) UpdateTemplate(ctx context.Context, templateID string, update TemplateUpdate) (tpl *entity.WorkflowTemplate, err error) {
	ctx, span := s.tracer.Start(ctx, "TemplateService.UpdateTemplate",
		trace.WithAttributes(attribute.String("template.id", templateID)))
	defer func() { utils.EndSpan(span, err) }()

	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, apperr.Validation("UpdateTemplate", "template name must not be blank")
	}
	if update.WorkflowType != nil && !update.WorkflowType.IsValid() {
		return nil, apperr.Validation("UpdateTemplate", "invalid workflow type %q", *update.WorkflowType)
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tpl, err = s.templates.GetByID(txCtx, templateID)
		if err != nil {
			return err
		}
		if !tpl.IsActive {
			return apperr.Precondition("UpdateTemplate", "template %s is inactive", templateID)
		}

		if update.WorkflowType != nil && *update.WorkflowType != tpl.WorkflowType && tpl.IsDefault {
			others, err := s.templates.ListActiveDefaults(txCtx, *update.WorkflowType)
			if err != nil {
				return err
			}
			if len(others) > 0 {
				return apperr.Conflict("UpdateTemplate",
					"%s already has default template %q", *update.WorkflowType, others[0].Name)
			}
		}

		if update.Name != nil {
			tpl.Name = strings.TrimSpace(*update.Name)
		}
		if update.Description != nil {
			tpl.Description = strings.TrimSpace(*update.Description)
		}
		if update.WorkflowType != nil {
			tpl.WorkflowType = *update.WorkflowType
		}
		tpl.UpdatedAt = s.now()
		return s.templates.Update(txCtx, tpl)
	})
	if err != nil {
		s.logError("Failed to update template", err, "template_id", templateID)
		return nil, err
	}

	s.logger.Info("Template updated", "template_id", templateID)
	s.emit(ctx, event.TypeTemplateUpdated, templateID, nil)
	return tpl, nil
}

func (s *templateServiceImpl) DeactivateTemplate(ctx context.Context, templateID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "TemplateService.DeactivateTemplate",
		trace.WithAttributes(attribute.String("template.id", templateID)))
	defer func() { utils.EndSpan(span, err) }()

	changed := false
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tpl, err := s.templates.GetByID(txCtx, templateID)
		if err != nil {
			return err
		}
		if tpl.IsDefault {
			return apperr.Precondition("DeactivateTemplate",
				"template %q is the default for %s and cannot be deactivated", tpl.Name, tpl.WorkflowType)
		}
		if !tpl.IsActive {
			return nil
		}

		tpl.IsActive = false
		tpl.UpdatedAt = s.now()
		changed = true
		return s.templates.Update(txCtx, tpl)
	})
	if err != nil {
		s.logError("Failed to deactivate template", err, "template_id", templateID)
		return err
	}

	if changed {
		s.logger.Info("Template deactivated", "template_id", templateID)
		s.emit(ctx, event.TypeTemplateDeactivated, templateID, nil)
	}
	return nil
}

func (s *templateServiceImpl) GetDefaultTemplate(ctx context.Context, workflowType entity.WorkflowType) (tpl *entity.WorkflowTemplate, err error) {
	ctx, span := s.tracer.Start(ctx, "TemplateService.GetDefaultTemplate",
		trace.WithAttributes(attribute.String("workflow.type", workflowType.String())))
	defer func() { utils.EndSpan(span, err) }()

	tpl, err = ResolveDefaultTemplate(ctx, s.templates, workflowType)
	if err != nil {
		s.logError("Failed to resolve default template", err, "workflow_type", workflowType)
		return nil, err
	}
	return tpl, nil
}

// ResolveDefaultTemplate finds the unique active default template for a type and loads
// its steps. More than one default is reported as a conflict rather than picking one.
func ResolveDefaultTemplate(ctx context.Context, templates port.TemplateRepository, workflowType entity.WorkflowType) (*entity.WorkflowTemplate, error) {
	if !workflowType.IsValid() {
		return nil, apperr.Validation("GetDefaultTemplate", "invalid workflow type %q", workflowType)
	}

	defaults, err := templates.ListActiveDefaults(ctx, workflowType)
	if err != nil {
		return nil, err
	}
	switch len(defaults) {
	case 0:
		return nil, apperr.NotFound("GetDefaultTemplate", "no default workflow for type %s", workflowType)
	case 1:
	default:
		return nil, apperr.Conflict("GetDefaultTemplate",
			"%d templates are marked default for %s", len(defaults), workflowType)
	}

	tpl := defaults[0]
	if tpl.Steps, err = templates.ListSteps(ctx, tpl.ID); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (s *templateServiceImpl) ListTemplates(ctx context.Context, workflowType *entity.WorkflowType) (templates []*entity.WorkflowTemplate, err error) {
	ctx, span := s.tracer.Start(ctx, "TemplateService.ListTemplates")
	defer func() { utils.EndSpan(span, err) }()

	if workflowType != nil && !workflowType.IsValid() {
		return nil, apperr.Validation("ListTemplates", "invalid workflow type %q", *workflowType)
	}

	templates, err = s.templates.ListActive(ctx, workflowType)
	if err != nil {
		s.logger.Error("Failed to list templates", "error", err)
		return nil, err
	}
	return templates, nil
}

func (s *templateServiceImpl) GetTemplate(ctx context.Context, templateID string) (tpl *entity.WorkflowTemplate, err error) {
	ctx, span := s.tracer.Start(ctx, "TemplateService.GetTemplate",
		trace.WithAttributes(attribute.String("template.id", templateID)))
	defer func() { utils.EndSpan(span, err) }()

	tpl, err = s.templates.GetByID(ctx, templateID)
	if err != nil {
		s.logError("Failed to get template", err, "template_id", templateID)
		return nil, err
	}
	if tpl.Steps, err = s.templates.ListSteps(ctx, templateID); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (s *templateServiceImpl) SetDefaultTemplate(ctx context.Context, templateID string) (tpl *entity.WorkflowTemplate, err error) {
	ctx, span := s.tracer.Start(ctx, "TemplateService.SetDefaultTemplate",
		trace.WithAttributes(attribute.String("template.id", templateID)))
	defer func() { utils.EndSpan(span, err) }()

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tpl, err = s.templates.GetByID(txCtx, templateID)
		if err != nil {
			return err
		}
		return s.makeDefault(txCtx, tpl)
	})
	if err != nil {
		s.logError("Failed to set default template", err, "template_id", templateID)
		return nil, err
	}

	s.logger.Info("Default template changed", "template_id", tpl.ID, "workflow_type", tpl.WorkflowType)
	s.emit(ctx, event.TypeDefaultChanged, tpl.ID, map[string]interface{}{
		"workflow_type": tpl.WorkflowType.String(),
	})
	return tpl, nil
}

// makeDefault clears every other default of the type before flagging tpl. Must run in a
// transaction.
func (s *templateServiceImpl) makeDefault(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	if !tpl.IsActive {
		return apperr.Precondition("SetDefaultTemplate", "inactive template %q cannot become default", tpl.Name)
	}
	if tpl.IsDefault {
		return nil
	}
	if err := s.templates.ClearDefaults(ctx, tpl.WorkflowType, tpl.ID); err != nil {
		return err
	}
	tpl.IsDefault = true
	tpl.UpdatedAt = s.now()
	return s.templates.Update(ctx, tpl)
}

// logError logs store failures at error level and caller mistakes at warn level
func (s *templateServiceImpl) logError(msg string, err error, keysAndValues ...interface{}) {
	kv := append([]interface{}{"error", err, "kind", apperr.KindOf(err)}, keysAndValues...)
	if apperr.KindOf(err) == apperr.KindStore {
		s.logger.Error(msg, kv...)
		return
	}
	s.logger.Warn(msg, kv...)
}

func (s *templateServiceImpl) emit(ctx context.Context, t event.Type, templateID string, payload map[string]interface{}) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.DispatchAsync(ctx, event.NewEvent(t, templateID, payload))
}
