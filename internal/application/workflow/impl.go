package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/procurement-workflow/internal/application/dispatcher"
	"github.com/garyjia/procurement-workflow/internal/application/port"
	"github.com/garyjia/procurement-workflow/internal/application/service"
	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
	"github.com/garyjia/procurement-workflow/internal/domain/event"
	domainwf "github.com/garyjia/procurement-workflow/internal/domain/workflow"
	"github.com/garyjia/procurement-workflow/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	templates port.TemplateRepository
	instances port.InstanceRepository
	steps     port.StepRepository
	txManager port.TransactionManager
	logger    Logger

	dispatcher dispatcher.Dispatcher
	tracer     trace.Tracer
	now        func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithClock overrides the time source used for decision and completion timestamps
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	templates port.TemplateRepository,
	instances port.InstanceRepository,
	steps port.StepRepository,
	txManager port.TransactionManager,
	logger Logger,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		templates: templates,
		instances: instances,
		steps:     steps,
		txManager: txManager,
		logger:    logger,
		tracer:    otel.Tracer("procurement-workflow/internal/application/workflow"),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) CreateWorkflowInstance(ctx context.Context, req CreateInstanceRequest) (inst *entity.WorkflowInstance, err error) {
	ctx, span := e.tracer.Start(ctx, "WorkflowEngine.CreateWorkflowInstance",
		trace.WithAttributes(
			attribute.String("document.type", req.DocumentType.String()),
			attribute.String("document.id", req.DocumentID),
		))
	defer func() { utils.EndSpan(span, err) }()

	if !req.DocumentType.IsValid() {
		return nil, apperr.Validation("CreateWorkflowInstance", "invalid document type %q", req.DocumentType)
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		return nil, apperr.Validation("CreateWorkflowInstance", "document id is required")
	}

	var tpl *entity.WorkflowTemplate
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tpl, err = e.resolveTemplate(txCtx, req)
		if err != nil {
			return err
		}

		inst, err = entity.NewWorkflowInstance(tpl.ID, req.DocumentType, req.DocumentID, req.CreatedBy)
		if err != nil {
			return err
		}
		inst.CreatedAt = e.now()
		inst.UpdatedAt = inst.CreatedAt

		inst.Steps = make([]*entity.ApprovalStep, 0, len(tpl.Steps))
		for _, spec := range tpl.Steps {
			step, err := entity.NewApprovalStep(inst.ID, spec)
			if err != nil {
				return err
			}
			step.CreatedAt = inst.CreatedAt
			inst.Steps = append(inst.Steps, step)
		}
		// step numbers may start above 1 after template edits
		inst.CurrentStep = domainwf.Aggregate(inst.Steps).CurrentStep

		if err := e.instances.Create(txCtx, inst); err != nil {
			return err
		}
		if len(inst.Steps) == 0 {
			return nil
		}
		return e.steps.CreateBatch(txCtx, inst.Steps)
	})
	if err != nil {
		e.logError("Failed to create workflow instance", err,
			"document_type", req.DocumentType,
			"document_id", req.DocumentID,
		)
		return nil, err
	}

	if len(inst.Steps) == 0 {
		e.logger.Warn("Workflow instance has no steps and will stay pending",
			"instance_id", inst.ID,
			"template_id", tpl.ID,
		)
	}
	e.logger.Info("Workflow instance created",
		"instance_id", inst.ID,
		"template_id", tpl.ID,
		"document_type", inst.DocumentType,
		"document_id", inst.DocumentID,
		"steps", len(inst.Steps),
	)

	e.emit(ctx, event.NewEvent(event.TypeInstanceCreated, inst.ID, map[string]interface{}{
		"template_id": tpl.ID,
		"steps":       len(inst.Steps),
	}).ForDocument(inst.DocumentType.String(), inst.DocumentID))

	return inst, nil
}

// resolveTemplate loads the explicit template or the default for the document type,
// with steps
func (e *engineImpl) resolveTemplate(ctx context.Context, req CreateInstanceRequest) (*entity.WorkflowTemplate, error) {
	workflowType := req.DocumentType.WorkflowType()

	if req.TemplateID == "" {
		return service.ResolveDefaultTemplate(ctx, e.templates, workflowType)
	}

	tpl, err := e.templates.GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if !tpl.IsActive {
		return nil, apperr.NotFound("CreateWorkflowInstance", "template %s is not active", req.TemplateID)
	}
	if tpl.WorkflowType != workflowType {
		return nil, apperr.Validation("CreateWorkflowInstance",
			"template %q is for %s, not %s documents", tpl.Name, tpl.WorkflowType, req.DocumentType)
	}
	if tpl.Steps, err = e.templates.ListSteps(ctx, tpl.ID); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (e *engineImpl) UpdateApprovalStep(ctx context.Context, req DecideRequest) (step *entity.ApprovalStep, err error) {
	ctx, span := e.tracer.Start(ctx, "WorkflowEngine.UpdateApprovalStep",
		trace.WithAttributes(
			attribute.String("step.id", req.StepID),
			attribute.String("step.decision", string(req.Decision)),
		))
	defer func() { utils.EndSpan(span, err) }()

	if !req.Decision.IsValid() {
		return nil, apperr.Validation("UpdateApprovalStep", "decision must be approved or rejected, got %q", req.Decision)
	}
	if strings.TrimSpace(req.StepID) == "" {
		return nil, apperr.Validation("UpdateApprovalStep", "step id is required")
	}

	var (
		inst     *entity.WorkflowInstance
		previous domainwf.State
	)
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		found, err := e.steps.GetByID(txCtx, req.StepID)
		if err != nil {
			return err
		}

		inst, err = e.instances.GetForUpdate(txCtx, found.WorkflowInstanceID)
		if err != nil {
			return err
		}
		machine, err := e.machineFor(inst)
		if err != nil {
			return err
		}
		previous = machine.State()
		if previous.IsTerminal() {
			return apperr.Conflict("UpdateApprovalStep", "instance already completed (%s)", previous)
		}

		// re-read under the instance lock so the decision sees committed siblings
		if inst.Steps, err = e.steps.ListByInstance(txCtx, inst.ID); err != nil {
			return err
		}
		if step = inst.StepAt(found.StepNumber); step == nil || step.ID != found.ID {
			return apperr.NotFound("UpdateApprovalStep", "step %s not found", req.StepID)
		}

		now := e.now()
		if err := step.Decide(req.Decision, req.Comments, req.DecidedBy, req.ApproverName, now); err != nil {
			return err
		}
		if err := e.steps.Update(txCtx, step); err != nil {
			return err
		}

		return e.applyOutcome(txCtx, "UpdateApprovalStep", inst, machine, now)
	})
	if err != nil {
		e.logError("Failed to update approval step", err, "step_id", req.StepID, "decision", req.Decision)
		return nil, err
	}

	e.logger.Info("Approval step decided",
		"instance_id", inst.ID,
		"step_id", step.ID,
		"step_number", step.StepNumber,
		"decision", req.Decision,
		"decided_by", req.DecidedBy,
		"instance_status", inst.Status,
		"current_step", inst.CurrentStep,
	)

	decided := event.NewEvent(event.TypeStepDecided, inst.ID, map[string]interface{}{
		"step_id":         step.ID,
		"step_number":     step.StepNumber,
		"decision":        string(req.Decision),
		"decided_by":      req.DecidedBy,
		"previous_status": previous.String(),
		"new_status":      inst.Status,
		"current_step":    inst.CurrentStep,
	}).ForDocument(inst.DocumentType.String(), inst.DocumentID)
	e.emit(ctx, decided)
	e.emitCompletion(ctx, inst, decided.CorrelationID)

	return step, nil
}

// applyOutcome derives the aggregate from inst.Steps, fires it on the instance machine
// and persists status, current step and completion time. Must run in a transaction.
func (e *engineImpl) applyOutcome(ctx context.Context, op string, inst *entity.WorkflowInstance, machine domainwf.StateMachine, now time.Time) error {
	outcome := domainwf.Aggregate(inst.Steps)
	if err := machine.Fire(ctx, outcome.Trigger); err != nil {
		return apperr.Conflict(op, "cannot move instance from %s with %s: %v", machine.State(), outcome.Trigger, err)
	}

	inst.Status = machine.State().String()
	inst.CurrentStep = outcome.CurrentStep
	inst.UpdatedAt = now
	if machine.State().IsTerminal() {
		inst.CompletedAt = &now
	}
	return e.instances.Update(ctx, inst)
}

func (e *engineImpl) machineFor(inst *entity.WorkflowInstance) (domainwf.StateMachine, error) {
	state := domainwf.State(inst.Status)
	if !state.IsValid() {
		return nil, apperr.Store("machineFor", fmt.Errorf("invalid status %q", inst.Status),
			"instance %s has corrupt state", inst.ID)
	}
	return BuildInstanceStateMachine(state), nil
}

func (e *engineImpl) GetPendingApprovalsFor(ctx context.Context, approver entity.Approver) (instances []*entity.WorkflowInstance, err error) {
	ctx, span := e.tracer.Start(ctx, "WorkflowEngine.GetPendingApprovalsFor",
		trace.WithAttributes(
			attribute.String("approver.id", approver.ID),
			attribute.String("approver.role", approver.Role),
		))
	defer func() { utils.EndSpan(span, err) }()

	approver.ID = strings.TrimSpace(approver.ID)
	approver.Role = strings.TrimSpace(approver.Role)
	if approver.ID == "" && approver.Role == "" {
		return nil, apperr.Validation("GetPendingApprovalsFor", "approver id or role is required")
	}

	instances, err = e.instances.ListAwaiting(ctx, approver)
	if err != nil {
		e.logger.Error("Failed to list pending approvals", "error", err, "approver_id", approver.ID, "approver_role", approver.Role)
		return nil, err
	}
	if err := e.loadSteps(ctx, instances...); err != nil {
		return nil, err
	}
	return instances, nil
}

func (e *engineImpl) GetInstance(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error) {
	inst, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err := e.loadSteps(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (e *engineImpl) GetInstanceForDocument(ctx context.Context, documentType entity.DocumentType, documentID string) (*entity.WorkflowInstance, error) {
	if !documentType.IsValid() {
		return nil, apperr.Validation("GetInstanceForDocument", "invalid document type %q", documentType)
	}
	inst, err := e.instances.GetLatestForDocument(ctx, documentType, documentID)
	if err != nil {
		return nil, err
	}
	if err := e.loadSteps(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (e *engineImpl) ListInstances(ctx context.Context, filter InstanceFilter) ([]*entity.WorkflowInstance, error) {
	if filter.Status != "" && !domainwf.State(filter.Status).IsValid() {
		return nil, apperr.Validation("ListInstances", "invalid status %q", filter.Status)
	}
	if filter.DocumentType != "" && !filter.DocumentType.IsValid() {
		return nil, apperr.Validation("ListInstances", "invalid document type %q", filter.DocumentType)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, apperr.Validation("ListInstances", "limit and offset must not be negative")
	}
	return e.instances.List(ctx, filter)
}

func (e *engineImpl) Reconcile(ctx context.Context, instanceID string) (changed bool, err error) {
	ctx, span := e.tracer.Start(ctx, "WorkflowEngine.Reconcile",
		trace.WithAttributes(attribute.String("instance.id", instanceID)))
	defer func() { utils.EndSpan(span, err) }()

	var inst *entity.WorkflowInstance
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inst, err = e.instances.GetForUpdate(txCtx, instanceID)
		if err != nil {
			return err
		}
		machine, err := e.machineFor(inst)
		if err != nil {
			return err
		}
		if machine.State().IsTerminal() {
			return nil
		}

		if inst.Steps, err = e.steps.ListByInstance(txCtx, inst.ID); err != nil {
			return err
		}
		outcome := domainwf.Aggregate(inst.Steps)
		if outcome.State == machine.State() && outcome.CurrentStep == inst.CurrentStep {
			return nil
		}

		changed = true
		return e.applyOutcome(txCtx, "Reconcile", inst, machine, e.now())
	})
	if err != nil {
		e.logError("Failed to reconcile workflow instance", err, "instance_id", instanceID)
		return false, err
	}

	if changed {
		e.logger.Warn("Workflow instance reconciled",
			"instance_id", inst.ID,
			"status", inst.Status,
			"current_step", inst.CurrentStep,
		)
		reconciled := event.NewEvent(event.TypeInstanceReconciled, inst.ID, map[string]interface{}{
			"new_status":   inst.Status,
			"current_step": inst.CurrentStep,
		}).ForDocument(inst.DocumentType.String(), inst.DocumentID)
		e.emit(ctx, reconciled)
		e.emitCompletion(ctx, inst, reconciled.CorrelationID)
	}
	return changed, nil
}

func (e *engineImpl) loadSteps(ctx context.Context, instances ...*entity.WorkflowInstance) error {
	for _, inst := range instances {
		steps, err := e.steps.ListByInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		inst.Steps = steps
	}
	return nil
}

// logError logs store failures at error level and caller mistakes at warn level
func (e *engineImpl) logError(msg string, err error, keysAndValues ...interface{}) {
	kv := append([]interface{}{"error", err, "kind", apperr.KindOf(err)}, keysAndValues...)
	if errors.Is(err, apperr.ErrStore) {
		e.logger.Error(msg, kv...)
		return
	}
	e.logger.Warn(msg, kv...)
}

func (e *engineImpl) emitCompletion(ctx context.Context, inst *entity.WorkflowInstance, correlationID string) {
	var t event.Type
	switch inst.Status {
	case entity.InstanceStatusApproved:
		t = event.TypeInstanceApproved
	case entity.InstanceStatusRejected:
		t = event.TypeInstanceRejected
	default:
		return
	}
	e.emit(ctx, event.NewEvent(t, inst.ID, map[string]interface{}{
		"duration_seconds": inst.CompletedAt.Sub(inst.CreatedAt).Seconds(),
	}).ForDocument(inst.DocumentType.String(), inst.DocumentID).WithCorrelation(correlationID))
}

// emit fires async to avoid blocking; delivery problems never fail the caller
func (e *engineImpl) emit(ctx context.Context, evt *event.Event) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.DispatchAsync(ctx, evt)
}
