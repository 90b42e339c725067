package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
)

const approvalStepColumns = `id, workflow_instance_id, step_number, approver_role, approver_user_id, approver_name, status, approved_at, decided_by, decided_at, comments, created_at`

// StepRepository implements port.StepRepository
type StepRepository struct {
	store *Store
}

// CreateBatch inserts all steps with one statement
func (r *StepRepository) CreateBatch(ctx context.Context, steps []*entity.ApprovalStep) error {
	if len(steps) == 0 {
		return nil
	}

	rows := make([]string, 0, len(steps))
	args := make([]interface{}, 0, len(steps)*12)
	for _, s := range steps {
		rows = append(rows, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			s.ID, s.WorkflowInstanceID, s.StepNumber, s.ApproverRole, s.ApproverUserID, s.ApproverName,
			s.Status, s.ApprovedAt, s.DecidedBy, s.DecidedAt, s.Comments, s.CreatedAt)
	}
	query := r.store.rebind(`INSERT INTO approval_steps (` + approvalStepColumns + `) VALUES ` + strings.Join(rows, ", "))

	err := r.store.run(ctx, "step.create_batch", func(ctx context.Context, exec sqlx.ExtContext) error {
		_, err := exec.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return r.store.storeErr("StepRepository.CreateBatch", err, "create approval steps",
			zap.String("instance_id", steps[0].WorkflowInstanceID), zap.Int("count", len(steps)))
	}
	return nil
}

func (r *StepRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalStep, error) {
	query := r.store.rebind(`SELECT ` + approvalStepColumns + ` FROM approval_steps WHERE id = ?`)

	var s entity.ApprovalStep
	err := r.store.run(ctx, "step.get", func(ctx context.Context, exec sqlx.ExtContext) error {
		return sqlx.GetContext(ctx, exec, &s, query, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("StepRepository.GetByID", "approval step %s not found", id)
	}
	if err != nil {
		return nil, r.store.storeErr("StepRepository.GetByID", err, "get approval step", zap.String("id", id))
	}
	return &s, nil
}

func (r *StepRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.ApprovalStep, error) {
	query := r.store.rebind(`
		SELECT ` + approvalStepColumns + ` FROM approval_steps
		WHERE workflow_instance_id = ?
		ORDER BY step_number ASC
	`)

	var steps []*entity.ApprovalStep
	err := r.store.run(ctx, "step.list", func(ctx context.Context, exec sqlx.ExtContext) error {
		return sqlx.SelectContext(ctx, exec, &steps, query, instanceID)
	})
	if err != nil {
		return nil, r.store.storeErr("StepRepository.ListByInstance", err, "list approval steps", zap.String("instance_id", instanceID))
	}
	return steps, nil
}

func (r *StepRepository) Update(ctx context.Context, s *entity.ApprovalStep) error {
	query := r.store.rebind(`
		UPDATE approval_steps
		SET approver_name = ?, status = ?, approved_at = ?, decided_by = ?, decided_at = ?, comments = ?
		WHERE id = ?
	`)

	var found bool
	err := r.store.run(ctx, "step.update", func(ctx context.Context, exec sqlx.ExtContext) error {
		res, err := exec.ExecContext(ctx, query,
			s.ApproverName, s.Status, s.ApprovedAt, s.DecidedBy, s.DecidedAt, s.Comments, s.ID)
		if err != nil {
			return err
		}
		found, err = expectOneRow(res)
		return err
	})
	if err != nil {
		return r.store.storeErr("StepRepository.Update", err, "update approval step", zap.String("id", s.ID))
	}
	if !found {
		return apperr.NotFound("StepRepository.Update", "approval step %s not found", s.ID)
	}
	return nil
}

// prefixed qualifies a comma separated column list with a table alias
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
