package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-workflow/internal/application/port"
	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
)

const instanceColumns = `id, workflow_id, document_type, document_id, current_step, status, created_by, created_at, completed_at, updated_at`

// DefaultListLimit caps List when the filter sets no limit
const DefaultListLimit = 100

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	store *Store
}

func (r *InstanceRepository) Create(ctx context.Context, i *entity.WorkflowInstance) error {
	query := r.store.rebind(`
		INSERT INTO workflow_instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	err := r.store.run(ctx, "instance.create", func(ctx context.Context, exec sqlx.ExtContext) error {
		_, err := exec.ExecContext(ctx, query,
			i.ID, i.WorkflowID, i.DocumentType, i.DocumentID, i.CurrentStep, i.Status,
			i.CreatedBy, i.CreatedAt, i.CompletedAt, i.UpdatedAt)
		return err
	})
	if err != nil {
		return r.store.storeErr("InstanceRepository.Create", err, "create instance",
			zap.String("document_type", i.DocumentType.String()),
			zap.String("document_id", i.DocumentID))
	}
	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	return r.get(ctx, "InstanceRepository.GetByID", id, false)
}

// GetForUpdate takes a row lock on PostgreSQL. SQLite transactions already hold the
// database write lock from BEGIN IMMEDIATE.
func (r *InstanceRepository) GetForUpdate(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	return r.get(ctx, "InstanceRepository.GetForUpdate", id, r.store.isPostgres())
}

func (r *InstanceRepository) get(ctx context.Context, op, id string, forUpdate bool) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	query = r.store.rebind(query)

	var i entity.WorkflowInstance
	err := r.store.run(ctx, "instance.get", func(ctx context.Context, exec sqlx.ExtContext) error {
		return sqlx.GetContext(ctx, exec, &i, query, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "workflow instance %s not found", id)
	}
	if err != nil {
		return nil, r.store.storeErr(op, err, "get instance", zap.String("id", id))
	}
	return &i, nil
}

func (r *InstanceRepository) GetLatestForDocument(ctx context.Context, documentType entity.DocumentType, documentID string) (*entity.WorkflowInstance, error) {
	query := r.store.rebind(`
		SELECT ` + instanceColumns + ` FROM workflow_instances
		WHERE document_type = ? AND document_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`)

	var i entity.WorkflowInstance
	err := r.store.run(ctx, "instance.get_for_document", func(ctx context.Context, exec sqlx.ExtContext) error {
		return sqlx.GetContext(ctx, exec, &i, query, documentType, documentID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("InstanceRepository.GetLatestForDocument",
			"no workflow instance for %s %s", documentType, documentID)
	}
	if err != nil {
		return nil, r.store.storeErr("InstanceRepository.GetLatestForDocument", err, "get instance for document",
			zap.String("document_type", documentType.String()),
			zap.String("document_id", documentID))
	}
	return &i, nil
}

func (r *InstanceRepository) Update(ctx context.Context, i *entity.WorkflowInstance) error {
	query := r.store.rebind(`
		UPDATE workflow_instances
		SET current_step = ?, status = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`)

	var found bool
	err := r.store.run(ctx, "instance.update", func(ctx context.Context, exec sqlx.ExtContext) error {
		res, err := exec.ExecContext(ctx, query, i.CurrentStep, i.Status, i.CompletedAt, i.UpdatedAt, i.ID)
		if err != nil {
			return err
		}
		found, err = expectOneRow(res)
		return err
	})
	if err != nil {
		return r.store.storeErr("InstanceRepository.Update", err, "update instance", zap.String("id", i.ID))
	}
	if !found {
		return apperr.NotFound("InstanceRepository.Update", "workflow instance %s not found", i.ID)
	}
	return nil
}

func (r *InstanceRepository) List(ctx context.Context, filter port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE 1 = 1`
	var args []interface{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.DocumentType != "" {
		query += ` AND document_type = ?`
		args = append(args, filter.DocumentType)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query = r.store.rebind(query + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`)
	args = append(args, limit, offset)

	var instances []*entity.WorkflowInstance
	err := r.store.run(ctx, "instance.list", func(ctx context.Context, exec sqlx.ExtContext) error {
		return sqlx.SelectContext(ctx, exec, &instances, query, args...)
	})
	if err != nil {
		return nil, r.store.storeErr("InstanceRepository.List", err, "list instances")
	}
	return instances, nil
}

func (r *InstanceRepository) ListAwaiting(ctx context.Context, approver entity.Approver) ([]*entity.WorkflowInstance, error) {
	// Empty role or user id must never match steps that leave the column blank
	query := r.store.rebind(`
		SELECT ` + prefixed("i", instanceColumns) + `
		FROM workflow_instances i
		JOIN approval_steps s
		  ON s.workflow_instance_id = i.id AND s.step_number = i.current_step
		WHERE i.status = ?
		  AND s.status = ?
		  AND ((s.approver_role <> '' AND s.approver_role = ?)
		    OR (s.approver_user_id <> '' AND s.approver_user_id = ?))
		ORDER BY i.created_at ASC, i.id
	`)

	var instances []*entity.WorkflowInstance
	err := r.store.run(ctx, "instance.list_awaiting", func(ctx context.Context, exec sqlx.ExtContext) error {
		return sqlx.SelectContext(ctx, exec, &instances, query,
			entity.InstanceStatusPending, entity.StepStatusPending, approver.Role, approver.ID)
	})
	if err != nil {
		return nil, r.store.storeErr("InstanceRepository.ListAwaiting", err, "list pending approvals",
			zap.String("user_id", approver.ID), zap.String("role", approver.Role))
	}
	return instances, nil
}
