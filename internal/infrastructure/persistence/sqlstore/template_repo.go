package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
)

const templateColumns = `id, name, description, workflow_type, is_default, is_active, created_at, updated_at`

const stepSpecColumns = `id, template_id, step_order, approver_type, approver_role, approver_user_id, created_at`

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	store *Store
}

func (r *TemplateRepository) Create(ctx context.Context, t *entity.WorkflowTemplate) error {
	query := r.store.rebind(`
		INSERT INTO workflow_templates (` + templateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)

	err := r.store.run(ctx, "template.create", func(ctx context.Context, exec sqlx.ExtContext) error {
		_, err := exec.ExecContext(ctx, query,
			t.ID, t.Name, t.Description, t.WorkflowType, t.IsDefault, t.IsActive, t.CreatedAt, t.UpdatedAt)
		return err
	})
	if err != nil {
		return r.store.storeErr("TemplateRepository.Create", err, "create template", zap.String("name", t.Name))
	}
	return nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	query := r.store.rebind(`SELECT ` + templateColumns + ` FROM workflow_templates WHERE id = ?`)

	var t entity.WorkflowTemplate
	err := r.store.run(ctx, "template.get", func(ctx context.Context, exec sqlx.ExtContext) error {
		return sqlx.GetContext(ctx, exec, &t, query, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("TemplateRepository.GetByID", "workflow template %s not found", id)
	}
	if err != nil {
		return nil, r.store.storeErr("TemplateRepository.GetByID", err, "get template", zap.String("id", id))
	}
	return &t, nil
}

func (r *TemplateRepository) GetByNameAndType(ctx context.Context, name string, workflowType entity.WorkflowType) (*entity.WorkflowTemplate, error) {
	query := r.store.rebind(`
		SELECT ` + templateColumns + ` FROM workflow_templates
		WHERE name = ? AND workflow_type = ? AND is_active = ?
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var t entity.WorkflowTemplate
	err := r.store.run(ctx, "template.get_by_name", func(ctx context.Context, exec sqlx.ExtContext) error {
		return sqlx.GetContext(ctx, exec, &t, query, name, workflowType, true)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("TemplateRepository.GetByNameAndType", "no active %s template named %q", workflowType, name)
	}
	if err != nil {
		return nil, r.store.storeErr("TemplateRepository.GetByNameAndType", err, "get template by name", zap.String("name", name))
	}
	return &t, nil
}

func (r *TemplateRepository) Update(ctx context.Context, t *entity.WorkflowTemplate) error {
	query := r.store.rebind(`
		UPDATE workflow_templates
		SET name = ?, description = ?, workflow_type = ?, is_default = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`)

	var found bool
	err := r.store.run(ctx, "template.update", func(ctx context.Context, exec sqlx.ExtContext) error {
		res, err := exec.ExecContext(ctx, query,
			t.Name, t.Description, t.WorkflowType, t.IsDefault, t.IsActive, t.UpdatedAt, t.ID)
		if err != nil {
			return err
		}
		found, err = expectOneRow(res)
		return err
	})
	if err != nil {
		return r.store.storeErr("TemplateRepository.Update", err, "update template", zap.String("id", t.ID))
	}
	if !found {
		return apperr.NotFound("TemplateRepository.Update", "workflow template %s not found", t.ID)
	}
	return nil
}

func (r *TemplateRepository) ListActive(ctx context.Context, workflowType *entity.WorkflowType) ([]*entity.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE is_active = ?`
	args := []interface{}{true}
	if workflowType != nil {
		query += ` AND workflow_type = ?`
		args = append(args, *workflowType)
	}
	query = r.store.rebind(query + ` ORDER BY created_at DESC, id`)

	var templates []*entity.WorkflowTemplate
	err := r.store.run(ctx, "template.list", func(ctx context.Context, exec sqlx.ExtContext) error {
		return sqlx.SelectContext(ctx, exec, &templates, query, args...)
	})
	if err != nil {
		return nil, r.store.storeErr("TemplateRepository.ListActive", err, "list templates")
	}
	return templates, nil
}

func (r *TemplateRepository) ListActiveDefaults(ctx context.Context, workflowType entity.WorkflowType) ([]*entity.WorkflowTemplate, error) {
	query := r.store.rebind(`
		SELECT ` + templateColumns + ` FROM workflow_templates
		WHERE workflow_type = ? AND is_default = ? AND is_active = ?
		ORDER BY created_at DESC
	`)

	var templates []*entity.WorkflowTemplate
	err := r.store.run(ctx, "template.list_defaults", func(ctx context.Context, exec sqlx.ExtContext) error {
		return sqlx.SelectContext(ctx, exec, &templates, query, workflowType, true, true)
	})
	if err != nil {
		return nil, r.store.storeErr("TemplateRepository.ListActiveDefaults", err, "list default templates",
			zap.String("workflow_type", workflowType.String()))
	}
	return templates, nil
}

func (r *TemplateRepository) ClearDefaults(ctx context.Context, workflowType entity.WorkflowType, exceptID string) error {
	query := r.store.rebind(`
		UPDATE workflow_templates SET is_default = ?
		WHERE workflow_type = ? AND is_default = ? AND id <> ?
	`)

	err := r.store.run(ctx, "template.clear_defaults", func(ctx context.Context, exec sqlx.ExtContext) error {
		_, err := exec.ExecContext(ctx, query, false, workflowType, true, exceptID)
		return err
	})
	if err != nil {
		return r.store.storeErr("TemplateRepository.ClearDefaults", err, "clear default templates",
			zap.String("workflow_type", workflowType.String()))
	}
	return nil
}

func (r *TemplateRepository) CreateStep(ctx context.Context, s *entity.StepSpec) error {
	query := r.store.rebind(`
		INSERT INTO workflow_steps (` + stepSpecColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	err := r.store.run(ctx, "template.create_step", func(ctx context.Context, exec sqlx.ExtContext) error {
		_, err := exec.ExecContext(ctx, query,
			s.ID, s.TemplateID, s.StepOrder, s.ApproverType, s.ApproverRole, s.ApproverUserID, s.CreatedAt)
		return err
	})
	if err != nil {
		return r.store.storeErr("TemplateRepository.CreateStep", err, "create template step",
			zap.String("template_id", s.TemplateID), zap.Int("step_order", s.StepOrder))
	}
	return nil
}

func (r *TemplateRepository) ListSteps(ctx context.Context, templateID string) ([]entity.StepSpec, error) {
	query := r.store.rebind(`
		SELECT ` + stepSpecColumns + ` FROM workflow_steps
		WHERE template_id = ?
		ORDER BY step_order ASC
	`)

	var steps []entity.StepSpec
	err := r.store.run(ctx, "template.list_steps", func(ctx context.Context, exec sqlx.ExtContext) error {
		return sqlx.SelectContext(ctx, exec, &steps, query, templateID)
	})
	if err != nil {
		return nil, r.store.storeErr("TemplateRepository.ListSteps", err, "list template steps", zap.String("template_id", templateID))
	}
	return steps, nil
}

func (r *TemplateRepository) CountSteps(ctx context.Context, templateID string) (int, error) {
	query := r.store.rebind(`SELECT COUNT(*) FROM workflow_steps WHERE template_id = ?`)

	var count int
	err := r.store.run(ctx, "template.count_steps", func(ctx context.Context, exec sqlx.ExtContext) error {
		return sqlx.GetContext(ctx, exec, &count, query, templateID)
	})
	if err != nil {
		return 0, r.store.storeErr("TemplateRepository.CountSteps", err, "count template steps", zap.String("template_id", templateID))
	}
	return count, nil
}
