package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
)

// TemplateSeed describes a template loaded from a seed file
type TemplateSeed struct {
	Name         string              `yaml:"name"`
	Description  string              `yaml:"description"`
	WorkflowType entity.WorkflowType `yaml:"workflow_type"`
	Default      bool                `yaml:"default"`
	Steps        []StepInput         `yaml:"steps"`
}

type seedFile struct {
	Templates []TemplateSeed `yaml:"templates"`
}

// SeedResult reports what SeedTemplates did
type SeedResult struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// LoadTemplateSeeds parses a YAML document with a top-level templates list
func LoadTemplateSeeds(r io.Reader) ([]TemplateSeed, error) {
	var file seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse template seeds: %w", err)
	}
	return file.Templates, nil
}

// LoadTemplateSeedsFile reads seeds from a YAML file
func LoadTemplateSeedsFile(path string) ([]TemplateSeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return LoadTemplateSeeds(f)
}

func (s *templateServiceImpl) SeedTemplates(ctx context.Context, seeds []TemplateSeed) (*SeedResult, error) {
	result := &SeedResult{}

	for _, seed := range seeds {
		created, err := s.seedOne(ctx, seed)
		if err != nil {
			s.logger.Error("Failed to seed template", "error", err, "name", seed.Name)
			return result, fmt.Errorf("seed %q: %w", seed.Name, err)
		}
		if created {
			result.Created = append(result.Created, seed.Name)
		} else {
			result.Skipped = append(result.Skipped, seed.Name)
		}
	}

	s.logger.Info("Template seeding completed", "created", len(result.Created), "skipped", len(result.Skipped))
	return result, nil
}

// seedOne creates the template, its steps and default flag in a single transaction.
// Existing templates are left untouched.
func (s *templateServiceImpl) seedOne(ctx context.Context, seed TemplateSeed) (bool, error) {
	created := false
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := s.templates.GetByNameAndType(txCtx, seed.Name, seed.WorkflowType)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		tpl, err := entity.NewWorkflowTemplate(seed.Name, seed.Description, seed.WorkflowType)
		if err != nil {
			return err
		}
		tpl.CreatedAt = s.now()
		tpl.UpdatedAt = tpl.CreatedAt
		if err := s.templates.Create(txCtx, tpl); err != nil {
			return err
		}

		for i, in := range seed.Steps {
			spec, err := entity.NewStepSpec(tpl.ID, i+1, in.ApproverType, in.ApproverRole, in.ApproverUserID)
			if err != nil {
				return err
			}
			spec.CreatedAt = tpl.CreatedAt
			if err := s.templates.CreateStep(txCtx, spec); err != nil {
				return err
			}
		}

		if seed.Default {
			if err := s.makeDefault(txCtx, tpl); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	return created, err
}
