package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/procurement-workflow/internal/application/service"
	"github.com/garyjia/procurement-workflow/internal/container"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
)

func newTemplateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"templates", "tpl"},
		Short:   "Manage workflow templates",
	}

	cmd.AddCommand(
		newTemplateCreateCommand(opts),
		newTemplateAddStepCommand(opts),
		newTemplateListCommand(opts),
		newTemplateShowCommand(opts),
		newTemplateUpdateCommand(opts),
		newTemplateDeactivateCommand(opts),
		newTemplateSetDefaultCommand(opts),
		newTemplateSeedCommand(opts),
	)
	return cmd
}

func newTemplateCreateCommand(opts *options) *cobra.Command {
	var (
		name, description, workflowType string
		makeDefault                     bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				tpl, err := c.Templates().CreateTemplate(ctx, name, description, entity.WorkflowType(workflowType))
				if err != nil {
					return err
				}
				if makeDefault {
					if tpl, err = c.Templates().SetDefaultTemplate(ctx, tpl.ID); err != nil {
						return err
					}
				}
				return printTemplate(opts.printer(cmd), tpl, "Template created")
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "template name")
	cmd.Flags().StringVar(&description, "description", "", "template description")
	cmd.Flags().StringVar(&workflowType, "type", "", "workflow type (rfq_approval, bid_approval, budget_approval)")
	cmd.Flags().BoolVar(&makeDefault, "default", false, "make this the default template for its type")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newTemplateAddStepCommand(opts *options) *cobra.Command {
	var role, user string

	cmd := &cobra.Command{
		Use:   "add-step <template-id>",
		Short: "Append an approver step to a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := service.StepInput{ApproverType: entity.ApproverTypeRole, ApproverRole: role}
			if user != "" {
				input = service.StepInput{ApproverType: entity.ApproverTypeUser, ApproverUserID: user}
			}

			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				step, err := c.Templates().AddStep(ctx, args[0], input)
				if err != nil {
					return err
				}
				p := opts.printer(cmd)
				if p.json {
					return p.JSON(step)
				}
				p.Success("Step %d added: %s", step.StepOrder, approverLabel(step.ApproverRole, step.ApproverUserID))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "approver role")
	cmd.Flags().StringVar(&user, "user", "", "approver user id")
	cmd.MarkFlagsOneRequired("role", "user")
	cmd.MarkFlagsMutuallyExclusive("role", "user")
	return cmd
}

func newTemplateListCommand(opts *options) *cobra.Command {
	var workflowType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *entity.WorkflowType
			if workflowType != "" {
				wt := entity.WorkflowType(workflowType)
				filter = &wt
			}

			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				templates, err := c.Templates().ListTemplates(ctx, filter)
				if err != nil {
					return err
				}
				p := opts.printer(cmd)
				if p.json {
					if templates == nil {
						templates = []*entity.WorkflowTemplate{}
					}
					return p.JSON(templates)
				}
				if len(templates) == 0 {
					p.Info("No templates")
					return nil
				}

				t := newTable("ID", "NAME", "TYPE", "DEFAULT", "CREATED")
				for _, tpl := range templates {
					t.AddRow(tpl.ID, tpl.Name, string(tpl.WorkflowType), yesNo(tpl.IsDefault),
						tpl.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				t.Render(p.out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&workflowType, "type", "", "filter by workflow type")
	return cmd
}

func newTemplateShowCommand(opts *options) *cobra.Command {
	var defaultFor string

	cmd := &cobra.Command{
		Use:   "show [template-id]",
		Short: "Show a template and its steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && defaultFor == "" {
				return fmt.Errorf("a template id or --default-for is required")
			}

			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				var (
					tpl *entity.WorkflowTemplate
					err error
				)
				if len(args) == 1 {
					tpl, err = c.Templates().GetTemplate(ctx, args[0])
				} else {
					tpl, err = c.Templates().GetDefaultTemplate(ctx, entity.WorkflowType(defaultFor))
				}
				if err != nil {
					return err
				}
				return printTemplate(opts.printer(cmd), tpl, "")
			})
		},
	}

	cmd.Flags().StringVar(&defaultFor, "default-for", "", "show the default template of a workflow type")
	return cmd
}

func newTemplateUpdateCommand(opts *options) *cobra.Command {
	var name, description, workflowType string

	cmd := &cobra.Command{
		Use:   "update <template-id>",
		Short: "Update a template's name, description or type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var update service.TemplateUpdate
			if cmd.Flags().Changed("name") {
				update.Name = &name
			}
			if cmd.Flags().Changed("description") {
				update.Description = &description
			}
			if cmd.Flags().Changed("type") {
				wt := entity.WorkflowType(workflowType)
				update.WorkflowType = &wt
			}

			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				tpl, err := c.Templates().UpdateTemplate(ctx, args[0], update)
				if err != nil {
					return err
				}
				return printTemplate(opts.printer(cmd), tpl, "Template updated")
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&workflowType, "type", "", "new workflow type")
	return cmd
}

func newTemplateDeactivateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <template-id>",
		Short: "Deactivate a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				if err := c.Templates().DeactivateTemplate(ctx, args[0]); err != nil {
					return err
				}
				p := opts.printer(cmd)
				if p.json {
					return p.JSON(map[string]interface{}{"id": args[0], "is_active": false})
				}
				p.Success("Template deactivated: %s", args[0])
				return nil
			})
		},
	}
}

func newTemplateSetDefaultCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set-default <template-id>",
		Short: "Make a template the default for its workflow type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				tpl, err := c.Templates().SetDefaultTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				return printTemplate(opts.printer(cmd), tpl, "Default template set")
			})
		},
	}
}

func newTemplateSeedCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Create templates from a YAML seed file, skipping existing ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := service.LoadTemplateSeedsFile(args[0])
			if err != nil {
				return err
			}

			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				result, err := c.Templates().SeedTemplates(ctx, seeds)
				if err != nil {
					return err
				}
				p := opts.printer(cmd)
				if p.json {
					return p.JSON(result)
				}
				for _, name := range result.Created {
					p.Success("Created %s", name)
				}
				for _, name := range result.Skipped {
					p.Warning("Skipped %s (already exists)", name)
				}
				return nil
			})
		},
	}
}

func printTemplate(p *printer, tpl *entity.WorkflowTemplate, headline string) error {
	if p.json {
		return p.JSON(tpl)
	}
	if headline != "" {
		p.Success("%s", headline)
	}
	p.Field("ID", tpl.ID)
	p.Field("Name", tpl.Name)
	p.Field("Type", tpl.WorkflowType)
	p.Field("Default", yesNo(tpl.IsDefault))
	p.Field("Active", yesNo(tpl.IsActive))
	if tpl.Description != "" {
		p.Field("Description", tpl.Description)
	}
	if len(tpl.Steps) == 0 {
		return nil
	}

	fmt.Fprintln(p.out)
	t := newTable("STEP", "APPROVER")
	for _, s := range tpl.Steps {
		t.AddRow(fmt.Sprint(s.StepOrder), approverLabel(s.ApproverRole, s.ApproverUserID))
	}
	t.Render(p.out)
	return nil
}
