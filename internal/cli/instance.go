package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/procurement-workflow/internal/application/workflow"
	"github.com/garyjia/procurement-workflow/internal/container"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
)

func newInstanceCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"instances", "inst"},
		Short:   "Manage workflow instances and approval decisions",
	}

	cmd.AddCommand(
		newInstanceCreateCommand(opts),
		newInstanceShowCommand(opts),
		newInstanceListCommand(opts),
		newInstancePendingCommand(opts),
		newInstanceDecideCommand(opts),
	)
	return cmd
}

func newInstanceCreateCommand(opts *options) *cobra.Command {
	var req workflow.CreateInstanceRequest
	var documentType string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a workflow for a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.DocumentType = entity.DocumentType(documentType)
			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				inst, err := c.WorkflowEngine().CreateWorkflowInstance(ctx, req)
				if err != nil {
					return err
				}
				return printInstance(opts.printer(cmd), inst, "Workflow instance created")
			})
		},
	}

	cmd.Flags().StringVar(&documentType, "document-type", "", "document type (rfq, bid, budget)")
	cmd.Flags().StringVar(&req.DocumentID, "document-id", "", "document id")
	cmd.Flags().StringVar(&req.TemplateID, "template", "", "template id; defaults to the type's default template")
	cmd.Flags().StringVar(&req.CreatedBy, "created-by", "", "user creating the instance")
	_ = cmd.MarkFlagRequired("document-type")
	_ = cmd.MarkFlagRequired("document-id")
	return cmd
}

func newInstanceShowCommand(opts *options) *cobra.Command {
	var documentType, documentID string

	cmd := &cobra.Command{
		Use:   "show [instance-id]",
		Short: "Show an instance and its steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && (documentType == "" || documentID == "") {
				return fmt.Errorf("an instance id or --document-type with --document-id is required")
			}

			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				var (
					inst *entity.WorkflowInstance
					err  error
				)
				if len(args) == 1 {
					inst, err = c.WorkflowEngine().GetInstance(ctx, args[0])
				} else {
					inst, err = c.WorkflowEngine().GetInstanceForDocument(ctx, entity.DocumentType(documentType), documentID)
				}
				if err != nil {
					return err
				}
				return printInstance(opts.printer(cmd), inst, "")
			})
		},
	}

	cmd.Flags().StringVar(&documentType, "document-type", "", "look up by document type")
	cmd.Flags().StringVar(&documentID, "document-id", "", "look up by document id")
	return cmd
}

func newInstanceListCommand(opts *options) *cobra.Command {
	var (
		filter       workflow.InstanceFilter
		documentType string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.DocumentType = entity.DocumentType(documentType)
			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				instances, err := c.WorkflowEngine().ListInstances(ctx, filter)
				if err != nil {
					return err
				}
				return printInstances(opts.printer(cmd), instances, "No instances")
			})
		},
	}

	cmd.Flags().StringVar(&filter.Status, "status", "", "filter by status (pending, approved, rejected)")
	cmd.Flags().StringVar(&documentType, "document-type", "", "filter by document type")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of instances")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "number of instances to skip")
	return cmd
}

func newInstancePendingCommand(opts *options) *cobra.Command {
	var approver entity.Approver

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List instances waiting on an approver",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				instances, err := c.WorkflowEngine().GetPendingApprovalsFor(ctx, approver)
				if err != nil {
					return err
				}
				return printInstances(opts.printer(cmd), instances, "Nothing waiting for approval")
			})
		},
	}

	cmd.Flags().StringVar(&approver.ID, "user", "", "approver user id")
	cmd.Flags().StringVar(&approver.Role, "role", "", "approver role")
	cmd.MarkFlagsOneRequired("user", "role")
	return cmd
}

func newInstanceDecideCommand(opts *options) *cobra.Command {
	var (
		req      workflow.DecideRequest
		decision string
	)

	cmd := &cobra.Command{
		Use:   "decide <step-id>",
		Short: "Approve or reject an approval step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.StepID = args[0]
			req.Decision = entity.Decision(decision)

			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				step, err := c.WorkflowEngine().UpdateApprovalStep(ctx, req)
				if err != nil {
					return err
				}
				inst, err := c.WorkflowEngine().GetInstance(ctx, step.WorkflowInstanceID)
				if err != nil {
					return err
				}
				return printInstance(opts.printer(cmd), inst,
					fmt.Sprintf("Step %d %s", step.StepNumber, step.Status))
			})
		},
	}

	cmd.Flags().StringVar(&decision, "decision", "", "approved or rejected")
	cmd.Flags().StringVar(&req.DecidedBy, "by", "", "user making the decision")
	cmd.Flags().StringVar(&req.ApproverName, "name", "", "display name of the approver")
	cmd.Flags().StringVar(&req.Comments, "comments", "", "decision comments")
	_ = cmd.MarkFlagRequired("decision")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func printInstance(p *printer, inst *entity.WorkflowInstance, headline string) error {
	if p.json {
		return p.JSON(inst)
	}
	if headline != "" {
		p.Success("%s", headline)
	}
	p.Field("ID", inst.ID)
	p.Field("Document", fmt.Sprintf("%s/%s", inst.DocumentType, inst.DocumentID))
	p.Field("Template", inst.WorkflowID)
	p.Field("Status", formatStatus(inst.Status))
	p.Field("Current step", inst.CurrentStep)
	p.Field("Created", inst.CreatedAt.Format("2006-01-02 15:04:05"))
	if inst.CompletedAt != nil {
		p.Field("Completed", inst.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if len(inst.Steps) == 0 {
		return nil
	}

	fmt.Fprintln(p.out)
	t := newTable("STEP", "STEP_ID", "APPROVER", "STATUS", "DECIDED_BY", "COMMENTS")
	for _, s := range inst.Steps {
		t.AddRow(fmt.Sprint(s.StepNumber), s.ID, approverLabel(s.ApproverRole, s.ApproverUserID),
			formatStatus(s.Status), dash(s.DecidedBy), dash(s.Comments))
	}
	t.Render(p.out)
	return nil
}

func printInstances(p *printer, instances []*entity.WorkflowInstance, empty string) error {
	if p.json {
		if instances == nil {
			instances = []*entity.WorkflowInstance{}
		}
		return p.JSON(instances)
	}
	if len(instances) == 0 {
		p.Info("%s", empty)
		return nil
	}

	t := newTable("ID", "DOCUMENT", "STATUS", "STEP", "CREATED")
	for _, inst := range instances {
		t.AddRow(inst.ID, fmt.Sprintf("%s/%s", inst.DocumentType, inst.DocumentID),
			formatStatus(inst.Status), fmt.Sprint(inst.CurrentStep),
			inst.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	t.Render(p.out)
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
