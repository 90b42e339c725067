// Package cli implements approvalctl, the command line client for the procurement
// approval workflow. Commands run against the configured database directly.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-workflow/internal/config"
	"github.com/garyjia/procurement-workflow/internal/container"
	"github.com/garyjia/procurement-workflow/pkg/utils"
)

type options struct {
	configPath string
	json       bool
	verbose    bool
}

// NewRootCommand builds the approvalctl command tree
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "approvalctl",
		Short: "Manage procurement approval workflows",
		Long: `approvalctl manages workflow templates and approval instances for RFQs,
bids and budgets.

Examples:
  # Create a budget template with two role-based steps and make it the default
  approvalctl template create --name "Budget sign-off" --type budget_approval --default
  approvalctl template add-step <template-id> --role manager
  approvalctl template add-step <template-id> --role finance_lead

  # Start a workflow for a budget document and approve the first step
  approvalctl instance create --document-type budget --document-id B-1001
  approvalctl instance decide <step-id> --decision approved --by u42`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/config.yaml", "path to the config file")
	root.PersistentFlags().BoolVarP(&opts.json, "json", "j", false, "print JSON output")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(newTemplateCommand(opts))
	root.AddCommand(newInstanceCommand(opts))
	root.AddCommand(newMigrateCommand(opts))

	return root
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func (o *options) printer(cmd *cobra.Command) *printer {
	return &printer{out: cmd.OutOrStdout(), json: o.json}
}

func (o *options) logger() (*zap.Logger, error) {
	if !o.verbose {
		return zap.NewNop(), nil
	}
	return utils.NewLogger(utils.LoggerConfig{Level: "debug", OutputPath: "stderr", Format: "console"})
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// withContainer starts a container without background workers or metrics, runs fn
// and closes the container
func (o *options) withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *container.Container) error) (err error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	logger, err := o.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ccfg := cfg.ToContainerConfig()
	ccfg.Reconciler.Enabled = false
	ccfg.Metrics.Enabled = false
	ccfg.Workflow.SeedFile = ""

	c, err := container.NewContainer(ccfg, logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(ctx, c)
}
