package cli

import (
	"github.com/spf13/cobra"

	"github.com/garyjia/procurement-workflow/pkg/database"
)

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := database.Open(database.Config{
				Driver: cfg.Database.Driver,
				Path:   cfg.Database.Path,
				DSN:    cfg.Database.DSN,
			}, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.NewMigrator(db, logger).Run()
			if err != nil {
				return err
			}

			p := opts.printer(cmd)
			if p.json {
				return p.JSON(map[string]int{"applied": applied})
			}
			if applied == 0 {
				p.Info("Database is up to date")
				return nil
			}
			p.Success("Applied %d migration(s)", applied)
			return nil
		},
	}
}
