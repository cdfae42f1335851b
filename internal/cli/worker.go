package cli

import (
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/app"
	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	var migrateFirst bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start the outbox dispatch worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if migrateFirst {
				if err := app.RunMigrations("up"); err != nil {
					return err
				}
			}

			app.RunWorker()
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "Run database migrations before starting the worker")

	return cmd
}
