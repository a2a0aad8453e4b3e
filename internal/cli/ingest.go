package cli

import (
	"github.com/spf13/cobra"

	"reward-anomaly-engine/internal/app"
)

var (
	ingestEvents string
	ingestUsers  string
	ingestDryRun bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load reward events and user profiles from CSV files",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Ingest(cmd.Context(), app.IngestOptions{
			EventsPath: ingestEvents,
			UsersPath:  ingestUsers,
			DryRun:     ingestDryRun,
		})
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestEvents, "events", "", "CSV file of reward events")
	ingestCmd.Flags().StringVar(&ingestUsers, "users", "", "CSV file of user profiles")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Parse and validate without writing to the database")
}
