package cli

import (
	"github.com/spf13/cobra"

	"reward-anomaly-engine/internal/app"
)

var (
	reportTimeframe string
	reportJSON      bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the anomaly report for a timeframe",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Report(cmd.Context(), app.ReportOptions{
			Timeframe: reportTimeframe,
			JSON:      reportJSON,
		})
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportTimeframe, "timeframe", "24h", "Report window: 24h, 7d or 30d")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the report as JSON")
}
