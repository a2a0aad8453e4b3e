package cli

import (
	"github.com/spf13/cobra"

	"reward-anomaly-engine/internal/app"
)

var (
	exportTimeframe string
	exportPNGPath   string
	exportCSVPath   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a report window as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Timeframe: exportTimeframe,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportTimeframe, "timeframe", "7d", "Report window: 24h, 7d or 30d")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart of daily payouts")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV report")
}
