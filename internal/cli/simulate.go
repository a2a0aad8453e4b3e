package cli

import (
	"github.com/spf13/cobra"

	"reward-anomaly-engine/internal/alerting"
	"reward-anomaly-engine/internal/app"
)

var simulateKind string

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic anomaly through the configured alert channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{Kind: simulateKind})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateKind, "kind", alerting.KindSpike, "Anomaly kind to simulate: spike or duplicate")
}
