package cli

import (
	"github.com/spf13/cobra"

	"reward-anomaly-engine/internal/app"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the admin anomaly report over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context(), app.ServeOptions{Watch: serveWatch})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Also run the anomaly watcher in the same process")
}
