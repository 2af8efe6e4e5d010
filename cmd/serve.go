package cmd

import (
	"github.com/spf13/cobra"

	"reportq/internal/worker"
)

func serveCmd() *cobra.Command {
	var cfg worker.Config

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API together with both worker lanes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Serve(cfg)
		},
	}

	command.Flags().IntVarP(&cfg.Port, "port", "p", 0, "Port to run the server on (default from HTTP_Port)")
	command.Flags().IntVar(&cfg.ReportConcurrency, "report-workers", 0, "Report lane workers (default from config)")
	command.Flags().IntVar(&cfg.FileConcurrency, "file-workers", 0, "File-analysis lane workers (default from config)")
	return command
}
