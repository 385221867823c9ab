package main

import (
	"context"
	"os/signal"
	"syscall"

	"farmjobs/internal/logging"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job poller without the HTTP API",
	RunE:  runWorker,
}

var workerNoScheduler bool

func init() {
	workerCmd.Flags().BoolVar(&workerNoScheduler, "no-scheduler", false, "do not enqueue the daily notification")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopBackground, err := a.runBackground(ctx, !workerNoScheduler)
	if err != nil {
		return err
	}
	<-ctx.Done()
	logging.Info("shutting down, waiting for in-flight jobs")
	stopBackground()
	return nil
}
