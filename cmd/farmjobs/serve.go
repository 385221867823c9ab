package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"farmjobs/internal/auth"
	httpx "farmjobs/internal/http"
	"farmjobs/internal/logging"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the admin API and run the worker in the same process",
	RunE:  runServe,
}

var (
	serveNoWorker    bool
	serveNoScheduler bool
)

func init() {
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "only serve HTTP")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "do not enqueue the daily notification")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.cfg.RequireJWT(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopBackground := func() {}
	if !serveNoWorker {
		if stopBackground, err = a.runBackground(ctx, !serveNoScheduler); err != nil {
			return err
		}
	}

	r := httpx.NewRouter(a.cfg, a.db, auth.NewJWT(a.cfg.JWTSecret), a.repo)
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("listening", "addr", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logging.Error(err, "http server")
	}

	logging.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	stopBackground()
	return err
}
