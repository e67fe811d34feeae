package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apk-analysis/apk-drift/internal/api"
	"github.com/apk-analysis/apk-drift/internal/api/handlers"
	"github.com/apk-analysis/apk-drift/internal/queue"
	"github.com/apk-analysis/apk-drift/internal/repository"
	"github.com/apk-analysis/apk-drift/internal/service"
	"github.com/spf13/cobra"
)

var serveWithQueue bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run audit API and Prometheus metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		var closers cleanup
		defer closers.run()

		db, err := openDB(&closers)
		if err != nil {
			return err
		}
		store, err := openStore(ctx)
		if err != nil {
			return err
		}

		runs := service.NewExtractionService(repository.NewRunRepository(db, logger), store, logger)
		artifacts := service.NewArtifactService(store, logger)

		var jobs handlers.JobPublisher
		if serveWithQueue {
			mq, err := queue.NewRabbitMQ(&cfg.RabbitMQ, 1, logger)
			if err != nil {
				return err
			}
			closers.add(func() { mq.Close() })
			mq.StartConnectionWatcher()
			jobs = queue.NewProducer(mq, logger)
		}

		router := api.SetupRouter(&cfg.Server, logger, newMetrics(), handlers.NewRunHandler(runs, artifacts, jobs, logger))
		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Infof("HTTP server listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return fmt.Errorf("HTTP server error: %w", err)
		case <-ctx.Done():
		}

		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("HTTP server shutdown error: %v", err)
		}
		logger.Info("Server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithQueue, "queue", false, "accept POST /api/jobs and publish them to RabbitMQ")
}
