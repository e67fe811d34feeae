package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/metrics"
	"github.com/apk-analysis/apk-drift/internal/queue"
	"github.com/apk-analysis/apk-drift/internal/service"
	"github.com/apk-analysis/apk-drift/internal/vectorizer"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	enqueueEncoding string
	enqueueBase     string
	enqueueYears    []string
	enqueueJob      queue.BatchJob

	workerCount       int
	workerMetricsPort int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Publish batch extraction jobs to RabbitMQ",
	Example: `  apkdrift enqueue --encoding graph --mal decompiled/bad_2016 --ben decompiled/good_2016 --year 2016
  apkdrift enqueue --encoding direct --base download_apks --years 2016,2017`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		encoding, err := parseEncoding(enqueueEncoding)
		if err != nil {
			return err
		}

		var jobs []*queue.BatchJob
		if enqueueBase != "" {
			for _, year := range enqueueYears {
				malDir, benDir := service.YearDirs(enqueueBase, year)
				jobs = append(jobs, &queue.BatchJob{Encoding: encoding, Batch: year, MalDir: malDir, BenDir: benDir})
			}
		} else {
			job := enqueueJob
			job.Encoding = encoding
			jobs = append(jobs, &job)
		}
		for _, job := range jobs {
			if err := job.Validate(); err != nil {
				return err
			}
		}

		mq, err := queue.NewRabbitMQ(&cfg.RabbitMQ, 1, logger)
		if err != nil {
			return err
		}
		defer mq.Close()
		producer := queue.NewProducer(mq, logger)

		ctx, stop := signalContext()
		defer stop()
		for _, job := range jobs {
			if err := producer.PublishJob(ctx, job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s %s\n", job.Encoding, job.Batch)
		}
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume batch extraction jobs from RabbitMQ",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		var closers cleanup
		defer closers.run()

		m := newMetrics()
		svc, _, _, err := buildExtractionService(ctx, m, &closers, false, domain.EncodingGraph, domain.EncodingDirect)
		if err != nil {
			return err
		}

		mq, err := queue.NewRabbitMQ(&cfg.RabbitMQ, workerCount, logger)
		if err != nil {
			return err
		}
		closers.add(func() { mq.Close() })

		consumer := queue.NewConsumer(mq, jobHandler(svc), workerCount, logger)
		if err := consumer.Start(ctx); err != nil {
			return err
		}

		var server *http.Server
		if workerMetricsPort > 0 {
			server = startMetricsServer(m, workerMetricsPort)
		}

		logger.WithFields(logrus.Fields{
			"queue":   cfg.RabbitMQ.Queue,
			"workers": workerCount,
		}).Info("Worker started")

		<-ctx.Done()
		logger.Info("Shutting down worker...")
		consumer.Stop()

		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Metrics server shutdown error")
			}
		}
		return nil
	},
}

// jobHandler 队列任务走与命令行相同的提取服务
func jobHandler(svc service.ExtractionService) queue.JobHandler {
	return func(ctx context.Context, job *queue.BatchJob) error {
		summary, err := svc.RunBatch(ctx, job.Encoding, vectorizer.Input{
			Batch:  job.Batch,
			MalDir: job.MalDir,
			BenDir: job.BenDir,
		}, "queue")
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"run_id":    summary.RunID,
			"encoding":  summary.Encoding,
			"batch":     summary.Batch,
			"mal_shape": summary.MalShape,
			"ben_shape": summary.BenShape,
		}).Info("Job completed")
		return nil
	}
}

func startMetricsServer(m *metrics.Metrics, port int) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", m.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	go func() {
		logger.Infof("Metrics server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server error")
		}
	}()
	return server
}

func init() {
	enqueueCmd.Flags().StringVarP(&enqueueEncoding, "encoding", "e", string(domain.EncodingGraph), "graph or direct")
	enqueueCmd.Flags().StringVar(&enqueueJob.MalDir, "mal", "", "malicious app directory")
	enqueueCmd.Flags().StringVar(&enqueueJob.BenDir, "ben", "", "benign app directory")
	enqueueCmd.Flags().StringVar(&enqueueJob.Batch, "year", "", "batch label")
	enqueueCmd.Flags().StringVar(&enqueueBase, "base", "", "base directory holding malicious_<year> and benign_<year>")
	enqueueCmd.Flags().StringSliceVar(&enqueueYears, "years", nil, "years to enqueue with --base")
	enqueueCmd.MarkFlagsRequiredTogether("base", "years")
	enqueueCmd.MarkFlagsMutuallyExclusive("mal", "base")

	workerCmd.Flags().IntVarP(&workerCount, "workers", "w", 1, "concurrent jobs (also the RabbitMQ prefetch count)")
	workerCmd.Flags().IntVar(&workerMetricsPort, "metrics-port", 0, "serve /metrics on this port (0 = disabled)")
}
