package commands

import (
	"fmt"

	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/queue"
	"github.com/apk-analysis/apk-drift/internal/repository"
	"github.com/spf13/cobra"
)

var (
	requeueEncoding string
	requeueBatch    string
	requeueDryRun   bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the run audit tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var closers cleanup
		defer closers.run()

		if _, err := openDB(&closers); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Migration completed (%s)\n", cfg.Database.Type)
		return nil
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Publish every failed run again as a batch job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := repository.RunFilter{Status: domain.RunStatusFailed, Batch: requeueBatch}
		if requeueEncoding != "" {
			enc, err := parseEncoding(requeueEncoding)
			if err != nil {
				return err
			}
			filter.Encoding = enc
		}

		ctx, stop := signalContext()
		defer stop()

		var closers cleanup
		defer closers.run()

		db, err := openDB(&closers)
		if err != nil {
			return err
		}
		jobs, err := failedJobs(ctx, repository.NewRunRepository(db, logger), filter)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "找到 %d 个失败批次\n", len(jobs))
		if requeueDryRun || len(jobs) == 0 {
			for _, job := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", job.Encoding, job.Batch)
			}
			return nil
		}

		mq, err := queue.NewRabbitMQ(&cfg.RabbitMQ, 1, logger)
		if err != nil {
			return err
		}
		closers.add(func() { mq.Close() })
		producer := queue.NewProducer(mq, logger)

		published := 0
		for _, job := range jobs {
			if err := producer.PublishJob(ctx, job); err != nil {
				logger.WithError(err).WithField("batch", job.Batch).Error("Failed to publish job")
				continue
			}
			published++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ 成功重新入队 %d/%d 个批次\n", published, len(jobs))
		return nil
	},
}

func init() {
	requeueCmd.Flags().StringVarP(&requeueEncoding, "encoding", "e", "", "only this encoding")
	requeueCmd.Flags().StringVar(&requeueBatch, "batch", "", "only this batch")
	requeueCmd.Flags().BoolVar(&requeueDryRun, "dry-run", false, "list the jobs without publishing")

	rootCmd.AddCommand(migrateCmd, requeueCmd)
}
