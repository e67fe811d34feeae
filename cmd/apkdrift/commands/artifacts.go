package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apk-analysis/apk-drift/internal/align"
	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	artifactEncoding string
	alignBatches     []string
	alignTarget      int
	checkBatch       string
	datasetTrain     []string
	datasetTest      string
)

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "Truncate or zero-pad persisted matrices to a common width",
	Long: `Aligns each batch's mal/ben matrices to the target width and writes them
under <encoding>_vector/aligned/. Truncation drops trailing columns, which is lossy.

Target width: --target, else align.target_dim, else the width of the
reference batch (graph encoding always uses extract.cluster_count).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		encoding, err := parseEncoding(artifactEncoding)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		artifacts, err := newArtifactService(ctx)
		if err != nil {
			return err
		}

		target := alignTarget
		if target <= 0 {
			if target, err = artifacts.TargetDim(ctx, encoding, &cfg.Align, cfg.Extract.ClusterCount); err != nil {
				return err
			}
		}

		batches := alignBatches
		if len(batches) == 0 {
			batches = append(append([]string{}, cfg.Align.TrainBatches...), cfg.Align.TestBatch)
		}
		for _, batch := range batches {
			keys, err := artifacts.AlignBatch(ctx, encoding, batch, target)
			if err != nil {
				return fmt.Errorf("align batch %s: %w", batch, err)
			}
			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare the malicious and benign matrices of one batch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		encoding, err := parseEncoding(artifactEncoding)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		artifacts, err := newArtifactService(ctx)
		if err != nil {
			return err
		}
		stats, err := artifacts.Check(ctx, encoding, checkBatch)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "malicious samples: %d\n", stats.MalSamples)
		fmt.Fprintf(out, "benign samples:    %d\n", stats.BenSamples)
		fmt.Fprintf(out, "feature width:     %d\n", stats.FeatureDim)
		fmt.Fprintf(out, "malicious non-zero per app: %.2f ± %.2f\n", stats.MalNonZeroMean, stats.MalNonZeroStd)
		fmt.Fprintf(out, "benign non-zero per app:    %.2f ± %.2f\n", stats.BenNonZeroMean, stats.BenNonZeroStd)
		fmt.Fprintf(out, "common active columns:      %d\n", stats.CommonActive)
		fmt.Fprintf(out, "malicious-only columns:     %d\n", stats.MalUniqueCols)
		fmt.Fprintf(out, "benign-only columns:        %d\n", stats.BenUniqueCols)
		return nil
	},
}

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Build single-year, cumulative and test datasets as .npy X/y pairs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		encoding, err := parseEncoding(artifactEncoding)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		artifacts, err := newArtifactService(ctx)
		if err != nil {
			return err
		}

		target, err := artifacts.TargetDim(ctx, encoding, &cfg.Align, cfg.Extract.ClusterCount)
		if err != nil {
			return err
		}

		opts := align.DatasetOptions{
			TrainBatches: cfg.Align.TrainBatches,
			TestBatch:    cfg.Align.TestBatch,
			TargetDim:    target,
		}
		if len(datasetTrain) > 0 {
			opts.TrainBatches = datasetTrain
		}
		if datasetTest != "" {
			opts.TestBatch = datasetTest
		}

		datasets, keys, err := artifacts.Datasets(ctx, encoding, opts)
		if err != nil {
			return err
		}

		shapes := make(map[string]string, len(datasets))
		for _, ds := range datasets {
			shapes[ds.Name] = ds.Shape()
		}
		logger.WithFields(logrus.Fields{
			"encoding":   encoding,
			"target_dim": target,
			"datasets":   len(datasets),
		}).Info("Datasets exported")

		summary, err := json.MarshalIndent(map[string]interface{}{
			"target_dim": target,
			"shapes":     shapes,
			"keys":       keys,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(summary))
		return nil
	},
}

func newArtifactService(ctx context.Context) (*service.ArtifactService, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	return service.NewArtifactService(store, logger), nil
}

func init() {
	for _, cmd := range []*cobra.Command{alignCmd, checkCmd, datasetCmd} {
		cmd.Flags().StringVarP(&artifactEncoding, "encoding", "e", string(domain.EncodingGraph), "graph or direct")
	}
	alignCmd.Flags().StringSliceVar(&alignBatches, "batch", nil, "batches to align (default: align.train_batches + align.test_batch)")
	alignCmd.Flags().IntVar(&alignTarget, "target", 0, "target width (overrides align.target_dim)")

	checkCmd.Flags().StringVar(&checkBatch, "batch", "", "batch to check")
	checkCmd.MarkFlagRequired("batch")

	datasetCmd.Flags().StringSliceVar(&datasetTrain, "train", nil, "training batches (default: align.train_batches)")
	datasetCmd.Flags().StringVar(&datasetTest, "test", "", "test batch (default: align.test_batch)")
}
