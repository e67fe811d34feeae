package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/service"
	"github.com/apk-analysis/apk-drift/internal/vectorizer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type extractOptions struct {
	malDir string
	benDir string
	batch  string
	base   string
	years  []string
}

var extractDescriptions = map[domain.Encoding]string{
	domain.EncodingGraph:  "Cluster-encode decompiled apps (one row per app directory)",
	domain.EncodingDirect: "Drebin-encode APK files (one row per non-empty app)",
}

// newExtractCmd graph 和 direct 共用同一套参数
func newExtractCmd(name string) *cobra.Command {
	encoding := domain.Encoding(name)
	opts := &extractOptions{}

	cmd := &cobra.Command{
		Use:   name,
		Short: extractDescriptions[encoding],
		Example: fmt.Sprintf(`  apkdrift %[1]s --mal decompiled/bad_2016 --ben decompiled/good_2016 --year 2016
  apkdrift %[1]s --base download_apks --years 2016,2017,2018`, name),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, encoding, opts)
		},
	}

	cmd.Flags().StringVar(&opts.malDir, "mal", "", "malicious app directory")
	cmd.Flags().StringVar(&opts.benDir, "ben", "", "benign app directory")
	cmd.Flags().StringVar(&opts.batch, "year", "", "batch label used in artifact keys")
	cmd.Flags().StringVar(&opts.base, "base", "", "base directory holding malicious_<year> and benign_<year>")
	cmd.Flags().StringSliceVar(&opts.years, "years", nil, "years to process with --base")
	cmd.MarkFlagsRequiredTogether("mal", "ben", "year")
	cmd.MarkFlagsRequiredTogether("base", "years")
	cmd.MarkFlagsMutuallyExclusive("mal", "base")

	return cmd
}

func runExtract(cmd *cobra.Command, encoding domain.Encoding, opts *extractOptions) error {
	if opts.malDir == "" && opts.base == "" {
		return errors.New("either --mal/--ben/--year or --base/--years is required")
	}

	ctx, stop := signalContext()
	defer stop()

	var closers cleanup
	defer closers.run()

	svc, _, _, err := buildExtractionService(ctx, newMetrics(), &closers, true, encoding)
	if err != nil {
		return err
	}

	var summaries []*service.Summary
	if opts.base != "" {
		summaries, err = svc.RunYears(ctx, encoding, opts.base, opts.years, "cli")
	} else {
		var summary *service.Summary
		summary, err = svc.RunBatch(ctx, encoding, vectorizer.Input{
			Batch:  opts.batch,
			MalDir: opts.malDir,
			BenDir: opts.benDir,
		}, "cli")
		if summary != nil {
			summaries = append(summaries, summary)
		}
	}

	for _, s := range summaries {
		logger.WithFields(logrus.Fields{
			"run_id":    s.RunID,
			"batch":     s.Batch,
			"mal_shape": s.MalShape,
			"ben_shape": s.BenShape,
			"failed":    s.Failed,
			"empty":     s.Empty,
			"duration":  s.Duration.Round(time.Millisecond).String(),
		}).Info("Batch summary")
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: mal %s, ben %s -> %s\n",
			encoding, s.Batch, s.MalShape, s.BenShape, strings.Join(s.Keys, ", "))
	}
	return err
}
