package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apk-analysis/apk-drift/internal/decompile"
	"github.com/apk-analysis/apk-drift/internal/download"
	"github.com/apk-analysis/apk-drift/internal/watcher"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	downloadYear      int
	downloadMalicious bool
	downloadLimit     int
	downloadOut       string

	decompileIn    string
	decompileOut   string
	decompileWatch bool
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Select APKs from the AndroZoo metadata CSV and download them",
	Example: `  apkdrift download --year 2016 --malicious --limit 500
  apkdrift download --year 2016 --limit 500`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dl := cfg.Download
		if dl.APIKey == "" {
			return fmt.Errorf("download.api_key is not set (ANDROZOO_API_KEY)")
		}

		excluded, err := download.LoadExcludeList(dl.ExcludeListPath)
		if err != nil {
			return err
		}

		f, err := os.Open(dl.MetadataCSV)
		if err != nil {
			return fmt.Errorf("open metadata csv: %w", err)
		}
		shas, err := download.FilterCSV(f, download.Criteria{
			Year:            downloadYear,
			Malicious:       downloadMalicious,
			Threshold:       dl.MaliciousThreshold,
			Limit:           downloadLimit,
			ExcludeSHA:      excluded,
			ExcludePackages: dl.ExcludePackages,
		})
		f.Close()
		if err != nil {
			return err
		}

		out := downloadOut
		if out == "" {
			out = filepath.Join(dl.OutputDir, download.OutputSubdir(downloadMalicious, downloadYear))
		}
		logger.WithFields(logrus.Fields{
			"year":      downloadYear,
			"malicious": downloadMalicious,
			"selected":  len(shas),
			"output":    out,
		}).Info("APKs selected")

		ctx, stop := signalContext()
		defer stop()

		downloader := download.NewDownloader(download.Options{
			BaseURL:      dl.BaseURL,
			APIKey:       dl.APIKey,
			OutputDir:    out,
			Workers:      dl.Workers,
			Timeout:      time.Duration(dl.Timeout) * time.Second,
			MaxRetries:   dl.MaxRetries,
			RequestDelay: time.Duration(dl.RequestDelayMs) * time.Millisecond,
		}, newMetrics(), logger)

		stats, err := downloader.Download(ctx, shas)
		if stats != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d, skipped %d, failed %d -> %s\n",
				stats.Downloaded, stats.Skipped, stats.Failed, out)
		}
		return err
	},
}

var decompileCmd = &cobra.Command{
	Use:   "decompile",
	Short: "Decompile every APK of a directory with apktool",
	Example: `  apkdrift decompile --in download_apks/malicious_2016 --out decompiled/bad_2016
  apkdrift decompile --in inbound_apks --out decompiled/inbound --watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		apktool := decompile.NewApktool(cfg.Decompile.ApktoolPath, time.Duration(cfg.Decompile.Timeout)*time.Second, logger)

		if decompileWatch {
			opts := watcher.DefaultOptions()
			opts.ScanExisting = true
			logger.WithField("dir", decompileIn).Info("Watching for new APKs")
			return apktool.Watch(ctx, decompileIn, decompileOut, opts)
		}

		stats, err := apktool.DecompileDir(ctx, decompileIn, decompileOut)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "decompiled %d/%d (failed %d) -> %s\n",
			stats.Succeeded, stats.Total, stats.Failed, decompileOut)
		return nil
	},
}

func init() {
	downloadCmd.Flags().IntVar(&downloadYear, "year", 0, "dex_date year to select")
	downloadCmd.Flags().BoolVar(&downloadMalicious, "malicious", false, "select vt_detection >= download.malicious_threshold (default: vt_detection == 0)")
	downloadCmd.Flags().IntVar(&downloadLimit, "limit", 0, "maximum number of APKs (0 = no limit)")
	downloadCmd.Flags().StringVar(&downloadOut, "out", "", "output directory (default: <download.output_dir>/{malicious,benign}_<year>)")
	downloadCmd.MarkFlagRequired("year")

	decompileCmd.Flags().StringVar(&decompileIn, "in", "", "directory holding .apk files")
	decompileCmd.Flags().StringVar(&decompileOut, "out", "", "output root, one subdirectory per APK")
	decompileCmd.Flags().BoolVar(&decompileWatch, "watch", false, "keep running and decompile APKs as they arrive")
	decompileCmd.MarkFlagRequired("in")
	decompileCmd.MarkFlagRequired("out")
}
