package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/xray-api/internal/analysis"
	"github.com/Brownie44l1/xray-api/internal/app"
	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/logging"
	"github.com/Brownie44l1/xray-api/internal/model"
)

var (
	classifyJSON   bool
	classifyRecord bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify <image>...",
	Short: "Classify one or more chest X-ray images",
	Long: `Classify local chest X-ray images (JPEG, PNG, BMP, TIFF, WebP).

Examples:
  pneumo classify scan.png
  pneumo classify images/*.jpg --json
  pneumo classify scan.png --record --config config.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "print reports as JSON lines")
	classifyCmd.Flags().BoolVar(&classifyRecord, "record", false, "store results in the analysis history")
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

	md, err := model.LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return err
	}
	classifier, err := app.NewClassifier(cfg, md, logger)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer classifier.Close()

	opts := []analysis.Option{analysis.WithLogger(logger), analysis.WithMaxPixels(cfg.MaxPixels)}
	if classifyRecord {
		db, repo, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, analysis.WithRecorder(repo))
	}

	return classifyFiles(cmd.Context(), cmd.OutOrStdout(), analysis.New(classifier, opts...), args, classifyJSON)
}

// classifyFiles analyses every path, printing each result as it completes.
// A failing file does not stop the others; all failures are returned joined.
func classifyFiles(ctx context.Context, w io.Writer, analyzer *analysis.Analyzer, paths []string, asJSON bool) error {
	enc := json.NewEncoder(w)
	var errs []error

	for _, path := range paths {
		report, err := classifyFile(ctx, analyzer, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			if !asJSON {
				printFailure(w, path, err)
			}
			continue
		}

		if asJSON {
			if err := enc.Encode(report); err != nil {
				return err
			}
			continue
		}
		printReport(w, report)
	}

	return errors.Join(errs...)
}

func classifyFile(ctx context.Context, analyzer *analysis.Analyzer, path string) (*analysis.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return analyzer.Analyze(ctx, f, filepath.Base(path))
}
