package main

import (
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/diagnosis"
	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/Brownie44l1/xray-api/internal/storage/sqlite"
)

var (
	historyLabel string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded analyses, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		label, err := diagnosis.ParseLabel(historyLabel)
		if err != nil {
			return err
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		db, repo, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		reports, err := repo.List(cmd.Context(), sqlite.Filter{Label: label, Limit: historyLimit})
		if err != nil {
			return err
		}
		printHistory(cmd.OutOrStdout(), reports)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise the analysis history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		db, repo, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := repo.Stats(cmd.Context())
		if err != nil {
			return err
		}
		// Metadata is optional here; without it the accuracy line is skipped.
		if md, err := model.LoadMetadata(cfg.MetadataPath); err == nil {
			stats.ModelAccuracy = md.Accuracy
		}
		printStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVarP(&historyLabel, "label", "l", "", "only show this label (pneumonia, normal)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of analyses")
}
