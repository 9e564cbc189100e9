package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/storage/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pneumo",
	Short: "Pneumonia detection from chest X-ray images",
	Long: `pneumo classifies chest X-ray images with the same model and decision rule
as the HTTP service, and reads the analysis history the service records.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore opens the history database named by the config.
func openStore(cfg *config.Config) (*sqlite.DB, *sqlite.AnalysisRepository, error) {
	if !cfg.HistoryEnabled() {
		return nil, nil, errors.New("analysis history is disabled (empty database path)")
	}
	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return db, sqlite.NewAnalysisRepository(db), nil
}
