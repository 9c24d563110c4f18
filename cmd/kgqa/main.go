package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dblp-kgqa/kgqa/internal/metrics"
	"github.com/dblp-kgqa/kgqa/pkg/config"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

var version = "dev"

var (
	configPath string
	logLevel   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "kgqa",
	Short:         "Answer questions over the DBLP knowledge graph with LLM-written SPARQL",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}

		if err := logger.Init(logger.Options{
			Level:      loaded.Logging.Level,
			Format:     loaded.Logging.Format,
			OutputPath: loaded.Logging.OutputPath,
			MaxSizeMB:  loaded.Logging.MaxSizeMB,
			MaxBackups: loaded.Logging.MaxBackups,
			MaxAgeDays: loaded.Logging.MaxAgeDays,
		}); err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		metrics.Init()

		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./config.yaml, ./config/config.yaml, /etc/kgqa/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(splitCmd)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return rootCmd.Execute()
}
