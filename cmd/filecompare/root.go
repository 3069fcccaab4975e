package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"filecompare/pkg/config"
)

const defaultConfigPath = "filecompare.yaml"

// app carries what the root command resolved for its subcommands.
type app struct {
	cfg config.Config
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		logJSON    bool
	)
	a := &app{cfg: config.Default()}

	rootCmd := &cobra.Command{
		Use:           "filecompare",
		Short:         "Compare two tables on a key column",
		Long:          "Compare two CSV, spreadsheet or Parquet tables on a key column and keep, remove or collect the matching rows.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := initConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", configPath, err)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logger.Level = logLevel
			}
			if cmd.Flags().Changed("log-json") {
				cfg.Logger.JSON = logJSON
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			initLogger(&cfg, cmd.ErrOrStderr())
			a.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(newCompareCmd(a))
	rootCmd.AddCommand(newAnalyzeCmd(a))
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newHistoryCmd(a))
	rootCmd.AddCommand(newServeCmd(a))

	return rootCmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
