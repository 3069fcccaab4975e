package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	fchttp "filecompare/internal/http"
	"filecompare/pkg/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host    string
		port    int
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve comparisons over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.Server.DataDir = dataDir
			}

			server, err := fchttp.NewServer(cfg, metrics.NewRegistry())
			if err != nil {
				return err
			}
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
				server.SetHistory(store)
			}

			if err := server.Start(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s, serving files under %s (Ctrl+C to stop)\n", server.URL, cfg.Server.DataDir)

			<-cmd.Context().Done()

			if err := server.Stop(); err != nil {
				return err
			}
			slog.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Bind address; overrides the config")
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port; overrides the config")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory request paths are resolved under; overrides the config")
	return cmd
}
