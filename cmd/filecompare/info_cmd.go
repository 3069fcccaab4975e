package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"filecompare/pkg/table"
)

func newInfoCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info FILE...",
		Short: "Show the columns and row count of tables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := make([]table.FileInfo, 0, len(args))
			for _, path := range args {
				info, err := table.Info(path)
				if err != nil {
					return err
				}
				infos = append(infos, info)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), infos)
			}

			w := cmd.OutOrStdout()
			for i, info := range infos {
				if i > 0 {
					fmt.Fprintln(w)
				}
				fmt.Fprintf(w, "File: %s\n", info.Path)
				fmt.Fprintf(w, "Format: %s\n", info.Format)
				fmt.Fprintf(w, "Rows: %d\n", info.RowCount)
				fmt.Fprintf(w, "Size: %d bytes\n", info.Size)
				fmt.Fprintf(w, "Modified: %s\n", info.LastModified.Format(time.DateTime))
				fmt.Fprintf(w, "Columns: %s\n", strings.Join(info.Columns, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
