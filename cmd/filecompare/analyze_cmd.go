package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"filecompare/pkg/compat"
	"filecompare/pkg/table"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		column        string
		column1       string
		column2       string
		caseSensitive bool
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "analyze FILE1 FILE2",
		Short: "Check whether two key columns can be compared",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if column1 == "" {
				column1 = column
			}
			if column2 == "" {
				column2 = column
			}
			t1, err := table.Open(args[0])
			if err != nil {
				return err
			}
			t2, err := table.Open(args[1])
			if err != nil {
				return err
			}

			verdict, err := compat.Analyze(cmd.Context(), t1, column1, t2, column2, a.cfg.AnalyzeOptions(caseSensitive))
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), verdict)
			}
			printVerdict(cmd, verdict)
			return nil
		},
	}

	cmd.Flags().StringVar(&column, "column", "", "Key column of both files")
	cmd.Flags().StringVar(&column1, "column1", "", "Key column of FILE1")
	cmd.Flags().StringVar(&column2, "column2", "", "Key column of FILE2")
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "Compare keys case-sensitively")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the verdict as JSON")

	return cmd
}

func printVerdict(cmd *cobra.Command, v compat.Verdict) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Compatibility: %s\n", v.Level)
	fmt.Fprintf(w, "Reason: %s\n", v.Reason)
	for _, p := range []compat.Profile{v.File1, v.File2} {
		fmt.Fprintf(w, "Column %q: %s (%d sampled; e.g. %s)\n",
			p.Column, p.Dominant, p.Sampled, strings.Join(p.Examples, ", "))
	}
	if len(v.SampleMatches) == 0 {
		fmt.Fprintln(w, "No sample values matched.")
		return
	}
	fmt.Fprintln(w, "Sample matches:")
	for _, m := range v.SampleMatches {
		fmt.Fprintf(w, "  %s = %s\n", m.Value1, m.Value2)
	}
}
