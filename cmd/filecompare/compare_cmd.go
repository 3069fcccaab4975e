package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"filecompare/pkg/compat"
	"filecompare/pkg/engine"
	"filecompare/pkg/history"
	"filecompare/pkg/progress"
	"filecompare/pkg/table"
)

// ErrIncompatible is returned by compare --strict when the key columns do
// not look comparable.
var ErrIncompatible = errors.New("key columns are incompatible")

type compareFlags struct {
	column        string
	column1       string
	column2       string
	operation     string
	caseSensitive bool
	output        string
	format        string
	report        string
	strict        bool
	quiet         bool
	memoryBudget  int64
	matchEmpty    bool
}

func newCompareCmd(a *app) *cobra.Command {
	var f compareFlags

	cmd := &cobra.Command{
		Use:   "compare FILE1 FILE2",
		Short: "Compare two tables on a key column",
		Long: `Compare FILE1 and FILE2 on a key column.

Operations:
  remove_matches   rows of FILE2 whose key does not occur in FILE1
  keep_matches     rows of FILE2 whose key occurs in FILE1
  common_values    rows of both files whose key occurs in both
  unique_values    rows of both files whose key occurs in only one`,
		Example: `  filecompare compare customers.csv orders.xlsx --column1 email --column2 Email --operation keep_matches --output kept.csv`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.compare(cmd, args[0], args[1], f)
		},
	}

	cmd.Flags().StringVar(&f.column, "column", "", "Key column of both files")
	cmd.Flags().StringVar(&f.column1, "column1", "", "Key column of FILE1")
	cmd.Flags().StringVar(&f.column2, "column2", "", "Key column of FILE2")
	cmd.Flags().StringVarP(&f.operation, "operation", "o", "", "remove_matches, keep_matches, common_values or unique_values")
	cmd.Flags().BoolVar(&f.caseSensitive, "case-sensitive", false, "Compare keys case-sensitively")
	cmd.Flags().StringVar(&f.output, "output", "", "Write the result to this file")
	cmd.Flags().StringVar(&f.format, "format", "", "Output format (csv, excel, parquet); inferred from --output by default")
	cmd.Flags().StringVar(&f.report, "report", "", "Write a text report to this file, or - for stdout")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Refuse to run when the key columns are incompatible")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Do not print progress")
	cmd.Flags().Int64Var(&f.memoryBudget, "memory-budget", 0, "Index memory budget in bytes; overrides the config")
	cmd.Flags().BoolVar(&f.matchEmpty, "match-empty", false, "Let empty keys match each other")
	_ = cmd.MarkFlagRequired("operation")

	return cmd
}

func (a *app) compare(cmd *cobra.Command, file1, file2 string, f compareFlags) error {
	ctx := cmd.Context()
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	col1, col2 := f.column1, f.column2
	if col1 == "" {
		col1 = f.column
	}
	if col2 == "" {
		col2 = f.column
	}
	op, err := engine.ParseOperation(f.operation)
	if err != nil {
		return err
	}
	var format table.Format
	if f.format != "" {
		if format, err = table.ParseFormat(f.format); err != nil {
			return err
		}
	}

	t1, err := table.Open(file1)
	if err != nil {
		return err
	}
	t2, err := table.Open(file2)
	if err != nil {
		return err
	}
	cfg, err := engine.NewConfig(t1, t2, col1, col2, op, f.caseSensitive, format)
	if err != nil {
		return err
	}

	verdict, err := compat.Analyze(ctx, t1, col1, t2, col2, a.cfg.AnalyzeOptions(f.caseSensitive))
	if err != nil {
		return err
	}
	if verdict.Level != compat.Compatible {
		fmt.Fprintf(stderr, "Warning: %s: %s\n", verdict.Level, verdict.Reason)
	}
	if f.strict && verdict.Level == compat.Incompatible {
		return fmt.Errorf("%w: %s", ErrIncompatible, verdict.Reason)
	}

	est := engine.Estimate(engine.ApproxRows(t1), engine.ApproxRows(t2), op)
	fmt.Fprintf(stderr, "Estimated processing time: %s\n", est.Round(time.Second))

	opts := a.cfg.EngineOptions()
	if cmd.Flags().Changed("memory-budget") {
		opts.MemoryBudget = f.memoryBudget
	}
	if cmd.Flags().Changed("match-empty") {
		opts.MatchEmpty = f.matchEmpty
	}

	token := progress.NewToken(ctx)
	defer token.Release()

	var (
		rep  progress.Reporter = progress.Nop
		ch   *progress.Channel
		pump *progress.Pump
	)
	if !f.quiet {
		ch = progress.NewChannel(16)
		pump = progress.NewPump(ch.C(), func(u progress.Update) error {
			_, err := fmt.Fprintf(stderr, "\rProgress: %5.1f%% (%d rows)", u.Percent, u.Rows)
			return err
		})
		pump.Start(ctx)
		rep = ch
	}

	started := time.Now()
	eng := engine.New(opts)
	res, err := eng.Execute(token.Context(), t1, t2, cfg, rep)
	if ch != nil {
		ch.Close()
		pump.Wait()
		fmt.Fprintln(stderr)
	}

	if err == nil && f.output != "" {
		if xerr := res.Export(f.output, format); xerr != nil {
			err = fmt.Errorf("export result: %w", xerr)
		}
	}
	a.record(cmd, history.Outcome{
		File1:   file1,
		File2:   file2,
		Config:  cfg,
		State:   stateOf(eng, err),
		Result:  res,
		Err:     err,
		Started: started,
		Elapsed: time.Since(started),
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, res.Summary())
	if f.output != "" {
		fmt.Fprintf(stdout, "Wrote %d rows to %s\n", len(res.Rows), f.output)
	}
	if res.Skipped.Count > 0 {
		fmt.Fprintf(stderr, "Skipped unreadable rows: %s\n", res.Skipped.String())
	}
	if f.report != "" {
		return writeReport(stdout, f.report, res.Report(file1, file2, time.Now()))
	}
	return nil
}

// stateOf is the terminal state to record; an export failure after a
// completed run counts as failed.
func stateOf(eng *engine.Engine, err error) engine.State {
	s := eng.State()
	if err != nil && s == engine.Completed {
		return engine.Failed
	}
	return s
}

func writeReport(stdout io.Writer, path, report string) error {
	if path == "-" {
		_, err := fmt.Fprintln(stdout, report)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(report+"\n"), 0o644)
}

// record stores the outcome when a history database is configured. A
// failure is logged and never fails the command.
func (a *app) record(cmd *cobra.Command, o history.Outcome) {
	store, err := a.openHistory()
	if err != nil {
		slog.Warn("failed to open history", "error", err)
		return
	}
	if store == nil {
		return
	}
	defer store.Close()

	if err := store.Record(cmd.Context(), o.Run()); err != nil {
		slog.Warn("failed to record run", "error", err)
	}
}

// openHistory returns nil when no history path is configured.
func (a *app) openHistory() (*history.Store, error) {
	if a.cfg.History.Path == "" {
		return nil, nil
	}
	return history.Open(a.cfg.History.Path)
}
