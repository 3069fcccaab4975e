package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"filecompare/pkg/index"
	"filecompare/pkg/match"
	"filecompare/pkg/metrics"
	"filecompare/pkg/progress"
	"filecompare/pkg/table"
)

// State is a step of a comparison run.
type State int32

const (
	Idle State = iota
	Validating
	Indexing
	Streaming
	Finalizing
	Completed
	Cancelled
	Failed
)

var stateNames = [...]string{
	Idle:       "idle",
	Validating: "validating",
	Indexing:   "indexing",
	Streaming:  "streaming",
	Finalizing: "finalizing",
	Completed:  "completed",
	Cancelled:  "cancelled",
	Failed:     "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether a run in state s has ended.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

type iTimeProvider interface {
	Now() time.Time
}

type systemTime struct{}

func (systemTime) Now() time.Time { return time.Now() }

// Engine runs comparisons one at a time.
type Engine struct {
	opts    Options
	tp      iTimeProvider
	state   atomic.Int32
	running atomic.Bool
}

func New(opts Options) *Engine {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop
	}
	return &Engine{opts: opts, tp: systemTime{}}
}

// State returns the state of the current or most recent run.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	slog.Debug("comparison state", "state", s)
}

// Execute compares t1 and t2 as cfg describes. It returns ErrBusy when
// another run on e has not finished. A run that observes cancellation
// returns a *CancelledError and never a Result; any other failure is a
// *ComparisonError.
func (e *Engine) Execute(ctx context.Context, t1, t2 table.Handle, cfg Config, rep progress.Reporter) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.running.Store(false)

	if rep == nil {
		rep = progress.Nop
	}
	r := &run{
		e:     e,
		opts:  e.opts,
		t1:    t1,
		t2:    t2,
		cfg:   cfg,
		plan:  &plan{rep: rep},
		start: e.tp.Now(),
	}

	e.opts.Metrics.SetGauge("filecompare_runs_active", nil, 1)
	defer e.opts.Metrics.SetGauge("filecompare_runs_active", nil, 0)

	res, err := r.execute(ctx)

	elapsed := e.tp.Now().Sub(r.start)
	labels := map[string]string{"operation": cfg.Operation.String(), "state": e.State().String()}
	e.opts.Metrics.IncCounter("filecompare_runs_total", labels, 1)
	e.opts.Metrics.ObserveHistogram("filecompare_run_seconds", labels, elapsed.Seconds())
	if err != nil {
		slog.Info("comparison ended", "operation", cfg.Operation, "state", e.State(), "elapsed", elapsed, "error", err)
		return nil, err
	}
	slog.Info("comparison completed", "operation", cfg.Operation, "rows", len(res.Rows), "elapsed", elapsed)
	return res, nil
}

// run holds the working state of one Execute call.
type run struct {
	e    *Engine
	opts Options
	t1   table.Handle
	t2   table.Handle
	cfg  Config
	plan *plan

	errs  RowErrors
	start time.Time
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	r.e.setState(Validating)
	col1, col2, err := r.cfg.resolve(r.t1, r.t2)
	if err != nil {
		return nil, r.stop(ctx, Validating, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, r.stop(ctx, Validating, err)
	}

	indexed := chooseIndexSide(r.t1, r.t2)
	probed := File2
	idxIn, probeIn := match.Input{Table: r.t1, Column: col1}, match.Input{Table: r.t2, Column: col2}
	if indexed == File2 {
		probed = File1
		idxIn, probeIn = probeIn, idxIn
	}
	routing := r.cfg.Operation.routing(indexed)
	r.plan.indexRows = ApproxRows(idxIn.Table)
	r.plan.probeRows = ApproxRows(probeIn.Table)
	r.plan.twice = routing.Index != match.Never
	slog.Debug("index side chosen", "indexed", indexed, "rows", r.plan.indexRows, "probe_rows", r.plan.probeRows)

	r.e.setState(Indexing)
	idx, err := index.Build(ctx, idxIn.Table, idxIn.Column, index.Options{
		CaseSensitive: r.cfg.CaseSensitive,
		MatchEmpty:    r.opts.MatchEmpty,
		MemoryBudget:  r.opts.MemoryBudget,
		SpillDir:      r.opts.SpillDir,
		MinBuckets:    r.opts.MinBuckets,
		BloomFPRate:   r.opts.BloomFPRate,
		Compress:      r.opts.Compress,
		ExpectedRows:  int(r.plan.indexRows),
		Every:         int(r.opts.ProgressEvery),
		Progress:      r.plan.report,
		OnRowError:    r.onRowError(indexed),
	})
	if err != nil {
		return nil, r.stop(ctx, Indexing, err)
	}
	defer func() {
		if err := idx.Close(); err != nil {
			slog.Warn("failed to release index", "error", err)
		}
	}()

	ist := idx.Stats()
	r.plan.settleIndex(ist.Read, table.SizeHint(idxIn.Table), table.SizeHint(probeIn.Table), probeIn.Table)
	r.opts.Metrics.IncCounter("filecompare_rows_indexed_total", nil, float64(ist.Rows))
	if ist.Spilled {
		r.opts.Metrics.IncCounter("filecompare_buckets_spilled_total", nil, float64(ist.Buckets))
	}

	r.e.setState(Streaming)
	var rows1, rows2 []Row
	mst, err := match.Match(ctx, probeIn, idxIn, idx, routing, match.Options{
		CaseSensitive: r.cfg.CaseSensitive,
		ChunkSize:     r.opts.ChunkSize,
		Workers:       r.opts.Workers,
		ProgressEvery: r.opts.ProgressEvery,
		Progress:      func(rows int64) { r.plan.report(ist.Read + rows) },
		OnRowError:    r.onRowError(probed),
		Emit: func(side match.Side, row table.Row) error {
			origin := probed
			if side == match.IndexSide {
				origin = indexed
			}
			out := Row{Origin: origin, Index: row.Index, Values: row.Values}
			if origin == File1 {
				rows1 = append(rows1, out)
			} else {
				rows2 = append(rows2, out)
			}
			return nil
		},
	})
	if cs, ok := index.CacheStatsOf(idx); ok {
		r.opts.Metrics.IncCounter("filecompare_bucket_loads_total", nil, float64(cs.Misses))
		r.opts.Metrics.IncCounter("filecompare_cache_hits_total", nil, float64(cs.Hits))
	}
	if err != nil {
		return nil, r.stop(ctx, Streaming, err)
	}
	r.opts.Metrics.IncCounter("filecompare_rows_probed_total", nil, float64(mst.ProbeRows))

	r.e.setState(Finalizing)
	res := &Result{
		Config:          r.cfg,
		Rows:            append(rows1, rows2...),
		Columns1:        r.t1.Columns(),
		Columns2:        r.t2.Columns(),
		MatchedKeyCount: mst.MatchedKeys,
		IndexSide:       indexed,
		Spilled:         ist.Spilled,
		Skipped:         r.errs,
	}
	if indexed == File1 {
		res.SourceRowCount1, res.SourceRowCount2 = ist.Read, mst.ProbeRows
		res.MatchedRows1, res.MatchedRows2 = mst.IndexMatched, mst.ProbeMatched
	} else {
		res.SourceRowCount1, res.SourceRowCount2 = mst.ProbeRows, ist.Read
		res.MatchedRows1, res.MatchedRows2 = mst.ProbeMatched, mst.IndexMatched
	}

	// A cancellation observed at any point before this check wins over the
	// assembled result.
	if err := ctx.Err(); err != nil {
		return nil, r.stop(ctx, Finalizing, err)
	}
	res.Elapsed = r.e.tp.Now().Sub(r.start)
	r.e.setState(Completed)
	r.plan.finish()
	return res, nil
}

// stop moves the run to its terminal state and builds the error for it.
func (r *run) stop(ctx context.Context, at State, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		r.e.setState(Cancelled)
		cause := context.Cause(ctx)
		if cause == nil {
			cause = err
		}
		return &CancelledError{State: at, Rows: r.plan.rows, Cause: cause, Errors: r.errs}
	}
	r.e.setState(Failed)
	return &ComparisonError{State: at, Err: err, Errors: r.errs}
}

// onRowError counts and logs an unreadable row and aborts the run once
// MaxRowErrors is exceeded. Each table is read by one goroutine at a time,
// and the phases run one after the other.
func (r *run) onRowError(origin Origin) func(*table.RowReadError) error {
	return func(rerr *table.RowReadError) error {
		r.errs.Count++
		if origin == File1 {
			r.errs.File1++
		} else {
			r.errs.File2++
		}
		if len(r.errs.First) < maxReportedRows {
			r.errs.First = append(r.errs.First, RowFault{Origin: origin, Row: rerr.Row, Err: rerr.Err.Error()})
		}
		slog.Warn("skipping unreadable row", "file", origin, "row", rerr.Row, "error", rerr.Err)
		r.opts.Metrics.IncCounter("filecompare_row_errors_total", map[string]string{"file": origin.String()}, 1)

		if r.opts.MaxRowErrors > 0 && r.errs.Count > int64(r.opts.MaxRowErrors) {
			snapshot := r.errs
			snapshot.First = append([]RowFault(nil), r.errs.First...)
			return &RowErrorsError{Limit: r.opts.MaxRowErrors, Errors: snapshot}
		}
		return nil
	}
}

// chooseIndexSide picks the smaller table by row count, falling back to
// file size when either count is unknown. Ties and unknowns go to file1.
func chooseIndexSide(t1, t2 table.Handle) Origin {
	n1, ok1 := table.RowCount(t1)
	n2, ok2 := table.RowCount(t2)
	if ok1 && ok2 {
		if n2 < n1 {
			return File2
		}
		return File1
	}
	s1, s2 := table.SizeHint(t1), table.SizeHint(t2)
	if s1 >= 0 && s2 >= 0 && s2 < s1 {
		return File2
	}
	return File1
}
