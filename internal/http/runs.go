package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"filecompare/pkg/engine"
	"filecompare/pkg/history"
	"filecompare/pkg/progress"
	"filecompare/pkg/table"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunFinished = errors.New("run already finished")
)

type iHistory interface {
	Record(ctx context.Context, r history.Run) error
	Get(ctx context.Context, id string) (history.Run, error)
	List(ctx context.Context, limit int) ([]history.Run, error)
}

// CompareRequest is the body of POST /api/compare.
type CompareRequest struct {
	File1         string           `json:"file1"`
	File2         string           `json:"file2"`
	Column1       string           `json:"column1"`
	Column2       string           `json:"column2"`
	Operation     engine.Operation `json:"operation"`
	CaseSensitive bool             `json:"case_sensitive"`
	Output        string           `json:"output,omitempty"`
	OutputFormat  string           `json:"output_format,omitempty"`
}

// run is one asynchronous comparison.
type run struct {
	id      string
	req     CompareRequest
	cfg     engine.Config
	eng     *engine.Engine
	token   *progress.Token
	started time.Time
	output  string

	mu      sync.Mutex
	last    progress.Update
	state   engine.State
	ended   bool
	res     *engine.Result
	err     error
	elapsed time.Duration
}

func (r *run) setProgress(u progress.Update) {
	r.mu.Lock()
	r.last = u
	r.mu.Unlock()
}

func (r *run) finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

func (r *run) view() RunView {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := RunView{
		ID:        r.id,
		Operation: r.cfg.Operation.String(),
		File1:     r.req.File1,
		File2:     r.req.File2,
		Percent:   r.last.Percent,
		Rows:      r.last.Rows,
		StartedAt: r.started,
	}
	if !r.ended {
		// the engine may be done while the output is still being written
		state := r.eng.State()
		if state.Terminal() {
			state = engine.Finalizing
		}
		v.State = state.String()
		v.ElapsedMillis = time.Since(r.started).Milliseconds()
		return v
	}

	v.State = r.state.String()
	v.ElapsedMillis = r.elapsed.Milliseconds()
	if r.err != nil {
		v.Error = r.err.Error()
	}
	if r.res != nil {
		v.Summary = r.res.Summary()
		v.ResultRows = int64(len(r.res.Rows))
		v.Output = r.req.Output
		if r.res.Skipped.Count > 0 {
			skipped := r.res.Skipped
			v.Skipped = &skipped
		}
	}
	return v
}

// runManager starts runs and keeps the most recent ones for polling.
type runManager struct {
	opts    engine.Options
	history iHistory
	maxRuns int
	paths   dataDir
	open    func(path string) (table.Handle, error)

	mu    sync.Mutex
	runs  map[string]*run
	order []string
	wg    sync.WaitGroup
}

func newRunManager(opts engine.Options, maxRuns int, paths dataDir) *runManager {
	if maxRuns < 1 {
		maxRuns = 100
	}
	return &runManager{
		opts:    opts,
		maxRuns: maxRuns,
		paths:   paths,
		open:    table.Open,
		runs:    make(map[string]*run),
	}
}

// start validates req synchronously and runs the comparison in the
// background. Every path in req is relative to the data directory.
func (m *runManager) start(req CompareRequest) (*run, error) {
	path1, err := m.paths.resolve(req.File1)
	if err != nil {
		return nil, err
	}
	path2, err := m.paths.resolve(req.File2)
	if err != nil {
		return nil, err
	}
	var output string
	if req.Output != "" {
		if output, err = m.paths.resolve(req.Output); err != nil {
			return nil, err
		}
	}

	t1, err := m.open(path1)
	if err != nil {
		return nil, err
	}
	t2, err := m.open(path2)
	if err != nil {
		return nil, err
	}

	var format table.Format
	if req.OutputFormat != "" {
		if format, err = table.ParseFormat(req.OutputFormat); err != nil {
			return nil, err
		}
	}
	cfg, err := engine.NewConfig(t1, t2, req.Column1, req.Column2, req.Operation, req.CaseSensitive, format)
	if err != nil {
		return nil, err
	}

	r := &run{
		id:      history.NewID(),
		req:     req,
		cfg:     cfg,
		eng:     engine.New(m.opts),
		token:   progress.NewToken(context.Background()),
		started: time.Now(),
		output:  output,
	}
	m.add(r)

	m.wg.Add(1)
	go m.execute(r, t1, t2)

	slog.Info("run started", "run", r.id, "operation", cfg.Operation, "file1", req.File1, "file2", req.File2)
	return r, nil
}

func (m *runManager) execute(r *run, t1, t2 table.Handle) {
	defer m.wg.Done()
	defer r.token.Release()

	ch := progress.NewChannel(16)
	pump := progress.NewPump(ch.C(), func(u progress.Update) error {
		r.setProgress(u)
		return nil
	})
	pump.Start(context.Background())

	res, err := r.eng.Execute(r.token.Context(), t1, t2, r.cfg, ch)
	ch.Close()
	pump.Wait()

	state := r.eng.State()
	if err == nil && r.output != "" {
		if xerr := res.Export(r.output, r.cfg.OutputFormat); xerr != nil {
			err = fmt.Errorf("export result: %w", xerr)
			state = engine.Failed
			res = nil
		}
	}
	elapsed := time.Since(r.started)

	r.mu.Lock()
	r.state, r.res, r.err, r.elapsed, r.ended = state, res, err, elapsed, true
	if state == engine.Completed {
		r.last.Percent = 100
	}
	r.mu.Unlock()

	if err != nil {
		slog.Warn("run ended", "run", r.id, "state", state, "error", err)
	} else {
		slog.Info("run completed", "run", r.id, "rows", len(res.Rows), "elapsed", elapsed)
	}

	if m.history == nil {
		return
	}
	rec := history.Outcome{
		ID:      r.id,
		File1:   r.req.File1,
		File2:   r.req.File2,
		Config:  r.cfg,
		State:   state,
		Result:  res,
		Err:     err,
		Started: r.started,
		Elapsed: elapsed,
	}.Run()
	if err := m.history.Record(context.Background(), rec); err != nil {
		slog.Error("failed to record run", "run", r.id, "error", err)
	}
}

// add registers r and forgets the oldest finished runs beyond maxRuns.
func (m *runManager) add(r *run) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[r.id] = r
	m.order = append(m.order, r.id)
	for i := 0; len(m.runs) > m.maxRuns && i < len(m.order); {
		old := m.runs[m.order[i]]
		if !old.finished() {
			i++
			continue
		}
		delete(m.runs, old.id)
		m.order = slices.Delete(m.order, i, i+1)
	}
}

func (m *runManager) get(id string) (*run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	return r, ok
}

// cancel requests cancellation of a running comparison.
func (m *runManager) cancel(id string) (*run, error) {
	r, ok := m.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if r.finished() {
		return r, fmt.Errorf("%w: %s", ErrRunFinished, id)
	}
	r.token.Cancel()
	slog.Info("run cancellation requested", "run", id)
	return r, nil
}

// list returns the runs held in memory, newest first.
func (m *runManager) list() []RunView {
	m.mu.Lock()
	runs := make([]*run, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		runs = append(runs, m.runs[m.order[i]])
	}
	m.mu.Unlock()

	views := make([]RunView, len(runs))
	for i, r := range runs {
		views[i] = r.view()
	}
	return views
}

// shutdown cancels every active run and waits for them to end.
func (m *runManager) shutdown() {
	m.mu.Lock()
	for _, r := range m.runs {
		r.token.Cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
