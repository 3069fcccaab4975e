// Package match streams the probe side of a comparison against a built
// index and routes rows to the output.
package match

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"filecompare/pkg/index"
	"filecompare/pkg/normalize"
	"filecompare/pkg/progress"
	"filecompare/pkg/table"

	"golang.org/x/sync/errgroup"
)

// Rule says when a row from one side is emitted.
type Rule uint8

const (
	Never Rule = iota
	WhenMatched
	WhenUnmatched
)

func (r Rule) keep(matched bool) bool {
	switch r {
	case WhenMatched:
		return matched
	case WhenUnmatched:
		return !matched
	default:
		return false
	}
}

func (r Rule) String() string {
	switch r {
	case WhenMatched:
		return "matched"
	case WhenUnmatched:
		return "unmatched"
	default:
		return "never"
	}
}

// Routing holds the rule for each side.
type Routing struct {
	Probe Rule
	Index Rule
}

// Side identifies where an emitted row came from.
type Side uint8

const (
	ProbeSide Side = iota
	IndexSide
)

// Options control a match.
type Options struct {
	CaseSensitive bool
	ChunkSize     int
	Workers       int

	// ProgressEvery is the minimum row distance between Progress calls.
	ProgressEvery int64
	// Progress receives the number of rows processed so far over both
	// passes.
	Progress func(rows int64)
	// OnRowError handles unreadable probe rows; see index.Options.
	OnRowError func(*table.RowReadError) error
	// Emit receives kept rows: all probe rows in source order, then all
	// index rows in source order. It is called from one goroutine.
	Emit func(side Side, row table.Row) error
}

func (o *Options) withDefaults() {
	if o.ChunkSize < 1 {
		o.ChunkSize = 1024
	}
	if o.Workers < 1 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.ProgressEvery < 1 {
		o.ProgressEvery = int64(o.ChunkSize)
	}
	if o.Emit == nil {
		o.Emit = func(Side, table.Row) error { return nil }
	}
}

// Stats summarises a match.
type Stats struct {
	ProbeRows    int64 `json:"probe_rows"`
	ProbeMatched int64 `json:"probe_matched"`
	IndexRows    int64 `json:"index_rows"`
	IndexMatched int64 `json:"index_matched"`
	MatchedKeys  int64 `json:"matched_keys"`
	Chunks       int64 `json:"chunks"`
}

// Input is one side of the match: a table and its key column.
type Input struct {
	Table  table.Handle
	Column int
}

type matcher struct {
	opts    Options
	probe   Input
	indexed Input
	idx     index.Index
	routing Routing

	hits        *bitset // index rows matched
	keyHits     *bitset // first row of every matched key
	matchedKeys atomic.Int64

	gate      *progress.Gate
	processed int64
	stats     Stats
}

// Match streams probe once against idx, which was built over indexed. When
// the routing emits index rows, indexed is read a second time to emit them
// in source order. A cancelled ctx ends the match with ctx's error.
func Match(ctx context.Context, probe, indexed Input, idx index.Index, routing Routing, opts Options) (Stats, error) {
	opts.withDefaults()

	size := idx.Stats().MaxRow + 1
	m := &matcher{
		opts:    opts,
		probe:   probe,
		indexed: indexed,
		idx:     idx,
		routing: routing,
		hits:    newBitset(size),
		keyHits: newBitset(size),
		gate:    progress.NewGate(opts.ProgressEvery),
	}

	if err := m.probePass(ctx); err != nil {
		return m.stats, err
	}
	if routing.Index != Never {
		if err := m.indexPass(ctx); err != nil {
			return m.stats, err
		}
	}
	if err := ctx.Err(); err != nil {
		return m.stats, err
	}

	m.stats.IndexMatched = m.hits.Count()
	m.stats.MatchedKeys = m.matchedKeys.Load()
	if m.opts.Progress != nil {
		m.opts.Progress(m.processed)
	}
	return m.stats, nil
}

type chunk struct {
	seq  int
	rows []table.Row
	read int64 // rows consumed, unreadable ones included
}

type outcome struct {
	seq     int
	keep    []table.Row
	matched int64
	read    int64
}

// probePass runs one reader, Workers probers and an in-order collector.
func (m *matcher) probePass(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan chunk, m.opts.Workers)
	outcomes := make(chan outcome, m.opts.Workers)

	g.Go(func() error {
		defer close(chunks)
		return m.read(gctx, chunks)
	})

	var workers sync.WaitGroup
	for i := 0; i < m.opts.Workers; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return m.work(gctx, chunks, outcomes)
		})
	}
	go func() {
		workers.Wait()
		close(outcomes)
	}()

	g.Go(func() error {
		return m.collect(outcomes)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (m *matcher) read(ctx context.Context, out chan<- chunk) error {
	r, err := m.probe.Table.Rows(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		seq  int
		read int64
		buf  = make([]table.Row, 0, m.opts.ChunkSize)
	)
	flush := func() error {
		if len(buf) == 0 && read == 0 {
			return nil
		}
		select {
		case out <- chunk{seq: seq, rows: buf, read: read}:
		case <-ctx.Done():
			return ctx.Err()
		}
		seq++
		read = 0
		buf = make([]table.Row, 0, m.opts.ChunkSize)
		return nil
	}

	for {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return flush()
			}
			var rowErr *table.RowReadError
			if !errors.As(err, &rowErr) {
				return err
			}
			if m.opts.OnRowError != nil {
				if err := m.opts.OnRowError(rowErr); err != nil {
					return err
				}
			}
		} else {
			buf = append(buf, row)
		}

		read++
		if len(buf) == m.opts.ChunkSize || read >= int64(m.opts.ChunkSize)*4 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

func (m *matcher) work(ctx context.Context, in <-chan chunk, out chan<- outcome) error {
	for c := range in {
		if err := ctx.Err(); err != nil {
			return err
		}

		o := outcome{seq: c.seq, read: c.read}
		for _, row := range c.rows {
			key := normalize.Normalize(row.Value(m.probe.Column), m.opts.CaseSensitive)
			refs, err := m.idx.Lookup(key)
			if err != nil {
				return err
			}

			matched := len(refs) > 0
			if matched {
				o.matched++
				// the first worker to hit a key marks all of its rows
				if m.keyHits.Set(refs[0]) {
					m.matchedKeys.Add(1)
					for _, ref := range refs {
						m.hits.Set(ref)
					}
				}
			}
			if m.routing.Probe.keep(matched) {
				o.keep = append(o.keep, row)
			}
		}

		select {
		case out <- o:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// collect restores chunk order before emitting.
func (m *matcher) collect(in <-chan outcome) error {
	pending := make(map[int]outcome)
	next := 0
	for o := range in {
		pending[o.seq] = o
		for {
			p, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			for _, row := range p.keep {
				if err := m.opts.Emit(ProbeSide, row); err != nil {
					return err
				}
			}
			m.stats.Chunks++
			m.stats.ProbeRows += p.read
			m.stats.ProbeMatched += p.matched
			m.advance(p.read)
		}
	}
	return nil
}

// indexPass re-reads the indexed table and emits rows by their hit bit.
// Unreadable rows were already reported while indexing and are skipped.
func (m *matcher) indexPass(ctx context.Context) error {
	r, err := m.indexed.Table.Rows(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var rowErr *table.RowReadError
			if !errors.As(err, &rowErr) {
				return err
			}
		} else if m.routing.Index.keep(m.hits.Get(row.Index)) {
			if err := m.opts.Emit(IndexSide, row); err != nil {
				return err
			}
		}

		m.stats.IndexRows++
		if m.stats.IndexRows%int64(m.opts.ChunkSize) == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		m.advance(1)
	}
}

func (m *matcher) advance(rows int64) {
	m.processed += rows
	if m.opts.Progress != nil && m.gate.Due(m.processed) {
		m.opts.Progress(m.processed)
	}
}
