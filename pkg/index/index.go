// Package index builds the key → row lookup over the index side of a
// comparison. Small key sets live in a skip list; once the estimated size
// crosses the memory budget the entries move into hash-prefix buckets on
// disk that are staged back into a bounded cache on lookup.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"filecompare/pkg/normalize"
	"filecompare/pkg/table"
)

var ErrIndexOverflow = errors.New("index: bucket exceeds memory budget")

// OverflowError reports the key whose rows alone do not fit the budget.
type OverflowError struct {
	Key    string
	Bytes  int64
	Budget int64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("index: key %q needs %d bytes, budget is %d", e.Key, e.Bytes, e.Budget)
}

func (e *OverflowError) Unwrap() error { return ErrIndexOverflow }

// Index maps a normalized key to the indices of the rows carrying it, in
// row order. Lookups are safe for concurrent use once Build has returned.
// The returned slice is shared and must not be modified.
type Index interface {
	Lookup(key normalize.Key) ([]int, error)
	Stats() Stats
	Close() error
}

// Stats describes a built index.
type Stats struct {
	// Read counts every row consumed, unreadable and empty-key rows
	// included; Rows counts the rows actually indexed.
	Read       int64 `json:"read"`
	Rows       int64 `json:"rows"`
	Keys       int64 `json:"keys"`
	EmptyKeys  int64 `json:"empty_keys"`
	MaxRow     int   `json:"max_row"`
	Spilled    bool  `json:"spilled"`
	Buckets    int   `json:"buckets"`
	Splits     int   `json:"splits"`
	SpillBytes int64 `json:"spill_bytes"`
}

// Options control a build.
type Options struct {
	CaseSensitive bool
	// MatchEmpty indexes empty keys so they can match each other. When
	// false, rows with an empty key are never indexed.
	MatchEmpty bool
	// MemoryBudget bounds the in-memory entries and, after a spill, the
	// staged bucket cache. Zero or less means unbounded.
	MemoryBudget int64

	SpillDir    string
	MinBuckets  int
	BloomFPRate float64
	Compress    bool

	// ExpectedRows sizes the bucket count when spilling; zero if unknown.
	ExpectedRows int

	// Every is the row cadence of cancellation checks and Progress calls.
	Every    int
	Progress func(rowsRead int64)
	// OnRowError decides what happens to an unreadable row. Returning nil
	// skips it; an error aborts the build. Nil skips every bad row.
	OnRowError func(*table.RowReadError) error
}

func (o *Options) withDefaults() {
	if o.MinBuckets < 1 {
		o.MinBuckets = 16
	}
	if o.BloomFPRate <= 0 || o.BloomFPRate >= 1 {
		o.BloomFPRate = 0.01
	}
	if o.Every < 1 {
		o.Every = 4096
	}
}

// Build reads every row of h once and indexes the key in column col.
func Build(ctx context.Context, h table.Handle, col int, opts Options) (Index, error) {
	opts.withDefaults()

	r, err := h.Rows(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	b := &builder{opts: opts, col: col, mem: newMemIndex()}
	defer b.abort()

	var read int64
	for {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var rowErr *table.RowReadError
			if !errors.As(err, &rowErr) {
				return nil, err
			}
			if opts.OnRowError != nil {
				if err := opts.OnRowError(rowErr); err != nil {
					return nil, err
				}
			}
		} else if err := b.add(row); err != nil {
			return nil, err
		}

		read++
		if read%int64(opts.Every) == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if opts.Progress != nil {
				opts.Progress(read)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Progress != nil {
		opts.Progress(read)
	}

	b.stats.Read = read
	return b.finish(ctx)
}

type builder struct {
	opts  Options
	col   int
	mem   *memIndex
	spill *spillWriter
	stats Stats
	done  bool
}

func (b *builder) add(row table.Row) error {
	if row.Index > b.stats.MaxRow {
		b.stats.MaxRow = row.Index
	}
	key := normalize.Normalize(row.Value(b.col), b.opts.CaseSensitive)
	if key.IsEmpty() {
		b.stats.EmptyKeys++
		if !b.opts.MatchEmpty {
			return nil
		}
	}
	b.stats.Rows++

	k := key.String()
	if b.spill != nil {
		return b.spill.add(k, row.Index)
	}

	b.mem.add(k, row.Index)
	if b.opts.MemoryBudget > 0 && b.mem.bytes > b.opts.MemoryBudget {
		return b.startSpill()
	}
	return nil
}

// startSpill moves the in-memory entries into bucket runs; every later row
// goes straight to disk.
func (b *builder) startSpill() error {
	buckets := bucketCount(b.mem.bytes, b.stats.Rows, int64(b.opts.ExpectedRows), b.opts.MemoryBudget, b.opts.MinBuckets)
	sw, err := newSpillWriter(b.opts, buckets)
	if err != nil {
		return err
	}
	slog.Info("index exceeds memory budget, spilling to disk",
		"budget", b.opts.MemoryBudget, "bytes", b.mem.bytes, "rows", b.stats.Rows, "buckets", buckets, "dir", sw.dir)

	var werr error
	b.mem.each(func(key string, refs []int) bool {
		for _, ref := range refs {
			if werr = sw.add(key, ref); werr != nil {
				return false
			}
		}
		return true
	})
	if werr != nil {
		sw.remove()
		return werr
	}
	b.spill = sw
	b.mem = nil
	return nil
}

func (b *builder) finish(ctx context.Context) (Index, error) {
	b.done = true
	if b.spill == nil {
		b.stats.Keys = int64(b.mem.m.Len())
		return &memoryIndex{mem: b.mem, stats: b.stats}, nil
	}

	idx, err := b.spill.seal(ctx)
	if err != nil {
		b.spill.remove()
		return nil, err
	}
	st := idx.stats
	st.Read, st.Rows, st.EmptyKeys, st.MaxRow = b.stats.Read, b.stats.Rows, b.stats.EmptyKeys, b.stats.MaxRow
	idx.stats = st
	return idx, nil
}

// abort cleans up spill files when Build returns early.
func (b *builder) abort() {
	if !b.done && b.spill != nil {
		b.spill.remove()
	}
}

// bucketCount sizes the top-level fan-out so each bucket is expected to
// fill about half the budget.
func bucketCount(bytesSoFar, rowsSoFar, expectedRows, budget int64, minBuckets int) int {
	total := bytesSoFar * 2
	if expectedRows > rowsSoFar && rowsSoFar > 0 {
		total = bytesSoFar * expectedRows / rowsSoFar
	}
	want := int((total*2 + budget - 1) / budget)

	n := 1
	for n < want || n < minBuckets {
		n <<= 1
	}
	return min(n, maxTopBuckets)
}
