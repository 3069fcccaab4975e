// Package table is the tabular input and output layer: it opens delimited
// text, spreadsheet and Parquet files as restartable row streams and writes
// comparison results back out.
package table

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	ErrNotFound          = errors.New("table: file not found")
	ErrUnsupportedFormat = errors.New("table: unsupported format")
	ErrColumnNotFound    = errors.New("table: column not found")
)

// ParseError reports a file that could not be opened as a table at all.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("table: parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RowReadError reports a single row that could not be decoded. Readers
// return it from Read and stay usable: the caller may skip the row and
// continue.
type RowReadError struct {
	Row int
	Err error
}

func (e *RowReadError) Error() string {
	return fmt.Sprintf("table: row %d: %v", e.Row, e.Err)
}

func (e *RowReadError) Unwrap() error { return e.Err }

// Row is one data row. Index is the zero-based position among data rows
// (the header is not counted) and is stable across passes.
type Row struct {
	Index  int
	Values []string
}

// Value returns the cell at col, or "" for ragged rows.
func (r Row) Value(col int) string {
	if col < 0 || col >= len(r.Values) {
		return ""
	}
	return r.Values[col]
}

// Reader is one sequential pass over a table's rows.
type Reader interface {
	// Read returns the next row, io.EOF at the end, or a *RowReadError
	// for a row that could not be decoded. Any other error ends the pass.
	Read() (Row, error)
	Close() error
}

// Handle is an opened table. Rows may be called any number of times; every
// call starts an independent pass from the first data row.
type Handle interface {
	Name() string
	Columns() []string
	Rows(ctx context.Context) (Reader, error)
}

// Counter is implemented by handles that know their row count. ok is false
// when the count is not known yet.
type Counter interface {
	RowCount() (n int, ok bool)
}

// Sizer is implemented by handles backed by a file; the size is the
// fallback when a row count is not cheaply available.
type Sizer interface {
	SizeHint() int64
}

// RowCount returns the handle's row count when it is cheaply known.
func RowCount(h Handle) (int, bool) {
	if c, ok := h.(Counter); ok {
		return c.RowCount()
	}
	return 0, false
}

// SizeHint returns the handle's byte size, or -1 when unknown.
func SizeHint(h Handle) int64 {
	if s, ok := h.(Sizer); ok {
		return s.SizeHint()
	}
	return -1
}

// Count reads a full pass and returns the number of data rows, including
// rows that failed to decode.
func Count(h Handle) (int, error) {
	r, err := h.Rows(context.Background())
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for {
		_, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			var rowErr *RowReadError
			if !errors.As(err, &rowErr) {
				return n, err
			}
		}
		n++
	}
}

// ColumnIndex resolves a column name against the handle's header. An exact
// match wins; otherwise a trimmed, case-insensitive match is accepted when
// it is unambiguous.
func ColumnIndex(h Handle, name string) (int, error) {
	cols := h.Columns()
	for i, c := range cols {
		if c == name {
			return i, nil
		}
	}

	want := strings.TrimSpace(name)
	found := -1
	for i, c := range cols {
		if strings.EqualFold(strings.TrimSpace(c), want) {
			if found >= 0 {
				return -1, fmt.Errorf("%w: %q is ambiguous in %s", ErrColumnNotFound, name, h.Name())
			}
			found = i
		}
	}
	if found < 0 {
		return -1, fmt.Errorf("%w: %q in %s", ErrColumnNotFound, name, h.Name())
	}
	return found, nil
}

// uniqueHeader makes blank and duplicate header names addressable the way
// spreadsheet tools show them: "Unnamed: 3", "name.1".
func uniqueHeader(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]struct{}, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		name := h
		for n := 1; ; n++ {
			if _, taken := used[name]; !taken {
				break
			}
			name = h + "." + strconv.Itoa(n)
		}
		used[name] = struct{}{}
		out[i] = name
	}
	return out
}
