package table

import (
	"context"
	"io"
)

// Memory is an in-process table. It is read-only after construction and
// safe for concurrent passes.
type Memory struct {
	name    string
	columns []string
	rows    [][]string
}

// NewMemory builds a table from a header and rows. The slices are not copied.
func NewMemory(name string, columns []string, rows [][]string) *Memory {
	return &Memory{name: name, columns: columns, rows: rows}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Columns() []string { return m.columns }

func (m *Memory) RowCount() (int, bool) { return len(m.rows), true }

func (m *Memory) Rows(ctx context.Context) (Reader, error) {
	return &memoryReader{rows: m.rows}, nil
}

type memoryReader struct {
	rows [][]string
	pos  int
}

func (r *memoryReader) Read() (Row, error) {
	if r.pos >= len(r.rows) {
		return Row{}, io.EOF
	}
	row := Row{Index: r.pos, Values: r.rows[r.pos]}
	r.pos++
	return row, nil
}

func (r *memoryReader) Close() error { return nil }
