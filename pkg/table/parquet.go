package table

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/parquet-go/parquet-go"
)

const parquetReadBatch = 1000

// Parquet is a flat Parquet file. Every top-level field is a column; values
// are rendered as text.
type Parquet struct {
	path    string
	columns []string
	leaves  []int
	rows    int64
	size    int64
}

func OpenParquet(path string) (*Parquet, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	schema := pf.Schema()
	leafIndex := make(map[string]int)
	for i, col := range schema.Columns() {
		if len(col) > 0 {
			if _, ok := leafIndex[col[0]]; !ok {
				leafIndex[col[0]] = i
			}
		}
	}

	fields := schema.Fields()
	names := make([]string, len(fields))
	leaves := make([]int, len(fields))
	for i, field := range fields {
		names[i] = field.Name()
		idx, ok := leafIndex[field.Name()]
		if !ok {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("column %q has no leaf", field.Name())}
		}
		leaves[i] = idx
	}

	return &Parquet{
		path:    path,
		columns: uniqueHeader(names),
		leaves:  leaves,
		rows:    pf.NumRows(),
		size:    info.Size(),
	}, nil
}

func (t *Parquet) Name() string { return t.path }

func (t *Parquet) Columns() []string { return t.columns }

func (t *Parquet) RowCount() (int, bool) { return int(t.rows), true }

func (t *Parquet) SizeHint() int64 { return t.size }

func (t *Parquet) Rows(ctx context.Context) (Reader, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, &ParseError{Path: t.path, Err: err}
	}

	return &parquetReader{
		table:  t,
		file:   f,
		groups: pf.RowGroups(),
		buf:    make([]parquet.Row, parquetReadBatch),
	}, nil
}

type parquetReader struct {
	table  *Parquet
	file   *os.File
	groups []parquet.RowGroup
	group  int
	rows   parquet.Rows
	buf    []parquet.Row
	n, pos int
	next   int
}

func (r *parquetReader) Read() (Row, error) {
	for r.pos >= r.n {
		if err := r.fill(); err != nil {
			return Row{}, err
		}
	}

	prow := r.buf[r.pos]
	r.pos++

	values := make([]string, len(r.table.leaves))
	for i, leaf := range r.table.leaves {
		if leaf < len(prow) {
			values[i] = parquetText(prow[leaf])
		}
	}
	row := Row{Index: r.next, Values: values}
	r.next++
	return row, nil
}

// fill loads the next batch, moving across row groups. It returns io.EOF
// after the last group.
func (r *parquetReader) fill() error {
	for {
		if r.rows == nil {
			if r.group >= len(r.groups) {
				return io.EOF
			}
			r.rows = r.groups[r.group].Rows()
			r.group++
		}

		n, err := r.rows.ReadRows(r.buf)
		r.n, r.pos = n, 0
		if n > 0 {
			if err != nil && err != io.EOF {
				return err
			}
			if err == io.EOF {
				// keep the batch, move to the next group afterwards
				r.rows.Close()
				r.rows = nil
			}
			return nil
		}
		r.rows.Close()
		r.rows = nil
		if err != nil && err != io.EOF {
			return err
		}
	}
}

func (r *parquetReader) Close() error {
	if r.rows != nil {
		r.rows.Close()
	}
	return r.file.Close()
}

func parquetText(v parquet.Value) string {
	if v.IsNull() {
		return ""
	}
	switch v.Kind() {
	case parquet.Boolean:
		return strconv.FormatBool(v.Boolean())
	case parquet.Int32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case parquet.Int64:
		return strconv.FormatInt(v.Int64(), 10)
	case parquet.Float:
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32)
	case parquet.Double:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}
