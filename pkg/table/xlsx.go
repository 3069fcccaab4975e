package table

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

// XLSX is the first worksheet of a spreadsheet workbook. The workbook is
// reopened for every pass and streamed row by row.
type XLSX struct {
	path    string
	sheet   string
	columns []string
	size    int64
}

// OpenXLSX opens a workbook and reads the header row of its first sheet.
func OpenXLSX(path string) (*XLSX, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{Path: path, Err: errors.New("workbook has no sheets")}
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer rows.Close()

	var header []string
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
		if !blank(cols) {
			header = cols
			break
		}
	}
	if header == nil {
		return nil, &ParseError{Path: path, Err: errors.New("sheet is empty")}
	}

	return &XLSX{
		path:    path,
		sheet:   sheets[0],
		columns: uniqueHeader(header),
		size:    info.Size(),
	}, nil
}

func (t *XLSX) Name() string { return t.path }

func (t *XLSX) Columns() []string { return t.columns }

func (t *XLSX) SizeHint() int64 { return t.size }

func (t *XLSX) Rows(ctx context.Context) (Reader, error) {
	f, err := excelize.OpenFile(t.path)
	if err != nil {
		return nil, &ParseError{Path: t.path, Err: err}
	}
	rows, err := f.Rows(t.sheet)
	if err != nil {
		f.Close()
		return nil, &ParseError{Path: t.path, Err: err}
	}

	r := &xlsxReader{file: f, rows: rows}
	// skip everything up to and including the header row
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			r.Close()
			return nil, &ParseError{Path: t.path, Err: err}
		}
		if !blank(cols) {
			break
		}
	}
	return r, nil
}

type xlsxReader struct {
	file *excelize.File
	rows *excelize.Rows
	next int
}

func (r *xlsxReader) Read() (Row, error) {
	for r.rows.Next() {
		cols, err := r.rows.Columns()
		if err != nil {
			idx := r.next
			r.next++
			return Row{}, &RowReadError{Row: idx, Err: err}
		}
		// a blank row is kept; it becomes an empty-key row downstream
		row := Row{Index: r.next, Values: cols}
		r.next++
		return row, nil
	}
	if err := r.rows.Error(); err != nil {
		return Row{}, err
	}
	return Row{}, io.EOF
}

func (r *xlsxReader) Close() error {
	rerr := r.rows.Close()
	ferr := r.file.Close()
	return errors.Join(rerr, ferr)
}

func blank(cols []string) bool {
	for _, c := range cols {
		if c != "" {
			return false
		}
	}
	return true
}
