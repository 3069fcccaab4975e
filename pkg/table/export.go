package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"
)

const (
	maxSheetRows      = 1048576
	parquetWriteBatch = 1000
)

// WriteError wraps any failure while producing an output file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("table: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Export writes a header and rows to path in the given format. The path's
// extension must belong to the format. The file is written to a temporary
// name next to path and renamed into place on success.
func Export(path string, format Format, columns []string, rows iter.Seq[[]string]) error {
	exts, ok := Extensions[format]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if !slices.Contains(exts, strings.ToLower(filepath.Ext(path))) {
		return fmt.Errorf("%w: %s output requires one of %v, got %q", ErrUnsupportedFormat, format, exts, filepath.Ext(path))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	tmp := path + ".part"
	var err error
	switch format {
	case FormatSpreadsheet:
		err = writeXLSX(tmp, columns, rows)
	case FormatParquet:
		err = writeParquet(tmp, columns, rows)
	default:
		err = writeCSV(tmp, columns, rows)
	}
	if err != nil {
		os.Remove(tmp)
		return &WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

func writeCSV(path string, columns []string, rows iter.Seq[[]string]) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return err
	}
	for rec := range rows {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeXLSX(path string, columns []string, rows iter.Seq[[]string]) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	sheet := f.GetSheetName(0)
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	n := 1
	write := func(rec []string) error {
		if n > maxSheetRows {
			return errors.New("result exceeds the worksheet row limit")
		}
		cell, err := excelize.CoordinatesToCellName(1, n)
		if err != nil {
			return err
		}
		vals := make([]interface{}, len(rec))
		for i, v := range rec {
			vals[i] = v
		}
		n++
		return sw.SetRow(cell, vals)
	}

	if err := write(columns); err != nil {
		return err
	}
	for rec := range rows {
		if err := write(rec); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func writeParquet(path string, columns []string, rows iter.Seq[[]string]) (err error) {
	// parquet fields are keyed by name; duplicates would be merged
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	group := make(parquet.Group, len(columns))
	for _, c := range columns {
		group[c] = parquet.String()
	}
	schema := parquet.NewSchema("result", group)

	// schema fields come back sorted by name; map each back to its column
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	fields := schema.Fields()
	order := make([]int, len(fields))
	for j, field := range fields {
		order[j] = pos[field.Name()]
	}

	pw := parquet.NewWriter(f, schema, parquet.Compression(&parquet.Zstd))
	batch := make([]parquet.Row, 0, parquetWriteBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := pw.WriteRows(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for rec := range rows {
		prow := make(parquet.Row, len(order))
		for j, i := range order {
			v := ""
			if i < len(rec) {
				v = rec[i]
			}
			prow[j] = parquet.ByteArrayValue([]byte(v)).Level(0, 0, j)
		}
		batch = append(batch, prow)
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return pw.Close()
}
