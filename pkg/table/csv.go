package table

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSV is a delimited text table read straight from disk on every pass.
type CSV struct {
	path    string
	comma   rune
	columns []string
	size    int64

	// -1 until a pass has run to completion.
	rows atomic.Int64
}

// OpenCSV opens a delimited text file and reads its header. The delimiter is
// a tab for .tsv files and is sniffed from the header line for .txt files.
func OpenCSV(path string) (*CSV, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if err := skipBOM(br); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ParseError{Path: path, Err: err}
	}

	comma := ','
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab":
		comma = '\t'
	case ".txt":
		line, _ := br.Peek(4096)
		comma = sniffDelimiter(line)
	}

	r := newCSVReader(br, comma)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Path: path, Err: errors.New("file is empty")}
		}
		return nil, &ParseError{Path: path, Err: err}
	}

	t := &CSV{
		path:    path,
		comma:   comma,
		columns: uniqueHeader(header),
		size:    info.Size(),
	}
	t.rows.Store(-1)
	return t, nil
}

func (t *CSV) Name() string { return t.path }

func (t *CSV) Columns() []string { return t.columns }

func (t *CSV) SizeHint() int64 { return t.size }

// RowCount is only known once a full pass has been read.
func (t *CSV) RowCount() (int, bool) {
	n := t.rows.Load()
	if n < 0 {
		return 0, false
	}
	return int(n), true
}

func (t *CSV) Rows(ctx context.Context) (Reader, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, t.path)
		}
		return nil, err
	}

	br := bufio.NewReaderSize(f, 64*1024)
	if err := skipBOM(br); err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, err
	}
	r := newCSVReader(br, t.comma)
	if _, err := r.Read(); err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, &ParseError{Path: t.path, Err: err}
	}

	return &csvReader{table: t, file: f, r: r}, nil
}

type csvReader struct {
	table *CSV
	file  *os.File
	r     *csv.Reader
	next  int
	done  bool
}

func (r *csvReader) Read() (Row, error) {
	if r.done {
		return Row{}, io.EOF
	}

	rec, err := r.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.done = true
			r.table.rows.Store(int64(r.next))
			return Row{}, io.EOF
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			idx := r.next
			r.next++
			return Row{}, &RowReadError{Row: idx, Err: err}
		}
		return Row{}, err
	}

	row := Row{Index: r.next, Values: rec}
	r.next++
	return row, nil
}

func (r *csvReader) Close() error {
	return r.file.Close()
}

func newCSVReader(rd io.Reader, comma rune) *csv.Reader {
	r := csv.NewReader(rd)
	r.Comma = comma
	r.FieldsPerRecord = -1
	return r
}

func skipBOM(br *bufio.Reader) error {
	head, err := br.Peek(len(utf8BOM))
	if err != nil {
		return err
	}
	if bytes.Equal(head, utf8BOM) {
		_, err = br.Discard(len(utf8BOM))
	}
	return err
}

// sniffDelimiter picks the candidate that occurs most often in the first
// line, defaulting to a comma.
func sniffDelimiter(data []byte) rune {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[:i]
	}
	best, bestN := ',', 0
	for _, c := range []rune{',', '\t', ';', '|'} {
		if n := bytes.Count(data, []byte(string(c))); n > bestN {
			best, bestN = c, n
		}
	}
	return best
}
