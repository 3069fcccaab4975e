package table

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// readAll drains one pass, returning good rows and the indices of bad ones.
func readAll(t *testing.T, h Handle) ([]Row, []int) {
	t.Helper()
	r, err := h.Rows(context.Background())
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	defer r.Close()

	var rows []Row
	var bad []int
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, bad
		}
		var rowErr *RowReadError
		if errors.As(err, &rowErr) {
			bad = append(bad, rowErr.Row)
			continue
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		rows = append(rows, row)
	}
}

func TestUniqueHeader(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"a", "b"}, []string{"a", "b"}},
		{[]string{"a", "a", "a"}, []string{"a", "a.1", "a.2"}},
		{[]string{"id", "", " name "}, []string{"id", "Unnamed: 1", "name"}},
		{[]string{"x", "x.1", "x"}, []string{"x", "x.1", "x.2"}},
	}
	for _, tt := range tests {
		if got := uniqueHeader(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("uniqueHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestColumnIndex(t *testing.T) {
	h := NewMemory("m", []string{"ID", "Email", "email "}, nil)

	if i, err := ColumnIndex(h, "Email"); err != nil || i != 1 {
		t.Fatalf("exact match: got %d, %v", i, err)
	}
	if i, err := ColumnIndex(h, "id"); err != nil || i != 0 {
		t.Fatalf("folded match: got %d, %v", i, err)
	}
	if _, err := ColumnIndex(h, "EMAIL"); !errors.Is(err, ErrColumnNotFound) {
		t.Fatalf("ambiguous match: expected ErrColumnNotFound, got %v", err)
	}
	if _, err := ColumnIndex(h, "phone"); !errors.Is(err, ErrColumnNotFound) {
		t.Fatalf("missing column: expected ErrColumnNotFound, got %v", err)
	}
}

func TestMemory_RestartablePasses(t *testing.T) {
	h := NewMemory("m", []string{"k"}, [][]string{{"a"}, {"b"}})

	first, _ := readAll(t, h)
	second, _ := readAll(t, h)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("passes differ: %v vs %v", first, second)
	}
	if len(first) != 2 || first[1].Index != 1 || first[1].Value(0) != "b" {
		t.Fatalf("unexpected rows: %v", first)
	}
	if n, ok := RowCount(h); !ok || n != 2 {
		t.Fatalf("RowCount = %d, %v", n, ok)
	}
}

func TestCSV_HeaderBOMAndRows(t *testing.T) {
	path := writeFile(t, "in.csv", "\xEF\xBB\xBFid,name\n1,john\n2\n3,bob\n")

	h, err := OpenCSV(path)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	if !reflect.DeepEqual(h.Columns(), []string{"id", "name"}) {
		t.Fatalf("columns = %q", h.Columns())
	}
	if _, ok := h.RowCount(); ok {
		t.Fatal("row count should be unknown before a pass")
	}

	rows, bad := readAll(t, h)
	if len(bad) != 0 {
		t.Fatalf("unexpected bad rows %v", bad)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1].Value(1) != "" {
		t.Fatalf("ragged row should read as empty, got %q", rows[1].Value(1))
	}
	if n, ok := h.RowCount(); !ok || n != 3 {
		t.Fatalf("RowCount after pass = %d, %v", n, ok)
	}
	if h.SizeHint() <= 0 {
		t.Fatal("SizeHint should be the file size")
	}
}

func TestCSV_BadRowIsReportedAndSkipped(t *testing.T) {
	path := writeFile(t, "in.csv", "id,name\n1,a\n2,x\"y\n3,c\n")

	h, err := OpenCSV(path)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	rows, bad := readAll(t, h)
	if !reflect.DeepEqual(bad, []int{1}) {
		t.Fatalf("bad rows = %v, want [1]", bad)
	}
	if len(rows) != 2 || rows[1].Index != 2 {
		t.Fatalf("unexpected good rows: %v", rows)
	}
}

func TestXLSX_BlankRowsAreKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.xlsx")
	f := excelize.NewFile()
	// row 3 is left empty
	for cell, vals := range map[string][]any{
		"A1": {"id", "name"},
		"A2": {"1", "a"},
		"A4": {"2", "b"},
	} {
		if err := f.SetSheetRow("Sheet1", cell, &vals); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rows, bad := readAll(t, h)
	if len(bad) != 0 {
		t.Fatalf("unexpected bad rows %v", bad)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d: %+v", len(rows), rows)
	}
	if rows[1].Index != 1 || rows[1].Value(0) != "" || rows[1].Value(1) != "" {
		t.Fatalf("blank row not kept in place: %+v", rows[1])
	}
	if rows[2].Value(0) != "2" {
		t.Fatalf("unexpected last row %+v", rows[2])
	}
}

func TestCSV_Delimiters(t *testing.T) {
	tsv := writeFile(t, "in.tsv", "a\tb\n1\t2\n")
	txt := writeFile(t, "in.txt", "a;b;c\n1;2;3\n")

	for path, want := range map[string]int{tsv: 2, txt: 3} {
		h, err := Open(path)
		if err != nil {
			t.Fatalf("Open(%s): %v", path, err)
		}
		if got := len(h.Columns()); got != want {
			t.Fatalf("%s: %d columns, want %d", path, got, want)
		}
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "missing.csv")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	odd := writeFile(t, "in.json", "{}")
	if _, err := Open(odd); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}

	empty := writeFile(t, "empty.csv", "")
	var pe *ParseError
	if _, err := Open(empty); !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestInfo(t *testing.T) {
	path := writeFile(t, "in.csv", "k\na\nb\nc\n")
	info, err := Info(path)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Format != FormatCSV || info.RowCount != 3 || info.Size == 0 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"CSV": FormatCSV, "xlsx": FormatSpreadsheet, "excel": FormatSpreadsheet, "parquet": FormatParquet} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("json"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

var (
	exportColumns = []string{"id", "email", "_source_file"}
	exportRows    = [][]string{
		{"1", "john@x.com", "file1"},
		{"2", "", "file2"},
		{"3", "bob@x.com", "file2"},
	}
)

// byName reorders rows read back from h into exportColumns order.
func byName(t *testing.T, h Handle) [][]string {
	t.Helper()
	idx := make([]int, len(exportColumns))
	for i, c := range exportColumns {
		j, err := ColumnIndex(h, c)
		if err != nil {
			t.Fatalf("ColumnIndex(%s): %v", c, err)
		}
		idx[i] = j
	}
	rows, bad := readAll(t, h)
	if len(bad) != 0 {
		t.Fatalf("bad rows %v", bad)
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = make([]string, len(idx))
		for k, j := range idx {
			out[i][k] = r.Value(j)
		}
	}
	return out
}

func TestExport_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		file   string
	}{
		{"csv", FormatCSV, "out.csv"},
		{"xlsx", FormatSpreadsheet, "out.xlsx"},
		{"parquet", FormatParquet, "out.parquet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", tt.file)
			if err := Export(path, tt.format, exportColumns, slices.Values(exportRows)); err != nil {
				t.Fatalf("Export: %v", err)
			}
			if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
				t.Fatalf("temporary file left behind: %v", err)
			}

			h, err := Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			got := byName(t, h)
			if !reflect.DeepEqual(got, exportRows) {
				t.Fatalf("round trip mismatch:\n got %q\nwant %q", got, exportRows)
			}
		})
	}
}

func TestExport_ExtensionMustMatchFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	err := Export(path, FormatSpreadsheet, exportColumns, slices.Values(exportRows))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("nothing should be written on a format mismatch")
	}
}

func TestExport_ParquetDuplicateColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	err := Export(path, FormatParquet, []string{"a", "a"}, slices.Values([][]string{{"1", "2"}}))
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected a write error, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("nothing should be written for duplicate columns")
	}
}

func TestExport_HeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := Export(path, FormatCSV, []string{"a", "b"}, slices.Values([][]string(nil))); err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a,b\n" {
		t.Fatalf("unexpected content %q", data)
	}
}
