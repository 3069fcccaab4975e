package engine

import (
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"time"

	"filecompare/pkg/table"
)

// SourceColumn names the origin column added to CommonValues and
// UniqueValues results.
const SourceColumn = "_source_file"

// Origin is the input file a result row came from.
type Origin uint8

const (
	File1 Origin = iota + 1
	File2
)

func (o Origin) String() string {
	switch o {
	case File1:
		return "file1"
	case File2:
		return "file2"
	default:
		return "unknown"
	}
}

func (o Origin) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Row is one output row: every original column of its source table.
type Row struct {
	Origin Origin
	Index  int
	Values []string
}

// Result is the output of a completed run. It is not modified after
// Execute returns.
type Result struct {
	Config Config
	Rows   []Row

	Columns1 []string
	Columns2 []string

	SourceRowCount1 int64
	SourceRowCount2 int64
	MatchedKeyCount int64
	// MatchedRows1 and MatchedRows2 count the rows of each file whose key
	// was found in the other.
	MatchedRows1 int64
	MatchedRows2 int64

	IndexSide Origin
	Spilled   bool
	Skipped   RowErrors
	Elapsed   time.Duration
}

// Count returns the number of rows from origin.
func (r *Result) Count(origin Origin) int64 {
	var n int64
	for _, row := range r.Rows {
		if row.Origin == origin {
			n++
		}
	}
	return n
}

// Header is the output column set. RemoveMatches and KeepMatches emit
// file2 rows with file2's columns. The two-sided operations use the union
// of both headers, file1's columns first, followed by SourceColumn. When an
// input already has a column of that name the origin column becomes
// "_source_file.1", "_source_file.2" and so on.
func (r *Result) Header() []string {
	if !r.Config.Operation.tagsOrigin() {
		return slices.Clone(r.Columns2)
	}
	header, _, _ := r.layout()
	return header
}

// layout computes the union header and where each file's columns land in
// it.
func (r *Result) layout() (header []string, pos1, pos2 []int) {
	at := make(map[string]int, len(r.Columns1)+len(r.Columns2))
	pos1 = make([]int, len(r.Columns1))
	for i, c := range r.Columns1 {
		at[c] = len(header)
		pos1[i] = len(header)
		header = append(header, c)
	}
	pos2 = make([]int, len(r.Columns2))
	for i, c := range r.Columns2 {
		p, ok := at[c]
		if !ok {
			p = len(header)
			at[c] = p
			header = append(header, c)
		}
		pos2[i] = p
	}
	source := SourceColumn
	for n := 1; ; n++ {
		if _, taken := at[source]; !taken {
			break
		}
		source = SourceColumn + "." + strconv.Itoa(n)
	}
	header = append(header, source)
	return header, pos1, pos2
}

// Records yields every row laid out by Header, in result order.
func (r *Result) Records() iter.Seq[[]string] {
	if !r.Config.Operation.tagsOrigin() {
		width := len(r.Columns2)
		return func(yield func([]string) bool) {
			for _, row := range r.Rows {
				rec := make([]string, width)
				copy(rec, row.Values)
				if !yield(rec) {
					return
				}
			}
		}
	}

	header, pos1, pos2 := r.layout()
	return func(yield func([]string) bool) {
		for _, row := range r.Rows {
			pos := pos1
			if row.Origin == File2 {
				pos = pos2
			}
			rec := make([]string, len(header))
			for i, v := range row.Values {
				if i < len(pos) {
					rec[pos[i]] = v
				}
			}
			rec[len(rec)-1] = row.Origin.String()
			if !yield(rec) {
				return
			}
		}
	}
}

// Export writes the result with its header to path.
func (r *Result) Export(path string, format table.Format) error {
	if format == "" {
		format = r.Config.OutputFormat
	}
	if format == "" {
		var err error
		if format, err = table.FormatOf(path); err != nil {
			return err
		}
	}
	return table.Export(path, format, r.Header(), r.Records())
}

// Summary is a one-line description of the outcome.
func (r *Result) Summary() string {
	total := int64(len(r.Rows))
	original := r.SourceRowCount2 - r.skipped(File2)

	switch r.Config.Operation {
	case RemoveMatches:
		return fmt.Sprintf("Removed %d matching rows. Result contains %d rows.", original-total, total)
	case KeepMatches:
		return fmt.Sprintf("Kept %d matching rows from %d total rows. Removed %d non-matching rows.", total, original, original-total)
	case CommonValues:
		return fmt.Sprintf("Found %d common values. Result contains %d rows from both files.", r.MatchedKeyCount, total)
	case UniqueValues:
		return fmt.Sprintf("Found %d rows unique to file1 and %d rows unique to file2. Result contains %d rows.",
			r.Count(File1), r.Count(File2), total)
	default:
		return fmt.Sprintf("Result contains %d rows.", total)
	}
}

func (r *Result) skipped(origin Origin) int64 {
	if origin == File1 {
		return r.Skipped.File1
	}
	return r.Skipped.File2
}

// Report renders a multi-line summary of the run for a text file or the
// terminal.
func (r *Result) Report(file1, file2 string, generated time.Time) string {
	rule := strings.Repeat("=", 50)
	lines := []string{
		rule,
		"FILE COMPARISON OPERATION SUMMARY",
		rule,
		"",
		"Operation Type: " + r.Config.Operation.String(),
		fmt.Sprintf("Processing Time: %.2f seconds", r.Elapsed.Seconds()),
		"Original Row Count: " + groupThousands(r.SourceRowCount2),
		"Result Row Count: " + groupThousands(int64(len(r.Rows))),
		"",
		"Operation Summary:",
		r.Summary(),
		"",
		"Configuration Details:",
		"  - File 1: " + orNA(file1),
		"  - File 2: " + orNA(file2),
		"  - Comparison Column 1: " + orNA(r.Config.File1Column),
		"  - Comparison Column 2: " + orNA(r.Config.File2Column),
		fmt.Sprintf("  - Case Sensitive: %t", r.Config.CaseSensitive),
		"",
	}
	if len(r.Rows) > 0 {
		header := r.Header()
		lines = append(lines,
			"Result Data Statistics:",
			fmt.Sprintf("  - Columns: %d", len(header)),
			"  - Column Names: "+strings.Join(header, ", "),
			"",
		)
	}
	if r.Skipped.Count > 0 {
		lines = append(lines, "Skipped Rows: "+r.Skipped.String(), "")
	}
	lines = append(lines,
		"Report Generated: "+generated.Format(time.DateTime),
		rule,
	)
	return strings.Join(lines, "\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func groupThousands(n int64) string {
	s := fmt.Sprint(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
