package table

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Format identifies a table container.
type Format string

const (
	FormatCSV         Format = "csv"
	FormatSpreadsheet Format = "excel"
	FormatParquet     Format = "parquet"
)

// ParseFormat accepts the names used on the command line and in requests.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "excel", "xlsx", "spreadsheet":
		return FormatSpreadsheet, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Extensions lists the file extensions each format is read from and
// written to; the first one is the default for output.
var Extensions = map[Format][]string{
	FormatCSV:         {".csv", ".tsv", ".tab", ".txt"},
	FormatSpreadsheet: {".xlsx", ".xlsm"},
	FormatParquet:     {".parquet"},
}

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	for f, exts := range Extensions {
		for _, e := range exts {
			if e == ext {
				return f, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// Open opens path as a table, choosing the reader by extension.
func Open(path string) (Handle, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatSpreadsheet:
		return OpenXLSX(path)
	case FormatParquet:
		return OpenParquet(path)
	default:
		return OpenCSV(path)
	}
}

// FileInfo is the metadata shown before a comparison is configured.
type FileInfo struct {
	Path         string    `json:"path"`
	Format       Format    `json:"format"`
	Columns      []string  `json:"columns"`
	RowCount     int       `json:"row_count"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Info opens path and collects its metadata. Row counts that are not known
// up front are obtained with a full pass.
func Info(path string) (FileInfo, error) {
	h, err := Open(path)
	if err != nil {
		return FileInfo{}, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	format, _ := FormatOf(path)

	n, ok := RowCount(h)
	if !ok {
		if n, err = Count(h); err != nil {
			return FileInfo{}, err
		}
	}

	return FileInfo{
		Path:         path,
		Format:       format,
		Columns:      h.Columns(),
		RowCount:     n,
		Size:         st.Size(),
		LastModified: st.ModTime(),
	}, nil
}
