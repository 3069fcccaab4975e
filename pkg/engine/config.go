package engine

import (
	"errors"
	"fmt"

	"filecompare/pkg/metrics"
	"filecompare/pkg/table"
)

// Config describes one comparison. It is a value: build it, validate it
// against the two tables, and do not change it while a run is in flight.
type Config struct {
	File1Column   string       `json:"file1_column"`
	File2Column   string       `json:"file2_column"`
	Operation     Operation    `json:"operation"`
	CaseSensitive bool         `json:"case_sensitive"`
	OutputFormat  table.Format `json:"output_format,omitempty"`
}

// NewConfig builds a Config and checks it against the tables it will run
// on.
func NewConfig(t1, t2 table.Handle, col1, col2 string, op Operation, caseSensitive bool, format table.Format) (Config, error) {
	c := Config{
		File1Column:   col1,
		File2Column:   col2,
		Operation:     op,
		CaseSensitive: caseSensitive,
		OutputFormat:  format,
	}
	if err := c.Validate(t1, t2); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the operation, output format and both column references.
func (c Config) Validate(t1, t2 table.Handle) error {
	_, _, err := c.resolve(t1, t2)
	return err
}

func (c Config) resolve(t1, t2 table.Handle) (col1, col2 int, err error) {
	if !c.Operation.Valid() {
		return 0, 0, fmt.Errorf("%w: unknown operation %d", ErrInvalidConfiguration, uint8(c.Operation))
	}
	if c.OutputFormat != "" {
		if _, ok := table.Extensions[c.OutputFormat]; !ok {
			return 0, 0, fmt.Errorf("%w: output format %q", ErrInvalidConfiguration, c.OutputFormat)
		}
	}
	if t1 == nil || t2 == nil {
		return 0, 0, fmt.Errorf("%w: both tables are required", ErrInvalidConfiguration)
	}
	if len(t1.Columns()) == 0 {
		return 0, 0, fmt.Errorf("%w: %w: %s", ErrInvalidConfiguration, ErrEmptyTable, t1.Name())
	}
	if len(t2.Columns()) == 0 {
		return 0, 0, fmt.Errorf("%w: %w: %s", ErrInvalidConfiguration, ErrEmptyTable, t2.Name())
	}

	col1, err1 := table.ColumnIndex(t1, c.File1Column)
	col2, err2 := table.ColumnIndex(t2, c.File2Column)
	if err := errors.Join(err1, err2); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return col1, col2, nil
}

// Options are the engine's resource settings, shared by every run.
type Options struct {
	// MemoryBudget bounds the index; zero or less never spills.
	MemoryBudget int64
	ChunkSize    int
	Workers      int
	// ProgressEvery is the row distance between progress reports.
	ProgressEvery int64
	// MaxRowErrors aborts a run once more rows than this were unreadable.
	// Zero or less never aborts.
	MaxRowErrors int
	// MatchEmpty lets empty keys match each other.
	MatchEmpty bool

	SpillDir    string
	MinBuckets  int
	BloomFPRate float64
	Compress    bool

	Metrics metrics.Collector
}

// DefaultOptions mirror the defaults of the configuration file.
func DefaultOptions() Options {
	return Options{
		MemoryBudget:  256 << 20,
		ChunkSize:     4096,
		ProgressEvery: 10000,
		MaxRowErrors:  100,
		MinBuckets:    16,
		BloomFPRate:   0.01,
		Compress:      true,
	}
}
