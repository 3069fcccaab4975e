// Package compat samples two key columns and judges whether comparing them
// is meaningful. The verdict is advisory; nothing here blocks a comparison.
package compat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"filecompare/pkg/normalize"
	"filecompare/pkg/table"
)

// Tag is the coarse type of a sampled value.
type Tag uint8

const (
	TagText Tag = iota
	TagNumeric
	TagDate
	TagBoolean
	numTags
)

func (t Tag) String() string {
	switch t {
	case TagNumeric:
		return "numeric"
	case TagDate:
		return "date"
	case TagBoolean:
		return "boolean"
	default:
		return "text"
	}
}

func (t Tag) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Tag) UnmarshalText(b []byte) error {
	for c := TagText; c < numTags; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown value type %q", b)
}

// Level grades a verdict.
type Level uint8

const (
	Compatible Level = iota
	CompatibleWithCoercion
	Incompatible
)

func (l Level) String() string {
	switch l {
	case Compatible:
		return "compatible"
	case CompatibleWithCoercion:
		return "compatible_with_coercion"
	default:
		return "incompatible"
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	switch string(b) {
	case "compatible":
		*l = Compatible
	case "compatible_with_coercion":
		*l = CompatibleWithCoercion
	case "incompatible":
		*l = Incompatible
	default:
		return fmt.Errorf("unknown compatibility level %q", b)
	}
	return nil
}

// Pair is a value found in both samples, with how often each sample held it.
type Pair struct {
	Value1 string `json:"value1"`
	Value2 string `json:"value2"`
	Count1 int    `json:"count1"`
	Count2 int    `json:"count2"`
}

// Profile is the sampled shape of one column.
type Profile struct {
	Column   string      `json:"column"`
	Sampled  int         `json:"sampled"`
	Dominant Tag         `json:"dominant"`
	Counts   map[Tag]int `json:"counts"`
	Examples []string    `json:"examples"`

	keys map[string]keyCount
}

type keyCount struct {
	raw   string
	count int
}

// Verdict is the outcome of Analyze.
type Verdict struct {
	Level         Level   `json:"level"`
	SampleMatches []Pair  `json:"sample_matches"`
	Reason        string  `json:"reason"`
	File1         Profile `json:"file1"`
	File2         Profile `json:"file2"`
}

type Options struct {
	// SampleSize is the number of non-empty values read per column.
	SampleSize int
	// MaxMatches caps Verdict.SampleMatches.
	MaxMatches    int
	CaseSensitive bool
}

const (
	defaultSampleSize = 100
	defaultMaxMatches = 20
	maxExamples       = 5
	// share of the text side that must look like the other side's type
	coercionShare = 0.25
)

// Analyze samples col1 of t1 and col2 of t2 and grades their compatibility.
func Analyze(ctx context.Context, t1 table.Handle, col1 string, t2 table.Handle, col2 string, opts Options) (Verdict, error) {
	if opts.SampleSize < 1 {
		opts.SampleSize = defaultSampleSize
	}
	if opts.MaxMatches < 1 {
		opts.MaxMatches = defaultMaxMatches
	}

	p1, rows1, err := sample(ctx, t1, col1, opts)
	if err != nil {
		return Verdict{}, fmt.Errorf("sample first file: %w", err)
	}
	p2, rows2, err := sample(ctx, t2, col2, opts)
	if err != nil {
		return Verdict{}, fmt.Errorf("sample second file: %w", err)
	}

	v := Verdict{File1: p1, File2: p2, SampleMatches: matches(p1, p2, opts.MaxMatches)}
	v.Level, v.Reason = grade(p1, rows1, p2, rows2, len(v.SampleMatches) > 0)
	return v, nil
}

func grade(p1 Profile, rows1 int, p2 Profile, rows2 int, overlap bool) (Level, string) {
	switch {
	case p1.Sampled == 0 && rows1 > 0:
		return Incompatible, fmt.Sprintf("Column '%s' in first file contains only empty values", p1.Column)
	case p2.Sampled == 0 && rows2 > 0:
		return Incompatible, fmt.Sprintf("Column '%s' in second file contains only empty values", p2.Column)
	case p1.Sampled == 0 || p2.Sampled == 0:
		return Compatible, "No values to compare"
	case p1.Dominant == p2.Dominant:
		return Compatible, fmt.Sprintf("Columns are compatible (both %s)", p1.Dominant)
	}

	coercible := overlap
	if p1.Dominant == TagText && p1.share(p2.Dominant) >= coercionShare {
		coercible = true
	}
	if p2.Dominant == TagText && p2.share(p1.Dominant) >= coercionShare {
		coercible = true
	}
	if coercible {
		return CompatibleWithCoercion, fmt.Sprintf("Column '%s' is %s and '%s' is %s; values will be compared as text",
			p1.Column, p1.Dominant, p2.Column, p2.Dominant)
	}
	return Incompatible, fmt.Sprintf("Incompatible column types: '%s' is %s but '%s' is %s",
		p1.Column, p1.Dominant, p2.Column, p2.Dominant)
}

func (p Profile) share(t Tag) float64 {
	if p.Sampled == 0 {
		return 0
	}
	return float64(p.Counts[t]) / float64(p.Sampled)
}

// sample reads until opts.SampleSize non-empty values were seen. It also
// returns the number of rows read so an empty table can be told apart from
// an empty column.
func sample(ctx context.Context, h table.Handle, column string, opts Options) (Profile, int, error) {
	col, err := table.ColumnIndex(h, column)
	if err != nil {
		return Profile{}, 0, err
	}
	r, err := h.Rows(ctx)
	if err != nil {
		return Profile{}, 0, err
	}
	defer r.Close()

	p := Profile{
		Column: h.Columns()[col],
		Counts: make(map[Tag]int, numTags),
		keys:   make(map[string]keyCount),
	}
	rows := 0
	for p.Sampled < opts.SampleSize {
		if err := ctx.Err(); err != nil {
			return Profile{}, rows, err
		}
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var rowErr *table.RowReadError
			if errors.As(err, &rowErr) {
				rows++
				continue
			}
			return Profile{}, rows, err
		}
		rows++

		raw := strings.TrimSpace(row.Value(col))
		if raw == "" {
			continue
		}
		p.Sampled++
		p.Counts[Classify(raw)]++
		if len(p.Examples) < maxExamples {
			p.Examples = append(p.Examples, raw)
		}

		k := normalize.Normalize(raw, opts.CaseSensitive).String()
		kc := p.keys[k]
		if kc.count == 0 {
			kc.raw = raw
		}
		kc.count++
		p.keys[k] = kc
	}

	p.Dominant = dominant(p.Counts)
	return p, rows, nil
}

// dominant picks the most frequent tag; ties go to the more specific one.
func dominant(counts map[Tag]int) Tag {
	best, bestN := TagText, -1
	for _, t := range []Tag{TagNumeric, TagDate, TagBoolean, TagText} {
		if n := counts[t]; n > bestN {
			best, bestN = t, n
		}
	}
	return best
}

func matches(p1, p2 Profile, limit int) []Pair {
	var out []Pair
	for k, a := range p1.keys {
		if b, ok := p2.keys[k]; ok {
			out = append(out, Pair{Value1: a.raw, Value2: b.raw, Count1: a.count, Count2: b.count})
		}
	}
	slices.SortFunc(out, func(x, y Pair) int {
		if c := cmp.Compare(y.Count1+y.Count2, x.Count1+x.Count2); c != 0 {
			return c
		}
		return strings.Compare(x.Value1, y.Value1)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02.01.2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// Classify tags a single trimmed, non-empty value.
func Classify(v string) Tag {
	switch strings.ToLower(v) {
	case "true", "false", "yes", "no", "y", "n":
		return TagBoolean
	}
	if normalize.IsNumeric(v) {
		return TagNumeric
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return TagDate
		}
	}
	return TagText
}
