package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrEmptyTable           = errors.New("table has no columns")
	ErrTooManyErrors        = errors.New("too many row errors")
	ErrCancelled            = errors.New("comparison cancelled")
	ErrBusy                 = errors.New("engine is already running a comparison")
)

// maxReportedRows is how many offending rows are kept for reporting.
const maxReportedRows = 5

// RowFault is one unreadable row.
type RowFault struct {
	Origin Origin `json:"origin"`
	Row    int    `json:"row"`
	Err    string `json:"error"`
}

// RowErrors summarises skipped rows.
type RowErrors struct {
	Count int64      `json:"count"`
	File1 int64      `json:"file1"`
	File2 int64      `json:"file2"`
	First []RowFault `json:"first,omitempty"`
}

func (re RowErrors) String() string {
	if re.Count == 0 {
		return "none"
	}
	rows := make([]string, len(re.First))
	for i, f := range re.First {
		rows[i] = fmt.Sprintf("%s row %d", f.Origin, f.Row)
	}
	return fmt.Sprintf("%d (first: %s)", re.Count, strings.Join(rows, ", "))
}

// RowErrorsError aborts a run once more rows failed to read than allowed.
type RowErrorsError struct {
	Limit  int
	Errors RowErrors
}

func (e *RowErrorsError) Error() string {
	return fmt.Sprintf("%v: %s exceeds the limit of %d", ErrTooManyErrors, e.Errors, e.Limit)
}

func (e *RowErrorsError) Unwrap() error { return ErrTooManyErrors }

// CancelledError ends a run that observed cancellation. It matches both
// ErrCancelled and context.Canceled. Errors holds the rows skipped before
// the run stopped.
type CancelledError struct {
	State  State
	Rows   int64
	Cause  error
	Errors RowErrors
}

func (e *CancelledError) Error() string {
	msg := fmt.Sprintf("%v during %s after %d rows", ErrCancelled, e.State, e.Rows)
	if e.Cause != nil && !errors.Is(e.Cause, context.Canceled) {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled || target == context.Canceled
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// ComparisonError is a failed run: the state it failed in and the cause.
type ComparisonError struct {
	State  State
	Err    error
	Errors RowErrors
}

func (e *ComparisonError) Error() string {
	return fmt.Sprintf("comparison failed during %s: %v", e.State, e.Err)
}

func (e *ComparisonError) Unwrap() error { return e.Err }
