package history

import (
	"errors"
	"time"

	"filecompare/pkg/engine"
)

// Outcome is how one engine run ended.
type Outcome struct {
	ID      string
	File1   string
	File2   string
	Config  engine.Config
	State   engine.State
	Result  *engine.Result
	Err     error
	Started time.Time
	Elapsed time.Duration
}

// Run converts the outcome into its persisted form.
func (o Outcome) Run() Run {
	r := Run{
		ID:            o.ID,
		Operation:     o.Config.Operation.String(),
		File1:         o.File1,
		File2:         o.File2,
		Column1:       o.Config.File1Column,
		Column2:       o.Config.File2Column,
		CaseSensitive: o.Config.CaseSensitive,
		State:         o.State.String(),
		StartedAt:     o.Started,
		Elapsed:       o.Elapsed,
	}
	if o.Result != nil {
		r.Rows1 = o.Result.SourceRowCount1
		r.Rows2 = o.Result.SourceRowCount2
		r.ResultRows = int64(len(o.Result.Rows))
		r.SkippedRows = o.Result.Skipped.Count
		r.Summary = o.Result.Summary()
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
		var ce *engine.ComparisonError
		var cancelled *engine.CancelledError
		switch {
		case errors.As(o.Err, &ce):
			r.SkippedRows = ce.Errors.Count
		case errors.As(o.Err, &cancelled):
			r.SkippedRows = cancelled.Errors.Count
		}
	}
	return r
}
