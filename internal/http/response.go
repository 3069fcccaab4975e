package http

import (
	"time"

	"filecompare/pkg/compat"
	"filecompare/pkg/engine"
	"filecompare/pkg/history"
)

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status  Status          `json:"status,omitempty"`
	Error   string          `json:"error,omitempty"`
	Run     *RunView        `json:"run,omitempty"`
	Runs    []RunView       `json:"runs,omitempty"`
	Verdict *compat.Verdict `json:"verdict,omitempty"`
}

// RunView is the polled state of a comparison run.
type RunView struct {
	ID            string            `json:"id"`
	State         string            `json:"state"`
	Operation     string            `json:"operation"`
	File1         string            `json:"file1"`
	File2         string            `json:"file2"`
	Percent       float64           `json:"percent"`
	Rows          int64             `json:"rows"`
	ResultRows    int64             `json:"result_rows"`
	Summary       string            `json:"summary,omitempty"`
	Skipped       *engine.RowErrors `json:"skipped,omitempty"`
	Output        string            `json:"output,omitempty"`
	Error         string            `json:"error,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	ElapsedMillis int64             `json:"elapsed_ms"`
}

func historyView(r history.Run) RunView {
	v := RunView{
		ID:            r.ID,
		State:         r.State,
		Operation:     r.Operation,
		File1:         r.File1,
		File2:         r.File2,
		Rows:          r.Rows1 + r.Rows2,
		ResultRows:    r.ResultRows,
		Summary:       r.Summary,
		Error:         r.Error,
		StartedAt:     r.StartedAt,
		ElapsedMillis: r.Elapsed.Milliseconds(),
	}
	if r.State == engine.Completed.String() {
		v.Percent = 100
	}
	if r.SkippedRows > 0 {
		v.Skipped = &engine.RowErrors{Count: r.SkippedRows}
	}
	return v
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewRunResponse(v RunView) Response {
	return Response{Status: StatusSuccess, Run: &v}
}

func NewRunsResponse(vs []RunView) Response {
	if vs == nil {
		vs = []RunView{}
	}
	return Response{Status: StatusSuccess, Runs: vs}
}

func NewVerdictResponse(v compat.Verdict) Response {
	return Response{Status: StatusSuccess, Verdict: &v}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
