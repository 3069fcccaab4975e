package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"filecompare/pkg/engine"
	"filecompare/pkg/table"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordGetList(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	runs := []Run{
		{ID: "a", Operation: "keep_matches", File1: "x.csv", File2: "y.csv", Column1: "id", Column2: "id",
			State: "completed", Rows1: 3, Rows2: 4, ResultRows: 2, Summary: "Kept 2 matching rows", StartedAt: base, Elapsed: 1500 * time.Millisecond},
		{ID: "b", Operation: "unique_values", State: "cancelled", StartedAt: base.Add(time.Second + 500*time.Millisecond)},
		{ID: "c", Operation: "common_values", State: "failed", Error: "boom", CaseSensitive: true, StartedAt: base.Add(time.Second)},
	}
	for _, r := range runs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record(%s): %v", r.ID, err)
		}
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, runs[0]) {
		t.Fatalf("Get = %+v, want %+v", got, runs[0])
	}

	list, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	if !reflect.DeepEqual(ids, []string{"b", "c", "a"}) {
		t.Fatalf("List order = %v", ids)
	}

	list, err = s.List(ctx, 1)
	if err != nil || len(list) != 1 || list[0].ID != "b" {
		t.Fatalf("List(1) = %v, %v", list, err)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_RecordReplaces(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	r := Run{ID: "run", Operation: "keep_matches", State: "indexing", StartedAt: time.Now()}
	if err := s.Record(ctx, r); err != nil {
		t.Fatalf("Record: %v", err)
	}
	r.State = "completed"
	r.ResultRows = 9
	if err := s.Record(ctx, r); err != nil {
		t.Fatalf("Record: %v", err)
	}

	list, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].State != "completed" || list[0].ResultRows != 9 {
		t.Fatalf("unexpected runs %+v", list)
	}
}

func TestStore_RecordAssignsID(t *testing.T) {
	s := openStore(t)
	if err := s.Record(context.Background(), Run{Operation: "keep_matches", State: "completed"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	list, err := s.List(context.Background(), 0)
	if err != nil || len(list) != 1 || len(list[0].ID) != 36 {
		t.Fatalf("expected one run with a generated id, got %+v, %v", list, err)
	}
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Record(context.Background(), Run{ID: "kept", State: "completed"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.Get(context.Background(), "kept"); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}

func TestOutcome_Run(t *testing.T) {
	t1 := table.NewMemory("t1", []string{"k"}, [][]string{{"a"}, {"b"}})
	t2 := table.NewMemory("t2", []string{"k"}, [][]string{{"a"}, {"c"}, {"d"}})
	cfg := engine.Config{File1Column: "k", File2Column: "k", Operation: engine.RemoveMatches}

	e := engine.New(engine.DefaultOptions())
	res, err := e.Execute(context.Background(), t1, t2, cfg, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := Outcome{ID: "id", File1: "a.csv", File2: "b.csv", Config: cfg, State: e.State(), Result: res, Started: started, Elapsed: time.Second}.Run()
	want := Run{
		ID: "id", Operation: "remove_matches", File1: "a.csv", File2: "b.csv", Column1: "k", Column2: "k",
		State: "completed", Rows1: 2, Rows2: 3, ResultRows: 2,
		Summary:   "Removed 1 matching rows. Result contains 2 rows.",
		StartedAt: started, Elapsed: time.Second,
	}
	if !reflect.DeepEqual(r, want) {
		t.Fatalf("Run = %+v, want %+v", r, want)
	}

	cfg.File1Column = "missing"
	_, err = e.Execute(context.Background(), t1, t2, cfg, nil)
	r = Outcome{ID: "id2", Config: cfg, State: e.State(), Err: err}.Run()
	if r.State != "failed" || r.Error == "" || r.ResultRows != 0 {
		t.Fatalf("unexpected failed run %+v", r)
	}

	cancelled := &engine.CancelledError{State: engine.Streaming, Rows: 10, Errors: engine.RowErrors{Count: 3, File2: 3}}
	r = Outcome{ID: "id3", Config: cfg, State: engine.Cancelled, Err: fmt.Errorf("compare: %w", cancelled)}.Run()
	if r.State != "cancelled" || r.SkippedRows != 3 {
		t.Fatalf("cancelled run lost its skipped rows: %+v", r)
	}
}
