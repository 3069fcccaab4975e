package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filecompare/pkg/compat"
	"filecompare/pkg/history"
	"filecompare/pkg/table"
)

type cliEnv struct {
	dir    string
	config string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	env := &cliEnv{dir: t.TempDir()}
	env.config = filepath.Join(env.dir, "missing.yaml")
	env.write(t, "left.csv", "id,name\n1,john\n2,mary\n3,bob\n")
	env.write(t, "right.csv", "name,city\nmary,Oslo\nalice,Rome\nbob,Paris\ncharlie,Lima\n")
	return env
}

func (e *cliEnv) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), []byte(content), 0o644))
}

func (e *cliEnv) path(name string) string { return filepath.Join(e.dir, name) }

// withHistory points the config at a history database in the env dir.
func (e *cliEnv) withHistory(t *testing.T) string {
	t.Helper()
	db := e.path("history.db")
	e.config = e.path("filecompare.yaml")
	e.write(t, "filecompare.yaml", "history:\n  path: "+db+"\nspill:\n  dir: "+e.dir+"\n")
	return db
}

// syncBuffer is shared by the logger and the progress pump.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// run executes the CLI and returns what it wrote to stdout and stderr.
func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var (
		stdout bytes.Buffer
		stderr syncBuffer
	)
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCompare_KeepMatches(t *testing.T) {
	env := newCLIEnv(t)
	out := env.path("kept.csv")
	report := filepath.Join(env.dir, "reports", "keep.txt")

	stdout, stderr, err := env.run(t, "compare", env.path("left.csv"), env.path("right.csv"),
		"--column", "name", "--operation", "keep_matches", "--output", out, "--report", report, "--quiet")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Kept 2 matching rows from 4 total rows. Removed 2 non-matching rows.")
	assert.Contains(t, stdout, "Wrote 2 rows to "+out)
	assert.Contains(t, stderr, "Estimated processing time: 1s")
	assert.NotContains(t, stderr, "Progress:")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "name,city\nmary,Oslo\nbob,Paris\n", string(data))

	rep, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(rep), "FILE COMPARISON OPERATION SUMMARY")
	assert.Contains(t, string(rep), "Operation Type: keep_matches")
}

func TestCompare_UniqueWithProgress(t *testing.T) {
	env := newCLIEnv(t)

	stdout, stderr, err := env.run(t, "compare", env.path("left.csv"), env.path("right.csv"),
		"--column1", "name", "--column2", "name", "-o", "unique", "--report", "-")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Found 1 rows unique to file1 and 2 rows unique to file2. Result contains 3 rows.")
	assert.Contains(t, stdout, "Operation Type: unique_values")
	assert.Contains(t, stderr, "Progress: 100.0%")
}

func TestCompare_Strict(t *testing.T) {
	env := newCLIEnv(t)
	args := []string{"compare", env.path("left.csv"), env.path("right.csv"),
		"--column1", "id", "--column2", "name", "--operation", "common_values", "--quiet"}

	_, stderr, err := env.run(t, append(args, "--strict")...)
	require.ErrorIs(t, err, ErrIncompatible)
	assert.Contains(t, stderr, "Warning: incompatible")

	stdout, _, err := env.run(t, args...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Found 0 common values. Result contains 0 rows from both files.")
}

func TestCompare_Errors(t *testing.T) {
	env := newCLIEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown column", []string{"--column", "nope", "--operation", "keep"}, "nope"},
		{"unknown operation", []string{"--column", "name", "--operation", "merge"}, "unknown operation"},
		{"missing operation", []string{"--column", "name"}, "operation"},
		{"bad format", []string{"--column", "name", "--operation", "keep", "--format", "pdf"}, "pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"compare", env.path("left.csv"), env.path("right.csv"), "--quiet"}, tt.args...)
			_, _, err := env.run(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, _, err := env.run(t, "compare", env.path("gone.csv"), env.path("right.csv"), "--column", "name", "-o", "keep")
	require.ErrorIs(t, err, table.ErrNotFound)
}

func TestAnalyze(t *testing.T) {
	env := newCLIEnv(t)

	stdout, _, err := env.run(t, "analyze", env.path("left.csv"), env.path("right.csv"), "--column", "name")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Compatibility: compatible")
	assert.Contains(t, stdout, "Sample matches:")

	stdout, _, err = env.run(t, "analyze", env.path("left.csv"), env.path("right.csv"),
		"--column1", "id", "--column2", "name", "--json")
	require.NoError(t, err)
	var v compat.Verdict
	require.NoError(t, json.Unmarshal([]byte(stdout), &v))
	assert.Equal(t, compat.Incompatible, v.Level)
	assert.Empty(t, v.SampleMatches)
}

func TestInfo(t *testing.T) {
	env := newCLIEnv(t)

	stdout, _, err := env.run(t, "info", env.path("right.csv"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "Format: csv")
	assert.Contains(t, stdout, "Rows: 4")
	assert.Contains(t, stdout, "Columns: name, city")

	stdout, _, err = env.run(t, "info", "--json", env.path("left.csv"), env.path("right.csv"))
	require.NoError(t, err)
	var infos []table.FileInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, 3, infos[0].RowCount)
	assert.Equal(t, []string{"name", "city"}, infos[1].Columns)
}

func TestHistory(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run(t, "history")
	require.ErrorIs(t, err, errHistoryDisabled)

	env.withHistory(t)
	_, _, err = env.run(t, "compare", env.path("left.csv"), env.path("right.csv"),
		"--column", "name", "-o", "remove", "--quiet")
	require.NoError(t, err)
	_, _, err = env.run(t, "compare", env.path("left.csv"), env.path("right.csv"),
		"--column", "nope", "-o", "remove", "--quiet")
	require.Error(t, err)

	stdout, _, err := env.run(t, "history", "--json")
	require.NoError(t, err)
	var runs []history.Run
	require.NoError(t, json.Unmarshal([]byte(stdout), &runs))
	require.Len(t, runs, 1, "a config error is not a run")
	assert.Equal(t, "remove_matches", runs[0].Operation)
	assert.Equal(t, "completed", runs[0].State)
	assert.EqualValues(t, 2, runs[0].ResultRows)

	stdout, _, err = env.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, stdout, "OPERATION")
	assert.Contains(t, stdout, runs[0].ID)

	stdout, _, err = env.run(t, "history", runs[0].ID)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"summary": "Removed 2 matching rows. Result contains 2 rows."`)

	_, _, err = env.run(t, "history", "nope")
	require.ErrorIs(t, err, history.ErrNotFound)
}

func TestRoot_InvalidConfig(t *testing.T) {
	env := newCLIEnv(t)
	env.config = env.path("bad.yaml")
	env.write(t, "bad.yaml", "spill:\n  min_buckets: 3\n")

	_, _, err := env.run(t, "info", env.path("left.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
