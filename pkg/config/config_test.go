package config

import (
	"errors"
	"testing"
)

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
logger:
  level: DEBUG
  json: true
engine:
  memory_budget: 1048576
  workers: 3
  match_empty: true
spill:
  dir: /tmp/spill
  min_buckets: 64
  compression: none
history:
  path: runs.db
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Logger.Level != "DEBUG" || !cfg.Logger.JSON {
		t.Errorf("logger = %+v", cfg.Logger)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("missing keys should keep defaults, port = %d", cfg.Server.Port)
	}
	if cfg.History.Path != "runs.db" {
		t.Errorf("history path = %q", cfg.History.Path)
	}

	opts := cfg.EngineOptions()
	if opts.MemoryBudget != 1<<20 || opts.Workers != 3 || !opts.MatchEmpty {
		t.Errorf("engine options = %+v", opts)
	}
	if opts.SpillDir != "/tmp/spill" || opts.MinBuckets != 64 || opts.Compress {
		t.Errorf("spill options = %+v", opts)
	}
	if opts.ChunkSize != Default().Engine.ChunkSize {
		t.Errorf("chunk size = %d", opts.ChunkSize)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad level":       "logger:\n  level: LOUD\n",
		"port range":      "http-server:\n  port: 70000\n",
		"buckets pow2":    "spill:\n  min_buckets: 12\n",
		"fp rate":         "spill:\n  bloom_fp_rate: 1.5\n",
		"compression":     "spill:\n  compression: lz4\n",
		"negative budget": "engine:\n  memory_budget: -1\n",
		"not yaml":        "engine: [\n",
		"bad host":        "http-server:\n  host: \"not a host!\"\n",
		"no data dir":     "http-server:\n  data_dir: \"\"\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestDefault_ServerIsLocal(t *testing.T) {
	s := Default().Server
	if s.Host != "127.0.0.1" {
		t.Fatalf("default host = %q", s.Host)
	}
	if s.DataDir == "" {
		t.Fatal("default data dir is empty")
	}
}

func TestEngineOptions_DefaultWorkers(t *testing.T) {
	if w := Default().EngineOptions().Workers; w < 1 {
		t.Fatalf("workers = %d", w)
	}
	if !Default().EngineOptions().Compress {
		t.Fatal("zstd is the default")
	}
}

func TestAnalyzeOptions(t *testing.T) {
	o := Default().AnalyzeOptions(true)
	if o.SampleSize != 100 || o.MaxMatches != 20 || !o.CaseSensitive {
		t.Fatalf("analyze options = %+v", o)
	}
}
