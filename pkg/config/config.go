package config

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"filecompare/pkg/compat"
	"filecompare/pkg/engine"
)

var ErrInvalid = errors.New("invalid config")

// Config is the root of the application configuration. Fields carry yaml
// and validate tags.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger" validate:"required"`
	Server  ServerConfig  `yaml:"http-server" validate:"required"`
	Engine  EngineConfig  `yaml:"engine" validate:"required"`
	Spill   SpillConfig   `yaml:"spill" validate:"required"`
	History HistoryConfig `yaml:"history"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	// Host is the bind address; the API has no authentication, so it
	// defaults to loopback.
	Host string `yaml:"host" validate:"omitempty,ip|hostname"`

	Port              int           `yaml:"port" validate:"required,min=1,max=65535"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"required,gt=0"`

	// MaxRuns bounds the finished runs kept in memory for polling.
	MaxRuns int `yaml:"max_runs" validate:"required,min=1"`

	// DataDir is the only directory requests may read from and write to.
	// Request paths are relative to it.
	DataDir string `yaml:"data_dir" validate:"required"`
}

type EngineConfig struct {
	// MemoryBudget bounds the index in bytes; 0 never spills.
	MemoryBudget  int64 `yaml:"memory_budget" validate:"min=0"`
	ChunkSize     int   `yaml:"chunk_size" validate:"required,min=1"`
	Workers       int   `yaml:"workers" validate:"min=0"`
	ProgressEvery int64 `yaml:"progress_every" validate:"required,min=1"`
	MaxRowErrors  int   `yaml:"max_row_errors" validate:"min=0"`
	MatchEmpty    bool  `yaml:"match_empty"`
	SampleSize    int   `yaml:"sample_size" validate:"required,min=1"`
	SampleMatches int   `yaml:"sample_matches" validate:"min=0"`
}

type SpillConfig struct {
	Dir         string  `yaml:"dir"`
	MinBuckets  int     `yaml:"min_buckets" validate:"required,min=1,max=256,pow2"`
	BloomFPRate float64 `yaml:"bloom_fp_rate" validate:"required,gt=0,lt=1"`
	Compression string  `yaml:"compression" validate:"required,oneof=zstd none"`
}

type HistoryConfig struct {
	// Path of the SQLite run history; empty disables it.
	Path string `yaml:"path"`
}

// Default returns a baseline config.
func Default() Config {
	opts := engine.DefaultOptions()
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
			MaxRuns:           100,
			DataDir:           ".",
		},
		Engine: EngineConfig{
			MemoryBudget:  opts.MemoryBudget,
			ChunkSize:     opts.ChunkSize,
			ProgressEvery: opts.ProgressEvery,
			MaxRowErrors:  opts.MaxRowErrors,
			SampleSize:    100,
			SampleMatches: 20,
		},
		Spill: SpillConfig{
			MinBuckets:  opts.MinBuckets,
			BloomFPRate: opts.BloomFPRate,
			Compression: "zstd",
		},
	}
}

// Parse decodes YAML over the defaults, so a file only needs the keys it
// changes, and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = sync.OnceValue(func() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("pow2", func(fl validator.FieldLevel) bool {
		n := fl.Field().Int()
		return n > 0 && n&(n-1) == 0
	})
	return v
})

func (c Config) Validate() error {
	if err := validate().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// EngineOptions maps the engine and spill sections onto engine.Options.
func (c Config) EngineOptions() engine.Options {
	workers := c.Engine.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return engine.Options{
		MemoryBudget:  c.Engine.MemoryBudget,
		ChunkSize:     c.Engine.ChunkSize,
		Workers:       workers,
		ProgressEvery: c.Engine.ProgressEvery,
		MaxRowErrors:  c.Engine.MaxRowErrors,
		MatchEmpty:    c.Engine.MatchEmpty,
		SpillDir:      c.Spill.Dir,
		MinBuckets:    c.Spill.MinBuckets,
		BloomFPRate:   c.Spill.BloomFPRate,
		Compress:      c.Spill.Compression == "zstd",
	}
}

// AnalyzeOptions maps the sampling settings onto compat.Options.
func (c Config) AnalyzeOptions(caseSensitive bool) compat.Options {
	return compat.Options{
		SampleSize:    c.Engine.SampleSize,
		MaxMatches:    c.Engine.SampleMatches,
		CaseSensitive: caseSensitive,
	}
}
