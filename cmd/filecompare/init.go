package main

import (
	"io"
	"log/slog"
	"os"

	"filecompare/pkg/config"
)

// initConfig loads the YAML config at path. A missing file yields
// config.Default().
func initConfig(path string) (config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("config file not found, using default config", "path", path)
			return config.Default(), nil
		}
		return config.Config{}, err
	}
	return config.Parse(data)
}

// initLogger installs the global slog.Logger (JSON or text) writing to w.
func initLogger(cfg *config.Config, w io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logger.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{AddSource: level == slog.LevelDebug, Level: level}

	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("logger initialized", "level", level, "json", cfg.Logger.JSON)
}
