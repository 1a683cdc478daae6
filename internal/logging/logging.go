// Package logging sets up the shared log/slog configuration used by all
// three Talemon processes.
package logging

import (
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"

	"github.com/talemon/core/config"
)

// Setup installs a process-wide slog default handler from cfg.LogLevel and
// cfg.LogType, returning the configured logger for callers that want it.
func Setup(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
		log.Printf("encountered log level: '%s'. falling back to debug", cfg.LogLevel)
		level = slog.LevelDebug
	}
	slog.SetLogLoggerLevel(level)

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       level,
			ReplaceAttr: replaceAttrs,
		}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       level,
			ReplaceAttr: replaceAttrs,
			NoColor:     cfg.Env != "local",
		}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")
	return logger
}
