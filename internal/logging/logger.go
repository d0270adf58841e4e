package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edvin/statekeeper/internal/config"
)

// Rotation limits for LOG_FILE output.
const (
	maxLogSizeMB  = 50
	maxLogBackups = 5
	maxLogAgeDays = 30
)

// NewLogger creates the JSON logger used by long-running services. Output goes
// to stdout, or to a rotating file when LOG_FILE is set.
func NewLogger(cfg *config.Config) zerolog.Logger {
	return build(cfg, os.Stdout, false)
}

// NewCLILogger creates a logger for command-line tools. It writes to stderr so
// stdout carries only command output, in human-readable form on a terminal.
func NewCLILogger(cfg *config.Config) zerolog.Logger {
	return build(cfg, os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
}

func build(cfg *config.Config, w io.Writer, console bool) zerolog.Logger {
	var out io.Writer = w
	switch {
	case cfg.LogFile != "":
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxLogBackups,
			MaxAge:     maxLogAgeDays,
			Compress:   true,
		}
	case console:
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}
