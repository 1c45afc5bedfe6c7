package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

// Options selects the handler built by Setup.
type Options struct {
	Level   string // trace, debug, info, warn, error
	Format  string // text or json
	NoColor bool
	Writer  io.Writer
}

// SetupHandlerText configures a text slog handler with the provided writer and log level.
func SetupHandlerText(logLevel string, writer io.Writer, noColor bool) slog.Handler {
	if writer == nil {
		writer = os.Stderr
	}

	reportCaller := false
	reportTimestamp := false
	lvl := log.InfoLevel
	switch strings.ToLower(logLevel) {
	case "trace":
		reportCaller = true
		reportTimestamp = true
		lvl = log.DebugLevel
	case "debug":
		reportTimestamp = true
		lvl = log.DebugLevel
	case "warn", "warning":
		lvl = log.WarnLevel
	case "error":
		lvl = log.ErrorLevel
	}

	logger := log.NewWithOptions(writer, log.Options{
		ReportTimestamp: reportTimestamp,
		ReportCaller:    reportCaller,
		Level:           lvl,
	})
	if noColor {
		logger.SetColorProfile(termenv.Ascii)
	}
	return logger
}

// SetupHandlerJSON configures a JSON slog handler with the provided writer and log level.
func SetupHandlerJSON(logLevel string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stderr
	}

	level := ParseLevel(logLevel)
	return slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:     level,
		AddSource: strings.EqualFold(logLevel, "trace"),
	})
}

// ParseLevel maps a level name to slog. Trace is debug with source
// locations; unknown names are info.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds a logger from opts and installs it as the slog default.
// The DEBUG and NO_COLOR environment variables override opts.
func Setup(opts Options) (*slog.Logger, error) {
	if os.Getenv("DEBUG") != "" && !strings.EqualFold(opts.Level, "trace") {
		opts.Level = "debug"
	}
	if os.Getenv("NO_COLOR") != "" {
		opts.NoColor = true
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = SetupHandlerText(opts.Level, opts.Writer, opts.NoColor)
	case "json":
		handler = SetupHandlerJSON(opts.Level, opts.Writer)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
