// Package logger provides sealfs's structured logging, built on log/slog
// the way gcsfuse's own internal/logger package is: a package-level default
// logger, five severity levels plus an OFF level that silences everything,
// and a choice of "text" or "json" output that can be redirected to a
// rotating file.
package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity names the configured logging threshold, spelled the way the
// CLI and config file spell it.
type Severity string

const (
	TRACE   Severity = "TRACE"
	DEBUG   Severity = "DEBUG"
	INFO    Severity = "INFO"
	WARNING Severity = "WARNING"
	ERROR   Severity = "ERROR"
	OFF     Severity = "OFF"
)

// Custom slog levels. slog only predefines Debug/Info/Warn/Error; Trace
// sits one notch below Debug and Off sits one notch above Error so that
// "log nothing" can be expressed as an ordinary level comparison.
const (
	LevelTrace = slog.LevelDebug - 4
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.LevelError + 4
)

// RotateConfig mirrors the lumberjack.Logger fields sealfs's CLI exposes.
type RotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

// Config selects the destination, format, and severity for the default
// logger. An empty FilePath leaves logging on stderr.
type Config struct {
	FilePath string
	Format   string // "text" or "json"; "" defaults to "json"
	Severity Severity
	Rotate   RotateConfig
}

type loggerFactory struct {
	mu sync.Mutex

	file      io.WriteCloser // non-nil once logging to a file
	sysWriter io.Writer      // stderr, when file is nil
	format    string
	rotate    RotateConfig
}

func (f *loggerFactory) writer() io.Writer {
	if f.file != nil {
		return f.file
	}
	return f.sysWriter
}

func (f *loggerFactory) createHandler(w io.Writer, levelVar *slog.LevelVar, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				a.Key = "severity"
				a.Value = slog.StringValue(levelName(a.Value.Any().(slog.Level)))
			case slog.MessageKey:
				a.Value = slog.StringValue(prefix + a.Value.String())
			case slog.TimeKey:
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}
	if f.format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func levelName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return string(TRACE)
	case l < LevelInfo:
		return string(DEBUG)
	case l < LevelWarn:
		return string(INFO)
	case l < LevelError:
		return string(WARNING)
	case l < LevelOff:
		return string(ERROR)
	default:
		return string(OFF)
	}
}

func severityLevel(s Severity) slog.Level {
	switch s {
	case TRACE:
		return LevelTrace
	case DEBUG:
		return LevelDebug
	case WARNING:
		return LevelWarn
	case ERROR:
		return LevelError
	case OFF:
		return LevelOff
	default:
		return LevelInfo
	}
}

func setLoggingLevel(s Severity, v *slog.LevelVar) {
	v.Set(severityLevel(s))
}

// Rank orders severities from most-verbose (TRACE) to silent (OFF), so
// callers can compare a configured threshold against one of their own
// without reaching into slog.Level.
func (s Severity) Rank() int {
	switch s {
	case TRACE:
		return 0
	case DEBUG:
		return 1
	case WARNING:
		return 3
	case ERROR:
		return 4
	case OFF:
		return 5
	default:
		return 2 // INFO
	}
}

var (
	programLevel         = new(slog.LevelVar)
	defaultLoggerFactory = &loggerFactory{sysWriter: os.Stderr, format: "json"}
	defaultLogger        = slog.New(defaultLoggerFactory.createHandler(os.Stderr, programLevel, ""))
)

func init() {
	setLoggingLevel(INFO, programLevel)
}

// SetLogFormat switches the default logger's output format ("text" or
// "json", defaulting to "json" for any other value) without touching its
// destination or level.
func SetLogFormat(format string) {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()
	defaultLoggerFactory.format = format
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(defaultLoggerFactory.writer(), programLevel, ""))
}

// InitLogFile redirects the default logger to cfg.FilePath, rotated via
// lumberjack according to cfg.Rotate, and sets its format and severity.
// An empty FilePath leaves logging on stderr.
func InitLogFile(cfg Config) error {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()

	format := cfg.Format
	if format == "" {
		format = "json"
	}
	defaultLoggerFactory.format = format
	defaultLoggerFactory.rotate = cfg.Rotate

	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.Rotate.MaxFileSizeMB,
			MaxBackups: cfg.Rotate.BackupFileCount,
			Compress:   cfg.Rotate.Compress,
		}
		async := NewAsyncLogger(lj, 1024)
		defaultLoggerFactory.file = async
		defaultLoggerFactory.sysWriter = nil
		w = async
	} else {
		defaultLoggerFactory.file = nil
		defaultLoggerFactory.sysWriter = os.Stderr
	}

	setLoggingLevel(cfg.Severity, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(w, programLevel, ""))
	return nil
}

// Close releases the file backing the default logger, if any.
func Close() error {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()
	if defaultLoggerFactory.file != nil {
		err := defaultLoggerFactory.file.Close()
		defaultLoggerFactory.file = nil
		return err
	}
	return nil
}

func Tracef(format string, v ...any) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) {
	defaultLogger.Log(context.Background(), LevelDebug, fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	defaultLogger.Log(context.Background(), LevelInfo, fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	defaultLogger.Log(context.Background(), LevelWarn, fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	defaultLogger.Log(context.Background(), LevelError, fmt.Sprintf(format, v...))
}

// NewStdLogger returns a standard-library *log.Logger that writes through
// the default logger's current destination with the given message prefix,
// for the handful of collaborators (jacobsa/fuse's MountConfig among them)
// that take a *log.Logger rather than a slog.Logger.
func NewStdLogger(prefix string) *log.Logger {
	defaultLoggerFactory.mu.Lock()
	w := defaultLoggerFactory.writer()
	defaultLoggerFactory.mu.Unlock()
	return log.New(w, prefix, 0)
}

// Fatalf logs at ERROR severity and terminates the process with exit
// status 1.
func Fatalf(format string, v ...any) {
	Errorf(format, v...)
	os.Exit(1)
}
