package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

var (
	baseMu sync.RWMutex
	base   = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
)

// ConfigureLogging sets the process-wide log level ("debug", "info", ...) and
// output format ("console" or "json").
func ConfigureLogging(level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	case "json":
		out = os.Stdout
	default:
		return fmt.Errorf("unsupported log format %q", format)
	}

	SetLogOutput(out)
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// SetLogOutput redirects every component logger to w.
func SetLogOutput(w io.Writer) {
	baseMu.Lock()
	defer baseMu.Unlock()
	base = zerolog.New(w).With().Timestamp().Logger()
}

// Logger is a component logger: every entry carries the component name and
// alternating key/value fields.
type Logger struct {
	prefix        string
	logLevel      LogLevel
	logLevelMutex sync.RWMutex
}

// NewLogger creates a new logger with a given prefix. Without an explicit
// level the process-wide level applies.
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	logLevelValue := NotSet
	if len(logLevel) > 0 {
		logLevelValue = logLevel[0]
	}
	return &Logger{
		prefix:   prefix,
		logLevel: logLevelValue,
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	l.logLevel = logLevel
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.log(Info, msg, keyvals)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.log(Error, msg, keyvals)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.log(Warning, msg, keyvals)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.log(Debug, msg, keyvals)
}

func (l *Logger) log(level LogLevel, msg string, keyvals []interface{}) {
	if l == nil {
		return
	}
	l.logLevelMutex.RLock()
	threshold := l.logLevel
	l.logLevelMutex.RUnlock()
	if threshold != NotSet && level < threshold {
		return
	}

	baseMu.RLock()
	zl := base
	baseMu.RUnlock()

	event := zl.WithLevel(zerologLevel(level))
	if event == nil {
		return
	}
	event = event.Str("component", l.prefix)
	if len(keyvals) > 0 {
		event = event.Fields(normalizeKeyvals(keyvals))
	}
	event.Msg(msg)
}

// normalizeKeyvals makes sure keys are strings and errors render as text,
// dropping a trailing key without value.
func normalizeKeyvals(keyvals []interface{}) []interface{} {
	out := make([]interface{}, 0, len(keyvals))
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		val := keyvals[i+1]
		if err, ok := val.(error); ok && err != nil {
			val = err.Error()
		}
		out = append(out, key, val)
	}
	return out
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch {
	case level >= Critical:
		return zerolog.FatalLevel
	case level >= Error:
		return zerolog.ErrorLevel
	case level >= Warning:
		return zerolog.WarnLevel
	case level >= Info:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
