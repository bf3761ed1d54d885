// Package rglog provides a small leveled wrapper around log.Logger, gated
// by the RUXGO_LOG_LEVEL environment variable. It follows the internal/env
// idiom of deriving a package-level value once from the environment at
// init time, rather than threading a config object through every call
// site.
package rglog

import (
	"log"
	"os"
	"strings"
)

// Level orders the five verbosity levels.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError
	case "warn":
		return LevelWarn
	case "debug":
		return LevelDebug
	case "trace":
		return LevelTrace
	default:
		return LevelInfo
	}
}

// ActiveLevel is the level selected by RUXGO_LOG_LEVEL at process start,
// default "info".
var ActiveLevel = parseLevel(os.Getenv("RUXGO_LOG_LEVEL"))

// Logger wraps a *log.Logger with level gating. Components receive one
// explicitly, the same way a batch context's Log field is threaded
// through in the retrieval pack, rather than reaching for a global.
type Logger struct {
	*log.Logger
	Level Level
}

// New returns a Logger writing to standard error with the given prefix,
// gated at the process-wide ActiveLevel.
func New(prefix string) *Logger {
	return &Logger{
		Logger: log.New(os.Stderr, prefix, log.LstdFlags),
		Level:  ActiveLevel,
	}
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if l.Level < level {
		return
	}
	l.Logger.Printf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) { l.logf(LevelError, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Tracef(format string, args ...interface{}) { l.logf(LevelTrace, format, args...) }
