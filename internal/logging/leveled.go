package logging

import (
	"io"
	"log"
	"strings"
)

// Level is the minimum severity a Leveled logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level; unknown strings default to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Leveled wraps a stdlib logger with a severity gate. Core packages receive
// one via constructor so the correlation table's logger is visible at each
// call site rather than ambient.
type Leveled struct {
	logger *log.Logger
	level  Level
}

// New creates a Leveled logger writing to w with the given prefix and level.
func New(w io.Writer, prefix string, level Level) *Leveled {
	if w == nil {
		w = log.Writer()
	}
	return &Leveled{
		logger: log.New(w, prefix, log.LstdFlags|log.Lmicroseconds),
		level:  level,
	}
}

// Wrap adapts an existing stdlib logger.
func Wrap(logger *log.Logger, level Level) *Leveled {
	return &Leveled{logger: logger, level: level}
}

// IsDebug reports whether debug lines are emitted.
func (l *Leveled) IsDebug() bool { return l != nil && l.level <= LevelDebug }

func (l *Leveled) Debugf(format string, args ...any) { l.printf(LevelDebug, "DEBUG ", format, args...) }
func (l *Leveled) Infof(format string, args ...any)  { l.printf(LevelInfo, "INFO ", format, args...) }
func (l *Leveled) Warnf(format string, args ...any)  { l.printf(LevelWarn, "WARN ", format, args...) }
func (l *Leveled) Errorf(format string, args ...any) { l.printf(LevelError, "ERROR ", format, args...) }

// Printf emits at info level; satisfies the minimal Printf-style interfaces
// the leaf packages declare.
func (l *Leveled) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

func (l *Leveled) printf(level Level, tag, format string, args ...any) {
	if l == nil || l.logger == nil || level < l.level {
		return
	}
	l.logger.Printf(tag+format, args...)
}
