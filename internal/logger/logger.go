// Package logger is the structured logging layer on top of log/slog.
//
// A CentralLogger owns the console and file outputs and hands out module
// loggers:
//
//	cl, err := logger.NewCentralLogger(&settings.Main.Log)
//	if err != nil {
//	    return err
//	}
//	defer cl.Close()
//	logger.SetGlobal(cl)
//
//	log := logger.Global().Module("bridge")
//	log.Info("Session started", logger.String("engine", "energy"))
//
// Module names nest with a dot, so Module("audio").Module("consumer") logs
// module=audio.consumer and is filtered by the "audio.consumer" level, then
// "audio", then the default level.
//
// The capture callback never logs. It bumps counters that a regular
// goroutine reports.
package logger

import (
	"time"
)

// LogLevel is a configured severity name.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

const (
	keyError   = "error"
	keyModule  = "module"
	keySession = "session_id"
)

// Field is one structured key/value pair.
type Field struct {
	Key   string
	Value any
}

// Logger is the logging interface passed to components.
type Logger interface {
	// Module returns a child logger for a sub-module.
	Module(name string) Logger
	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// ForSession tags every entry of log with a detection session ID.
func ForSession(log Logger, sessionID string) Logger {
	if log == nil || sessionID == "" {
		return log
	}
	return log.With(String(keySession, sessionID))
}

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Uint64 is for monotonic counters such as overruns and dropped cycles.
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

// Float64 values are rounded to three decimals on output.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration values are written as strings like "1.5ms".
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// Error returns the "error" field. A nil err logs as null.
func Error(err error) Field {
	if err == nil {
		return Field{Key: keyError}
	}
	return Field{Key: keyError, Value: err.Error()}
}
