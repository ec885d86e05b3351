package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// levelTrace sits below slog.LevelDebug.
const levelTrace = slog.Level(-8)

var (
	globalMu sync.Mutex
	global   *CentralLogger
)

// SetGlobal installs cl as the process logger.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = cl
}

// Global returns the process logger. Before SetGlobal it is an info level
// console logger.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = &CentralLogger{
			handler: newTextHandler(os.Stdout, slog.LevelInfo),
			levels:  &levelTable{fallback: slog.LevelInfo},
		}
	}
	return global
}

// levelTable resolves the level of a dotted module name by its longest
// configured prefix.
type levelTable struct {
	fallback slog.Level
	modules  map[string]slog.Level
}

func (t *levelTable) lookup(module string) slog.Level {
	for name := module; name != ""; {
		if lvl, ok := t.modules[name]; ok {
			return lvl
		}
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[:i]
	}
	return t.fallback
}

// CentralLogger owns the log outputs and creates module loggers.
type CentralLogger struct {
	handler slog.Handler
	levels  *levelTable

	mu   sync.Mutex
	file *os.File
}

// NewCentralLogger opens the configured outputs. Console output is text
// without timestamps; file output is JSON with UTC RFC3339 timestamps.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config is nil")
	}
	c := cfg.withDefaults()

	cl := &CentralLogger{
		levels: &levelTable{
			fallback: parseLevel(c.DefaultLevel),
			modules:  make(map[string]slog.Level, len(c.ModuleLevels)),
		},
	}
	for module, lvl := range c.ModuleLevels {
		cl.levels.modules[module] = parseLevel(lvl)
	}

	var outputs []slog.Handler
	if c.Console.Enabled {
		outputs = append(outputs, newTextHandler(os.Stdout, parseLevel(c.Console.Level)))
	}
	if c.FileOutput.Enabled {
		f, err := openLogFile(c.FileOutput.Path)
		if err != nil {
			return nil, err
		}
		cl.file = f
		outputs = append(outputs, newJSONHandler(f, parseLevel(c.FileOutput.Level)))
	}

	switch len(outputs) {
	case 0:
		cl.handler = slog.DiscardHandler
	case 1:
		cl.handler = outputs[0]
	default:
		cl.handler = newMultiWriterHandler(outputs...)
	}
	return cl, nil
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Module returns a logger for a top level module.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	return &moduleLogger{
		handler: cl.handler,
		levels:  cl.levels,
		module:  name,
		level:   cl.levels.lookup(name),
	}
}

// Flush syncs the log file.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	return cl.file.Sync()
}

// Close syncs and closes the log file.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	err := errors.Join(cl.file.Sync(), cl.file.Close())
	cl.file = nil
	return err
}

// NewSlogLogger returns a standalone text logger, mostly for tests. A nil
// writer discards output.
func NewSlogLogger(w io.Writer, level LogLevel) Logger {
	if w == nil {
		w = io.Discard
	}
	lvl := parseLevel(string(level))
	return &moduleLogger{handler: newTextHandler(w, lvl), level: lvl}
}

func parseLevel(name string) slog.Level {
	switch LogLevel(strings.ToLower(name)) {
	case LogLevelTrace:
		return levelTrace
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type moduleLogger struct {
	handler slog.Handler
	// levels is nil for standalone loggers, children then inherit level
	levels *levelTable
	module string
	level  slog.Level
	fields []Field
}

func (m *moduleLogger) Module(name string) Logger {
	if m == nil {
		return nil
	}
	child := *m
	if m.module != "" {
		child.module = m.module + "." + name
	} else {
		child.module = name
	}
	if m.levels != nil {
		child.level = m.levels.lookup(child.module)
	}
	child.fields = slices.Clone(m.fields)
	return &child
}

func (m *moduleLogger) With(fields ...Field) Logger {
	if m == nil {
		return nil
	}
	child := *m
	child.fields = slices.Concat(m.fields, fields)
	return &child
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.emit(levelTrace, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.emit(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.emit(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.emit(slog.LevelWarn, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.emit(slog.LevelError, msg, fields) }

func (m *moduleLogger) emit(level slog.Level, msg string, fields []Field) {
	if m == nil || level < m.level {
		return
	}
	ctx := context.Background()
	if !m.handler.Enabled(ctx, level) {
		return
	}

	r := slog.NewRecord(time.Now(), level, msg, 0)
	if m.module != "" {
		r.AddAttrs(slog.String(keyModule, m.module))
	}
	for _, f := range m.fields {
		r.AddAttrs(toAttr(f))
	}
	for _, f := range fields {
		r.AddAttrs(toAttr(f))
	}
	_ = m.handler.Handle(ctx, r)
}

func toAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case float64:
		return slog.Float64(f.Key, math.Round(v*1000)/1000)
	case float32:
		return slog.Float64(f.Key, math.Round(float64(v)*1000)/1000)
	case time.Duration:
		return slog.String(f.Key, v.Round(time.Microsecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}
