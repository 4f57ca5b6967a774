package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures a Logger. The zero value logs Info and above to stderr.
type Options struct {
	Debug bool
	// Output receives rendered lines; nil means stderr.
	Output io.Writer
	// Pretty forces ANSI rendering on or off. nil detects it from TERM/NO_COLOR.
	Pretty *bool
}

type Logger struct {
	debugEnabled atomic.Bool
	terminalOut  atomic.Bool
	pretty       bool
	out          io.Writer
	base         []slog.Attr
	core         *loggerCore
}

// loggerCore is shared between a logger and the children made by With.
type loggerCore struct {
	mu          sync.RWMutex
	fileSink    *fileSink
	nextID      int
	subscribers map[int]func(Event)
	writeMu     sync.Mutex
}

type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func New(debug bool) *Logger {
	return NewWithOptions(Options{Debug: debug})
}

func NewWithOptions(opts Options) *Logger {
	pretty := shouldPrettyPrint()
	if opts.Pretty != nil {
		pretty = *opts.Pretty
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logger := &Logger{
		pretty: pretty,
		out:    out,
		core:   &loggerCore{subscribers: map[int]func(Event){}},
	}
	logger.debugEnabled.Store(opts.Debug)
	logger.terminalOut.Store(true)
	return logger
}

// Discard returns a logger that renders nothing. Subscribers still receive events.
func Discard() *Logger {
	logger := NewWithOptions(Options{Output: io.Discard})
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func Field(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// With returns a child logger that stamps fields onto every event. Children
// share sinks and subscribers with their parent.
func (l *Logger) With(fields ...slog.Attr) *Logger {
	if l == nil {
		return nil
	}
	child := &Logger{
		pretty: l.pretty,
		out:    l.out,
		base:   append(append([]slog.Attr(nil), l.base...), fields...),
		core:   l.core,
	}
	child.debugEnabled.Store(l.debugEnabled.Load())
	child.terminalOut.Store(l.terminalOut.Load())
	return child
}

func (l *Logger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	// Debug events always reach the file sink; only rendering is gated.
	l.log(slog.LevelDebug, msg, fields, l.debugEnabled.Load())
}

func (l *Logger) Info(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelInfo, msg, fields, true)
}

func (l *Logger) Warn(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelWarn, msg, fields, true)
}

func (l *Logger) Error(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelError, msg, fields, true)
}

func (l *Logger) DebugEnabled() bool {
	return l != nil && l.debugEnabled.Load()
}

func (l *Logger) SetDebugEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.debugEnabled.Store(enabled)
}

func (l *Logger) SetTerminalOutputEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.terminalOut.Store(enabled)
}

// EnableFilePersistence mirrors every event, debug included, into rotating
// JSONL files under dir (DefaultLogDirPath when empty).
func (l *Logger) EnableFilePersistence(dir string, maxBytes int64) error {
	if l == nil {
		return nil
	}
	sink, err := newFileSink(dir, maxBytes)
	if err != nil {
		return err
	}
	l.core.mu.Lock()
	old := l.core.fileSink
	l.core.fileSink = sink
	l.core.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.core.mu.Lock()
	sink := l.core.fileSink
	l.core.fileSink = nil
	l.core.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}

func (l *Logger) Subscribe(fn func(Event)) func() {
	if l == nil {
		panic("logging.Logger.Subscribe: logger must not be nil")
	}
	if fn == nil {
		panic("logging.Logger.Subscribe: callback must not be nil")
	}
	c := l.core
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (l *Logger) log(level slog.Level, msg string, attrs []slog.Attr, publish bool) {
	if len(l.base) > 0 {
		attrs = append(append([]slog.Attr(nil), l.base...), attrs...)
	}
	event := Event{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  fieldMap(attrs),
	}
	l.core.mu.RLock()
	sink := l.core.fileSink
	l.core.mu.RUnlock()
	if sink != nil {
		_ = sink.WriteEvent(event)
	}
	if !publish {
		return
	}
	if l.terminalOut.Load() {
		l.emit(event)
	}
	l.publishEvent(event)
}

func (l *Logger) emit(event Event) {
	line := FormatEventLine(event)
	if l.pretty {
		line = FormatEventANSI(event)
	}
	l.core.writeMu.Lock()
	_, _ = io.WriteString(l.out, line)
	l.core.writeMu.Unlock()
}

func (l *Logger) publishEvent(event Event) {
	c := l.core
	c.mu.RLock()
	if len(c.subscribers) == 0 {
		c.mu.RUnlock()
		return
	}
	callbacks := make([]func(Event), 0, len(c.subscribers))
	for _, cb := range c.subscribers {
		callbacks = append(callbacks, cb)
	}
	c.mu.RUnlock()

	for _, cb := range callbacks {
		cb(event)
	}
}
