// Package rtlog wires the runtime's structured logging onto logiface, the
// typed logging library the teacher module depends on directly (its own
// tests build a typed logger the same way: logiface.New[*testEvent](...)).
// Every runtime component (pool, engine, timer service, task scheduler)
// accepts a *Logger at construction, defaulting to a no-op writer.
package rtlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

// Logger is the structured logger type threaded through the runtime.
type Logger = logiface.Logger[*Event]

// Event is the concrete logiface.Event implementation used by this module.
// It carries the queue/task/timer identifiers the teacher's own LogEntry
// carried as LoopID/TaskID/TimerID, plus an arbitrary field map.
type Event struct {
	logiface.UnimplementedEvent

	level   logiface.Level
	message string
	err     error
	fields  map[string]any
}

func (e *Event) Level() logiface.Level { return e.level }

func (e *Event) AddField(key string, val any) {
	if e.fields == nil {
		e.fields = make(map[string]any, 4)
	}
	e.fields[key] = val
}

func (e *Event) AddMessage(msg string) bool { e.message = msg; return true }
func (e *Event) AddError(err error) bool    { e.err = err; return true }
func (e *Event) AddString(key, val string) bool {
	e.AddField(key, val)
	return true
}
func (e *Event) AddInt(key string, val int) bool {
	e.AddField(key, val)
	return true
}
func (e *Event) AddUint64(key string, val uint64) bool {
	e.AddField(key, val)
	return true
}
func (e *Event) AddInt64(key string, val int64) bool {
	e.AddField(key, val)
	return true
}
func (e *Event) AddDuration(key string, val time.Duration) bool {
	e.AddField(key, val)
	return true
}
func (e *Event) AddBool(key string, val bool) bool {
	e.AddField(key, val)
	return true
}

var eventPool = sync.Pool{New: func() any { return new(Event) }}

type eventFactory struct{}

func (eventFactory) NewEvent(level logiface.Level) *Event {
	ev := eventPool.Get().(*Event)
	ev.level = level
	return ev
}

type eventReleaser struct{}

func (eventReleaser) ReleaseEvent(ev *Event) {
	ev.message = ""
	ev.err = nil
	ev.fields = nil
	eventPool.Put(ev)
}

// Writer finalizes an Event. Implementations must not retain the Event.
type Writer = logiface.Writer[*Event]

// NopWriter discards every event; it is the default when no writer is
// configured, mirroring the teacher's NewNoOpLogger fallback.
type NopWriter struct{}

func (NopWriter) Write(*Event) error { return nil }

// TextWriter writes a human-readable line per event, grounded on the
// teacher's DefaultLogger.logPretty formatting (level, category/message,
// then key=value context pairs).
type TextWriter struct {
	mu  sync.Mutex
	out interface{ Write([]byte) (int, error) }
}

// NewTextWriter wraps an io.Writer-like sink (kept untyped here to avoid
// importing io for a single method signature).
func NewTextWriter(out interface{ Write([]byte) (int, error) }) *TextWriter {
	return &TextWriter{out: out}
}

func (w *TextWriter) Write(ev *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	line := fmt.Sprintf("%s %s", levelString(ev.level), ev.message)
	for k, v := range ev.fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	if ev.err != nil {
		line += " err=" + ev.err.Error()
	}
	line += "\n"
	_, err := w.out.Write([]byte(line))
	return err
}

func levelString(l logiface.Level) string {
	switch l {
	case logiface.LevelTrace:
		return "TRC"
	case logiface.LevelDebug:
		return "DBG"
	case logiface.LevelInformational:
		return "INF"
	case logiface.LevelNotice:
		return "NOT"
	case logiface.LevelWarning:
		return "WRN"
	case logiface.LevelError:
		return "ERR"
	case logiface.LevelCritical:
		return "CRT"
	case logiface.LevelAlert:
		return "ALT"
	case logiface.LevelEmergency:
		return "EMG"
	default:
		return "???"
	}
}

// New builds a runtime Logger at the given level, writing through w. Pass
// nil (or NopWriter{}) for silence.
func New(level logiface.Level, w Writer) *Logger {
	if w == nil {
		w = NopWriter{}
	}
	return logiface.New[*Event](
		logiface.WithLevel[*Event](level),
		logiface.WithEventFactory[*Event](eventFactory{}),
		logiface.WithEventReleaser[*Event](eventReleaser{}),
		logiface.WithWriter[*Event](w),
	)
}
