// Package logging wires the core's structured LogRecord emission to a
// zap-backed sink and a bounded in-memory buffer. Retention and display
// proper are an external collaborator's job; this package only keeps
// enough history to answer the control plane's getLogs/clearLogs calls.
package logging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Level is a record's severity: DEBUG for low-level trace detail, INFO
// for routine lifecycle events, WARN for a recovered transport/protocol
// error, ERROR for one the caller couldn't recover from.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Record is one structured log entry: a timestamp, severity, subsystem
// target, and message. ConnID is an optional correlation id so an
// external viewer can group one connection's events; it is empty for
// process-wide records.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Target    string    `json:"target"`
	Message   string    `json:"message"`
	ConnID    string    `json:"connId,omitempty"`
}

// Sink is the core's emission point. It fans every record out to a zap
// logger for process-level observability and into a bounded ring buffer
// the control plane can serve back over the Control API.
type Sink struct {
	zl    *zap.SugaredLogger
	store *RingStore
}

// New builds a Sink from a zap base logger and a ring buffer capacity.
func New(zl *zap.SugaredLogger, capacity int) *Sink {
	return &Sink{zl: zl, store: NewRingStore(capacity)}
}

// NewDevelopment is a convenience constructor wrapping
// zap.NewDevelopmentConfig().Build().
func NewDevelopment(capacity int) (*Sink, error) {
	zl, err := zap.NewDevelopmentConfig().Build()
	if err != nil {
		return nil, err
	}
	return New(zl.Sugar(), capacity), nil
}

func (s *Sink) emit(level Level, target, connID, msg string, args ...interface{}) {
	rec := Record{
		Timestamp: time.Now(),
		Level:     level,
		Target:    target,
		Message:   msg,
	}
	if len(args) > 0 {
		rec.Message = fmt.Sprintf(msg, args...)
	}
	if connID != "" {
		rec.ConnID = connID
	}
	s.store.Append(rec)

	sl := s.zl.With("target", target)
	if connID != "" {
		sl = sl.With("conn", connID)
	}
	switch level {
	case LevelDebug:
		sl.Debugf(msg, args...)
	case LevelInfo:
		sl.Infof(msg, args...)
	case LevelWarn:
		sl.Warnf(msg, args...)
	case LevelError:
		sl.Errorf(msg, args...)
	}
}

// Debugf, Infof, Warnf, Errorf emit a process-wide record (no connection
// correlation id attached).
func (s *Sink) Debugf(target, format string, args ...interface{}) {
	s.emit(LevelDebug, target, "", format, args...)
}
func (s *Sink) Infof(target, format string, args ...interface{}) {
	s.emit(LevelInfo, target, "", format, args...)
}
func (s *Sink) Warnf(target, format string, args ...interface{}) {
	s.emit(LevelWarn, target, "", format, args...)
}
func (s *Sink) Errorf(target, format string, args ...interface{}) {
	s.emit(LevelError, target, "", format, args...)
}

// Conn returns a logger bound to a per-connection correlation id so every
// record it emits can be grouped by an external viewer.
func (s *Sink) Conn(connID string) *ConnLogger {
	return &ConnLogger{sink: s, connID: connID}
}

// ConnLogger is a Sink scoped to one connection's correlation id.
type ConnLogger struct {
	sink   *Sink
	connID string
}

func (c *ConnLogger) Debugf(target, format string, args ...interface{}) {
	c.sink.emit(LevelDebug, target, c.connID, format, args...)
}
func (c *ConnLogger) Infof(target, format string, args ...interface{}) {
	c.sink.emit(LevelInfo, target, c.connID, format, args...)
}
func (c *ConnLogger) Warnf(target, format string, args ...interface{}) {
	c.sink.emit(LevelWarn, target, c.connID, format, args...)
}
func (c *ConnLogger) Errorf(target, format string, args ...interface{}) {
	c.sink.emit(LevelError, target, c.connID, format, args...)
}

// Logs returns every buffered record with Timestamp after since.
func (s *Sink) Logs(since time.Time) []Record {
	return s.store.Since(since)
}

// Clear empties the buffer.
func (s *Sink) Clear() {
	s.store.Clear()
}

// NewConnID mints a correlation id for a newly accepted connection.
func NewConnID() string {
	return uuid.NewString()
}

// RingStore is a fixed-capacity FIFO buffer of Records.
type RingStore struct {
	mu       sync.Mutex
	buf      []Record
	capacity int
}

func NewRingStore(capacity int) *RingStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingStore{buf: make([]Record, 0, capacity), capacity: capacity}
}

func (r *RingStore) Append(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) >= r.capacity {
		// Drop the oldest record to keep the buffer bounded.
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
	}
	r.buf = append(r.buf, rec)
}

func (r *RingStore) Since(since time.Time) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.buf))
	for _, rec := range r.buf {
		if rec.Timestamp.After(since) {
			out = append(out, rec)
		}
	}
	return out
}

func (r *RingStore) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = r.buf[:0]
}

// loggerKey is used to carry a Sink on a context.Context, mirroring the
// teacher's knative.dev/pkg/logging.WithLogger/FromContext pattern
// without the knative injection framework.
type loggerKey struct{}

// WithSink attaches a Sink to ctx.
func WithSink(ctx context.Context, s *Sink) context.Context {
	return context.WithValue(ctx, loggerKey{}, s)
}

// FromContext retrieves the Sink attached by WithSink, or nil.
func FromContext(ctx context.Context) *Sink {
	s, _ := ctx.Value(loggerKey{}).(*Sink)
	return s
}
