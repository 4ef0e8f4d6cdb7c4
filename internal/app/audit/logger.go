// Package audit records compliance events without ever blocking or failing
// the caller.
package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger buffers events and writes them to a sink on its own goroutine.
// When the buffer is full the event is dropped and counted.
type Logger struct {
	sink         core.AuditSink
	writeTimeout time.Duration
	log          zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan domain.AuditEvent
	done   chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
}

func NewLogger(sink core.AuditSink, buffer int, writeTimeout time.Duration) *Logger {
	if buffer <= 0 {
		buffer = 1
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	l := &Logger{
		sink:         sink,
		writeTimeout: writeTimeout,
		log:          log.With().Str("module", "app.audit").Logger(),
		queue:        make(chan domain.AuditEvent, buffer),
		done:         make(chan struct{}),
	}
	go l.run()
	return l
}

// Log enqueues one event. It never blocks and never panics.
func (l *Logger) Log(sid domain.SessionID, uid domain.UserID, typ domain.AuditType, metadata map[string]any) {
	ev := domain.AuditEvent{
		SessionID: sid,
		UserID:    uid,
		Type:      typ,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.dropped.Add(1)
		l.log.Warn().Str("type", string(typ)).Str("session", string(sid)).Msg("audit buffer full, event dropped")
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for ev := range l.queue {
		l.write(ev)
	}
}

func (l *Logger) write(ev domain.AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			l.failed.Add(1)
			l.log.Error().Interface("panic", r).Str("type", string(ev.Type)).Msg("audit sink panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
	defer cancel()
	if err := l.sink.WriteAudit(ctx, ev); err != nil {
		l.failed.Add(1)
		err = fmt.Errorf("%w: %w", domain.ErrAuditWrite, err)
		l.log.Warn().Err(err).Str("type", string(ev.Type)).Str("session", string(ev.SessionID)).Msg("audit event lost")
	}
}

// Close stops accepting events and waits until the queued ones are written
// or ctx expires.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped counts events discarded because the buffer was full or the
// logger was closed.
func (l *Logger) Dropped() int64 { return l.dropped.Load() }

// Failed counts events the sink rejected.
func (l *Logger) Failed() int64 { return l.failed.Load() }
