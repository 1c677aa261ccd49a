// Package audit provides the write-only security event log. Sinks are
// fire-and-forget: recording an event never blocks the request path and
// never surfaces an error to the caller.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/mangadox/mangadox/internal/model"
)

// Sink accepts security events. Implementations must not block.
type Sink interface {
	Record(ev model.SecurityEvent)
}

// LogSink writes events to a structured logger. Failure-flavored events are
// logged at warn level, the rest at info.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements Sink.
func (s *LogSink) Record(ev model.SecurityEvent) {
	level := slog.LevelInfo
	if strings.Contains(ev.EventType, "failed") ||
		strings.Contains(ev.EventType, "rate_limited") ||
		strings.Contains(ev.EventType, "locked") {
		level = slog.LevelWarn
	}

	attrs := []any{
		"event_type", ev.EventType,
		"client_id", ev.ClientID,
	}
	if ev.UserID != nil {
		attrs = append(attrs, "user_id", *ev.UserID)
	}
	if ev.Details != "" {
		attrs = append(attrs, "details", ev.Details)
	}
	s.logger.Log(context.Background(), level, "security event", attrs...)
}

// EventWriter is the slice of the store the StoreSink needs.
type EventWriter interface {
	AppendEvent(ctx context.Context, ev *model.SecurityEvent) error
}

const storeSinkBuffer = 256

// StoreSink appends events to the persistent audit table through a buffered
// channel and a single background writer. When the buffer is full the event
// is dropped rather than blocking the request; the drop is logged.
type StoreSink struct {
	events chan model.SecurityEvent
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStoreSink creates a StoreSink and starts its background writer.
func NewStoreSink(writer EventWriter, logger *slog.Logger) *StoreSink {
	ctx, cancel := context.WithCancel(context.Background())
	s := &StoreSink{
		events: make(chan model.SecurityEvent, storeSinkBuffer),
		logger: logger,
		cancel: cancel,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case ev := <-s.events:
				if err := writer.AppendEvent(context.Background(), &ev); err != nil {
					logger.Warn("audit append failed", "event_type", ev.EventType, "error", err)
				}
			case <-ctx.Done():
				// Drain whatever is already buffered before stopping.
				for {
					select {
					case ev := <-s.events:
						if err := writer.AppendEvent(context.Background(), &ev); err != nil {
							logger.Warn("audit append failed", "event_type", ev.EventType, "error", err)
						}
					default:
						return
					}
				}
			}
		}
	}()
	return s
}

// Record implements Sink. Non-blocking; drops on overflow.
func (s *StoreSink) Record(ev model.SecurityEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("audit buffer full, dropping event", "event_type", ev.EventType)
	}
}

// Shutdown stops the background writer after draining buffered events.
func (s *StoreSink) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// Fanout records each event to every sink in order.
type Fanout []Sink

// Record implements Sink.
func (f Fanout) Record(ev model.SecurityEvent) {
	for _, sink := range f {
		sink.Record(ev)
	}
}
