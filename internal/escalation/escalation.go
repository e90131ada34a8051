// Package escalation delivers human handoff notices to operators.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joescharf/lendchat/internal/models"
)

// Sink receives escalations. Callers treat failures as log-only.
type Sink interface {
	Notify(ctx context.Context, e models.Escalation) error
}

// LogSink writes escalations to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink; a nil logger uses slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, e models.Escalation) error {
	s.logger.WarnContext(ctx, "conversation escalated",
		"customer_id", e.CustomerID,
		"session_id", e.SessionID,
		"reason", e.Reason,
		"messages", len(e.History),
		"intent", e.Context.Intent,
	)
	return nil
}

// Recorder persists escalations for the operator queue.
type Recorder interface {
	CreateEscalation(ctx context.Context, e *models.Escalation) error
}

// StoreSink records escalations in the database.
type StoreSink struct {
	store Recorder
}

// NewStoreSink returns a sink that records into store.
func NewStoreSink(store Recorder) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Notify(ctx context.Context, e models.Escalation) error {
	if err := s.store.CreateEscalation(ctx, &e); err != nil {
		return fmt.Errorf("record escalation: %w", err)
	}
	return nil
}

type multi []Sink

// Multi fans an escalation out to every sink. All sinks are tried; their
// errors are joined.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Notify(ctx context.Context, e models.Escalation) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
