package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"activity-tracker/internal/model"
)

// ChangeAppender is the change log's write interface. Every mutator in the
// system that wants to notify clients goes through it; nothing else touches
// cursors.
type ChangeAppender interface {
	Append(ctx context.Context, e *model.ChangeLogEntry) (*model.ChangeLogEntry, error)
}

// ChangeWriter appends change entries with its own bounded retry, isolated
// from whatever transaction the change describes. A failing append degrades
// client freshness; it never rolls back a committed mutation.
type ChangeWriter struct {
	appender   ChangeAppender
	maxRetries uint64
	interval   time.Duration
}

// NewChangeWriter creates a new ChangeWriter instance.
func NewChangeWriter(appender ChangeAppender) *ChangeWriter {
	return &ChangeWriter{
		appender:   appender,
		maxRetries: 5,
		interval:   200 * time.Millisecond,
	}
}

// Log appends one entry, retrying transient failures with exponential
// backoff. The final failure is logged for operational visibility and
// returned so callers can count it, but callers must not treat it as a
// reason to undo the mutation being described.
func (w *ChangeWriter) Log(ctx context.Context, e *model.ChangeLogEntry) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.interval

	operation := func() error {
		_, err := w.appender.Append(ctx, e)
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, w.maxRetries), ctx))
	if err != nil {
		log.Error().
			Err(err).
			Str("entity_type", e.EntityType).
			Int64("entity_id", e.EntityID).
			Int64("user_id", e.UserID).
			Msg("Change entry dropped after retries")
		return err
	}

	return nil
}
