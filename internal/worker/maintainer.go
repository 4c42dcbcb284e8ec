// Package worker runs the background maintenance loops: reclaiming stale
// completion locks, retrying failed rating calculations with exponential
// backoff, and compacting the change log.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"activity-tracker/internal/service"
)

// SweepStore lists activities that need background attention.
type SweepStore interface {
	SweepStale(ctx context.Context, staleness time.Duration) ([]int64, error)
	GetRetryable(ctx context.Context, baseBackoff time.Duration, limit int) ([]int64, error)
}

// Processor re-runs a completion attempt from stored results.
type Processor interface {
	Reprocess(ctx context.Context, activityID int64) (*service.Outcome, error)
}

// Compactor rolls old change log entries into daily summaries.
type Compactor interface {
	Compact(ctx context.Context) error
}

// Config holds the maintainer's intervals and retry tunables.
type Config struct {
	SweepInterval   time.Duration
	CompactInterval time.Duration
	LockStaleness   time.Duration
	RetryBackoff    time.Duration
	RetryBatchSize  int
}

// Maintainer owns the maintenance goroutine. Start it once; Stop blocks
// until the current pass finishes.
type Maintainer struct {
	processing SweepStore
	processor  Processor
	compactor  Compactor
	cfg        Config

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewMaintainer creates a new Maintainer instance.
func NewMaintainer(processing SweepStore, processor Processor, compactor Compactor, cfg Config) *Maintainer {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.CompactInterval <= 0 {
		cfg.CompactInterval = time.Hour
	}
	if cfg.LockStaleness <= 0 {
		cfg.LockStaleness = 10 * time.Minute
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}
	if cfg.RetryBatchSize <= 0 {
		cfg.RetryBatchSize = 10
	}
	return &Maintainer{
		processing: processing,
		processor:  processor,
		compactor:  compactor,
		cfg:        cfg,
		done:       make(chan struct{}),
	}
}

// Start launches the maintenance loop.
func (m *Maintainer) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	go func() {
		defer close(m.done)

		sweep := time.NewTicker(m.cfg.SweepInterval)
		defer sweep.Stop()
		compact := time.NewTicker(m.cfg.CompactInterval)
		defer compact.Stop()

		log.Info().
			Dur("sweep_interval", m.cfg.SweepInterval).
			Dur("compact_interval", m.cfg.CompactInterval).
			Msg("Maintenance worker started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Maintenance worker stopped")
				return
			case <-sweep.C:
				m.sweepPass(ctx)
			case <-compact.C:
				if err := m.compactor.Compact(ctx); err != nil {
					log.Error().Err(err).Msg("Change log compaction failed")
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (m *Maintainer) Stop() {
	m.once.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		<-m.done
	})
}

// sweepPass reclaims activities abandoned mid-calculation and retries
// failed ones whose backoff window has elapsed.
func (m *Maintainer) sweepPass(ctx context.Context) {
	swept, err := m.processing.SweepStale(ctx, m.cfg.LockStaleness)
	if err != nil {
		log.Error().Err(err).Msg("Stale lock sweep failed")
	} else if len(swept) > 0 {
		log.Warn().
			Ints64("activity_ids", swept).
			Msg("Reclaimed stale completion locks")
	}

	retryable, err := m.processing.GetRetryable(ctx, m.cfg.RetryBackoff, m.cfg.RetryBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Retryable lookup failed")
		return
	}

	for _, id := range append(swept, retryable...) {
		if ctx.Err() != nil {
			return
		}
		m.reprocess(ctx, id)
	}
}

func (m *Maintainer) reprocess(ctx context.Context, activityID int64) {
	outcome, err := m.processor.Reprocess(ctx, activityID)
	switch {
	case err == nil:
		log.Info().
			Int64("activity_id", activityID).
			Bool("rating_applied", outcome.RatingApplied).
			Msg("Background reprocessing succeeded")
	case errors.Is(err, service.ErrAlreadyProcessing) || errors.Is(err, service.ErrAlreadyCompleted):
		// Another worker or a live caller got there first.
	default:
		log.Warn().
			Err(err).
			Int64("activity_id", activityID).
			Msg("Background reprocessing failed")
	}
}
