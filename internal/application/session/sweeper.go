package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically deletes expired sessions.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(svc *Service, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		interval: interval,
		logger:   logger.With().Str("component", "session_sweeper").Logger(),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info().Msg("session sweeper disabled")
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.interval).Msg("session sweeper started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("session sweeper stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of removed sessions.
func (w *Sweeper) RunOnce(ctx context.Context) int {
	n, err := w.svc.SweepExpired(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("session sweep failed")
		return 0
	}
	if n > 0 {
		w.logger.Info().Int("count", n).Msg("expired sessions swept")
	}
	return n
}
