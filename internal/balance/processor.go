package balance

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor runs the reconciliation job on a schedule. It holds no
// locks that could block trading.
type Processor struct {
	reconciler *Reconciler
	interval   time.Duration
}

func NewProcessor(reconciler *Reconciler, interval time.Duration) *Processor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Processor{reconciler: reconciler, interval: interval}
}

// Start begins the reconciliation loop and blocks until ctx is done.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "reconcile_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting reconciliation processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down reconciliation processor")
			return
		case <-ticker.C:
			if _, err := p.reconciler.ReconcileAll(ctx); err != nil {
				logger.Error().Err(err).Msg("reconciliation run failed")
			}
		}
	}
}
