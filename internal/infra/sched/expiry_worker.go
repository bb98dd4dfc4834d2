package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/ports/repository"
	"license-activation-server/internal/infra/metrics"
)

// Batch size per sweep; leftovers are picked up next tick.
const sweepLimit = 500

// ExpiryWorker periodically persists the EXPIRED status for codes whose
// validity window has passed. This is persistence hygiene only: every read
// path re-derives expiry from expires_at and server time, so the engine stays
// correct if this worker never runs.
type ExpiryWorker struct {
	interval time.Duration
	codes    repository.ActivationCodeRepository
	tm       repository.TransactionManager
	log      *zerolog.Logger
	now      func() time.Time
}

func NewExpiryWorker(interval time.Duration, codes repository.ActivationCodeRepository, tm repository.TransactionManager, logger *zerolog.Logger) *ExpiryWorker {
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		codes:    codes,
		tm:       tm,
		log:      &exprLog,
		now:      time.Now,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.Sweep(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("expiry sweep error")
			}
			if n > 0 {
				metrics.IncCodesExpired(n)
				w.log.Info().Int("count", n).Msg("expired codes persisted")
			}
		}
	}
}

// Sweep persists the expired status for one batch of lapsed codes and
// returns how many it transitioned.
func (w *ExpiryWorker) Sweep(ctx context.Context) (int, error) {
	now := w.now().UTC()
	n := 0
	err := w.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		lapsed, err := w.codes.FindActiveExpiredBy(ctx, tx, now, sweepLimit)
		if err != nil {
			return err
		}
		for _, c := range lapsed {
			c.Status = model.CodeStatusExpired
			if err := w.codes.Save(ctx, tx, c); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
