package balance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ksred/coinledger/internal/ledger"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
)

const maxWriteAttempts = 3

// Reconciler recomputes the authoritative balance for every (account,
// asset) pair from the immutable trade + transfer history and rewrites
// any cached projection entry that has drifted. The history is ground
// truth; the cache is untrusted. It never mutates the holdings store
// or the history itself, and performs only non-locking reads, so it
// can run while trading continues.
type Reconciler struct {
	db      *Database
	store   Store
	workers int
}

func NewReconciler(db *Database, store Store, workers int) *Reconciler {
	if workers <= 0 {
		workers = 4
	}
	return &Reconciler{db: db, store: store, workers: workers}
}

// ReconcileAll scans every pair and returns the number of corrected
// entries. Failures on one pair are logged and do not abort the scan.
// Running it twice with no intervening trades or transfers yields zero
// corrections the second time.
func (r *Reconciler) ReconcileAll(ctx context.Context) (int, error) {
	logger := log.With().Str("component", "reconciler").Logger()

	pairs, err := r.db.ListPairs()
	if err != nil {
		return 0, err
	}
	// Pick up pairs that live only in a non-durable store tier, which
	// the history-driven scan cannot see
	if lister, ok := r.store.(PairLister); ok {
		pairs = mergePairs(pairs, lister.Pairs())
	}
	logger.Info().Int("pair_count", len(pairs)).Msg("starting reconciliation scan")

	var corrected atomic.Int64
	p := pool.New().WithMaxGoroutines(r.workers)
	for _, pair := range pairs {
		pair := pair
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			fixed, err := r.reconcilePair(ctx, pair)
			if err != nil {
				logger.Error().Err(err).
					Int64("account_id", pair.AccountID).
					Int64("asset_id", pair.AssetID).
					Msg("failed to reconcile pair")
				return
			}
			if fixed {
				corrected.Add(1)
			}
		})
	}
	p.Wait()

	total := int(corrected.Load())
	logger.Info().Int("corrected", total).Msg("reconciliation scan complete")
	return total, nil
}

func mergePairs(base, extra []Pair) []Pair {
	seen := make(map[Pair]struct{}, len(base))
	for _, pair := range base {
		seen[pair] = struct{}{}
	}
	for _, pair := range extra {
		if _, ok := seen[pair]; !ok {
			seen[pair] = struct{}{}
			base = append(base, pair)
		}
	}
	return base
}

func (r *Reconciler) reconcilePair(ctx context.Context, pair Pair) (bool, error) {
	tradeSum, err := r.db.SumTrades(pair.AccountID, pair.AssetID)
	if err != nil {
		return false, err
	}
	transferSum, err := r.db.SumTransfers(pair.AccountID, pair.AssetID)
	if err != nil {
		return false, err
	}
	expected := tradeSum.Add(transferSum)

	raw, found, err := r.store.Get(pair.AccountID, pair.AssetID)
	if err != nil {
		return false, err
	}
	current := decimal.Zero
	if found {
		current, err = ledger.ParseBalance(raw)
		if err != nil {
			// A corrupted entry counts as drift; repair it.
			current = expected.Add(decimal.New(1, 0))
		}
	}

	// Exact comparison: once reconciled the cache must match exactly.
	if expected.Equal(current) {
		return false, nil
	}

	if err := r.writeWithRetry(ctx, pair, ledger.FormatAmount(expected)); err != nil {
		return false, err
	}
	log.Info().
		Int64("account_id", pair.AccountID).
		Int64("asset_id", pair.AssetID).
		Str("expected", ledger.FormatAmount(expected)).
		Str("was", raw).
		Msg("corrected drifted cached balance")
	return true, nil
}

// writeWithRetry retries transient store failures with exponential
// backoff before giving up on the pair.
func (r *Reconciler) writeWithRetry(ctx context.Context, pair Pair, value string) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = 50 * time.Millisecond
	backoffCfg.MaxInterval = time.Second

	var err error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if err = r.store.Set(pair.AccountID, pair.AssetID, value); err == nil {
			return nil
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}
