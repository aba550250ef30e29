package relay

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/scalarorg/kakarot-relayer/config"
	"github.com/scalarorg/kakarot-relayer/pkg/db/pending"
	"github.com/scalarorg/kakarot-relayer/pkg/types"
	"golang.org/x/sync/errgroup"
)

const abandonedCacheSize = 4096

// Retrier periodically resubmits pending transactions whose backoff delay elapsed.
type Retrier struct {
	engine      *Engine
	store       pending.Store
	interval    time.Duration
	batchSize   int
	concurrency int
	// delays[n] is the wait after the attempt with n retries
	delays    []time.Duration
	abandoned *lru.Cache[common.Hash, struct{}]
	now       func() time.Time
}

func NewRetrier(engine *Engine, store pending.Store, cfg config.RelayerConfig) (*Retrier, error) {
	abandoned, err := lru.New[common.Hash, struct{}](abandonedCacheSize)
	if err != nil {
		return nil, err
	}
	return &Retrier{
		engine:      engine,
		store:       store,
		interval:    cfg.RetryInterval,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		delays:      backoffSchedule(cfg.Backoff, engine.MaxRetries()),
		abandoned:   abandoned,
		now:         time.Now,
	}, nil
}

// backoffSchedule expands an exponential backoff without jitter, so the delay
// for a given retry count is always the same.
func backoffSchedule(cfg config.BackoffConfig, maxRetries uint8) []time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delays := make([]time.Duration, int(maxRetries)+1)
	for i := range delays {
		delays[i] = b.NextBackOff()
	}
	return delays
}

func (r *Retrier) Delay(retries uint8) time.Duration {
	if int(retries) >= len(r.delays) {
		return r.delays[len(r.delays)-1]
	}
	return r.delays[retries]
}

func (r *Retrier) due(record *pending.Record) bool {
	if _, ok := r.abandoned.Get(record.EthHash); ok {
		return false
	}
	return r.now().Sub(record.UpdatedAt) >= r.Delay(record.Retries)
}

func (r *Retrier) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", r.interval).Msg("[Retrier] [Run] started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("[Retrier] [Run] stopped")
			return nil
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				log.Error().Err(err).Msg("[Retrier] [Run] tick failed")
			}
		}
	}
}

// Tick resubmits every due transaction among the oldest pending batch.
func (r *Retrier) Tick(ctx context.Context) error {
	records, err := r.store.ListPending(ctx, r.batchSize)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, record := range records {
		if !r.due(record) {
			continue
		}
		g.Go(func() error {
			r.resubmit(ctx, record)
			return nil
		})
	}
	return g.Wait()
}

func (r *Retrier) resubmit(ctx context.Context, record *pending.Record) {
	_, err := r.engine.Resubmit(ctx, record.EthHash)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrMaxRetriesExceeded):
		r.abandoned.Add(record.EthHash, struct{}{})
	case errors.Is(err, types.ErrNotFound):
		// confirmed meanwhile
	default:
		log.Warn().Err(err).Str("ethHash", record.EthHash.Hex()).Uint8("retries", record.Retries).
			Msg("[Retrier] [Tick] resubmission failed")
	}
}
