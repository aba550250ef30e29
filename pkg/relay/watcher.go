package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scalarorg/kakarot-relayer/config"
	"github.com/scalarorg/kakarot-relayer/pkg/db/pending"
	"github.com/scalarorg/kakarot-relayer/pkg/events"
	"github.com/scalarorg/kakarot-relayer/pkg/starknet"
	"github.com/scalarorg/kakarot-relayer/pkg/translation"
	"github.com/scalarorg/kakarot-relayer/pkg/types"
	"golang.org/x/sync/errgroup"
)

type ReceiptClient interface {
	TransactionReceipt(ctx context.Context, hash starknet.Felt) (*starknet.Receipt, error)
}

// Watcher marks pending transactions as mined once any of their submitted
// attempts shows up in a block.
type Watcher struct {
	store       pending.Store
	translator  *translation.Translator
	receipts    ReceiptClient
	bus         *events.EventBus
	interval    time.Duration
	batchSize   int
	concurrency int
	retention   time.Duration
	now         func() time.Time
}

func NewWatcher(store pending.Store, translator *translation.Translator, receipts ReceiptClient, bus *events.EventBus, cfg config.RelayerConfig) *Watcher {
	return &Watcher{
		store:       store,
		translator:  translator,
		receipts:    receipts,
		bus:         bus,
		interval:    cfg.WatchInterval,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		retention:   cfg.Retention,
		now:         time.Now,
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", w.interval).Msg("[Watcher] [Run] started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("[Watcher] [Run] stopped")
			return nil
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				log.Error().Err(err).Msg("[Watcher] [Run] tick failed")
			}
		}
	}
}

func (w *Watcher) Tick(ctx context.Context) error {
	records, err := w.store.ListPending(ctx, w.batchSize)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, record := range records {
		g.Go(func() error {
			w.check(gctx, record)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if w.retention > 0 {
		evicted, err := w.store.Evict(ctx, w.now().Add(-w.retention))
		if err != nil {
			return err
		}
		if evicted > 0 {
			log.Debug().Int64("evicted", evicted).Msg("[Watcher] [Tick] evicted confirmed transactions")
		}
	}
	return nil
}

// check looks for a receipt of every attempt, newest first.
func (w *Watcher) check(ctx context.Context, record *pending.Record) {
	for retry := int(record.Retries); retry >= 0; retry-- {
		_, hash, err := w.translator.Derive(record.Tx, uint8(retry))
		if err != nil {
			log.Error().Err(err).Str("ethHash", record.EthHash.Hex()).Msg("[Watcher] [Check] failed to derive hash")
			return
		}
		receipt, err := w.receipts.TransactionReceipt(ctx, hash)
		if errors.Is(err, starknet.ErrTransactionNotFound) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("starknetHash", hash.String()).Msg("[Watcher] [Check] failed to fetch receipt")
			return
		}
		if receipt.BlockNumber == nil {
			// accepted but not in a block yet
			continue
		}
		w.confirm(ctx, record, uint8(retry), hash, receipt)
		return
	}
}

func (w *Watcher) confirm(ctx context.Context, record *pending.Record, retry uint8, hash starknet.Felt, receipt *starknet.Receipt) {
	block := *receipt.BlockNumber
	err := w.store.MarkMined(ctx, record.EthHash, block)
	switch {
	case errors.Is(err, types.ErrConflict):
		log.Error().Str("ethHash", record.EthHash.Hex()).Uint64("blockNumber", block).
			Msg("[Watcher] [Confirm] transaction already mined in another block")
		w.publish(&events.EventEnvelope{
			EventType:    events.EVENT_RELAY_CONFLICT,
			EthHash:      record.EthHash,
			StarknetHash: hash,
			Retries:      retry,
			BlockNumber:  block,
			Reason:       err.Error(),
		})
		return
	case err != nil:
		log.Warn().Err(err).Str("ethHash", record.EthHash.Hex()).Msg("[Watcher] [Confirm] failed to mark mined")
		return
	}

	if receipt.ExecutionStatus == starknet.Reverted {
		log.Warn().Str("ethHash", record.EthHash.Hex()).Str("reason", receipt.RevertReason).
			Msg("[Watcher] [Confirm] transaction reverted")
	}
	log.Info().Str("ethHash", record.EthHash.Hex()).Str("starknetHash", hash.String()).
		Uint8("retry", retry).Uint64("blockNumber", block).
		Msg("[Watcher] [Confirm] transaction mined")
	w.publish(&events.EventEnvelope{
		EventType:    events.EVENT_RELAY_CONFIRMED,
		EthHash:      record.EthHash,
		StarknetHash: hash,
		Retries:      retry,
		BlockNumber:  block,
	})
}

func (w *Watcher) publish(event *events.EventEnvelope) {
	if w.bus != nil {
		w.bus.BroadcastEvent(event)
	}
}
