// Package relay submits Ethereum transactions to the Starknet execution layer
// and drives them until they are confirmed or abandoned.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/scalarorg/kakarot-relayer/pkg/codec"
	"github.com/scalarorg/kakarot-relayer/pkg/db/pending"
	"github.com/scalarorg/kakarot-relayer/pkg/events"
	"github.com/scalarorg/kakarot-relayer/pkg/starknet"
	"github.com/scalarorg/kakarot-relayer/pkg/tracing"
	"github.com/scalarorg/kakarot-relayer/pkg/translation"
	"github.com/scalarorg/kakarot-relayer/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxRetries uint8 = 10

// ExecutionClient is the part of the Starknet JSON-RPC the engine submits through.
type ExecutionClient interface {
	ChainID(ctx context.Context) (starknet.Felt, error)
	AddInvokeTransaction(ctx context.Context, tx *starknet.InvokeTransaction) (starknet.Felt, error)
}

type Submission struct {
	EthereumHash common.Hash
	// hash returned by the execution layer
	StarknetHash starknet.Felt
}

type Engine struct {
	decoder    *codec.Decoder
	translator *translation.Translator
	store      pending.Store
	client     ExecutionClient
	bus        *events.EventBus
	tracer     trace.Tracer
	maxRetries uint8
}

type EngineOption func(*Engine)

func WithMaxRetries(maxRetries uint8) EngineOption {
	return func(e *Engine) {
		e.maxRetries = maxRetries
	}
}

func WithEventBus(bus *events.EventBus) EngineOption {
	return func(e *Engine) {
		e.bus = bus
	}
}

func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func NewEngine(translator *translation.Translator, store pending.Store, client ExecutionClient, opts ...EngineOption) *Engine {
	e := &Engine{
		decoder:    codec.NewDecoder(translator.EthereumChainID()),
		translator: translator,
		store:      store,
		client:     client,
		tracer:     tracing.Tracer(),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) EthChainID() *big.Int {
	return e.decoder.ChainID()
}

func (e *Engine) MaxRetries() uint8 {
	return e.maxRetries
}

// Submit relays a raw signed Ethereum transaction. The record is only stored
// once the execution layer accepted the translated transaction.
func (e *Engine) Submit(ctx context.Context, raw []byte) (_ *Submission, err error) {
	ctx, span := e.tracer.Start(ctx, "relay.Submit")
	defer endSpan(span, &err)

	tx, err := e.decoder.Decode(raw)
	if err != nil {
		return nil, err
	}
	ethHash := codec.Hash(tx)
	span.SetAttributes(attribute.String("eth.hash", ethHash.Hex()))

	existing, err := e.store.Get(ctx, ethHash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", ethHash.Hex(), err)
	}
	if existing != nil {
		return nil, types.ErrAlreadyKnown
	}

	invoke, expected, err := e.translator.Derive(tx, 0)
	if err != nil {
		return nil, err
	}
	starknetHash, err := e.send(ctx, ethHash, 0, invoke, expected)
	if err != nil {
		return nil, err
	}

	// the sequencer holds the transaction now, the caller going away must not lose the record
	if err := e.store.Insert(context.WithoutCancel(ctx), pending.NewRecord(tx)); err != nil {
		if errors.Is(err, types.ErrDuplicate) {
			return nil, types.ErrAlreadyKnown
		}
		// accepted by the execution layer but not recorded, the client may safely resend
		log.Error().Err(err).Str("ethHash", ethHash.Hex()).Str("starknetHash", starknetHash.String()).
			Msg("[RelayEngine] [Submit] failed to store accepted transaction")
		return nil, fmt.Errorf("failed to store pending transaction %s: %w", ethHash.Hex(), err)
	}

	log.Info().Str("ethHash", ethHash.Hex()).Str("starknetHash", starknetHash.String()).
		Msg("[RelayEngine] [Submit] transaction relayed")
	e.publish(&events.EventEnvelope{
		EventType:    events.EVENT_RELAY_SUBMITTED,
		EthHash:      ethHash,
		StarknetHash: starknetHash,
	})
	return &Submission{EthereumHash: ethHash, StarknetHash: starknetHash}, nil
}

// Resubmit sends the transaction again at the next retry index. A rejection
// after the retry counter was incremented leaves the counter incremented.
func (e *Engine) Resubmit(ctx context.Context, ethHash common.Hash) (_ starknet.Felt, err error) {
	ctx, span := e.tracer.Start(ctx, "relay.Resubmit", trace.WithAttributes(attribute.String("eth.hash", ethHash.Hex())))
	defer endSpan(span, &err)

	record, err := e.store.Get(ctx, ethHash)
	if err != nil {
		return starknet.Zero, fmt.Errorf("failed to look up %s: %w", ethHash.Hex(), err)
	}
	if record == nil || !record.IsPending() {
		return starknet.Zero, types.ErrNotFound
	}
	if record.Retries >= e.maxRetries {
		e.abandon(ethHash, record.Retries)
		return starknet.Zero, types.ErrMaxRetriesExceeded
	}

	retries, err := e.store.IncrementRetries(ctx, ethHash, e.maxRetries)
	switch {
	case errors.Is(err, types.ErrMaxRetriesExceeded):
		e.abandon(ethHash, retries)
		return starknet.Zero, err
	case err != nil:
		return starknet.Zero, err
	}
	span.SetAttributes(attribute.Int("relay.retry", int(retries)))

	invoke, expected, err := e.translator.Derive(record.Tx, retries)
	if err != nil {
		return starknet.Zero, err
	}
	starknetHash, err := e.send(ctx, ethHash, retries, invoke, expected)
	if err != nil {
		return starknet.Zero, err
	}

	log.Info().Str("ethHash", ethHash.Hex()).Uint8("retries", retries).Str("starknetHash", starknetHash.String()).
		Msg("[RelayEngine] [Resubmit] transaction resubmitted")
	e.publish(&events.EventEnvelope{
		EventType:    events.EVENT_RELAY_RESUBMITTED,
		EthHash:      ethHash,
		StarknetHash: starknetHash,
		Retries:      retries,
	})
	return starknetHash, nil
}

// send submits the attempt at the given retry index. A duplicate report means
// the sequencer already holds this exact attempt, so its hash is the expected one.
// Only refusals reported by the sequencer are rejections; any other failure may
// have reached it and is returned as is.
func (e *Engine) send(ctx context.Context, ethHash common.Hash, retry uint8, invoke *starknet.InvokeTransaction, expected starknet.Felt) (starknet.Felt, error) {
	starknetHash, err := e.client.AddInvokeTransaction(ctx, invoke)
	switch {
	case err == nil:
		e.checkHash(ethHash, retry, expected, starknetHash)
		return starknetHash, nil
	case errors.Is(err, starknet.ErrDuplicateTransaction):
		log.Info().Str("ethHash", ethHash.Hex()).Uint8("retry", retry).Str("starknetHash", expected.String()).
			Msg("[RelayEngine] attempt already held by the sequencer")
		return expected, nil
	case starknet.IsRejected(err):
		e.reject(ethHash, retry, err)
		return starknet.Zero, types.NewRelayRejectedError(err)
	default:
		return starknet.Zero, fmt.Errorf("failed to submit %s at retry %d: %w", ethHash.Hex(), retry, err)
	}
}

func (e *Engine) checkHash(ethHash common.Hash, retry uint8, expected, returned starknet.Felt) {
	if !expected.Equal(returned) {
		log.Warn().Str("ethHash", ethHash.Hex()).Uint8("retry", retry).
			Str("expected", expected.String()).Str("returned", returned.String()).
			Msg("[RelayEngine] execution layer returned an unexpected transaction hash")
	}
}

func (e *Engine) reject(ethHash common.Hash, retries uint8, err error) {
	log.Warn().Err(err).Str("ethHash", ethHash.Hex()).Uint8("retries", retries).
		Msg("[RelayEngine] execution layer rejected transaction")
	e.publish(&events.EventEnvelope{
		EventType: events.EVENT_RELAY_REJECTED,
		EthHash:   ethHash,
		Retries:   retries,
		Reason:    err.Error(),
	})
}

func (e *Engine) abandon(ethHash common.Hash, retries uint8) {
	log.Warn().Str("ethHash", ethHash.Hex()).Uint8("retries", retries).
		Msg("[RelayEngine] [Resubmit] max retries reached, transaction abandoned")
	e.publish(&events.EventEnvelope{
		EventType: events.EVENT_RELAY_ABANDONED,
		EthHash:   ethHash,
		Retries:   retries,
		Reason:    types.ErrMaxRetriesExceeded.Error(),
	})
}

func (e *Engine) publish(event *events.EventEnvelope) {
	if e.bus != nil {
		e.bus.BroadcastEvent(event)
	}
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
