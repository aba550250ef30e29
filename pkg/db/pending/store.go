// Package pending persists relayed transactions until they are confirmed.
//
// Records are keyed by the Ethereum transaction hash. A record is created with
// zero retries and no block number, its retry counter only ever grows by one,
// and its block number is written at most once.
package pending

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/scalarorg/kakarot-relayer/config"
	"github.com/scalarorg/kakarot-relayer/pkg/codec"
	"github.com/scalarorg/kakarot-relayer/pkg/db/models"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Record struct {
	EthHash     common.Hash
	Tx          *codec.Transaction
	Retries     uint8
	BlockNumber *uint64
	Sequence    uint64
	CreatedAt   time.Time
	// last submission attempt
	UpdatedAt time.Time
}

func NewRecord(tx *codec.Transaction) *Record {
	return &Record{
		EthHash: codec.Hash(tx),
		Tx:      tx,
	}
}

func (r *Record) IsPending() bool {
	return r.BlockNumber == nil
}

func (r *Record) clone() *Record {
	c := *r
	if r.BlockNumber != nil {
		block := *r.BlockNumber
		c.BlockNumber = &block
	}
	return &c
}

type Store interface {
	// Insert persists a new record with zero retries, failing with
	// types.ErrDuplicate when the hash is already known.
	Insert(ctx context.Context, record *Record) error
	// Get returns nil without error when the hash is unknown.
	Get(ctx context.Context, hash common.Hash) (*Record, error)
	// GetOldest returns the earliest inserted record that is still pending.
	GetOldest(ctx context.Context) (*Record, error)
	// IncrementRetries adds one to the retry counter of a pending record and
	// returns the new value. It fails with types.ErrMaxRetriesExceeded, leaving
	// the counter untouched, when the counter already reached limit.
	IncrementRetries(ctx context.Context, hash common.Hash, limit uint8) (uint8, error)
	MarkMined(ctx context.Context, hash common.Hash, blockNumber uint64) error
	// ListPending returns up to limit pending records in insertion order.
	ListPending(ctx context.Context, limit int) ([]*Record, error)
	// Evict removes confirmed records last updated before the given time.
	Evict(ctx context.Context, confirmedBefore time.Time) (int64, error)
	Close(ctx context.Context) error
}

func NewStore(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		return NewPostgresStore(cfg.URL)
	case DriverMongo:
		return NewMongoStore(ctx, cfg.URL, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func toModel(record *Record) (*models.PendingTransaction, error) {
	raw, err := record.Tx.Envelope()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction %s: %w", record.EthHash.Hex(), err)
	}
	return &models.PendingTransaction{
		ID:             record.Sequence,
		EthHash:        record.EthHash.Hex(),
		RawTransaction: raw,
		Sender:         record.Tx.From.Hex(),
		Retries:        record.Retries,
		BlockNumber:    record.BlockNumber,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}, nil
}

func fromModel(model *models.PendingTransaction) (*Record, error) {
	tx, err := codec.FromEnvelope(model.RawTransaction, common.HexToAddress(model.Sender))
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored transaction %s: %w", model.EthHash, err)
	}
	return &Record{
		EthHash:     common.HexToHash(model.EthHash),
		Tx:          tx,
		Retries:     model.Retries,
		BlockNumber: model.BlockNumber,
		Sequence:    model.ID,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}, nil
}
