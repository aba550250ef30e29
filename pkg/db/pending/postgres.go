package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/scalarorg/kakarot-relayer/pkg/db"
	"github.com/scalarorg/kakarot-relayer/pkg/db/models"
	"github.com/scalarorg/kakarot-relayer/pkg/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresStore struct {
	db *gorm.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	client, err := db.NewPostgresClient(dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: client}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, record *Record) error {
	model, err := toModel(record)
	if err != nil {
		return err
	}
	now := time.Now()
	model.ID = 0
	model.Retries = 0
	model.BlockNumber = nil
	model.CreatedAt = now
	model.UpdatedAt = now

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "eth_hash"}}, DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return fmt.Errorf("failed to insert pending transaction %s: %w", model.EthHash, result.Error)
	}
	if result.RowsAffected == 0 {
		return types.ErrDuplicate
	}

	record.Sequence = model.ID
	record.Retries = 0
	record.BlockNumber = nil
	record.CreatedAt = model.CreatedAt
	record.UpdatedAt = model.UpdatedAt
	log.Debug().Str("ethHash", model.EthHash).Uint64("sequence", model.ID).Msg("[PostgresStore] [Insert] pending transaction stored")
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, hash common.Hash) (*Record, error) {
	var model models.PendingTransaction
	err := s.db.WithContext(ctx).Where("eth_hash = ?", hash.Hex()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending transaction %s: %w", hash.Hex(), err)
	}
	return fromModel(&model)
}

func (s *PostgresStore) GetOldest(ctx context.Context) (*Record, error) {
	records, err := s.ListPending(ctx, 1)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

func (s *PostgresStore) IncrementRetries(ctx context.Context, hash common.Hash, limit uint8) (uint8, error) {
	var updated []models.PendingTransaction
	result := s.db.WithContext(ctx).
		Model(&updated).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "retries"}}}).
		Where("eth_hash = ? AND block_number IS NULL AND retries < ?", hash.Hex(), limit).
		Updates(map[string]any{
			"retries":    gorm.Expr("retries + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to increment retries of %s: %w", hash.Hex(), result.Error)
	}
	if result.RowsAffected == 1 && len(updated) == 1 {
		return updated[0].Retries, nil
	}

	record, err := s.Get(ctx, hash)
	if err != nil {
		return 0, err
	}
	if record == nil || !record.IsPending() {
		return 0, types.ErrNotFound
	}
	return record.Retries, types.ErrMaxRetriesExceeded
}

func (s *PostgresStore) MarkMined(ctx context.Context, hash common.Hash, blockNumber uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model models.PendingTransaction
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("eth_hash = ?", hash.Hex()).
			Take(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock pending transaction %s: %w", hash.Hex(), err)
		}
		if model.BlockNumber != nil {
			if *model.BlockNumber == blockNumber {
				return nil
			}
			return types.ErrConflict
		}
		return tx.Model(&model).Updates(map[string]any{
			"block_number": blockNumber,
			"updated_at":   time.Now(),
		}).Error
	})
}

func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]*Record, error) {
	query := s.db.WithContext(ctx).Where("block_number IS NULL").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.PendingTransaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	records := make([]*Record, 0, len(rows))
	for i := range rows {
		record, err := fromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *PostgresStore) Evict(ctx context.Context, confirmedBefore time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("block_number IS NOT NULL AND updated_at < ?", confirmedBefore).
		Delete(&models.PendingTransaction{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to evict confirmed transactions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *PostgresStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
