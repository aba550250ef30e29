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
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	pendingCollection  = "pending_transactions"
	countersCollection = "counters"
)

type MongoStore struct {
	client       *mongo.Client
	transactions *mongo.Collection
	counters     *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(ctx context.Context, uri string, database string) (*MongoStore, error) {
	client, mongoDatabase, err := db.NewMongoClient(ctx, uri, database)
	if err != nil {
		return nil, err
	}
	store := &MongoStore{
		client:       client,
		transactions: mongoDatabase.Collection(pendingCollection),
		counters:     mongoDatabase.Collection(countersCollection),
	}
	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "block_number", Value: 1}, {Key: "seq", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create pending transaction indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) nextSequence(ctx context.Context) (uint64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": pendingCollection},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate insertion sequence: %w", err)
	}
	return uint64(counter.Seq), nil
}

func (s *MongoStore) Insert(ctx context.Context, record *Record) error {
	model, err := toModel(record)
	if err != nil {
		return err
	}
	seq, err := s.nextSequence(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	model.ID = seq
	model.Retries = 0
	model.BlockNumber = nil
	model.CreatedAt = now
	model.UpdatedAt = now

	if _, err := s.transactions.InsertOne(ctx, model); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.ErrDuplicate
		}
		return fmt.Errorf("failed to insert pending transaction %s: %w", model.EthHash, err)
	}

	record.Sequence = seq
	record.Retries = 0
	record.BlockNumber = nil
	record.CreatedAt = now
	record.UpdatedAt = now
	log.Debug().Str("ethHash", model.EthHash).Uint64("sequence", seq).Msg("[MongoStore] [Insert] pending transaction stored")
	return nil
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*Record, error) {
	var model models.PendingTransaction
	err := s.transactions.FindOne(ctx, filter, opts...).Decode(&model)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending transaction: %w", err)
	}
	return fromModel(&model)
}

func (s *MongoStore) Get(ctx context.Context, hash common.Hash) (*Record, error) {
	return s.findOne(ctx, bson.M{"_id": hash.Hex()})
}

func (s *MongoStore) GetOldest(ctx context.Context) (*Record, error) {
	return s.findOne(ctx, bson.M{"block_number": nil}, options.FindOne().SetSort(bson.D{{Key: "seq", Value: 1}}))
}

func (s *MongoStore) IncrementRetries(ctx context.Context, hash common.Hash, limit uint8) (uint8, error) {
	var model models.PendingTransaction
	err := s.transactions.FindOneAndUpdate(ctx,
		bson.M{"_id": hash.Hex(), "block_number": nil, "retries": bson.M{"$lt": int32(limit)}},
		bson.M{
			"$inc": bson.M{"retries": int32(1)},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&model)
	if err == nil {
		return model.Retries, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("failed to increment retries of %s: %w", hash.Hex(), err)
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

func (s *MongoStore) MarkMined(ctx context.Context, hash common.Hash, blockNumber uint64) error {
	result, err := s.transactions.UpdateOne(ctx,
		bson.M{"_id": hash.Hex(), "block_number": nil},
		bson.M{"$set": bson.M{"block_number": int64(blockNumber), "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s as mined: %w", hash.Hex(), err)
	}
	if result.MatchedCount == 1 {
		return nil
	}

	record, err := s.Get(ctx, hash)
	if err != nil {
		return err
	}
	if record == nil {
		return types.ErrNotFound
	}
	if record.BlockNumber != nil && *record.BlockNumber == blockNumber {
		return nil
	}
	return types.ErrConflict
}

func (s *MongoStore) ListPending(ctx context.Context, limit int) ([]*Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.transactions.Find(ctx, bson.M{"block_number": nil}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	var rows []models.PendingTransaction
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode pending transactions: %w", err)
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

func (s *MongoStore) Evict(ctx context.Context, confirmedBefore time.Time) (int64, error) {
	result, err := s.transactions.DeleteMany(ctx, bson.M{
		"block_number": bson.M{"$ne": nil},
		"updated_at":   bson.M{"$lt": confirmedBefore.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to evict confirmed transactions: %w", err)
	}
	return result.DeletedCount, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
