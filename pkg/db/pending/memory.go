package pending

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/scalarorg/kakarot-relayer/pkg/types"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records map[common.Hash]*Record
	seq     uint64
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[common.Hash]*Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) Insert(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.EthHash]; ok {
		return types.ErrDuplicate
	}
	s.seq++
	now := s.now()
	record.Sequence = s.seq
	record.Retries = 0
	record.BlockNumber = nil
	record.CreatedAt = now
	record.UpdatedAt = now
	s.records[record.EthHash] = record.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, hash common.Hash) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[hash]
	if !ok {
		return nil, nil
	}
	return record.clone(), nil
}

func (s *MemoryStore) GetOldest(ctx context.Context) (*Record, error) {
	records, err := s.ListPending(ctx, 1)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

func (s *MemoryStore) IncrementRetries(_ context.Context, hash common.Hash, limit uint8) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[hash]
	if !ok || !record.IsPending() {
		return 0, types.ErrNotFound
	}
	if record.Retries >= limit {
		return record.Retries, types.ErrMaxRetriesExceeded
	}
	record.Retries++
	record.UpdatedAt = s.now()
	return record.Retries, nil
}

func (s *MemoryStore) MarkMined(_ context.Context, hash common.Hash, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[hash]
	if !ok {
		return types.ErrNotFound
	}
	if record.BlockNumber != nil {
		if *record.BlockNumber == blockNumber {
			return nil
		}
		return types.ErrConflict
	}
	record.BlockNumber = &blockNumber
	record.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []*Record
	for _, record := range s.records {
		if record.IsPending() {
			records = append(records, record.clone())
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Sequence < records[j].Sequence
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *MemoryStore) Evict(_ context.Context, confirmedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted int64
	for hash, record := range s.records {
		if !record.IsPending() && record.UpdatedAt.Before(confirmedBefore) {
			delete(s.records, hash)
			evicted++
		}
	}
	return evicted, nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}
