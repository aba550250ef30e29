package relay

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/scalarorg/kakarot-relayer/pkg/db/pending"
	"github.com/scalarorg/kakarot-relayer/pkg/starknet"
	"github.com/scalarorg/kakarot-relayer/pkg/translation"
	"github.com/scalarorg/kakarot-relayer/pkg/types"
)

// Resolver recomputes the Starknet hash of a relayed transaction for any retry
// index, whether or not that retry was ever submitted.
type Resolver struct {
	store      pending.Store
	translator *translation.Translator
}

func NewResolver(store pending.Store, translator *translation.Translator) *Resolver {
	return &Resolver{store: store, translator: translator}
}

func (r *Resolver) Resolve(ctx context.Context, ethHash common.Hash, retry uint8) (starknet.Felt, error) {
	record, err := r.store.Get(ctx, ethHash)
	if err != nil {
		return starknet.Zero, fmt.Errorf("failed to look up %s: %w", ethHash.Hex(), err)
	}
	if record == nil {
		return starknet.Zero, types.ErrNotFound
	}
	_, hash, err := r.translator.Derive(record.Tx, retry)
	return hash, err
}
