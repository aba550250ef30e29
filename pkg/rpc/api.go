package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
	"github.com/scalarorg/kakarot-relayer/pkg/relay"
	"github.com/scalarorg/kakarot-relayer/pkg/starknet"
)

// EthAPI serves the eth namespace methods needed to relay transactions.
type EthAPI struct {
	engine *relay.Engine
}

func NewEthAPI(engine *relay.Engine) *EthAPI {
	return &EthAPI{engine: engine}
}

// SendRawTransaction relays a signed transaction and returns its Ethereum hash.
func (api *EthAPI) SendRawTransaction(ctx context.Context, input hexutil.Bytes) (common.Hash, error) {
	submission, err := api.engine.Submit(ctx, input)
	if err != nil {
		log.Debug().Err(err).Msg("[EthAPI] [SendRawTransaction] submission failed")
		return common.Hash{}, toRPCError(err)
	}
	return submission.EthereumHash, nil
}

func (api *EthAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(api.engine.EthChainID())
}

// KakarotAPI serves the kakarot namespace.
type KakarotAPI struct {
	resolver *relay.Resolver
}

func NewKakarotAPI(resolver *relay.Resolver) *KakarotAPI {
	return &KakarotAPI{resolver: resolver}
}

// GetStarknetTransactionHash returns the Starknet hash the transaction has,
// or would have, at the given retry index.
func (api *KakarotAPI) GetStarknetTransactionHash(ctx context.Context, hash common.Hash, retries uint8) (starknet.Felt, error) {
	starknetHash, err := api.resolver.Resolve(ctx, hash, retries)
	if err != nil {
		return starknet.Zero, toRPCError(err)
	}
	return starknetHash, nil
}

func APIs(engine *relay.Engine, resolver *relay.Resolver) []gethrpc.API {
	return []gethrpc.API{
		{Namespace: "eth", Service: NewEthAPI(engine)},
		{Namespace: "kakarot", Service: NewKakarotAPI(resolver)},
	}
}
