package translation

import (
	"math/big"

	"github.com/scalarorg/kakarot-relayer/pkg/starknet"
)

// ethereum chain ids must fit in 53 bits to be safely handled by javascript clients
var chainIDModulus = new(big.Int).Lsh(big.NewInt(1), 53)

// EthereumChainID maps a Starknet chain id onto the chain id exposed to
// Ethereum clients and expected in transaction signatures.
func EthereumChainID(chainID starknet.Felt) *big.Int {
	return new(big.Int).Mod(chainID.BigInt(), chainIDModulus)
}

func (t *Translator) EthereumChainID() *big.Int {
	return EthereumChainID(t.chainID)
}
