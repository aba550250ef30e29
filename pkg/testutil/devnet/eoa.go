package devnet

import (
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	defaultGas       = 21_000
	defaultGasFeeCap = 875_000_000
)

// Eoa is an externally owned account signing EIP-1559 transactions.
type Eoa struct {
	mu      sync.Mutex
	key     *ecdsa.PrivateKey
	signer  ethTypes.Signer
	chainID *big.Int
	nonce   uint64
}

func NewEoa(chainID *big.Int) (*Eoa, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewEoaFromKey(key, chainID), nil
}

func NewEoaFromKey(key *ecdsa.PrivateKey, chainID *big.Int) *Eoa {
	return &Eoa{
		key:     key,
		signer:  ethTypes.LatestSignerForChainID(chainID),
		chainID: chainID,
	}
}

func (e *Eoa) Address() common.Address {
	return crypto.PubkeyToAddress(e.key.PublicKey)
}

// Transfer signs a value transfer at the next nonce and returns the raw envelope.
func (e *Eoa) Transfer(to common.Address, value *big.Int) (*ethTypes.Transaction, []byte, error) {
	return e.Sign(&ethTypes.DynamicFeeTx{
		To:    &to,
		Value: value,
		Gas:   defaultGas,
	})
}

// Sign fills in chain id, nonce and fee caps when unset, then signs.
func (e *Eoa) Sign(txData *ethTypes.DynamicFeeTx) (*ethTypes.Transaction, []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if txData.ChainID == nil {
		txData.ChainID = e.chainID
	}
	txData.Nonce = e.nonce
	if txData.GasFeeCap == nil {
		txData.GasFeeCap = big.NewInt(defaultGasFeeCap)
	}
	if txData.GasTipCap == nil {
		txData.GasTipCap = big.NewInt(0)
	}
	if txData.Value == nil {
		txData.Value = new(big.Int)
	}
	if txData.Gas == 0 {
		txData.Gas = defaultGas
	}
	tx, err := ethTypes.SignNewTx(e.key, e.signer, txData)
	if err != nil {
		return nil, nil, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	e.nonce++
	return tx, raw, nil
}
