// Package codec decodes raw signed Ethereum transactions into the canonical
// form relayed to Kakarot.
package codec

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/scalarorg/kakarot-relayer/pkg/types"
)

// Transaction is a decoded transaction whose sender has been recovered.
// The wrapped go-ethereum transaction is never mutated.
type Transaction struct {
	*ethTypes.Transaction
	From common.Address
}

type Decoder struct {
	chainID *big.Int
	signer  ethTypes.Signer
}

func NewDecoder(chainID *big.Int) *Decoder {
	return &Decoder{
		chainID: new(big.Int).Set(chainID),
		signer:  ethTypes.LatestSignerForChainID(chainID),
	}
}

func (d *Decoder) ChainID() *big.Int {
	return new(big.Int).Set(d.chainID)
}

// Decode parses a typed or legacy transaction envelope and recovers its sender.
func (d *Decoder) Decode(raw []byte) (*Transaction, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", types.ErrMalformedTransaction)
	}
	tx := new(ethTypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedTransaction, err)
	}
	if err := checkSupported(tx); err != nil {
		return nil, err
	}
	from, err := ethTypes.Sender(d.signer, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSignature, err)
	}
	return &Transaction{Transaction: tx, From: from}, nil
}

// FromEnvelope rebuilds a transaction that was already validated by Decode,
// trusting the stored sender instead of recovering it again.
func FromEnvelope(raw []byte, from common.Address) (*Transaction, error) {
	tx := new(ethTypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedTransaction, err)
	}
	return &Transaction{Transaction: tx, From: from}, nil
}

// Hash is the canonical hash a signer computes for the envelope.
func Hash(tx *Transaction) common.Hash {
	return tx.Hash()
}

func (tx *Transaction) Envelope() ([]byte, error) {
	return tx.MarshalBinary()
}

// UnsignedPayload returns the bytes whose keccak256 is the signing hash of tx.
func UnsignedPayload(tx *Transaction) ([]byte, error) {
	switch tx.Type() {
	case ethTypes.LegacyTxType:
		fields := []interface{}{
			tx.Nonce(), tx.GasPrice(), tx.Gas(), tx.To(), tx.Value(), tx.Data(),
		}
		if tx.Protected() {
			fields = append(fields, tx.ChainId(), uint(0), uint(0))
		}
		return rlp.EncodeToBytes(fields)
	case ethTypes.AccessListTxType:
		return typedPayload(tx.Type(), []interface{}{
			tx.ChainId(), tx.Nonce(), tx.GasPrice(), tx.Gas(), tx.To(), tx.Value(), tx.Data(), tx.AccessList(),
		})
	case ethTypes.DynamicFeeTxType:
		return typedPayload(tx.Type(), []interface{}{
			tx.ChainId(), tx.Nonce(), tx.GasTipCap(), tx.GasFeeCap(), tx.Gas(), tx.To(), tx.Value(), tx.Data(), tx.AccessList(),
		})
	}
	return nil, fmt.Errorf("%w: unsupported transaction type %d", types.ErrMalformedTransaction, tx.Type())
}

func typedPayload(txType uint8, fields []interface{}) ([]byte, error) {
	enc, err := rlp.EncodeToBytes(fields)
	if err != nil {
		return nil, err
	}
	return append([]byte{txType}, enc...), nil
}

var errUnsupportedType = errors.New("unsupported transaction type")

func checkSupported(tx *ethTypes.Transaction) error {
	switch tx.Type() {
	case ethTypes.LegacyTxType, ethTypes.AccessListTxType, ethTypes.DynamicFeeTxType:
		return nil
	}
	return fmt.Errorf("%w: %w %d", types.ErrMalformedTransaction, errUnsupportedType, tx.Type())
}
