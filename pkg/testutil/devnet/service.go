package devnet

import (
	"context"
	"errors"

	"github.com/scalarorg/kakarot-relayer/pkg/starknet"
)

const codeInternal = -32603

type rpcError struct {
	code    int
	message string
}

func (e *rpcError) Error() string  { return e.message }
func (e *rpcError) ErrorCode() int { return e.code }

type service struct {
	devnet *Devnet
}

func (s *service) ChainId(ctx context.Context) (starknet.Felt, error) {
	return s.devnet.ChainID(ctx)
}

func (s *service) AddInvokeTransaction(ctx context.Context, tx *starknet.InvokeTransaction) (*starknet.AddInvokeTransactionResult, error) {
	hash, err := s.devnet.AddInvokeTransaction(ctx, tx)
	var rejected *starknet.RejectedError
	switch {
	case errors.Is(err, starknet.ErrDuplicateTransaction):
		return nil, &rpcError{code: starknet.ErrCodeDuplicateTx, message: err.Error()}
	case errors.As(err, &rejected):
		return nil, &rpcError{code: rejected.Code, message: rejected.Message}
	case err != nil:
		return nil, &rpcError{code: codeInternal, message: err.Error()}
	}
	return &starknet.AddInvokeTransactionResult{TransactionHash: hash}, nil
}

func (s *service) GetTransactionReceipt(ctx context.Context, hash starknet.Felt) (*starknet.Receipt, error) {
	receipt, err := s.devnet.TransactionReceipt(ctx, hash)
	if errors.Is(err, starknet.ErrTransactionNotFound) {
		return nil, &rpcError{code: starknet.ErrCodeTxnHashNotFound, message: "Transaction hash not found"}
	}
	return receipt, err
}
