package starknet

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
)

// Starknet JSON-RPC error codes.
const (
	ErrCodeTxnHashNotFound   = 29
	ErrCodeValidationFailure = 55
	ErrCodeDuplicateTx       = 59
)

var (
	ErrTransactionNotFound  = errors.New("starknet transaction not found")
	ErrDuplicateTransaction = errors.New("transaction already exists")
)

// RejectedError is a refusal reported by the sequencer. Transport failures are
// never RejectedErrors, the transaction may have been accepted.
type RejectedError struct {
	Code    int
	Message string
	Err     error
}

func (e *RejectedError) Error() string { return e.Message }
func (e *RejectedError) Unwrap() error { return e.Err }

func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// Client talks to a Starknet sequencer over JSON-RPC.
type Client struct {
	rpc *rpc.Client
	url string
}

func Dial(ctx context.Context, url string) (*Client, error) {
	log.Info().Str("url", url).Msg("[StarknetClient] [Dial] connecting to starknet sequencer")
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to starknet sequencer %s: %w", url, err)
	}
	return NewClient(client, url), nil
}

func NewClient(client *rpc.Client, url string) *Client {
	return &Client{rpc: client, url: url}
}

func (c *Client) ChainID(ctx context.Context) (Felt, error) {
	var chainID Felt
	if err := c.rpc.CallContext(ctx, &chainID, "starknet_chainId"); err != nil {
		return Zero, fmt.Errorf("failed to get chain id: %w", err)
	}
	return chainID, nil
}

// AddInvokeTransaction submits tx and returns the hash computed by the sequencer.
func (c *Client) AddInvokeTransaction(ctx context.Context, tx *InvokeTransaction) (Felt, error) {
	var result AddInvokeTransactionResult
	if err := c.rpc.CallContext(ctx, &result, "starknet_addInvokeTransaction", tx); err != nil {
		var rpcErr rpc.Error
		if !errors.As(err, &rpcErr) {
			return Zero, fmt.Errorf("failed to submit invoke transaction: %w", err)
		}
		if rpcErr.ErrorCode() == ErrCodeDuplicateTx {
			return Zero, fmt.Errorf("%w: %s", ErrDuplicateTransaction, rpcErr.Error())
		}
		return Zero, &RejectedError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	log.Debug().Str("txHash", result.TransactionHash.String()).
		Str("sender", tx.SenderAddress.String()).
		Msg("[StarknetClient] [AddInvokeTransaction] transaction accepted")
	return result.TransactionHash, nil
}

func (c *Client) TransactionReceipt(ctx context.Context, hash Felt) (*Receipt, error) {
	var receipt Receipt
	err := c.rpc.CallContext(ctx, &receipt, "starknet_getTransactionReceipt", hash)
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == ErrCodeTxnHashNotFound {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get receipt of %s: %w", hash, err)
	}
	return &receipt, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}
