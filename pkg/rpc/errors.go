package rpc

import (
	"errors"

	"github.com/scalarorg/kakarot-relayer/pkg/types"
)

// JSON-RPC error codes, following EIP-1474 where it defines one.
const (
	CodeServerError         = -32000
	CodeResourceNotFound    = -32001
	CodeTransactionRejected = -32003
	CodeLimitExceeded       = -32005
	CodeInvalidParams       = -32602
	CodeInternalError       = -32603
)

type rpcError struct {
	code int
	err  error
}

func (e *rpcError) Error() string  { return e.err.Error() }
func (e *rpcError) ErrorCode() int { return e.code }
func (e *rpcError) Unwrap() error  { return e.err }

func toRPCError(err error) error {
	code := CodeInternalError
	switch {
	case errors.Is(err, types.ErrMalformedTransaction), errors.Is(err, types.ErrInvalidSignature):
		code = CodeInvalidParams
	case errors.Is(err, types.ErrAlreadyKnown):
		code = CodeServerError
	case errors.Is(err, types.ErrNotFound):
		code = CodeResourceNotFound
	case errors.Is(err, types.ErrMaxRetriesExceeded):
		code = CodeLimitExceeded
	case types.IsRelayRejected(err):
		code = CodeTransactionRejected
	}
	return &rpcError{code: code, err: err}
}
