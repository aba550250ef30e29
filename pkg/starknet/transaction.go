package starknet

import "encoding/json"

const TxTypeInvoke = "INVOKE"

var (
	invokePrefix  = FeltFromShortString("invoke")
	InvokeVersion = One
)

// InvokeTransaction is a broadcasted invoke v1 transaction.
type InvokeTransaction struct {
	SenderAddress Felt   `json:"sender_address"`
	Calldata      []Felt `json:"calldata"`
	MaxFee        Felt   `json:"max_fee"`
	Version       Felt   `json:"version"`
	Signature     []Felt `json:"signature"`
	Nonce         Felt   `json:"nonce"`
}

// Hash computes the invoke v1 transaction hash for the given chain.
func (tx *InvokeTransaction) Hash(chainID Felt) Felt {
	return PedersenArray(
		invokePrefix,
		tx.Version,
		tx.SenderAddress,
		Zero,
		PedersenArray(tx.Calldata...),
		tx.MaxFee,
		chainID,
		tx.Nonce,
	)
}

func (tx *InvokeTransaction) MarshalJSON() ([]byte, error) {
	type invoke InvokeTransaction
	return json.Marshal(struct {
		Type string `json:"type"`
		*invoke
	}{
		Type:   TxTypeInvoke,
		invoke: (*invoke)(tx),
	})
}

type AddInvokeTransactionResult struct {
	TransactionHash Felt `json:"transaction_hash"`
}

type FinalityStatus string

const (
	AcceptedOnL2 FinalityStatus = "ACCEPTED_ON_L2"
	AcceptedOnL1 FinalityStatus = "ACCEPTED_ON_L1"
)

type ExecutionStatus string

const (
	Succeeded ExecutionStatus = "SUCCEEDED"
	Reverted  ExecutionStatus = "REVERTED"
)

// Receipt carries the fields of a transaction receipt the relayer needs.
// BlockNumber is nil for receipts of pre-confirmed transactions.
type Receipt struct {
	TransactionHash Felt            `json:"transaction_hash"`
	BlockNumber     *uint64         `json:"block_number,omitempty"`
	FinalityStatus  FinalityStatus  `json:"finality_status"`
	ExecutionStatus ExecutionStatus `json:"execution_status"`
	RevertReason    string          `json:"revert_reason,omitempty"`
}
