// Package devnet provides an in-memory Starknet sequencer running the Kakarot
// account layout, together with funded Ethereum accounts to drive it.
package devnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/scalarorg/kakarot-relayer/pkg/starknet"
	"github.com/scalarorg/kakarot-relayer/pkg/translation"
)

var (
	DefaultChainID          = starknet.FeltFromShortString("KKRT")
	DefaultKakarotAddress   = starknet.MustFeltFromHex("0x29873c310fbefde666dc32a1554fea6bb45eecc84f680f8a2b0a8fbb8cb89af")
	DefaultAccountClassHash = starknet.MustFeltFromHex("0x1276d0b017701646f8646b69de6c3b3584edce71879678a679f28c07a9971cf")
)

type entry struct {
	tx    *starknet.InvokeTransaction
	block *uint64
}

// Devnet accepts invoke transactions, hashing them itself, and includes them
// in a block on MineBlock.
type Devnet struct {
	mu               sync.Mutex
	chainID          starknet.Felt
	kakarotAddress   starknet.Felt
	accountClassHash starknet.Felt
	accepted         map[starknet.Felt]*entry
	order            []starknet.Felt
	nextBlock        uint64
	reject           func(tx *starknet.InvokeTransaction) error
}

type Builder struct {
	chainID          starknet.Felt
	kakarotAddress   starknet.Felt
	accountClassHash starknet.Felt
	reject           func(tx *starknet.InvokeTransaction) error
}

func NewBuilder() *Builder {
	return &Builder{
		chainID:          DefaultChainID,
		kakarotAddress:   DefaultKakarotAddress,
		accountClassHash: DefaultAccountClassHash,
	}
}

func (b *Builder) WithChainID(chainID starknet.Felt) *Builder {
	b.chainID = chainID
	return b
}

func (b *Builder) WithKakarot(address, accountClassHash starknet.Felt) *Builder {
	b.kakarotAddress = address
	b.accountClassHash = accountClassHash
	return b
}

// WithRejection makes the sequencer refuse every transaction for which reject returns an error.
func (b *Builder) WithRejection(reject func(tx *starknet.InvokeTransaction) error) *Builder {
	b.reject = reject
	return b
}

func (b *Builder) Build() *Devnet {
	return &Devnet{
		chainID:          b.chainID,
		kakarotAddress:   b.kakarotAddress,
		accountClassHash: b.accountClassHash,
		accepted:         make(map[starknet.Felt]*entry),
		nextBlock:        1,
		reject:           b.reject,
	}
}

func New() *Devnet {
	return NewBuilder().Build()
}

func (d *Devnet) TranslationConfig() translation.Config {
	return translation.Config{
		KakarotAddress:   d.kakarotAddress,
		AccountClassHash: d.accountClassHash,
		ChainID:          d.chainID,
	}
}

func (d *Devnet) Translator() (*translation.Translator, error) {
	return translation.NewTranslator(d.TranslationConfig())
}

// Eoa returns a new funded account signing for this network.
func (d *Devnet) Eoa() (*Eoa, error) {
	return NewEoa(translation.EthereumChainID(d.chainID))
}

func (d *Devnet) SetRejection(reject func(tx *starknet.InvokeTransaction) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reject = reject
}

func (d *Devnet) ChainID(context.Context) (starknet.Felt, error) {
	return d.chainID, nil
}

func (d *Devnet) AddInvokeTransaction(_ context.Context, tx *starknet.InvokeTransaction) (starknet.Felt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reject != nil {
		if err := d.reject(tx); err != nil {
			return starknet.Zero, &starknet.RejectedError{Code: starknet.ErrCodeValidationFailure, Message: err.Error(), Err: err}
		}
	}
	hash := tx.Hash(d.chainID)
	if _, ok := d.accepted[hash]; ok {
		return starknet.Zero, fmt.Errorf("%w: %s", starknet.ErrDuplicateTransaction, hash)
	}
	d.accepted[hash] = &entry{tx: tx}
	d.order = append(d.order, hash)
	return hash, nil
}

func (d *Devnet) TransactionReceipt(_ context.Context, hash starknet.Felt) (*starknet.Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.accepted[hash]
	if !ok {
		return nil, starknet.ErrTransactionNotFound
	}
	receipt := &starknet.Receipt{
		TransactionHash: hash,
		FinalityStatus:  starknet.AcceptedOnL2,
		ExecutionStatus: starknet.Succeeded,
	}
	if e.block != nil {
		block := *e.block
		receipt.BlockNumber = &block
	}
	return receipt, nil
}

// MineBlock includes every accepted transaction not yet in a block and returns the block number.
func (d *Devnet) MineBlock() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	number := d.nextBlock
	d.nextBlock++
	for _, hash := range d.order {
		e := d.accepted[hash]
		if e.block == nil {
			block := number
			e.block = &block
		}
	}
	return number
}

// MineTransaction includes a single accepted transaction in a new block.
func (d *Devnet) MineTransaction(hash starknet.Felt) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.accepted[hash]
	if !ok {
		return 0, starknet.ErrTransactionNotFound
	}
	number := d.nextBlock
	d.nextBlock++
	e.block = &number
	return number, nil
}

// Transactions returns the accepted transactions in submission order.
func (d *Devnet) Transactions() []*starknet.InvokeTransaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	txs := make([]*starknet.InvokeTransaction, 0, len(d.order))
	for _, hash := range d.order {
		txs = append(txs, d.accepted[hash].tx)
	}
	return txs
}

// Server exposes the sequencer over Starknet JSON-RPC.
func (d *Devnet) Server() (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("starknet", &service{devnet: d}); err != nil {
		return nil, err
	}
	return server, nil
}
