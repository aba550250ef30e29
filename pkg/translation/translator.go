// Package translation maps Ethereum transactions onto Kakarot invoke
// transactions.
//
// The Starknet hash of a translation is a pure function of the transaction and
// the retry index. A retry appends that many zero words after the declared
// calldata: the account contract reads only the declared words, while the
// calldata hash (which commits to the array length) changes with every retry.
// Retry 0 appends nothing and is exactly the original submission.
package translation

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/scalarorg/kakarot-relayer/pkg/codec"
	"github.com/scalarorg/kakarot-relayer/pkg/starknet"
)

const (
	// bytes packed per calldata word
	chunkSize = 31

	defaultAddressCacheSize = 4096

	EthSendTransactionEntrypoint = "eth_send_transaction"
)

var u128Mask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

type Config struct {
	KakarotAddress   starknet.Felt
	AccountClassHash starknet.Felt
	ChainID          starknet.Felt
	AddressCacheSize int
}

type Translator struct {
	kakarot          starknet.Felt
	accountClassHash starknet.Felt
	chainID          starknet.Felt
	selector         starknet.Felt
	addresses        *lru.Cache[common.Address, starknet.Felt]
}

func NewTranslator(cfg Config) (*Translator, error) {
	size := cfg.AddressCacheSize
	if size <= 0 {
		size = defaultAddressCacheSize
	}
	cache, err := lru.New[common.Address, starknet.Felt](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create address cache: %w", err)
	}
	return &Translator{
		kakarot:          cfg.KakarotAddress,
		accountClassHash: cfg.AccountClassHash,
		chainID:          cfg.ChainID,
		selector:         starknet.Selector(EthSendTransactionEntrypoint),
		addresses:        cache,
	}, nil
}

func (t *Translator) ChainID() starknet.Felt {
	return t.chainID
}

// Derive builds the invoke transaction for the given retry index and its hash.
func (t *Translator) Derive(tx *codec.Transaction, retry uint8) (*starknet.InvokeTransaction, starknet.Felt, error) {
	payload, err := codec.UnsignedPayload(tx)
	if err != nil {
		return nil, starknet.Zero, err
	}
	invoke := &starknet.InvokeTransaction{
		SenderAddress: t.StarknetAddress(tx.From),
		Calldata:      t.calldata(payload, retry),
		MaxFee:        starknet.Zero,
		Version:       starknet.InvokeVersion,
		Signature:     signature(tx),
		Nonce:         starknet.FeltFromUint64(tx.Nonce()),
	}
	return invoke, invoke.Hash(t.chainID), nil
}

// StarknetAddress returns the address of the Kakarot account owned by evmAddress.
func (t *Translator) StarknetAddress(evmAddress common.Address) starknet.Felt {
	if addr, ok := t.addresses.Get(evmAddress); ok {
		return addr
	}
	salt := starknet.FeltFromAddress(evmAddress)
	addr := starknet.ContractAddress(t.kakarot, salt, t.accountClassHash, []starknet.Felt{t.kakarot, salt})
	t.addresses.Add(evmAddress, addr)
	return addr
}

// calldata lays out a single call to Kakarot:
// [1, kakarot, selector, 0, n+1, n+1, byte_len, chunk_1..chunk_n] followed by retry zero words.
func (t *Translator) calldata(payload []byte, retry uint8) []starknet.Felt {
	chunks := pack(payload)
	words := uint64(len(chunks) + 1)
	calldata := make([]starknet.Felt, 0, 7+len(chunks)+int(retry))
	calldata = append(calldata,
		starknet.One,
		t.kakarot,
		t.selector,
		starknet.Zero,
		starknet.FeltFromUint64(words),
		starknet.FeltFromUint64(words),
		starknet.FeltFromUint64(uint64(len(payload))),
	)
	calldata = append(calldata, chunks...)
	for i := uint8(0); i < retry; i++ {
		calldata = append(calldata, starknet.Zero)
	}
	return calldata
}

// pack splits b into big-endian words of chunkSize bytes, the last one may be shorter.
func pack(b []byte) []starknet.Felt {
	words := make([]starknet.Felt, 0, (len(b)+chunkSize-1)/chunkSize)
	for start := 0; start < len(b); start += chunkSize {
		end := start + chunkSize
		if end > len(b) {
			end = len(b)
		}
		words = append(words, starknet.FeltFromBytes(b[start:end]))
	}
	return words
}

// signature encodes r and s as 128-bit halves followed by v.
func signature(tx *codec.Transaction) []starknet.Felt {
	v, r, s := tx.RawSignatureValues()
	return []starknet.Felt{
		low128(r), high128(r),
		low128(s), high128(s),
		starknet.FeltFromBigInt(v),
	}
}

func low128(v *big.Int) starknet.Felt {
	return starknet.FeltFromBigInt(new(big.Int).And(v, u128Mask))
}

func high128(v *big.Int) starknet.Felt {
	return starknet.FeltFromBigInt(new(big.Int).Rsh(v, 128))
}
