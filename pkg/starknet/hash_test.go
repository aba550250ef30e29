package starknet_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/scalarorg/kakarot-relayer/pkg/starknet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPedersenKnownVector(t *testing.T) {
	a := starknet.MustFeltFromHex("0x3d937c035c878245caf64531a5756109c53068da139362728feb561405371cb")
	b := starknet.MustFeltFromHex("0x208a0a10250e382e1e4bbe2880906c2791bf6275695e02fbbc6aeff9cd8b31a")
	expected := starknet.MustFeltFromHex("0x30e480bed5fe53fa909cc0f8c4d99b8f9f2c016be4c41e13a4848797979c662")

	require.True(t, expected.Equal(starknet.Pedersen(a, b)))
}

func TestPedersenArrayIncludesLength(t *testing.T) {
	a := starknet.FeltFromUint64(1)
	b := starknet.FeltFromUint64(2)

	manual := starknet.Pedersen(starknet.Pedersen(starknet.Pedersen(starknet.Zero, a), b), starknet.FeltFromUint64(2))
	require.True(t, manual.Equal(starknet.PedersenArray(a, b)))

	padded := starknet.PedersenArray(a, b, starknet.Zero)
	require.False(t, padded.Equal(starknet.PedersenArray(a, b)))
}

func TestSelector(t *testing.T) {
	expected := starknet.MustFeltFromHex("0x83afd3f4caedc6eebf44246fe54e38c95e3179a5ec9ea81740eca5b482d12e")
	require.True(t, expected.Equal(starknet.Selector("transfer")))
}

func TestContractAddressIsBounded(t *testing.T) {
	deployer := starknet.MustFeltFromHex("0x7ad4ef2c1a0b3c0d3c7d4e0e2b4a9d4d0f1c2b3a4d5e6f708192a3b4c5d6e7f")
	classHash := starknet.MustFeltFromHex("0x1276d0b017701646f8646b69de6c3b3584edce71879678a679f28c07a9971cf")
	salt := starknet.FeltFromAddress(common.HexToAddress("0x2bb588d7bb6faAA93f656C3C78fFc1bEAfd1813D"))

	addr := starknet.ContractAddress(deployer, salt, classHash, []starknet.Felt{deployer, salt})
	bound := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 251), big.NewInt(256))
	assert.Negative(t, addr.BigInt().Cmp(bound))
	assert.True(t, addr.Equal(starknet.ContractAddress(deployer, salt, classHash, []starknet.Felt{deployer, salt})))

	other := starknet.ContractAddress(deployer, starknet.FeltFromUint64(1), classHash, []starknet.Felt{deployer, salt})
	assert.False(t, addr.Equal(other))
}

func TestFeltHex(t *testing.T) {
	f, err := starknet.FeltFromHex("0x00ff")
	require.NoError(t, err)
	require.Equal(t, "0xff", f.String())
	require.Equal(t, "0x0", starknet.Zero.String())
	require.Equal(t, "0x4b4b5254", starknet.FeltFromShortString("KKRT").String())

	_, err = starknet.FeltFromHex("0x")
	require.Error(t, err)
	_, err = starknet.FeltFromHex("0xzz")
	require.Error(t, err)
	// the field prime itself is out of range
	_, err = starknet.FeltFromHex("0x800000000000011000000000000000000000000000000000000000000000001")
	require.Error(t, err)
}

func TestInvokeTransactionJSON(t *testing.T) {
	tx := &starknet.InvokeTransaction{
		SenderAddress: starknet.FeltFromUint64(0x123),
		Calldata:      []starknet.Felt{starknet.One, starknet.FeltFromUint64(2)},
		MaxFee:        starknet.Zero,
		Version:       starknet.InvokeVersion,
		Signature:     []starknet.Felt{starknet.FeltFromUint64(5)},
		Nonce:         starknet.FeltFromUint64(7),
	}
	encoded, err := json.Marshal(tx)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"type": "INVOKE",
		"sender_address": "0x123",
		"calldata": ["0x1", "0x2"],
		"max_fee": "0x0",
		"version": "0x1",
		"signature": ["0x5"],
		"nonce": "0x7"
	}`, string(encoded))

	var decoded starknet.InvokeTransaction
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	chainID := starknet.FeltFromShortString("KKRT")
	require.True(t, tx.Hash(chainID).Equal(decoded.Hash(chainID)))
}

func TestInvokeHashDependsOnEveryField(t *testing.T) {
	chainID := starknet.FeltFromShortString("KKRT")
	base := func() *starknet.InvokeTransaction {
		return &starknet.InvokeTransaction{
			SenderAddress: starknet.FeltFromUint64(1),
			Calldata:      []starknet.Felt{starknet.FeltFromUint64(2)},
			MaxFee:        starknet.Zero,
			Version:       starknet.InvokeVersion,
			Nonce:         starknet.Zero,
		}
	}
	reference := base().Hash(chainID)

	mutations := map[string]func(tx *starknet.InvokeTransaction){
		"sender":   func(tx *starknet.InvokeTransaction) { tx.SenderAddress = starknet.FeltFromUint64(9) },
		"calldata": func(tx *starknet.InvokeTransaction) { tx.Calldata = append(tx.Calldata, starknet.Zero) },
		"max fee":  func(tx *starknet.InvokeTransaction) { tx.MaxFee = starknet.One },
		"nonce":    func(tx *starknet.InvokeTransaction) { tx.Nonce = starknet.One },
	}
	for name, mutate := range mutations {
		tx := base()
		mutate(tx)
		assert.False(t, reference.Equal(tx.Hash(chainID)), name)
	}
	// signatures are not part of the hash
	tx := base()
	tx.Signature = []starknet.Felt{starknet.One}
	assert.True(t, reference.Equal(tx.Hash(chainID)))
	assert.False(t, reference.Equal(base().Hash(starknet.FeltFromShortString("SN_MAIN"))))
}
