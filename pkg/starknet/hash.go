package starknet

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
	pedersenhash "github.com/consensys/gnark-crypto/ecc/stark-curve/pedersen-hash"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// 2**251 - 256
	addressBound = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 251), big.NewInt(256))
	// sn_keccak keeps the lowest 250 bits of keccak256
	snKeccakMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

	contractAddressPrefix = FeltFromShortString("STARKNET_CONTRACT_ADDRESS")
)

func Pedersen(a, b Felt) Felt {
	return Felt{e: pedersenhash.Pedersen(a.element(), b.element())}
}

// PedersenArray hashes elems as h(h(h(0, a1), ..., an), n).
func PedersenArray(elems ...Felt) Felt {
	ptrs := make([]*fp.Element, len(elems))
	for i := range elems {
		ptrs[i] = elems[i].element()
	}
	return Felt{e: pedersenhash.PedersenArray(ptrs...)}
}

// SnKeccak is the Starknet keccak used for entry point selectors.
func SnKeccak(data []byte) Felt {
	h := new(big.Int).SetBytes(crypto.Keccak256(data))
	return FeltFromBigInt(h.And(h, snKeccakMask))
}

func Selector(name string) Felt {
	return SnKeccak([]byte(name))
}

// ContractAddress derives the address of a contract deployed by deployer.
func ContractAddress(deployer, salt, classHash Felt, constructorCalldata []Felt) Felt {
	h := PedersenArray(
		contractAddressPrefix,
		deployer,
		salt,
		classHash,
		PedersenArray(constructorCalldata...),
	)
	return FeltFromBigInt(new(big.Int).Mod(h.BigInt(), addressBound))
}
