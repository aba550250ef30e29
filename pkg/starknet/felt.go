package starknet

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Felt is an element of the Starknet base field.
type Felt struct {
	e fp.Element
}

var (
	Zero = Felt{}
	One  = FeltFromUint64(1)
)

func FeltFromUint64(v uint64) Felt {
	var f Felt
	f.e.SetUint64(v)
	return f
}

// FeltFromBytes interprets b as a big-endian integer reduced modulo the field prime.
func FeltFromBytes(b []byte) Felt {
	var f Felt
	f.e.SetBytes(b)
	return f
}

func FeltFromBigInt(v *big.Int) Felt {
	var f Felt
	f.e.SetBigInt(v)
	return f
}

func FeltFromAddress(addr common.Address) Felt {
	return FeltFromBytes(addr.Bytes())
}

// FeltFromShortString encodes an ASCII string of at most 31 characters.
func FeltFromShortString(s string) Felt {
	return FeltFromBytes([]byte(s))
}

// FeltFromHex parses a 0x-prefixed hex string, rejecting values outside the field.
func FeltFromHex(s string) (Felt, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits == "" {
		return Zero, fmt.Errorf("invalid felt %q: empty", s)
	}
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return Zero, fmt.Errorf("invalid felt %q: not hex", s)
	}
	if v.Cmp(fp.Modulus()) >= 0 {
		return Zero, fmt.Errorf("invalid felt %q: exceeds field prime", s)
	}
	return FeltFromBigInt(v), nil
}

func MustFeltFromHex(s string) Felt {
	f, err := FeltFromHex(s)
	if err != nil {
		panic(err)
	}
	return f
}

func (f Felt) BigInt() *big.Int {
	return f.e.BigInt(new(big.Int))
}

func (f Felt) Bytes() [32]byte {
	return f.e.Bytes()
}

func (f Felt) Equal(other Felt) bool {
	return f.e.Equal(&other.e)
}

func (f Felt) IsZero() bool {
	return f.e.IsZero()
}

// String returns the minimal 0x-prefixed hex representation.
func (f Felt) String() string {
	return hexutil.EncodeBig(f.BigInt())
}

func (f Felt) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Felt) UnmarshalText(input []byte) error {
	parsed, err := FeltFromHex(string(input))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

func (f *Felt) element() *fp.Element {
	return &f.e
}
