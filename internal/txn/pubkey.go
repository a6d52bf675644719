package txn

import (
	"errors"
	"fmt"
	"math/big"
)

// Pubkey is a 32-byte ed25519 public key (a Solana account address).
type Pubkey [32]byte

var ErrBadPubkey = errors.New("invalid base58 pubkey")

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base58Alphabet); i++ {
		idx[base58Alphabet[i]] = int8(i)
	}
	return idx
}()

// PubkeyFromBase58 parses a base58-encoded 32-byte address.
func PubkeyFromBase58(s string) (Pubkey, error) {
	raw, err := base58Decode(s)
	if err != nil {
		return Pubkey{}, err
	}
	if len(raw) != 32 {
		return Pubkey{}, fmt.Errorf("%w: decoded length %d", ErrBadPubkey, len(raw))
	}

	var pk Pubkey
	copy(pk[:], raw)
	return pk, nil
}

// MustPubkey parses a base58 address and panics on failure. For
// package-level constants only.
func MustPubkey(s string) Pubkey {
	pk, err := PubkeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (p Pubkey) String() string {
	return base58Encode(p[:])
}

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

func base58Encode(b []byte) string {
	zeros := 0
	for zeros < len(b) && b[zeros] == 0 {
		zeros++
	}

	n := new(big.Int).SetBytes(b)
	base := big.NewInt(58)
	mod := new(big.Int)

	out := make([]byte, 0, len(b)*2)
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for i := 0; i < zeros; i++ {
		out = append(out, '1')
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func base58Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrBadPubkey
	}

	zeros := 0
	for zeros < len(s) && s[zeros] == '1' {
		zeros++
	}

	n := new(big.Int)
	base := big.NewInt(58)
	for i := 0; i < len(s); i++ {
		d := base58Index[s[i]]
		if d < 0 {
			return nil, fmt.Errorf("%w: character %q", ErrBadPubkey, s[i])
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(d)))
	}

	raw := n.Bytes()
	out := make([]byte, zeros+len(raw))
	copy(out[zeros:], raw)
	return out, nil
}
