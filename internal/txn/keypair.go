package txn

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
)

// Keypair is the keeper's payer identity.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  Pubkey
}

// LoadKeypair reads a Solana keypair file (a JSON array of 64 bytes:
// 32-byte seed followed by the 32-byte public key).
func LoadKeypair(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}

	// id.json is a JSON array of byte values, not base64.
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return nil, fmt.Errorf("parse keypair file: %w", err)
	}
	if len(nums) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair file holds %d bytes, want %d", len(nums), ed25519.PrivateKeySize)
	}

	raw := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("keypair byte %d out of range: %d", i, n)
		}
		raw[i] = byte(n)
	}

	priv := ed25519.PrivateKey(raw)

	var pub Pubkey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return &Keypair{priv: priv, pub: pub}, nil
}

// GenerateKeypair creates a fresh random keypair (tests only).
func GenerateKeypair() (*Keypair, error) {
	pubRaw, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	var pub Pubkey
	copy(pub[:], pubRaw)
	return &Keypair{priv: priv, pub: pub}, nil
}

// Pubkey returns the public key.
func (k *Keypair) Pubkey() Pubkey {
	return k.pub
}

// Sign signs a compiled message.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}
