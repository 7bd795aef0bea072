// Package keys derives the deterministic validator keypairs and validates
// raw keypair bytes received over IPC.
package keys

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/bft-labs/tickbridge/internal/domain"
)

// Seed phrases of the genesis mint and faucet accounts.
const (
	MintPhrase   = "THERAINISME.MINT"
	FaucetPhrase = "THERAINISME.FAUCET"
)

// FromSeed returns the ed25519 keypair for a 32-byte seed.
func FromSeed(seed [32]byte) solana.PrivateKey {
	return solana.PrivateKey(ed25519.NewKeyFromSeed(seed[:]))
}

// FromPhrase uses phrase as a seed, zero-padded or truncated to 32 bytes.
func FromPhrase(phrase string) solana.PrivateKey {
	var seed [32]byte
	copy(seed[:], phrase)
	return FromSeed(seed)
}

// Mint returns the genesis mint keypair.
func Mint() solana.PrivateKey {
	return FromPhrase(MintPhrase)
}

// Faucet returns the faucet keypair.
func Faucet() solana.PrivateKey {
	return FromPhrase(FaucetPhrase)
}

// FromBytes validates a 64-byte seed||public keypair and returns it.
func FromBytes(b []byte) (solana.PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", domain.ErrInvalidSigner, len(b), ed25519.PrivateKeySize)
	}
	derived := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], b[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public key does not match seed", domain.ErrInvalidSigner)
	}
	key := make(solana.PrivateKey, len(b))
	copy(key, b)
	return key, nil
}

// ParseAll validates every entry of raw with FromBytes.
func ParseAll(raw [][]byte) ([]solana.PrivateKey, error) {
	out := make([]solana.PrivateKey, 0, len(raw))
	for i, b := range raw {
		k, err := FromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", i, err)
		}
		out = append(out, k)
	}
	return out, nil
}
