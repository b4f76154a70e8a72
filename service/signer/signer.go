// Package signer is an in-memory implementation of the signing boundary for
// development and tests. Production deployments sign on a hardware device.
package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/brojonat/walletcore/service/chain"
)

// Local holds private keys in memory and signs with whichever key matches
// the requested public key.
type Local struct {
	mu   sync.RWMutex
	keys map[string]any // *btcec.PrivateKey or ed25519.PrivateKey
}

func NewLocal() *Local {
	return &Local{keys: make(map[string]any)}
}

// Import adds a raw private key: a 32-byte scalar for secp256k1 or a 32-byte
// seed for ed25519.
func (l *Local) Import(curve chain.Curve, raw []byte) (chain.PublicKey, error) {
	if len(raw) != 32 {
		return chain.PublicKey{}, fmt.Errorf("expected 32 byte private key, got %d", len(raw))
	}
	switch curve {
	case chain.Secp256k1:
		priv, pub := btcec.PrivKeyFromBytes(raw)
		return l.add(chain.PublicKey{Curve: curve, Bytes: pub.SerializeCompressed()}, priv), nil
	case chain.Ed25519:
		priv := ed25519.NewKeyFromSeed(raw)
		return l.add(chain.PublicKey{Curve: curve, Bytes: priv.Public().(ed25519.PublicKey)}, priv), nil
	default:
		return chain.PublicKey{}, fmt.Errorf("unsupported curve %q", curve)
	}
}

// ImportHex is Import for a hex-encoded key.
func (l *Local) ImportHex(curve chain.Curve, s string) (chain.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return chain.PublicKey{}, fmt.Errorf("failed to decode private key: %w", err)
	}
	return l.Import(curve, raw)
}

// Generate creates a fresh key on curve.
func (l *Local) Generate(curve chain.Curve) (chain.PublicKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return chain.PublicKey{}, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return l.Import(curve, raw)
}

func (l *Local) add(pub chain.PublicKey, priv any) chain.PublicKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[hex.EncodeToString(pub.Bytes)] = priv
	return pub
}

// Sign returns a raw signature: r||s for secp256k1 and the 64-byte
// signature for ed25519. For secp256k1, hash must be a 32-byte digest.
func (l *Local) Sign(ctx context.Context, hash []byte, publicKey []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, chain.ErrSignerUnavailable.Wrap(err)
	}
	l.mu.RLock()
	priv, ok := l.keys[hex.EncodeToString(publicKey)]
	l.mu.RUnlock()
	if !ok {
		return nil, chain.ErrSignerUnavailable.Withf("no key for public key %x", publicKey)
	}

	switch k := priv.(type) {
	case *btcec.PrivateKey:
		if len(hash) != 32 {
			return nil, chain.ErrWrongCurve.Withf("secp256k1 signs a 32 byte digest, got %d bytes", len(hash))
		}
		compact := ecdsa.SignCompact(k, hash, true)
		return compact[1:], nil
	case ed25519.PrivateKey:
		return ed25519.Sign(k, hash), nil
	default:
		return nil, chain.ErrSignerUnavailable.Withf("unsupported key type %T", priv)
	}
}

var _ chain.Signer = (*Local)(nil)
