package chain

import (
	"bytes"
	"crypto/ed25519"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"
)

// splitCompact parses a raw r||s signature, optionally followed by a
// recovery byte, and normalises s to the lower half of the curve order.
func splitCompact(sig []byte) (r, s btcec.ModNScalar, err error) {
	if len(sig) != 64 && len(sig) != 65 {
		return r, s, ErrMalformedSignature.Withf("expected 64 or 65 byte signature, got %d", len(sig))
	}
	if overflow := r.SetByteSlice(sig[:32]); overflow || r.IsZero() {
		return r, s, ErrMalformedSignature.Withf("signature r out of range")
	}
	if overflow := s.SetByteSlice(sig[32:64]); overflow || s.IsZero() {
		return r, s, ErrMalformedSignature.Withf("signature s out of range")
	}
	if s.IsOverHalfOrder() {
		s.Negate()
	}
	return r, s, nil
}

// NormalizeCompact returns a 64-byte low-S r||s signature.
func NormalizeCompact(sig []byte) ([]byte, error) {
	r, s, err := splitCompact(sig)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 64)
	rb := r.Bytes()
	sb := s.Bytes()
	copy(out[:32], rb[:])
	copy(out[32:], sb[:])
	return out, nil
}

// CompactToDER converts a raw secp256k1 signature into low-S DER.
func CompactToDER(sig []byte) ([]byte, error) {
	r, s, err := splitCompact(sig)
	if err != nil {
		return nil, err
	}
	return ecdsa.NewSignature(&r, &s).Serialize(), nil
}

// VerifySecp256k1 checks a raw r||s signature over hash against a compressed
// or uncompressed public key.
func VerifySecp256k1(hash, sig, publicKey []byte) error {
	pub, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return ErrWrongCurve.Wrap(err)
	}
	r, s, err := splitCompact(sig)
	if err != nil {
		return err
	}
	if !ecdsa.NewSignature(&r, &s).Verify(hash, pub) {
		return ErrMalformedSignature.Withf("signature does not verify against the wallet key")
	}
	return nil
}

// RecoverableSignature returns the 65-byte r||s||v form expected by EVM and
// Filecoin, computing v by recovering the key from hash.
func RecoverableSignature(hash, sig, publicKey []byte) ([]byte, error) {
	pub, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return nil, ErrWrongCurve.Wrap(err)
	}
	want := pub.SerializeUncompressed()

	compact, err := NormalizeCompact(sig)
	if err != nil {
		return nil, err
	}
	candidate := make([]byte, 65)
	copy(candidate, compact)
	for v := byte(0); v < 2; v++ {
		candidate[64] = v
		got, err := crypto.Ecrecover(hash, candidate)
		if err != nil {
			continue
		}
		if bytes.Equal(got, want) {
			return candidate, nil
		}
	}
	return nil, ErrMalformedSignature.Withf("signature does not recover to the wallet key")
}

// VerifyEd25519 checks a 64-byte ed25519 signature over message.
func VerifyEd25519(message, sig, publicKey []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return ErrWrongCurve.Withf("expected %d byte ed25519 key, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	if len(sig) != ed25519.SignatureSize {
		return ErrMalformedSignature.Withf("expected %d byte ed25519 signature, got %d", ed25519.SignatureSize, len(sig))
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, sig) {
		return ErrMalformedSignature.Withf("signature does not verify against the wallet key")
	}
	return nil
}
