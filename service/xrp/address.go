package xrp

import (
	"errors"

	addresscodec "github.com/Peersyst/xrpl-go/address-codec"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/brojonat/walletcore/service/chain"
)

const (
	accountIDLen = 20
	// ed25519KeyPrefix marks an ed25519 public key in SigningPubKey.
	ed25519KeyPrefix = 0xED
)

var errChecksum = errors.New("checksum mismatch")

// AccountID is the 20-byte identifier behind a classic address.
type AccountID [accountIDLen]byte

// String renders the classic "r..." address.
func (a AccountID) String() string {
	s, err := addresscodec.EncodeAccountIDToClassicAddress(a[:])
	if err != nil {
		return ""
	}
	return s
}

// DecodeAddress parses a classic address. The account ID is re-encoded and
// compared so that a bad checksum or type prefix is rejected.
func DecodeAddress(s string) (AccountID, error) {
	var id AccountID
	invalid := func(reason string) error {
		return chain.ErrInvalidAddress.WithDetails(map[string]string{"address": s, "reason": reason})
	}
	_, payload, err := addresscodec.DecodeClassicAddressToAccountID(s)
	if err != nil {
		return id, invalid(err.Error())
	}
	if len(payload) != accountIDLen {
		return id, invalid("wrong payload length")
	}
	copy(id[:], payload)
	if id.String() != s {
		return AccountID{}, invalid(errChecksum.Error())
	}
	return id, nil
}

// SigningPubKey returns the key bytes placed in a transaction: compressed
// secp256k1, or 0xED followed by the ed25519 key.
func SigningPubKey(key chain.PublicKey) ([]byte, error) {
	if key.IsZero() {
		return nil, chain.ErrNoDerivation
	}
	switch key.Curve {
	case chain.Secp256k1:
		if len(key.Bytes) != 33 {
			return nil, chain.ErrNoDerivation.Withf("expected 33 byte compressed key, got %d", len(key.Bytes))
		}
		return append([]byte(nil), key.Bytes...), nil
	case chain.Ed25519:
		switch {
		case len(key.Bytes) == 32:
			return append([]byte{ed25519KeyPrefix}, key.Bytes...), nil
		case len(key.Bytes) == 33 && key.Bytes[0] == ed25519KeyPrefix:
			return append([]byte(nil), key.Bytes...), nil
		}
		return nil, chain.ErrNoDerivation.Withf("unexpected ed25519 key length %d", len(key.Bytes))
	default:
		return nil, chain.ErrWrongCurve.WithDetails(map[string]string{"got": string(key.Curve)})
	}
}

// AccountFromKey derives the account of a wallet key.
func AccountFromKey(key chain.PublicKey) (AccountID, error) {
	var id AccountID
	pub, err := SigningPubKey(key)
	if err != nil {
		return id, err
	}
	copy(id[:], btcutil.Hash160(pub))
	return id, nil
}
