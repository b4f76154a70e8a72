package filecoin

import (
	"fmt"

	"github.com/filecoin-project/go-address"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	_ "github.com/multiformats/go-multihash/register/blake2"
	"golang.org/x/crypto/blake2b"
)

// messagePrefix is how Lotus addresses messages: CIDv1, dag-cbor,
// blake2b-256.
var messagePrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.DagCBOR,
	MhType:   multihash.BLAKE2B_MIN + 31,
	MhLength: 32,
}

const (
	// sigTypeSecp256k1 is the Lotus signature type for secp256k1.
	sigTypeSecp256k1 = 1

	// methodSend is the built-in value transfer method.
	methodSend = 0
)

func init() {
	// Addresses render with the mainnet "f" prefix.
	address.CurrentNetwork = address.Mainnet
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Message is a Filecoin message in the Lotus JSON shape.
type Message struct {
	Version    uint64          `json:"Version"`
	To         address.Address `json:"To"`
	From       address.Address `json:"From"`
	Nonce      uint64          `json:"Nonce"`
	Value      fbig.Int        `json:"Value"`
	GasLimit   int64           `json:"GasLimit"`
	GasFeeCap  fbig.Int        `json:"GasFeeCap"`
	GasPremium fbig.Int        `json:"GasPremium"`
	Method     uint64          `json:"Method"`
	Params     []byte          `json:"Params"`
}

// Signature is the Lotus crypto.Signature JSON shape.
type Signature struct {
	Type int    `json:"Type"`
	Data []byte `json:"Data"`
}

// SignedMessage is the payload accepted by Filecoin.MpoolPush.
type SignedMessage struct {
	Message   Message   `json:"Message"`
	Signature Signature `json:"Signature"`
}

// wireMessage is the CBOR tuple encoding of Message.
type wireMessage struct {
	_          struct{} `cbor:",toarray"`
	Version    uint64
	To         []byte
	From       []byte
	Nonce      uint64
	Value      []byte
	GasLimit   int64
	GasFeeCap  []byte
	GasPremium []byte
	Method     uint64
	Params     []byte
}

type wireSignedMessage struct {
	_         struct{} `cbor:",toarray"`
	Message   cbor.RawMessage
	Signature []byte
}

// MarshalCBOR returns the canonical serialization of the message.
func (m *Message) MarshalCBOR() ([]byte, error) {
	value, err := bigBytes(m.Value)
	if err != nil {
		return nil, err
	}
	feeCap, err := bigBytes(m.GasFeeCap)
	if err != nil {
		return nil, err
	}
	premium, err := bigBytes(m.GasPremium)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(wireMessage{
		Version:    m.Version,
		To:         m.To.Bytes(),
		From:       m.From.Bytes(),
		Nonce:      m.Nonce,
		Value:      value,
		GasLimit:   m.GasLimit,
		GasFeeCap:  feeCap,
		GasPremium: premium,
		Method:     m.Method,
		Params:     nonNil(m.Params),
	})
}

// Cid returns the message CID.
func (m *Message) Cid() (cid.Cid, error) {
	data, err := m.MarshalCBOR()
	if err != nil {
		return cid.Undef, err
	}
	return messagePrefix.Sum(data)
}

// SigningHash is blake2b-256 over the binary message CID, the digest a
// secp256k1 key signs.
func (m *Message) SigningHash() ([]byte, error) {
	c, err := m.Cid()
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(c.Bytes())
	return sum[:], nil
}

// Cid returns the CID of a secp256k1 signed message.
func (s *SignedMessage) Cid() (cid.Cid, error) {
	msg, err := s.Message.MarshalCBOR()
	if err != nil {
		return cid.Undef, err
	}
	sig := append([]byte{byte(s.Signature.Type)}, s.Signature.Data...)
	data, err := encMode.Marshal(wireSignedMessage{Message: msg, Signature: sig})
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to encode signed message: %w", err)
	}
	return messagePrefix.Sum(data)
}

func bigBytes(v fbig.Int) ([]byte, error) {
	if v.Int == nil {
		return []byte{}, nil
	}
	b, err := v.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode big int: %w", err)
	}
	return nonNil(b), nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
