package filecoin

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/filecoin-project/go-address"
	fbig "github.com/filecoin-project/go-state-types/big"

	"github.com/brojonat/walletcore/service/chain"
)

// Builder builds value transfer messages from f1 addresses.
type Builder struct {
	params chain.Params
}

func NewBuilder(b chain.Blockchain) (*Builder, error) {
	p, err := chain.ParamsFor(b)
	if err != nil {
		return nil, err
	}
	if p.FeeKind != chain.FeeKindFilecoin {
		return nil, fmt.Errorf("%s is not a Filecoin blockchain", b)
	}
	return &Builder{params: p}, nil
}

// UnsignedMessage holds a message and its signing hash.
type UnsignedMessage struct {
	blockchain chain.Blockchain
	msg        Message
	hash       []byte
	key        chain.PublicKey
}

func (u *UnsignedMessage) Blockchain() chain.Blockchain { return u.blockchain }
func (u *UnsignedMessage) Hashes() [][]byte            { return [][]byte{append([]byte(nil), u.hash...)} }
func (u *UnsignedMessage) PublicKey() chain.PublicKey  { return u.key }
func (u *UnsignedMessage) Nonce() uint64               { return u.msg.Nonce }

// Message returns a copy of the unsigned message.
func (u *UnsignedMessage) Message() Message { return u.msg }

func (b *Builder) BuildForSign(intent chain.Intent, state *chain.AccountState, key chain.PublicKey) (chain.UnsignedTransaction, error) {
	if intent.Blockchain != b.params.Blockchain {
		return nil, chain.ErrBlockchainMismatch.WithDetails(map[string]string{"expected": string(b.params.Blockchain), "got": string(intent.Blockchain)})
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if intent.Amount.IsToken() {
		return nil, chain.ErrNotSupported.Withf("token transfers are not supported on %s", b.params.Blockchain)
	}
	if state == nil || !state.HasNonce {
		return nil, chain.ErrNotSupported.Withf("account nonce is unknown; refresh the wallet first")
	}
	from, err := AddressFromKey(key)
	if err != nil {
		return nil, err
	}
	src, err := b.parseAddress(intent.Source)
	if err != nil {
		return nil, err
	}
	if src != from {
		return nil, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": intent.Source, "reason": "source does not match public key"})
	}
	to, err := b.parseAddress(intent.Destination)
	if err != nil {
		return nil, err
	}
	fee, ok := intent.Fee.Params.(chain.FilecoinFeeParams)
	if !ok {
		return nil, chain.ErrFeeParamsMismatch.Withf("unexpected fee parameters %T", intent.Fee.Params)
	}
	if fee.GasLimit <= 0 || fee.GasFeeCap == nil || fee.GasPremium == nil {
		return nil, chain.ErrFeeParamsMissing.Withf("gas limit, fee cap and premium are required")
	}
	minor, err := intent.Amount.MinorUnits()
	if err != nil {
		return nil, err
	}

	msg := Message{
		Version:    0,
		To:         to,
		From:       from,
		Nonce:      state.SendNonce(),
		Value:      fbig.NewFromGo(minor),
		GasLimit:   fee.GasLimit,
		GasFeeCap:  fbig.NewFromGo(fee.GasFeeCap),
		GasPremium: fbig.NewFromGo(fee.GasPremium),
		Method:     methodSend,
	}
	hash, err := msg.SigningHash()
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}
	return &UnsignedMessage{
		blockchain: b.params.Blockchain,
		msg:        msg,
		hash:       hash,
		key:        chain.PublicKey{Curve: key.Curve, Bytes: append([]byte(nil), key.Bytes...)},
	}, nil
}

// BuildForSend attaches a recoverable signature and returns the Lotus JSON
// SignedMessage. The hash is the signed message CID.
func (b *Builder) BuildForSend(unsigned chain.UnsignedTransaction, signatures [][]byte) (*chain.SignedTransaction, error) {
	u, ok := unsigned.(*UnsignedMessage)
	if !ok || u.blockchain != b.params.Blockchain {
		return nil, chain.ErrNotSupported.Withf("unsigned transaction was not built for %s", b.params.Blockchain)
	}
	if len(signatures) != 1 {
		return nil, chain.ErrMalformedSignature.Withf("expected 1 signature, got %d", len(signatures))
	}
	sig, err := chain.RecoverableSignature(u.hash, signatures[0], u.key.Bytes)
	if err != nil {
		return nil, err
	}
	signed := &SignedMessage{
		Message:   u.msg,
		Signature: Signature{Type: sigTypeSecp256k1, Data: sig},
	}
	c, err := signed.Cid()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed message: %w", err)
	}
	return &chain.SignedTransaction{
		Blockchain: b.params.Blockchain,
		Raw:        raw,
		Hash:       c.String(),
	}, nil
}

func (b *Builder) ValidateAddress(addr string) error {
	_, err := b.parseAddress(addr)
	return err
}

func (b *Builder) parseAddress(s string) (address.Address, error) {
	if len(s) < 2 || s[0] != address.MainnetPrefix[0] {
		return address.Undef, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": s, "reason": "expected a mainnet address"})
	}
	addr, err := address.NewFromString(s)
	if err != nil {
		return address.Undef, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": s, "reason": err.Error()})
	}
	return addr, nil
}

// AddressFromKey derives the f1 address of a secp256k1 public key.
func AddressFromKey(key chain.PublicKey) (address.Address, error) {
	if key.IsZero() {
		return address.Undef, chain.ErrNoDerivation
	}
	if key.Curve != chain.Secp256k1 {
		return address.Undef, chain.ErrWrongCurve.WithDetails(map[string]string{"expected": string(chain.Secp256k1), "got": string(key.Curve)})
	}
	pub, err := btcec.ParsePubKey(key.Bytes)
	if err != nil {
		return address.Undef, chain.ErrNoDerivation.Wrap(err)
	}
	addr, err := address.NewSecp256k1Address(pub.SerializeUncompressed())
	if err != nil {
		return address.Undef, chain.ErrNoDerivation.Wrap(err)
	}
	return addr, nil
}
