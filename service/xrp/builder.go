package xrp

import (
	"fmt"
	"math"

	"github.com/brojonat/walletcore/service/chain"
)

// lastLedgerOffset bounds how long a submitted payment stays valid.
const lastLedgerOffset = 20

// Builder builds native payments.
type Builder struct {
	params chain.Params
}

func NewBuilder(b chain.Blockchain) (*Builder, error) {
	p, err := chain.ParamsFor(b)
	if err != nil {
		return nil, err
	}
	if p.Family != chain.FamilyLedger {
		return nil, fmt.Errorf("%s is not a ledger blockchain", b)
	}
	return &Builder{params: p}, nil
}

// UnsignedPayment holds a payment and its signing pre-image.
type UnsignedPayment struct {
	blockchain chain.Blockchain
	payment    Payment
	curve      chain.Curve
	data       []byte
	key        chain.PublicKey
}

func (u *UnsignedPayment) Blockchain() chain.Blockchain { return u.blockchain }
func (u *UnsignedPayment) PublicKey() chain.PublicKey  { return u.key }
func (u *UnsignedPayment) Nonce() uint64               { return uint64(u.payment.Sequence) }

// Hashes returns SHA-512Half of the pre-image for secp256k1 keys and the
// pre-image itself for ed25519 keys.
func (u *UnsignedPayment) Hashes() [][]byte {
	if u.curve == chain.Ed25519 {
		return [][]byte{append([]byte(nil), u.data...)}
	}
	return [][]byte{sha512Half(u.data)}
}

// Payment returns a copy of the unsigned payment.
func (u *UnsignedPayment) Payment() Payment { return u.payment }

func (b *Builder) BuildForSign(intent chain.Intent, state *chain.AccountState, key chain.PublicKey) (chain.UnsignedTransaction, error) {
	if intent.Blockchain != b.params.Blockchain {
		return nil, chain.ErrBlockchainMismatch.WithDetails(map[string]string{"expected": string(b.params.Blockchain), "got": string(intent.Blockchain)})
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if intent.Amount.IsToken() {
		return nil, chain.ErrNotSupported.Withf("issued currencies are not supported")
	}
	if intent.Fee == nil {
		return nil, chain.ErrFeeParamsMissing.Withf("a fee amount is required")
	}
	if !b.params.SupportsCurve(key.Curve) && !key.IsZero() {
		return nil, chain.ErrWrongCurve.WithDetails(map[string]string{"got": string(key.Curve)})
	}
	if state == nil || !state.HasNonce {
		return nil, chain.ErrAccountNotFound.WithDetails(map[string]string{"address": intent.Source})
	}
	pub, err := SigningPubKey(key)
	if err != nil {
		return nil, err
	}
	account, err := AccountFromKey(key)
	if err != nil {
		return nil, err
	}
	src, err := DecodeAddress(intent.Source)
	if err != nil {
		return nil, err
	}
	if src != account {
		return nil, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": intent.Source, "reason": "source does not match public key"})
	}
	dest, err := DecodeAddress(intent.Destination)
	if err != nil {
		return nil, err
	}
	amount, err := drops(intent.Amount)
	if err != nil {
		return nil, err
	}
	fee, err := drops(intent.Fee.Amount)
	if err != nil {
		return nil, err
	}
	if fee == 0 {
		return nil, chain.ErrFeeParamsMissing.Withf("a fee amount is required")
	}
	seq := state.SendNonce()
	if seq > math.MaxUint32 {
		return nil, chain.ErrInvalidAmount.Withf("sequence %d out of range", seq)
	}

	p := Payment{
		Account:        account,
		Destination:    dest,
		Amount:         amount,
		Fee:            fee,
		Sequence:       uint32(seq),
		Flags:          tfFullyCanonicalSig,
		DestinationTag: intent.DestinationTag,
		SigningPubKey:  pub,
	}
	if state.Height > 0 && state.Height+lastLedgerOffset <= math.MaxUint32 {
		p.LastLedgerSequence = uint32(state.Height + lastLedgerOffset)
	}
	if intent.Memo != "" {
		p.Memos = []Memo{{Type: []byte("text/plain"), Data: []byte(intent.Memo)}}
	}
	data, err := p.SigningData()
	if err != nil {
		return nil, err
	}
	return &UnsignedPayment{
		blockchain: b.params.Blockchain,
		payment:    p,
		curve:      key.Curve,
		data:       data,
		key:        chain.PublicKey{Curve: key.Curve, Bytes: append([]byte(nil), key.Bytes...)},
	}, nil
}

// BuildForSend verifies the signature against the wallet key and places it
// in TxnSignature, DER-encoded for secp256k1.
func (b *Builder) BuildForSend(unsigned chain.UnsignedTransaction, signatures [][]byte) (*chain.SignedTransaction, error) {
	u, ok := unsigned.(*UnsignedPayment)
	if !ok || u.blockchain != b.params.Blockchain {
		return nil, chain.ErrNotSupported.Withf("unsigned transaction was not built for %s", b.params.Blockchain)
	}
	if len(signatures) != 1 {
		return nil, chain.ErrMalformedSignature.Withf("expected 1 signature, got %d", len(signatures))
	}
	sig := signatures[0]
	p := u.payment

	switch u.curve {
	case chain.Ed25519:
		if err := chain.VerifyEd25519(u.data, sig, p.SigningPubKey[1:]); err != nil {
			return nil, err
		}
		p.TxnSignature = append([]byte(nil), sig...)
	default:
		hash := sha512Half(u.data)
		if err := chain.VerifySecp256k1(hash, sig, p.SigningPubKey); err != nil {
			return nil, err
		}
		der, err := chain.CompactToDER(sig)
		if err != nil {
			return nil, err
		}
		p.TxnSignature = der
	}

	raw, err := p.Serialize()
	if err != nil {
		return nil, err
	}
	return &chain.SignedTransaction{
		Blockchain: b.params.Blockchain,
		Raw:        raw,
		Hash:       TransactionID(raw),
	}, nil
}

func (b *Builder) ValidateAddress(addr string) error {
	_, err := DecodeAddress(addr)
	return err
}

func drops(a chain.Amount) (uint64, error) {
	m, err := a.MinorUnits()
	if err != nil {
		return 0, err
	}
	if m.Sign() < 0 || !m.IsUint64() {
		return 0, chain.ErrInvalidAmount.WithDetails(map[string]string{"amount": a.String()})
	}
	return m.Uint64(), nil
}
