package solana

import (
	"crypto/ed25519"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/brojonat/walletcore/service/chain"
)

// Builder builds native SOL transfers.
type Builder struct {
	params chain.Params
}

func NewBuilder(b chain.Blockchain) (*Builder, error) {
	p, err := chain.ParamsFor(b)
	if err != nil {
		return nil, err
	}
	if !p.SupportsCurve(chain.Ed25519) || p.Family != chain.FamilyAccount {
		return nil, fmt.Errorf("%s is not an ed25519 account blockchain", b)
	}
	return &Builder{params: p}, nil
}

// UnsignedTransfer holds a transaction and its serialized message, which is
// what the fee payer signs.
type UnsignedTransfer struct {
	blockchain chain.Blockchain
	tx         *solana.Transaction
	message    []byte
	key        chain.PublicKey
}

func (u *UnsignedTransfer) Blockchain() chain.Blockchain { return u.blockchain }
func (u *UnsignedTransfer) PublicKey() chain.PublicKey  { return u.key }

func (u *UnsignedTransfer) Hashes() [][]byte {
	return [][]byte{append([]byte(nil), u.message...)}
}

// Message returns the serialized message.
func (u *UnsignedTransfer) Message() []byte { return append([]byte(nil), u.message...) }

// AddressFromKey returns the account address of an ed25519 key.
func AddressFromKey(key chain.PublicKey) (solana.PublicKey, error) {
	if key.Curve != chain.Ed25519 {
		return solana.PublicKey{}, chain.ErrWrongCurve.WithDetails(map[string]string{"expected": string(chain.Ed25519), "got": string(key.Curve)})
	}
	if len(key.Bytes) != ed25519.PublicKeySize {
		return solana.PublicKey{}, chain.ErrWrongCurve.Withf("expected %d byte key, got %d", ed25519.PublicKeySize, len(key.Bytes))
	}
	return solana.PublicKeyFromBytes(key.Bytes), nil
}

func parseAddress(addr string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return solana.PublicKey{}, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": addr}).Wrap(err)
	}
	return pk, nil
}

func (b *Builder) ValidateAddress(addr string) error {
	_, err := parseAddress(addr)
	return err
}

// BuildForSign builds a system transfer, plus a memo instruction when the
// intent carries one, anchored to the blockhash in state.
func (b *Builder) BuildForSign(intent chain.Intent, state *chain.AccountState, key chain.PublicKey) (chain.UnsignedTransaction, error) {
	if intent.Blockchain != b.params.Blockchain {
		return nil, chain.ErrBlockchainMismatch.WithDetails(map[string]string{"expected": string(b.params.Blockchain), "got": string(intent.Blockchain)})
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if intent.Amount.IsToken() {
		return nil, chain.ErrNotSupported.Withf("SPL token transfers are not supported")
	}
	from, err := AddressFromKey(key)
	if err != nil {
		return nil, err
	}
	src, err := parseAddress(intent.Source)
	if err != nil {
		return nil, err
	}
	if !src.Equals(from) {
		return nil, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": intent.Source, "reason": "source does not match public key"})
	}
	to, err := parseAddress(intent.Destination)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Blockhash == "" {
		return nil, chain.ErrStateIncomplete.Withf("a recent blockhash is required")
	}
	blockhash, err := solana.HashFromBase58(state.Blockhash)
	if err != nil {
		return nil, chain.ErrStateIncomplete.Withf("invalid blockhash %q", state.Blockhash)
	}
	minor, err := intent.Amount.MinorUnits()
	if err != nil {
		return nil, err
	}
	if !minor.IsUint64() {
		return nil, chain.ErrInvalidAmount.WithDetails(map[string]string{"amount": intent.Amount.String()})
	}

	instructions := []solana.Instruction{
		system.NewTransferInstruction(minor.Uint64(), from, to).Build(),
	}
	if intent.Memo != "" {
		instructions = append(instructions, solana.NewInstruction(
			MemoProgramIDSPL,
			solana.AccountMetaSlice{solana.NewAccountMeta(from, false, true)},
			[]byte(intent.Memo),
		))
	}
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(from))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return &UnsignedTransfer{
		blockchain: b.params.Blockchain,
		tx:         tx,
		message:    message,
		key:        chain.PublicKey{Curve: key.Curve, Bytes: append([]byte(nil), key.Bytes...)},
	}, nil
}

// BuildForSend verifies the fee payer signature and serializes the signed
// transaction. The hash is the base58 signature.
func (b *Builder) BuildForSend(unsigned chain.UnsignedTransaction, signatures [][]byte) (*chain.SignedTransaction, error) {
	u, ok := unsigned.(*UnsignedTransfer)
	if !ok || u.blockchain != b.params.Blockchain {
		return nil, chain.ErrNotSupported.Withf("unsigned transaction was not built for %s", b.params.Blockchain)
	}
	if len(signatures) != 1 {
		return nil, chain.ErrMalformedSignature.Withf("expected 1 signature, got %d", len(signatures))
	}
	if err := chain.VerifyEd25519(u.message, signatures[0], u.key.Bytes); err != nil {
		return nil, err
	}

	var sig solana.Signature
	copy(sig[:], signatures[0])
	signed := *u.tx
	signed.Signatures = []solana.Signature{sig}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return &chain.SignedTransaction{
		Blockchain: b.params.Blockchain,
		Raw:        raw,
		Hash:       sig.String(),
	}, nil
}
