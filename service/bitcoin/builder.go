package bitcoin

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/brojonat/walletcore/service/chain"
)

// rbfSequence signals opt-in replace-by-fee (BIP 125).
const rbfSequence = 0xfffffffd

// Builder builds Bitcoin-style transactions spending P2PKH or P2WPKH outputs
// of a single source address.
type Builder struct {
	params chain.Params
	net    *chaincfg.Params
}

func NewBuilder(b chain.Blockchain) (*Builder, error) {
	p, err := chain.ParamsFor(b)
	if err != nil {
		return nil, err
	}
	if p.Family != chain.FamilyUTXO {
		return nil, fmt.Errorf("%s is not a UTXO blockchain", b)
	}
	net, err := NetParams(b)
	if err != nil {
		return nil, err
	}
	return &Builder{params: p, net: net}, nil
}

// UnsignedTx is a transaction with empty input scripts plus the data needed
// to attach signatures. It is never mutated after BuildForSign returns.
type UnsignedTx struct {
	blockchain chain.Blockchain
	tx         *wire.MsgTx
	inputs     []chain.UTXO
	hashes     [][]byte
	key        chain.PublicKey
	witness    bool

	// Fee and Change are in satoshis.
	Fee    int64
	Change int64
}

func (u *UnsignedTx) Blockchain() chain.Blockchain { return u.blockchain }
func (u *UnsignedTx) PublicKey() chain.PublicKey   { return u.key }

func (u *UnsignedTx) Hashes() [][]byte {
	out := make([][]byte, len(u.hashes))
	for i, h := range u.hashes {
		out[i] = append([]byte(nil), h...)
	}
	return out
}

func (u *UnsignedTx) Outpoints() []chain.Outpoint {
	out := make([]chain.Outpoint, len(u.inputs))
	for i, in := range u.inputs {
		out[i] = in.Outpoint()
	}
	return out
}

// Inputs returns the selected outputs in signing order.
func (u *UnsignedTx) Inputs() []chain.UTXO {
	return append([]chain.UTXO(nil), u.inputs...)
}

// Tx returns a copy of the unsigned transaction.
func (u *UnsignedTx) Tx() *wire.MsgTx {
	return u.tx.Copy()
}

// BuildForSign selects inputs greedily, largest first, until amount plus fee
// is covered and returns one signature hash per input.
func (b *Builder) BuildForSign(intent chain.Intent, state *chain.AccountState, key chain.PublicKey) (chain.UnsignedTransaction, error) {
	if intent.Blockchain != b.params.Blockchain {
		return nil, chain.ErrBlockchainMismatch.WithDetails(map[string]string{"expected": string(b.params.Blockchain), "got": string(intent.Blockchain)})
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("account state is required")
	}
	if key.IsZero() {
		return nil, chain.ErrNoDerivation
	}
	if key.Curve != chain.Secp256k1 {
		return nil, chain.ErrWrongCurve.WithDetails(map[string]string{"expected": string(chain.Secp256k1), "got": string(key.Curve)})
	}

	source, witness, err := b.sourceAddress(intent.Source, key)
	if err != nil {
		return nil, err
	}
	dest, err := b.decodeAddress(intent.Destination)
	if err != nil {
		return nil, err
	}

	amount, err := intent.Amount.MinorUnits()
	if err != nil {
		return nil, err
	}
	fee, err := intent.Fee.Amount.MinorUnits()
	if err != nil {
		return nil, err
	}
	if !amount.IsInt64() || !fee.IsInt64() {
		return nil, chain.ErrInvalidAmount.Withf("amount out of range")
	}
	if fee.Sign() < 0 {
		return nil, chain.ErrInvalidAmount.Withf("fee must not be negative")
	}
	value := amount.Int64()
	if value < b.params.DustThreshold {
		return nil, chain.ErrInvalidAmount.WithDetails(map[string]string{"dust_threshold": strconv.FormatInt(b.params.DustThreshold, 10)})
	}

	selected, change, feeSats, err := selectInputs(chain.Spendable(state.UTXOs, b.params.MinConfirmations), value, fee.Int64(), b.params.DustThreshold)
	if err != nil {
		return nil, err
	}

	sourceScript, err := txscript.PayToAddrScript(source)
	if err != nil {
		return nil, fmt.Errorf("failed to create source script: %w", err)
	}
	destScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination script: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	sequence := uint32(wire.MaxTxInSequenceNum)
	if b.params.SupportsRBF {
		sequence = rbfSequence
	}
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(selected))
	for _, u := range selected {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, chain.ErrMalformedResponse.Withf("invalid utxo txid %q", u.TxID)
		}
		op := wire.NewOutPoint(hash, u.Vout)
		in := wire.NewTxIn(op, nil, nil)
		in.Sequence = sequence
		tx.AddTxIn(in)
		prevOuts[*op] = wire.NewTxOut(u.Value, sourceScript)
	}
	tx.AddTxOut(wire.NewTxOut(value, destScript))
	if change > 0 {
		tx.AddTxOut(wire.NewTxOut(change, sourceScript))
	}

	hashes := make([][]byte, len(selected))
	var sigHashes *txscript.TxSigHashes
	if witness {
		sigHashes = txscript.NewTxSigHashes(tx, txscript.NewMultiPrevOutFetcher(prevOuts))
	}
	for i, u := range selected {
		var h []byte
		if witness {
			h, err = txscript.CalcWitnessSigHash(sourceScript, sigHashes, txscript.SigHashAll, tx, i, u.Value)
		} else {
			h, err = txscript.CalcSignatureHash(sourceScript, txscript.SigHashAll, tx, i)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to compute signature hash for input %d: %w", i, err)
		}
		hashes[i] = h
	}

	return &UnsignedTx{
		blockchain: b.params.Blockchain,
		tx:         tx,
		inputs:     selected,
		hashes:     hashes,
		key:        chain.PublicKey{Curve: key.Curve, Bytes: append([]byte(nil), key.Bytes...)},
		witness:    witness,
		Fee:        feeSats,
		Change:     change,
	}, nil
}

// BuildForSend attaches one raw r||s signature per input, in input order,
// and serialises the transaction.
func (b *Builder) BuildForSend(unsigned chain.UnsignedTransaction, signatures [][]byte) (*chain.SignedTransaction, error) {
	u, ok := unsigned.(*UnsignedTx)
	if !ok || u.blockchain != b.params.Blockchain {
		return nil, chain.ErrNotSupported.Withf("unsigned transaction was not built for %s", b.params.Blockchain)
	}
	if len(signatures) != len(u.hashes) {
		return nil, chain.ErrMalformedSignature.Withf("expected %d signatures, got %d", len(u.hashes), len(signatures))
	}

	tx := u.tx.Copy()
	for i, sig := range signatures {
		if err := chain.VerifySecp256k1(u.hashes[i], sig, u.key.Bytes); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		der, err := chain.CompactToDER(sig)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		der = append(der, byte(txscript.SigHashAll))

		if u.witness {
			tx.TxIn[i].Witness = wire.TxWitness{der, u.key.Bytes}
			continue
		}
		script, err := txscript.NewScriptBuilder().AddData(der).AddData(u.key.Bytes).Script()
		if err != nil {
			return nil, fmt.Errorf("failed to build signature script: %w", err)
		}
		tx.TxIn[i].SignatureScript = script
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return &chain.SignedTransaction{
		Blockchain: b.params.Blockchain,
		Raw:        buf.Bytes(),
		Hash:       tx.TxHash().String(),
	}, nil
}

// ValidateAddress checks that addr is a payable address on this network.
func (b *Builder) ValidateAddress(addr string) error {
	_, err := b.decodeAddress(addr)
	return err
}

func (b *Builder) decodeAddress(addr string) (btcutil.Address, error) {
	decoded, err := btcutil.DecodeAddress(addr, b.net)
	if err != nil {
		return nil, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": addr}).Wrap(err)
	}
	if !decoded.IsForNet(b.net) {
		return nil, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": addr, "reason": "wrong network"})
	}
	switch decoded.(type) {
	case *btcutil.AddressPubKeyHash, *btcutil.AddressScriptHash:
	case *btcutil.AddressWitnessPubKeyHash, *btcutil.AddressWitnessScriptHash, *btcutil.AddressTaproot:
		if !supportsSegwit(b.net) {
			return nil, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": addr, "reason": "segwit not supported"})
		}
	default:
		return nil, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": addr, "reason": "unsupported address type"})
	}
	return decoded, nil
}

// sourceAddress decodes the spending address and checks that key controls it.
func (b *Builder) sourceAddress(addr string, key chain.PublicKey) (btcutil.Address, bool, error) {
	decoded, err := b.decodeAddress(addr)
	if err != nil {
		return nil, false, err
	}
	if _, err := btcec.ParsePubKey(key.Bytes); err != nil {
		return nil, false, chain.ErrNoDerivation.Wrap(err)
	}
	keyHash := btcutil.Hash160(key.Bytes)

	switch a := decoded.(type) {
	case *btcutil.AddressPubKeyHash:
		if !bytes.Equal(a.ScriptAddress(), keyHash) {
			return nil, false, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": addr, "reason": "source does not match public key"})
		}
		return a, false, nil
	case *btcutil.AddressWitnessPubKeyHash:
		if len(key.Bytes) != btcec.PubKeyBytesLenCompressed || !bytes.Equal(a.ScriptAddress(), keyHash) {
			return nil, false, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": addr, "reason": "source does not match public key"})
		}
		return a, true, nil
	default:
		return nil, false, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": addr, "reason": "only P2PKH and P2WPKH sources can be spent"})
	}
}

// selectInputs takes outputs from the front of spendable (already sorted)
// until value+fee is covered. Change below dust is added to the fee.
func selectInputs(spendable []chain.UTXO, value, fee, dust int64) (selected []chain.UTXO, change, finalFee int64, err error) {
	target := value + fee
	var total int64
	for _, u := range spendable {
		if total >= target {
			break
		}
		selected = append(selected, u)
		total += u.Value
	}
	if total < target {
		return nil, 0, 0, chain.ErrInsufficientUTXOs.WithDetails(map[string]string{
			"required":  strconv.FormatInt(target, 10),
			"available": strconv.FormatInt(total, 10),
		})
	}
	change = total - target
	finalFee = fee
	if change < dust {
		finalFee += change
		change = 0
	}
	return selected, change, finalFee, nil
}

// EstimateSize approximates the virtual size in bytes of a transaction
// spending inputs outputs of the given type.
func EstimateSize(inputs, outputs int, witness bool) int64 {
	if witness {
		return int64(11 + 68*inputs + 31*outputs)
	}
	return int64(10 + 148*inputs + 34*outputs)
}
