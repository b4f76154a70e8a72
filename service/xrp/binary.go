package xrp

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	binarycodec "github.com/Peersyst/xrpl-go/binary-codec"
)

// tfFullyCanonicalSig requires a low-S signature.
const tfFullyCanonicalSig uint32 = 0x80000000

var prefixTxID = []byte{'T', 'X', 'N', 0}

// Memo is an arbitrary payload attached to a transaction.
type Memo struct {
	Type   []byte
	Data   []byte
	Format []byte
}

// Payment is a native XRP payment.
type Payment struct {
	Account            AccountID
	Destination        AccountID
	Amount             uint64
	Fee                uint64
	Sequence           uint32
	Flags              uint32
	DestinationTag     *uint32
	LastLedgerSequence uint32
	SigningPubKey      []byte
	TxnSignature       []byte
	Memos              []Memo
}

// fields returns the payment in the JSON shape the binary codec encodes.
// Drops are decimal strings and blobs upper-case hex.
func (p *Payment) fields(withSignature bool) map[string]any {
	tx := map[string]any{
		"TransactionType": "Payment",
		"Account":         p.Account.String(),
		"Destination":     p.Destination.String(),
		"Amount":          strconv.FormatUint(p.Amount, 10),
		"Fee":             strconv.FormatUint(p.Fee, 10),
		"Sequence":        p.Sequence,
		"Flags":           p.Flags,
		"SigningPubKey":   hexBlob(p.SigningPubKey),
	}
	if p.DestinationTag != nil {
		tx["DestinationTag"] = *p.DestinationTag
	}
	if p.LastLedgerSequence > 0 {
		tx["LastLedgerSequence"] = p.LastLedgerSequence
	}
	if len(p.Memos) > 0 {
		memos := make([]any, 0, len(p.Memos))
		for _, m := range p.Memos {
			memo := map[string]any{}
			if len(m.Type) > 0 {
				memo["MemoType"] = hexBlob(m.Type)
			}
			if len(m.Data) > 0 {
				memo["MemoData"] = hexBlob(m.Data)
			}
			if len(m.Format) > 0 {
				memo["MemoFormat"] = hexBlob(m.Format)
			}
			memos = append(memos, map[string]any{"Memo": memo})
		}
		tx["Memos"] = memos
	}
	if withSignature {
		tx["TxnSignature"] = hexBlob(p.TxnSignature)
	}
	return tx
}

// SigningData returns the bytes a key signs: the signing prefix followed by
// every signing field.
func (p *Payment) SigningData() ([]byte, error) {
	encoded, err := binarycodec.EncodeForSigning(p.fields(false))
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment for signing: %w", err)
	}
	return hex.DecodeString(encoded)
}

// Serialize returns the signed transaction blob.
func (p *Payment) Serialize() ([]byte, error) {
	encoded, err := binarycodec.Encode(p.fields(true))
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment: %w", err)
	}
	return hex.DecodeString(encoded)
}

// TransactionID is the hash rippled reports for a signed blob.
func TransactionID(blob []byte) string {
	return strings.ToUpper(hex.EncodeToString(sha512Half(append(append([]byte(nil), prefixTxID...), blob...))))
}

func sha512Half(b []byte) []byte {
	sum := sha512.Sum512(b)
	return sum[:32]
}

func hexBlob(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
