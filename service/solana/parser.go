package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.SystemProgramID

	// MemoProgramIDSPL is the SPL Memo program (most common)
	MemoProgramIDSPL = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// SystemProgramTransferInstruction is the System Program Transfer discriminator.
const SystemProgramTransferInstruction = uint32(2)

// Transaction is a parsed native transfer touching a wallet.
type Transaction struct {
	Signature   string
	Slot        uint64
	BlockTime   time.Time
	Amount      uint64
	Fee         uint64
	FromAddress *string
	ToAddress   *string
	Memo        *string
	Confirmed   bool
	Err         *string // nil if transaction succeeded
}

// signatureToDomain converts signature metadata to a Transaction without
// amounts; those need the full transaction.
func signatureToDomain(sig *rpc.TransactionSignature) *Transaction {
	txn := &Transaction{
		Signature: sig.Signature.String(),
		Slot:      sig.Slot,
		Confirmed: sig.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			sig.ConfirmationStatus == rpc.ConfirmationStatusFinalized,
	}
	if sig.BlockTime != nil {
		txn.BlockTime = sig.BlockTime.Time().UTC()
	}
	if sig.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", sig.Err)
		txn.Err = &errMsg
	}
	return txn
}

// parseTransactionFromResult extracts the system transfer and memo from a
// full transaction. Failed transactions keep metadata only.
func parseTransactionFromResult(sig *rpc.TransactionSignature, result *rpc.GetTransactionResult) (*Transaction, error) {
	txn := signatureToDomain(sig)
	if sig.Err != nil || result == nil || result.Transaction == nil {
		return txn, nil
	}
	if result.Meta != nil {
		txn.Fee = result.Meta.Fee
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := tx.Message.AccountKeys
	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(SystemProgramID):
			amount, from, to, err := parseSystemTransfer(instruction, accountKeys)
			if err != nil {
				continue
			}
			txn.Amount = amount
			if from != nil {
				s := from.String()
				txn.FromAddress = &s
			}
			if to != nil {
				s := to.String()
				txn.ToAddress = &s
			}
		case programID.Equals(MemoProgramIDSPL) || programID.Equals(MemoProgramIDLegacy):
			if memo := parseMemo(instruction.Data); memo != "" {
				txn.Memo = &memo
			}
		}
	}
	return txn, nil
}

// parseSystemTransfer decodes a System Program Transfer:
// [0..4] instruction type (u32 LE), [4..12] lamports (u64 LE); accounts [from, to].
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (uint64, *solana.PublicKey, *solana.PublicKey, error) {
	if len(instruction.Data) < 12 {
		return 0, nil, nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}
	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return 0, nil, nil, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}
	amount := binary.LittleEndian.Uint64(instruction.Data[4:12])

	account := func(i int) *solana.PublicKey {
		if len(instruction.Accounts) <= i {
			return nil
		}
		idx := int(instruction.Accounts[i])
		if idx >= len(accountKeys) {
			return nil
		}
		addr := accountKeys[idx]
		return &addr
	}
	return amount, account(0), account(1), nil
}

// parseMemo extracts memo text. Some wallets base64 the memo; plain UTF-8
// is returned as-is.
func parseMemo(data []byte) string {
	memo := string(data)
	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil && isPrintable(decoded) {
		return string(decoded)
	}
	return memo
}

func isPrintable(b []byte) bool {
	if len(b) == 0 || !utf8.Valid(b) {
		return false
	}
	for _, c := range b {
		if c == 0 {
			return false
		}
	}
	return true
}
