package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FeeTier is a priority level offered to the sender.
type FeeTier string

const (
	TierSlow   FeeTier = "slow"
	TierMarket FeeTier = "market"
	TierFast   FeeTier = "fast"
)

// Tiers lists the fee tiers in ascending priority.
var Tiers = []FeeTier{TierSlow, TierMarket, TierFast}

// FeeParams is the chain-specific part of a fee. The concrete type must
// match the owning blockchain's FeeKind.
type FeeParams interface {
	Kind() FeeKind
}

// UTXOFeeParams prices a UTXO transaction by size.
type UTXOFeeParams struct {
	SatoshiPerByte decimal.Decimal
	EstimatedSize  int64
}

func (UTXOFeeParams) Kind() FeeKind { return FeeKindUTXO }

// EVMLegacyFeeParams is a pre-London gas price.
type EVMLegacyFeeParams struct {
	GasLimit uint64
	GasPrice *big.Int
}

func (EVMLegacyFeeParams) Kind() FeeKind { return FeeKindEVM }

// EVMDynamicFeeParams is an EIP-1559 fee cap and tip.
type EVMDynamicFeeParams struct {
	GasLimit     uint64
	MaxFeePerGas *big.Int
	PriorityFee  *big.Int
}

func (EVMDynamicFeeParams) Kind() FeeKind { return FeeKindEVM }

// FilecoinFeeParams are the three gas fields of a Filecoin message.
type FilecoinFeeParams struct {
	GasLimit   int64
	GasFeeCap  *big.Int
	GasPremium *big.Int
}

func (FilecoinFeeParams) Kind() FeeKind { return FeeKindFilecoin }

// Fee is the total cost of a transaction plus the parameters that produce it.
// Params is nil for chains with FeeKindNone.
type Fee struct {
	Amount Amount
	Params FeeParams
	Tier   FeeTier
}

// CheckFeeParams verifies that a fee carries the variant the blockchain expects.
func CheckFeeParams(p Params, fee *Fee) error {
	if fee == nil {
		if p.FeeKind == FeeKindNone {
			return nil
		}
		return ErrFeeParamsMissing.WithDetails(map[string]string{"blockchain": string(p.Blockchain), "expected": string(p.FeeKind)})
	}
	if fee.Amount.Blockchain != p.Blockchain {
		return ErrBlockchainMismatch.WithDetails(map[string]string{"expected": string(p.Blockchain), "got": string(fee.Amount.Blockchain)})
	}
	if p.FeeKind == FeeKindNone {
		if fee.Params != nil {
			return ErrFeeParamsMismatch.WithDetails(map[string]string{"blockchain": string(p.Blockchain), "got": string(fee.Params.Kind())})
		}
		return nil
	}
	if fee.Params == nil {
		return ErrFeeParamsMissing.WithDetails(map[string]string{"blockchain": string(p.Blockchain), "expected": string(p.FeeKind)})
	}
	if fee.Params.Kind() != p.FeeKind {
		return ErrFeeParamsMismatch.WithDetails(map[string]string{
			"blockchain": string(p.Blockchain),
			"expected":   string(p.FeeKind),
			"got":        string(fee.Params.Kind()),
		})
	}
	return nil
}

// FeeRequest carries what a chain needs to price a transfer. State is the
// latest snapshot of the source account and may be nil.
type FeeRequest struct {
	Source      string
	Destination string
	Amount      Amount
	State       *AccountState
}

// SelectFee picks the fee of the requested tier. Without a tier, a chain
// that offers a single fee uses it and others use the market tier. No fees
// selects nothing.
func SelectFee(fees []Fee, tier FeeTier) (*Fee, error) {
	if len(fees) == 0 {
		return nil, nil
	}
	want := tier
	if want == "" {
		if len(fees) == 1 {
			f := fees[0]
			return &f, nil
		}
		want = TierMarket
	}
	for _, f := range fees {
		if f.Tier == want {
			f := f
			return &f, nil
		}
	}
	return nil, ErrFeeUnavailable.Withf("no %s fee offered", want)
}
