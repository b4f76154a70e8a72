package chain

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Token identifies a non-native asset by contract or issuer.
type Token struct {
	Contract string `json:"contract"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// Amount is a decimal value tagged with a blockchain and an asset.
// A nil Token means the chain's native coin.
type Amount struct {
	Value      decimal.Decimal
	Blockchain Blockchain
	Token      *Token
}

// NewAmount returns a native-coin amount.
func NewAmount(b Blockchain, value decimal.Decimal) Amount {
	return Amount{Value: value, Blockchain: b}
}

// NewTokenAmount returns an amount of a token on blockchain b.
func NewTokenAmount(b Blockchain, token Token, value decimal.Decimal) Amount {
	t := token
	return Amount{Value: value, Blockchain: b, Token: &t}
}

// AmountFromMinorUnits converts a minor-unit integer of the native coin to an Amount.
func AmountFromMinorUnits(b Blockchain, minor *big.Int) (Amount, error) {
	p, err := ParamsFor(b)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: FromMinorUnits(minor, p.Decimals), Blockchain: b}, nil
}

// TokenAmountFromMinorUnits converts a minor-unit integer of a token to an Amount.
func TokenAmountFromMinorUnits(b Blockchain, token Token, minor *big.Int) Amount {
	return NewTokenAmount(b, token, FromMinorUnits(minor, token.Decimals))
}

// FromMinorUnits shifts an integer number of minor units into display units.
func FromMinorUnits(minor *big.Int, decimals int32) decimal.Decimal {
	if minor == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(minor, -decimals)
}

// ToMinorUnits shifts a display value into minor units. Values with more
// precision than the exponent allows are rejected rather than rounded.
func ToMinorUnits(value decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := value.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, ErrInvalidAmount.Withf("amount %s has more than %d decimal places", value.String(), decimals)
	}
	return shifted.BigInt(), nil
}

// Decimals returns the exponent used by this amount's asset.
func (a Amount) Decimals() int32 {
	if a.Token != nil {
		return a.Token.Decimals
	}
	p, err := ParamsFor(a.Blockchain)
	if err != nil {
		return 0
	}
	return p.Decimals
}

// MinorUnits converts the amount to an integer number of minor units.
func (a Amount) MinorUnits() (*big.Int, error) {
	if _, err := ParamsFor(a.Blockchain); err != nil {
		return nil, err
	}
	return ToMinorUnits(a.Value, a.Decimals())
}

// IsToken reports whether the amount is denominated in a token.
func (a Amount) IsToken() bool {
	return a.Token != nil
}

// IsPositive reports whether the value is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a.Value.IsPositive()
}

// SameAsset reports whether a and b may be combined arithmetically.
func (a Amount) SameAsset(b Amount) bool {
	if a.Blockchain != b.Blockchain {
		return false
	}
	if (a.Token == nil) != (b.Token == nil) {
		return false
	}
	if a.Token != nil && (a.Token.Contract != b.Token.Contract || a.Token.Decimals != b.Token.Decimals) {
		return false
	}
	return true
}

// Add returns a+b.
func (a Amount) Add(b Amount) (Amount, error) {
	if !a.SameAsset(b) {
		return Amount{}, ErrAmountMismatch
	}
	a.Value = a.Value.Add(b.Value)
	return a, nil
}

// Sub returns a-b.
func (a Amount) Sub(b Amount) (Amount, error) {
	if !a.SameAsset(b) {
		return Amount{}, ErrAmountMismatch
	}
	a.Value = a.Value.Sub(b.Value)
	return a, nil
}

// Cmp compares a and b like big.Int.Cmp.
func (a Amount) Cmp(b Amount) (int, error) {
	if !a.SameAsset(b) {
		return 0, ErrAmountMismatch
	}
	return a.Value.Cmp(b.Value), nil
}

// Symbol returns the ticker of the asset.
func (a Amount) Symbol() string {
	if a.Token != nil {
		return a.Token.Symbol
	}
	p, err := ParamsFor(a.Blockchain)
	if err != nil {
		return ""
	}
	return p.Symbol
}

func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.Value.String(), a.Symbol())
}

type amountJSON struct {
	Value      string     `json:"value"`
	Blockchain Blockchain `json:"blockchain"`
	Token      *Token     `json:"token,omitempty"`
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(amountJSON{Value: a.Value.String(), Blockchain: a.Blockchain, Token: a.Token})
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw amountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := decimal.NewFromString(raw.Value)
	if err != nil {
		return fmt.Errorf("invalid amount value %q: %w", raw.Value, err)
	}
	*a = Amount{Value: v, Blockchain: raw.Blockchain, Token: raw.Token}
	return nil
}
