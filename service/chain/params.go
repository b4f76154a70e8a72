package chain

import (
	"fmt"
	"sort"
)

// Blockchain identifies one network. Mainnets and testnets are distinct values.
type Blockchain string

const (
	Bitcoin         Blockchain = "bitcoin"
	BitcoinTestnet  Blockchain = "bitcoin-testnet"
	Ravencoin       Blockchain = "ravencoin"
	Ethereum        Blockchain = "ethereum"
	EthereumSepolia Blockchain = "ethereum-sepolia"
	Filecoin        Blockchain = "filecoin"
	XRP             Blockchain = "xrp"
	Solana          Blockchain = "solana"
)

// Family groups blockchains that share a transaction builder.
type Family string

const (
	FamilyUTXO    Family = "utxo"
	FamilyAccount Family = "account"
	FamilyLedger  Family = "ledger"
)

// Curve is the elliptic curve a chain's keys live on.
type Curve string

const (
	Secp256k1 Curve = "secp256k1"
	Ed25519   Curve = "ed25519"
)

// FeeKind names the Fee Parameters variant a chain expects.
type FeeKind string

const (
	FeeKindNone     FeeKind = "none"
	FeeKindUTXO     FeeKind = "utxo"
	FeeKindEVM      FeeKind = "evm"
	FeeKindFilecoin FeeKind = "filecoin"
)

// Params are the static constants of a blockchain. Pure data.
type Params struct {
	Blockchain Blockchain
	Name       string
	Symbol     string
	Family     Family

	// Curves lists the curves a wallet may use on this chain; the first is the default.
	Curves []Curve

	// Decimals is the fixed exponent between the display unit and the minor unit
	// (satoshi, wei, attoFIL, drop, lamport).
	Decimals int32

	// DustThreshold is the smallest output worth creating, in minor units.
	DustThreshold int64

	// MinConfirmations is how many confirmations an output needs before it can be spent.
	MinConfirmations int64

	FeeKind       FeeKind
	FeeSelectable bool

	// FixedFeePerSignature is used by chains with no fee market (minor units).
	FixedFeePerSignature int64

	// ChainID is the EIP-155 chain id for EVM networks.
	ChainID int64

	SupportsEIP1559 bool
	SupportsRBF     bool
	Testnet         bool
}

// SupportsCurve reports whether keys on the given curve can be used on this chain.
func (p Params) SupportsCurve(c Curve) bool {
	for _, curve := range p.Curves {
		if curve == c {
			return true
		}
	}
	return false
}

// DefaultCurve returns the curve used when a wallet does not say otherwise.
func (p Params) DefaultCurve() Curve {
	return p.Curves[0]
}

var registry = map[Blockchain]Params{
	Bitcoin: {
		Blockchain:       Bitcoin,
		Name:             "Bitcoin",
		Symbol:           "BTC",
		Family:           FamilyUTXO,
		Curves:           []Curve{Secp256k1},
		Decimals:         8,
		DustThreshold:    546,
		MinConfirmations: 1,
		FeeKind:          FeeKindUTXO,
		FeeSelectable:    true,
		SupportsRBF:      true,
	},
	BitcoinTestnet: {
		Blockchain:       BitcoinTestnet,
		Name:             "Bitcoin Testnet",
		Symbol:           "tBTC",
		Family:           FamilyUTXO,
		Curves:           []Curve{Secp256k1},
		Decimals:         8,
		DustThreshold:    546,
		MinConfirmations: 1,
		FeeKind:          FeeKindUTXO,
		FeeSelectable:    true,
		SupportsRBF:      true,
		Testnet:          true,
	},
	Ravencoin: {
		Blockchain:       Ravencoin,
		Name:             "Ravencoin",
		Symbol:           "RVN",
		Family:           FamilyUTXO,
		Curves:           []Curve{Secp256k1},
		Decimals:         8,
		DustThreshold:    546,
		MinConfirmations: 1,
		FeeKind:          FeeKindUTXO,
		FeeSelectable:    true,
	},
	Ethereum: {
		Blockchain:      Ethereum,
		Name:            "Ethereum",
		Symbol:          "ETH",
		Family:          FamilyAccount,
		Curves:          []Curve{Secp256k1},
		Decimals:        18,
		FeeKind:         FeeKindEVM,
		FeeSelectable:   true,
		ChainID:         1,
		SupportsEIP1559: true,
	},
	EthereumSepolia: {
		Blockchain:      EthereumSepolia,
		Name:            "Ethereum Sepolia",
		Symbol:          "SepoliaETH",
		Family:          FamilyAccount,
		Curves:          []Curve{Secp256k1},
		Decimals:        18,
		FeeKind:         FeeKindEVM,
		FeeSelectable:   true,
		ChainID:         11155111,
		SupportsEIP1559: true,
		Testnet:         true,
	},
	Filecoin: {
		Blockchain:    Filecoin,
		Name:          "Filecoin",
		Symbol:        "FIL",
		Family:        FamilyAccount,
		Curves:        []Curve{Secp256k1},
		Decimals:      18,
		FeeKind:       FeeKindFilecoin,
		FeeSelectable: false,
	},
	XRP: {
		Blockchain:    XRP,
		Name:          "XRP Ledger",
		Symbol:        "XRP",
		Family:        FamilyLedger,
		Curves:        []Curve{Secp256k1, Ed25519},
		Decimals:      6,
		FeeKind:       FeeKindNone,
		FeeSelectable: true,
	},
	Solana: {
		Blockchain:           Solana,
		Name:                 "Solana",
		Symbol:               "SOL",
		Family:               FamilyAccount,
		Curves:               []Curve{Ed25519},
		Decimals:             9,
		FeeKind:              FeeKindNone,
		FeeSelectable:        false,
		FixedFeePerSignature: 5000,
	},
}

// ParamsFor returns the parameters of a blockchain.
func ParamsFor(b Blockchain) (Params, error) {
	p, ok := registry[b]
	if !ok {
		return Params{}, fmt.Errorf("unsupported blockchain %q", b)
	}
	return p, nil
}

// MustParams is like ParamsFor but panics on an unknown blockchain.
// Only use it with the constants declared in this package.
func MustParams(b Blockchain) Params {
	p, err := ParamsFor(b)
	if err != nil {
		panic(err)
	}
	return p
}

// Supported lists every known blockchain in a stable order.
func Supported() []Blockchain {
	out := make([]Blockchain, 0, len(registry))
	for b := range registry {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseBlockchain validates a user-supplied blockchain name.
func ParseBlockchain(s string) (Blockchain, error) {
	b := Blockchain(s)
	if _, ok := registry[b]; !ok {
		return "", fmt.Errorf("unsupported blockchain %q", s)
	}
	return b, nil
}
