package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/brojonat/walletcore/service/chain"
)

// Builder builds legacy and EIP-1559 transactions for one EVM network.
type Builder struct {
	params chain.Params
	signer types.Signer
}

func NewBuilder(b chain.Blockchain) (*Builder, error) {
	p, err := chain.ParamsFor(b)
	if err != nil {
		return nil, err
	}
	if p.FeeKind != chain.FeeKindEVM {
		return nil, fmt.Errorf("%s is not an EVM blockchain", b)
	}
	return &Builder{
		params: p,
		signer: types.LatestSignerForChainID(big.NewInt(p.ChainID)),
	}, nil
}

// UnsignedTx wraps an unsigned transaction and its signing hash.
type UnsignedTx struct {
	blockchain chain.Blockchain
	tx         *types.Transaction
	hash       []byte
	key        chain.PublicKey
}

func (u *UnsignedTx) Blockchain() chain.Blockchain { return u.blockchain }
func (u *UnsignedTx) Hashes() [][]byte            { return [][]byte{append([]byte(nil), u.hash...)} }
func (u *UnsignedTx) PublicKey() chain.PublicKey  { return u.key }
func (u *UnsignedTx) Nonce() uint64               { return u.tx.Nonce() }

// Tx returns the unsigned transaction.
func (u *UnsignedTx) Tx() *types.Transaction { return u.tx }

// BuildForSign serialises the transfer for the chain's EIP-155 signer. Token
// transfers call transfer(address,uint256) on the token contract with zero value.
func (b *Builder) BuildForSign(intent chain.Intent, state *chain.AccountState, key chain.PublicKey) (chain.UnsignedTransaction, error) {
	if intent.Blockchain != b.params.Blockchain {
		return nil, chain.ErrBlockchainMismatch.WithDetails(map[string]string{"expected": string(b.params.Blockchain), "got": string(intent.Blockchain)})
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if state == nil || !state.HasNonce {
		return nil, chain.ErrNotSupported.Withf("account nonce is unknown; refresh the wallet first")
	}
	from, err := AddressFromKey(key)
	if err != nil {
		return nil, err
	}
	if err := b.ValidateAddress(intent.Source); err != nil {
		return nil, err
	}
	if common.HexToAddress(intent.Source) != from {
		return nil, chain.ErrInvalidAddress.WithDetails(map[string]string{"address": intent.Source, "reason": "source does not match public key"})
	}
	if err := b.ValidateAddress(intent.Destination); err != nil {
		return nil, err
	}
	dest := common.HexToAddress(intent.Destination)

	minor, err := intent.Amount.MinorUnits()
	if err != nil {
		return nil, err
	}

	to := dest
	value := minor
	data := intent.CallData
	if intent.Amount.IsToken() {
		if !common.IsHexAddress(intent.Amount.Token.Contract) {
			return nil, chain.ErrInvalidAddress.WithDetails(map[string]string{"token": intent.Amount.Token.Contract})
		}
		to = common.HexToAddress(intent.Amount.Token.Contract)
		value = new(big.Int)
		data, err = erc20ABI.Pack("transfer", dest, minor)
		if err != nil {
			return nil, fmt.Errorf("failed to pack transfer: %w", err)
		}
	}

	nonce := state.SendNonce()
	var inner types.TxData
	switch p := intent.Fee.Params.(type) {
	case chain.EVMLegacyFeeParams:
		if p.GasPrice == nil || p.GasLimit == 0 {
			return nil, chain.ErrFeeParamsMissing.Withf("gas limit and gas price are required")
		}
		inner = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: new(big.Int).Set(p.GasPrice),
			Gas:      p.GasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		}
	case chain.EVMDynamicFeeParams:
		if !b.params.SupportsEIP1559 {
			return nil, chain.ErrFeeParamsMismatch.Withf("%s does not support dynamic fees", b.params.Blockchain)
		}
		if p.MaxFeePerGas == nil || p.PriorityFee == nil || p.GasLimit == 0 {
			return nil, chain.ErrFeeParamsMissing.Withf("gas limit, fee cap and priority fee are required")
		}
		inner = &types.DynamicFeeTx{
			ChainID:   big.NewInt(b.params.ChainID),
			Nonce:     nonce,
			GasTipCap: new(big.Int).Set(p.PriorityFee),
			GasFeeCap: new(big.Int).Set(p.MaxFeePerGas),
			Gas:       p.GasLimit,
			To:        &to,
			Value:     value,
			Data:      data,
		}
	default:
		return nil, chain.ErrFeeParamsMismatch.Withf("unexpected fee parameters %T", intent.Fee.Params)
	}

	tx := types.NewTx(inner)
	return &UnsignedTx{
		blockchain: b.params.Blockchain,
		tx:         tx,
		hash:       b.signer.Hash(tx).Bytes(),
		key:        chain.PublicKey{Curve: key.Curve, Bytes: append([]byte(nil), key.Bytes...)},
	}, nil
}

// BuildForSend accepts a 64-byte r||s or 65-byte r||s||v signature, derives
// the recovery id against the wallet key and encodes the signed transaction.
func (b *Builder) BuildForSend(unsigned chain.UnsignedTransaction, signatures [][]byte) (*chain.SignedTransaction, error) {
	u, ok := unsigned.(*UnsignedTx)
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
	signed, err := u.tx.WithSignature(b.signer, sig)
	if err != nil {
		return nil, chain.ErrMalformedSignature.Wrap(err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return &chain.SignedTransaction{
		Blockchain: b.params.Blockchain,
		Raw:        raw,
		Hash:       signed.Hash().Hex(),
	}, nil
}

func (b *Builder) ValidateAddress(addr string) error {
	if !common.IsHexAddress(addr) {
		return chain.ErrInvalidAddress.WithDetails(map[string]string{"address": addr})
	}
	return nil
}

// AddressFromKey derives the account address of a compressed or
// uncompressed secp256k1 public key.
func AddressFromKey(key chain.PublicKey) (common.Address, error) {
	if key.IsZero() {
		return common.Address{}, chain.ErrNoDerivation
	}
	if key.Curve != chain.Secp256k1 {
		return common.Address{}, chain.ErrWrongCurve.WithDetails(map[string]string{"expected": string(chain.Secp256k1), "got": string(key.Curve)})
	}
	switch len(key.Bytes) {
	case 33:
		pub, err := crypto.DecompressPubkey(key.Bytes)
		if err != nil {
			return common.Address{}, chain.ErrNoDerivation.Wrap(err)
		}
		return crypto.PubkeyToAddress(*pub), nil
	case 65:
		pub, err := crypto.UnmarshalPubkey(key.Bytes)
		if err != nil {
			return common.Address{}, chain.ErrNoDerivation.Wrap(err)
		}
		return crypto.PubkeyToAddress(*pub), nil
	default:
		return common.Address{}, chain.ErrNoDerivation.Withf("unexpected public key length %d", len(key.Bytes))
	}
}
