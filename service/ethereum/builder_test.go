package ethereum

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/walletcore/service/chain"
)

const testDestination = "0x3535353535353535353535353535353535353535"

type testAccount struct {
	priv    *ecdsa.PrivateKey
	key     chain.PublicKey
	address string
}

func newTestAccount(t *testing.T, seed string) testAccount {
	t.Helper()
	d := sha256.Sum256([]byte(seed))
	priv, err := crypto.ToECDSA(d[:])
	require.NoError(t, err)
	return testAccount{
		priv:    priv,
		key:     chain.PublicKey{Curve: chain.Secp256k1, Bytes: crypto.CompressPubkey(&priv.PublicKey)},
		address: crypto.PubkeyToAddress(priv.PublicKey).Hex(),
	}
}

// sign returns the raw 64-byte r||s signature an external signer produces.
func (a testAccount) sign(t *testing.T, hash []byte) []byte {
	t.Helper()
	sig, err := crypto.Sign(hash, a.priv)
	require.NoError(t, err)
	return sig[:64]
}

func legacyIntent(from string, amount string, gasPrice int64) chain.Intent {
	return chain.Intent{
		Blockchain:  chain.Ethereum,
		Source:      from,
		Destination: testDestination,
		Amount:      chain.NewAmount(chain.Ethereum, decimal.RequireFromString(amount)),
		Fee: &chain.Fee{
			Amount: chain.NewAmount(chain.Ethereum, decimal.Zero),
			Params: chain.EVMLegacyFeeParams{GasLimit: 21000, GasPrice: big.NewInt(gasPrice)},
			Tier:   chain.TierMarket,
		},
	}
}

func TestBuilder_LegacyTransferEndToEnd(t *testing.T) {
	// Setup
	acct := newTestAccount(t, "ethereum-e2e")
	b, err := NewBuilder(chain.Ethereum)
	require.NoError(t, err)
	intent := legacyIntent(acct.address, "1.5", 50)
	state := &chain.AccountState{Blockchain: chain.Ethereum, Nonce: 7, HasNonce: true, NextNonce: 7}

	// Act
	unsigned, err := b.BuildForSign(intent, state, acct.key)
	require.NoError(t, err)
	again, err := b.BuildForSign(intent, state, acct.key)
	require.NoError(t, err)

	hashes := unsigned.Hashes()
	require.Len(t, hashes, 1)
	assert.Equal(t, hashes, again.Hashes(), "hash must be deterministic")
	assert.Equal(t, uint64(7), unsigned.(chain.NonceUser).Nonce())

	signed, err := b.BuildForSend(unsigned, [][]byte{acct.sign(t, hashes[0])})
	require.NoError(t, err)

	// Assert
	decoded := new(types.Transaction)
	require.NoError(t, decoded.UnmarshalBinary(signed.Raw))
	assert.Equal(t, uint64(7), decoded.Nonce())
	assert.Equal(t, uint64(21000), decoded.Gas())
	assert.Equal(t, big.NewInt(50), decoded.GasPrice())
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, 0, want.Cmp(decoded.Value()))
	assert.Equal(t, common.HexToAddress(testDestination), *decoded.To())
	assert.Equal(t, decoded.Hash().Hex(), signed.Hash)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), decoded)
	require.NoError(t, err)
	assert.Equal(t, acct.address, sender.Hex())
}

func TestBuilder_UsesPendingNonce(t *testing.T) {
	acct := newTestAccount(t, "ethereum-nonce")
	b, err := NewBuilder(chain.Ethereum)
	require.NoError(t, err)

	unsigned, err := b.BuildForSign(legacyIntent(acct.address, "0.1", 1), &chain.AccountState{Nonce: 3, NextNonce: 5, HasNonce: true}, acct.key)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), unsigned.(*UnsignedTx).Tx().Nonce())
}

func TestBuilder_DynamicFee(t *testing.T) {
	// Setup
	acct := newTestAccount(t, "ethereum-dynamic")
	b, err := NewBuilder(chain.EthereumSepolia)
	require.NoError(t, err)
	intent := legacyIntent(acct.address, "0.25", 0)
	intent.Blockchain = chain.EthereumSepolia
	intent.Amount = chain.NewAmount(chain.EthereumSepolia, decimal.RequireFromString("0.25"))
	intent.Fee = &chain.Fee{
		Amount: chain.NewAmount(chain.EthereumSepolia, decimal.Zero),
		Params: chain.EVMDynamicFeeParams{GasLimit: 21000, MaxFeePerGas: big.NewInt(30e9), PriorityFee: big.NewInt(2e9)},
	}

	// Act
	unsigned, err := b.BuildForSign(intent, &chain.AccountState{HasNonce: true}, acct.key)
	require.NoError(t, err)
	signed, err := b.BuildForSend(unsigned, [][]byte{acct.sign(t, unsigned.Hashes()[0])})
	require.NoError(t, err)

	// Assert
	decoded := new(types.Transaction)
	require.NoError(t, decoded.UnmarshalBinary(signed.Raw))
	assert.Equal(t, uint8(types.DynamicFeeTxType), decoded.Type())
	assert.Equal(t, big.NewInt(11155111), decoded.ChainId())
	assert.Equal(t, big.NewInt(30e9), decoded.GasFeeCap())
	assert.Equal(t, big.NewInt(2e9), decoded.GasTipCap())
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(11155111)), decoded)
	require.NoError(t, err)
	assert.Equal(t, acct.address, sender.Hex())
}

func TestBuilder_TokenTransfer(t *testing.T) {
	// Setup
	acct := newTestAccount(t, "ethereum-token")
	b, err := NewBuilder(chain.Ethereum)
	require.NoError(t, err)
	usdc := chain.Token{Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6}
	intent := legacyIntent(acct.address, "0", 10)
	intent.Amount = chain.NewTokenAmount(chain.Ethereum, usdc, decimal.RequireFromString("12.5"))
	intent.Fee.Params = chain.EVMLegacyFeeParams{GasLimit: 65000, GasPrice: big.NewInt(10)}

	// Act
	unsigned, err := b.BuildForSign(intent, &chain.AccountState{HasNonce: true}, acct.key)
	require.NoError(t, err)
	tx := unsigned.(*UnsignedTx).Tx()

	// Assert
	assert.Equal(t, common.HexToAddress(usdc.Contract), *tx.To())
	assert.Equal(t, 0, tx.Value().Sign())
	method := erc20ABI.Methods["transfer"]
	assert.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testDestination), args[0])
	assert.Equal(t, big.NewInt(12500000), args[1])
}

func TestBuilder_Preconditions(t *testing.T) {
	acct := newTestAccount(t, "ethereum-pre")
	other := newTestAccount(t, "ethereum-other")
	b, err := NewBuilder(chain.Ethereum)
	require.NoError(t, err)
	state := &chain.AccountState{HasNonce: true}

	tests := []struct {
		name   string
		mutate func(*chain.Intent, *chain.PublicKey, **chain.AccountState)
		want   error
	}{
		{
			name:   "missing key",
			mutate: func(i *chain.Intent, k *chain.PublicKey, s **chain.AccountState) { *k = chain.PublicKey{} },
			want:   chain.ErrNoDerivation,
		},
		{
			name: "wrong curve",
			mutate: func(i *chain.Intent, k *chain.PublicKey, s **chain.AccountState) {
				*k = chain.PublicKey{Curve: chain.Ed25519, Bytes: make([]byte, 32)}
			},
			want: chain.ErrWrongCurve,
		},
		{
			name:   "source not owned by key",
			mutate: func(i *chain.Intent, k *chain.PublicKey, s **chain.AccountState) { i.Source = other.address },
			want:   chain.ErrInvalidAddress,
		},
		{
			name:   "bad destination",
			mutate: func(i *chain.Intent, k *chain.PublicKey, s **chain.AccountState) { i.Destination = "0x1234" },
			want:   chain.ErrInvalidAddress,
		},
		{
			name:   "missing fee",
			mutate: func(i *chain.Intent, k *chain.PublicKey, s **chain.AccountState) { i.Fee = nil },
			want:   chain.ErrFeeParamsMissing,
		},
		{
			name: "utxo fee params",
			mutate: func(i *chain.Intent, k *chain.PublicKey, s **chain.AccountState) {
				i.Fee.Params = chain.UTXOFeeParams{SatoshiPerByte: decimal.NewFromInt(1)}
			},
			want: chain.ErrFeeParamsMismatch,
		},
		{
			name:   "unknown nonce",
			mutate: func(i *chain.Intent, k *chain.PublicKey, s **chain.AccountState) { *s = &chain.AccountState{} },
			want:   chain.ErrNotSupported,
		},
		{
			name: "other chain",
			mutate: func(i *chain.Intent, k *chain.PublicKey, s **chain.AccountState) {
				i.Blockchain = chain.EthereumSepolia
			},
			want: chain.ErrBlockchainMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := legacyIntent(acct.address, "1", 1)
			key := acct.key
			st := state
			tt.mutate(&intent, &key, &st)

			_, err := b.BuildForSign(intent, st, key)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, chain.IsRetryable(err))
		})
	}
}

func TestBuilder_RejectsForeignSignature(t *testing.T) {
	acct := newTestAccount(t, "ethereum-sig")
	other := newTestAccount(t, "ethereum-sig-other")
	b, err := NewBuilder(chain.Ethereum)
	require.NoError(t, err)

	unsigned, err := b.BuildForSign(legacyIntent(acct.address, "1", 1), &chain.AccountState{HasNonce: true}, acct.key)
	require.NoError(t, err)
	hash := unsigned.Hashes()[0]

	_, err = b.BuildForSend(unsigned, [][]byte{other.sign(t, hash)})
	assert.ErrorIs(t, err, chain.ErrMalformedSignature)

	_, err = b.BuildForSend(unsigned, [][]byte{make([]byte, 10)})
	assert.ErrorIs(t, err, chain.ErrMalformedSignature)

	_, err = b.BuildForSend(unsigned, nil)
	assert.ErrorIs(t, err, chain.ErrMalformedSignature)
}

func TestAddressFromKey_Uncompressed(t *testing.T) {
	acct := newTestAccount(t, "ethereum-uncompressed")
	addr, err := AddressFromKey(chain.PublicKey{Curve: chain.Secp256k1, Bytes: crypto.FromECDSAPub(&acct.priv.PublicKey)})
	require.NoError(t, err)
	assert.Equal(t, acct.address, addr.Hex())
}
