package solana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/walletcore/service/chain"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	mu           sync.Mutex
	balance      uint64
	slot         uint64
	blockhash    solana.Hash
	existing     map[solana.PublicKey]bool
	rentMinimum  uint64
	signatures   []*rpc.TransactionSignature
	transactions map[string]*rpc.GetTransactionResult
	txErr        error
	sendErr      error
	sent         [][]byte
	err          error
}

func (m *mockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey) (*rpc.GetBalanceResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	var res rpc.GetBalanceResult
	body := map[string]any{"context": map[string]any{"slot": m.slot}, "value": m.balance}
	if err := roundTrip(body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (m *mockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if !m.existing[account] {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Lamports: 1}}, nil
}

func (m *mockRPCClient) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.rentMinimum, nil
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	var res rpc.GetLatestBlockhashResult
	body := map[string]any{
		"context": map[string]any{"slot": m.slot},
		"value":   map[string]any{"blockhash": m.blockhash.String(), "lastValidBlockHeight": 10},
	}
	if err := roundTrip(body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (m *mockRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.txErr != nil {
		return nil, m.txErr
	}
	if m.transactions == nil {
		return nil, nil
	}
	return m.transactions[signature.String()], nil
}

func (m *mockRPCClient) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	if m.err != nil {
		return solana.Signature{}, m.err
	}
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	m.mu.Lock()
	m.sent = append(m.sent, raw)
	m.mu.Unlock()
	var sig solana.Signature
	copy(sig[:], raw)
	return sig, nil
}

func roundTrip(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(mock *mockRPCClient) *Client {
	return NewClient("mock", mock, 0, testLogger())
}

func TestClient_BalanceAndBlockhash(t *testing.T) {
	ctx := context.Background()

	// Setup
	mock := &mockRPCClient{balance: 1500000000, slot: 321, blockhash: solana.Hash{7}}
	client := newTestClient(mock)

	// Act
	lamports, slot, err := client.Balance(ctx, solana.PublicKey{1})
	require.NoError(t, err)
	hash, err := client.LatestBlockhash(ctx)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, uint64(1500000000), lamports)
	assert.Equal(t, uint64(321), slot)
	assert.Equal(t, solana.Hash{7}, hash)
}

func TestClient_AccountExists(t *testing.T) {
	known := solana.PublicKey{1}
	client := newTestClient(&mockRPCClient{existing: map[solana.PublicKey]bool{known: true}})

	ok, err := client.AccountExists(context.Background(), known)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.AccountExists(context.Background(), solana.PublicKey{2})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_History_FallsBackToMetadata(t *testing.T) {
	ctx := context.Background()

	// Setup: the transaction fetch fails, so only signature metadata survives.
	now := solana.UnixTimeSeconds(time.Now().Unix())
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			{Signature: solana.Signature{1}, Slot: 100, BlockTime: &now, ConfirmationStatus: rpc.ConfirmationStatusFinalized},
			{Signature: solana.Signature{2}, Slot: 99, BlockTime: &now},
		},
		txErr: errors.New("503 service unavailable"),
	}
	client := newTestClient(mock)

	// Act
	txns, err := client.History(ctx, solana.PublicKey{9}, 10)

	// Assert
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, solana.Signature{1}.String(), txns[0].Signature)
	assert.True(t, txns[0].Confirmed)
	assert.False(t, txns[1].Confirmed)
	assert.Zero(t, txns[0].Amount)
}

func TestClient_History_ErrorFromRPC(t *testing.T) {
	client := newTestClient(&mockRPCClient{err: errors.New("RPC connection failed")})

	txns, err := client.History(context.Background(), solana.PublicKey{9}, 10)

	assert.Error(t, err)
	assert.Nil(t, txns)
}

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "unfunded payer",
			err:  &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed: Attempt to debit an account but found no record of a prior credit."},
			want: chain.ErrInsufficientFunds,
		},
		{
			name: "rent",
			err:  &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed: Transaction results in an account (1) with insufficient funds for rent"},
			want: chain.ErrReserveNotMet,
		},
		{
			name: "expired blockhash",
			err:  &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed: Blockhash not found"},
			want: chain.ErrTxRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifySendError(tt.err), tt.want)
		})
	}

	transport := errors.New("dial tcp: connection refused")
	assert.True(t, chain.IsRetryable(classifySendError(transport)))
}
