package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/wallet"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "wallets.xrp.rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", Subject("xrp", "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"))
}

func TestFromWalletEvent_StateChanged(t *testing.T) {
	// Setup
	now := time.Now().UTC()
	ev := &wallet.Event{
		Type:       wallet.EventStateChanged,
		Blockchain: chain.XRP,
		Address:    "rWallet",
		State: &wallet.State{
			Status: wallet.StatusFailed,
			Err:    chain.ErrProvidersExhausted.WithDetails(map[string]string{"operation": "account_info"}),
		},
		Timestamp: now,
	}

	// Act
	out := FromWalletEvent(ev)

	// Assert
	assert.Equal(t, "state_changed", out.Type)
	assert.Equal(t, "xrp", out.Blockchain)
	assert.Equal(t, "failed", out.Status)
	assert.Equal(t, "transient", out.ErrorKind)
	assert.Equal(t, "PROVIDERS_EXHAUSTED", out.ErrorCode)
	assert.Equal(t, map[string]string{"operation": "account_info"}, out.ErrorDetails)
	assert.Equal(t, now, out.Timestamp)
	assert.False(t, out.PublishedAt.IsZero())
}

func TestFromWalletEvent_TransactionSent(t *testing.T) {
	nonce := uint64(12)
	fee := chain.NewAmount(chain.Ethereum, decimal.RequireFromString("0.00105"))
	ev := &wallet.Event{
		Type:       wallet.EventTransactionSent,
		Blockchain: chain.Ethereum,
		Address:    "0xabc",
		Transaction: &wallet.PendingTransaction{
			Hash:        "0xdeadbeef",
			Destination: "0xdef",
			Value:       chain.NewAmount(chain.Ethereum, decimal.RequireFromString("1.5")),
			Fee:         &fee,
			Nonce:       &nonce,
		},
		Account: &chain.AccountState{Balance: chain.NewAmount(chain.Ethereum, decimal.NewFromInt(3)), Nonce: 12},
	}

	out := FromWalletEvent(ev)

	assert.Equal(t, "transaction_sent", out.Type)
	assert.Equal(t, "0xdeadbeef", out.Hash)
	assert.Equal(t, "1.5 ETH", out.Amount)
	assert.Equal(t, "0.00105 ETH", out.Fee)
	require.NotNil(t, out.TxNonce)
	assert.Equal(t, uint64(12), *out.TxNonce)
	assert.Equal(t, "3 ETH", out.Balance)
	assert.Empty(t, out.Status)
}

func TestSink_Publish(t *testing.T) {
	// Setup
	mock := NewMockPublisher()
	sink := NewSink(mock)
	ev := &wallet.Event{
		Type:       wallet.EventStateChanged,
		Blockchain: chain.Solana,
		Address:    "So1",
		State:      &wallet.State{Status: wallet.StatusIdle},
		Timestamp:  time.Now(),
	}

	// Act
	require.NoError(t, sink.Publish(context.Background(), ev))

	// Assert
	events := mock.Events("solana", "So1")
	require.Len(t, events, 1)
	assert.Equal(t, "state_changed", events[0].Type)
	assert.Empty(t, mock.Events("solana", "other"))

	mock.FailWith(errors.New("nats: no responders"))
	assert.Error(t, sink.Publish(context.Background(), &wallet.Event{Blockchain: chain.Solana, Address: "So1"}))
	assert.Len(t, mock.Events("", ""), 1)
}

func TestMsgID(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sent := &WalletEvent{Type: "transaction_sent", Blockchain: "xrp", Address: "rA", Hash: "ABC", Timestamp: ts}
	resent := &WalletEvent{Type: "transaction_sent", Blockchain: "xrp", Address: "rA", Hash: "ABC", Timestamp: ts.Add(time.Second)}
	settled := &WalletEvent{Type: "transaction_settled", Blockchain: "xrp", Address: "rA", Hash: "ABC", Timestamp: ts}
	idle := &WalletEvent{Type: "state_changed", Blockchain: "xrp", Address: "rA", Status: "idle", Timestamp: ts}
	loading := &WalletEvent{Type: "state_changed", Blockchain: "xrp", Address: "rA", Status: "loading", Timestamp: ts}

	assert.Equal(t, sent.MsgID(), resent.MsgID())
	assert.NotEqual(t, sent.MsgID(), settled.MsgID())
	assert.NotEqual(t, idle.MsgID(), loading.MsgID())
}

func TestMockPublisher_DropsDuplicates(t *testing.T) {
	mock := NewMockPublisher()
	ev := &WalletEvent{Type: "transaction_sent", Blockchain: "xrp", Address: "rA", Hash: "ABC"}

	require.NoError(t, mock.PublishWalletEvent(context.Background(), ev))
	require.NoError(t, mock.PublishWalletEvent(context.Background(), ev))

	assert.Len(t, mock.Events("xrp", "rA"), 1)
}

func TestNewMsg(t *testing.T) {
	msg, err := newMsg(&WalletEvent{Type: "state_changed", Blockchain: "bitcoin", Address: "bc1q", Status: "idle"})
	require.NoError(t, err)

	assert.Equal(t, "wallets.bitcoin.bc1q", msg.Subject)
	assert.Equal(t, "state_changed", msg.Header.Get(HeaderEventType))
	assert.Contains(t, string(msg.Data), `"status":"idle"`)
}

func TestStreamConfig(t *testing.T) {
	cfg := streamConfig()
	assert.Equal(t, StreamName, cfg.Name)
	assert.Equal(t, []string{"wallets.>"}, cfg.Subjects)
	assert.Equal(t, DuplicateWindow, cfg.Duplicates)
}
