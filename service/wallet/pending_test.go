package wallet

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/walletcore/service/chain"
)

func btc(v string) chain.Amount {
	return chain.NewAmount(chain.Bitcoin, decimal.RequireFromString(v))
}

func TestClearPending(t *testing.T) {
	nonce := uint64(7)
	spent := chain.Outpoint{TxID: "aa", Vout: 1}

	tests := []struct {
		name    string
		record  PendingTransaction
		prev    *chain.AccountState
		next    *chain.AccountState
		settled bool
	}{
		{
			name:    "sequence advanced past the nonce",
			record:  PendingTransaction{Hash: "h", Nonce: &nonce},
			next:    &chain.AccountState{Nonce: 8, HasNonce: true},
			settled: true,
		},
		{
			name:   "sequence still at the nonce",
			record: PendingTransaction{Hash: "h", Nonce: &nonce},
			next:   &chain.AccountState{Nonce: 7, HasNonce: true, RecentHashes: []string{"h"}},
		},
		{
			name:    "hash listed by the provider",
			record:  PendingTransaction{Hash: "sig"},
			next:    &chain.AccountState{RecentHashes: []string{"other", "sig"}},
			settled: true,
		},
		{
			name:   "input still unspent",
			record: PendingTransaction{Hash: "bb", Outpoints: []chain.Outpoint{spent}},
			next:   &chain.AccountState{UTXOs: []chain.UTXO{{TxID: "aa", Vout: 1, Value: 5000}}},
		},
		{
			name:   "change output unconfirmed",
			record: PendingTransaction{Hash: "bb", Outpoints: []chain.Outpoint{spent}},
			next:   &chain.AccountState{UTXOs: []chain.UTXO{{TxID: "bb", Vout: 1, Value: 1000}}, PendingCount: 1},
		},
		{
			name:    "change output confirmed",
			record:  PendingTransaction{Hash: "bb", Outpoints: []chain.Outpoint{spent}},
			next:    &chain.AccountState{UTXOs: []chain.UTXO{{TxID: "bb", Vout: 1, Value: 1000, Confirmations: 1}}},
			settled: true,
		},
		{
			name:    "no change and mempool empty",
			record:  PendingTransaction{Hash: "bb", Outpoints: []chain.Outpoint{spent}},
			next:    &chain.AccountState{},
			settled: true,
		},
		{
			name:   "no change and still in mempool",
			record: PendingTransaction{Hash: "bb", Outpoints: []chain.Outpoint{spent}},
			next:   &chain.AccountState{PendingCount: 1},
		},
		{
			name:    "balance moved with nothing pending",
			record:  PendingTransaction{Hash: "x"},
			prev:    &chain.AccountState{Balance: btc("1")},
			next:    &chain.AccountState{Balance: btc("0.5")},
			settled: true,
		},
		{
			name:   "balance unchanged",
			record: PendingTransaction{Hash: "x"},
			prev:   &chain.AccountState{Balance: btc("1")},
			next:   &chain.AccountState{Balance: btc("1")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, cleared := clearPending([]PendingTransaction{tt.record}, tt.prev, tt.next)
			if tt.settled {
				assert.Empty(t, kept)
				require.Len(t, cleared, 1)
				assert.True(t, cleared[0].Confirmed)
				return
			}
			assert.Len(t, kept, 1)
			assert.Empty(t, cleared)
		})
	}
}

func TestState_MarshalJSON(t *testing.T) {
	s := State{
		Status: StatusFailed,
		Err:    chain.ErrReserveNotMet.WithDetails(map[string]string{"reserve": "10 XRP"}),
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "failed", out["status"])
	assert.Equal(t, "chain_semantic", out["error_kind"])
	assert.Equal(t, "RESERVE_NOT_MET", out["error_code"])
	assert.Equal(t, map[string]any{"reserve": "10 XRP"}, out["error_details"])
	assert.True(t, s.Terminal())
	assert.False(t, State{Status: StatusLoading}.Terminal())
}
