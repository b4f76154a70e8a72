package bitcoin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/walletcore/service/chain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEsploraServer(t *testing.T, confirmed bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /address/{addr}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"address":       r.PathValue("addr"),
			"chain_stats":   map[string]any{"funded_txo_sum": 100000, "spent_txo_sum": 20000, "tx_count": 3},
			"mempool_stats": map[string]any{"funded_txo_sum": 5000, "spent_txo_sum": 0, "tx_count": 1},
		})
	})
	mux.HandleFunc("GET /address/{addr}/utxo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"txid":"` + txid("a") + `","vout":0,"value":50000,"status":{"confirmed":true,"block_height":100}},
			{"txid":"` + txid("b") + `","vout":1,"value":5000,"status":{"confirmed":false}}
		]`))
	})
	mux.HandleFunc("GET /blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("105"))
	})
	mux.HandleFunc("GET /fee-estimates", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"1":20.5,"2":18,"3":12.25,"6":8,"144":1.01}`))
	})
	mux.HandleFunc("POST /tx", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("sendrawtransaction RPC error: bad-txns-inputs-missingorspent"))
			return
		}
		w.Write([]byte(txid("c")))
	})
	mux.HandleFunc("GET /tx/{hash}/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"confirmed": confirmed})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEsplora_AddressSummaryAndUTXOs(t *testing.T) {
	srv := newEsploraServer(t, false)
	c := NewEsploraClient("esplora", srv.URL, chain.Bitcoin, time.Second, testLogger())
	ctx := context.Background()

	summary, err := c.AddressSummary(ctx, "addr")
	require.NoError(t, err)
	assert.Equal(t, int64(80000), summary.Confirmed)
	assert.Equal(t, int64(5000), summary.Unconfirmed)
	assert.Equal(t, 1, summary.MempoolTxs)

	utxos, err := c.UTXOs(ctx, "addr")
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	assert.Equal(t, int64(6), utxos[0].Confirmations)
	assert.Equal(t, int64(0), utxos[1].Confirmations)
	assert.Equal(t, "addr", utxos[0].Address)
}

func TestEsplora_FeeSample(t *testing.T) {
	srv := newEsploraServer(t, false)
	c := NewEsploraClient("esplora", srv.URL, chain.Bitcoin, time.Second, testLogger())

	sample, err := c.FeeSample(context.Background())
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("20.5").Equal(sample["fast"]))
	assert.True(t, decimal.RequireFromString("12.25").Equal(sample["market"]))
	assert.True(t, decimal.RequireFromString("1.01").Equal(sample["slow"]))
}

func TestEsplora_Broadcast(t *testing.T) {
	srv := newEsploraServer(t, false)
	c := NewEsploraClient("esplora", srv.URL, chain.Bitcoin, time.Second, testLogger())
	ctx := context.Background()

	hash, err := c.Broadcast(ctx, "0100")
	require.NoError(t, err)
	assert.Equal(t, txid("c"), hash)

	_, err = c.Broadcast(ctx, "bad")
	assert.ErrorIs(t, err, chain.ErrTxRejected)
	assert.False(t, chain.IsRetryable(err))
}

func TestEsplora_PushTransaction(t *testing.T) {
	ctx := context.Background()

	pending := NewEsploraClient("esplora", newEsploraServer(t, false).URL, chain.Bitcoin, time.Second, testLogger())
	hash, err := pending.PushTransaction(ctx, []byte{0x01, 0x00}, txid("a"))
	require.NoError(t, err)
	assert.Equal(t, txid("c"), hash)

	mined := NewEsploraClient("esplora", newEsploraServer(t, true).URL, chain.Bitcoin, time.Second, testLogger())
	_, err = mined.PushTransaction(ctx, []byte{0x01, 0x00}, txid("a"))
	assert.ErrorIs(t, err, chain.ErrAlreadyConfirmed)
}

func TestEsplora_History(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"txid":"t2","fee":500,"status":{"confirmed":false},
			 "vin":[{"prevout":{"scriptpubkey_address":"me","value":10000}}],
			 "vout":[{"scriptpubkey_address":"you","value":6000},{"scriptpubkey_address":"me","value":3500}]},
			{"txid":"t1","fee":300,"status":{"confirmed":true,"block_time":1700000000},
			 "vin":[{"prevout":{"scriptpubkey_address":"them","value":20000}}],
			 "vout":[{"scriptpubkey_address":"me","value":10000},{"scriptpubkey_address":"them","value":9700}]}
		]`))
	}))
	defer srv.Close()
	c := NewEsploraClient("esplora", srv.URL, chain.Bitcoin, time.Second, testLogger())

	history, err := c.History(context.Background(), "me", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, chain.Outgoing, history[0].Direction)
	assert.Equal(t, "you", history[0].Counterparty)
	assert.True(t, decimal.New(6000, -8).Equal(history[0].Amount.Value))
	require.NotNil(t, history[0].Fee)
	assert.False(t, history[0].Confirmed)

	assert.Equal(t, chain.Incoming, history[1].Direction)
	assert.Equal(t, "them", history[1].Counterparty)
	assert.True(t, decimal.New(10000, -8).Equal(history[1].Amount.Value))
	assert.Equal(t, int64(1700000000), history[1].Timestamp.Unix())
}

func TestBlockbook_Client(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/address/{addr}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":"R1","balance":"150000000","unconfirmedBalance":"-1000","unconfirmedTxs":1,"txs":9}`))
	})
	mux.HandleFunc("GET /api/v2/utxo/{addr}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"txid":"` + txid("a") + `","vout":2,"value":"150000000","confirmations":12}]`))
	})
	mux.HandleFunc("GET /api/v2/estimatefee/{blocks}", func(w http.ResponseWriter, r *http.Request) {
		rates := map[string]string{"2": "0.0102", "6": "0.0101", "24": "0.01"}
		json.NewEncoder(w).Encode(map[string]string{"result": rates[r.PathValue("blocks")]})
	})
	mux.HandleFunc("POST /api/v2/sendtx/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"` + txid("f") + `"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBlockbookClient("blockbook", srv.URL, time.Second, testLogger())
	ctx := context.Background()

	summary, err := c.AddressSummary(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, int64(150000000), summary.Confirmed)
	assert.Equal(t, int64(-1000), summary.Unconfirmed)

	utxos, err := c.UTXOs(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, int64(150000000), utxos[0].Value)
	assert.Equal(t, int64(12), utxos[0].Confirmations)

	sample, err := c.FeeSample(ctx)
	require.NoError(t, err)
	// 0.01 RVN/kB = 1,000,000 sat / 1000 B
	assert.True(t, decimal.NewFromInt(1000).Equal(sample["slow"]), sample["slow"].String())
	assert.True(t, decimal.NewFromInt(1020).Equal(sample["fast"]), sample["fast"].String())

	hash, err := c.Broadcast(ctx, "0100")
	require.NoError(t, err)
	assert.Equal(t, txid("f"), hash)
}
