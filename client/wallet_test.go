package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/wallet"
)

func TestRegister_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/wallets", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		err := json.NewDecoder(r.Body).Decode(&body)
		require.NoError(t, err)

		assert.Equal(t, "xrp", body["blockchain"])
		assert.Equal(t, "rWallet", body["address"])
		assert.Equal(t, "5m", body["refresh_interval"])
		assert.NotContains(t, body, "curve")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"blockchain": "xrp",
			"address":    "rWallet",
			"state":      map[string]interface{}{"status": "created"},
			"pending":    []interface{}{},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	w, err := client.Register(context.Background(), RegisterRequest{
		Blockchain:      chain.XRP,
		Address:         "rWallet",
		RefreshInterval: "5m",
	})
	require.NoError(t, err)
	assert.Equal(t, chain.XRP, w.Blockchain)
	assert.Equal(t, wallet.StatusCreated, w.State.Status)
}

func TestRegister_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":   "invalid address",
			"code":    "INVALID_ADDRESS",
			"details": map[string]string{"address": "x"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Register(context.Background(), RegisterRequest{Blockchain: chain.XRP, Address: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "INVALID_ADDRESS", apiErr.Code)
	assert.Equal(t, "x", apiErr.Details["address"])
}

func TestHealthAndChains(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			if !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("OK"))
		case "/api/v1/chains":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"chains":[{"blockchain":"xrp","symbol":"XRP","family":"ledger","providers":2}]}`))
		}
	}))
	defer server.Close()
	client := NewClient(server.URL, nil, nil)

	require.NoError(t, client.Health(context.Background()))
	chains, err := client.Chains(context.Background())
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, 2, chains[0].Providers)

	healthy = false
	var apiErr *APIError
	require.ErrorAs(t, client.Health(context.Background()), &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestUnregister_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/v1/wallets/xrp/rWallet", r.URL.Path)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.Unregister(context.Background(), chain.XRP, "rWallet")
	assert.NoError(t, err)
}

func TestUnregister_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("404 page not found\n"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.Unregister(context.Background(), chain.XRP, "rMissing")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "404 page not found", apiErr.Message)
}

func TestGet_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/wallets/ethereum/0xabc", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"blockchain": "ethereum",
			"address": "0xabc",
			"curve": "secp256k1",
			"public_key": "02ff",
			"state": {"status": "failed", "error": "all providers failed", "error_kind": "transient", "error_code": "PROVIDERS_EXHAUSTED"},
			"account": {"blockchain": "ethereum", "address": "0xabc", "balance": {"value": "1.25", "blockchain": "ethereum"}, "nonce": 3, "has_nonce": true},
			"pending": [{"hash": "0xdead", "blockchain": "ethereum", "source": "0xabc", "destination": "0xdef", "value": {"value": "0.5", "blockchain": "ethereum"}, "direction": "outgoing"}]
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	w, err := client.Get(context.Background(), chain.Ethereum, "0xabc")
	require.NoError(t, err)

	assert.Equal(t, chain.Secp256k1, w.Curve)
	assert.Equal(t, wallet.StatusFailed, w.State.Status)
	assert.Equal(t, chain.KindTransient, w.State.ErrorKind)
	assert.Equal(t, "PROVIDERS_EXHAUSTED", w.State.ErrorCode)
	assert.True(t, w.State.Terminal())
	require.NotNil(t, w.Account)
	assert.Equal(t, "1.25 ETH", w.Account.Balance.String())
	require.Len(t, w.Pending, 1)
	assert.Equal(t, "0xdead", w.Pending[0].Hash)
	assert.Equal(t, "0.5 ETH", w.Pending[0].Value.String())
}

func TestList_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/wallets", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"wallets": [
			{"blockchain": "bitcoin", "address": "bc1q", "state": {"status": "idle"}, "pending": []},
			{"blockchain": "xrp", "address": "rWallet", "state": {"status": "no_account", "message": "account not activated"}, "pending": []}
		]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	wallets, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, chain.Bitcoin, wallets[0].Blockchain)
	assert.Equal(t, wallet.StatusNoAccount, wallets[1].State.Status)
	assert.Equal(t, "account not activated", wallets[1].State.Message)
}

func TestRefresh_Wait(t *testing.T) {
	tests := []struct {
		name      string
		wait      bool
		wantQuery string
		status    int
	}{
		{"async", false, "", http.StatusAccepted},
		{"wait", true, "wait=true", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "POST", r.Method)
				assert.Equal(t, "/api/v1/wallets/xrp/rWallet/refresh", r.URL.Path)
				assert.Equal(t, tt.wantQuery, r.URL.RawQuery)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"blockchain": "xrp", "address": "rWallet", "state": {"status": "loading"}}`)
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, nil)
			w, err := client.Refresh(context.Background(), chain.XRP, "rWallet", tt.wait)
			require.NoError(t, err)
			assert.Equal(t, wallet.StatusLoading, w.State.Status)
		})
	}
}

func TestFees(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/wallets/bitcoin/bc1q/fees", r.URL.Path)
		assert.Equal(t, "0.01", r.URL.Query().Get("amount"))
		assert.Equal(t, "bc1dest", r.URL.Query().Get("destination"))
		fmt.Fprint(w, `{"fees": [
			{"tier": "slow", "amount": {"value": "0.00001", "blockchain": "bitcoin"}, "kind": "utxo", "params": {"sat_per_vbyte": 2}},
			{"tier": "fast", "amount": {"value": "0.0001", "blockchain": "bitcoin"}, "kind": "utxo", "params": {"sat_per_vbyte": 20}}
		]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	fees, err := client.Fees(context.Background(), chain.Bitcoin, "bc1q", "0.01", "bc1dest", "")
	require.NoError(t, err)
	require.Len(t, fees, 2)
	assert.Equal(t, chain.TierSlow, fees[0].Tier)
	assert.Equal(t, "0.0001 BTC", fees[1].Amount.String())
	assert.JSONEq(t, `{"sat_per_vbyte": 20}`, string(fees[1].Params))
}

func TestPrepareAndSubmit(t *testing.T) {
	// Setup
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/wallets/xrp/rWallet/transactions", func(w http.ResponseWriter, r *http.Request) {
		var body TransferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "rDest", body.Destination)
		assert.Equal(t, "10", body.Amount)
		require.NotNil(t, body.DestinationTag)
		assert.Equal(t, uint32(42), *body.DestinationTag)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"session_id": "s-1", "expires_at": "2026-01-01T00:05:00Z", "blockchain": "xrp",
			"address": "rWallet", "destination": "rDest", "amount": {"value": "10", "blockchain": "xrp"},
			"hashes": ["aabb"], "public_key": "02ff", "curve": "secp256k1"}`)
	})
	mux.HandleFunc("POST /api/v1/sessions/{id}/signatures", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s-1", r.PathValue("id"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []interface{}{"3044"}, body["signatures"])
		assert.NotContains(t, body, "replaces")
		fmt.Fprint(w, `{"hash": "ABC123", "blockchain": "xrp", "address": "rWallet"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	client := NewClient(server.URL, nil, nil)
	tag := uint32(42)

	// Act
	session, err := client.Prepare(context.Background(), chain.XRP, "rWallet", TransferRequest{
		Destination:    "rDest",
		Amount:         "10",
		DestinationTag: &tag,
	})
	require.NoError(t, err)
	hash, err := client.Submit(context.Background(), session.SessionID, []string{"3044"}, "")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"aabb"}, session.Hashes)
	assert.Equal(t, "10 XRP", session.Amount.String())
	assert.Equal(t, "ABC123", hash)
}

func TestHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/wallets/solana/So1/history", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"transactions": [], "count": 0, "limit": 5}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	h, err := client.History(context.Background(), chain.Solana, "So1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, h.Limit)
	assert.Empty(t, h.Transactions)
}

func TestClient_Await_MatchingState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/wallets/xrp/rWallet", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "event: connected\ndata: {\"wallet\":\"xrp:rWallet\"}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: state_changed\ndata: {\"type\":\"state_changed\",\"status\":\"loading\"}\n\n")
		fmt.Fprint(w, "event: transaction_sent\ndata: {\"type\":\"transaction_sent\",\"hash\":\"H\"}\n\n")
		fmt.Fprint(w, "event: state_changed\ndata: {\"type\":\"state_changed\",\"status\":\"idle\",\"balance\":\"10 XRP\"}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(server.URL, nil, nil)
	state, err := client.Await(ctx, chain.XRP, "rWallet", State.Terminal)
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusIdle, state.Status)
}

func TestClient_Await_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: state_changed\ndata: {\"status\":\"loading\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL, nil, nil)
	state, err := client.Await(ctx, chain.XRP, "rWallet", State.Terminal)
	require.Error(t, err)
	assert.Nil(t, state)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Await_StreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": "wallet not found"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Await(context.Background(), chain.XRP, "rMissing", State.Terminal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet not found")
}
