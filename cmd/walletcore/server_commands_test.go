package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/walletcore/service/chain"
)

func healthServer(t *testing.T, providers int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /api/v1/chains", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"chains":[{"blockchain":"xrp","family":"ledger","providers":2},{"blockchain":"bitcoin","family":"utxo","providers":%d}]}`, providers)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestHealthCommand_Success(t *testing.T) {
	// Setup
	server := healthServer(t, 1)

	// Act
	out, err := runApp(t, server.URL, "server", "health")

	// Assert
	require.NoError(t, err)
	var report serverHealth
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, server.URL, report.ServerURL)
	assert.Equal(t, []chainHealth{
		{Blockchain: chain.XRP, Family: chain.FamilyLedger, Providers: 2},
		{Blockchain: chain.Bitcoin, Family: chain.FamilyUTXO, Providers: 1},
	}, report.Chains)
}

func TestHealthCommand_JQ(t *testing.T) {
	server := healthServer(t, 3)

	out, err := runApp(t, server.URL, "--jq", "[.chains[].providers] | add", "server", "health")

	require.NoError(t, err)
	assert.Equal(t, "5", strings.TrimSpace(out))
}

func TestHealthCommand_DegradedWithoutProviders(t *testing.T) {
	server := healthServer(t, 0)

	out, err := runApp(t, server.URL, "server", "health")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "degraded")
	assert.Contains(t, out, `"status": "degraded"`)
}

func TestHealthCommand_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := runApp(t, server.URL, "server", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
	assert.Contains(t, err.Error(), "500")
}

func TestHealthCommand_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := runApp(t, url, "server", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "http://unused", "--jq", ".version", "server", "version")
	require.NoError(t, err)
	assert.Equal(t, "dev", strings.TrimSpace(out))
}

func TestSubscribeSubject(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "all wallets", args: nil, want: "wallets.>"},
		{name: "one blockchain", args: []string{"xrp"}, want: "wallets.xrp.>"},
		{name: "one wallet", args: []string{"xrp", testAddress}, want: "wallets.xrp." + testAddress},
		{name: "unknown blockchain", args: []string{"dogecoin"}, wantErr: true},
		{name: "too many arguments", args: []string{"xrp", testAddress, "extra"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := subscribeSubject(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
