package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/temporal"
	"github.com/brojonat/walletcore/service/wallet"
)

func TestRegisterWallet_PathologicalInput(t *testing.T) {
	_, handler := newTestServer(t, &fakeNetwork{}, nil)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		checkError     func(t *testing.T, body string)
	}{
		{
			name:           "extremely large request body",
			body:           `{"blockchain":"xrp","address":"` + strings.Repeat("r", 2*1024*1024) + `"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "request body too large")
			},
		},
		{
			name:           "malformed JSON",
			body:           `{"blockchain":"xrp","address":`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "invalid request body")
			},
		},
		{
			name:           "missing blockchain",
			body:           `{"address":"rWallet"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "blockchain is required")
			},
		},
		{
			name:           "unknown blockchain",
			body:           `{"blockchain":"dogecoin","address":"rWallet"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, `"code":"NOT_SUPPORTED"`)
			},
		},
		{
			name:           "blockchain not enabled",
			body:           `{"blockchain":"solana","address":"So11111111111111111111111111111111111111112"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "solana is not enabled")
			},
		},
		{
			name:           "missing address",
			body:           `{"blockchain":"xrp"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "address is required")
			},
		},
		{
			name:           "address too long",
			body:           `{"blockchain":"xrp","address":"` + strings.Repeat("r", 500) + `"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "address too long")
			},
		},
		{
			name:           "address with null bytes",
			body:           `{"blockchain":"xrp","address":"rWal\u0000let"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "invalid characters")
			},
		},
		{
			name:           "address rejected by the network",
			body:           `{"blockchain":"xrp","address":"xWallet"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, `"code":"INVALID_ADDRESS"`)
			},
		},
		{
			name:           "public key is not hex",
			body:           `{"blockchain":"xrp","address":"rWallet","public_key":"zz"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "invalid public_key")
			},
		},
		{
			name:           "refresh interval not a duration",
			body:           `{"blockchain":"xrp","address":"rWallet","refresh_interval":"soon"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "invalid refresh_interval")
			},
		},
		{
			name:           "refresh interval too short",
			body:           `{"blockchain":"xrp","address":"rWallet","refresh_interval":"1s"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "at least 15s")
			},
		},
		{
			name:           "refresh interval too long",
			body:           `{"blockchain":"xrp","address":"rWallet","refresh_interval":"48h"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "cannot exceed")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, handler, "POST", "/api/v1/wallets", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			tt.checkError(t, w.Body.String())
		})
	}
}

func TestRegisterWallet_CreatesTemporalSchedule(t *testing.T) {
	// Setup
	scheduler := temporal.NewMockScheduler()
	_, handler := newTestServer(t, &fakeNetwork{}, scheduler)

	// Act
	w := doRequest(t, handler, "POST", "/api/v1/wallets",
		fmt.Sprintf(`{"blockchain":"xrp","address":"rWallet","public_key":%q,"refresh_interval":"5m"}`, testKeyHex))

	// Assert
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp walletResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, chain.XRP, resp.Blockchain)
	assert.Equal(t, chain.Secp256k1, resp.Curve)
	assert.Equal(t, testKeyHex, resp.PublicKey)

	assert.True(t, scheduler.ScheduleExists("xrp", "rWallet"))
	interval, ok := scheduler.GetScheduleInterval("xrp", "rWallet")
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, interval)
	input, ok := scheduler.GetScheduleInput("xrp", "rWallet")
	require.True(t, ok)
	assert.Equal(t, testKeyHex, input.PublicKey)
	assert.Equal(t, "secp256k1", input.Curve)

	// Registering again returns the existing wallet
	w = registerWallet(t, handler, "rWallet")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, scheduler.ScheduleCount())
}

func TestRegisterWallet_DefaultInterval(t *testing.T) {
	scheduler := temporal.NewMockScheduler()
	_, handler := newTestServer(t, &fakeNetwork{}, scheduler)

	w := registerWallet(t, handler, "rWallet")

	require.Equal(t, http.StatusCreated, w.Code)
	interval, ok := scheduler.GetScheduleInterval("xrp", "rWallet")
	require.True(t, ok)
	assert.Equal(t, time.Minute, interval)
}

func TestRegisterWallet_ScheduleFailureRollsBack(t *testing.T) {
	scheduler := temporal.NewMockScheduler()
	scheduler.SetCreateError(errors.New("temporal unavailable"))
	s, handler := newTestServer(t, &fakeNetwork{}, scheduler)

	w := registerWallet(t, handler, "rWallet")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, s.wallets.List())
}

func TestUnregisterWallet(t *testing.T) {
	// Setup
	scheduler := temporal.NewMockScheduler()
	_, handler := newTestServer(t, &fakeNetwork{}, scheduler)
	require.Equal(t, http.StatusCreated, registerWallet(t, handler, "rWallet").Code)

	// Act
	w := doRequest(t, handler, "DELETE", "/api/v1/wallets/xrp/rWallet", "")

	// Assert
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, scheduler.ScheduleExists("xrp", "rWallet"))
	assert.Equal(t, http.StatusNotFound, doRequest(t, handler, "GET", "/api/v1/wallets/xrp/rWallet", "").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, handler, "DELETE", "/api/v1/wallets/xrp/rWallet", "").Code)
}

func TestUnregisterWallet_ScheduleFailureKeepsWallet(t *testing.T) {
	scheduler := temporal.NewMockScheduler()
	_, handler := newTestServer(t, &fakeNetwork{}, scheduler)
	require.Equal(t, http.StatusCreated, registerWallet(t, handler, "rWallet").Code)
	scheduler.SetDeleteError(errors.New("temporal unavailable"))

	w := doRequest(t, handler, "DELETE", "/api/v1/wallets/xrp/rWallet", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, http.StatusOK, doRequest(t, handler, "GET", "/api/v1/wallets/xrp/rWallet", "").Code)
}

func TestRefreshWallet(t *testing.T) {
	network := &fakeNetwork{balance: "42.5", nonce: 7}
	_, handler := newTestServer(t, network, nil)
	require.Equal(t, http.StatusCreated, registerWallet(t, handler, "rWallet").Code)

	w := doRequest(t, handler, "POST", "/api/v1/wallets/xrp/rWallet/refresh?wait=true", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		State struct {
			Status string `json:"status"`
		} `json:"state"`
		Account *chain.AccountState `json:"account"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "idle", resp.State.Status)
	require.NotNil(t, resp.Account)
	assert.Equal(t, "42.5 XRP", resp.Account.Balance.String())
	assert.Equal(t, uint64(7), resp.Account.Nonce)

	assert.Equal(t, http.StatusAccepted, doRequest(t, handler, "POST", "/api/v1/wallets/xrp/rWallet/refresh", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, handler, "POST", "/api/v1/wallets/xrp/rWallet/refresh?wait=maybe", "").Code)
}

func TestRefreshWallet_FailureIsReportedInState(t *testing.T) {
	network := &fakeNetwork{refreshErr: chain.ErrProvidersExhausted.Withf("2 providers failed")}
	_, handler := newTestServer(t, network, nil)
	require.Equal(t, http.StatusCreated, registerWallet(t, handler, "rWallet").Code)

	w := doRequest(t, handler, "POST", "/api/v1/wallets/xrp/rWallet/refresh?wait=true", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"failed"`)
	assert.Contains(t, w.Body.String(), `"error_code":"PROVIDERS_EXHAUSTED"`)
}

func TestListWalletsAndChains(t *testing.T) {
	_, handler := newTestServer(t, &fakeNetwork{}, nil)
	require.Equal(t, http.StatusCreated, registerWallet(t, handler, "rB").Code)
	require.Equal(t, http.StatusCreated, registerWallet(t, handler, "rA").Code)

	w := doRequest(t, handler, "GET", "/api/v1/wallets", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Wallets []walletResponse `json:"wallets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Wallets, 2)
	assert.Equal(t, "rA", list.Wallets[0].Address)

	w = doRequest(t, handler, "GET", "/api/v1/chains", "")
	require.Equal(t, http.StatusOK, w.Code)
	var chains struct {
		Chains []chainResponse `json:"chains"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chains))
	require.Len(t, chains.Chains, 1)
	assert.Equal(t, "XRP", chains.Chains[0].Symbol)
	assert.Equal(t, int32(6), chains.Chains[0].Decimals)
	assert.Equal(t, 2, chains.Chains[0].Providers)
}

func TestGetFees(t *testing.T) {
	_, handler := newTestServer(t, &fakeNetwork{}, nil)
	require.Equal(t, http.StatusCreated, registerWallet(t, handler, "rWallet").Code)

	w := doRequest(t, handler, "GET", "/api/v1/wallets/xrp/rWallet/fees?amount=5&destination=rDest", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Fees []struct {
			Tier   string       `json:"tier"`
			Amount chain.Amount `json:"amount"`
		} `json:"fees"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Fees, 3)
	assert.Equal(t, "slow", resp.Fees[0].Tier)
	assert.Equal(t, "0.00001 XRP", resp.Fees[0].Amount.String())

	assert.Equal(t, http.StatusBadRequest, doRequest(t, handler, "GET", "/api/v1/wallets/xrp/rWallet/fees?amount=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, handler, "GET", "/api/v1/wallets/xrp/rWallet/fees?amount=1&token=0xdead", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, handler, "GET", "/api/v1/wallets/xrp/rWallet/fees?amount=1&destination=xBad", "").Code)
}

func prepare(t *testing.T, handler http.Handler, body string) signSessionResponse {
	t.Helper()
	w := doRequest(t, handler, "POST", "/api/v1/wallets/xrp/rWallet/transactions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp signSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSignFlow(t *testing.T) {
	// Setup
	network := &fakeNetwork{balance: "100", nonce: 5}
	_, handler := newTestServer(t, network, nil)
	require.Equal(t, http.StatusCreated, registerWallet(t, handler, "rWallet").Code)
	require.Equal(t, http.StatusOK, doRequest(t, handler, "POST", "/api/v1/wallets/xrp/rWallet/refresh?wait=true", "").Code)

	// Act: prepare
	session := prepare(t, handler, `{"destination":"rDest","amount":"10","fee_tier":"fast","memo":"rent"}`)

	// Assert
	assert.NotEmpty(t, session.SessionID)
	require.Len(t, session.Hashes, 1)
	assert.Len(t, session.Hashes[0], 64)
	assert.Equal(t, testKeyHex, session.PublicKey)
	require.NotNil(t, session.Fee)
	assert.Equal(t, chain.TierFast, session.Fee.Tier)
	assert.Equal(t, "10 XRP", session.Amount.String())
	assert.True(t, session.ExpiresAt.After(time.Now()))

	// Act: submit
	w := doRequest(t, handler, "POST", "/api/v1/sessions/"+session.SessionID+"/signatures", `{"signatures":["abcd"]}`)

	// Assert
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"hash":"TX5"`)
	require.Len(t, network.broadcasts, 1)
	assert.Equal(t, []byte{0xab, 0xcd}, network.broadcasts[0].Raw)

	// The session is single use
	w = doRequest(t, handler, "POST", "/api/v1/sessions/"+session.SessionID+"/signatures", `{"signatures":["abcd"]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The transaction is pending on the wallet
	w = doRequest(t, handler, "GET", "/api/v1/wallets/xrp/rWallet", "")
	var resp walletResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Pending, 1)
	assert.Equal(t, "TX5", resp.Pending[0].Hash)
	assert.Equal(t, "rDest", resp.Pending[0].Destination)

	// A second transfer before the next refresh takes the following sequence
	next := prepare(t, handler, `{"destination":"rDest","amount":"10"}`)
	w = doRequest(t, handler, "POST", "/api/v1/sessions/"+next.SessionID+"/signatures", `{"signatures":["abcd"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"hash":"TX6"`)
}

func TestSubmitSignatures_MalformedSignatureKeepsSession(t *testing.T) {
	_, handler := newTestServer(t, &fakeNetwork{}, nil)
	require.Equal(t, http.StatusCreated, registerWallet(t, handler, "rWallet").Code)
	session := prepare(t, handler, `{"destination":"rDest","amount":"1"}`)
	path := "/api/v1/sessions/" + session.SessionID + "/signatures"

	w := doRequest(t, handler, "POST", path, `{"signatures":[""]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"MALFORMED_SIGNATURE"`)

	w = doRequest(t, handler, "POST", path, `{"signatures":["01"]}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSubmitSignatures_BadInput(t *testing.T) {
	_, handler := newTestServer(t, &fakeNetwork{}, nil)

	tests := []struct {
		name           string
		path           string
		body           string
		expectedStatus int
	}{
		{"malformed JSON", "/api/v1/sessions/abc/signatures", `{"signatures":`, http.StatusBadRequest},
		{"no signatures", "/api/v1/sessions/abc/signatures", `{"signatures":[]}`, http.StatusBadRequest},
		{"signature not hex", "/api/v1/sessions/abc/signatures", `{"signatures":["xyz"]}`, http.StatusBadRequest},
		{"unknown session", "/api/v1/sessions/abc/signatures", `{"signatures":["01"]}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, handler, "POST", tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestPrepareTransaction_Errors(t *testing.T) {
	_, handler := newTestServer(t, &fakeNetwork{balance: "5"}, nil)
	require.Equal(t, http.StatusCreated, registerWallet(t, handler, "rWallet").Code)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedCode   string
	}{
		{"insufficient funds", `{"destination":"rDest","amount":"10"}`, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{"zero amount", `{"destination":"rDest","amount":"0"}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"bad destination", `{"destination":"xDest","amount":"1"}`, http.StatusBadRequest, "INVALID_ADDRESS"},
		{"missing destination", `{"amount":"1"}`, http.StatusBadRequest, "INVALID_ADDRESS"},
		{"unknown fee tier", `{"destination":"rDest","amount":"1","fee_tier":"instant"}`, http.StatusBadGateway, "FEE_UNAVAILABLE"},
		{"amount not decimal", `{"destination":"rDest","amount":"ten"}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"call data not hex", `{"destination":"rDest","amount":"1","call_data":"0xzz"}`, http.StatusBadRequest, ""},
		{"missing amount", `{"destination":"rDest"}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, handler, "POST", "/api/v1/wallets/xrp/rWallet/transactions", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedCode != "" {
				var resp errorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedCode, resp.Code)
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
}

func TestHistory_Unsupported(t *testing.T) {
	_, handler := newTestServer(t, &fakeNetwork{}, nil)
	require.Equal(t, http.StatusCreated, registerWallet(t, handler, "rWallet").Code)

	w := doRequest(t, handler, "GET", "/api/v1/wallets/xrp/rWallet/history?limit=10", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"NOT_SUPPORTED"`)

	assert.Equal(t, http.StatusBadRequest, doRequest(t, handler, "GET", "/api/v1/wallets/xrp/rWallet/history?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, handler, "GET", "/api/v1/wallets/xrp/rWallet/history?limit=5000", "").Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{chain.ErrInvalidAmount, http.StatusBadRequest},
		{chain.ErrWrongCurve, http.StatusBadRequest},
		{chain.ErrInsufficientFunds.Withf("need more"), http.StatusUnprocessableEntity},
		{fmt.Errorf("failed to broadcast transaction: %w", chain.ErrTxRejected), http.StatusUnprocessableEntity},
		{chain.ErrProvidersExhausted, http.StatusBadGateway},
		{errors.New("connection reset"), http.StatusBadGateway},
		{fmt.Errorf("%w: xrp:rX", wallet.ErrWalletNotFound), http.StatusNotFound},
		{errSessionExpired, http.StatusGone},
		{errSessionBusy, http.StatusConflict},
		{errorf("address is required"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestHealthAndCORS(t *testing.T) {
	_, handler := newTestServer(t, &fakeNetwork{}, nil)

	w := doRequest(t, handler, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = doRequest(t, handler, "OPTIONS", "/api/v1/wallets", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}
