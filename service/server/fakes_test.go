package server

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/config"
	"github.com/brojonat/walletcore/service/temporal"
	"github.com/brojonat/walletcore/service/wallet"
)

// fakeNetwork is an XRP-like network backed by a single snapshot.
type fakeNetwork struct {
	mu sync.Mutex

	balance    string
	nonce      uint64
	refreshErr error
	broadcasts []*chain.SignedTransaction
}

func (f *fakeNetwork) Blockchain() chain.Blockchain { return chain.XRP }

func (f *fakeNetwork) ValidateAddress(address string) error {
	if !strings.HasPrefix(address, "r") {
		return chain.ErrInvalidAddress.Withf("invalid address %q", address)
	}
	return nil
}

func (f *fakeNetwork) Refresh(ctx context.Context, address string) (*chain.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &chain.AccountState{
		Blockchain: chain.XRP,
		Address:    address,
		Balance:    chain.NewAmount(chain.XRP, decimal.RequireFromString(f.balance)),
		Nonce:      f.nonce,
		HasNonce:   true,
		FetchedAt:  time.Now(),
	}, nil
}

func (f *fakeNetwork) Fees(ctx context.Context, req chain.FeeRequest) ([]chain.Fee, error) {
	fees := make([]chain.Fee, 0, len(chain.Tiers))
	for i, tier := range chain.Tiers {
		drops := decimal.NewFromInt(int64(10 * (i + 1))).Shift(-6)
		fees = append(fees, chain.Fee{Amount: chain.NewAmount(chain.XRP, drops), Tier: tier})
	}
	return fees, nil
}

func (f *fakeNetwork) Broadcast(ctx context.Context, tx *chain.SignedTransaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, tx)
	return tx.Hash, nil
}

type fakeUnsigned struct {
	hash  []byte
	key   chain.PublicKey
	nonce uint64
}

func (u *fakeUnsigned) Blockchain() chain.Blockchain { return chain.XRP }
func (u *fakeUnsigned) Hashes() [][]byte             { return [][]byte{u.hash} }
func (u *fakeUnsigned) PublicKey() chain.PublicKey   { return u.key }
func (u *fakeUnsigned) Nonce() uint64                { return u.nonce }

func (f *fakeNetwork) BuildForSign(intent chain.Intent, state *chain.AccountState, key chain.PublicKey) (chain.UnsignedTransaction, error) {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s", intent.Source, intent.Destination, intent.Amount.Value))
	return &fakeUnsigned{hash: h[:], key: key, nonce: state.SendNonce()}, nil
}

func (f *fakeNetwork) BuildForSend(unsigned chain.UnsignedTransaction, signatures [][]byte) (*chain.SignedTransaction, error) {
	if len(signatures) != 1 || len(signatures[0]) == 0 {
		return nil, chain.ErrMalformedSignature
	}
	u := unsigned.(*fakeUnsigned)
	return &chain.SignedTransaction{
		Blockchain: chain.XRP,
		Raw:        signatures[0],
		Hash:       fmt.Sprintf("TX%d", u.nonce),
	}, nil
}

type fakeNetworks map[chain.Blockchain]wallet.Network

func (n fakeNetworks) Get(b chain.Blockchain) (wallet.Network, error) {
	network, ok := n[b]
	if !ok {
		return nil, chain.ErrNotSupported.Withf("%s is not enabled", b)
	}
	return network, nil
}

func (n fakeNetworks) Blockchains() []chain.Blockchain {
	out := make([]chain.Blockchain, 0, len(n))
	for b := range n {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

const testKeyHex = "02" + "0000000000000000000000000000000000000000000000000000000000000001"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	return &config.Config{
		SignSessionTTL:         time.Minute,
		HistoryLimit:           25,
		DefaultRefreshInterval: time.Minute,
		MinRefreshInterval:     15 * time.Second,
		Providers:              map[chain.Blockchain][]string{chain.XRP: {"https://a.example", "https://b.example"}},
	}
}

// newTestServer returns a server over one fake XRP network. scheduler may be nil.
func newTestServer(t *testing.T, network *fakeNetwork, scheduler temporal.Scheduler) (*Server, http.Handler) {
	t.Helper()
	if network.balance == "" {
		network.balance = "100"
	}
	s := New(":0", testConfig(), wallet.NewRegistry(), fakeNetworks{chain.XRP: network}, nil, scheduler, nil, nil, testLogger())
	return s, s.Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func registerWallet(t *testing.T, h http.Handler, address string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, h, "POST", "/api/v1/wallets",
		fmt.Sprintf(`{"blockchain":"xrp","address":%q,"public_key":%q}`, address, testKeyHex))
}
