package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/wallet"
)

// State is the lifecycle state of a wallet as reported by the server.
type State struct {
	Status       wallet.Status     `json:"status"`
	Message      string            `json:"message,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorKind    chain.Kind        `json:"error_kind,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorDetails map[string]string `json:"error_details,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Terminal reports whether the state ends a refresh cycle.
func (s State) Terminal() bool {
	return s.Status != wallet.StatusCreated && s.Status != wallet.StatusLoading
}

// Wallet is a wallet registered with the server.
type Wallet struct {
	Blockchain chain.Blockchain            `json:"blockchain"`
	Address    string                      `json:"address"`
	Curve      chain.Curve                 `json:"curve,omitempty"`
	PublicKey  string                      `json:"public_key,omitempty"`
	State      State                       `json:"state"`
	Account    *chain.AccountState         `json:"account,omitempty"`
	Pending    []wallet.PendingTransaction `json:"pending"`
}

// Chain describes a blockchain the server has enabled.
type Chain struct {
	Blockchain chain.Blockchain `json:"blockchain"`
	Name       string           `json:"name"`
	Symbol     string           `json:"symbol"`
	Family     chain.Family     `json:"family"`
	Curves     []chain.Curve    `json:"curves"`
	Decimals   int32            `json:"decimals"`
	FeeKind    chain.FeeKind    `json:"fee_kind"`
	Providers  int              `json:"providers"`
}

// Fee is one fee option. Params is the raw chain-specific fee parameters.
type Fee struct {
	Tier   chain.FeeTier   `json:"tier"`
	Amount chain.Amount    `json:"amount"`
	Kind   chain.FeeKind   `json:"kind,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RegisterRequest registers a wallet. PublicKey is hex and may be empty for
// a watch-only wallet.
type RegisterRequest struct {
	Blockchain      chain.Blockchain `json:"blockchain"`
	Address         string           `json:"address"`
	PublicKey       string           `json:"public_key,omitempty"`
	Curve           chain.Curve      `json:"curve,omitempty"`
	RefreshInterval string           `json:"refresh_interval,omitempty"`
}

// TransferRequest describes a transfer to prepare. Amount is a decimal
// string in display units.
type TransferRequest struct {
	Destination    string  `json:"destination"`
	Amount         string  `json:"amount"`
	Token          string  `json:"token,omitempty"`
	FeeTier        string  `json:"fee_tier,omitempty"`
	Memo           string  `json:"memo,omitempty"`
	DestinationTag *uint32 `json:"destination_tag,omitempty"`
	CallData       string  `json:"call_data,omitempty"`
	// Replaces builds the transfer as a replacement for a pending one.
	Replaces string `json:"replaces,omitempty"`
}

// SignSession holds the hashes to sign for a prepared transfer.
type SignSession struct {
	SessionID   string           `json:"session_id"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Blockchain  chain.Blockchain `json:"blockchain"`
	Address     string           `json:"address"`
	Destination string           `json:"destination"`
	Amount      chain.Amount     `json:"amount"`
	Fee         *Fee             `json:"fee,omitempty"`
	Hashes      []string         `json:"hashes"`
	PublicKey   string           `json:"public_key"`
	Curve       chain.Curve      `json:"curve"`
}

// History is a page of past transfers.
type History struct {
	Transactions []chain.HistoryEntry `json:"transactions"`
	Count        int                  `json:"count"`
	Limit        int                  `json:"limit"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string            `json:"error"`
	Code       string            `json:"code,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("request failed (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the walletcore service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new wallet service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

func walletPath(b chain.Blockchain, address string) string {
	return fmt.Sprintf("/api/v1/wallets/%s/%s", url.PathEscape(string(b)), url.PathEscape(address))
}

// do sends a request and decodes a JSON response into out when out is not
// nil. Any status other than want is returned as an *APIError.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}, want ...int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range want {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return c.parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Health returns nil when the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "GET", "/health", nil, nil, http.StatusOK)
}

// Chains lists the blockchains the server has enabled.
func (c *Client) Chains(ctx context.Context) ([]Chain, error) {
	var resp struct {
		Chains []Chain `json:"chains"`
	}
	if err := c.do(ctx, "GET", "/api/v1/chains", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Chains, nil
}

// Register tells the server to manage a wallet. Registering a wallet that
// already exists returns the existing wallet.
func (c *Client) Register(ctx context.Context, r RegisterRequest) (*Wallet, error) {
	var w Wallet
	if err := c.do(ctx, "POST", "/api/v1/wallets", r, &w, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}
	c.logger.Debug("wallet registered", "blockchain", r.Blockchain, "address", r.Address)
	return &w, nil
}

// Unregister tells the server to stop managing a wallet.
func (c *Client) Unregister(ctx context.Context, b chain.Blockchain, address string) error {
	if err := c.do(ctx, "DELETE", walletPath(b, address), nil, nil, http.StatusNoContent); err != nil {
		return err
	}
	c.logger.Debug("wallet unregistered", "blockchain", b, "address", address)
	return nil
}

// Get retrieves the state of a wallet.
func (c *Client) Get(ctx context.Context, b chain.Blockchain, address string) (*Wallet, error) {
	var w Wallet
	if err := c.do(ctx, "GET", walletPath(b, address), nil, &w, http.StatusOK); err != nil {
		return nil, err
	}
	return &w, nil
}

// List retrieves all registered wallets.
func (c *Client) List(ctx context.Context) ([]*Wallet, error) {
	var resp struct {
		Wallets []*Wallet `json:"wallets"`
	}
	if err := c.do(ctx, "GET", "/api/v1/wallets", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Wallets, nil
}

// Refresh asks the server to reload a wallet. With wait set the call returns
// once the refresh has finished.
func (c *Client) Refresh(ctx context.Context, b chain.Blockchain, address string, wait bool) (*Wallet, error) {
	path := walletPath(b, address) + "/refresh"
	if wait {
		path += "?wait=true"
	}
	var w Wallet
	if err := c.do(ctx, "POST", path, nil, &w, http.StatusOK, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &w, nil
}

// Fees lists the fee options for a transfer of amount to destination.
func (c *Client) Fees(ctx context.Context, b chain.Blockchain, address, amount, destination, token string) ([]Fee, error) {
	q := url.Values{}
	if amount != "" {
		q.Set("amount", amount)
	}
	if destination != "" {
		q.Set("destination", destination)
	}
	if token != "" {
		q.Set("token", token)
	}
	path := walletPath(b, address) + "/fees"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Fees []Fee `json:"fees"`
	}
	if err := c.do(ctx, "GET", path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Fees, nil
}

// Prepare validates a transfer and returns the hashes to sign.
func (c *Client) Prepare(ctx context.Context, b chain.Blockchain, address string, r TransferRequest) (*SignSession, error) {
	var s SignSession
	if err := c.do(ctx, "POST", walletPath(b, address)+"/transactions", r, &s, http.StatusCreated); err != nil {
		return nil, err
	}
	c.logger.Debug("sign session opened", "session_id", s.SessionID, "hashes", len(s.Hashes))
	return &s, nil
}

// Submit sends hex signatures for a sign session and returns the broadcast
// transaction hash. A non-empty replaces pushes the transaction as a
// replacement of that pending hash.
func (c *Client) Submit(ctx context.Context, sessionID string, signatures []string, replaces string) (string, error) {
	body := struct {
		Signatures []string `json:"signatures"`
		Replaces   string   `json:"replaces,omitempty"`
	}{Signatures: signatures, Replaces: replaces}

	var resp struct {
		Hash string `json:"hash"`
	}
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/signatures"
	if err := c.do(ctx, "POST", path, body, &resp, http.StatusOK); err != nil {
		return "", err
	}
	c.logger.Debug("transaction submitted", "session_id", sessionID, "hash", resp.Hash)
	return resp.Hash, nil
}

// History lists recent transfers of a wallet. A zero limit uses the server
// default.
func (c *Client) History(ctx context.Context, b chain.Blockchain, address string, limit int) (*History, error) {
	path := walletPath(b, address) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var h History
	if err := c.do(ctx, "GET", path, nil, &h, http.StatusOK); err != nil {
		return nil, err
	}
	return &h, nil
}

// Event is one server-sent event from a wallet stream.
type Event struct {
	Type string
	Data json.RawMessage
}

// Stream opens the event stream of a wallet and calls fn for every event
// until fn returns false, the context is done or the stream ends. An empty
// blockchain streams every wallet.
func (c *Client) Stream(ctx context.Context, b chain.Blockchain, address string, fn func(Event) bool) error {
	path := "/api/v1/stream/wallets"
	if b != "" {
		path += "/" + url.PathEscape(string(b)) + "/" + url.PathEscape(address)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streams outlive the client timeout.
	httpClient := *c.httpClient
	httpClient.Timeout = 0
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev := Event{Type: eventType, Data: json.RawMessage(strings.TrimPrefix(line, "data: "))}
			eventType = ""
			if !fn(ev) {
				return nil
			}
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return nil
}

// Await streams a wallet's state changes until matches returns true for one
// of them, and returns that state.
func (c *Client) Await(ctx context.Context, b chain.Blockchain, address string, matches func(State) bool) (*State, error) {
	var found *State
	var decodeErr error
	err := c.Stream(ctx, b, address, func(ev Event) bool {
		if ev.Type != string(wallet.EventStateChanged) {
			return true
		}
		// State events carry the state fields at the top level.
		var st State
		if err := json.Unmarshal(ev.Data, &st); err != nil {
			decodeErr = fmt.Errorf("failed to decode state event: %w", err)
			return false
		}
		c.logger.Debug("wallet state", "blockchain", b, "address", address, "status", st.Status)
		if matches(st) {
			found = &st
			return false
		}
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	if found != nil {
		return found, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("stream ended before a matching state")
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
