package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/config"
	"github.com/brojonat/walletcore/service/metrics"
	"github.com/brojonat/walletcore/service/temporal"
	"github.com/brojonat/walletcore/service/wallet"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 128     // longest supported address is a Filecoin f3 key
	maxRefreshInterval = 24 * time.Hour
)

// walletResponse is the JSON response format for a wallet.
type walletResponse struct {
	Blockchain chain.Blockchain            `json:"blockchain"`
	Address    string                      `json:"address"`
	Curve      chain.Curve                 `json:"curve,omitempty"`
	PublicKey  string                      `json:"public_key,omitempty"`
	State      wallet.State                `json:"state"`
	Account    *chain.AccountState         `json:"account,omitempty"`
	Pending    []wallet.PendingTransaction `json:"pending"`
}

func walletToResponse(m *wallet.Manager) walletResponse {
	key := m.PublicKey()
	pending := m.Pending()
	if pending == nil {
		pending = []wallet.PendingTransaction{}
	}
	resp := walletResponse{
		Blockchain: m.Blockchain(),
		Address:    m.Address(),
		State:      m.CurrentState(),
		Account:    m.Account(),
		Pending:    pending,
	}
	if !key.IsZero() {
		resp.Curve = key.Curve
		resp.PublicKey = hex.EncodeToString(key.Bytes)
	}
	return resp
}

// chainResponse describes an enabled blockchain.
type chainResponse struct {
	Blockchain chain.Blockchain `json:"blockchain"`
	Name       string           `json:"name"`
	Symbol     string           `json:"symbol"`
	Family     chain.Family     `json:"family"`
	Curves     []chain.Curve    `json:"curves"`
	Decimals   int32            `json:"decimals"`
	FeeKind    chain.FeeKind    `json:"fee_kind"`
	Providers  int              `json:"providers"`
}

// handleListChains returns a handler that lists the enabled blockchains and
// how many providers back each one.
// GET /api/v1/chains
func handleListChains(networks Networks, cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blockchains := networks.Blockchains()
		resp := make([]chainResponse, 0, len(blockchains))
		for _, b := range blockchains {
			p, err := chain.ParamsFor(b)
			if err != nil {
				continue
			}
			resp = append(resp, chainResponse{
				Blockchain: p.Blockchain,
				Name:       p.Name,
				Symbol:     p.Symbol,
				Family:     p.Family,
				Curves:     p.Curves,
				Decimals:   p.Decimals,
				FeeKind:    p.FeeKind,
				Providers:  len(cfg.Providers[b]),
			})
		}
		writeJSON(w, map[string]interface{}{"chains": resp}, http.StatusOK)
	})
}

// handleRegisterWallet returns a handler that registers a wallet, starts its
// first refresh and creates a Temporal schedule for periodic refreshes.
// POST /api/v1/wallets
func handleRegisterWallet(wallets *wallet.Registry, networks Networks, sink wallet.EventSink, scheduler temporal.Scheduler, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Blockchain      string `json:"blockchain"`
			Address         string `json:"address"`
			PublicKey       string `json:"public_key"` // hex
			Curve           string `json:"curve"`
			RefreshInterval string `json:"refresh_interval"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode register request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		b, err := parseBlockchain(req.Blockchain)
		if err != nil {
			writeChainError(w, err)
			return
		}
		if err := validateAddress(req.Address); err != nil {
			logger.Debug("invalid address", "address", req.Address, "error", err)
			writeChainError(w, err)
			return
		}
		network, err := networks.Get(b)
		if err != nil {
			writeChainError(w, err)
			return
		}
		key, err := parsePublicKey(b, req.PublicKey, req.Curve)
		if err != nil {
			writeChainError(w, err)
			return
		}

		interval := cfg.DefaultRefreshInterval
		if req.RefreshInterval != "" {
			interval, err = time.ParseDuration(req.RefreshInterval)
			if err != nil {
				writeError(w, "invalid refresh_interval: must be a duration like 30s or 5m", http.StatusBadRequest)
				return
			}
		}
		if err := validateRefreshInterval(interval, cfg.MinRefreshInterval); err != nil {
			writeChainError(w, err)
			return
		}

		mgr, err := wallet.NewManager(wallet.Config{
			Address:   req.Address,
			PublicKey: key,
			Network:   network,
			Sink:      sink,
			Metrics:   m,
			Logger:    logger,
		})
		if err != nil {
			logger.Debug("failed to create wallet manager", "blockchain", b, "address", req.Address, "error", err)
			writeChainError(w, err)
			return
		}

		mgr, added := wallets.Add(mgr)
		if !added {
			writeJSON(w, walletToResponse(mgr), http.StatusOK)
			return
		}

		if scheduler != nil {
			input := temporal.RefreshWalletInput{
				Blockchain: string(b),
				Address:    req.Address,
				Curve:      string(key.Curve),
				PublicKey:  hex.EncodeToString(key.Bytes),
			}
			if err := scheduler.UpsertWalletSchedule(r.Context(), input, interval); err != nil {
				logger.Error("failed to create schedule", "blockchain", b, "address", req.Address, "error", err)
				wallets.Remove(b, req.Address)
				writeError(w, "failed to create schedule for wallet", http.StatusInternalServerError)
				return
			}
		}

		mgr.Update(r.Context())

		logger.Info("wallet registered",
			"blockchain", b,
			"address", req.Address,
			"curve", key.Curve,
			"refresh_interval", interval,
		)
		writeJSON(w, walletToResponse(mgr), http.StatusCreated)
	})
}

// handleListWallets returns a handler that lists all registered wallets.
// GET /api/v1/wallets
func handleListWallets(wallets *wallet.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		managers := wallets.List()
		resp := make([]walletResponse, len(managers))
		for i, m := range managers {
			resp[i] = walletToResponse(m)
		}
		writeJSON(w, map[string]interface{}{
			"wallets": resp,
		}, http.StatusOK)
	})
}

// handleGetWallet returns a handler that retrieves the state of a wallet.
// GET /api/v1/wallets/{blockchain}/{address}
func handleGetWallet(wallets *wallet.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := lookupWallet(wallets, r)
		if err != nil {
			logger.Debug("wallet lookup failed", "path", r.URL.Path, "error", err)
			writeChainError(w, err)
			return
		}
		writeJSON(w, walletToResponse(m), http.StatusOK)
	})
}

// handleUnregisterWallet returns a handler that deletes a wallet's schedule
// and forgets the wallet.
// DELETE /api/v1/wallets/{blockchain}/{address}
func handleUnregisterWallet(wallets *wallet.Registry, scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := lookupWallet(wallets, r)
		if err != nil {
			writeChainError(w, err)
			return
		}

		// Delete Temporal schedule first so a failure leaves the wallet registered
		if scheduler != nil {
			if err := scheduler.DeleteWalletSchedule(r.Context(), string(m.Blockchain()), m.Address()); err != nil {
				logger.Error("failed to delete schedule", "blockchain", m.Blockchain(), "address", m.Address(), "error", err)
				writeError(w, "failed to delete schedule for wallet", http.StatusInternalServerError)
				return
			}
		}

		if err := wallets.Remove(m.Blockchain(), m.Address()); err != nil {
			writeChainError(w, err)
			return
		}

		logger.Info("wallet unregistered", "blockchain", m.Blockchain(), "address", m.Address())
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleRefreshWallet returns a handler that starts a refresh. With
// ?wait=true it blocks until the refresh ends and returns the final state.
// POST /api/v1/wallets/{blockchain}/{address}/refresh
func handleRefreshWallet(wallets *wallet.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := lookupWallet(wallets, r)
		if err != nil {
			writeChainError(w, err)
			return
		}

		wait := false
		if v := r.URL.Query().Get("wait"); v != "" {
			wait, err = strconv.ParseBool(v)
			if err != nil {
				writeError(w, "invalid wait parameter: must be a boolean", http.StatusBadRequest)
				return
			}
		}

		if !wait {
			m.Update(r.Context())
			writeJSON(w, walletToResponse(m), http.StatusAccepted)
			return
		}

		state := m.Refresh(r.Context())
		logger.Debug("wallet refreshed", "blockchain", m.Blockchain(), "address", m.Address(), "status", state.Status)
		writeJSON(w, walletToResponse(m), http.StatusOK)
	})
}

// lookupWallet resolves the {blockchain}/{address} path of a request.
func lookupWallet(wallets *wallet.Registry, r *http.Request) (*wallet.Manager, error) {
	b, err := parseBlockchain(r.PathValue("blockchain"))
	if err != nil {
		return nil, err
	}
	address := r.PathValue("address")
	if err := validateAddress(address); err != nil {
		return nil, err
	}
	return wallets.Get(b, address)
}

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, errorResponse{Error: message}, statusCode)
}

// writeChainError writes err with the status of its kind and, for
// structured errors, its code and details.
func writeChainError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	if ce := chain.AsError(err); ce != nil {
		resp.Code = ce.Code
		resp.Details = ce.Details
	}
	writeJSON(w, resp, statusFor(err))
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	var ve *validationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrWalletNotFound), errors.Is(err, errSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, errSessionExpired):
		return http.StatusGone
	case errors.Is(err, errSessionBusy):
		return http.StatusConflict
	}

	switch chain.KindOf(err) {
	case chain.KindPrecondition, chain.KindSigning:
		return http.StatusBadRequest
	case chain.KindChainSemantic:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func parseBlockchain(s string) (chain.Blockchain, error) {
	if s == "" {
		return "", errorf("blockchain is required")
	}
	b, err := chain.ParseBlockchain(s)
	if err != nil {
		return "", chain.ErrNotSupported.Wrap(err)
	}
	return b, nil
}

// parsePublicKey decodes a hex key. An empty key is allowed and leaves the
// wallet without a derivation; an empty curve means the chain's default.
func parsePublicKey(b chain.Blockchain, keyHex, curve string) (chain.PublicKey, error) {
	if keyHex == "" {
		return chain.PublicKey{}, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return chain.PublicKey{}, errorf("invalid public_key: must be hex")
	}
	c := chain.Curve(curve)
	if c == "" {
		p, err := chain.ParamsFor(b)
		if err != nil {
			return chain.PublicKey{}, chain.ErrNotSupported.Wrap(err)
		}
		c = p.DefaultCurve()
	}
	return chain.PublicKey{Curve: c, Bytes: raw}, nil
}

// validateAddress validates a wallet address for security and format. The
// chain's network validates the address itself.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) || unicode.IsSpace(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	return nil
}

// validateRefreshInterval validates a refresh interval for reasonable bounds.
func validateRefreshInterval(interval, minInterval time.Duration) error {
	if interval <= 0 {
		return errorf("refresh_interval must be positive")
	}

	if interval < minInterval {
		return errorf("refresh_interval must be at least %v", minInterval)
	}

	if interval > maxRefreshInterval {
		return errorf("refresh_interval cannot exceed %v", maxRefreshInterval)
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
