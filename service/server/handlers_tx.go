package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/config"
	"github.com/brojonat/walletcore/service/wallet"
)

const maxHistoryLimit = 1000

// feeResponse is one fee option. Params is omitted for chains without
// selectable fee parameters.
type feeResponse struct {
	Tier   chain.FeeTier   `json:"tier"`
	Amount chain.Amount    `json:"amount"`
	Kind   chain.FeeKind   `json:"kind,omitempty"`
	Params chain.FeeParams `json:"params,omitempty"`
}

func feeToResponse(f chain.Fee) feeResponse {
	resp := feeResponse{Tier: f.Tier, Amount: f.Amount, Params: f.Params}
	if f.Params != nil {
		resp.Kind = f.Params.Kind()
	}
	return resp
}

// signSessionResponse is returned by prepare: the hashes to sign and the
// session the signatures are submitted to.
type signSessionResponse struct {
	SessionID   string       `json:"session_id"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Blockchain  string       `json:"blockchain"`
	Address     string       `json:"address"`
	Destination string       `json:"destination"`
	Amount      chain.Amount `json:"amount"`
	Fee         *feeResponse `json:"fee,omitempty"`
	Hashes      []string     `json:"hashes"` // hex, in signing order
	PublicKey   string       `json:"public_key"`
	Curve       chain.Curve  `json:"curve"`
}

// handleGetFees returns a handler that lists the fee options for a transfer.
// GET /api/v1/wallets/{blockchain}/{address}/fees?amount=1.5&destination=...&token=...
func handleGetFees(wallets *wallet.Registry, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := lookupWallet(wallets, r)
		if err != nil {
			writeChainError(w, err)
			return
		}

		query := r.URL.Query()
		amountStr := query.Get("amount")
		if amountStr == "" {
			amountStr = "0"
		}
		amount, err := cfg.ParseAmount(m.Blockchain(), amountStr, query.Get("token"))
		if err != nil {
			writeChainError(w, err)
			return
		}

		fees, err := m.GetFee(r.Context(), amount, query.Get("destination"))
		if err != nil {
			logger.Warn("failed to get fees", "blockchain", m.Blockchain(), "address", m.Address(), "error", err)
			writeChainError(w, err)
			return
		}

		resp := make([]feeResponse, len(fees))
		for i, f := range fees {
			resp[i] = feeToResponse(f)
		}
		writeJSON(w, map[string]interface{}{"fees": resp}, http.StatusOK)
	})
}

// handlePrepareTransaction returns a handler that validates a transfer,
// checks funds, builds the hashes to sign and opens a sign session.
// POST /api/v1/wallets/{blockchain}/{address}/transactions
func handlePrepareTransaction(wallets *wallet.Registry, sessions *sessionStore, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := lookupWallet(wallets, r)
		if err != nil {
			writeChainError(w, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Destination    string  `json:"destination"`
			Amount         string  `json:"amount"`
			Token          string  `json:"token,omitempty"`
			FeeTier        string  `json:"fee_tier,omitempty"`
			Memo           string  `json:"memo,omitempty"`
			DestinationTag *uint32 `json:"destination_tag,omitempty"`
			CallData       string  `json:"call_data,omitempty"` // hex
			Replaces       string  `json:"replaces,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}
		if req.Amount == "" {
			writeError(w, "amount is required", http.StatusBadRequest)
			return
		}

		amount, err := cfg.ParseAmount(m.Blockchain(), req.Amount, req.Token)
		if err != nil {
			writeChainError(w, err)
			return
		}

		var callData []byte
		if req.CallData != "" {
			callData, err = hex.DecodeString(strings.TrimPrefix(req.CallData, "0x"))
			if err != nil {
				writeError(w, "invalid call_data: must be hex", http.StatusBadRequest)
				return
			}
		}

		intent := chain.Intent{
			Blockchain:     m.Blockchain(),
			Source:         m.Address(),
			Destination:    req.Destination,
			Amount:         amount,
			Memo:           req.Memo,
			DestinationTag: req.DestinationTag,
			CallData:       callData,
		}
		// Local checks run before fee estimation.
		if _, err := m.CreateTransaction(intent); err != nil && !errors.Is(err, chain.ErrFeeParamsMissing) {
			writeChainError(w, err)
			return
		}

		fees, err := m.GetFee(r.Context(), amount, req.Destination)
		if err != nil {
			writeChainError(w, err)
			return
		}
		fee, err := chain.SelectFee(fees, chain.FeeTier(req.FeeTier))
		if err != nil {
			writeChainError(w, err)
			return
		}
		intent.Fee = fee

		tx, err := m.CreateTransaction(intent)
		if err != nil {
			writeChainError(w, err)
			return
		}
		tx.Replaces = req.Replaces
		signReq, err := m.Prepare(r.Context(), tx)
		if err != nil {
			logger.Debug("failed to prepare transaction",
				"blockchain", m.Blockchain(),
				"address", m.Address(),
				"error", err,
			)
			writeChainError(w, err)
			return
		}

		sess := sessions.put(m, signReq)

		hashes := make([]string, len(signReq.Hashes))
		for i, h := range signReq.Hashes {
			hashes[i] = hex.EncodeToString(h)
		}
		resp := signSessionResponse{
			SessionID:   sess.ID,
			ExpiresAt:   sess.ExpiresAt,
			Blockchain:  string(m.Blockchain()),
			Address:     m.Address(),
			Destination: req.Destination,
			Amount:      amount,
			Hashes:      hashes,
			PublicKey:   hex.EncodeToString(signReq.PublicKey.Bytes),
			Curve:       signReq.PublicKey.Curve,
		}
		if fee != nil {
			fr := feeToResponse(*fee)
			resp.Fee = &fr
		}

		logger.Info("sign session opened",
			"session_id", sess.ID,
			"blockchain", m.Blockchain(),
			"address", m.Address(),
			"hashes", len(hashes),
		)
		writeJSON(w, resp, http.StatusCreated)
	})
}

// handleSubmitSignatures returns a handler that completes a sign session:
// it assembles the signed transaction and broadcasts it. With "replaces"
// set, the transaction is pushed as a replacement of a pending one.
// POST /api/v1/sessions/{id}/signatures
func handleSubmitSignatures(sessions *sessionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Signatures []string `json:"signatures"` // hex
			Replaces   string   `json:"replaces,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}
		if len(req.Signatures) == 0 {
			writeError(w, "signatures are required", http.StatusBadRequest)
			return
		}
		signatures := make([][]byte, len(req.Signatures))
		for i, s := range req.Signatures {
			sig, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
			if err != nil {
				writeError(w, "invalid signature: must be hex", http.StatusBadRequest)
				return
			}
			signatures[i] = sig
		}

		id := r.PathValue("id")
		sess, err := sessions.claim(id)
		if err != nil {
			writeChainError(w, err)
			return
		}

		replaces := req.Replaces
		if replaces == "" {
			replaces = sess.Request.Transaction.Replaces
		}
		var hash string
		if replaces != "" {
			hash, err = sess.Manager.Replace(r.Context(), sess.Request, signatures, replaces)
		} else {
			hash, err = sess.Manager.Complete(r.Context(), sess.Request, signatures)
		}
		if err != nil {
			switch chain.KindOf(err) {
			case chain.KindSigning, chain.KindTransient:
				sessions.release(id)
			default:
				sessions.remove(id)
			}
			logger.Warn("failed to submit transaction",
				"session_id", id,
				"blockchain", sess.Manager.Blockchain(),
				"error", err,
			)
			writeChainError(w, err)
			return
		}
		sessions.remove(id)

		logger.Info("transaction submitted",
			"session_id", id,
			"blockchain", sess.Manager.Blockchain(),
			"address", sess.Manager.Address(),
			"hash", hash,
			"replaces", replaces,
		)
		writeJSON(w, map[string]string{
			"hash":       hash,
			"blockchain": string(sess.Manager.Blockchain()),
			"address":    sess.Manager.Address(),
		}, http.StatusOK)
	})
}

// handleHistory returns a handler that lists past transfers of a wallet.
// GET /api/v1/wallets/{blockchain}/{address}/history?limit=N
func handleHistory(wallets *wallet.Registry, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := lookupWallet(wallets, r)
		if err != nil {
			writeChainError(w, err)
			return
		}

		limit := cfg.HistoryLimit
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			limit, err = strconv.Atoi(limitStr)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if limit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if limit > maxHistoryLimit {
				writeError(w, "limit cannot exceed 1000", http.StatusBadRequest)
				return
			}
		}

		entries, err := m.History(r.Context(), limit)
		if err != nil {
			logger.Debug("failed to read history", "blockchain", m.Blockchain(), "error", err)
			writeChainError(w, err)
			return
		}
		if entries == nil {
			entries = []chain.HistoryEntry{}
		}

		writeJSON(w, map[string]interface{}{
			"transactions": entries,
			"count":        len(entries),
			"limit":        limit,
		}, http.StatusOK)
	})
}
