package xrp

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/provider"
)

// AccountInfo is the subset of account_info the wallet reads.
type AccountInfo struct {
	Balance     uint64
	Sequence    uint32
	OwnerCount  uint32
	Queued      int
	LedgerIndex uint64
}

// ServerState holds the reserve and fee settings of the validated ledger,
// in drops.
type ServerState struct {
	ReserveBase uint64
	ReserveInc  uint64
	BaseFee     uint64
}

// FeeLevels are the drop amounts reported by the fee method.
type FeeLevels struct {
	Minimum    uint64
	OpenLedger uint64
	Median     uint64
}

// Client talks to one rippled JSON-RPC endpoint.
type Client struct {
	name   string
	http   *provider.HTTPClient
	logger *slog.Logger
}

func NewClient(name, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		name:   name,
		http:   provider.NewHTTPClient(baseURL, timeout),
		logger: logger.With("provider", name),
	}
}

func (c *Client) Name() string { return c.name }

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
}

type rpcStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	var resp rpcResponse
	if err := c.http.PostJSON(ctx, "", rpcRequest{Method: method, Params: []any{params}}, &resp); err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	var status rpcStatus
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		return chain.ErrMalformedResponse.Wrap(err)
	}
	if status.Status == "error" {
		return &rpcError{Method: method, Code: status.Error, Message: status.ErrorMessage}
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return chain.ErrMalformedResponse.Wrap(err)
	}
	return nil
}

type rpcError struct {
	Method  string
	Code    string
	Message string
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Method, e.Code, e.Message)
}

// AccountInfo returns the account root. An unfunded account is
// ErrAccountNotFound.
func (c *Client) AccountInfo(ctx context.Context, account string) (*AccountInfo, error) {
	var out struct {
		AccountData struct {
			Balance    string `json:"Balance"`
			Sequence   uint32 `json:"Sequence"`
			OwnerCount uint32 `json:"OwnerCount"`
		} `json:"account_data"`
		QueueData struct {
			TxnCount int `json:"txn_count"`
		} `json:"queue_data"`
		LedgerCurrentIndex uint64 `json:"ledger_current_index"`
	}
	params := map[string]any{"account": account, "ledger_index": "current", "queue": true}
	if err := c.call(ctx, "account_info", params, &out); err != nil {
		var rerr *rpcError
		if errors.As(err, &rerr) && rerr.Code == "actNotFound" {
			return nil, chain.ErrAccountNotFound.WithDetails(map[string]string{"address": account})
		}
		return nil, err
	}
	balance, err := strconv.ParseUint(out.AccountData.Balance, 10, 64)
	if err != nil {
		return nil, chain.ErrMalformedResponse.Withf("invalid balance %q", out.AccountData.Balance)
	}
	return &AccountInfo{
		Balance:     balance,
		Sequence:    out.AccountData.Sequence,
		OwnerCount:  out.AccountData.OwnerCount,
		Queued:      out.QueueData.TxnCount,
		LedgerIndex: out.LedgerCurrentIndex,
	}, nil
}

// ServerState reads reserve settings from the validated ledger.
func (c *Client) ServerState(ctx context.Context) (*ServerState, error) {
	var out struct {
		State struct {
			ValidatedLedger struct {
				BaseFee     uint64 `json:"base_fee"`
				ReserveBase uint64 `json:"reserve_base"`
				ReserveInc  uint64 `json:"reserve_inc"`
			} `json:"validated_ledger"`
		} `json:"state"`
	}
	if err := c.call(ctx, "server_state", map[string]any{}, &out); err != nil {
		return nil, err
	}
	vl := out.State.ValidatedLedger
	if vl.ReserveBase == 0 {
		return nil, chain.ErrMalformedResponse.Withf("server_state has no validated ledger")
	}
	return &ServerState{ReserveBase: vl.ReserveBase, ReserveInc: vl.ReserveInc, BaseFee: vl.BaseFee}, nil
}

// Fee returns the current fee levels in drops.
func (c *Client) Fee(ctx context.Context) (*FeeLevels, error) {
	var out struct {
		Drops struct {
			MinimumFee    string `json:"minimum_fee"`
			OpenLedgerFee string `json:"open_ledger_fee"`
			MedianFee     string `json:"median_fee"`
		} `json:"drops"`
	}
	if err := c.call(ctx, "fee", map[string]any{}, &out); err != nil {
		return nil, err
	}
	var levels FeeLevels
	for _, f := range []struct {
		raw string
		dst *uint64
	}{
		{out.Drops.MinimumFee, &levels.Minimum},
		{out.Drops.OpenLedgerFee, &levels.OpenLedger},
		{out.Drops.MedianFee, &levels.Median},
	} {
		v, err := strconv.ParseUint(f.raw, 10, 64)
		if err != nil {
			return nil, chain.ErrMalformedResponse.Withf("invalid fee level %q", f.raw)
		}
		*f.dst = v
	}
	return &levels, nil
}

// Submit sends a signed blob. tes results and terQUEUED are accepted; any
// other engine result is a rejection.
func (c *Client) Submit(ctx context.Context, blob []byte) (string, error) {
	var out struct {
		EngineResult        string `json:"engine_result"`
		EngineResultMessage string `json:"engine_result_message"`
		TxJSON              struct {
			Hash string `json:"hash"`
		} `json:"tx_json"`
	}
	params := map[string]any{"tx_blob": strings.ToUpper(hex.EncodeToString(blob))}
	if err := c.call(ctx, "submit", params, &out); err != nil {
		return "", err
	}
	if !accepted(out.EngineResult) {
		details := map[string]string{"engine_result": out.EngineResult, "message": out.EngineResultMessage}
		if out.EngineResult == "tecUNFUNDED_PAYMENT" || out.EngineResult == "terINSUF_FEE_B" {
			return "", chain.ErrInsufficientFunds.WithDetails(details)
		}
		if out.EngineResult == "tecNO_DST_INSUF_XRP" {
			return "", chain.ErrReserveNotMet.WithDetails(details)
		}
		return "", chain.ErrTxRejected.WithDetails(details)
	}
	c.logger.InfoContext(ctx, "submitted payment", "hash", out.TxJSON.Hash, "engine_result", out.EngineResult)
	return out.TxJSON.Hash, nil
}

func accepted(result string) bool {
	return strings.HasPrefix(result, "tes") || result == "terQUEUED"
}

// History lists recent payments touching account.
func (c *Client) History(ctx context.Context, account string, limit int) ([]chain.HistoryEntry, error) {
	var out struct {
		Transactions []struct {
			Tx        accountTx `json:"tx"`
			TxJSON    accountTx `json:"tx_json"`
			Hash      string    `json:"hash"`
			Validated bool      `json:"validated"`
			Meta      struct {
				TransactionResult string `json:"TransactionResult"`
				DeliveredAmount   any    `json:"delivered_amount"`
			} `json:"meta"`
		} `json:"transactions"`
	}
	params := map[string]any{"account": account, "limit": limit, "ledger_index_min": -1, "ledger_index_max": -1}
	if err := c.call(ctx, "account_tx", params, &out); err != nil {
		return nil, err
	}

	entries := make([]chain.HistoryEntry, 0, len(out.Transactions))
	for _, t := range out.Transactions {
		tx := t.Tx
		if tx.TransactionType == "" {
			tx = t.TxJSON
		}
		hash := tx.Hash
		if hash == "" {
			hash = t.Hash
		}
		if tx.TransactionType != "Payment" || t.Meta.TransactionResult != "tesSUCCESS" {
			continue
		}
		delivered, ok := t.Meta.DeliveredAmount.(string)
		if !ok {
			// Issued currency payment.
			continue
		}
		value, err := strconv.ParseUint(delivered, 10, 64)
		if err != nil {
			continue
		}
		entry := chain.HistoryEntry{
			Hash:      hash,
			Amount:    dropsAmount(value),
			Timestamp: rippleTime(tx.Date),
			Confirmed: t.Validated,
		}
		if tx.Account == account {
			entry.Direction = chain.Outgoing
			entry.Counterparty = tx.Destination
			if fee, err := strconv.ParseUint(tx.Fee, 10, 64); err == nil {
				a := dropsAmount(fee)
				entry.Fee = &a
			}
		} else {
			entry.Direction = chain.Incoming
			entry.Counterparty = tx.Account
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type accountTx struct {
	TransactionType string `json:"TransactionType"`
	Account         string `json:"Account"`
	Destination     string `json:"Destination"`
	Fee             string `json:"Fee"`
	Hash            string `json:"hash"`
	Date            int64  `json:"date"`
}

func dropsAmount(v uint64) chain.Amount {
	return chain.NewAmount(chain.XRP, chain.FromMinorUnits(new(big.Int).SetUint64(v), chain.MustParams(chain.XRP).Decimals))
}

// rippleEpoch is 2000-01-01T00:00:00Z in Unix seconds.
const rippleEpoch = 946684800

func rippleTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec+rippleEpoch, 0).UTC()
}
