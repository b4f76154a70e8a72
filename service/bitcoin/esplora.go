package bitcoin

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/provider"
)

// Esplora fee-estimate confirmation targets for each tier.
var esploraTargets = map[chain.FeeTier]string{
	chain.TierFast:   "1",
	chain.TierMarket: "3",
	chain.TierSlow:   "144",
}

// EsploraClient talks to an Esplora REST API (Blockstream, mempool.space).
type EsploraClient struct {
	name       string
	blockchain chain.Blockchain
	http       *provider.HTTPClient
	logger     *slog.Logger
}

// NewEsploraClient creates a client for baseURL, e.g. https://blockstream.info/api.
func NewEsploraClient(name, baseURL string, blockchain chain.Blockchain, timeout time.Duration, logger *slog.Logger) *EsploraClient {
	return &EsploraClient{
		name:       name,
		blockchain: blockchain,
		http:       provider.NewHTTPClient(baseURL, timeout),
		logger:     logger.With("provider", name),
	}
}

func (c *EsploraClient) Name() string { return c.name }

type esploraStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
	TxCount      int   `json:"tx_count"`
}

type esploraAddress struct {
	Address      string       `json:"address"`
	ChainStats   esploraStats `json:"chain_stats"`
	MempoolStats esploraStats `json:"mempool_stats"`
}

type esploraStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

type esploraUTXO struct {
	TxID   string        `json:"txid"`
	Vout   uint32        `json:"vout"`
	Value  int64         `json:"value"`
	Status esploraStatus `json:"status"`
}

func (c *EsploraClient) AddressSummary(ctx context.Context, address string) (*AddressSummary, error) {
	var resp esploraAddress
	if err := c.http.GetJSON(ctx, "/address/"+address, &resp); err != nil {
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	summary := &AddressSummary{
		Confirmed:   resp.ChainStats.FundedTxoSum - resp.ChainStats.SpentTxoSum,
		Unconfirmed: resp.MempoolStats.FundedTxoSum - resp.MempoolStats.SpentTxoSum,
		MempoolTxs:  resp.MempoolStats.TxCount,
		TxCount:     resp.ChainStats.TxCount + resp.MempoolStats.TxCount,
	}
	c.logger.DebugContext(ctx, "fetched address summary",
		"address", address,
		"confirmed", summary.Confirmed,
		"unconfirmed", summary.Unconfirmed,
	)
	return summary, nil
}

// TipHeight returns the height of the best block.
func (c *EsploraClient) TipHeight(ctx context.Context) (int64, error) {
	text, err := c.http.GetText(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, fmt.Errorf("failed to get tip height: %w", err)
	}
	h, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, chain.ErrMalformedResponse.Wrap(err)
	}
	return h, nil
}

func (c *EsploraClient) UTXOs(ctx context.Context, address string) ([]chain.UTXO, error) {
	var resp []esploraUTXO
	if err := c.http.GetJSON(ctx, "/address/"+address+"/utxo", &resp); err != nil {
		return nil, fmt.Errorf("failed to get utxos: %w", err)
	}
	tip, err := c.TipHeight(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]chain.UTXO, 0, len(resp))
	for _, u := range resp {
		var conf int64
		if u.Status.Confirmed && u.Status.BlockHeight > 0 {
			conf = tip - u.Status.BlockHeight + 1
		}
		out = append(out, chain.UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Value:         u.Value,
			Address:       address,
			Confirmations: conf,
		})
	}
	c.logger.DebugContext(ctx, "fetched utxos", "address", address, "count", len(out), "tip", tip)
	return out, nil
}

func (c *EsploraClient) FeeSample(ctx context.Context) (provider.Sample, error) {
	var estimates map[string]float64
	if err := c.http.GetJSON(ctx, "/fee-estimates", &estimates); err != nil {
		return nil, fmt.Errorf("failed to get fee estimates: %w", err)
	}
	sample := make(provider.Sample, len(esploraTargets))
	for tier, target := range esploraTargets {
		rate, ok := estimates[target]
		if !ok {
			return nil, chain.ErrMalformedResponse.Withf("fee estimates missing target %s", target)
		}
		sample[string(tier)] = decimal.NewFromFloat(rate)
	}
	return sample, nil
}

func (c *EsploraClient) Broadcast(ctx context.Context, rawHex string) (string, error) {
	txid, err := c.http.PostText(ctx, "/tx", rawHex)
	if err != nil {
		return "", classifyBroadcastError(err)
	}
	c.logger.InfoContext(ctx, "broadcast transaction", "txid", txid)
	return txid, nil
}

// PushTransaction broadcasts a replacement for an unconfirmed transaction.
func (c *EsploraClient) PushTransaction(ctx context.Context, raw []byte, replacing string) (string, error) {
	var status esploraStatus
	if err := c.http.GetJSON(ctx, "/tx/"+replacing+"/status", &status); err != nil {
		return "", fmt.Errorf("failed to get status of %s: %w", replacing, err)
	}
	if status.Confirmed {
		return "", chain.ErrAlreadyConfirmed.WithDetails(map[string]string{"hash": replacing})
	}
	return c.Broadcast(ctx, hex.EncodeToString(raw))
}

type esploraTx struct {
	TxID   string        `json:"txid"`
	Fee    int64         `json:"fee"`
	Status esploraStatus `json:"status"`
	Vin    []struct {
		Prevout *struct {
			Address string `json:"scriptpubkey_address"`
			Value   int64  `json:"value"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		Address string `json:"scriptpubkey_address"`
		Value   int64  `json:"value"`
	} `json:"vout"`
}

// History returns the most recent transactions for address, newest first.
func (c *EsploraClient) History(ctx context.Context, address string, limit int) ([]chain.HistoryEntry, error) {
	var txs []esploraTx
	if err := c.http.GetJSON(ctx, "/address/"+address+"/txs", &txs); err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}

	out := make([]chain.HistoryEntry, 0, len(txs))
	for _, tx := range txs {
		var in, outSum int64
		var counterparty string
		for _, vin := range tx.Vin {
			if vin.Prevout == nil {
				continue
			}
			if vin.Prevout.Address == address {
				in += vin.Prevout.Value
			} else if counterparty == "" {
				counterparty = vin.Prevout.Address
			}
		}
		for _, vout := range tx.Vout {
			if vout.Address == address {
				outSum += vout.Value
			} else if in > 0 && counterparty == "" {
				counterparty = vout.Address
			}
		}

		entry := chain.HistoryEntry{
			Hash:         tx.TxID,
			Counterparty: counterparty,
			Confirmed:    tx.Status.Confirmed,
		}
		if tx.Status.BlockTime > 0 {
			entry.Timestamp = time.Unix(tx.Status.BlockTime, 0).UTC()
		}
		net := outSum - in
		if net >= 0 {
			entry.Direction = chain.Incoming
		} else {
			entry.Direction = chain.Outgoing
			net = -net - tx.Fee
			fee, err := chain.AmountFromMinorUnits(c.blockchain, big.NewInt(tx.Fee))
			if err == nil {
				entry.Fee = &fee
			}
		}
		amount, err := chain.AmountFromMinorUnits(c.blockchain, big.NewInt(net))
		if err != nil {
			return nil, err
		}
		entry.Amount = amount
		out = append(out, entry)
	}
	return out, nil
}

// classifyBroadcastError turns a 400 from the node into a chain rejection.
// Anything else stays transient so the aggregator can rotate.
func classifyBroadcastError(err error) error {
	var httpErr *provider.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusBadRequest {
		return chain.ErrTxRejected.WithDetails(map[string]string{"reason": httpErr.Body})
	}
	return fmt.Errorf("failed to broadcast: %w", err)
}
