package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/provider"
)

// Blockbook estimatefee block targets for each tier.
var blockbookTargets = map[chain.FeeTier]int{
	chain.TierFast:   2,
	chain.TierMarket: 6,
	chain.TierSlow:   24,
}

// BlockbookClient talks to a Trezor Blockbook v2 API. It is the indexer
// used for Ravencoin and has no replacement support.
type BlockbookClient struct {
	name   string
	http   *provider.HTTPClient
	logger *slog.Logger
}

func NewBlockbookClient(name, baseURL string, timeout time.Duration, logger *slog.Logger) *BlockbookClient {
	return &BlockbookClient{
		name:   name,
		http:   provider.NewHTTPClient(baseURL, timeout),
		logger: logger.With("provider", name),
	}
}

func (c *BlockbookClient) Name() string { return c.name }

type blockbookAddress struct {
	Address            string `json:"address"`
	Balance            string `json:"balance"`
	UnconfirmedBalance string `json:"unconfirmedBalance"`
	UnconfirmedTxs     int    `json:"unconfirmedTxs"`
	Txs                int    `json:"txs"`
}

type blockbookUTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Value         string `json:"value"`
	Confirmations int64  `json:"confirmations"`
}

type blockbookResult struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *BlockbookClient) AddressSummary(ctx context.Context, address string) (*AddressSummary, error) {
	var resp blockbookAddress
	if err := c.http.GetJSON(ctx, "/api/v2/address/"+address+"?details=basic", &resp); err != nil {
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	confirmed, err := parseSatoshis(resp.Balance)
	if err != nil {
		return nil, err
	}
	unconfirmed, err := parseSatoshis(resp.UnconfirmedBalance)
	if err != nil {
		return nil, err
	}
	return &AddressSummary{
		Confirmed:   confirmed,
		Unconfirmed: unconfirmed,
		MempoolTxs:  resp.UnconfirmedTxs,
		TxCount:     resp.Txs,
	}, nil
}

func (c *BlockbookClient) UTXOs(ctx context.Context, address string) ([]chain.UTXO, error) {
	var resp []blockbookUTXO
	if err := c.http.GetJSON(ctx, "/api/v2/utxo/"+address, &resp); err != nil {
		return nil, fmt.Errorf("failed to get utxos: %w", err)
	}
	out := make([]chain.UTXO, 0, len(resp))
	for _, u := range resp {
		value, err := parseSatoshis(u.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, chain.UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Value:         value,
			Address:       address,
			Confirmations: u.Confirmations,
		})
	}
	c.logger.DebugContext(ctx, "fetched utxos", "address", address, "count", len(out))
	return out, nil
}

// FeeSample converts Blockbook's coin-per-kilobyte estimates to sat/B.
func (c *BlockbookClient) FeeSample(ctx context.Context) (provider.Sample, error) {
	sample := make(provider.Sample, len(blockbookTargets))
	for tier, blocks := range blockbookTargets {
		var resp blockbookResult
		if err := c.http.GetJSON(ctx, "/api/v2/estimatefee/"+strconv.Itoa(blocks), &resp); err != nil {
			return nil, fmt.Errorf("failed to estimate fee: %w", err)
		}
		perKB, err := decimal.NewFromString(resp.Result)
		if err != nil {
			return nil, chain.ErrMalformedResponse.Wrap(err)
		}
		sample[string(tier)] = perKB.Shift(8).Div(decimal.NewFromInt(1000))
	}
	return sample, nil
}

func (c *BlockbookClient) Broadcast(ctx context.Context, rawHex string) (string, error) {
	text, err := c.http.PostText(ctx, "/api/v2/sendtx/", rawHex)
	if err != nil {
		return "", classifyBroadcastError(err)
	}
	var resp blockbookResult
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return "", chain.ErrMalformedResponse.Wrap(err)
	}
	if resp.Error != nil {
		return "", chain.ErrTxRejected.WithDetails(map[string]string{"reason": resp.Error.Message})
	}
	c.logger.InfoContext(ctx, "broadcast transaction", "txid", resp.Result)
	return resp.Result, nil
}

func parseSatoshis(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, chain.ErrMalformedResponse.Withf("invalid satoshi amount %q", s)
	}
	return v, nil
}
