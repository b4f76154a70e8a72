package bitcoin

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/provider"
)

// Network ties an indexer aggregator to the UTXO builder for one blockchain.
type Network struct {
	*Builder
	agg        *provider.Aggregator[Indexer]
	feeTimeout time.Duration
	logger     *slog.Logger
}

func NewNetwork(agg *provider.Aggregator[Indexer], feeTimeout time.Duration, logger *slog.Logger) (*Network, error) {
	builder, err := NewBuilder(agg.Blockchain())
	if err != nil {
		return nil, err
	}
	return &Network{
		Builder:    builder,
		agg:        agg,
		feeTimeout: feeTimeout,
		logger:     logger.With("component", "bitcoin_network", "blockchain", string(agg.Blockchain())),
	}, nil
}

func (n *Network) Blockchain() chain.Blockchain { return n.params.Blockchain }

// recentHistoryLimit bounds the transactions read to fill RecentHashes.
const recentHistoryLimit = 25

// Refresh fetches the address summary, the UTXO set and, when an indexer
// provides it, the recent transaction list concurrently. The summary or the
// UTXO read failing fails the whole refresh; a failed history read only
// leaves RecentHashes empty. Only confirmed transactions are listed there.
func (n *Network) Refresh(ctx context.Context, address string) (*chain.AccountState, error) {
	var (
		summary *AddressSummary
		utxos   []chain.UTXO
		recent  []chain.HistoryEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, err = provider.Do(gctx, n.agg, "address", func(ctx context.Context, c Indexer) (*AddressSummary, error) {
			return c.AddressSummary(ctx, address)
		})
		return err
	})
	g.Go(func() error {
		var err error
		utxos, err = provider.Do(gctx, n.agg, "utxos", func(ctx context.Context, c Indexer) ([]chain.UTXO, error) {
			return c.UTXOs(ctx, address)
		})
		return err
	})
	if n.hasHistory() {
		g.Go(func() error {
			var err error
			recent, err = n.History(gctx, address, recentHistoryLimit)
			if err != nil && gctx.Err() == nil {
				n.logger.Warn("recent transactions unavailable", "address", address, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	balance, err := chain.AmountFromMinorUnits(n.params.Blockchain, big.NewInt(summary.Confirmed+summary.Unconfirmed))
	if err != nil {
		return nil, err
	}
	state := &chain.AccountState{
		Blockchain:   n.params.Blockchain,
		Address:      address,
		Balance:      balance,
		UTXOs:        utxos,
		PendingCount: summary.MempoolTxs,
		FetchedAt:    time.Now().UTC(),
	}
	for _, e := range recent {
		if e.Confirmed {
			state.RecentHashes = append(state.RecentHashes, e.Hash)
		}
	}
	return state, nil
}

// Fees prices a transfer at each tier. The size estimate assumes the inputs
// the greedy selection would pick from the current snapshot.
func (n *Network) Fees(ctx context.Context, req chain.FeeRequest) ([]chain.Fee, error) {
	rates, err := provider.Fees(ctx, n.agg, n.feeTimeout, func(ctx context.Context, c Indexer) (provider.Sample, error) {
		return c.FeeSample(ctx)
	})
	if err != nil {
		return nil, err
	}

	witness := false
	if addr, err := n.decodeAddress(req.Source); err == nil {
		_, witness = addr.(*btcutil.AddressWitnessPubKeyHash)
	}
	var spendable []chain.UTXO
	if req.State != nil {
		spendable = chain.Spendable(req.State.UTXOs, n.params.MinConfirmations)
	}
	var value int64
	if m, err := req.Amount.MinorUnits(); err == nil && m.IsInt64() {
		value = m.Int64()
	}

	fees := make([]chain.Fee, 0, len(chain.Tiers))
	for _, tier := range chain.Tiers {
		rate, ok := rates[string(tier)]
		if !ok {
			continue
		}
		size, sats := priceForInputs(spendable, value, rate, witness)
		amount, err := chain.AmountFromMinorUnits(n.params.Blockchain, big.NewInt(sats))
		if err != nil {
			return nil, err
		}
		fees = append(fees, chain.Fee{
			Amount: amount,
			Params: chain.UTXOFeeParams{SatoshiPerByte: rate, EstimatedSize: size},
			Tier:   tier,
		})
	}
	if len(fees) == 0 {
		return nil, chain.ErrFeeUnavailable.Withf("no fee tiers available for %s", n.params.Blockchain)
	}
	return fees, nil
}

// priceForInputs finds the smallest input count whose fee, together with
// value, is covered by the largest outputs. With no usable snapshot a single
// input is assumed.
func priceForInputs(spendable []chain.UTXO, value int64, rate decimal.Decimal, witness bool) (int64, int64) {
	price := func(inputs int) (int64, int64) {
		size := EstimateSize(inputs, 2, witness)
		return size, rate.Mul(decimal.NewFromInt(size)).Ceil().IntPart()
	}
	var total int64
	for i, u := range spendable {
		total += u.Value
		size, sats := price(i + 1)
		if total >= value+sats {
			return size, sats
		}
	}
	inputs := len(spendable)
	if inputs == 0 {
		inputs = 1
	}
	return price(inputs)
}

func (n *Network) Broadcast(ctx context.Context, tx *chain.SignedTransaction) (string, error) {
	rawHex := hex.EncodeToString(tx.Raw)
	return provider.Broadcast(ctx, n.agg, func(ctx context.Context, c Indexer) (string, error) {
		return c.Broadcast(ctx, rawHex)
	})
}

func (n *Network) SupportsPush() bool {
	return n.params.SupportsRBF && provider.SupportsPush(n.agg)
}

// Push replaces an unconfirmed transaction with tx.
func (n *Network) Push(ctx context.Context, tx *chain.SignedTransaction, replacing string) (string, error) {
	if !n.params.SupportsRBF {
		return "", chain.ErrPushUnsupported.WithDetails(map[string]string{"blockchain": string(n.params.Blockchain)})
	}
	return provider.Push(ctx, n.agg, tx.Raw, replacing)
}

// History lists recent transactions from the first indexer that supports it.
func (n *Network) History(ctx context.Context, address string, limit int) ([]chain.HistoryEntry, error) {
	if !n.hasHistory() {
		return nil, chain.ErrNotSupported.Withf("no configured %s indexer provides history", n.params.Blockchain)
	}
	return provider.Do(ctx, n.agg, "history", func(ctx context.Context, c Indexer) ([]chain.HistoryEntry, error) {
		h, ok := c.(HistoryIndexer)
		if !ok {
			return nil, errHistoryUnavailable
		}
		return h.History(ctx, address, limit)
	})
}

func (n *Network) hasHistory() bool {
	for _, c := range n.agg.Clients() {
		if _, ok := c.(HistoryIndexer); ok {
			return true
		}
	}
	return false
}

var errHistoryUnavailable = errors.New("indexer does not provide history")
