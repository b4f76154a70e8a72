package xrp

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/provider"
)

// Network ties a rippled aggregator to the payment builder.
type Network struct {
	*Builder
	agg        *provider.Aggregator[*Client]
	feeTimeout time.Duration
	logger     *slog.Logger
}

func NewNetwork(agg *provider.Aggregator[*Client], feeTimeout time.Duration, logger *slog.Logger) (*Network, error) {
	builder, err := NewBuilder(agg.Blockchain())
	if err != nil {
		return nil, err
	}
	return &Network{
		Builder:    builder,
		agg:        agg,
		feeTimeout: feeTimeout,
		logger:     logger.With("component", "xrp_network", "blockchain", string(agg.Blockchain())),
	}, nil
}

func (n *Network) Blockchain() chain.Blockchain { return n.params.Blockchain }

func (n *Network) amount(drops uint64) chain.Amount {
	return chain.NewAmount(n.params.Blockchain, chain.FromMinorUnits(new(big.Int).SetUint64(drops), n.params.Decimals))
}

func dropsDecimal(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// Refresh reads the account root and the reserve settings. An unfunded
// account yields a zero balance and no sequence.
func (n *Network) Refresh(ctx context.Context, address string) (*chain.AccountState, error) {
	if err := n.ValidateAddress(address); err != nil {
		return nil, err
	}
	var (
		info  *AccountInfo
		state *ServerState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = provider.Do(gctx, n.agg, "account_info", func(ctx context.Context, c *Client) (*AccountInfo, error) {
			return c.AccountInfo(ctx, address)
		})
		if errors.Is(err, chain.ErrAccountNotFound) {
			n.logger.DebugContext(ctx, "account not activated", "address", address)
			info = nil
			return nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		state, err = n.serverState(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	increment := n.amount(state.ReserveInc)
	out := &chain.AccountState{
		Blockchain:       n.params.Blockchain,
		Address:          address,
		Balance:          n.amount(0),
		ReserveIncrement: &increment,
		Inactive:         info == nil,
		FetchedAt:        time.Now().UTC(),
	}
	reserve := state.ReserveBase
	if info != nil {
		reserve += uint64(info.OwnerCount) * state.ReserveInc
		out.Balance = n.amount(info.Balance)
		out.Nonce = uint64(info.Sequence)
		out.NextNonce = uint64(info.Sequence) + uint64(info.Queued)
		out.HasNonce = true
		out.PendingCount = info.Queued
		out.Height = info.LedgerIndex
	}
	r := n.amount(reserve)
	out.Reserve = &r
	return out, nil
}

func (n *Network) serverState(ctx context.Context) (*ServerState, error) {
	return provider.Do(ctx, n.agg, "server_state", func(ctx context.Context, c *Client) (*ServerState, error) {
		return c.ServerState(ctx)
	})
}

// Fees maps the fee method's levels to tiers: minimum, open ledger, and the
// larger of median and open ledger.
func (n *Network) Fees(ctx context.Context, req chain.FeeRequest) ([]chain.Fee, error) {
	sample, err := provider.Fees(ctx, n.agg, n.feeTimeout, func(ctx context.Context, c *Client) (provider.Sample, error) {
		levels, err := c.Fee(ctx)
		if err != nil {
			return nil, err
		}
		fast := levels.Median
		if levels.OpenLedger > fast {
			fast = levels.OpenLedger
		}
		return provider.Sample{
			string(chain.TierSlow):   dropsDecimal(levels.Minimum),
			string(chain.TierMarket): dropsDecimal(levels.OpenLedger),
			string(chain.TierFast):   dropsDecimal(fast),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	fees := make([]chain.Fee, 0, len(chain.Tiers))
	for _, tier := range chain.Tiers {
		v, ok := sample[string(tier)]
		if !ok {
			continue
		}
		fees = append(fees, chain.Fee{Amount: n.amount(uint64(v.Ceil().IntPart())), Tier: tier})
	}
	if len(fees) == 0 {
		return nil, chain.ErrFeeUnavailable.Withf("no fee tiers available for %s", n.params.Blockchain)
	}
	return fees, nil
}

// Validate enforces the account reserve and, for an unfunded destination,
// the base reserve the payment must deliver to create it.
func (n *Network) Validate(ctx context.Context, intent chain.Intent, state *chain.AccountState) error {
	if state == nil || !state.HasNonce {
		return chain.ErrAccountNotFound.WithDetails(map[string]string{"address": intent.Source})
	}
	total := intent.Total()
	cmp, err := state.Spendable().Cmp(total)
	if err != nil {
		return err
	}
	if cmp < 0 {
		details := map[string]string{"spendable": state.Spendable().String(), "required": total.String()}
		if state.Reserve != nil {
			details["reserve"] = state.Reserve.String()
		}
		return chain.ErrInsufficientFunds.WithDetails(details)
	}

	_, err = provider.Do(ctx, n.agg, "account_info", func(ctx context.Context, c *Client) (*AccountInfo, error) {
		return c.AccountInfo(ctx, intent.Destination)
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, chain.ErrAccountNotFound) {
		return err
	}
	ss, err := n.serverState(ctx)
	if err != nil {
		return err
	}
	base := n.amount(ss.ReserveBase)
	if cmp, err := intent.Amount.Cmp(base); err != nil {
		return err
	} else if cmp < 0 {
		return chain.ErrReserveNotMet.WithDetails(map[string]string{
			"destination": intent.Destination,
			"amount":      intent.Amount.String(),
			"reserve":     base.String(),
		})
	}
	return nil
}

func (n *Network) Broadcast(ctx context.Context, tx *chain.SignedTransaction) (string, error) {
	return provider.Broadcast(ctx, n.agg, func(ctx context.Context, c *Client) (string, error) {
		return c.Submit(ctx, tx.Raw)
	})
}

func (n *Network) History(ctx context.Context, address string, limit int) ([]chain.HistoryEntry, error) {
	return provider.Do(ctx, n.agg, "history", func(ctx context.Context, c *Client) ([]chain.HistoryEntry, error) {
		return c.History(ctx, address, limit)
	})
}
