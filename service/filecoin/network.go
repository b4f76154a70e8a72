package filecoin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"time"

	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/provider"
)

const (
	gasLimitKey = "gas_limit"
	feeCapKey   = "fee_cap"
	premiumKey  = "premium"
)

// Network ties a Lotus aggregator to the message builder.
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
		logger:     logger.With("component", "filecoin_network", "blockchain", string(agg.Blockchain())),
	}, nil
}

func (n *Network) Blockchain() chain.Blockchain { return n.params.Blockchain }

// Refresh reads the balance, the actor nonce and the pool nonce. An address
// with no actor yet has nonce zero.
func (n *Network) Refresh(ctx context.Context, addr string) (*chain.AccountState, error) {
	a, err := n.parseAddress(addr)
	if err != nil {
		return nil, err
	}
	var (
		balance   *big.Int
		confirmed uint64
		next      uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balance, err = provider.Do(gctx, n.agg, "balance", func(ctx context.Context, c *Client) (*big.Int, error) {
			return c.Balance(ctx, a)
		})
		return err
	})
	g.Go(func() error {
		actor, err := provider.Do(gctx, n.agg, "actor", func(ctx context.Context, c *Client) (*Actor, error) {
			return c.Actor(ctx, a)
		})
		if errors.Is(err, chain.ErrAccountNotFound) {
			n.logger.DebugContext(ctx, "address has no actor", "address", addr)
			return nil
		}
		if err != nil {
			return err
		}
		confirmed = actor.Nonce
		return nil
	})
	g.Go(func() error {
		var err error
		next, err = provider.Do(gctx, n.agg, "nonce", func(ctx context.Context, c *Client) (uint64, error) {
			return c.MpoolNonce(ctx, a)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	amount, err := chain.AmountFromMinorUnits(n.params.Blockchain, balance)
	if err != nil {
		return nil, err
	}
	pending := 0
	if next > confirmed {
		pending = int(next - confirmed)
	}
	return &chain.AccountState{
		Blockchain:   n.params.Blockchain,
		Address:      addr,
		Balance:      amount,
		Nonce:        confirmed,
		HasNonce:     true,
		NextNonce:    next,
		PendingCount: pending,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// Fees asks every node to estimate the message gas and combines the
// estimates. Filecoin exposes a single market fee; its amount is the
// worst case of gas limit times fee cap.
func (n *Network) Fees(ctx context.Context, req chain.FeeRequest) ([]chain.Fee, error) {
	from, err := n.parseAddress(req.Source)
	if err != nil {
		return nil, err
	}
	to := from
	if req.Destination != "" {
		if to, err = n.parseAddress(req.Destination); err != nil {
			return nil, err
		}
	}
	value := fbig.Zero()
	if m, err := req.Amount.MinorUnits(); err == nil {
		value = fbig.NewFromGo(m)
	}
	var nonce uint64
	if req.State != nil {
		nonce = req.State.SendNonce()
	}
	draft := &Message{From: from, To: to, Value: value, Nonce: nonce, Method: methodSend}

	sample, err := provider.Fees(ctx, n.agg, n.feeTimeout, func(ctx context.Context, c *Client) (provider.Sample, error) {
		est, err := c.EstimateGas(ctx, draft)
		if err != nil {
			return nil, err
		}
		return provider.Sample{
			gasLimitKey: decimal.NewFromInt(est.GasLimit),
			feeCapKey:   decimal.NewFromBigInt(est.GasFeeCap, 0),
			premiumKey:  decimal.NewFromBigInt(est.GasPremium, 0),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	limit := sample[gasLimitKey].Ceil()
	feeCap := sample[feeCapKey].Ceil()
	premium := sample[premiumKey].Ceil()
	amount, err := chain.AmountFromMinorUnits(n.params.Blockchain, limit.Mul(feeCap).BigInt())
	if err != nil {
		return nil, err
	}
	return []chain.Fee{{
		Amount: amount,
		Params: chain.FilecoinFeeParams{
			GasLimit:   limit.IntPart(),
			GasFeeCap:  feeCap.BigInt(),
			GasPremium: premium.BigInt(),
		},
		Tier: chain.TierMarket,
	}}, nil
}

// Broadcast pushes a Lotus JSON SignedMessage.
func (n *Network) Broadcast(ctx context.Context, tx *chain.SignedTransaction) (string, error) {
	var msg SignedMessage
	if err := json.Unmarshal(tx.Raw, &msg); err != nil {
		return "", chain.ErrMalformedSignature.Wrap(err)
	}
	return provider.Broadcast(ctx, n.agg, func(ctx context.Context, c *Client) (string, error) {
		return c.Push(ctx, &msg)
	})
}
