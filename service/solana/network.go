package solana

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/provider"
)

// recentSignatureLimit is how many signatures a refresh reads to detect
// that a sent transaction has landed.
const recentSignatureLimit = 20

// Network ties a Solana RPC aggregator to the transfer builder.
type Network struct {
	*Builder
	agg    *provider.Aggregator[*Client]
	logger *slog.Logger
}

func NewNetwork(agg *provider.Aggregator[*Client], logger *slog.Logger) (*Network, error) {
	builder, err := NewBuilder(agg.Blockchain())
	if err != nil {
		return nil, err
	}
	return &Network{
		Builder: builder,
		agg:     agg,
		logger:  logger.With("component", "solana_network", "blockchain", string(agg.Blockchain())),
	}, nil
}

func (n *Network) Blockchain() chain.Blockchain { return n.params.Blockchain }

func (n *Network) lamports(v uint64) chain.Amount {
	return chain.NewAmount(n.params.Blockchain, chain.FromMinorUnits(new(big.Int).SetUint64(v), n.params.Decimals))
}

// Refresh reads the balance, a fresh blockhash and the recent signatures
// concurrently. Only confirmed signatures are listed in RecentHashes.
func (n *Network) Refresh(ctx context.Context, address string) (*chain.AccountState, error) {
	account, err := parseAddress(address)
	if err != nil {
		return nil, err
	}

	type balance struct{ lamports, slot uint64 }
	var (
		bal       balance
		blockhash solana.Hash
		sigs      []*rpc.TransactionSignature
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bal, err = provider.Do(gctx, n.agg, "balance", func(ctx context.Context, c *Client) (balance, error) {
			l, s, err := c.Balance(ctx, account)
			return balance{l, s}, err
		})
		return err
	})
	g.Go(func() error {
		var err error
		blockhash, err = provider.Do(gctx, n.agg, "blockhash", func(ctx context.Context, c *Client) (solana.Hash, error) {
			return c.LatestBlockhash(ctx)
		})
		return err
	})
	g.Go(func() error {
		var err error
		sigs, err = provider.Do(gctx, n.agg, "signatures", func(ctx context.Context, c *Client) ([]*rpc.TransactionSignature, error) {
			return c.RecentSignatures(ctx, account, recentSignatureLimit)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	state := &chain.AccountState{
		Blockchain: n.params.Blockchain,
		Address:    address,
		Balance:    n.lamports(bal.lamports),
		Height:     bal.slot,
		Blockhash:  blockhash.String(),
		FetchedAt:  time.Now().UTC(),
	}
	for _, s := range sigs {
		if s.ConfirmationStatus == rpc.ConfirmationStatusProcessed {
			state.PendingCount++
			continue
		}
		state.RecentHashes = append(state.RecentHashes, s.Signature.String())
	}
	return state, nil
}

// Fees returns the fixed per-signature fee as a single market tier.
func (n *Network) Fees(ctx context.Context, req chain.FeeRequest) ([]chain.Fee, error) {
	return []chain.Fee{{
		Amount: n.lamports(uint64(n.params.FixedFeePerSignature)),
		Tier:   chain.TierMarket,
	}}, nil
}

// Validate rejects transfers that would create the destination account
// below the rent-exempt minimum.
func (n *Network) Validate(ctx context.Context, intent chain.Intent, state *chain.AccountState) error {
	to, err := parseAddress(intent.Destination)
	if err != nil {
		return err
	}
	exists, err := provider.Do(ctx, n.agg, "account_info", func(ctx context.Context, c *Client) (bool, error) {
		return c.AccountExists(ctx, to)
	})
	if err != nil || exists {
		return err
	}
	minimum, err := provider.Do(ctx, n.agg, "rent_exemption", func(ctx context.Context, c *Client) (uint64, error) {
		return c.RentExemptMinimum(ctx)
	})
	if err != nil {
		return err
	}
	reserve := n.lamports(minimum)
	if cmp, err := intent.Amount.Cmp(reserve); err != nil {
		return err
	} else if cmp < 0 {
		return chain.ErrReserveNotMet.WithDetails(map[string]string{
			"destination": intent.Destination,
			"amount":      intent.Amount.String(),
			"reserve":     reserve.String(),
		})
	}
	return nil
}

func (n *Network) Broadcast(ctx context.Context, tx *chain.SignedTransaction) (string, error) {
	return provider.Broadcast(ctx, n.agg, func(ctx context.Context, c *Client) (string, error) {
		return c.Send(ctx, tx.Raw)
	})
}

// History lists recent native transfers touching address. Failed
// transactions and transactions without a system transfer are skipped.
func (n *Network) History(ctx context.Context, address string, limit int) ([]chain.HistoryEntry, error) {
	account, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	txns, err := provider.Do(ctx, n.agg, "history", func(ctx context.Context, c *Client) ([]*Transaction, error) {
		return c.History(ctx, account, limit)
	})
	if err != nil {
		return nil, err
	}

	entries := make([]chain.HistoryEntry, 0, len(txns))
	for _, t := range txns {
		if t.Err != nil || t.Amount == 0 || t.FromAddress == nil {
			continue
		}
		entry := chain.HistoryEntry{
			Hash:      t.Signature,
			Amount:    n.lamports(t.Amount),
			Timestamp: t.BlockTime,
			Confirmed: t.Confirmed,
		}
		if *t.FromAddress == address {
			entry.Direction = chain.Outgoing
			if t.ToAddress != nil {
				entry.Counterparty = *t.ToAddress
			}
			if t.Fee > 0 {
				fee := n.lamports(t.Fee)
				entry.Fee = &fee
			}
		} else {
			entry.Direction = chain.Incoming
			entry.Counterparty = *t.FromAddress
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
