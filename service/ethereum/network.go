package ethereum

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/provider"
)

const (
	nativeTransferGas = 21000
	// tokenTransferGas is used when no node could estimate a token transfer.
	tokenTransferGas = 65000
)

// Network ties a JSON-RPC aggregator to the EVM builder.
type Network struct {
	*Builder
	agg        *provider.Aggregator[*Client]
	tokens     []chain.Token
	feeTimeout time.Duration
	logger     *slog.Logger
}

// NewNetwork creates a network. Balances of tokens are fetched on every
// refresh.
func NewNetwork(agg *provider.Aggregator[*Client], tokens []chain.Token, feeTimeout time.Duration, logger *slog.Logger) (*Network, error) {
	builder, err := NewBuilder(agg.Blockchain())
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if !common.IsHexAddress(t.Contract) {
			return nil, fmt.Errorf("invalid token contract %q", t.Contract)
		}
	}
	return &Network{
		Builder:    builder,
		agg:        agg,
		tokens:     tokens,
		feeTimeout: feeTimeout,
		logger:     logger.With("component", "ethereum_network", "blockchain", string(agg.Blockchain())),
	}, nil
}

func (n *Network) Blockchain() chain.Blockchain { return n.params.Blockchain }

type nonces struct {
	confirmed, pending uint64
}

// Refresh queries the balance, both nonces and every tracked token balance
// concurrently. Any sub-query failing fails the refresh.
func (n *Network) Refresh(ctx context.Context, address string) (*chain.AccountState, error) {
	if err := n.ValidateAddress(address); err != nil {
		return nil, err
	}
	addr := common.HexToAddress(address)

	var (
		balance *big.Int
		nonce   nonces
		mu      sync.Mutex
		tokens  = make(map[string]chain.Amount, len(n.tokens))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balance, err = provider.Do(gctx, n.agg, "balance", func(ctx context.Context, c *Client) (*big.Int, error) {
			return c.Balance(ctx, addr)
		})
		return err
	})
	g.Go(func() error {
		var err error
		nonce, err = provider.Do(gctx, n.agg, "nonce", func(ctx context.Context, c *Client) (nonces, error) {
			confirmed, pending, err := c.Nonces(ctx, addr)
			return nonces{confirmed: confirmed, pending: pending}, err
		})
		return err
	})
	for _, token := range n.tokens {
		g.Go(func() error {
			contract := common.HexToAddress(token.Contract)
			bal, err := provider.Do(gctx, n.agg, "token_balance", func(ctx context.Context, c *Client) (*big.Int, error) {
				return c.TokenBalance(ctx, contract, addr)
			})
			if err != nil {
				return err
			}
			amount := chain.TokenAmountFromMinorUnits(n.params.Blockchain, token, bal)
			mu.Lock()
			tokens[token.Contract] = amount
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	native, err := chain.AmountFromMinorUnits(n.params.Blockchain, balance)
	if err != nil {
		return nil, err
	}
	pending := 0
	if nonce.pending > nonce.confirmed {
		pending = int(nonce.pending - nonce.confirmed)
	}
	state := &chain.AccountState{
		Blockchain:   n.params.Blockchain,
		Address:      addr.Hex(),
		Balance:      native,
		Nonce:        nonce.confirmed,
		HasNonce:     true,
		NextNonce:    nonce.pending,
		PendingCount: pending,
		FetchedAt:    time.Now().UTC(),
	}
	if len(tokens) > 0 {
		state.TokenBalances = tokens
	}
	return state, nil
}

// Fees prices the transfer at every tier. London networks get dynamic fee
// parameters with a fee cap of twice the base fee plus the tip.
func (n *Network) Fees(ctx context.Context, req chain.FeeRequest) ([]chain.Fee, error) {
	dynamic := n.params.SupportsEIP1559
	sample, err := provider.Fees(ctx, n.agg, n.feeTimeout, func(ctx context.Context, c *Client) (provider.Sample, error) {
		return c.FeeSample(ctx, dynamic)
	})
	if err != nil {
		return nil, err
	}
	gas := n.gasLimit(ctx, req)

	baseFee, hasBase := sample[baseFeeKey]
	fees := make([]chain.Fee, 0, len(chain.Tiers))
	for _, tier := range chain.Tiers {
		var (
			params chain.FeeParams
			perGas decimal.Decimal
		)
		if tip, ok := sample[tipKey(tier)]; dynamic && hasBase && ok {
			perGas = baseFee.Mul(decimal.NewFromInt(2)).Add(tip)
			params = chain.EVMDynamicFeeParams{
				GasLimit:     gas,
				MaxFeePerGas: perGas.BigInt(),
				PriorityFee:  tip.BigInt(),
			}
		} else {
			gasPrice, ok := sample[gasPriceKey(tier)]
			if !ok {
				continue
			}
			perGas = gasPrice
			params = chain.EVMLegacyFeeParams{GasLimit: gas, GasPrice: gasPrice.BigInt()}
		}
		amount, err := chain.AmountFromMinorUnits(n.params.Blockchain, perGas.Mul(decimal.NewFromInt(int64(gas))).BigInt())
		if err != nil {
			return nil, err
		}
		fees = append(fees, chain.Fee{Amount: amount, Params: params, Tier: tier})
	}
	if len(fees) == 0 {
		return nil, chain.ErrFeeUnavailable.Withf("no fee tiers available for %s", n.params.Blockchain)
	}
	return fees, nil
}

// gasLimit returns 21000 for native transfers. Token transfers are estimated
// by the current node and fall back to a fixed limit.
func (n *Network) gasLimit(ctx context.Context, req chain.FeeRequest) uint64 {
	if !req.Amount.IsToken() {
		return nativeTransferGas
	}
	if !common.IsHexAddress(req.Source) || !common.IsHexAddress(req.Destination) || !common.IsHexAddress(req.Amount.Token.Contract) {
		return tokenTransferGas
	}
	minor, err := req.Amount.MinorUnits()
	if err != nil {
		return tokenTransferGas
	}
	data, err := erc20ABI.Pack("transfer", common.HexToAddress(req.Destination), minor)
	if err != nil {
		return tokenTransferGas
	}
	from := common.HexToAddress(req.Source)
	to := common.HexToAddress(req.Amount.Token.Contract)
	gas, err := provider.Do(ctx, n.agg, "estimate_gas", func(ctx context.Context, c *Client) (uint64, error) {
		return c.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	})
	if err != nil {
		n.logger.WarnContext(ctx, "gas estimation failed, using default", "error", err, "default", tokenTransferGas)
		return tokenTransferGas
	}
	return gas
}

func (n *Network) Broadcast(ctx context.Context, tx *chain.SignedTransaction) (string, error) {
	return provider.Broadcast(ctx, n.agg, func(ctx context.Context, c *Client) (string, error) {
		return c.Broadcast(ctx, tx.Raw)
	})
}
