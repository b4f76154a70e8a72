package ethereum

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/provider"
)

// RPCClient is the subset of ethclient.Client the wallet needs.
// Tests substitute a mock so no node is required.
type RPCClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Tier multipliers applied to the node's suggested gas price and tip.
var tierMultipliers = map[chain.FeeTier]decimal.Decimal{
	chain.TierSlow:   decimal.RequireFromString("0.8"),
	chain.TierMarket: decimal.NewFromInt(1),
	chain.TierFast:   decimal.RequireFromString("1.5"),
}

// Client wraps one JSON-RPC endpoint with domain operations.
type Client struct {
	name   string
	rpc    RPCClient
	logger *slog.Logger
}

// NewClient creates a client. The name labels logs and provider metrics,
// typically the endpoint host.
func NewClient(name string, rpcClient RPCClient, logger *slog.Logger) *Client {
	return &Client{
		name:   name,
		rpc:    rpcClient,
		logger: logger.With("provider", name),
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	bal, err := c.rpc.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return bal, nil
}

// TokenBalance calls balanceOf on an ERC-20 contract. Contracts that return
// no data are treated as a zero balance.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}
	if len(out) == 0 {
		c.logger.DebugContext(ctx, "empty balanceOf result", "token", token.Hex(), "owner", owner.Hex())
		return big.NewInt(0), nil
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return nil, chain.ErrMalformedResponse.Withf("invalid balanceOf result for %s", token.Hex())
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, chain.ErrMalformedResponse.Withf("invalid balanceOf result for %s", token.Hex())
	}
	return bal, nil
}

// Nonces returns the confirmed and the pending transaction count.
func (c *Client) Nonces(ctx context.Context, address common.Address) (uint64, uint64, error) {
	confirmed, err := c.rpc.NonceAt(ctx, address, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	pending, err := c.rpc.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	return confirmed, pending, nil
}

// FeeSample returns gas prices per tier in wei. On London networks it also
// returns the latest base fee and per-tier priority tips.
func (c *Client) FeeSample(ctx context.Context, dynamic bool) (provider.Sample, error) {
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	sample := provider.Sample{}
	for tier, mult := range tierMultipliers {
		sample[gasPriceKey(tier)] = decimal.NewFromBigInt(gasPrice, 0).Mul(mult).Ceil()
	}
	if !dynamic {
		return sample, nil
	}

	header, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	if header.BaseFee == nil {
		return sample, nil
	}
	tip, err := c.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest tip: %w", err)
	}
	sample[baseFeeKey] = decimal.NewFromBigInt(header.BaseFee, 0)
	for tier, mult := range tierMultipliers {
		sample[tipKey(tier)] = decimal.NewFromBigInt(tip, 0).Mul(mult).Ceil()
	}
	return sample, nil
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.rpc.EstimateGas(ctx, msg)
	if err != nil {
		return 0, classifySendError(fmt.Errorf("failed to estimate gas: %w", err))
	}
	return gas, nil
}

// Broadcast decodes a signed transaction and submits it.
func (c *Client) Broadcast(ctx context.Context, raw []byte) (string, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", chain.ErrMalformedSignature.Wrap(err)
	}
	if err := c.rpc.SendTransaction(ctx, tx); err != nil {
		return "", classifySendError(err)
	}
	c.logger.InfoContext(ctx, "broadcast transaction", "hash", tx.Hash().Hex(), "nonce", tx.Nonce())
	return tx.Hash().Hex(), nil
}

const baseFeeKey = "base_fee"

func gasPriceKey(t chain.FeeTier) string { return "gas_price_" + string(t) }
func tipKey(t chain.FeeTier) string      { return "tip_" + string(t) }

// classifySendError maps node rejections to chain-semantic errors. Other
// failures stay transient.
func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return chain.ErrInsufficientFunds.Wrap(err)
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "intrinsic gas too low"):
		return chain.ErrTxRejected.WithDetails(map[string]string{"reason": err.Error()})
	default:
		return err
	}
}
