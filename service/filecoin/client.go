package filecoin

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/filecoin-project/go-address"
	fbig "github.com/filecoin-project/go-state-types/big"

	"github.com/brojonat/walletcore/service/chain"
)

// RPCClient is the JSON-RPC 2.0 call surface of a Lotus node.
type RPCClient interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

var _ RPCClient = (*rpc.Client)(nil)

// Dial connects to a Lotus endpoint. A non-empty token is sent as a bearer
// token on every request.
func Dial(ctx context.Context, url, token string) (*rpc.Client, error) {
	var opts []rpc.ClientOption
	if token != "" {
		opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+token))
	}
	c, err := rpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return c, nil
}

// Actor is the subset of a Lotus actor the wallet reads.
type Actor struct {
	Nonce   uint64   `json:"Nonce"`
	Balance fbig.Int `json:"Balance"`
}

type cidLink struct {
	Root string `json:"/"`
}

// Client wraps one Lotus endpoint.
type Client struct {
	name   string
	rpc    RPCClient
	logger *slog.Logger
}

func NewClient(name string, rpcClient RPCClient, logger *slog.Logger) *Client {
	return &Client{
		name:   name,
		rpc:    rpcClient,
		logger: logger.With("provider", name),
	}
}

func (c *Client) Name() string { return c.name }

// Balance returns the wallet balance in attoFIL. Unknown addresses have a
// zero balance.
func (c *Client) Balance(ctx context.Context, addr address.Address) (*big.Int, error) {
	var out fbig.Int
	if err := c.rpc.CallContext(ctx, &out, "Filecoin.WalletBalance", addr); err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if out.Int == nil {
		return new(big.Int), nil
	}
	return out.Int, nil
}

// Actor returns the on-chain actor. A missing actor is ErrAccountNotFound.
func (c *Client) Actor(ctx context.Context, addr address.Address) (*Actor, error) {
	var out Actor
	if err := c.rpc.CallContext(ctx, &out, "Filecoin.StateGetActor", addr, nil); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "actor not found") {
			return nil, chain.ErrAccountNotFound.WithDetails(map[string]string{"address": addr.String()})
		}
		return nil, fmt.Errorf("failed to get actor: %w", err)
	}
	return &out, nil
}

// MpoolNonce returns the next nonce, counting messages in the pool.
func (c *Client) MpoolNonce(ctx context.Context, addr address.Address) (uint64, error) {
	var out uint64
	if err := c.rpc.CallContext(ctx, &out, "Filecoin.MpoolGetNonce", addr); err != nil {
		return 0, fmt.Errorf("failed to get mpool nonce: %w", err)
	}
	return out, nil
}

// EstimateGas fills the gas fields of msg.
func (c *Client) EstimateGas(ctx context.Context, msg *Message) (*chain.FilecoinFeeParams, error) {
	var out Message
	spec := map[string]any{"MaxFee": "0"}
	if err := c.rpc.CallContext(ctx, &out, "Filecoin.GasEstimateMessageGas", msg, spec, nil); err != nil {
		return nil, classifyPushError(fmt.Errorf("failed to estimate gas: %w", err))
	}
	if out.GasLimit <= 0 || out.GasFeeCap.Int == nil || out.GasPremium.Int == nil {
		return nil, chain.ErrMalformedResponse.Withf("incomplete gas estimate from %s", c.name)
	}
	return &chain.FilecoinFeeParams{
		GasLimit:   out.GasLimit,
		GasFeeCap:  out.GasFeeCap.Int,
		GasPremium: out.GasPremium.Int,
	}, nil
}

// Push submits a signed message and returns its CID.
func (c *Client) Push(ctx context.Context, msg *SignedMessage) (string, error) {
	var out cidLink
	if err := c.rpc.CallContext(ctx, &out, "Filecoin.MpoolPush", msg); err != nil {
		return "", classifyPushError(err)
	}
	c.logger.InfoContext(ctx, "pushed message", "cid", out.Root, "nonce", msg.Message.Nonce)
	return out.Root, nil
}

func classifyPushError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not enough funds"), strings.Contains(msg, "insufficient"):
		return chain.ErrInsufficientFunds.Wrap(err)
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "gas fee cap too low"),
		strings.Contains(msg, "actor not found"),
		strings.Contains(msg, "invalid signature"):
		return chain.ErrTxRejected.WithDetails(map[string]string{"reason": err.Error()})
	default:
		return err
	}
}
