package solana

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/brojonat/walletcore/service/chain"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (*rpc.GetBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (*rpc.GetLatestBlockhashResult, error)

	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error)
}

// Client is one Solana RPC endpoint. Retries and rotation belong to the
// aggregator; the client makes exactly one request per call.
type Client struct {
	name       string
	rpc        RPCClient
	fetchDelay time.Duration
	logger     *slog.Logger
}

// NewClient creates a new Solana client. fetchDelay paces the per-signature
// GetTransaction calls made by History; public endpoints allow 1-2 RPS.
func NewClient(name string, rpcClient RPCClient, fetchDelay time.Duration, logger *slog.Logger) *Client {
	return &Client{
		name:       name,
		rpc:        rpcClient,
		fetchDelay: fetchDelay,
		logger:     logger.With("provider", name),
	}
}

func (c *Client) Name() string { return c.name }

// Balance returns the lamport balance and the slot it was read at.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (lamports uint64, slot uint64, err error) {
	res, err := c.rpc.GetBalance(ctx, account)
	if err != nil {
		return 0, 0, err
	}
	if res == nil {
		return 0, 0, chain.ErrMalformedResponse.Withf("empty getBalance result")
	}
	return res.Value, res.Context.Slot, nil
}

// AccountExists reports whether the account has been created on chain.
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	res, err := c.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res != nil && res.Value != nil, nil
}

// RentExemptMinimum returns the lamports an account with no data must hold
// to exist.
func (c *Client) RentExemptMinimum(ctx context.Context) (uint64, error) {
	return c.rpc.GetMinimumBalanceForRentExemption(ctx, 0)
}

// LatestBlockhash returns a finalized blockhash to anchor a new transaction.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	res, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Hash{}, err
	}
	if res == nil || res.Value == nil {
		return solana.Hash{}, chain.ErrMalformedResponse.Withf("empty getLatestBlockhash result")
	}
	return res.Value.Blockhash, nil
}

// RecentSignatures returns up to limit signatures touching account, newest first.
func (c *Client) RecentSignatures(ctx context.Context, account solana.PublicKey, limit int) ([]*rpc.TransactionSignature, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit: &limit,
	}
	sigs, err := c.rpc.GetSignaturesForAddress(ctx, account, opts)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "fetched transaction signatures",
		"wallet", account.String(),
		"count", len(sigs),
	)
	return sigs, nil
}

// History fetches recent signatures and parses each full transaction.
// Transactions that cannot be fetched or parsed are kept with metadata only.
func (c *Client) History(ctx context.Context, account solana.PublicKey, limit int) ([]*Transaction, error) {
	sigs, err := c.RecentSignatures(ctx, account, limit)
	if err != nil {
		return nil, err
	}

	transactions := make([]*Transaction, 0, len(sigs))
	for i, sig := range sigs {
		if i > 0 && c.fetchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.fetchDelay):
			}
		}

		result, err := c.transaction(ctx, sig.Signature)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to get transaction details, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			transactions = append(transactions, signatureToDomain(sig))
			continue
		}

		txn, err := parseTransactionFromResult(sig, result)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to parse transaction, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			transactions = append(transactions, signatureToDomain(sig))
			continue
		}
		transactions = append(transactions, txn)
	}

	c.logger.DebugContext(ctx, "fetched and parsed transactions",
		"wallet", account.String(),
		"count", len(transactions),
	)
	return transactions, nil
}

// transaction fetches one transaction, falling back to the legacy encoding
// when the node cannot decode a versioned response.
func (c *Client) transaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	version := uint64(0)
	result, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		MaxSupportedTransactionVersion: &version,
	})
	if err == nil || !strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'") {
		return result, err
	}
	c.logger.DebugContext(ctx, "could not parse as versioned tx, retrying as legacy",
		"signature", sig.String(),
	)
	return c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding: solana.EncodingBase64,
	})
}

// Send submits a serialized transaction. Preflight failures are rejections.
func (c *Client) Send(ctx context.Context, raw []byte) (string, error) {
	sig, err := c.rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		return "", classifySendError(err)
	}
	c.logger.InfoContext(ctx, "sent transaction", "signature", sig.String())
	return sig.String(), nil
}

// classifySendError maps preflight and validation failures to chain-semantic
// errors. Anything else stays transient so the aggregator can rotate.
func classifySendError(err error) error {
	var rerr *jsonrpc.RPCError
	if !errors.As(err, &rerr) {
		return err
	}
	details := map[string]string{"message": rerr.Message}
	msg := strings.ToLower(rerr.Message)
	switch {
	case strings.Contains(msg, "for rent"):
		return chain.ErrReserveNotMet.WithDetails(details).Wrap(err)
	case strings.Contains(msg, "insufficient") ||
		strings.Contains(msg, "no record of a prior credit"):
		return chain.ErrInsufficientFunds.WithDetails(details).Wrap(err)
	case strings.Contains(msg, "simulation failed") ||
		strings.Contains(msg, "blockhash not found") ||
		strings.Contains(msg, "already been processed") ||
		strings.Contains(msg, "signature verification"):
		return chain.ErrTxRejected.WithDetails(details).Wrap(err)
	}
	return err
}
