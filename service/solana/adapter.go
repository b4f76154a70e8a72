package solana

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// rpcAdapter pins the commitment levels the wallet reads and sends with.
type rpcAdapter struct {
	rpc *rpc.Client
}

// NewRPCClient wraps one endpoint. Keyed providers (Helius, QuickNode) take
// the API key in the URL.
func NewRPCClient(endpoint string) RPCClient {
	return &rpcAdapter{rpc: rpc.New(endpoint)}
}

func (a *rpcAdapter) GetBalance(ctx context.Context, account solana.PublicKey) (*rpc.GetBalanceResult, error) {
	return a.rpc.GetBalance(ctx, account, rpc.CommitmentConfirmed)
}

func (a *rpcAdapter) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	return a.rpc.GetAccountInfo(ctx, account)
}

func (a *rpcAdapter) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	return a.rpc.GetMinimumBalanceForRentExemption(ctx, dataSize, rpc.CommitmentConfirmed)
}

func (a *rpcAdapter) GetLatestBlockhash(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
	return a.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
}

func (a *rpcAdapter) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	return a.rpc.GetSignaturesForAddressWithOpts(ctx, address, opts)
}

func (a *rpcAdapter) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	return a.rpc.GetTransaction(ctx, signature, opts)
}

func (a *rpcAdapter) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	return a.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
}
