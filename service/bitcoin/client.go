package bitcoin

import (
	"context"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/provider"
)

// AddressSummary is the balance view an indexer returns for one address,
// in satoshis.
type AddressSummary struct {
	Confirmed   int64
	Unconfirmed int64
	// MempoolTxs is the number of unconfirmed transactions touching the address.
	MempoolTxs int
	TxCount    int
}

// Indexer is the set of operations every UTXO backend must provide.
type Indexer interface {
	provider.Client
	AddressSummary(ctx context.Context, address string) (*AddressSummary, error)
	UTXOs(ctx context.Context, address string) ([]chain.UTXO, error)
	// FeeSample returns sat/vB keyed by fee tier.
	FeeSample(ctx context.Context) (provider.Sample, error)
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

// HistoryIndexer is implemented by backends that can list past transactions.
type HistoryIndexer interface {
	History(ctx context.Context, address string, limit int) ([]chain.HistoryEntry, error)
}
