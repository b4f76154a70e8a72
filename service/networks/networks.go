// Package networks builds the provider aggregators and chain networks for
// every enabled blockchain from configuration.
package networks

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"

	"github.com/brojonat/walletcore/service/bitcoin"
	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/config"
	"github.com/brojonat/walletcore/service/ethereum"
	"github.com/brojonat/walletcore/service/filecoin"
	"github.com/brojonat/walletcore/service/metrics"
	"github.com/brojonat/walletcore/service/provider"
	"github.com/brojonat/walletcore/service/solana"
	"github.com/brojonat/walletcore/service/wallet"
	"github.com/brojonat/walletcore/service/xrp"
)

// Set holds one network per enabled blockchain.
type Set struct {
	networks map[chain.Blockchain]wallet.Network
	closers  []func()
}

// Build creates a network for every blockchain in cfg.EnabledChains.
func Build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Set, error) {
	s := &Set{networks: make(map[chain.Blockchain]wallet.Network)}
	for _, b := range cfg.EnabledChains {
		n, err := s.build(ctx, b, cfg, m, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to build %s network: %w", b, err)
		}
		s.networks[b] = n
		logger.Info("network ready", "blockchain", string(b), "providers", len(cfg.Providers[b]))
	}
	return s, nil
}

func (s *Set) build(ctx context.Context, b chain.Blockchain, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (wallet.Network, error) {
	urls := cfg.Providers[b]
	if len(urls) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	params, err := chain.ParamsFor(b)
	if err != nil {
		return nil, err
	}

	switch {
	case b == chain.Ravencoin:
		clients := make([]bitcoin.Indexer, len(urls))
		for i, u := range urls {
			clients[i] = bitcoin.NewBlockbookClient(hostName(u), u, cfg.ProviderTimeout, logger)
		}
		agg, err := provider.New(b, clients, m, logger)
		if err != nil {
			return nil, err
		}
		return bitcoin.NewNetwork(agg, cfg.FeeTimeout, logger)

	case params.Family == chain.FamilyUTXO:
		clients := make([]bitcoin.Indexer, len(urls))
		for i, u := range urls {
			clients[i] = bitcoin.NewEsploraClient(hostName(u), u, b, cfg.ProviderTimeout, logger)
		}
		agg, err := provider.New(b, clients, m, logger)
		if err != nil {
			return nil, err
		}
		return bitcoin.NewNetwork(agg, cfg.FeeTimeout, logger)

	case b == chain.Ethereum || b == chain.EthereumSepolia:
		clients := make([]*ethereum.Client, len(urls))
		for i, u := range urls {
			rpc, err := ethereum.Dial(ctx, u)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, rpc.Close)
			clients[i] = ethereum.NewClient(hostName(u), rpc, logger)
		}
		agg, err := provider.New(b, clients, m, logger)
		if err != nil {
			return nil, err
		}
		var tokens []chain.Token
		if b == chain.Ethereum {
			tokens = cfg.EthereumTokens
		}
		return ethereum.NewNetwork(agg, tokens, cfg.FeeTimeout, logger)

	case b == chain.Filecoin:
		clients := make([]*filecoin.Client, len(urls))
		for i, u := range urls {
			rpc, err := filecoin.Dial(ctx, u, cfg.FilecoinRPCToken)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, rpc.Close)
			clients[i] = filecoin.NewClient(hostName(u), rpc, logger)
		}
		agg, err := provider.New(b, clients, m, logger)
		if err != nil {
			return nil, err
		}
		return filecoin.NewNetwork(agg, cfg.FeeTimeout, logger)

	case b == chain.XRP:
		clients := make([]*xrp.Client, len(urls))
		for i, u := range urls {
			clients[i] = xrp.NewClient(hostName(u), u, cfg.ProviderTimeout, logger)
		}
		agg, err := provider.New(b, clients, m, logger)
		if err != nil {
			return nil, err
		}
		return xrp.NewNetwork(agg, cfg.FeeTimeout, logger)

	case b == chain.Solana:
		clients := make([]*solana.Client, len(urls))
		for i, u := range urls {
			clients[i] = solana.NewClient(hostName(u), solana.NewRPCClient(u), cfg.SolanaFetchDelay, logger)
		}
		agg, err := provider.New(b, clients, m, logger)
		if err != nil {
			return nil, err
		}
		return solana.NewNetwork(agg, logger)
	}
	return nil, chain.ErrNotSupported.Withf("no network for %s", b)
}

// Get returns the network for b.
func (s *Set) Get(b chain.Blockchain) (wallet.Network, error) {
	n, ok := s.networks[b]
	if !ok {
		return nil, chain.ErrNotSupported.Withf("%s is not enabled", b)
	}
	return n, nil
}

// Blockchains lists the enabled blockchains in name order.
func (s *Set) Blockchains() []chain.Blockchain {
	out := make([]chain.Blockchain, 0, len(s.networks))
	for b := range s.networks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close releases the RPC connections.
func (s *Set) Close() {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
}

// hostName labels a provider in logs and metrics.
func hostName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

var (
	_ wallet.Network       = (*bitcoin.Network)(nil)
	_ wallet.Pusher        = (*bitcoin.Network)(nil)
	_ wallet.HistoryReader = (*bitcoin.Network)(nil)
	_ wallet.Network       = (*ethereum.Network)(nil)
	_ wallet.Network       = (*filecoin.Network)(nil)
	_ wallet.Network       = (*xrp.Network)(nil)
	_ wallet.Validator     = (*xrp.Network)(nil)
	_ wallet.HistoryReader = (*xrp.Network)(nil)
	_ wallet.Network       = (*solana.Network)(nil)
	_ wallet.Validator     = (*solana.Network)(nil)
	_ wallet.HistoryReader = (*solana.Network)(nil)
)
