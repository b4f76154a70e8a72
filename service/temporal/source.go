package temporal

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/metrics"
	"github.com/brojonat/walletcore/service/wallet"
)

// NetworkSource returns the network that serves a blockchain.
// *networks.Set implements it.
type NetworkSource interface {
	Get(b chain.Blockchain) (wallet.Network, error)
}

// RegistrySource resolves scheduled wallets from a process-wide registry,
// creating a manager the first time a wallet is refreshed on this worker.
type RegistrySource struct {
	registry *wallet.Registry
	networks NetworkSource
	sink     wallet.EventSink
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRegistrySource creates a RegistrySource. sink and m are optional.
func NewRegistrySource(registry *wallet.Registry, networks NetworkSource, sink wallet.EventSink, m *metrics.Metrics, logger *slog.Logger) *RegistrySource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistrySource{
		registry: registry,
		networks: networks,
		sink:     sink,
		metrics:  m,
		logger:   logger,
	}
}

func (s *RegistrySource) Wallet(ctx context.Context, input RefreshWalletInput) (Refresher, error) {
	b := chain.Blockchain(input.Blockchain)

	m, err := s.registry.Get(b, input.Address)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, wallet.ErrWalletNotFound) {
		return nil, err
	}

	network, err := s.networks.Get(b)
	if err != nil {
		return nil, err
	}
	key, err := decodeKey(input)
	if err != nil {
		return nil, err
	}

	m, err = wallet.NewManager(wallet.Config{
		Address:   input.Address,
		PublicKey: key,
		Network:   network,
		Sink:      s.sink,
		Metrics:   s.metrics,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet manager: %w", err)
	}

	m, added := s.registry.Add(m)
	if added {
		s.logger.InfoContext(ctx, "wallet loaded on worker",
			"blockchain", input.Blockchain,
			"address", input.Address,
		)
	}
	return m, nil
}

// decodeKey parses the hex public key carried by a schedule. An absent key
// yields the zero key, which the manager reports as no derivation.
func decodeKey(input RefreshWalletInput) (chain.PublicKey, error) {
	if input.PublicKey == "" {
		return chain.PublicKey{}, nil
	}
	raw, err := hex.DecodeString(input.PublicKey)
	if err != nil {
		return chain.PublicKey{}, chain.ErrNoDerivation.Withf("public key is not hex: %v", err)
	}
	return chain.PublicKey{Curve: chain.Curve(input.Curve), Bytes: raw}, nil
}
