package wallet

import (
	"fmt"
	"sort"
	"sync"

	"github.com/brojonat/walletcore/service/chain"
)

// ErrWalletNotFound is returned by Registry lookups for unknown wallets.
var ErrWalletNotFound = fmt.Errorf("wallet not found")

// Key identifies a wallet: one address on one blockchain.
type Key struct {
	Blockchain chain.Blockchain
	Address    string
}

func (k Key) String() string {
	return string(k.Blockchain) + ":" + k.Address
}

// Registry holds the managers of a process. Each manager is independent;
// the registry only guards the map.
type Registry struct {
	mu       sync.RWMutex
	managers map[Key]*Manager
}

func NewRegistry() *Registry {
	return &Registry{managers: make(map[Key]*Manager)}
}

// Add registers m. Adding a wallet that is already registered returns the
// existing manager and false.
func (r *Registry) Add(m *Manager) (*Manager, bool) {
	k := Key{Blockchain: m.Blockchain(), Address: m.Address()}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.managers[k]; ok {
		return existing, false
	}
	r.managers[k] = m
	return m, true
}

// Get returns the manager for blockchain and address.
func (r *Registry) Get(blockchain chain.Blockchain, address string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[Key{Blockchain: blockchain, Address: address}]
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", ErrWalletNotFound, blockchain, address)
	}
	return m, nil
}

// Remove cancels any refresh of the wallet and forgets it.
func (r *Registry) Remove(blockchain chain.Blockchain, address string) error {
	k := Key{Blockchain: blockchain, Address: address}
	r.mu.Lock()
	m, ok := r.managers[k]
	delete(r.managers, k)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWalletNotFound, k)
	}
	m.Cancel()
	return nil
}

// List returns every manager ordered by blockchain then address.
func (r *Registry) List() []*Manager {
	r.mu.RLock()
	out := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Blockchain() != out[j].Blockchain() {
			return out[i].Blockchain() < out[j].Blockchain()
		}
		return out[i].Address() < out[j].Address()
	})
	return out
}
