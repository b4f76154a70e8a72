package chain

import (
	"context"
	"time"
)

// PublicKey is the wallet key for one chain, as supplied by the external
// key-derivation layer. The core never sees private keys.
type PublicKey struct {
	Curve Curve
	Bytes []byte
}

// IsZero reports whether no key was derived.
func (k PublicKey) IsZero() bool {
	return len(k.Bytes) == 0
}

// AccountState is the snapshot a refresh produces. Fields that do not apply
// to a chain family are left zero.
type AccountState struct {
	Blockchain Blockchain `json:"blockchain"`
	Address    string     `json:"address"`
	Balance    Amount     `json:"balance"`

	// Inactive is set when the chain reports the address was never
	// activated, as opposed to an active account with a zero balance.
	Inactive bool `json:"inactive,omitempty"`

	// TokenBalances is keyed by token contract.
	TokenBalances map[string]Amount `json:"token_balances,omitempty"`

	// Nonce is the confirmed sequence number: the number of transactions the
	// chain has already applied for this account.
	Nonce    uint64 `json:"nonce"`
	HasNonce bool   `json:"has_nonce"`
	// NextNonce also counts transactions waiting in the mempool.
	NextNonce uint64 `json:"next_nonce"`

	UTXOs []UTXO `json:"utxos,omitempty"`

	// PendingCount is the number of unconfirmed transactions the provider
	// reports for the address.
	PendingCount int `json:"pending_count"`

	// Reserve is the balance that must stay locked on ledger chains.
	Reserve          *Amount `json:"reserve,omitempty"`
	ReserveIncrement *Amount `json:"reserve_increment,omitempty"`

	// Height is the tip height or ledger index observed with the snapshot.
	Height uint64 `json:"height"`

	// Blockhash is a recent blockhash for chains that require one.
	Blockhash string `json:"blockhash,omitempty"`

	// RecentHashes lists transaction hashes the provider has seen for the
	// address, newest first.
	RecentHashes []string `json:"recent_hashes,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}

// Spendable returns the part of the native balance that is not reserved.
func (s *AccountState) Spendable() Amount {
	if s.Reserve == nil {
		return s.Balance
	}
	out, err := s.Balance.Sub(*s.Reserve)
	if err != nil {
		return s.Balance
	}
	return out
}

// SendNonce returns the sequence number a new transaction should use.
func (s *AccountState) SendNonce() uint64 {
	if s.NextNonce > s.Nonce {
		return s.NextNonce
	}
	return s.Nonce
}

// UnsignedTransaction is the result of BuildForSign. Hashes returns the bytes
// to sign, one entry per required signature in signing order. ECDSA chains
// return a 32-byte digest; ed25519 chains return the full message.
type UnsignedTransaction interface {
	Blockchain() Blockchain
	Hashes() [][]byte
	PublicKey() PublicKey
}

// NonceUser is implemented by unsigned transactions that consume an
// account sequence number.
type NonceUser interface {
	Nonce() uint64
}

// InputSpender is implemented by unsigned transactions that consume
// previous outputs.
type InputSpender interface {
	Outpoints() []Outpoint
}

// SignedTransaction is a broadcast-ready payload.
type SignedTransaction struct {
	Blockchain Blockchain
	Raw        []byte
	// Hash is the identifier computed locally from Raw.
	Hash string
}

// Builder turns an intent into signable hashes and then into a signed
// transaction. BuildForSign must be pure.
type Builder interface {
	BuildForSign(intent Intent, state *AccountState, key PublicKey) (UnsignedTransaction, error)
	BuildForSend(unsigned UnsignedTransaction, signatures [][]byte) (*SignedTransaction, error)
}

// Signer is the external signing boundary: given a hash and a public key,
// produce a signature in the curve's raw format or fail.
type Signer interface {
	Sign(ctx context.Context, hash []byte, publicKey []byte) ([]byte, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, hash []byte, publicKey []byte) ([]byte, error)

func (f SignerFunc) Sign(ctx context.Context, hash []byte, publicKey []byte) ([]byte, error) {
	return f(ctx, hash, publicKey)
}
