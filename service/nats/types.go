package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/wallet"
)

// WalletEvent represents a wallet event published to NATS.
// This is published to the subject "wallets.{blockchain}.{address}" in JetStream.
type WalletEvent struct {
	Type       string `json:"type"`
	Blockchain string `json:"blockchain"`
	Address    string `json:"address"`

	// State transitions
	Status       string            `json:"status,omitempty"`
	Message      string            `json:"message,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorDetails map[string]string `json:"error_details,omitempty"`

	// Account snapshot, set when a refresh ends idle
	Balance      string `json:"balance,omitempty"`
	Nonce        uint64 `json:"nonce,omitempty"`
	PendingCount int    `json:"pending_count,omitempty"`
	Height       uint64 `json:"height,omitempty"`

	// Transaction details, set for sent and settled transactions
	Hash        string  `json:"hash,omitempty"`
	Destination string  `json:"destination,omitempty"`
	Amount      string  `json:"amount,omitempty"`
	Fee         string  `json:"fee,omitempty"`
	TxNonce     *uint64 `json:"tx_nonce,omitempty"`
	Replaces    string  `json:"replaces,omitempty"`

	// Timing information
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject events for one wallet are published to.
func Subject(blockchain, address string) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, blockchain, address)
}

// FromWalletEvent converts a wallet manager event to a WalletEvent for publishing.
func FromWalletEvent(ev *wallet.Event) *WalletEvent {
	event := &WalletEvent{
		Type:        string(ev.Type),
		Blockchain:  string(ev.Blockchain),
		Address:     ev.Address,
		Timestamp:   ev.Timestamp,
		PublishedAt: time.Now().UTC(),
	}

	if s := ev.State; s != nil {
		event.Status = string(s.Status)
		event.Message = s.Message
		if s.Err != nil {
			event.Error = s.Err.Error()
			event.ErrorKind = string(chain.KindOf(s.Err))
			if ce := chain.AsError(s.Err); ce != nil {
				event.ErrorCode = ce.Code
				event.ErrorDetails = ce.Details
			}
		}
	}

	if a := ev.Account; a != nil {
		event.Balance = a.Balance.String()
		event.Nonce = a.Nonce
		event.PendingCount = a.PendingCount
		event.Height = a.Height
	}

	if tx := ev.Transaction; tx != nil {
		event.Hash = tx.Hash
		event.Destination = tx.Destination
		event.Amount = tx.Value.String()
		if tx.Fee != nil {
			event.Fee = tx.Fee.String()
		}
		event.TxNonce = tx.Nonce
		event.Replaces = tx.Replaces
	}

	return event
}

// MsgID identifies an event for JetStream deduplication. Sent and settled
// transactions are keyed by hash, state changes by status and time.
func (e *WalletEvent) MsgID() string {
	if e.Hash != "" {
		return fmt.Sprintf("%s:%s:%s:%s", e.Type, e.Blockchain, e.Address, e.Hash)
	}
	return fmt.Sprintf("%s:%s:%s:%s:%d", e.Type, e.Blockchain, e.Address, e.Status, e.Timestamp.UnixNano())
}
