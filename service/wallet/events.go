package wallet

import (
	"context"
	"time"

	"github.com/brojonat/walletcore/service/chain"
)

// EventType names what happened to a wallet.
type EventType string

const (
	EventStateChanged       EventType = "state_changed"
	EventTransactionSent    EventType = "transaction_sent"
	EventTransactionSettled EventType = "transaction_settled"
)

// Event is published for every state transition and every transaction the
// wallet sends or sees settle.
type Event struct {
	Type        EventType           `json:"type"`
	Blockchain  chain.Blockchain    `json:"blockchain"`
	Address     string              `json:"address"`
	State       *State              `json:"state,omitempty"`
	Account     *chain.AccountState `json:"account,omitempty"`
	Transaction *PendingTransaction `json:"transaction,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// EventSink receives wallet events. Publish errors are logged and never
// fail the operation that produced the event.
type EventSink interface {
	Publish(ctx context.Context, event *Event) error
}
