package chain

import "time"

// Direction is relative to the wallet address.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// HistoryEntry is one transaction touching the wallet address.
type HistoryEntry struct {
	Hash         string    `json:"hash"`
	Direction    Direction `json:"direction"`
	Amount       Amount    `json:"amount"`
	Fee          *Amount   `json:"fee,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Confirmed    bool      `json:"confirmed"`
}
