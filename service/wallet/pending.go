package wallet

import (
	"maps"
	"slices"
	"time"

	"github.com/brojonat/walletcore/service/chain"
)

// PendingTransaction is a transaction this wallet sent that the chain has
// not yet been observed to apply.
type PendingTransaction struct {
	Hash        string           `json:"hash"`
	Blockchain  chain.Blockchain `json:"blockchain"`
	Source      string           `json:"source"`
	Destination string           `json:"destination"`
	Value       chain.Amount     `json:"value"`
	Fee         *chain.Amount    `json:"fee,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Direction   chain.Direction  `json:"direction"`
	Confirmed   bool             `json:"confirmed"`

	// Nonce is set for account and ledger chains.
	Nonce *uint64 `json:"nonce,omitempty"`
	// Outpoints is set for UTXO chains.
	Outpoints []chain.Outpoint `json:"outpoints,omitempty"`
	// Replaces is the hash of the transaction this one replaced, if any.
	Replaces string `json:"replaces,omitempty"`
}

// settled reports whether next shows that the chain applied p.
func (p PendingTransaction) settled(prev, next *chain.AccountState) bool {
	if p.Nonce != nil && next.HasNonce {
		return next.Nonce > *p.Nonce
	}
	if slices.Contains(next.RecentHashes, p.Hash) {
		return true
	}
	if len(p.Outpoints) > 0 {
		return outpointsSettled(p, next)
	}
	// Nothing to match on: settle once the mempool is empty and the
	// balance has moved.
	return next.PendingCount == 0 && prev != nil && !prev.Balance.Value.Equal(next.Balance.Value)
}

// outpointsSettled is true once every input is gone from the UTXO set and
// either a change output has confirmed or the address has nothing left in
// the mempool.
func outpointsSettled(p PendingTransaction, next *chain.AccountState) bool {
	unspent := make(map[chain.Outpoint]struct{}, len(next.UTXOs))
	for _, u := range next.UTXOs {
		unspent[u.Outpoint()] = struct{}{}
	}
	for _, op := range p.Outpoints {
		if _, ok := unspent[op]; ok {
			return false
		}
	}
	for _, u := range next.UTXOs {
		if u.TxID == p.Hash {
			return u.Confirmations > 0
		}
	}
	return next.PendingCount == 0
}

// clearPending drops the records next shows as applied and returns the rest.
func clearPending(records []PendingTransaction, prev, next *chain.AccountState) (kept []PendingTransaction, cleared []PendingTransaction) {
	for _, r := range records {
		if r.settled(prev, next) {
			r.Confirmed = true
			cleared = append(cleared, r)
			continue
		}
		kept = append(kept, r)
	}
	return kept, cleared
}

// withPending projects records that next does not yet reflect onto a copy
// of next: the send nonce moves past every pending nonce, outputs spent by a
// pending transfer are dropped, and pending value and fees leave the
// balance. The record whose hash is skip is ignored.
func withPending(next *chain.AccountState, records []PendingTransaction, skip string) *chain.AccountState {
	if next == nil || len(records) == 0 {
		return next
	}
	out := *next
	out.TokenBalances = maps.Clone(next.TokenBalances)

	spent := make(map[chain.Outpoint]struct{})
	for _, r := range records {
		if r.Hash == skip || r.Direction != chain.Outgoing {
			continue
		}
		if r.Nonce != nil {
			if next.HasNonce && next.Nonce > *r.Nonce {
				continue
			}
			if *r.Nonce+1 > out.SendNonce() {
				out.NextNonce = *r.Nonce + 1
			}
		}
		if len(r.Outpoints) > 0 {
			// Indexers drop spent outputs and count mempool value, so a
			// record is only subtracted while its inputs still show.
			if !spendsAny(r.Outpoints, next.UTXOs) {
				continue
			}
			for _, op := range r.Outpoints {
				spent[op] = struct{}{}
			}
		}
		debit(&out, r)
	}
	if len(spent) > 0 {
		out.UTXOs = slices.DeleteFunc(slices.Clone(next.UTXOs), func(u chain.UTXO) bool {
			_, ok := spent[u.Outpoint()]
			return ok
		})
	}
	return &out
}

func spendsAny(outpoints []chain.Outpoint, utxos []chain.UTXO) bool {
	for _, u := range utxos {
		if slices.Contains(outpoints, u.Outpoint()) {
			return true
		}
	}
	return false
}

// debit takes r's value and fee out of s. Token value comes out of the
// token balance; the fee is always native.
func debit(s *chain.AccountState, r PendingTransaction) {
	if r.Value.IsToken() {
		contract := r.Value.Token.Contract
		if have, ok := s.TokenBalances[contract]; ok {
			if left, err := have.Sub(r.Value); err == nil {
				s.TokenBalances[contract] = left
			}
		}
	} else if left, err := s.Balance.Sub(r.Value); err == nil {
		s.Balance = left
	}
	if r.Fee != nil {
		if left, err := s.Balance.Sub(*r.Fee); err == nil {
			s.Balance = left
		}
	}
}
