package chain

import (
	"fmt"
	"sort"
)

// Outpoint references one output of a previous transaction.
type Outpoint struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Vout)
}

// UTXO is an unspent output as reported by an indexer. Snapshots are
// replaced wholesale on every refresh and never mutated.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Value         int64  `json:"value"`
	Address       string `json:"address"`
	Confirmations int64  `json:"confirmations"`
}

func (u UTXO) Outpoint() Outpoint {
	return Outpoint{TxID: u.TxID, Vout: u.Vout}
}

// Spendable returns the outputs with at least minConf confirmations, largest
// first. Ties are broken by txid and vout so that the order is stable.
func Spendable(utxos []UTXO, minConf int64) []UTXO {
	out := make([]UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Confirmations >= minConf && u.Value > 0 {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		if out[i].TxID != out[j].TxID {
			return out[i].TxID < out[j].TxID
		}
		return out[i].Vout < out[j].Vout
	})
	return out
}

// SumUTXOs adds up output values in minor units.
func SumUTXOs(utxos []UTXO) int64 {
	var total int64
	for _, u := range utxos {
		total += u.Value
	}
	return total
}
