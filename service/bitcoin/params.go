package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/brojonat/walletcore/service/chain"
)

// RavencoinParams are the address parameters of the Ravencoin main network.
// Only the fields used for address encoding and transaction building are set.
var RavencoinParams = chaincfg.Params{
	Name:             "ravencoin",
	Net:              wire.BitcoinNet(0x4e564152),
	DefaultPort:      "8767",
	PubKeyHashAddrID: 0x3c,
	ScriptHashAddrID: 0x7a,
	PrivateKeyID:     0x80,
	HDCoinType:       175,
}

// NetParams returns the address parameters for a UTXO blockchain.
func NetParams(b chain.Blockchain) (*chaincfg.Params, error) {
	switch b {
	case chain.Bitcoin:
		return &chaincfg.MainNetParams, nil
	case chain.BitcoinTestnet:
		return &chaincfg.TestNet3Params, nil
	case chain.Ravencoin:
		return &RavencoinParams, nil
	default:
		return nil, fmt.Errorf("%s is not a UTXO blockchain", b)
	}
}

// supportsSegwit reports whether native witness outputs may be spent.
func supportsSegwit(net *chaincfg.Params) bool {
	return net.Bech32HRPSegwit != ""
}
