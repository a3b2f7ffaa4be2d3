package config

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var explorers = map[int64]string{
	1:        "https://etherscan.io",
	11155111: "https://sepolia.etherscan.io",
	8453:     "https://basescan.org",
	84532:    "https://sepolia.basescan.org",
	137:      "https://polygonscan.com",
	42161:    "https://arbiscan.io",
	10:       "https://optimistic.etherscan.io",
}

// ExplorerURL returns the block explorer base url of chainID, or "" when
// the chain is unknown.
func ExplorerURL(chainID *big.Int) string {
	if chainID == nil || !chainID.IsInt64() {
		return ""
	}
	return explorers[chainID.Int64()]
}

// TxLink returns an explorer link for hash, or the bare hash when the chain
// has no known explorer.
func TxLink(chainID *big.Int, hash common.Hash) string {
	base := ExplorerURL(chainID)
	if base == "" {
		return hash.Hex()
	}
	return fmt.Sprintf("%s/tx/%s", base, hash.Hex())
}
