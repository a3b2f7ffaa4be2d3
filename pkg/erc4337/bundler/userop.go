package bundler

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

// UserOperationByHash is the eth_getUserOperationByHash result. Block fields
// are empty while the operation is still in the mempool.
type UserOperationByHash struct {
	UserOperation   *userop.UserOperation `json:"userOperation"`
	EntryPoint      common.Address        `json:"entryPoint"`
	BlockNumber     *hexutil.Big          `json:"blockNumber"`
	BlockHash       *common.Hash          `json:"blockHash"`
	TransactionHash *common.Hash          `json:"transactionHash"`
}

// Included reports whether the operation has been mined.
func (u *UserOperationByHash) Included() bool {
	return u != nil && u.TransactionHash != nil && *u.TransactionHash != (common.Hash{})
}
