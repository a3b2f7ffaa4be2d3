package entrypoint

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// The subset of the EntryPoint interface the SDK talks to. getSenderAddress,
// getNonce and the UserOperationEvent share the same signature on v0.6 and v0.7.
const entryPointABIJSON = `[
	{"type":"function","name":"getSenderAddress","stateMutability":"nonpayable",
	 "inputs":[{"name":"initCode","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"getNonce","stateMutability":"view",
	 "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
	 "outputs":[{"name":"nonce","type":"uint256"}]},
	{"type":"error","name":"SenderAddressResult",
	 "inputs":[{"name":"sender","type":"address"}]},
	{"type":"error","name":"FailedOp",
	 "inputs":[{"name":"opIndex","type":"uint256"},{"name":"reason","type":"string"}]},
	{"type":"event","name":"UserOperationEvent","anonymous":false,
	 "inputs":[
		{"name":"userOpHash","type":"bytes32","indexed":true},
		{"name":"sender","type":"address","indexed":true},
		{"name":"paymaster","type":"address","indexed":true},
		{"name":"nonce","type":"uint256","indexed":false},
		{"name":"success","type":"bool","indexed":false},
		{"name":"actualGasCost","type":"uint256","indexed":false},
		{"name":"actualGasUsed","type":"uint256","indexed":false}]}
]`

var (
	// ABI is the parsed EntryPoint interface.
	ABI = mustParseABI(entryPointABIJSON)

	// UserOperationEventTopic is topic0 of UserOperationEvent.
	UserOperationEventTopic = ABI.Events["UserOperationEvent"].ID

	// SenderAddressResultSelector is the 4-byte selector of the
	// SenderAddressResult(address) revert returned by getSenderAddress.
	SenderAddressResultSelector = ABI.Errors["SenderAddressResult"].ID.Bytes()[:4]
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Errorf("invalid entry point ABI: %w", err))
	}
	return parsed
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	addressT = mustType("address")
	uint256T = mustType("uint256")
	bytes32T = mustType("bytes32")

	// v0.6 userOp encoding
	v06Args = abi.Arguments{
		{Type: addressT}, // sender
		{Type: uint256T}, // nonce
		{Type: bytes32T}, // keccak(initCode)
		{Type: bytes32T}, // keccak(callData)
		{Type: uint256T}, // callGasLimit
		{Type: uint256T}, // verificationGasLimit
		{Type: uint256T}, // preVerificationGas
		{Type: uint256T}, // maxFeePerGas
		{Type: uint256T}, // maxPriorityFeePerGas
		{Type: bytes32T}, // keccak(paymasterAndData)
	}

	// v0.7 userOp encoding
	v07Args = abi.Arguments{
		{Type: addressT}, // sender
		{Type: uint256T}, // nonce
		{Type: bytes32T}, // keccak(initCode)
		{Type: bytes32T}, // keccak(callData)
		{Type: bytes32T}, // accountGasLimits
		{Type: uint256T}, // preVerificationGas
		{Type: bytes32T}, // gasFees
		{Type: bytes32T}, // keccak(paymasterAndData)
	}

	hashArgs = abi.Arguments{
		{Type: bytes32T}, // keccak(packed userOp)
		{Type: addressT}, // entry point
		{Type: uint256T}, // chain id
	}
)

// PackGetSenderAddress returns the calldata of getSenderAddress(initCode).
func PackGetSenderAddress(initCode []byte) ([]byte, error) {
	return ABI.Pack("getSenderAddress", initCode)
}

// PackGetNonce returns the calldata of getNonce(sender, key).
func PackGetNonce(sender common.Address, key *big.Int) ([]byte, error) {
	if key == nil {
		key = new(big.Int)
	}
	return ABI.Pack("getNonce", sender, key)
}

// UnpackGetNonce decodes the getNonce return data.
func UnpackGetNonce(data []byte) (*big.Int, error) {
	out, err := ABI.Unpack("getNonce", data)
	if err != nil {
		return nil, err
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getNonce output %T", out[0])
	}
	return nonce, nil
}
