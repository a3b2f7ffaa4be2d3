// Provide primitive to work with a bundler RPC
// Bundler RPC is stateless
package bundler

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
	"github.com/AvaProtocol/aa-sdk-go/pkg/logger"
)

// JSON-RPC error codes bundlers return for requests that will never succeed.
const (
	CodeInvalidParams      = -32602
	CodeInvalidUserOp      = -32500
	CodeUnsupportedEntry   = -32600
	CodeMethodNotSupported = -32601
)

// safePreview returns a truncated preview of s with ellipsis when longer than n
func safePreview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// BundlerClient defines a client for interacting with an EIP-4337 bundler RPC endpoint.
type BundlerClient struct {
	client *rpc.Client
	url    string
	logger logger.Logger
}

// NewBundlerClient creates a new BundlerClient that connects to the given URL.
func NewBundlerClient(url string, log logger.Logger) (*BundlerClient, error) {
	// Use DialHTTP instead of Dial as it is more compatible with HTTP-based bundler
	// endpoints, but it also supports other protocols such as WebSocket.
	c, err := rpc.DialHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("error creating bundler client: %w", err)
	}
	return NewBundlerClientFromRPC(c, url, log), nil
}

// NewBundlerClientFromRPC wraps an already dialed client.
func NewBundlerClientFromRPC(c *rpc.Client, url string, log logger.Logger) *BundlerClient {
	return &BundlerClient{client: c, url: url, logger: logger.EnsureLogger(log)}
}

// Close closes the underlying RPC client connection.
func (bc *BundlerClient) Close() {
	bc.client.Close()
}

// SendUserOperation sends a UserOperation to the bundler and returns the hash
// the bundler tracks it under.
func (bc *BundlerClient) SendUserOperation(
	ctx context.Context,
	op *userop.UserOperation,
	entrypoint common.Address,
) (common.Hash, error) {
	bc.logger.Debug("eth_sendUserOperation",
		"sender", op.Sender.Hex(),
		"nonce", userop.BigOrZero(op.Nonce).String(),
		"entrypoint", entrypoint.Hex(),
		"callData", safePreview(hexutil.Encode(op.CallData), 50),
		"signature", safePreview(hexutil.Encode(op.Signature), 50),
	)

	var hash common.Hash
	// Some bundlers require EIP-55 checksummed addresses for the EntryPoint
	if err := bc.client.CallContext(ctx, &hash, "eth_sendUserOperation", op, entrypoint.Hex()); err != nil {
		return common.Hash{}, fmt.Errorf("eth_sendUserOperation failed for sender %s: %w", op.Sender.Hex(), err)
	}
	return hash, nil
}

// EstimateUserOperationGas estimates the gas required for a UserOperation.
// https://eips.ethereum.org/EIPS/eip-4337#rpc-methods-eth-namespace
// * eth_estimateUserOperationGas
// Estimate the gas values for a UserOperation. Given UserOperation optionally without gas limits and gas prices, return the needed gas limits. The signature field is ignored by the wallet, so that the operation will not require user's approval. Still, it might require putting a "semi-valid" signature (e.g. a signature in the right length)
func (bc *BundlerClient) EstimateUserOperationGas(
	ctx context.Context,
	op *userop.UserOperation,
	entrypoint common.Address,
	// https://geth.ethereum.org/docs/interacting-with-geth/rpc/ns-eth
	// Optionally accepts the State Override Set to allow users to modify the state during the gas estimation.
	// This field as well as its behavior is equivalent to the ones defined for eth_call RPC method.
	override map[string]any,
) (*userop.GasEstimate, error) {
	args := []any{op, entrypoint.Hex()}
	if len(override) > 0 {
		args = append(args, override)
	}

	var result gasEstimation
	if err := bc.client.CallContext(ctx, &result, "eth_estimateUserOperationGas", args...); err != nil {
		return nil, fmt.Errorf("eth_estimateUserOperationGas RPC response error: %w", err)
	}
	estimate, err := result.toGasEstimate()
	if err != nil {
		return nil, err
	}

	bc.logger.Debug("eth_estimateUserOperationGas",
		"sender", op.Sender.Hex(),
		"preVerificationGas", estimate.PreVerificationGas.String(),
		"verificationGasLimit", estimate.VerificationGasLimit.String(),
		"callGasLimit", estimate.CallGasLimit.String(),
	)
	return estimate, nil
}

// GetUserOperationByHash fetches a UserOperation by its hash. It returns nil
// without error when the bundler does not know the hash.
func (bc *BundlerClient) GetUserOperationByHash(ctx context.Context, hash common.Hash) (*UserOperationByHash, error) {
	var result *UserOperationByHash
	if err := bc.client.CallContext(ctx, &result, "eth_getUserOperationByHash", hash); err != nil {
		return nil, err
	}
	return result, nil
}

// GetUserOperationReceipt fetches the receipt of a UserOperation. A nil
// receipt without error means it has not been included yet.
func (bc *BundlerClient) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*userop.Receipt, error) {
	var receipt *userop.Receipt
	if err := bc.client.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, err
	}
	return receipt, nil
}

// SupportedEntryPoints lists the entry points the bundler accepts.
func (bc *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var result []common.Address
	err := bc.client.CallContext(ctx, &result, "eth_supportedEntryPoints")
	return result, err
}

func (bc *BundlerClient) ChainID(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := bc.client.CallContext(ctx, &result, "eth_chainId"); err != nil {
		return nil, err
	}
	return result.ToInt(), nil
}

// MaxPriorityFeePerGas asks a rundler bundler for the tip it requires.
func (bc *BundlerClient) MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := bc.client.CallContext(ctx, &result, "rundler_maxPriorityFeePerGas"); err != nil {
		return nil, err
	}
	return result.ToInt(), nil
}

// ErrorCode returns the JSON-RPC error code carried by err, if any.
func ErrorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}
