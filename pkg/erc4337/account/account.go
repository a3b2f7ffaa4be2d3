// Package account implements ERC-4337 smart contract accounts on top of the
// address predictor, the deployment resolver and an external signer.
package account

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AvaProtocol/aa-sdk-go/core/chainio/aa"
	"github.com/AvaProtocol/aa-sdk-go/core/chainio/signer"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

var (
	ErrMissingSigner      = errors.New("account requires a signer")
	ErrMissingChain       = errors.New("account requires a chain")
	ErrUnsupported1271    = errors.New("account version does not support ERC-1271 signatures")
	ErrSignerUnsupported  = errors.New("signing is not supported for this account owner")
	ErrBatchNotSupported  = errors.New("account version cannot batch calls with value")
	ErrEmptyBatch         = errors.New("batch has no calls")
	ErrInvalidNonceKey    = errors.New("nonce key out of range")
	erc6492MagicBytes     = common.FromHex("0x6492649264926492649264926492649264926492649264926492649264926492")
)

// Executor encodes account calls into the account's execute ABI.
type Executor interface {
	EncodeExecute(call userop.Call) ([]byte, error)
	// EncodeExecuteBatch keeps calls in the given order.
	EncodeExecuteBatch(calls []userop.Call) ([]byte, error)
}

// AddressResolver resolves the account address and its deployment state.
// *aa.Resolver implements it.
type AddressResolver interface {
	GetAddress(ctx context.Context) (common.Address, error)
	GetInitCode(ctx context.Context) ([]byte, error)
	GetFactoryArgs(ctx context.Context) (aa.FactoryArgs, error)
	IsAccountDeployed(ctx context.Context) (bool, error)
	FactoryArgs() aa.FactoryArgs
	State() aa.DeploymentState
}

// SmartContractAccount is what the client pipeline needs from an account.
type SmartContractAccount interface {
	Executor
	AddressResolver

	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)
	SignMessageWith6492(ctx context.Context, msg []byte) ([]byte, error)
	SignTypedDataWith6492(ctx context.Context, td apitypes.TypedData) ([]byte, error)
	SignUserOperationHash(ctx context.Context, hash common.Hash) ([]byte, error)

	GetDummySignature() []byte
	GetStubSignature() []byte
	GetNonce(ctx context.Context, key *big.Int) (*big.Int, error)

	EntryPoint() *entrypoint.Definition
	ChainID() *big.Int
	Source() aa.AccountType
	Version() string
}

// ChainReader is the chain access an account needs.
type ChainReader interface {
	aa.ChainReader
}

// scheme is the per account family signature format.
type scheme interface {
	// wrapMessage turns a 1271 signing request into the typed data the owner
	// signs. ok is false when the raw request is signed as is.
	wrapMessage(ctx context.Context, a *Account, msgHash common.Hash) (td *apitypes.TypedData, ok bool, err error)
	format1271(sig []byte) []byte
	formatUserOperation(sig []byte) []byte
	stub() []byte
	nonceKey(key *big.Int) (*big.Int, error)
}

// Account is a smart contract account composed of explicit capabilities.
type Account struct {
	AddressResolver
	Executor

	source     aa.AccountType
	version    string
	chainID    *big.Int
	entryPoint *entrypoint.Definition
	signer     signer.Signer
	chain      ChainReader
	scheme     scheme

	// accounts without a factory (7702) are never counterfactual
	hasFactory bool
}

var _ SmartContractAccount = (*Account)(nil)

func (a *Account) EntryPoint() *entrypoint.Definition { return a.entryPoint }
func (a *Account) ChainID() *big.Int                  { return new(big.Int).Set(a.chainID) }
func (a *Account) Source() aa.AccountType             { return a.source }
func (a *Account) Version() string                    { return a.version }
func (a *Account) Signer() signer.Signer              { return a.signer }

// SignMessage returns an ERC-1271 signature of msg for this account.
func (a *Account) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if a.signer == nil {
		return nil, ErrSignerUnsupported
	}
	td, wrapped, err := a.scheme.wrapMessage(ctx, a, messageHash(msg))
	if err != nil {
		return nil, err
	}
	var sig []byte
	if wrapped {
		sig, err = a.signer.SignTypedData(ctx, *td)
	} else {
		sig, err = a.signer.SignMessage(ctx, msg)
	}
	if err != nil {
		return nil, err
	}
	return a.scheme.format1271(sig), nil
}

// SignTypedData returns an ERC-1271 signature of td for this account.
func (a *Account) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	if a.signer == nil {
		return nil, ErrSignerUnsupported
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("invalid typed data: %w", err)
	}
	wrapper, wrapped, err := a.scheme.wrapMessage(ctx, a, common.BytesToHash(hash))
	if err != nil {
		return nil, err
	}
	if wrapped {
		td = *wrapper
	}
	sig, err := a.signer.SignTypedData(ctx, td)
	if err != nil {
		return nil, err
	}
	return a.scheme.format1271(sig), nil
}

func (a *Account) SignMessageWith6492(ctx context.Context, msg []byte) ([]byte, error) {
	sig, err := a.SignMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	return a.wrap6492(ctx, sig)
}

func (a *Account) SignTypedDataWith6492(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	sig, err := a.SignTypedData(ctx, td)
	if err != nil {
		return nil, err
	}
	return a.wrap6492(ctx, sig)
}

// wrap6492 applies ERC-6492 only while the account is not deployed.
func (a *Account) wrap6492(ctx context.Context, sig []byte) ([]byte, error) {
	deployed, err := a.IsAccountDeployed(ctx)
	if err != nil {
		return nil, err
	}
	if deployed || !a.hasFactory {
		return sig, nil
	}
	return WrapSignatureWith6492(a.FactoryArgs(), sig)
}

// SignUserOperationHash signs the entry point hash of a user operation.
func (a *Account) SignUserOperationHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	if a.signer == nil {
		return nil, ErrSignerUnsupported
	}
	var (
		sig []byte
		err error
	)
	if hs, ok := a.signer.(signer.UserOperationHashSigner); ok {
		sig, err = hs.SignUserOperationHash(ctx, hash)
	} else {
		sig, err = a.signer.SignMessage(ctx, hash.Bytes())
	}
	if err != nil {
		return nil, err
	}
	return a.scheme.formatUserOperation(sig), nil
}

// GetDummySignature is a placeholder with the byte length of a real
// signature, used for gas estimation only.
func (a *Account) GetDummySignature() []byte {
	return common.CopyBytes(a.scheme.stub())
}

func (a *Account) GetStubSignature() []byte {
	return a.GetDummySignature()
}

// GetNonce returns the entry point nonce for key. Undeployed accounts skip
// the RPC: their sequence is zero.
func (a *Account) GetNonce(ctx context.Context, key *big.Int) (*big.Int, error) {
	fullKey, err := a.scheme.nonceKey(key)
	if err != nil {
		return nil, err
	}

	if a.hasFactory {
		deployed, err := a.IsAccountDeployed(ctx)
		if err != nil {
			return nil, err
		}
		if !deployed {
			return new(big.Int).Lsh(fullKey, 64), nil
		}
	}

	sender, err := a.GetAddress(ctx)
	if err != nil {
		return nil, err
	}
	calldata, err := entrypoint.PackGetNonce(sender, fullKey)
	if err != nil {
		return nil, err
	}
	out, err := a.chain.CallContract(ctx, ethereum.CallMsg{To: &a.entryPoint.Address, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce of %s: %w", sender.Hex(), err)
	}
	return entrypoint.UnpackGetNonce(out)
}

// GetImplementationAddress reads the account proxy's implementation.
func (a *Account) GetImplementationAddress(ctx context.Context) (common.Address, error) {
	r, ok := a.AddressResolver.(interface {
		GetImplementationAddress(ctx context.Context) (common.Address, error)
	})
	if !ok {
		return common.Address{}, errors.New("resolver cannot read the implementation slot")
	}
	return r.GetImplementationAddress(ctx)
}

// EncodeUpgradeToAndCall encodes a UUPS upgradeToAndCall(impl, data).
func (a *Account) EncodeUpgradeToAndCall(impl common.Address, data []byte) ([]byte, error) {
	if data == nil {
		data = []byte{}
	}
	return upgradeABI.Pack("upgradeToAndCall", impl, data)
}
