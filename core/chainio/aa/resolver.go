package aa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/aa-sdk-go/pkg/logger"
)

// DeploymentState is the cached knowledge about whether the account contract
// exists on chain.
type DeploymentState int

const (
	StateUndefined DeploymentState = iota
	StateNotDeployed
	StateDeployed
)

func (s DeploymentState) String() string {
	switch s {
	case StateNotDeployed:
		return "NOT_DEPLOYED"
	case StateDeployed:
		return "DEPLOYED"
	}
	return "UNDEFINED"
}

// Observe returns the state after seeing codeLen bytes of code at the account.
// StateDeployed is terminal.
func (s DeploymentState) Observe(codeLen int) DeploymentState {
	if s == StateDeployed || codeLen > 0 {
		return StateDeployed
	}
	return StateNotDeployed
}

// EIP-1967 implementation slot, keccak256("eip1967.proxy.implementation") - 1.
var ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

// ChainReader is the subset of ethclient.Client the resolver needs.
type ChainReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// AddressResolutionError is returned when getSenderAddress does not revert
// with a decodable SenderAddressResult. Retrying will not help.
type AddressResolutionError struct {
	EntryPoint common.Address
	Factory    common.Address
	Cause      error
}

func (e *AddressResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve account address via entry point %s (factory %s): %v", e.EntryPoint.Hex(), e.Factory.Hex(), e.Cause)
}

func (e *AddressResolutionError) Unwrap() error {
	return e.Cause
}

type ResolverConfig struct {
	Chain      ChainReader
	ChainID    *big.Int
	EntryPoint common.Address

	// Address, when set, is used as is and getSenderAddress is never called.
	Address     common.Address
	FactoryArgs FactoryArgs

	Cache  DeployedCache
	Logger logger.Logger

	// OnCodeLookup is called for every GetInitCode with whether the cached
	// state answered it without RPC.
	OnCodeLookup func(cached bool)
}

// Resolver owns the address and deployment state of a single account.
type Resolver struct {
	chain       ChainReader
	chainID     *big.Int
	entryPoint  common.Address
	factoryArgs FactoryArgs
	cache       DeployedCache
	logger      logger.Logger
	onLookup    func(bool)

	// Writes are idempotent, the mutex only orders them. Concurrent cold
	// lookups may each hit the RPC.
	mu      sync.Mutex
	address common.Address
	state   DeploymentState
}

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Chain == nil {
		return nil, errors.New("resolver requires a chain reader")
	}
	return &Resolver{
		chain:       cfg.Chain,
		chainID:     cfg.ChainID,
		entryPoint:  cfg.EntryPoint,
		factoryArgs: cfg.FactoryArgs,
		address:     cfg.Address,
		cache:       cfg.Cache,
		logger:      logger.EnsureLogger(cfg.Logger),
		onLookup:    cfg.OnCodeLookup,
	}, nil
}

// State returns the cached deployment state.
func (r *Resolver) State() DeploymentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// GetAddress returns the explicit or cached address, or resolves it through
// the entry point's getSenderAddress simulation.
func (r *Resolver) GetAddress(ctx context.Context) (common.Address, error) {
	r.mu.Lock()
	addr := r.address
	r.mu.Unlock()
	if addr != (common.Address{}) {
		return addr, nil
	}

	addr, err := r.senderAddress(ctx)
	if err != nil {
		return common.Address{}, err
	}

	r.mu.Lock()
	r.address = addr
	r.mu.Unlock()
	return addr, nil
}

func (r *Resolver) senderAddress(ctx context.Context) (common.Address, error) {
	fail := func(cause error) error {
		return &AddressResolutionError{EntryPoint: r.entryPoint, Factory: r.factoryArgs.Factory, Cause: cause}
	}

	calldata, err := entrypoint.PackGetSenderAddress(r.factoryArgs.InitCode())
	if err != nil {
		return common.Address{}, fail(err)
	}

	_, err = r.chain.CallContract(ctx, ethereum.CallMsg{To: &r.entryPoint, Data: calldata}, nil)
	if err == nil {
		return common.Address{}, fail(errors.New("getSenderAddress did not revert"))
	}

	data, ok := revertData(err)
	if !ok {
		return common.Address{}, fail(err)
	}
	addr, err := decodeSenderAddressResult(data)
	if err != nil {
		return common.Address{}, fail(err)
	}

	r.logger.Debug("resolved account address via entry point", "address", addr.Hex(), "entryPoint", r.entryPoint.Hex())
	return addr, nil
}

func revertData(err error) ([]byte, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}

	var raw string
	switch d := dataErr.ErrorData().(type) {
	case string:
		raw = d
	case map[string]interface{}:
		// some nodes nest the revert payload one level deeper
		raw, _ = d["data"].(string)
	}
	if !strings.HasPrefix(raw, "0x") {
		return nil, false
	}
	data, decodeErr := hexutil.Decode(raw)
	if decodeErr != nil {
		return nil, false
	}
	return data, true
}

func decodeSenderAddressResult(data []byte) (common.Address, error) {
	if len(data) < 4+32 || !bytes.Equal(data[:4], entrypoint.SenderAddressResultSelector) {
		return common.Address{}, fmt.Errorf("unexpected revert data %s", hexutil.Encode(data))
	}
	return common.BytesToAddress(data[4:36]), nil
}

// GetInitCode returns empty bytes once the account is known deployed and the
// factory init code otherwise. The code lookup is skipped after StateDeployed.
func (r *Resolver) GetInitCode(ctx context.Context) ([]byte, error) {
	deployed, err := r.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if deployed {
		return []byte{}, nil
	}
	return r.factoryArgs.InitCode(), nil
}

// GetFactoryArgs is GetInitCode in the v0.7 factory and factoryData shape.
func (r *Resolver) GetFactoryArgs(ctx context.Context) (FactoryArgs, error) {
	deployed, err := r.refresh(ctx)
	if err != nil {
		return FactoryArgs{}, err
	}
	if deployed {
		return FactoryArgs{}, nil
	}
	return r.factoryArgs, nil
}

// IsAccountDeployed reports whether code exists at the account address.
func (r *Resolver) IsAccountDeployed(ctx context.Context) (bool, error) {
	return r.refresh(ctx)
}

// FactoryArgs returns the configured deployment args regardless of state.
func (r *Resolver) FactoryArgs() FactoryArgs {
	return r.factoryArgs
}

func (r *Resolver) refresh(ctx context.Context) (bool, error) {
	if r.State() == StateDeployed {
		r.observeLookup(true)
		return true, nil
	}

	addr, err := r.GetAddress(ctx)
	if err != nil {
		return false, err
	}

	if r.cache != nil && r.cache.IsDeployed(r.chainID, addr) {
		r.mu.Lock()
		r.state = StateDeployed
		r.mu.Unlock()
		r.observeLookup(true)
		return true, nil
	}

	code, err := r.chain.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get code at %s: %w", addr.Hex(), err)
	}
	r.observeLookup(false)

	r.mu.Lock()
	prev := r.state
	r.state = r.state.Observe(len(code))
	next := r.state
	r.mu.Unlock()

	if next == StateDeployed {
		if r.cache != nil {
			r.cache.MarkDeployed(r.chainID, addr)
		}
		if prev != StateDeployed {
			r.logger.Info("account deployed", "address", addr.Hex())
		}
	}
	return next == StateDeployed, nil
}

func (r *Resolver) observeLookup(cached bool) {
	if r.onLookup != nil {
		r.onLookup(cached)
	}
}

// GetImplementationAddress reads the EIP-1967 implementation slot of the
// account proxy.
func (r *Resolver) GetImplementationAddress(ctx context.Context) (common.Address, error) {
	addr, err := r.GetAddress(ctx)
	if err != nil {
		return common.Address{}, err
	}
	slot, err := r.chain.StorageAt(ctx, addr, ImplementationSlot, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to read implementation slot of %s: %w", addr.Hex(), err)
	}
	return common.BytesToAddress(slot), nil
}
