// Package entrypoint packs and hashes UserOperations exactly the way the
// deployed EntryPoint contracts do, one codec per entry point version.
package entrypoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

var (
	ErrVersionMismatch = errors.New("user operation version does not match codec")
	ErrUint128Overflow = errors.New("value does not fit in 128 bits")
	ErrInvalidPacking  = errors.New("invalid packed user operation")
)

// Codec is the per version pack and hash contract. Implementations are
// stateless and safe for concurrent use.
type Codec interface {
	Version() userop.Version

	// Pack returns the ABI encoding the entry point hashes (signature excluded).
	Pack(op *userop.UserOperation) ([]byte, error)

	// Hash returns keccak256(abi.encode(keccak256(Pack(op)), entryPoint, chainID)).
	Hash(op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) (common.Hash, error)

	// Unpack recovers the fixed size fields of a packed operation. Dynamic
	// byte fields are only available as their keccak256 hashes.
	Unpack(packed []byte) (*userop.UserOperation, *PackedHashes, error)
}

// PackedHashes are the hashed dynamic fields of a packed operation.
type PackedHashes struct {
	InitCode         common.Hash
	CallData         common.Hash
	PaymasterAndData common.Hash
}

var codecs = map[userop.Version]Codec{
	userop.V06: v06Codec{},
	userop.V07: v07Codec{},
}

// Get returns the codec of the given entry point version.
func Get(version userop.Version) (Codec, error) {
	c, ok := codecs[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q", userop.ErrUnsupportedVersion, version)
	}
	return c, nil
}

// GetUserOperationHash hashes op with the codec of its own version.
func GetUserOperationHash(op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	c, err := Get(op.Version)
	if err != nil {
		return common.Hash{}, err
	}
	return c.Hash(op, entryPoint, chainID)
}

func hashPacked(packed []byte, entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	if chainID == nil {
		return common.Hash{}, errors.New("chain id is required to hash a user operation")
	}
	enc, err := hashArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

func checkVersion(op *userop.UserOperation, want userop.Version) error {
	if op == nil {
		return errors.New("nil user operation")
	}
	if op.Version != "" && op.Version != want {
		return fmt.Errorf("%w: op is %s, codec is %s", ErrVersionMismatch, op.Version, want)
	}
	return nil
}

type v06Codec struct{}

func (v06Codec) Version() userop.Version { return userop.V06 }

func (v06Codec) Pack(op *userop.UserOperation) ([]byte, error) {
	if err := checkVersion(op, userop.V06); err != nil {
		return nil, err
	}

	return v06Args.Pack(
		op.Sender,
		userop.BigOrZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		userop.BigOrZero(op.CallGasLimit),
		userop.BigOrZero(op.VerificationGasLimit),
		userop.BigOrZero(op.PreVerificationGas),
		userop.BigOrZero(op.MaxFeePerGas),
		userop.BigOrZero(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
}

func (c v06Codec) Hash(op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := c.Pack(op)
	if err != nil {
		return common.Hash{}, err
	}
	return hashPacked(packed, entryPoint, chainID)
}

func (v06Codec) Unpack(packed []byte) (*userop.UserOperation, *PackedHashes, error) {
	out, err := v06Args.Unpack(packed)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPacking, err)
	}

	op := &userop.UserOperation{
		Version:              userop.V06,
		Sender:               out[0].(common.Address),
		Nonce:                out[1].(*big.Int),
		CallGasLimit:         out[4].(*big.Int),
		VerificationGasLimit: out[5].(*big.Int),
		PreVerificationGas:   out[6].(*big.Int),
		MaxFeePerGas:         out[7].(*big.Int),
		MaxPriorityFeePerGas: out[8].(*big.Int),
	}
	hashes := &PackedHashes{
		InitCode:         out[2].([32]byte),
		CallData:         out[3].([32]byte),
		PaymasterAndData: out[9].([32]byte),
	}
	return op, hashes, nil
}

type v07Codec struct{}

func (v07Codec) Version() userop.Version { return userop.V07 }

func (v07Codec) Pack(op *userop.UserOperation) ([]byte, error) {
	if err := checkVersion(op, userop.V07); err != nil {
		return nil, err
	}

	accountGasLimits, err := PackUints(op.VerificationGasLimit, op.CallGasLimit)
	if err != nil {
		return nil, fmt.Errorf("accountGasLimits: %w", err)
	}
	gasFees, err := PackUints(op.MaxPriorityFeePerGas, op.MaxFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("gasFees: %w", err)
	}
	paymasterAndData, err := PackPaymasterAndData(op)
	if err != nil {
		return nil, err
	}

	return v07Args.Pack(
		op.Sender,
		userop.BigOrZero(op.Nonce),
		crypto.Keccak256Hash(InitCode(op)),
		crypto.Keccak256Hash(op.CallData),
		accountGasLimits,
		userop.BigOrZero(op.PreVerificationGas),
		gasFees,
		crypto.Keccak256Hash(paymasterAndData),
	)
}

func (c v07Codec) Hash(op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := c.Pack(op)
	if err != nil {
		return common.Hash{}, err
	}
	return hashPacked(packed, entryPoint, chainID)
}

func (v07Codec) Unpack(packed []byte) (*userop.UserOperation, *PackedHashes, error) {
	out, err := v07Args.Unpack(packed)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPacking, err)
	}

	verificationGasLimit, callGasLimit := UnpackUints(out[4].([32]byte))
	maxPriorityFeePerGas, maxFeePerGas := UnpackUints(out[6].([32]byte))

	op := &userop.UserOperation{
		Version:              userop.V07,
		Sender:               out[0].(common.Address),
		Nonce:                out[1].(*big.Int),
		CallGasLimit:         callGasLimit,
		VerificationGasLimit: verificationGasLimit,
		PreVerificationGas:   out[5].(*big.Int),
		MaxFeePerGas:         maxFeePerGas,
		MaxPriorityFeePerGas: maxPriorityFeePerGas,
	}
	hashes := &PackedHashes{
		InitCode:         out[2].([32]byte),
		CallData:         out[3].([32]byte),
		PaymasterAndData: out[7].([32]byte),
	}
	return op, hashes, nil
}
