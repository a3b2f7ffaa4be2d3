// Package userop holds the ERC-4337 UserOperation model shared by the codec,
// the bundler client and the smart account pipeline.
package userop

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Version identifies the entry point wire format a UserOperation targets.
type Version string

const (
	V06 Version = "0.6.0"
	V07 Version = "0.7.0"
)

var ErrUnsupportedVersion = errors.New("unsupported entry point version")

// ParseVersion accepts "0.6", "0.6.0", "v0.6" and the same shapes for 0.7.
func ParseVersion(s string) (Version, error) {
	v := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "v")
	switch v {
	case "0.6", "0.6.0":
		return V06, nil
	case "0.7", "0.7.0":
		return V07, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
}

func (v Version) String() string {
	return string(v)
}

// Call is one execution intent of a smart account: call Target with Value wei and Data.
type Call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// UserOperation carries the union of the v0.6 and v0.7 layouts. Version decides
// which of the version specific fields are meaningful. Numeric fields left nil
// are "not filled yet" while the operation is being built.
type UserOperation struct {
	Version Version

	Sender               common.Address
	Nonce                *big.Int
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Signature            []byte

	// v0.6
	InitCode         []byte
	PaymasterAndData []byte

	// v0.7
	Factory                       *common.Address
	FactoryData                   []byte
	Paymaster                     *common.Address
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
	PaymasterData                 []byte
}

// Copy returns a deep copy of op.
func (op *UserOperation) Copy() *UserOperation {
	if op == nil {
		return nil
	}

	c := &UserOperation{
		Version:                       op.Version,
		Sender:                        op.Sender,
		Nonce:                         copyBig(op.Nonce),
		CallData:                      common.CopyBytes(op.CallData),
		CallGasLimit:                  copyBig(op.CallGasLimit),
		VerificationGasLimit:          copyBig(op.VerificationGasLimit),
		PreVerificationGas:            copyBig(op.PreVerificationGas),
		MaxFeePerGas:                  copyBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas:          copyBig(op.MaxPriorityFeePerGas),
		Signature:                     common.CopyBytes(op.Signature),
		InitCode:                      common.CopyBytes(op.InitCode),
		PaymasterAndData:              common.CopyBytes(op.PaymasterAndData),
		FactoryData:                   common.CopyBytes(op.FactoryData),
		PaymasterVerificationGasLimit: copyBig(op.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       copyBig(op.PaymasterPostOpGasLimit),
		PaymasterData:                 common.CopyBytes(op.PaymasterData),
	}
	if op.Factory != nil {
		f := *op.Factory
		c.Factory = &f
	}
	if op.Paymaster != nil {
		p := *op.Paymaster
		c.Paymaster = &p
	}
	return c
}

// IsFilled reports whether every gas and fee field is set and the optional
// v0.7 factory and paymaster groups are either complete or absent.
func (op *UserOperation) IsFilled() bool {
	if op.Nonce == nil ||
		op.CallGasLimit == nil ||
		op.VerificationGasLimit == nil ||
		op.PreVerificationGas == nil ||
		op.MaxFeePerGas == nil ||
		op.MaxPriorityFeePerGas == nil {
		return false
	}

	if op.Version == V06 {
		return true
	}

	hasPaymaster := op.Paymaster != nil
	if hasPaymaster != (op.PaymasterVerificationGasLimit != nil) ||
		hasPaymaster != (op.PaymasterPostOpGasLimit != nil) {
		return false
	}
	if op.Factory == nil && len(op.FactoryData) > 0 {
		return false
	}
	return true
}

// HasPaymaster reports whether a paymaster sponsors the operation.
func (op *UserOperation) HasPaymaster() bool {
	if op.Version == V06 {
		return len(op.PaymasterAndData) > 0
	}
	return op.Paymaster != nil
}

// Result is a signed UserOperation together with the entry point hash used to
// track it through the bundler.
type Result struct {
	Hash       common.Hash
	EntryPoint common.Address
	Request    *UserOperation
}

// GasEstimate is the eth_estimateUserOperationGas response.
type GasEstimate struct {
	PreVerificationGas            *big.Int
	VerificationGasLimit          *big.Int
	CallGasLimit                  *big.Int
	PaymasterVerificationGasLimit *big.Int
	// nil when the bundler did not simulate postOp
	PaymasterPostOpGasLimit       *big.Int
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// BigOrZero returns v, or a fresh zero when v is nil.
func BigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
