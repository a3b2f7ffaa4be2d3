package client

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

// Override replaces an estimated field. A literal Value wins over Multiplier,
// which scales the estimate.
type Override struct {
	Value      *big.Int
	Multiplier float64
}

func Literal(v *big.Int) *Override {
	return &Override{Value: new(big.Int).Set(v)}
}

func Multiply(m float64) *Override {
	return &Override{Multiplier: m}
}

func (o *Override) isSet() bool {
	return o != nil && (o.Value != nil || o.Multiplier != 0)
}

// Overrides are per call adjustments of a user operation.
type Overrides struct {
	CallGasLimit                  *Override
	VerificationGasLimit          *Override
	PreVerificationGas            *Override
	MaxFeePerGas                  *Override
	MaxPriorityFeePerGas          *Override
	PaymasterVerificationGasLimit *Override
	PaymasterPostOpGasLimit       *Override

	// Setting any paymaster field, even to an empty slice, bypasses the
	// paymaster middleware and uses the given values.
	PaymasterAndData []byte
	Paymaster        *common.Address
	PaymasterData    []byte

	// NonceKey selects a parallel nonce lane. Nil uses the account default.
	NonceKey *big.Int

	// StateOverride is forwarded to eth_estimateUserOperationGas.
	StateOverride map[string]any
}

// BypassPaymaster reports whether the caller supplied paymaster data.
func (o *Overrides) BypassPaymaster() bool {
	return o != nil && (o.PaymasterAndData != nil || o.Paymaster != nil || o.PaymasterData != nil)
}

// FeeOption clamps a field when no override is given.
type FeeOption struct {
	Multiplier float64
	Min        *big.Int
	Max        *big.Int
}

// FeeOptions are client wide defaults per field.
type FeeOptions struct {
	CallGasLimit                  *FeeOption
	VerificationGasLimit          *FeeOption
	PreVerificationGas            *FeeOption
	MaxFeePerGas                  *FeeOption
	MaxPriorityFeePerGas          *FeeOption
	PaymasterVerificationGasLimit *FeeOption
	PaymasterPostOpGasLimit       *FeeOption
}

type gasField struct {
	name     string
	v07Only  bool
	field    func(op *userop.UserOperation) **big.Int
	override func(o *Overrides) *Override
	option   func(f *FeeOptions) *FeeOption
}

var gasFields = []gasField{
	{
		name:     "callGasLimit",
		field:    func(op *userop.UserOperation) **big.Int { return &op.CallGasLimit },
		override: func(o *Overrides) *Override { return o.CallGasLimit },
		option:   func(f *FeeOptions) *FeeOption { return f.CallGasLimit },
	},
	{
		name:     "verificationGasLimit",
		field:    func(op *userop.UserOperation) **big.Int { return &op.VerificationGasLimit },
		override: func(o *Overrides) *Override { return o.VerificationGasLimit },
		option:   func(f *FeeOptions) *FeeOption { return f.VerificationGasLimit },
	},
	{
		name:     "preVerificationGas",
		field:    func(op *userop.UserOperation) **big.Int { return &op.PreVerificationGas },
		override: func(o *Overrides) *Override { return o.PreVerificationGas },
		option:   func(f *FeeOptions) *FeeOption { return f.PreVerificationGas },
	},
	{
		name:     "maxFeePerGas",
		field:    func(op *userop.UserOperation) **big.Int { return &op.MaxFeePerGas },
		override: func(o *Overrides) *Override { return o.MaxFeePerGas },
		option:   func(f *FeeOptions) *FeeOption { return f.MaxFeePerGas },
	},
	{
		name:     "maxPriorityFeePerGas",
		field:    func(op *userop.UserOperation) **big.Int { return &op.MaxPriorityFeePerGas },
		override: func(o *Overrides) *Override { return o.MaxPriorityFeePerGas },
		option:   func(f *FeeOptions) *FeeOption { return f.MaxPriorityFeePerGas },
	},
	{
		name:     "paymasterVerificationGasLimit",
		v07Only:  true,
		field:    func(op *userop.UserOperation) **big.Int { return &op.PaymasterVerificationGasLimit },
		override: func(o *Overrides) *Override { return o.PaymasterVerificationGasLimit },
		option:   func(f *FeeOptions) *FeeOption { return f.PaymasterVerificationGasLimit },
	},
	{
		name:     "paymasterPostOpGasLimit",
		v07Only:  true,
		field:    func(op *userop.UserOperation) **big.Int { return &op.PaymasterPostOpGasLimit },
		override: func(o *Overrides) *Override { return o.PaymasterPostOpGasLimit },
		option:   func(f *FeeOptions) *FeeOption { return f.PaymasterPostOpGasLimit },
	},
}

// MultiplyBig returns ceil(v * m). m must be positive with at most 4 decimals.
func MultiplyBig(v *big.Int, m float64) (*big.Int, error) {
	d := decimal.NewFromFloat(m)
	if !d.IsPositive() || !d.Equal(d.Round(4)) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMultiplier, m)
	}
	return decimal.NewFromBigInt(v, 0).Mul(d).Ceil().BigInt(), nil
}

func applyOverride(value *big.Int, o *Override) (*big.Int, error) {
	switch {
	case o.Value != nil:
		return new(big.Int).Set(o.Value), nil
	case value == nil:
		return nil, nil
	}
	return MultiplyBig(value, o.Multiplier)
}

func applyFeeOption(value *big.Int, f *FeeOption) (*big.Int, error) {
	if value == nil {
		if f.Min != nil {
			return new(big.Int).Set(f.Min), nil
		}
		return new(big.Int), nil
	}

	out := new(big.Int).Set(value)
	if f.Multiplier != 0 {
		var err error
		if out, err = MultiplyBig(value, f.Multiplier); err != nil {
			return nil, err
		}
	}
	if f.Min != nil && out.Cmp(f.Min) < 0 {
		out.Set(f.Min)
	}
	if f.Max != nil && out.Cmp(f.Max) > 0 {
		out.Set(f.Max)
	}
	return out, nil
}

// ApplyOverrideOrFeeOption resolves one field: the override when present,
// else the fee option, else the value unchanged.
func ApplyOverrideOrFeeOption(value *big.Int, o *Override, f *FeeOption) (*big.Int, error) {
	if o.isSet() {
		return applyOverride(value, o)
	}
	if f != nil {
		return applyFeeOption(value, f)
	}
	return value, nil
}

func applyOverrides(op *userop.UserOperation, o *Overrides, f *FeeOptions) error {
	if f == nil {
		f = &FeeOptions{}
	}
	for _, gf := range gasFields {
		if gf.v07Only && (op.Version != userop.V07 || op.Paymaster == nil) {
			continue
		}
		dst := gf.field(op)
		v, err := ApplyOverrideOrFeeOption(*dst, gf.override(o), gf.option(f))
		if err != nil {
			return fmt.Errorf("%s: %w", gf.name, err)
		}
		*dst = v
	}
	return nil
}

// gasManagerOverrides renders overrides and fee option multipliers in the
// gas manager's request shape.
func gasManagerOverrides(version userop.Version, o *Overrides, f *FeeOptions) map[string]any {
	if f == nil {
		f = &FeeOptions{}
	}
	out := map[string]any{}
	for _, gf := range gasFields {
		if gf.v07Only && version != userop.V07 {
			continue
		}
		switch ov, opt := gf.override(o), gf.option(f); {
		case ov.isSet() && ov.Value != nil:
			out[gf.name] = (*hexutil.Big)(ov.Value)
		case ov.isSet():
			out[gf.name] = map[string]any{"multiplier": ov.Multiplier}
		case opt != nil && opt.Multiplier != 0:
			out[gf.name] = map[string]any{"multiplier": opt.Multiplier}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// allGasLiteral reports whether the caller fixed every gas limit, in which
// case estimation is skipped.
func allGasLiteral(o *Overrides) bool {
	for _, ov := range []*Override{o.CallGasLimit, o.VerificationGasLimit, o.PreVerificationGas} {
		if ov == nil || ov.Value == nil {
			return false
		}
	}
	return true
}
