package entrypoint

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

const paymasterFieldsLen = common.AddressLength + 16 + 16

// PackUints packs two uint128 values into one 32 byte word, high first.
// Nil values pack as zero.
func PackUints(high, low *big.Int) ([32]byte, error) {
	var out [32]byte
	h, err := pad16(high)
	if err != nil {
		return out, err
	}
	l, err := pad16(low)
	if err != nil {
		return out, err
	}
	copy(out[:16], h)
	copy(out[16:], l)
	return out, nil
}

// UnpackUints splits a word packed with PackUints.
func UnpackUints(packed [32]byte) (high, low *big.Int) {
	return new(big.Int).SetBytes(packed[:16]), new(big.Int).SetBytes(packed[16:])
}

func pad16(v *big.Int) ([]byte, error) {
	v = userop.BigOrZero(v)
	if v.Sign() < 0 || v.Cmp(maxUint128) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUint128Overflow, v)
	}
	return common.LeftPadBytes(v.Bytes(), 16), nil
}

// InitCode returns the v0.7 factory ++ factoryData, or the v0.6 initCode as is.
// It is empty when the account needs no deployment.
func InitCode(op *userop.UserOperation) []byte {
	if op.Version == userop.V06 {
		return op.InitCode
	}
	if op.Factory == nil {
		return []byte{}
	}
	return append(op.Factory.Bytes(), op.FactoryData...)
}

// PackPaymasterAndData returns paymaster ++ pad16(verificationGasLimit) ++
// pad16(postOpGasLimit) ++ paymasterData for a v0.7 operation, and an empty
// slice when no paymaster is set.
func PackPaymasterAndData(op *userop.UserOperation) ([]byte, error) {
	if op.Version == userop.V06 {
		return op.PaymasterAndData, nil
	}
	if op.Paymaster == nil {
		return []byte{}, nil
	}

	verification, err := pad16(op.PaymasterVerificationGasLimit)
	if err != nil {
		return nil, fmt.Errorf("paymasterVerificationGasLimit: %w", err)
	}
	postOp, err := pad16(op.PaymasterPostOpGasLimit)
	if err != nil {
		return nil, fmt.Errorf("paymasterPostOpGasLimit: %w", err)
	}

	out := make([]byte, 0, paymasterFieldsLen+len(op.PaymasterData))
	out = append(out, op.Paymaster.Bytes()...)
	out = append(out, verification...)
	out = append(out, postOp...)
	out = append(out, op.PaymasterData...)
	return out, nil
}

// UnpackPaymasterAndData fills the v0.7 paymaster fields of op from a packed
// paymasterAndData. An empty input clears them.
func UnpackPaymasterAndData(op *userop.UserOperation, data []byte) error {
	if len(data) == 0 {
		op.Paymaster = nil
		op.PaymasterVerificationGasLimit = nil
		op.PaymasterPostOpGasLimit = nil
		op.PaymasterData = nil
		return nil
	}
	if len(data) < paymasterFieldsLen {
		return fmt.Errorf("%w: paymasterAndData is %d bytes, want at least %d", ErrInvalidPacking, len(data), paymasterFieldsLen)
	}

	pm := common.BytesToAddress(data[:20])
	op.Paymaster = &pm
	op.PaymasterVerificationGasLimit = new(big.Int).SetBytes(data[20:36])
	op.PaymasterPostOpGasLimit = new(big.Int).SetBytes(data[36:52])
	op.PaymasterData = common.CopyBytes(data[52:])
	return nil
}

// PackedUserOperation is the on-chain v0.7 struct handed to handleOps.
type PackedUserOperation struct {
	Sender             common.Address `json:"sender"`
	Nonce              *hexutil.Big   `json:"nonce"`
	InitCode           hexutil.Bytes  `json:"initCode"`
	CallData           hexutil.Bytes  `json:"callData"`
	AccountGasLimits   common.Hash    `json:"accountGasLimits"`
	PreVerificationGas *hexutil.Big   `json:"preVerificationGas"`
	GasFees            common.Hash    `json:"gasFees"`
	PaymasterAndData   hexutil.Bytes  `json:"paymasterAndData"`
	Signature          hexutil.Bytes  `json:"signature"`
}

// ToPacked converts a v0.7 operation to its on-chain form.
func ToPacked(op *userop.UserOperation) (*PackedUserOperation, error) {
	if err := checkVersion(op, userop.V07); err != nil {
		return nil, err
	}
	accountGasLimits, err := PackUints(op.VerificationGasLimit, op.CallGasLimit)
	if err != nil {
		return nil, err
	}
	gasFees, err := PackUints(op.MaxPriorityFeePerGas, op.MaxFeePerGas)
	if err != nil {
		return nil, err
	}
	paymasterAndData, err := PackPaymasterAndData(op)
	if err != nil {
		return nil, err
	}

	return &PackedUserOperation{
		Sender:             op.Sender,
		Nonce:              (*hexutil.Big)(userop.BigOrZero(op.Nonce)),
		InitCode:           InitCode(op),
		CallData:           op.CallData,
		AccountGasLimits:   accountGasLimits,
		PreVerificationGas: (*hexutil.Big)(userop.BigOrZero(op.PreVerificationGas)),
		GasFees:            gasFees,
		PaymasterAndData:   paymasterAndData,
		Signature:          op.Signature,
	}, nil
}

// FromPacked is the inverse of ToPacked.
func FromPacked(p *PackedUserOperation) (*userop.UserOperation, error) {
	verificationGasLimit, callGasLimit := UnpackUints(p.AccountGasLimits)
	maxPriorityFeePerGas, maxFeePerGas := UnpackUints(p.GasFees)

	op := &userop.UserOperation{
		Version:              userop.V07,
		Sender:               p.Sender,
		Nonce:                new(big.Int).Set(userop.BigOrZero((*big.Int)(p.Nonce))),
		CallData:             common.CopyBytes(p.CallData),
		CallGasLimit:         callGasLimit,
		VerificationGasLimit: verificationGasLimit,
		PreVerificationGas:   new(big.Int).Set(userop.BigOrZero((*big.Int)(p.PreVerificationGas))),
		MaxFeePerGas:         maxFeePerGas,
		MaxPriorityFeePerGas: maxPriorityFeePerGas,
		Signature:            common.CopyBytes(p.Signature),
	}
	if len(p.InitCode) > 0 {
		if len(p.InitCode) < common.AddressLength {
			return nil, fmt.Errorf("%w: initCode shorter than an address", ErrInvalidPacking)
		}
		f := common.BytesToAddress(p.InitCode[:20])
		op.Factory = &f
		op.FactoryData = common.CopyBytes(p.InitCode[20:])
	}
	if err := UnpackPaymasterAndData(op, p.PaymasterAndData); err != nil {
		return nil, err
	}
	return op, nil
}
