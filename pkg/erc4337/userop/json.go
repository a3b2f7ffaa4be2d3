package userop

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// Bundlers expect the numeric fields as quantities and the byte fields as 0x
// prefixed data, so nil values are sent as 0x0 and 0x.
type userOperationV06JSON struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

type userOperationV07JSON struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

// userOperationAnyJSON is the lenient decoding shape. Quantities may arrive as
// hex or decimal strings, or as bare JSON numbers.
type userOperationAnyJSON struct {
	Sender                        *common.Address       `json:"sender"`
	Nonce                         *math.HexOrDecimal256 `json:"nonce"`
	InitCode                      *hexutil.Bytes        `json:"initCode"`
	CallData                      hexutil.Bytes         `json:"callData"`
	CallGasLimit                  *math.HexOrDecimal256 `json:"callGasLimit"`
	VerificationGasLimit          *math.HexOrDecimal256 `json:"verificationGasLimit"`
	PreVerificationGas            *math.HexOrDecimal256 `json:"preVerificationGas"`
	MaxFeePerGas                  *math.HexOrDecimal256 `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *math.HexOrDecimal256 `json:"maxPriorityFeePerGas"`
	PaymasterAndData              *hexutil.Bytes        `json:"paymasterAndData"`
	Factory                       *common.Address       `json:"factory"`
	FactoryData                   hexutil.Bytes         `json:"factoryData"`
	Paymaster                     *common.Address       `json:"paymaster"`
	PaymasterVerificationGasLimit *math.HexOrDecimal256 `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *math.HexOrDecimal256 `json:"paymasterPostOpGasLimit"`
	PaymasterData                 hexutil.Bytes         `json:"paymasterData"`
	Signature                     hexutil.Bytes         `json:"signature"`
}

// MarshalJSON encodes op in the RPC shape of its entry point version.
func (op *UserOperation) MarshalJSON() ([]byte, error) {
	switch op.Version {
	case V06:
		return json.Marshal(userOperationV06JSON{
			Sender:               op.Sender,
			Nonce:                quantity(op.Nonce),
			InitCode:             op.InitCode,
			CallData:             op.CallData,
			CallGasLimit:         quantity(op.CallGasLimit),
			VerificationGasLimit: quantity(op.VerificationGasLimit),
			PreVerificationGas:   quantity(op.PreVerificationGas),
			MaxFeePerGas:         quantity(op.MaxFeePerGas),
			MaxPriorityFeePerGas: quantity(op.MaxPriorityFeePerGas),
			PaymasterAndData:     op.PaymasterAndData,
			Signature:            op.Signature,
		})
	case V07:
		enc := userOperationV07JSON{
			Sender:               op.Sender,
			Nonce:                quantity(op.Nonce),
			Factory:              op.Factory,
			FactoryData:          op.FactoryData,
			CallData:             op.CallData,
			CallGasLimit:         quantity(op.CallGasLimit),
			VerificationGasLimit: quantity(op.VerificationGasLimit),
			PreVerificationGas:   quantity(op.PreVerificationGas),
			MaxFeePerGas:         quantity(op.MaxFeePerGas),
			MaxPriorityFeePerGas: quantity(op.MaxPriorityFeePerGas),
			Signature:            op.Signature,
		}
		if op.Paymaster != nil {
			enc.Paymaster = op.Paymaster
			enc.PaymasterVerificationGasLimit = quantity(op.PaymasterVerificationGasLimit)
			enc.PaymasterPostOpGasLimit = quantity(op.PaymasterPostOpGasLimit)
			enc.PaymasterData = op.PaymasterData
			if enc.PaymasterData == nil {
				enc.PaymasterData = hexutil.Bytes{}
			}
		}
		return json.Marshal(enc)
	}
	return nil, ErrUnsupportedVersion
}

// UnmarshalJSON decodes either layout. When op.Version is already set it is
// kept, otherwise the presence of initCode or paymasterAndData selects v0.6.
func (op *UserOperation) UnmarshalJSON(input []byte) error {
	var dec userOperationAnyJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	if dec.Sender == nil {
		return errors.New("missing required field 'sender' for UserOperation")
	}

	version := op.Version
	if version == "" {
		version = V07
		if dec.InitCode != nil || dec.PaymasterAndData != nil {
			version = V06
		}
	}

	*op = UserOperation{
		Version:              version,
		Sender:               *dec.Sender,
		Nonce:                fromQuantity(dec.Nonce),
		CallData:             dec.CallData,
		CallGasLimit:         fromQuantity(dec.CallGasLimit),
		VerificationGasLimit: fromQuantity(dec.VerificationGasLimit),
		PreVerificationGas:   fromQuantity(dec.PreVerificationGas),
		MaxFeePerGas:         fromQuantity(dec.MaxFeePerGas),
		MaxPriorityFeePerGas: fromQuantity(dec.MaxPriorityFeePerGas),
		Signature:            dec.Signature,
	}

	if version == V06 {
		if dec.InitCode != nil {
			op.InitCode = *dec.InitCode
		}
		if dec.PaymasterAndData != nil {
			op.PaymasterAndData = *dec.PaymasterAndData
		}
		return nil
	}

	op.Factory = dec.Factory
	op.FactoryData = dec.FactoryData
	op.Paymaster = dec.Paymaster
	op.PaymasterVerificationGasLimit = fromQuantity(dec.PaymasterVerificationGasLimit)
	op.PaymasterPostOpGasLimit = fromQuantity(dec.PaymasterPostOpGasLimit)
	op.PaymasterData = dec.PaymasterData
	return nil
}

func quantity(v *big.Int) *hexutil.Big {
	return (*hexutil.Big)(BigOrZero(v))
}

func fromQuantity(v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set((*big.Int)(v))
}
