package account

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/aa-sdk-go/core/chainio/aa"
)

// WrapSignatureWith6492 wraps sig so that verifiers can deploy the account
// through factory before checking it:
// abi.encode(factory, factoryData, sig) ++ magic.
func WrapSignatureWith6492(args aa.FactoryArgs, sig []byte) ([]byte, error) {
	if args.Factory == (common.Address{}) {
		return nil, errors.New("erc6492 wrapping requires a factory")
	}
	data := args.FactoryData
	if data == nil {
		data = []byte{}
	}
	enc, err := erc6492Args.Pack(args.Factory, data, sig)
	if err != nil {
		return nil, err
	}
	return append(enc, erc6492MagicBytes...), nil
}

// IsSignatureWith6492 reports whether sig ends with the ERC-6492 magic suffix.
func IsSignatureWith6492(sig []byte) bool {
	return bytes.HasSuffix(sig, erc6492MagicBytes)
}

// UnwrapSignatureWith6492 returns the factory args and the inner signature of
// a wrapped signature. Unwrapped signatures are returned as is.
func UnwrapSignatureWith6492(sig []byte) (aa.FactoryArgs, []byte, error) {
	if !IsSignatureWith6492(sig) {
		return aa.FactoryArgs{}, sig, nil
	}
	out, err := erc6492Args.Unpack(sig[:len(sig)-len(erc6492MagicBytes)])
	if err != nil {
		return aa.FactoryArgs{}, nil, err
	}
	return aa.FactoryArgs{
		Factory:     out[0].(common.Address),
		FactoryData: out[1].([]byte),
	}, out[2].([]byte), nil
}

// ParseFactoryAddressFromInitCode splits a v0.6 init code.
func ParseFactoryAddressFromInitCode(initCode []byte) (common.Address, []byte, error) {
	args, err := aa.ParseInitCode(initCode)
	if err != nil {
		return common.Address{}, nil, err
	}
	return args.Factory, args.FactoryData, nil
}
