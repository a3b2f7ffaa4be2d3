package account

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/samber/lo"

	"github.com/AvaProtocol/aa-sdk-go/core/chainio/aa"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

var lightAccountStub = common.FromHex("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// v2 signatures carry a leading signature type byte.
const lightSignatureEOA = 0x00

type lightExecutor struct {
	version string
}

func (e lightExecutor) EncodeExecute(call userop.Call) ([]byte, error) {
	return lightAccountABI.Pack("execute", call.Target, callValue(call), callData(call))
}

// EncodeExecuteBatch uses the value-less overload when no call moves value,
// which every Light Account version supports.
func (e lightExecutor) EncodeExecuteBatch(calls []userop.Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, ErrEmptyBatch
	}
	targets := lo.Map(calls, func(c userop.Call, _ int) common.Address { return c.Target })
	datas := lo.Map(calls, func(c userop.Call, _ int) []byte { return callData(c) })

	hasValue := lo.SomeBy(calls, func(c userop.Call) bool { return callValue(c).Sign() != 0 })
	if !hasValue {
		return lightAccountABI.Pack("executeBatch", targets, datas)
	}
	if e.version == aa.LightAccountV101 || e.version == aa.LightAccountV102 {
		return nil, fmt.Errorf("%w: LightAccount %s", ErrBatchNotSupported, e.version)
	}
	values := lo.Map(calls, func(c userop.Call, _ int) *big.Int { return callValue(c) })
	return lightAccountBatchValueABI.Pack("executeBatch", targets, values, datas)
}

type lightScheme struct {
	name    string
	version string
}

func (s lightScheme) isV2() bool {
	return s.version == aa.LightAccountV200
}

func (s lightScheme) wrapMessage(ctx context.Context, a *Account, hash common.Hash) (*apitypes.TypedData, bool, error) {
	switch s.version {
	case aa.LightAccountV101:
		return nil, false, nil
	case aa.LightAccountV102:
		return nil, false, fmt.Errorf("%w: %s %s", ErrUnsupported1271, s.name, s.version)
	}

	address, err := a.GetAddress(ctx)
	if err != nil {
		return nil, false, err
	}
	domainVersion := "1"
	if s.isV2() {
		domainVersion = "2"
	}
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"LightAccountMessage": {{Name: "message", Type: "bytes"}},
		},
		PrimaryType: "LightAccountMessage",
		Domain: apitypes.TypedDataDomain{
			Name:              s.name,
			Version:           domainVersion,
			ChainId:           (*math.HexOrDecimal256)(a.ChainID()),
			VerifyingContract: address.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"message": hexutil.Encode(hash.Bytes()),
		},
	}
	return &td, true, nil
}

func (s lightScheme) format1271(sig []byte) []byte {
	return s.prefix(sig)
}

func (s lightScheme) formatUserOperation(sig []byte) []byte {
	return s.prefix(sig)
}

func (s lightScheme) stub() []byte {
	return s.prefix(lightAccountStub)
}

func (s lightScheme) prefix(sig []byte) []byte {
	if !s.isV2() {
		return common.CopyBytes(sig)
	}
	return append([]byte{lightSignatureEOA}, sig...)
}

func (s lightScheme) nonceKey(key *big.Int) (*big.Int, error) {
	if key == nil {
		return new(big.Int), nil
	}
	if key.Sign() < 0 || key.BitLen() > 192 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidNonceKey, key)
	}
	return new(big.Int).Set(key), nil
}
