package account

import (
	"context"
	"encoding/binary"
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

const (
	// user operation signatures are prefixed with the reserved byte and the
	// EOA signature type
	maReservedPrefix  = 0xff
	maEOASignatureTag = 0x00

	// 1271 signatures start with the validation config type
	maDeferredActionFlag = 0x00

	maDefaultOwnerEntity = 0
)

var (
	maxUint152 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 152), big.NewInt(1))

	modularAccountStub = append(
		[]byte{maReservedPrefix, maEOASignatureTag},
		lightAccountStub...,
	)

	webAuthnStub = common.FromHex("0xff000000000000000000000000000000000000000000000000000000000000002000000000000000000000000000000000000000000000000000000000000000c0000000000000000000000000000000000000000000000000000000000000012000000000000000000000000000000000000000000000000000000000000000170000000000000000000000000000000000000000000000000000000000000001949fc7c88032b9fcb5f6efc7a7b8c63668eae9871b765e23123bb473ff57aa831a7c0d9276168ebcc29f2875a0239cffdf2a9cd1c2007c5c77c071db9264df1d000000000000000000000000000000000000000000000000000000000000002549960de5880e8c687434170f6476605b8fe4aeb9a28632c7995cf3ba831d97630500000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000008a7b2274797065223a22776562617574686e2e676574222c226368616c6c656e6765223a2273496a396e6164474850596759334b7156384f7a4a666c726275504b474f716d59576f4d57516869467773222c226f726967696e223a2268747470733a2f2f7369676e2e636f696e626173652e636f6d222c2263726f73734f726967696e223a66616c73657d00000000000000000000000000000000000000000000")
)

type modularExecutor struct{}

func (modularExecutor) EncodeExecute(call userop.Call) ([]byte, error) {
	return modularAccountABI.Pack("execute", call.Target, callValue(call), callData(call))
}

func (modularExecutor) EncodeExecuteBatch(calls []userop.Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, ErrEmptyBatch
	}
	tuples := lo.Map(calls, func(c userop.Call, _ int) modularCall {
		return modularCall{Target: c.Target, Value: callValue(c), Data: callData(c)}
	})
	return modularAccountABI.Pack("executeBatch", tuples)
}

// modularScheme signs for Modular Account v2 through the single signer
// validation of entityID.
type modularScheme struct {
	source   aa.AccountType
	entityID uint32

	// GlobalValidation selects the global validation flag in nonce keys.
	globalValidation bool
}

func (s modularScheme) wrapMessage(ctx context.Context, a *Account, hash common.Hash) (*apitypes.TypedData, bool, error) {
	if s.source == aa.WebAuthn {
		return nil, false, fmt.Errorf("%w: webauthn owner", ErrSignerUnsupported)
	}
	address, err := a.GetAddress(ctx)
	if err != nil {
		return nil, false, err
	}

	domainFields := []apitypes.Type{
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
	domain := apitypes.TypedDataDomain{
		ChainId:           (*math.HexOrDecimal256)(a.ChainID()),
		VerifyingContract: address.Hex(),
	}
	// non owner entities validate through the single signer module, which
	// binds the account in the salt
	if s.entityID != maDefaultOwnerEntity {
		domainFields = append(domainFields, apitypes.Type{Name: "salt", Type: "bytes32"})
		domain.VerifyingContract = aa.SingleSignerModule.Hex()
		domain.Salt = hexutil.Encode(common.LeftPadBytes(address.Bytes(), 32))
	}

	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":   domainFields,
			"ReplaySafeHash": {{Name: "hash", Type: "bytes32"}},
		},
		PrimaryType: "ReplaySafeHash",
		Domain:      domain,
		Message: apitypes.TypedDataMessage{
			"hash": hexutil.Encode(hash.Bytes()),
		},
	}
	return &td, true, nil
}

func (s modularScheme) format1271(sig []byte) []byte {
	out := make([]byte, 0, 7+len(sig))
	out = append(out, maDeferredActionFlag)
	out = binary.BigEndian.AppendUint32(out, s.entityID)
	out = append(out, maReservedPrefix, maEOASignatureTag)
	return append(out, sig...)
}

func (s modularScheme) formatUserOperation(sig []byte) []byte {
	return append([]byte{maReservedPrefix, maEOASignatureTag}, sig...)
}

func (s modularScheme) stub() []byte {
	if s.source == aa.WebAuthn {
		return webAuthnStub
	}
	return modularAccountStub
}

// nonceKey packs key, the validation entity and the global flag the way the
// account decodes them: key << 40 | entityID << 8 | isGlobal.
func (s modularScheme) nonceKey(key *big.Int) (*big.Int, error) {
	if key == nil {
		key = new(big.Int)
	}
	if key.Sign() < 0 || key.Cmp(maxUint152) > 0 {
		return nil, fmt.Errorf("%w: %s exceeds uint152", ErrInvalidNonceKey, key)
	}
	full := new(big.Int).Lsh(key, 40)
	full.Add(full, new(big.Int).Lsh(big.NewInt(int64(s.entityID)), 8))
	if s.globalValidation {
		full.Add(full, big.NewInt(1))
	}
	return full, nil
}
