// Package aa computes counterfactual smart account addresses and tracks
// whether an account has been deployed yet.
package aa

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/samber/lo"
)

var (
	ErrUnknownAccountType = errors.New("unknown account type")
	ErrUnknownVersion     = errors.New("unknown account version")
	ErrMissingOwner       = errors.New("account requires an owner")
)

// PredictParams is the tagged input of PredictAddress and FactoryData. Type
// selects which of the remaining fields are read.
type PredictParams struct {
	Type    AccountType
	Version string

	// Zero values select the registry defaults. With a custom Light Account
	// factory the implementation is the factory's first CREATE deployment.
	Factory        common.Address
	Implementation common.Address

	Owners   []common.Address
	Salt     *big.Int
	EntityID uint32

	// WebAuthn public key coordinates.
	PublicKeyX *big.Int
	PublicKeyY *big.Int
}

// Owner returns the first owner, or the zero address.
func (p PredictParams) Owner() common.Address {
	if len(p.Owners) == 0 {
		return common.Address{}
	}
	return p.Owners[0]
}

func (p PredictParams) salt() *big.Int {
	if p.Salt == nil {
		return new(big.Int)
	}
	return p.Salt
}

// resolve fills factory and implementation from the registry.
func (p PredictParams) resolve() (PredictParams, error) {
	d, err := DefaultDeployment(p.Type, p.Version)
	if err != nil {
		return p, err
	}
	if p.Version == "" {
		p.Version = DefaultVersion(p.Type)
	}

	custom := p.Factory != (common.Address{}) && p.Factory != d.Factory
	if p.Factory == (common.Address{}) {
		p.Factory = d.Factory
	}
	if p.Implementation == (common.Address{}) {
		p.Implementation = d.Implementation
		if custom && (p.Type == LightAccount || p.Type == MultiOwnerLightAccount) {
			p.Implementation = crypto.CreateAddress(p.Factory, 1)
		}
	}
	return p, nil
}

// PredictAddress returns the CREATE2 address the family's factory deploys the
// account to. Unknown types and versions fail rather than defaulting.
func PredictAddress(params PredictParams) (common.Address, error) {
	p, err := params.resolve()
	if err != nil {
		return common.Address{}, err
	}

	switch p.Type {
	case LightAccount:
		if p.Owner() == (common.Address{}) {
			return common.Address{}, ErrMissingOwner
		}
		switch p.Version {
		case LightAccountV101, LightAccountV102, LightAccountV110:
			initCode, err := lightAccountV1InitCode(p.Implementation, p.Owner())
			if err != nil {
				return common.Address{}, err
			}
			return Create2Address(p.Factory, common.BigToHash(p.salt()), initCode), nil
		case LightAccountV200:
			salt, err := abiSalt(addressT, p.Owner(), uint256T, p.salt())
			if err != nil {
				return common.Address{}, err
			}
			return Create2Address(p.Factory, salt, proxyInitCode(p.Implementation)), nil
		}
		return common.Address{}, fmt.Errorf("%w: %s %q", ErrUnknownVersion, p.Type, p.Version)

	case MultiOwnerLightAccount:
		owners := CanonicalOwners(p.Owners)
		if len(owners) == 0 {
			return common.Address{}, ErrMissingOwner
		}
		salt, err := abiSalt(addressSliceT, owners, uint256T, p.salt())
		if err != nil {
			return common.Address{}, err
		}
		return Create2Address(p.Factory, salt, proxyInitCode(p.Implementation)), nil

	case SMA:
		if p.Owner() == (common.Address{}) {
			return common.Address{}, ErrMissingOwner
		}
		salt := packedSalt(p.Owner().Bytes(), uint256Bytes(p.salt()), uint32Bytes(0xffffffff))
		return Create2Address(p.Factory, salt, proxyInitCodeWithArgs(p.Implementation, p.Owner().Bytes())), nil

	case MA:
		if p.Owner() == (common.Address{}) {
			return common.Address{}, ErrMissingOwner
		}
		salt := packedSalt(p.Owner().Bytes(), uint256Bytes(p.salt()), uint32Bytes(p.EntityID))
		return Create2Address(p.Factory, salt, proxyInitCode(p.Implementation)), nil

	case WebAuthn:
		if p.PublicKeyX == nil || p.PublicKeyY == nil {
			return common.Address{}, errors.New("webauthn account requires public key coordinates")
		}
		salt := packedSalt(uint256Bytes(p.PublicKeyX), uint256Bytes(p.PublicKeyY), uint256Bytes(p.salt()), uint32Bytes(p.EntityID))
		return Create2Address(p.Factory, salt, proxyInitCode(p.Implementation)), nil

	case SMA7702:
		// the EOA itself is the account
		if p.Owner() == (common.Address{}) {
			return common.Address{}, ErrMissingOwner
		}
		return p.Owner(), nil

	default:
		return common.Address{}, fmt.Errorf("%w: %q", ErrUnknownAccountType, p.Type)
	}
}

// Create2Address is keccak256(0xff ++ factory ++ salt ++ keccak256(initCode))[12:].
func Create2Address(factory common.Address, salt common.Hash, initCode []byte) common.Address {
	return crypto.CreateAddress2(factory, salt, crypto.Keccak256(initCode))
}

// CanonicalOwners deduplicates owners, drops the zero address and sorts the
// rest in ascending numeric order, the order the multi-owner factory expects.
func CanonicalOwners(owners []common.Address) []common.Address {
	out := lo.Uniq(lo.Filter(owners, func(o common.Address, _ int) bool {
		return o != (common.Address{})
	}))
	slices.SortFunc(out, func(a, b common.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return out
}

// proxyInitCode is the Solady ERC-1967 minimal proxy creation code.
func proxyInitCode(impl common.Address) []byte {
	return concat(proxyPrefix, impl.Bytes(), proxySuffix)
}

// proxyInitCodeWithArgs is the Solady ERC-1967 proxy with immutable args
// appended, used by the semi-modular account to embed its owner.
func proxyInitCodeWithArgs(impl common.Address, args []byte) []byte {
	return concat(proxyWithArgsPrefix, impl.Bytes(), proxySuffix, args)
}

// lightAccountV1InitCode is the OpenZeppelin ERC1967Proxy creation code with
// constructor(impl, initialize(owner)) appended.
func lightAccountV1InitCode(impl, owner common.Address) ([]byte, error) {
	initialize, err := lightAccountV1ABI.Pack("initialize", owner)
	if err != nil {
		return nil, err
	}
	args, err := erc1967ProxyConstructor.Pack(impl, initialize)
	if err != nil {
		return nil, err
	}
	return concat(lightAccountV1ProxyBytecode, args), nil
}

func packedSalt(parts ...[]byte) common.Hash {
	return crypto.Keccak256Hash(parts...)
}

func uint256Bytes(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func uint32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

var (
	proxyPrefix         = common.FromHex("0x603d3d8160223d3973")
	proxyWithArgsPrefix = common.FromHex("0x6100513d8160233d3973")
	proxySuffix         = common.FromHex("0x60095155f3363d3d373d3d363d7f360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc545af43d6000803e6038573d6000fd5b3d6000f3")
)
