package aa

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	lightAccountFactoryABIJSON = `[
		{"type":"function","name":"createAccount","stateMutability":"nonpayable",
		 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
		 "outputs":[{"name":"ret","type":"address"}]}
	]`

	multiOwnerFactoryABIJSON = `[
		{"type":"function","name":"createAccount","stateMutability":"nonpayable",
		 "inputs":[{"name":"owners","type":"address[]"},{"name":"salt","type":"uint256"}],
		 "outputs":[{"name":"account","type":"address"}]}
	]`

	modularAccountFactoryABIJSON = `[
		{"type":"function","name":"createSemiModularAccount","stateMutability":"nonpayable",
		 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
		 "outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"createAccount","stateMutability":"nonpayable",
		 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"},{"name":"entityId","type":"uint32"}],
		 "outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"createWebAuthnAccount","stateMutability":"nonpayable",
		 "inputs":[{"name":"ownerX","type":"uint256"},{"name":"ownerY","type":"uint256"},{"name":"salt","type":"uint256"},{"name":"entityId","type":"uint32"}],
		 "outputs":[{"name":"","type":"address"}]}
	]`

	lightAccountV1ABIJSON = `[
		{"type":"function","name":"initialize","stateMutability":"nonpayable",
		 "inputs":[{"name":"anOwner","type":"address"}],"outputs":[]}
	]`
)

var (
	lightAccountFactoryABI   = mustParseABI(lightAccountFactoryABIJSON)
	multiOwnerFactoryABI     = mustParseABI(multiOwnerFactoryABIJSON)
	modularAccountFactoryABI = mustParseABI(modularAccountFactoryABIJSON)
	lightAccountV1ABI        = mustParseABI(lightAccountV1ABIJSON)

	addressT      = mustType("address")
	addressSliceT = mustType("address[]")
	uint256T      = mustType("uint256")

	// constructor(address _logic, bytes _data)
	erc1967ProxyConstructor = abi.Arguments{{Type: addressT}, {Type: mustType("bytes")}}

	// OpenZeppelin ERC1967Proxy creation code deployed by every v1 Light Account factory.
	lightAccountV1ProxyBytecode = common.FromHex("0x60406080815261042c908138038061001681610218565b93843982019181818403126102135780516001600160a01b038116808203610213576020838101516001600160401b0394919391858211610213570186601f820112156102135780519061007161006c83610253565b610218565b918083528583019886828401011161021357888661008f930161026e565b813b156101b9577f360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc80546001600160a01b031916841790556000927fbc7cd75a20ee27fd9adebab32041f755214dbc6bffa90cc0225b39da2e5c2d3b8480a28051158015906101b2575b61010b575b855160e790816103458239f35b855194606086019081118682101761019e578697849283926101889952602788527f416464726573733a206c6f772d6c6576656c2064656c65676174652063616c6c87890152660819985a5b195960ca1b8a8901525190845af4913d15610194573d9061017a61006c83610253565b91825281943d92013e610291565b508038808080806100fe565b5060609250610291565b634e487b7160e01b84526041600452602484fd5b50826100f9565b855162461bcd60e51b815260048101859052602d60248201527f455243313936373a206e657720696d706c656d656e746174696f6e206973206e60448201526c1bdd08184818dbdb9d1c9858dd609a1b6064820152608490fd5b600080fd5b6040519190601f01601f191682016001600160401b0381118382101761023d57604052565b634e487b7160e01b600052604160045260246000fd5b6001600160401b03811161023d57601f01601f191660200190565b60005b8381106102815750506000910152565b8181015183820152602001610271565b919290156102f357508151156102a5575090565b3b156102ae5790565b60405162461bcd60e51b815260206004820152601d60248201527f416464726573733a2063616c6c20746f206e6f6e2d636f6e74726163740000006044820152606490fd5b8251909150156103065750805190602001fd5b6044604051809262461bcd60e51b825260206004830152610336815180928160248601526020868601910161026e565b601f01601f19168101030190fdfe60806040523615605f5773ffffffffffffffffffffffffffffffffffffffff7f360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc54166000808092368280378136915af43d82803e15605b573d90f35b3d90fd5b73ffffffffffffffffffffffffffffffffffffffff7f360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc54166000808092368280378136915af43d82803e15605b573d90f3fea26469706673582212205da2750cd2b0cadfd354d8a1ca4752ed7f22214c8069d852f7dc6b8e9e5ee66964736f6c63430008150033")
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Errorf("invalid factory ABI: %w", err))
	}
	return parsed
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// abiSalt is keccak256(abi.encode(values...)) where args alternates type, value.
func abiSalt(args ...any) (common.Hash, error) {
	var (
		types  abi.Arguments
		values []any
	)
	for i := 0; i+1 < len(args); i += 2 {
		types = append(types, abi.Argument{Type: args[i].(abi.Type)})
		values = append(values, args[i+1])
	}
	enc, err := types.Pack(values...)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// FactoryArgs is the v0.7 split of an init code.
type FactoryArgs struct {
	Factory     common.Address
	FactoryData []byte
}

// InitCode returns factory ++ factoryData, the v0.6 init code.
func (f FactoryArgs) InitCode() []byte {
	if f.Factory == (common.Address{}) {
		return []byte{}
	}
	return concat(f.Factory.Bytes(), f.FactoryData)
}

// ParseInitCode splits an init code into its factory address and calldata.
func ParseInitCode(initCode []byte) (FactoryArgs, error) {
	if len(initCode) == 0 {
		return FactoryArgs{}, nil
	}
	if len(initCode) < common.AddressLength {
		return FactoryArgs{}, errors.New("init code is shorter than a factory address")
	}
	return FactoryArgs{
		Factory:     common.BytesToAddress(initCode[:common.AddressLength]),
		FactoryData: common.CopyBytes(initCode[common.AddressLength:]),
	}, nil
}

// FactoryData returns the factory and the calldata that deploys the account
// described by params. 7702 accounts have no factory and return zero args.
func FactoryData(params PredictParams) (FactoryArgs, error) {
	p, err := params.resolve()
	if err != nil {
		return FactoryArgs{}, err
	}

	var data []byte
	switch p.Type {
	case LightAccount:
		if p.Owner() == (common.Address{}) {
			return FactoryArgs{}, ErrMissingOwner
		}
		data, err = lightAccountFactoryABI.Pack("createAccount", p.Owner(), p.salt())
	case MultiOwnerLightAccount:
		owners := CanonicalOwners(p.Owners)
		if len(owners) == 0 {
			return FactoryArgs{}, ErrMissingOwner
		}
		data, err = multiOwnerFactoryABI.Pack("createAccount", owners, p.salt())
	case SMA:
		if p.Owner() == (common.Address{}) {
			return FactoryArgs{}, ErrMissingOwner
		}
		data, err = modularAccountFactoryABI.Pack("createSemiModularAccount", p.Owner(), p.salt())
	case MA:
		if p.Owner() == (common.Address{}) {
			return FactoryArgs{}, ErrMissingOwner
		}
		data, err = modularAccountFactoryABI.Pack("createAccount", p.Owner(), p.salt(), p.EntityID)
	case WebAuthn:
		if p.PublicKeyX == nil || p.PublicKeyY == nil {
			return FactoryArgs{}, errors.New("webauthn account requires public key coordinates")
		}
		data, err = modularAccountFactoryABI.Pack("createWebAuthnAccount", p.PublicKeyX, p.PublicKeyY, p.salt(), p.EntityID)
	case SMA7702:
		return FactoryArgs{}, nil
	default:
		return FactoryArgs{}, fmt.Errorf("%w: %q", ErrUnknownAccountType, p.Type)
	}
	if err != nil {
		return FactoryArgs{}, err
	}
	return FactoryArgs{Factory: p.Factory, FactoryData: data}, nil
}

// SMAOwnerFromFactoryData decodes the owner and salt of a
// createSemiModularAccount call, so the address can be predicted without RPC.
func SMAOwnerFromFactoryData(data []byte) (common.Address, *big.Int, error) {
	method := modularAccountFactoryABI.Methods["createSemiModularAccount"]
	if len(data) < 4 || string(data[:4]) != string(method.ID) {
		return common.Address{}, nil, errors.New("not a createSemiModularAccount call")
	}
	out, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, err
	}
	return out[0].(common.Address), out[1].(*big.Int), nil
}
