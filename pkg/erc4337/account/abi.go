package account

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

const lightAccountABIJSON = `[
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

// executeBatch(address[],uint256[],bytes[]) only exists from v1.1.0 on.
const lightAccountBatchValueABIJSON = `[
	{"type":"function","name":"executeBatch","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

const modularAccountABIJSON = `[
	{"type":"function","name":"execute","stateMutability":"payable","inputs":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[{"name":"result","type":"bytes"}]},
	{"type":"function","name":"executeBatch","stateMutability":"payable","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}]}],"outputs":[{"name":"results","type":"bytes[]"}]}
]`

const upgradeABIJSON = `[
	{"type":"function","name":"upgradeToAndCall","stateMutability":"payable","inputs":[{"name":"newImplementation","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]}
]`

var (
	lightAccountABI           = mustParseABI(lightAccountABIJSON)
	lightAccountBatchValueABI = mustParseABI(lightAccountBatchValueABIJSON)
	modularAccountABI         = mustParseABI(modularAccountABIJSON)
	upgradeABI                = mustParseABI(upgradeABIJSON)

	addressT = mustType("address")
	bytesT   = mustType("bytes")

	erc6492Args = abi.Arguments{
		{Type: addressT}, // factory
		{Type: bytesT},   // factory calldata
		{Type: bytesT},   // signature
	}
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
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

// modularCall mirrors the MAv2 Call tuple.
type modularCall struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

func callValue(c userop.Call) *big.Int {
	return userop.BigOrZero(c.Value)
}

func callData(c userop.Call) []byte {
	if c.Data == nil {
		return []byte{}
	}
	return c.Data
}

func messageHash(msg []byte) common.Hash {
	return common.BytesToHash(accounts.TextHash(msg))
}

// DecodeCalls decodes execute and executeBatch call data of either account
// family back into calls. Batches keep their order.
func DecodeCalls(data []byte) ([]userop.Call, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("call data too short: %d bytes", len(data))
	}
	for _, parsed := range []abi.ABI{lightAccountABI, lightAccountBatchValueABI, modularAccountABI} {
		method, err := parsed.MethodById(data[:4])
		if err != nil {
			continue
		}
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", method.Sig, err)
		}
		return callsFromArgs(method.Sig, args)
	}
	return nil, fmt.Errorf("unknown account call selector %x", data[:4])
}

func callsFromArgs(sig string, args []any) ([]userop.Call, error) {
	switch sig {
	case "execute(address,uint256,bytes)":
		return []userop.Call{{
			Target: args[0].(common.Address),
			Value:  args[1].(*big.Int),
			Data:   args[2].([]byte),
		}}, nil
	case "executeBatch(address[],bytes[])":
		targets := args[0].([]common.Address)
		datas := args[1].([][]byte)
		if len(targets) != len(datas) {
			return nil, fmt.Errorf("executeBatch length mismatch: %d targets, %d calls", len(targets), len(datas))
		}
		return lo.Map(targets, func(t common.Address, i int) userop.Call {
			return userop.Call{Target: t, Value: new(big.Int), Data: datas[i]}
		}), nil
	case "executeBatch(address[],uint256[],bytes[])":
		targets := args[0].([]common.Address)
		values := args[1].([]*big.Int)
		datas := args[2].([][]byte)
		if len(targets) != len(datas) || len(targets) != len(values) {
			return nil, fmt.Errorf("executeBatch length mismatch")
		}
		return lo.Map(targets, func(t common.Address, i int) userop.Call {
			return userop.Call{Target: t, Value: values[i], Data: datas[i]}
		}), nil
	case "executeBatch((address,uint256,bytes)[])":
		calls := *abi.ConvertType(args[0], new([]modularCall)).(*[]modularCall)
		return lo.Map(calls, func(c modularCall, _ int) userop.Call {
			return userop.Call{Target: c.Target, Value: c.Value, Data: c.Data}
		}), nil
	}
	return nil, fmt.Errorf("unsupported call %s", sig)
}
