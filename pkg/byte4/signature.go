// Package byte4 resolves 4-byte function selectors of the calls a smart
// account executes.
package byte4

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc20ABIJSON = `[
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"type":"bool"}]}
]`

const erc721ABIJSON = `[
	{"type":"function","name":"safeTransferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setApprovalForAll","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]}
]`

// Selector returns the first four bytes of keccak(sig), sig being the
// canonical form such as "transfer(address,uint256)".
func Selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// GetMethodFromCalldata returns the method of parsedABI whose selector
// prefixes calldata.
func GetMethodFromCalldata(parsedABI abi.ABI, calldata []byte) (*abi.Method, error) {
	if len(calldata) < 4 {
		return nil, fmt.Errorf("invalid selector length: %d", len(calldata))
	}
	for _, method := range parsedABI.Methods {
		if bytes.Equal(Selector(method.Sig), calldata[:4]) {
			m := method
			return &m, nil
		}
	}
	return nil, fmt.Errorf("no matching method found for selector: 0x%x", calldata[:4])
}

// DecodedCall is a call whose selector was recognized.
type DecodedCall struct {
	Method string         `json:"method"`
	Args   map[string]any `json:"args"`
}

// Registry is an ordered list of ABIs searched by selector.
type Registry struct {
	abis []abi.ABI
}

// NewRegistry returns a registry preloaded with ERC-20 and ERC-721 methods.
func NewRegistry() *Registry {
	r := &Registry{}
	for _, def := range []string{erc20ABIJSON, erc721ABIJSON} {
		if err := r.Add(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Add registers an ABI json definition. Later entries lose ties.
func (r *Registry) Add(abiJSON string) error {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return err
	}
	r.abis = append(r.abis, parsed)
	return nil
}

// Decode finds the method for calldata and unpacks its arguments by name.
func (r *Registry) Decode(calldata []byte) (*DecodedCall, error) {
	for _, parsed := range r.abis {
		method, err := GetMethodFromCalldata(parsed, calldata)
		if err != nil {
			continue
		}
		args := map[string]any{}
		if err := method.Inputs.UnpackIntoMap(args, calldata[4:]); err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", method.Sig, err)
		}
		return &DecodedCall{Method: method.Sig, Args: args}, nil
	}
	if len(calldata) < 4 {
		return nil, fmt.Errorf("invalid selector length: %d", len(calldata))
	}
	return nil, fmt.Errorf("no matching method found for selector: 0x%x", calldata[:4])
}
