package entrypoint

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

var (
	AddressV06 = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	AddressV07 = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
)

// Definition pairs a deployed entry point with its codec.
type Definition struct {
	Version userop.Version
	Address common.Address
	Codec   Codec
}

// DefaultAddress returns the canonical deployment of the given version. The
// same address is used on every chain.
func DefaultAddress(version userop.Version) (common.Address, error) {
	switch version {
	case userop.V06:
		return AddressV06, nil
	case userop.V07:
		return AddressV07, nil
	}
	return common.Address{}, fmt.Errorf("%w: %q", userop.ErrUnsupportedVersion, version)
}

// NewDefinition returns the definition of version at address. A zero address
// selects the canonical deployment.
func NewDefinition(version userop.Version, address common.Address) (*Definition, error) {
	codec, err := Get(version)
	if err != nil {
		return nil, err
	}
	if address == (common.Address{}) {
		if address, err = DefaultAddress(version); err != nil {
			return nil, err
		}
	}
	return &Definition{Version: version, Address: address, Codec: codec}, nil
}

// Hash is shorthand for d.Codec.Hash with the definition's address.
func (d *Definition) Hash(op *userop.UserOperation, chainID *big.Int) (common.Hash, error) {
	return d.Codec.Hash(op, d.Address, chainID)
}
