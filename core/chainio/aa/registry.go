package aa

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

// AccountType tags the account family a prediction or factory call is for.
type AccountType string

const (
	LightAccount           AccountType = "LightAccount"
	MultiOwnerLightAccount AccountType = "MultiOwnerLightAccount"

	// Modular Account v2 flavours.
	SMA      AccountType = "SMA"
	MA       AccountType = "MA"
	WebAuthn AccountType = "WebAuthn"
	SMA7702  AccountType = "SMA7702"
)

const (
	LightAccountV101 = "v1.0.1"
	LightAccountV102 = "v1.0.2"
	LightAccountV110 = "v1.1.0"
	LightAccountV200 = "v2.0.0"

	ModularAccountV200 = "v2.0.0"
)

// Deployment is where an account family version lives and which entry point it
// validates against.
type Deployment struct {
	Factory        common.Address
	Implementation common.Address
	EntryPoint     userop.Version
}

var (
	MAv2Factory         = common.HexToAddress("0x00000000000017c61b5bEe81050EC8eFc9c6fecd")
	MAv2WebAuthnFactory = common.HexToAddress("0x55010E571dCf07e254994bfc88b9C1C8FAe31960")
	SMAv2Bytecode       = common.HexToAddress("0x000000000000c5A9089039570Dd36455b5C07383")
	SMAv27702           = common.HexToAddress("0x69007702764179f14F51cdce752f4f775d74E139")
	MAv2Implementation  = common.HexToAddress("0x00000000000002377B26b1EdA7b0BC371C60DD4f")
	SingleSignerModule  = common.HexToAddress("0x00000000000099DE0BF6fA90dEB851E2A2df7d83")
)

var deployments = map[AccountType]map[string]Deployment{
	LightAccount: {
		LightAccountV101: {
			Factory:        common.HexToAddress("0x000000893A26168158fbeaDD9335Be5bC96592E2"),
			Implementation: common.HexToAddress("0xc1b2fc4197c9187853243e6e4eb5a4af8879a1c0"),
			EntryPoint:     userop.V06,
		},
		LightAccountV102: {
			Factory:        common.HexToAddress("0x00000055C0b4fA41dde26A74435ff03692292FBD"),
			Implementation: common.HexToAddress("0x5467b1947F47d0646704EB801E075e72aeAe8113"),
			EntryPoint:     userop.V06,
		},
		LightAccountV110: {
			Factory:        common.HexToAddress("0x00004EC70002a32400f8ae005A26081065620D20"),
			Implementation: common.HexToAddress("0xae8c656ad28F2B59a196AB61815C16A0AE1c3cba"),
			EntryPoint:     userop.V06,
		},
		LightAccountV200: {
			Factory:        common.HexToAddress("0x0000000000400CdFef5E2714E63d8040b700BC24"),
			Implementation: common.HexToAddress("0x8E8e658E22B12ada97B402fF0b044D6A325013C7"),
			EntryPoint:     userop.V07,
		},
	},
	MultiOwnerLightAccount: {
		LightAccountV200: {
			Factory:        common.HexToAddress("0x000000000019d2Ee9F2729A65AfE20bb0020AefC"),
			Implementation: common.HexToAddress("0xd2c27F9eE8E4355f71915ffD5568cB3433b6823D"),
			EntryPoint:     userop.V07,
		},
	},
	SMA: {
		ModularAccountV200: {Factory: MAv2Factory, Implementation: SMAv2Bytecode, EntryPoint: userop.V07},
	},
	MA: {
		ModularAccountV200: {Factory: MAv2Factory, Implementation: MAv2Implementation, EntryPoint: userop.V07},
	},
	WebAuthn: {
		ModularAccountV200: {Factory: MAv2WebAuthnFactory, Implementation: MAv2Implementation, EntryPoint: userop.V07},
	},
	SMA7702: {
		ModularAccountV200: {Implementation: SMAv27702, EntryPoint: userop.V07},
	},
}

// DefaultVersion is the version used when a config leaves it empty.
func DefaultVersion(t AccountType) string {
	switch t {
	case LightAccount, MultiOwnerLightAccount:
		return LightAccountV200
	}
	return ModularAccountV200
}

// DefaultDeployment returns the canonical factory and implementation of an
// account family version. Unknown pairs are configuration errors.
func DefaultDeployment(t AccountType, version string) (Deployment, error) {
	versions, ok := deployments[t]
	if !ok {
		return Deployment{}, fmt.Errorf("%w: %q", ErrUnknownAccountType, t)
	}
	if version == "" {
		version = DefaultVersion(t)
	}
	d, ok := versions[version]
	if !ok {
		return Deployment{}, fmt.Errorf("%w: %s %q", ErrUnknownVersion, t, version)
	}
	return d, nil
}
