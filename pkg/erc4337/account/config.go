package account

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/AvaProtocol/aa-sdk-go/core/chainio/aa"
	"github.com/AvaProtocol/aa-sdk-go/core/chainio/signer"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/aa-sdk-go/pkg/logger"
)

var validate = validator.New()

// AccountConfig describes one smart account. Type selects which of the
// optional fields are read.
type AccountConfig struct {
	Type    aa.AccountType `validate:"required,oneof=LightAccount MultiOwnerLightAccount SMA MA WebAuthn SMA7702"`
	Version string         `validate:"omitempty,oneof=v1.0.1 v1.0.2 v1.1.0 v2.0.0"`
	ChainID *big.Int       `validate:"required"`

	// Owners defaults to the signer address.
	Owners []common.Address
	Salt   *big.Int
	// EntityID is the MA / WebAuthn validation entity.
	EntityID   uint32
	PublicKeyX *big.Int
	PublicKeyY *big.Int

	FactoryAddress common.Address
	// AccountAddress skips address prediction entirely.
	AccountAddress common.Address
	// EntryPoint overrides the canonical entry point of the account version.
	EntryPoint common.Address

	// ResolveViaEntryPoint asks the entry point (getSenderAddress) for the
	// address instead of predicting it locally.
	ResolveViaEntryPoint bool

	// DisableGlobalValidation clears the MAv2 global validation nonce flag.
	DisableGlobalValidation bool

	Cache        aa.DeployedCache
	Logger       logger.Logger
	OnCodeLookup func(cached bool)
}

func (c AccountConfig) predictParams(owners []common.Address) aa.PredictParams {
	return aa.PredictParams{
		Type:       c.Type,
		Version:    c.Version,
		Factory:    c.FactoryAddress,
		Owners:     owners,
		Salt:       c.Salt,
		EntityID:   c.EntityID,
		PublicKeyX: c.PublicKeyX,
		PublicKeyY: c.PublicKeyY,
	}
}

// New builds the account described by cfg. WebAuthn accounts take a nil
// signer; every other type requires one.
func New(ctx context.Context, cfg AccountConfig, chain ChainReader, s signer.Signer) (*Account, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid account config: %w", err)
	}
	if chain == nil {
		return nil, ErrMissingChain
	}
	if cfg.Type == aa.WebAuthn {
		s = nil
	} else if s == nil {
		return nil, ErrMissingSigner
	}
	if cfg.Version == "" {
		cfg.Version = aa.DefaultVersion(cfg.Type)
	}

	deployment, err := aa.DefaultDeployment(cfg.Type, cfg.Version)
	if err != nil {
		return nil, err
	}
	ep, err := entrypoint.NewDefinition(deployment.EntryPoint, cfg.EntryPoint)
	if err != nil {
		return nil, err
	}

	owners := cfg.Owners
	if len(owners) == 0 && s != nil {
		owners = []common.Address{s.Address()}
	}
	params := cfg.predictParams(owners)

	factoryArgs, err := aa.FactoryData(params)
	if err != nil {
		return nil, err
	}

	address := cfg.AccountAddress
	if address == (common.Address{}) && !cfg.ResolveViaEntryPoint {
		if address, err = aa.PredictAddress(params); err != nil {
			return nil, err
		}
	}

	resolver, err := aa.NewResolver(aa.ResolverConfig{
		Chain:        chain,
		ChainID:      cfg.ChainID,
		EntryPoint:   ep.Address,
		Address:      address,
		FactoryArgs:  factoryArgs,
		Cache:        cfg.Cache,
		Logger:       cfg.Logger,
		OnCodeLookup: cfg.OnCodeLookup,
	})
	if err != nil {
		return nil, err
	}
	if cfg.ResolveViaEntryPoint && address == (common.Address{}) {
		if _, err := resolver.GetAddress(ctx); err != nil {
			return nil, err
		}
	}

	a := &Account{
		AddressResolver: resolver,
		source:          cfg.Type,
		version:         cfg.Version,
		chainID:         new(big.Int).Set(cfg.ChainID),
		entryPoint:      ep,
		signer:          s,
		chain:           chain,
		hasFactory:      factoryArgs.Factory != (common.Address{}),
	}

	switch cfg.Type {
	case aa.LightAccount, aa.MultiOwnerLightAccount:
		a.Executor = lightExecutor{version: cfg.Version}
		a.scheme = lightScheme{name: string(cfg.Type), version: cfg.Version}
	case aa.SMA, aa.MA, aa.WebAuthn, aa.SMA7702:
		entity := cfg.EntityID
		if cfg.Type == aa.SMA || cfg.Type == aa.SMA7702 {
			entity = maDefaultOwnerEntity
		}
		a.Executor = modularExecutor{}
		a.scheme = modularScheme{
			source:           cfg.Type,
			entityID:         entity,
			globalValidation: !cfg.DisableGlobalValidation,
		}
	default:
		// DefaultDeployment already rejected unknown types
		return nil, fmt.Errorf("%w: %q", aa.ErrUnknownAccountType, cfg.Type)
	}
	return a, nil
}
