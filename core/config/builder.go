package config

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/aa-sdk-go/core/chainio/aa"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/account"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/bundler"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/client"
)

// AccountConfig turns the account section into an account.AccountConfig.
// cache may be nil.
func (c *Config) AccountConfig(cache aa.DeployedCache) account.AccountConfig {
	cfg := account.AccountConfig{
		Type:           c.Account.AccountType(),
		Version:        c.Account.Version,
		ChainID:        c.ChainID,
		Owners:         c.Account.OwnerAddresses(),
		Salt:           c.Account.SaltBig(),
		EntityID:       c.Account.EntityID,
		FactoryAddress: common.HexToAddress(c.Account.FactoryAddress),
		AccountAddress: common.HexToAddress(c.Account.AccountAddress),
		EntryPoint:     common.HexToAddress(c.Account.EntryPoint),
		Cache:          cache,
		Logger:         c.Logger,
	}
	if c.Metrics != nil {
		cfg.OnCodeLookup = c.Metrics.CodeLookup
	}
	return cfg
}

// NewAccount builds the configured smart account over the eth client.
func (c *Config) NewAccount(ctx context.Context) (*account.Account, error) {
	cache, err := aa.NewDeployedCache(ctx, 24*time.Hour, c.Logger)
	if err != nil {
		return nil, err
	}
	return account.New(ctx, c.AccountConfig(cache), c.EthClient, c.Signer)
}

// NewClient builds a SmartAccountClient for acct. journal may be nil.
func (c *Config) NewClient(acct account.SmartContractAccount, journal client.Journal) (*client.Client, error) {
	cfg := client.Config{
		Account:        acct,
		Bundler:        c.BundlerClient,
		FeeReader:      c.EthClient,
		BundlerTip:     c.BundlerTip,
		NonceManager:   bundler.NewNonceManager(c.Logger),
		MaxRetries:     c.MaxRetries,
		ReceiptTimeout: c.ReceiptTimeout,
		Journal:        journal,
		Logger:         c.Logger,
	}
	if c.Paymaster != nil {
		cfg.Paymaster = c.Paymaster
	}
	if c.Metrics != nil {
		cfg.Observer = c.Metrics
	}
	return client.New(cfg)
}
