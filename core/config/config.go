package config

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v2"

	"github.com/Layr-Labs/eigensdk-go/chainio/clients/eth"
	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	sdkmetrics "github.com/Layr-Labs/eigensdk-go/metrics"
	rpccalls "github.com/Layr-Labs/eigensdk-go/metrics/collectors/rpc_calls"

	"github.com/AvaProtocol/aa-sdk-go/core/chainio/aa"
	"github.com/AvaProtocol/aa-sdk-go/core/chainio/signer"
	"github.com/AvaProtocol/aa-sdk-go/metrics"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/bundler"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/paymaster"
	aalogger "github.com/AvaProtocol/aa-sdk-go/pkg/logger"
)

const AppName = "aa-sdk"

// Config is the resolved runtime configuration the cli builds accounts and
// clients from.
type Config struct {
	Logger sdklogging.Logger

	EthRpcUrl string
	EthClient eth.Client
	ChainID   *big.Int

	BundlerUrl    string
	BundlerClient *bundler.BundlerClient
	BundlerTip    bool
	// nil when no paymaster is configured
	Paymaster *paymaster.GasManager

	Signer  *signer.LocalSigner
	Account AccountRaw

	JournalPath    string
	ReceiptTimeout time.Duration
	MaxRetries     int

	// Registry and Metrics are nil unless metrics_ip_port_address is set.
	EigenMetricsIpPortAddress string
	Registry                  *prometheus.Registry
	EigenMetrics              *sdkmetrics.EigenMetrics
	Metrics                   *metrics.AASdkMetrics
}

// These are read from the yaml config file
type ConfigRaw struct {
	Environment sdklogging.LogLevel `yaml:"environment" validate:"omitempty,oneof=production development"`

	EthRpcUrl  string `yaml:"eth_rpc_url" validate:"required,url"`
	ChainID    int64  `yaml:"chain_id" validate:"gte=0"`
	BundlerUrl string `yaml:"bundler_url" validate:"required,url"`
	BundlerTip bool   `yaml:"bundler_tip"`

	Paymaster PaymasterRaw `yaml:"paymaster"`

	// Either a hex private key or a BIP-39 mnemonic, ${VAR} is expanded from
	// the environment.
	EcdsaPrivateKey string `yaml:"ecdsa_private_key" validate:"required_without=Mnemonic"`
	Mnemonic        string `yaml:"mnemonic" validate:"required_without=EcdsaPrivateKey"`
	DerivationPath  string `yaml:"derivation_path"`

	Account AccountRaw `yaml:"account"`

	JournalPath               string `yaml:"journal_path"`
	ReceiptTimeout            string `yaml:"receipt_timeout"`
	MaxRetries                int    `yaml:"max_retries" validate:"gte=0"`
	EigenMetricsIpPortAddress string `yaml:"metrics_ip_port_address" validate:"omitempty,hostname_port"`
}

type PaymasterRaw struct {
	Url      string `yaml:"url" validate:"omitempty,url"`
	PolicyID string `yaml:"policy_id" validate:"required_with=Url"`
}

type AccountRaw struct {
	Type           string   `yaml:"type" validate:"required"`
	Version        string   `yaml:"version"`
	Salt           string   `yaml:"salt" validate:"omitempty,number"`
	EntityID       uint32   `yaml:"entity_id"`
	Owners         []string `yaml:"owners" validate:"dive,eth_addr"`
	FactoryAddress string   `yaml:"factory_address" validate:"omitempty,eth_addr"`
	AccountAddress string   `yaml:"account_address" validate:"omitempty,eth_addr"`
	EntryPoint     string   `yaml:"entrypoint" validate:"omitempty,eth_addr"`
}

var validate = validator.New()

// ReadConfigRaw parses and validates the yaml file at path.
func ReadConfigRaw(path string) (*ConfigRaw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	var raw ConfigRaw
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	if raw.Environment == "" {
		raw.Environment = sdklogging.Development
	}
	if err := validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &raw, nil
}

// NewConfig reads path and dials the rpc endpoints. The chain id is fetched
// from the node when chain_id is 0.
func NewConfig(ctx context.Context, path string) (*Config, error) {
	raw, err := ReadConfigRaw(path)
	if err != nil {
		return nil, err
	}

	logger, err := aalogger.New(raw.Environment)
	if err != nil {
		return nil, err
	}

	c := &Config{
		Logger:                    logger,
		EthRpcUrl:                 raw.EthRpcUrl,
		BundlerUrl:                raw.BundlerUrl,
		BundlerTip:                raw.BundlerTip,
		Account:                   raw.Account,
		JournalPath:               raw.JournalPath,
		MaxRetries:                raw.MaxRetries,
		EigenMetricsIpPortAddress: raw.EigenMetricsIpPortAddress,
	}

	if raw.ReceiptTimeout != "" {
		if c.ReceiptTimeout, err = time.ParseDuration(raw.ReceiptTimeout); err != nil {
			return nil, fmt.Errorf("invalid receipt_timeout %q: %w", raw.ReceiptTimeout, err)
		}
	}

	if c.EigenMetricsIpPortAddress != "" {
		c.Registry = prometheus.NewRegistry()
		c.EigenMetrics = sdkmetrics.NewEigenMetrics(AppName, c.EigenMetricsIpPortAddress, c.Registry, logger)
		c.Metrics = metrics.NewAASdkMetrics(c.EigenMetrics, c.Registry)

		rpcCallsCollector := rpccalls.NewCollector(AppName, c.Registry)
		c.EthClient, err = eth.NewInstrumentedClient(raw.EthRpcUrl, rpcCallsCollector)
	} else {
		c.EthClient, err = eth.NewClient(raw.EthRpcUrl)
	}
	if err != nil {
		logger.Errorf("Cannot create http ethclient", "err", err)
		return nil, err
	}

	if raw.ChainID > 0 {
		c.ChainID = big.NewInt(raw.ChainID)
	} else {
		if c.ChainID, err = c.EthClient.ChainID(ctx); err != nil {
			logger.Error("Cannot get chainId", "err", err)
			return nil, err
		}
	}

	if c.BundlerClient, err = bundler.NewBundlerClient(raw.BundlerUrl, logger); err != nil {
		logger.Error("Cannot create bundler client", "url", raw.BundlerUrl, "err", err)
		return nil, err
	}

	if raw.Paymaster.Url != "" {
		c.Paymaster = paymaster.NewGasManager(raw.Paymaster.Url, raw.Paymaster.PolicyID, logger)
	}

	if c.Signer, err = newSigner(raw); err != nil {
		logger.Error("Cannot load signer", "err", err)
		return nil, err
	}

	logger.Info("Loaded config",
		"chainId", c.ChainID,
		"signer", c.Signer.Address().Hex(),
		"accountType", raw.Account.Type,
		"paymaster", c.Paymaster != nil,
	)
	return c, nil
}

func newSigner(raw *ConfigRaw) (*signer.LocalSigner, error) {
	if raw.EcdsaPrivateKey != "" {
		return signer.FromPrivateKeyHex(raw.EcdsaPrivateKey)
	}
	return signer.FromMnemonic(raw.Mnemonic, raw.DerivationPath)
}

func (a AccountRaw) AccountType() aa.AccountType {
	return aa.AccountType(a.Type)
}

func (a AccountRaw) SaltBig() *big.Int {
	if a.Salt == "" {
		return nil
	}
	salt, ok := new(big.Int).SetString(a.Salt, 10)
	if !ok {
		return nil
	}
	return salt
}

func (a AccountRaw) OwnerAddresses() []common.Address {
	return convertToAddressSlice(a.Owners)
}

func (c *Config) Close() {
	if c.BundlerClient != nil {
		c.BundlerClient.Close()
	}
}
