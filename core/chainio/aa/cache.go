package aa

import (
	"context"
	"math/big"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/aa-sdk-go/pkg/logger"
)

// DeployedCache remembers accounts already observed deployed so that fresh
// account instances for the same sender skip the code lookup. Entries are only
// ever added: a deployed contract does not become undeployed.
type DeployedCache interface {
	IsDeployed(chainID *big.Int, account common.Address) bool
	MarkDeployed(chainID *big.Int, account common.Address)
}

// entryStore is the part of *bigcache.BigCache the deployed cache uses.
type entryStore interface {
	Get(key string) ([]byte, error)
	Set(key string, entry []byte) error
}

type bigDeployedCache struct {
	cache  entryStore
	logger logger.Logger
}

// NewDeployedCache returns a DeployedCache backed by bigcache. lifeWindow
// bounds memory for processes that touch many accounts, zero means a day.
func NewDeployedCache(ctx context.Context, lifeWindow time.Duration, log logger.Logger) (DeployedCache, error) {
	if lifeWindow <= 0 {
		lifeWindow = 24 * time.Hour
	}
	cache, err := bigcache.New(ctx, bigcache.Config{
		// number of shards (must be a power of 2)
		Shards:             256,
		LifeWindow:         lifeWindow,
		CleanWindow:        5 * time.Minute,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       1,
	})
	if err != nil {
		return nil, err
	}
	return &bigDeployedCache{cache: cache, logger: logger.EnsureLogger(log)}, nil
}

func deployedKey(chainID *big.Int, account common.Address) string {
	if chainID == nil {
		return account.Hex()
	}
	return chainID.String() + ":" + account.Hex()
}

func (c *bigDeployedCache) IsDeployed(chainID *big.Int, account common.Address) bool {
	_, err := c.cache.Get(deployedKey(chainID, account))
	return err == nil
}

// MarkDeployed is best effort, a lost entry only costs one more code lookup.
func (c *bigDeployedCache) MarkDeployed(chainID *big.Int, account common.Address) {
	key := deployedKey(chainID, account)
	if err := c.cache.Set(key, []byte{1}); err != nil {
		c.logger.Debug("cannot cache deployed account", "key", key, "error", err)
	}
}
