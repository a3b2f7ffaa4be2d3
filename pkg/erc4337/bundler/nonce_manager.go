package bundler

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/aa-sdk-go/pkg/logger"
)

// NonceManager manages nonce tracking for UserOperations to prevent conflicts
// with pending operations in the bundler's mempool.
// It maintains an in-memory cache of the next expected nonce per sender,
// combining on-chain state with knowledge of submitted-but-not-yet-mined UserOps.
type NonceManager struct {
	// Key: sender address, Value: next nonce to use
	pendingNonces map[common.Address]*big.Int
	mu            sync.RWMutex
	logger        logger.Logger
}

func NewNonceManager(log logger.Logger) *NonceManager {
	return &NonceManager{
		pendingNonces: make(map[common.Address]*big.Int),
		logger:        logger.EnsureLogger(log),
	}
}

// GetNextNonce returns max(on-chain nonce, cached pending nonce), so a nonce
// already pending in the bundler is never reused.
func (nm *NonceManager) GetNextNonce(
	sender common.Address,
	onChainNonceFetcher func() (*big.Int, error),
) (*big.Int, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	onChainNonce, err := onChainNonceFetcher()
	if err != nil {
		return nil, err
	}

	cachedNonce, hasCached := nm.pendingNonces[sender]
	switch {
	case !hasCached:
		nm.logger.Debug("nonce manager: first operation for sender", "sender", sender.Hex(), "nonce", onChainNonce.String())
		return new(big.Int).Set(onChainNonce), nil
	case onChainNonce.Cmp(cachedNonce) > 0:
		// pending operations were mined or dropped
		nm.logger.Debug("nonce manager: on-chain nonce ahead of cache",
			"sender", sender.Hex(), "onChain", onChainNonce.String(), "cached", cachedNonce.String())
		return new(big.Int).Set(onChainNonce), nil
	default:
		nm.logger.Debug("nonce manager: using cached nonce",
			"sender", sender.Hex(), "onChain", onChainNonce.String(), "cached", cachedNonce.String())
		return new(big.Int).Set(cachedNonce), nil
	}
}

// IncrementNonce records that currentNonce was submitted, so sequential
// operations use nonce+1, nonce+2 before the first is mined.
func (nm *NonceManager) IncrementNonce(sender common.Address, currentNonce *big.Int) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nextNonce := new(big.Int).Add(currentNonce, big.NewInt(1))
	nm.pendingNonces[sender] = nextNonce

	nm.logger.Debug("nonce manager: incremented", "sender", sender.Hex(), "from", currentNonce.String(), "to", nextNonce.String())
}

// ResetNonce clears the cached nonce for a sender, forcing the next GetNextNonce
// to use fresh state from the chain. Use this when nonce conflicts occur.
func (nm *NonceManager) ResetNonce(sender common.Address) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	delete(nm.pendingNonces, sender)
	nm.logger.Debug("nonce manager: reset", "sender", sender.Hex())
}

// SetNonce explicitly sets the cached nonce for a sender.
func (nm *NonceManager) SetNonce(sender common.Address, nonce *big.Int) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.pendingNonces[sender] = new(big.Int).Set(nonce)
	nm.logger.Debug("nonce manager: set", "sender", sender.Hex(), "nonce", nonce.String())
}

// GetCachedNonce returns the cached nonce for a sender without fetching from chain.
func (nm *NonceManager) GetCachedNonce(sender common.Address) (*big.Int, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	nonce, exists := nm.pendingNonces[sender]
	if !exists {
		return nil, false
	}
	return new(big.Int).Set(nonce), true
}
