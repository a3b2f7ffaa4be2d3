// Package client drives user operations of one smart account through build,
// sign, send and receipt polling against an ERC-4337 bundler.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/aa-sdk-go/pkg/eip1559"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/account"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/bundler"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/paymaster"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
	"github.com/AvaProtocol/aa-sdk-go/pkg/logger"
)

// Bundler is the bundler RPC surface the client uses. *bundler.BundlerClient
// implements it.
type Bundler interface {
	SendUserOperation(ctx context.Context, op *userop.UserOperation, entrypoint common.Address) (common.Hash, error)
	EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, entrypoint common.Address, override map[string]any) (*userop.GasEstimate, error)
	GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*userop.Receipt, error)
	MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error)
}

// Paymaster sponsors operations. *paymaster.GasManager implements it.
type Paymaster interface {
	RequestGasAndPaymasterAndData(ctx context.Context, req paymaster.Request) (*paymaster.Response, error)
}

// Observer receives lifecycle events, typically a metrics collector.
type Observer interface {
	StateChanged(state State)
	ReceiptPolled(found bool)
	BuildCompleted(d time.Duration)
}

// Journal persists sent operations so polling can resume elsewhere.
type Journal interface {
	Record(ctx context.Context, res *userop.Result) error
	UpdateState(ctx context.Context, hash common.Hash, state string) error
}

var (
	_ Bundler   = (*bundler.BundlerClient)(nil)
	_ Paymaster = (*paymaster.GasManager)(nil)
)

type Config struct {
	Account account.SmartContractAccount
	Bundler Bundler

	// FeeReader enables the default fee estimator. Without it fees must come
	// from overrides, fee options or the paymaster.
	FeeReader     eip1559.FeeReader
	FeeEstimation eip1559.Options
	// BundlerTip takes the priority fee from rundler_maxPriorityFeePerGas.
	BundlerTip bool
	FeeOptions *FeeOptions

	Paymaster   Paymaster
	Middlewares Middlewares

	NonceManager *bundler.NonceManager

	Backoff        BackoffPolicy
	MaxRetries     int
	ReceiptTimeout time.Duration
	// Timer drives the waits between receipt polls. Nil uses real time.
	Timer backoff.Timer

	Observer Observer
	Journal  Journal
	Logger   logger.Logger
}

// Client is a SmartAccountClient bound to one account.
type Client struct {
	account    account.SmartContractAccount
	bundler    Bundler
	feeReader  eip1559.FeeReader
	feeOpts    eip1559.Options
	bundlerTip bool
	feeOptions *FeeOptions
	paymaster  Paymaster
	mw         Middlewares

	nonces *bundler.NonceManager
	// nonces handed out by the NonceManager and not yet sent, per sender
	managed   map[common.Address]*big.Int
	managedMu sync.Mutex

	backoff        BackoffPolicy
	maxRetries     int
	receiptTimeout time.Duration
	timer          backoff.Timer

	observer Observer
	journal  Journal
	logger   logger.Logger
	now      func() time.Time
}

func New(cfg Config) (*Client, error) {
	if cfg.Account == nil {
		return nil, ErrMissingAccount
	}
	if cfg.Bundler == nil {
		return nil, ErrMissingBundler
	}

	c := &Client{
		account:        cfg.Account,
		bundler:        cfg.Bundler,
		feeReader:      cfg.FeeReader,
		feeOpts:        cfg.FeeEstimation,
		bundlerTip:     cfg.BundlerTip,
		feeOptions:     cfg.FeeOptions,
		paymaster:      cfg.Paymaster,
		nonces:         cfg.NonceManager,
		managed:        make(map[common.Address]*big.Int),
		backoff:        cfg.Backoff,
		maxRetries:     cfg.MaxRetries,
		receiptTimeout: cfg.ReceiptTimeout,
		timer:          cfg.Timer,
		observer:       cfg.Observer,
		journal:        cfg.Journal,
		logger:         logger.EnsureLogger(cfg.Logger),
		now:            time.Now,
	}
	if c.backoff == nil {
		c.backoff = DefaultBackoff(nil)
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.receiptTimeout <= 0 {
		c.receiptTimeout = DefaultReceiptTimeout
	}
	if c.observer == nil {
		c.observer = noopObserver{}
	}

	c.mw = cfg.Middlewares
	if c.mw.DummyPaymasterAndData == nil {
		c.mw.DummyPaymasterAndData = c.dummyPaymasterAndData
	}
	if c.mw.FeeEstimator == nil {
		c.mw.FeeEstimator = c.estimateFees
	}
	if c.mw.GasEstimator == nil {
		c.mw.GasEstimator = c.estimateGas
	}
	if c.mw.Custom == nil {
		c.mw.Custom = Noop
	}
	if c.mw.PaymasterAndData == nil {
		c.mw.PaymasterAndData = c.requestPaymaster
	}
	return c, nil
}

func (c *Client) Account() account.SmartContractAccount {
	return c.account
}

// BuildUserOperation returns an unsigned, fully filled operation executing
// calls. A single call uses execute, several use executeBatch in order.
func (c *Client) BuildUserOperation(ctx context.Context, calls []userop.Call, overrides *Overrides) (*userop.UserOperation, error) {
	start := c.now()
	if overrides == nil {
		overrides = &Overrides{}
	}

	sender, err := c.account.GetAddress(ctx)
	if err != nil {
		return nil, err
	}
	callData, err := c.encodeCalls(calls)
	if err != nil {
		return nil, err
	}
	nonce, err := c.nonce(ctx, sender, overrides.NonceKey)
	if err != nil {
		return nil, err
	}

	op := &userop.UserOperation{
		Version:   c.account.EntryPoint().Version,
		Sender:    sender,
		Nonce:     nonce,
		CallData:  callData,
		Signature: c.account.GetDummySignature(),
	}
	if err := c.fillFactory(ctx, op); err != nil {
		return nil, err
	}
	if err := c.runMiddleware(ctx, op, overrides); err != nil {
		return nil, err
	}

	c.observer.BuildCompleted(c.now().Sub(start))
	return op, nil
}

func (c *Client) encodeCalls(calls []userop.Call) ([]byte, error) {
	switch len(calls) {
	case 0:
		return nil, ErrNoCalls
	case 1:
		return c.account.EncodeExecute(calls[0])
	}
	return c.account.EncodeExecuteBatch(calls)
}

// nonce uses the NonceManager for the default key only; other keys are
// independent lanes it does not track.
func (c *Client) nonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error) {
	fetch := func() (*big.Int, error) {
		return c.account.GetNonce(ctx, key)
	}
	if c.nonces == nil || key != nil {
		return fetch()
	}
	n, err := c.nonces.GetNextNonce(sender, fetch)
	if err != nil {
		return nil, err
	}
	c.managedMu.Lock()
	c.managed[sender] = new(big.Int).Set(n)
	c.managedMu.Unlock()
	return n, nil
}

func (c *Client) fillFactory(ctx context.Context, op *userop.UserOperation) error {
	if op.Version == userop.V06 {
		initCode, err := c.account.GetInitCode(ctx)
		if err != nil {
			return err
		}
		op.InitCode = initCode
		return nil
	}

	args, err := c.account.GetFactoryArgs(ctx)
	if err != nil {
		return err
	}
	if args.Factory != (common.Address{}) {
		factory := args.Factory
		op.Factory = &factory
		op.FactoryData = common.CopyBytes(args.FactoryData)
	}
	return nil
}

func (c *Client) runMiddleware(ctx context.Context, op *userop.UserOperation, overrides *Overrides) error {
	args := &MiddlewareArgs{
		Account:    c.account,
		Overrides:  overrides,
		FeeOptions: c.feeOptions,
	}
	steps := []struct {
		name string
		fn   Middleware
	}{
		{"dummyPaymasterAndData", c.mw.DummyPaymasterAndData},
		{"feeEstimator", c.mw.FeeEstimator},
		{"gasEstimator", c.mw.GasEstimator},
		{"overrides", c.overrides},
		{"custom", c.mw.Custom},
		{"paymasterAndData", c.mw.PaymasterAndData},
	}
	for _, step := range steps {
		if err := step.fn(ctx, op, args); err != nil {
			return fmt.Errorf("%s middleware: %w", step.name, err)
		}
	}

	if !op.IsFilled() {
		return fmt.Errorf("%w: sender %s nonce %s", ErrIncompleteUserOperation,
			op.Sender.Hex(), userop.BigOrZero(op.Nonce).String())
	}
	return nil
}

// SignUserOperation returns a copy of op carrying the account signature over
// its entry point hash.
func (c *Client) SignUserOperation(ctx context.Context, op *userop.UserOperation) (*userop.UserOperation, error) {
	if !op.IsFilled() {
		return nil, ErrIncompleteUserOperation
	}
	hash, err := c.account.EntryPoint().Hash(op, c.account.ChainID())
	if err != nil {
		return nil, err
	}
	sig, err := c.account.SignUserOperationHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign user operation %s: %w", hash.Hex(), err)
	}
	signed := op.Copy()
	signed.Signature = sig
	return signed, nil
}

// SendSignedUserOperation submits op to the bundler. A hash differing from the
// locally computed one is logged and the bundler's hash is returned.
func (c *Client) SendSignedUserOperation(ctx context.Context, op *userop.UserOperation) (*userop.Result, error) {
	ep := c.account.EntryPoint()
	local, err := ep.Hash(op, c.account.ChainID())
	if err != nil {
		return nil, err
	}

	hash, err := c.bundler.SendUserOperation(ctx, op, ep.Address)
	if err != nil {
		if c.nonces != nil && isNonceConflict(err) {
			c.logger.Warn("nonce conflict, refetching nonce on next build", "sender", op.Sender.Hex())
			c.nonces.ResetNonce(op.Sender)
		}
		return nil, fmt.Errorf("failed to send user operation %s: %w", local.Hex(), err)
	}
	if hash != local {
		c.logger.Warn("bundler returned an unexpected user operation hash",
			"expected", local.Hex(),
			"got", hash.Hex(),
			"sender", op.Sender.Hex(),
		)
	}
	c.advanceNonce(op)

	res := &userop.Result{Hash: hash, EntryPoint: ep.Address, Request: op}
	if c.journal != nil {
		if err := c.journal.Record(ctx, res); err != nil {
			c.logger.Warn("failed to journal user operation", "hash", hash.Hex(), "error", err)
		}
	}
	c.logger.Info("user operation sent", "hash", hash.Hex(), "sender", op.Sender.Hex(), "nonce", op.Nonce.String())
	return res, nil
}

func (c *Client) advanceNonce(op *userop.UserOperation) {
	if c.nonces == nil {
		return
	}
	c.managedMu.Lock()
	handed, ok := c.managed[op.Sender]
	if ok && handed.Cmp(op.Nonce) == 0 {
		delete(c.managed, op.Sender)
	} else {
		ok = false
	}
	c.managedMu.Unlock()
	if ok {
		c.nonces.IncrementNonce(op.Sender, op.Nonce)
	}
}

// SendUserOperation builds, signs and sends calls.
func (c *Client) SendUserOperation(ctx context.Context, calls []userop.Call, overrides *Overrides) (*userop.Result, error) {
	t := c.track()
	op, err := c.BuildUserOperation(ctx, calls, overrides)
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	return c.signAndSend(ctx, t, op)
}

func (c *Client) signAndSend(ctx context.Context, t *tracker, op *userop.UserOperation) (*userop.Result, error) {
	t.to(ctx, StateSigning)
	signed, err := c.SignUserOperation(ctx, op)
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	res, err := c.SendSignedUserOperation(ctx, signed)
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	t.hash = res.Hash
	t.to(ctx, StateSent)
	return res, nil
}

// SendAndWait sends calls and waits for the receipt. A receipt with
// success=false is returned together with ErrUserOperationReverted.
func (c *Client) SendAndWait(ctx context.Context, calls []userop.Call, overrides *Overrides) (*userop.Receipt, error) {
	t := c.track()
	op, err := c.BuildUserOperation(ctx, calls, overrides)
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	res, err := c.signAndSend(ctx, t, op)
	if err != nil {
		return nil, err
	}

	t.to(ctx, StateWaitingForReceipt)
	receipt, err := c.WaitForUserOperationReceipt(ctx, res.Hash)
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	if !receipt.Success {
		return receipt, t.fail(ctx, fmt.Errorf("%w: %s %s", ErrUserOperationReverted, res.Hash.Hex(), receipt.Reason))
	}
	t.to(ctx, StateConfirmed)
	return receipt, nil
}

// WaitForUserOperationReceipt polls the bundler for hash. The first poll is
// immediate; later ones follow the backoff policy until MaxRetries or the
// receipt timeout, which yield *UserOperationTimeoutError.
func (c *Client) WaitForUserOperationReceipt(ctx context.Context, hash common.Hash) (*userop.Receipt, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	var (
		start     = c.now()
		attempts  int
		lastErr   error
		permanent bool
	)
	poll := func() (*userop.Receipt, error) {
		attempts++
		receipt, err := c.bundler.GetUserOperationReceipt(pollCtx, hash)
		if err != nil {
			c.observer.ReceiptPolled(false)
			if isPermanent(err) {
				permanent = true
				return nil, backoff.Permanent(err)
			}
			lastErr = err
			return nil, err
		}
		if receipt == nil {
			c.observer.ReceiptPolled(false)
			return nil, errReceiptNotFound
		}
		c.observer.ReceiptPolled(true)
		return receipt, nil
	}
	notify := func(err error, next time.Duration) {
		c.logger.Debug("user operation receipt not ready",
			"hash", hash.Hex(),
			"attempt", attempts,
			"retryIn", next.String(),
			"error", err,
		)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&policyBackOff{policy: c.backoff}, uint64(c.maxRetries)),
		pollCtx,
	)
	receipt, err := backoff.RetryNotifyWithTimerAndData(poll, b, notify, c.timer)
	switch {
	case err == nil:
		c.logger.Info("user operation confirmed",
			"hash", hash.Hex(),
			"attempts", attempts,
			"tx", receipt.Receipt.TransactionHash.Hex(),
		)
		return receipt, nil
	case permanent:
		return nil, fmt.Errorf("receipt lookup for %s failed: %w", hash.Hex(), err)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return nil, err
	}
	return nil, &UserOperationTimeoutError{
		Hash:     hash,
		Attempts: attempts,
		Elapsed:  c.now().Sub(start),
		Cause:    lastErr,
	}
}

// DropAndReplaceUserOperation resubmits toDrop's sender, nonce and call data
// with fees raised to the current estimate or 110% of the old fees,
// whichever is higher, so the bundler replaces the pending operation.
func (c *Client) DropAndReplaceUserOperation(ctx context.Context, toDrop *userop.UserOperation, overrides *Overrides) (*userop.Result, error) {
	t := c.track()

	op := &userop.UserOperation{
		Version:     toDrop.Version,
		Sender:      toDrop.Sender,
		Nonce:       userop.BigOrZero(toDrop.Nonce),
		CallData:    common.CopyBytes(toDrop.CallData),
		InitCode:    common.CopyBytes(toDrop.InitCode),
		FactoryData: common.CopyBytes(toDrop.FactoryData),
		Signature:   c.account.GetDummySignature(),
	}
	if toDrop.Factory != nil {
		f := *toDrop.Factory
		op.Factory = &f
	}

	var ov Overrides
	if overrides != nil {
		ov = *overrides
	}
	estimate := op.Copy()
	if err := c.mw.FeeEstimator(ctx, estimate, &MiddlewareArgs{Account: c.account, Overrides: &ov, FeeOptions: c.feeOptions}); err != nil {
		return nil, t.fail(ctx, err)
	}
	maxFee, err := bumpFee(toDrop.MaxFeePerGas, estimate.MaxFeePerGas)
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	tip, err := bumpFee(toDrop.MaxPriorityFeePerGas, estimate.MaxPriorityFeePerGas)
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	ov.MaxFeePerGas = Literal(maxFee)
	ov.MaxPriorityFeePerGas = Literal(tip)

	if err := c.runMiddleware(ctx, op, &ov); err != nil {
		return nil, t.fail(ctx, err)
	}
	c.logger.Info("replacing user operation",
		"sender", op.Sender.Hex(),
		"nonce", op.Nonce.String(),
		"maxFeePerGas", maxFee.String(),
		"maxPriorityFeePerGas", tip.String(),
	)
	return c.signAndSend(ctx, t, op)
}

func bumpFee(old, current *big.Int) (*big.Int, error) {
	bumped, err := MultiplyBig(userop.BigOrZero(old), 1.1)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Cmp(bumped) > 0 {
		return new(big.Int).Set(current), nil
	}
	return bumped, nil
}

// tracker walks one operation through its states.
type tracker struct {
	c     *Client
	state State
	hash  common.Hash
}

func (c *Client) track() *tracker {
	t := &tracker{c: c, state: StateBuilding}
	c.observer.StateChanged(StateBuilding)
	return t
}

func (t *tracker) to(ctx context.Context, s State) {
	if !t.state.CanTransition(s) {
		t.c.logger.Warn("invalid user operation state transition", "from", t.state.String(), "to", s.String())
		return
	}
	t.state = s
	t.c.observer.StateChanged(s)
	t.c.logger.Debug("user operation state", "state", s.String(), "hash", t.hash.Hex())

	if t.c.journal != nil && t.hash != (common.Hash{}) {
		if err := t.c.journal.UpdateState(ctx, t.hash, s.String()); err != nil {
			t.c.logger.Warn("failed to journal user operation state", "hash", t.hash.Hex(), "error", err)
		}
	}
}

func (t *tracker) fail(ctx context.Context, err error) error {
	t.to(ctx, StateFailed)
	return err
}

type noopObserver struct{}

func (noopObserver) StateChanged(State)           {}
func (noopObserver) ReceiptPolled(bool)           {}
func (noopObserver) BuildCompleted(time.Duration) {}
