package client

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/aa-sdk-go/pkg/eip1559"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/account"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/paymaster"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

// MiddlewareArgs is what every middleware sees besides the operation.
type MiddlewareArgs struct {
	Account    account.SmartContractAccount
	Overrides  *Overrides
	FeeOptions *FeeOptions
}

// Middleware fills or adjusts fields of op in place.
type Middleware func(ctx context.Context, op *userop.UserOperation, args *MiddlewareArgs) error

// Middlewares run in field order. A nil entry selects the client default.
type Middlewares struct {
	DummyPaymasterAndData Middleware
	FeeEstimator          Middleware
	GasEstimator          Middleware
	Custom                Middleware
	PaymasterAndData      Middleware
}

// Noop leaves the operation untouched.
func Noop(context.Context, *userop.UserOperation, *MiddlewareArgs) error {
	return nil
}

// sponsored reports whether the gas manager fills gas and fees for this call.
func (c *Client) sponsored(args *MiddlewareArgs) bool {
	return c.paymaster != nil && !args.Overrides.BypassPaymaster()
}

func (c *Client) dummyPaymasterAndData(ctx context.Context, op *userop.UserOperation, args *MiddlewareArgs) error {
	o := args.Overrides
	if o.BypassPaymaster() {
		if op.Version == userop.V06 {
			op.PaymasterAndData = common.CopyBytes(o.PaymasterAndData)
			return nil
		}
		if o.Paymaster != nil {
			p := *o.Paymaster
			op.Paymaster = &p
		}
		op.PaymasterData = common.CopyBytes(o.PaymasterData)
		return nil
	}
	if op.Version == userop.V06 && op.PaymasterAndData == nil {
		op.PaymasterAndData = []byte{}
	}
	return nil
}

func (c *Client) estimateFees(ctx context.Context, op *userop.UserOperation, args *MiddlewareArgs) error {
	if c.sponsored(args) || c.feeReader == nil {
		return nil
	}
	opts := c.feeOpts
	if c.bundlerTip && opts.Tip == nil {
		opts.Tip = c.bundler.MaxPriorityFeePerGas
	}
	maxFee, tip, err := eip1559.SuggestFeeWith(ctx, c.feeReader, opts)
	if err != nil {
		return fmt.Errorf("fee estimation for %s failed: %w", op.Sender.Hex(), err)
	}
	op.MaxFeePerGas = maxFee
	op.MaxPriorityFeePerGas = tip
	return nil
}

func (c *Client) estimateGas(ctx context.Context, op *userop.UserOperation, args *MiddlewareArgs) error {
	if c.sponsored(args) || allGasLiteral(args.Overrides) {
		return nil
	}
	ep := args.Account.EntryPoint()
	estimate, err := c.bundler.EstimateUserOperationGas(ctx, op, ep.Address, args.Overrides.StateOverride)
	if err != nil {
		return fmt.Errorf("gas estimation for %s failed: %w", op.Sender.Hex(), err)
	}
	op.PreVerificationGas = estimate.PreVerificationGas
	op.VerificationGasLimit = estimate.VerificationGasLimit
	op.CallGasLimit = estimate.CallGasLimit

	if op.Version == userop.V07 && op.Paymaster != nil {
		op.PaymasterVerificationGasLimit = userop.BigOrZero(estimate.PaymasterVerificationGasLimit)
		// bundlers that do not simulate postOp omit it, keep the caller's value
		if estimate.PaymasterPostOpGasLimit != nil {
			op.PaymasterPostOpGasLimit = estimate.PaymasterPostOpGasLimit
		} else {
			op.PaymasterPostOpGasLimit = userop.BigOrZero(op.PaymasterPostOpGasLimit)
		}
	}
	return nil
}

// overrides applies caller overrides and fee options on top of the estimates.
// Sponsored calls forward them to the gas manager instead.
func (c *Client) overrides(ctx context.Context, op *userop.UserOperation, args *MiddlewareArgs) error {
	if c.sponsored(args) {
		return nil
	}
	return applyOverrides(op, args.Overrides, args.FeeOptions)
}

func (c *Client) requestPaymaster(ctx context.Context, op *userop.UserOperation, args *MiddlewareArgs) error {
	if !c.sponsored(args) {
		return nil
	}
	resp, err := c.paymaster.RequestGasAndPaymasterAndData(ctx, paymaster.Request{
		EntryPoint:     args.Account.EntryPoint().Address,
		DummySignature: args.Account.GetDummySignature(),
		UserOperation:  op,
		Overrides:      gasManagerOverrides(op.Version, args.Overrides, args.FeeOptions),
	})
	if err != nil {
		return fmt.Errorf("paymaster sponsorship for %s failed: %w", op.Sender.Hex(), err)
	}
	resp.Apply(op)
	return nil
}
