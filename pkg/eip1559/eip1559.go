package eip1559

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// Minimum tip of 2 gwei for bundler profitability
	DefaultMinTip = big.NewInt(2_000_000_000)
	// Minimum maxFeePerGas of 20 gwei for high-basefee chains like Base
	DefaultMinMaxFee = big.NewInt(20_000_000_000)
)

// FeeReader is the subset of ethclient.Client fee suggestion needs.
type FeeReader interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// TipSource overrides where the priority fee comes from, e.g. a rundler
// bundler's rundler_maxPriorityFeePerGas.
type TipSource func(ctx context.Context) (*big.Int, error)

// Options tunes SuggestFeeWith. Nil minimums select the defaults, a zero
// minimum disables the floor.
type Options struct {
	Tip       TipSource
	MinTip    *big.Int
	MinMaxFee *big.Int
}

// SuggestFee returns maxFeePerGas and maxPriorityFeePerGas with the default floors.
func SuggestFee(ctx context.Context, client FeeReader) (*big.Int, *big.Int, error) {
	return SuggestFeeWith(ctx, client, Options{})
}

func SuggestFeeWith(ctx context.Context, client FeeReader, opts Options) (*big.Int, *big.Int, error) {
	tipSource := opts.Tip
	if tipSource == nil {
		tipSource = client.SuggestGasTipCap
	}
	minTip := opts.MinTip
	if minTip == nil {
		minTip = DefaultMinTip
	}
	minMaxFee := opts.MinMaxFee
	if minMaxFee == nil {
		minMaxFee = DefaultMinMaxFee
	}

	tipCap, err := tipSource(ctx)
	if err != nil {
		return nil, nil, err
	}

	// Estimate base fee for the next block
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}

	// Add 13% buffer to tip for safety
	buffer := new(big.Int).Div(tipCap, big.NewInt(100))
	buffer = new(big.Int).Mul(buffer, big.NewInt(13))
	maxPriorityFeePerGas := new(big.Int).Add(tipCap, buffer)

	if maxPriorityFeePerGas.Cmp(minTip) < 0 {
		maxPriorityFeePerGas = new(big.Int).Set(minTip)
	}

	var maxFeePerGas *big.Int

	baseFee := header.BaseFee
	if baseFee != nil {
		// EIP-1559: maxFeePerGas must be >= baseFee + maxPriorityFeePerGas
		// Use 2x baseFee for headroom to handle baseFee increases between blocks
		maxFeePerGas = new(big.Int).Add(
			new(big.Int).Mul(baseFee, big.NewInt(2)),
			maxPriorityFeePerGas,
		)

		if maxFeePerGas.Cmp(minMaxFee) < 0 {
			maxFeePerGas = new(big.Int).Set(minMaxFee)
		}
	} else {
		// Legacy (pre-EIP-1559) chain - use maxPriorityFeePerGas as maxFeePerGas
		maxFeePerGas = new(big.Int).Set(maxPriorityFeePerGas)
	}

	return maxFeePerGas, maxPriorityFeePerGas, nil
}
