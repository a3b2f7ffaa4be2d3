package client

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

func TestMultiplyBig(t *testing.T) {
	tests := []struct {
		v       int64
		m       float64
		want    int64
		wantErr bool
	}{
		{100, 1.1, 110, false},
		{100_001, 1.5, 150_002, false},
		{3, 0.3333, 1, false},
		{7, 1, 7, false},
		{10, 1.00001, 0, true},
		{10, 0, 0, true},
		{10, -1.5, 0, true},
	}
	for _, tt := range tests {
		got, err := MultiplyBig(big.NewInt(tt.v), tt.m)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidMultiplier, "%d x %v", tt.v, tt.m)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Int64(), "%d x %v", tt.v, tt.m)
	}
}

func TestApplyOverrideOrFeeOption(t *testing.T) {
	est := big.NewInt(1000)
	tests := []struct {
		name  string
		value *big.Int
		o     *Override
		f     *FeeOption
		want  *big.Int
	}{
		{"nothing set keeps value", est, nil, nil, est},
		{"literal", est, Literal(big.NewInt(5)), nil, big.NewInt(5)},
		{"multiplier", est, Multiply(1.25), nil, big.NewInt(1250)},
		{"override beats option", est, Multiply(2), &FeeOption{Max: big.NewInt(1)}, big.NewInt(2000)},
		{"option multiplier", est, nil, &FeeOption{Multiplier: 1.5}, big.NewInt(1500)},
		{"option min", est, nil, &FeeOption{Min: big.NewInt(5000)}, big.NewInt(5000)},
		{"option max after multiplier", est, nil, &FeeOption{Multiplier: 3, Max: big.NewInt(2500)}, big.NewInt(2500)},
		{"missing value takes min", nil, nil, &FeeOption{Min: big.NewInt(9)}, big.NewInt(9)},
		{"missing value without min is zero", nil, nil, &FeeOption{Multiplier: 2}, big.NewInt(0)},
		{"multiplier on missing value", nil, Multiply(2), nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyOverrideOrFeeOption(tt.value, tt.o, tt.f)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
	assert.Equal(t, int64(1000), est.Int64(), "estimate is not mutated")
}

func TestOverrides_BypassPaymaster(t *testing.T) {
	var nilOverrides *Overrides
	assert.False(t, nilOverrides.BypassPaymaster())
	assert.False(t, (&Overrides{CallGasLimit: Multiply(2)}).BypassPaymaster())
	assert.True(t, (&Overrides{PaymasterAndData: []byte{}}).BypassPaymaster(), "empty data opts out of sponsorship")
	assert.True(t, (&Overrides{PaymasterData: []byte{1}}).BypassPaymaster())
	pm := common.HexToAddress("0x01")
	assert.True(t, (&Overrides{Paymaster: &pm}).BypassPaymaster())
}

func TestGasManagerOverrides(t *testing.T) {
	o := &Overrides{
		MaxFeePerGas:            Literal(big.NewInt(16)),
		CallGasLimit:            Multiply(1.5),
		PaymasterPostOpGasLimit: Multiply(2),
	}
	f := &FeeOptions{CallGasLimit: &FeeOption{Multiplier: 9}, PreVerificationGas: &FeeOption{Min: big.NewInt(1)}}

	got := gasManagerOverrides(userop.V06, o, f)
	assert.Equal(t, (*hexutil.Big)(big.NewInt(16)), got["maxFeePerGas"])
	assert.Equal(t, map[string]any{"multiplier": 1.5}, got["callGasLimit"])
	assert.NotContains(t, got, "preVerificationGas", "only multipliers are forwarded")
	assert.NotContains(t, got, "paymasterPostOpGasLimit", "v0.7 field")

	got = gasManagerOverrides(userop.V07, o, f)
	assert.Contains(t, got, "paymasterPostOpGasLimit")

	assert.Nil(t, gasManagerOverrides(userop.V07, &Overrides{}, nil))
}

func TestDefaultBackoff(t *testing.T) {
	policy := DefaultBackoff(fixedJitter)
	assert.Equal(t, 2050*time.Millisecond, policy(0))
	assert.Equal(t, 3050*time.Millisecond, policy(1))
	assert.Equal(t, 4550*time.Millisecond, policy(2))

	random := DefaultBackoff(nil)
	for i := 0; i < 20; i++ {
		d := random(0)
		assert.GreaterOrEqual(t, d, DefaultPollInterval)
		assert.Less(t, d, DefaultPollInterval+DefaultMaxJitter)
	}
}

func TestPolicyBackOffReset(t *testing.T) {
	b := &policyBackOff{policy: DefaultBackoff(fixedJitter)}
	b.NextBackOff()
	assert.Equal(t, 3050*time.Millisecond, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 2050*time.Millisecond, b.NextBackOff())
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateBuilding.CanTransition(StateSigning))
	assert.True(t, StateSent.CanTransition(StateWaitingForReceipt))
	assert.True(t, StateWaitingForReceipt.CanTransition(StateConfirmed))
	assert.True(t, StateSigning.CanTransition(StateFailed))
	assert.False(t, StateBuilding.CanTransition(StateSent), "no skipping")
	assert.False(t, StateConfirmed.CanTransition(StateFailed), "terminal")
	assert.False(t, StateFailed.CanTransition(StateBuilding))
	assert.Equal(t, "waiting_for_receipt", StateWaitingForReceipt.String())
	assert.Equal(t, "unknown", State(42).String())
}
