package userop

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "0.6", want: V06},
		{in: "0.6.0", want: V06},
		{in: "v0.7", want: V07},
		{in: " 0.7.0 ", want: V07},
		{in: "0.8", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarshalV07OmitsEmptyPaymaster(t *testing.T) {
	op := &UserOperation{
		Version:  V07,
		Sender:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:    big.NewInt(1),
		CallData: common.FromHex("0xdeadbeef"),
	}

	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.NotContains(t, m, "paymaster")
	assert.NotContains(t, m, "paymasterData")
	assert.NotContains(t, m, "factory")
	assert.Equal(t, "0x0", m["callGasLimit"], "unset quantities are sent as zero")
	assert.Equal(t, "0x1", m["nonce"])
	assert.Equal(t, "0xdeadbeef", m["callData"])
}

func TestMarshalV06KeepsAllKeys(t *testing.T) {
	op := &UserOperation{
		Version: V06,
		Sender:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}

	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "0x", m["initCode"])
	assert.Equal(t, "0x", m["paymasterAndData"])
	assert.Len(t, m, 11)
}

func TestUnmarshalNormalizesQuantities(t *testing.T) {
	input := `{
		"sender": "0x1111111111111111111111111111111111111111",
		"nonce": "0x0001",
		"callData": "0x",
		"callGasLimit": "21000",
		"verificationGasLimit": 100000,
		"preVerificationGas": "0xc350",
		"maxFeePerGas": "0x3b9aca00",
		"maxPriorityFeePerGas": "0x3b9aca00",
		"paymaster": "0x2222222222222222222222222222222222222222",
		"paymasterVerificationGasLimit": "0x10",
		"paymasterPostOpGasLimit": "0x20",
		"paymasterData": "0xabcd",
		"signature": "0x"
	}`

	var op UserOperation
	require.NoError(t, json.Unmarshal([]byte(input), &op))

	assert.Equal(t, V07, op.Version)
	assert.Equal(t, int64(1), op.Nonce.Int64())
	assert.Equal(t, int64(21000), op.CallGasLimit.Int64())
	assert.Equal(t, int64(100000), op.VerificationGasLimit.Int64())
	assert.Equal(t, int64(50000), op.PreVerificationGas.Int64())
	require.NotNil(t, op.Paymaster)
	assert.Equal(t, int64(0x20), op.PaymasterPostOpGasLimit.Int64())
	assert.Equal(t, common.FromHex("0xabcd"), []byte(op.PaymasterData))
	assert.True(t, op.IsFilled())
}

func TestUnmarshalDetectsV06(t *testing.T) {
	input := `{"sender":"0x1111111111111111111111111111111111111111","nonce":"0x0","initCode":"0x","callData":"0x","paymasterAndData":"0x","signature":"0x"}`

	var op UserOperation
	require.NoError(t, json.Unmarshal([]byte(input), &op))
	assert.Equal(t, V06, op.Version)
	assert.False(t, op.IsFilled())
}

func TestUnmarshalRequiresSender(t *testing.T) {
	var op UserOperation
	assert.Error(t, json.Unmarshal([]byte(`{"nonce":"0x0"}`), &op))
}

func TestCopyIsDeep(t *testing.T) {
	pm := common.HexToAddress("0x2222222222222222222222222222222222222222")
	op := &UserOperation{
		Version:   V07,
		Nonce:     big.NewInt(7),
		CallData:  []byte{1, 2, 3},
		Paymaster: &pm,
	}

	c := op.Copy()
	c.Nonce.SetInt64(8)
	c.CallData[0] = 9
	*c.Paymaster = common.Address{}

	assert.Equal(t, int64(7), op.Nonce.Int64())
	assert.Equal(t, byte(1), op.CallData[0])
	assert.Equal(t, pm, *op.Paymaster)
}

func TestIsFilledPaymasterAllOrNone(t *testing.T) {
	pm := common.HexToAddress("0x2222222222222222222222222222222222222222")
	op := &UserOperation{
		Version:              V07,
		Nonce:                big.NewInt(0),
		CallGasLimit:         big.NewInt(1),
		VerificationGasLimit: big.NewInt(1),
		PreVerificationGas:   big.NewInt(1),
		MaxFeePerGas:         big.NewInt(1),
		MaxPriorityFeePerGas: big.NewInt(1),
	}
	assert.True(t, op.IsFilled())

	op.Paymaster = &pm
	assert.False(t, op.IsFilled(), "paymaster without its gas limits is incomplete")

	op.PaymasterVerificationGasLimit = big.NewInt(1)
	op.PaymasterPostOpGasLimit = big.NewInt(1)
	assert.True(t, op.IsFilled())
}
