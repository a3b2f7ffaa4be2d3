package byte4

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector(t *testing.T) {
	tests := []struct {
		sig  string
		want string
	}{
		{"transfer(address,uint256)", "0xa9059cbb"},
		{"approve(address,uint256)", "0x095ea7b3"},
		{"balanceOf(address)", "0x70a08231"},
		{"execute(address,uint256,bytes)", "0xb61d27f6"},
	}
	for _, tt := range tests {
		t.Run(tt.sig, func(t *testing.T) {
			assert.Equal(t, tt.want, hexutil.Encode(Selector(tt.sig)))
		})
	}
}

func TestRegistry_DecodeTransfer(t *testing.T) {
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	calldata := common.FromHex("0xa9059cbb" +
		"0000000000000000000000002222222222222222222222222222222222222222" +
		"00000000000000000000000000000000000000000000000000000000000003e8")

	call, err := NewRegistry().Decode(calldata)
	require.NoError(t, err)
	assert.Equal(t, "transfer(address,uint256)", call.Method)
	assert.Equal(t, to, call.Args["to"])
	assert.Equal(t, big.NewInt(1000), call.Args["value"])
}

func TestRegistry_Unknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Decode([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorContains(t, err, "0xdeadbeef")

	_, err = r.Decode([]byte{0x01})
	assert.ErrorContains(t, err, "invalid selector length")

	require.NoError(t, r.Add(`[{"type":"function","name":"ping","inputs":[],"outputs":[]}]`))
	call, err := r.Decode(Selector("ping()"))
	require.NoError(t, err)
	assert.Equal(t, "ping()", call.Method)
	assert.Empty(t, call.Args)

	assert.Error(t, r.Add("not json"))
}

func TestRegistry_TruncatedArgs(t *testing.T) {
	_, err := NewRegistry().Decode(common.FromHex("0xa9059cbb0000"))
	assert.ErrorContains(t, err, "failed to unpack transfer(address,uint256)")
}
