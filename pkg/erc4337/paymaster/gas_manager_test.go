package paymaster

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

func serve(t *testing.T, status int, body func(req map[string]any) any) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body(req))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func v07Op() *userop.UserOperation {
	return &userop.UserOperation{
		Version:  userop.V07,
		Sender:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:    big.NewInt(0),
		CallData: []byte{1},
	}
}

func TestRequestGasAndPaymasterAndData_V07(t *testing.T) {
	url := serve(t, http.StatusOK, func(req map[string]any) any {
		assert.Equal(t, methodRequestGasAndPaymasterAndData, req["method"])
		params := req["params"].([]any)
		require.Len(t, params, 1)
		p := params[0].(map[string]any)
		assert.Equal(t, "policy-1", p["policyId"])
		assert.Equal(t, "0x0000000071727de22e5e9d8baf0edac6f37da032", p["entryPoint"])
		assert.Equal(t, "0xff", p["dummySignature"])
		assert.Contains(t, p, "userOperation")

		return map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result": map[string]any{
				"paymaster":                     "0x2222222222222222222222222222222222222222",
				"paymasterData":                 "0xabcd",
				"paymasterVerificationGasLimit": "0x100",
				"paymasterPostOpGasLimit":       "0x0",
				"callGasLimit":                  "0x5208",
				"verificationGasLimit":          "100000",
				"preVerificationGas":            "0x10",
				"maxFeePerGas":                  "0x3b9aca00",
				"maxPriorityFeePerGas":          "0x1",
			},
		}
	})

	g := NewGasManager(url, "policy-1", nil)
	resp, err := g.RequestGasAndPaymasterAndData(context.Background(), Request{
		EntryPoint:     common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032"),
		DummySignature: []byte{0xff},
		UserOperation:  v07Op(),
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Paymaster)
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), *resp.Paymaster)
	assert.Equal(t, []byte{0xab, 0xcd}, resp.PaymasterData)
	assert.Equal(t, int64(21000), resp.CallGasLimit.Int64())
	assert.Equal(t, int64(100000), resp.VerificationGasLimit.Int64())
	assert.Equal(t, int64(0), resp.PaymasterPostOpGasLimit.Int64())

	op := v07Op()
	resp.Apply(op)
	assert.True(t, op.IsFilled())
	assert.True(t, op.HasPaymaster())
	assert.Equal(t, int64(256), op.PaymasterVerificationGasLimit.Int64())
}

func TestRequestGasAndPaymasterAndData_V06(t *testing.T) {
	resp, err := DecodeResponse(map[string]any{
		"paymasterAndData":     "0x2222222222222222222222222222222222222222beef",
		"callGasLimit":         "0x1",
		"verificationGasLimit": "0x2",
		"preVerificationGas":   "0x3",
	})
	require.NoError(t, err)

	op := v07Op()
	op.Version = userop.V06
	op.MaxFeePerGas = big.NewInt(9)
	resp.Apply(op)
	assert.Len(t, op.PaymasterAndData, 22)
	assert.Equal(t, int64(3), op.PreVerificationGas.Int64())
	assert.Equal(t, int64(9), op.MaxFeePerGas.Int64(), "fields the manager did not return are kept")
}

func TestRequestGasAndPaymasterAndData_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("json-rpc error", func(t *testing.T) {
		url := serve(t, http.StatusOK, func(req map[string]any) any {
			return map[string]any{"jsonrpc": "2.0", "id": req["id"], "error": map[string]any{"code": -32602, "message": "policy not found"}}
		})
		_, err := NewGasManager(url, "p", nil).RequestGasAndPaymasterAndData(ctx, Request{UserOperation: v07Op()})
		var rpcErr *RPCError
		require.True(t, errors.As(err, &rpcErr))
		assert.Equal(t, -32602, rpcErr.ErrorCode())
	})

	t.Run("http error", func(t *testing.T) {
		url := serve(t, http.StatusBadGateway, func(map[string]any) any { return map[string]any{} })
		_, err := NewGasManager(url, "p", nil).RequestGasAndPaymasterAndData(ctx, Request{UserOperation: v07Op()})
		assert.ErrorContains(t, err, "502")
	})

	t.Run("missing operation", func(t *testing.T) {
		_, err := NewGasManager("http://127.0.0.1:0", "p", nil).RequestGasAndPaymasterAndData(ctx, Request{})
		assert.Error(t, err)
	})

	t.Run("bad quantity", func(t *testing.T) {
		_, err := DecodeResponse(map[string]any{"callGasLimit": "0xzz"})
		assert.Error(t, err)
	})
}
