// Package paymaster talks to a gas manager that sponsors user operations and
// returns the gas, fee and paymaster fields in one call.
package paymaster

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/go-resty/resty/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
	"github.com/AvaProtocol/aa-sdk-go/pkg/logger"
)

const methodRequestGasAndPaymasterAndData = "alchemy_requestGasAndPaymasterAndData"

type jsonRPCRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	Id      uint64        `json:"id"`
}

type jsonRPCResponse struct {
	Jsonrpc string         `json:"jsonrpc"`
	Id      uint64         `json:"id"`
	Result  map[string]any `json:"result,omitempty"`
	Error   *RPCError      `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error returned by the gas manager. It satisfies the
// go-ethereum rpc.Error interface.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gas manager error %d: %s", e.Code, e.Message)
}

func (e *RPCError) ErrorCode() int {
	return e.Code
}

// Request is the single parameter of alchemy_requestGasAndPaymasterAndData.
type Request struct {
	PolicyID       string                `json:"policyId"`
	EntryPoint     common.Address        `json:"entryPoint"`
	DummySignature hexutil.Bytes         `json:"dummySignature"`
	UserOperation  *userop.UserOperation `json:"userOperation"`
	// Overrides maps a gas or fee field to a quantity or {"multiplier": n}.
	Overrides map[string]any `json:"overrides,omitempty"`
}

// Response carries every field the gas manager filled. v0.6 sponsors return
// PaymasterAndData, v0.7 sponsors the split paymaster fields.
type Response struct {
	PaymasterAndData []byte `mapstructure:"paymasterAndData"`

	Paymaster                     *common.Address `mapstructure:"paymaster"`
	PaymasterData                 []byte          `mapstructure:"paymasterData"`
	PaymasterVerificationGasLimit *big.Int        `mapstructure:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *big.Int        `mapstructure:"paymasterPostOpGasLimit"`

	CallGasLimit         *big.Int `mapstructure:"callGasLimit"`
	VerificationGasLimit *big.Int `mapstructure:"verificationGasLimit"`
	PreVerificationGas   *big.Int `mapstructure:"preVerificationGas"`
	MaxFeePerGas         *big.Int `mapstructure:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int `mapstructure:"maxPriorityFeePerGas"`
}

// Apply copies every field the gas manager returned onto op.
func (r *Response) Apply(op *userop.UserOperation) {
	set := func(dst **big.Int, v *big.Int) {
		if v != nil {
			*dst = new(big.Int).Set(v)
		}
	}
	set(&op.CallGasLimit, r.CallGasLimit)
	set(&op.VerificationGasLimit, r.VerificationGasLimit)
	set(&op.PreVerificationGas, r.PreVerificationGas)
	set(&op.MaxFeePerGas, r.MaxFeePerGas)
	set(&op.MaxPriorityFeePerGas, r.MaxPriorityFeePerGas)

	if op.Version == userop.V06 {
		op.PaymasterAndData = common.CopyBytes(r.PaymasterAndData)
		return
	}
	if r.Paymaster != nil {
		p := *r.Paymaster
		op.Paymaster = &p
		op.PaymasterData = common.CopyBytes(r.PaymasterData)
		set(&op.PaymasterVerificationGasLimit, r.PaymasterVerificationGasLimit)
		set(&op.PaymasterPostOpGasLimit, r.PaymasterPostOpGasLimit)
	}
}

// GasManager is a JSON-RPC client of a sponsoring gas manager.
type GasManager struct {
	httpClient *resty.Client
	url        string
	policyID   string
	logger     logger.Logger
	nextID     atomic.Uint64
}

func NewGasManager(url, policyID string, log logger.Logger) *GasManager {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("Content-Type", "application/json")

	return &GasManager{
		httpClient: client,
		url:        url,
		policyID:   policyID,
		logger:     logger.EnsureLogger(log),
	}
}

func (g *GasManager) PolicyID() string {
	return g.policyID
}

// RequestGasAndPaymasterAndData asks the gas manager to sponsor req. An empty
// PolicyID is filled with the manager's policy.
func (g *GasManager) RequestGasAndPaymasterAndData(ctx context.Context, req Request) (*Response, error) {
	if req.UserOperation == nil {
		return nil, errors.New("gas manager request requires a user operation")
	}
	if req.PolicyID == "" {
		req.PolicyID = g.policyID
	}

	rpcRequest := jsonRPCRequest{
		Jsonrpc: "2.0",
		Method:  methodRequestGasAndPaymasterAndData,
		Params:  []interface{}{req},
		Id:      g.nextID.Add(1),
	}

	var response jsonRPCResponse
	httpResp, err := g.httpClient.R().
		SetContext(ctx).
		SetBody(rpcRequest).
		SetResult(&response).
		Post(g.url)
	if err != nil {
		return nil, fmt.Errorf("gas manager call failed: %w", err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("gas manager returned HTTP %d: %s", httpResp.StatusCode(), strings.TrimSpace(httpResp.String()))
	}
	if response.Error != nil {
		return nil, response.Error
	}
	if response.Result == nil {
		return nil, errors.New("gas manager returned an empty result")
	}

	out, err := DecodeResponse(response.Result)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("gas manager sponsored user operation",
		"sender", req.UserOperation.Sender.Hex(),
		"policyId", req.PolicyID,
	)
	return out, nil
}

// DecodeResponse decodes a gas manager result whose values are hex or decimal
// strings.
func DecodeResponse(result map[string]any) (*Response, error) {
	var out Response
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			hexToBigIntHook,
			hexToBytesHook,
			hexToAddressHook,
		),
		Result: &out,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(result); err != nil {
		return nil, fmt.Errorf("failed to decode gas manager result: %w", err)
	}
	return &out, nil
}

var (
	bigIntType  = reflect.TypeOf(big.Int{})
	bigPtrType  = reflect.TypeOf(&big.Int{})
	bytesType   = reflect.TypeOf([]byte{})
	addressType = reflect.TypeOf(common.Address{})
)

func hexToBigIntHook(from, to reflect.Type, data any) (any, error) {
	if to != bigIntType && to != bigPtrType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		n, ok := math.ParseBig256(v)
		if !ok {
			return nil, fmt.Errorf("invalid quantity %q", v)
		}
		return n, nil
	case float64:
		return new(big.Int).SetUint64(uint64(v)), nil
	}
	return data, nil
}

func hexToBytesHook(from, to reflect.Type, data any) (any, error) {
	s, ok := data.(string)
	if !ok || to != bytesType {
		return data, nil
	}
	return hexutil.Decode(s)
}

func hexToAddressHook(from, to reflect.Type, data any) (any, error) {
	s, ok := data.(string)
	if !ok || (to != addressType && to != reflect.PointerTo(addressType)) {
		return data, nil
	}
	if !common.IsHexAddress(s) {
		return nil, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
