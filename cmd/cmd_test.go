package cmd

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/aa-sdk-go/pkg/byte4"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/client"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
	"github.com/AvaProtocol/aa-sdk-go/storage"
	"github.com/AvaProtocol/aa-sdk-go/version"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), version.Get())
}

func TestParseCalls(t *testing.T) {
	target := "0x2222222222222222222222222222222222222222"

	calls, err := parseCalls([]string{target, target}, []string{"1000"}, []string{"", "0xdeadbeef"})
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, big.NewInt(1000), calls[0].Value)
	assert.Nil(t, calls[0].Data)
	assert.Equal(t, big.NewInt(0), calls[1].Value)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, calls[1].Data)

	calls, err = parseCalls([]string{target}, []string{"0x10"}, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(16), calls[0].Value)

	tests := []struct {
		name    string
		targets []string
		values  []string
		data    []string
	}{
		{"no targets", nil, nil, nil},
		{"bad target", []string{"0x12"}, nil, nil},
		{"negative value", []string{target}, []string{"-1"}, nil},
		{"bad data", []string{target}, nil, []string{"zz"}},
		{"too many values", []string{target}, []string{"1", "2"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCalls(tt.targets, tt.values, tt.data)
			assert.Error(t, err)
		})
	}

	_, err = parseCalls(nil, nil, nil)
	assert.ErrorIs(t, err, client.ErrNoCalls)
}

func TestSendOverrides(t *testing.T) {
	o, err := sendOverrides("", 0, 0)
	require.NoError(t, err)
	assert.Nil(t, o)

	o, err = sendOverrides("7", 1.25, 0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), o.NonceKey)
	assert.Equal(t, 1.25, o.MaxFeePerGas.Multiplier)
	assert.Nil(t, o.CallGasLimit)

	_, err = sendOverrides("", 1.23456, 0)
	assert.ErrorIs(t, err, client.ErrInvalidMultiplier)
	_, err = sendOverrides("", 0, -2)
	assert.ErrorIs(t, err, client.ErrInvalidMultiplier)
	_, err = sendOverrides("x", 0, 0)
	assert.Error(t, err)
}

func TestDescribeCalls(t *testing.T) {
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	token := common.HexToAddress("0x4444444444444444444444444444444444444444")

	addressT, _ := abi.NewType("address", "", nil)
	uintT, _ := abi.NewType("uint256", "", nil)
	bytesT, _ := abi.NewType("bytes", "", nil)

	transferArgs, err := abi.Arguments{{Type: addressT}, {Type: uintT}}.Pack(to, big.NewInt(5))
	require.NoError(t, err)
	transfer := append(byte4.Selector("transfer(address,uint256)"), transferArgs...)

	execArgs, err := abi.Arguments{{Type: addressT}, {Type: uintT}, {Type: bytesT}}.Pack(token, big.NewInt(0), transfer)
	require.NoError(t, err)
	execute := append(byte4.Selector("execute(address,uint256,bytes)"), execArgs...)

	views, err := describeCalls(byte4.NewRegistry(), execute)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, token, views[0].Target)
	require.NotNil(t, views[0].Decoded)
	assert.Equal(t, "transfer(address,uint256)", views[0].Decoded.Method)
	assert.Equal(t, to, views[0].Decoded.Args["to"])

	_, err = describeCalls(byte4.NewRegistry(), []byte{0x01, 0x02, 0x03, 0x04})
	assert.Error(t, err)
}

func TestMessageBytes(t *testing.T) {
	b, err := messageBytes("0xa70d")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xa7, 0x0d}, b)

	b, err = messageBytes("hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)

	_, err = messageBytes("0xz")
	assert.Error(t, err)
}

type stubWaiter struct {
	receipt *userop.Receipt
	err     error
}

func (s stubWaiter) WaitForUserOperationReceipt(context.Context, common.Hash) (*userop.Receipt, error) {
	return s.receipt, s.err
}

type stateLog map[common.Hash]string

func (l stateLog) UpdateState(_ context.Context, hash common.Hash, state string) error {
	l[hash] = state
	return nil
}

func TestResolveReceipt(t *testing.T) {
	hash := common.HexToHash("0x01")
	ctx := context.Background()

	tests := []struct {
		name      string
		waiter    stubWaiter
		wantState string
		wantErr   error
	}{
		{
			name:      "confirmed",
			waiter:    stubWaiter{receipt: &userop.Receipt{UserOpHash: hash, Success: true}},
			wantState: "confirmed",
		},
		{
			name:      "reverted",
			waiter:    stubWaiter{receipt: &userop.Receipt{UserOpHash: hash, Reason: "0x"}},
			wantState: "failed",
			wantErr:   client.ErrUserOperationReverted,
		},
		{
			name:      "timeout keeps pending",
			waiter:    stubWaiter{err: &client.UserOperationTimeoutError{Hash: hash, Attempts: 6}},
			wantState: "",
		},
		{
			name:      "permanent failure",
			waiter:    stubWaiter{err: errors.New("invalid params")},
			wantState: "failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			log := stateLog{}
			err := resolveReceipt(ctx, &out, tt.waiter, log, hash)
			assert.Equal(t, tt.wantState, log[hash])
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantState == "confirmed" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestPrintCounts(t *testing.T) {
	db, err := storage.New(&storage.Config{InMemory: true})
	require.NoError(t, err)
	defer db.Close()

	j := storage.NewJournal(db)
	ctx := context.Background()
	res := &userop.Result{
		Hash:    common.HexToHash("0x01"),
		Request: &userop.UserOperation{Version: userop.V07, Nonce: big.NewInt(0)},
	}
	require.NoError(t, j.Record(ctx, res))
	require.NoError(t, j.UpdateState(ctx, res.Hash, "confirmed"))

	var out bytes.Buffer
	require.NoError(t, printCounts(&out, j))
	assert.Contains(t, out.String(), "confirmed            1")
	assert.Contains(t, out.String(), "sent                 0")
}
