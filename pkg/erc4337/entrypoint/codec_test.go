package entrypoint

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

var (
	testSender    = common.HexToAddress("0xb856DBD4fA1A79a46D426f537455e7d3E79ab7c4")
	testFactory   = common.HexToAddress("0x0000000000400CdFef5E2714E63d8040b700BC24")
	testPaymaster = common.HexToAddress("0x4Fd9098af9ddcB41DA48A1d78F91F1398965addc")
	testChainID   = big.NewInt(11155111)
)

func sampleV06() *userop.UserOperation {
	return &userop.UserOperation{
		Version:              userop.V06,
		Sender:               testSender,
		Nonce:                big.NewInt(3),
		InitCode:             append(testFactory.Bytes(), 0x5f, 0xbf, 0xb9, 0xcf),
		CallData:             common.FromHex("0xb61d27f6"),
		CallGasLimit:         big.NewInt(21000),
		VerificationGasLimit: big.NewInt(150000),
		PreVerificationGas:   big.NewInt(48000),
		MaxFeePerGas:         big.NewInt(30_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_500_000_000),
		PaymasterAndData:     common.FromHex("0x4Fd9098af9ddcB41DA48A1d78F91F1398965addc00"),
	}
}

func sampleV07() *userop.UserOperation {
	return &userop.UserOperation{
		Version:              userop.V07,
		Sender:               testSender,
		Nonce:                new(big.Int).Lsh(big.NewInt(1), 64),
		CallData:             common.FromHex("0xb61d27f6"),
		CallGasLimit:         big.NewInt(21000),
		VerificationGasLimit: big.NewInt(150000),
		PreVerificationGas:   big.NewInt(48000),
		MaxFeePerGas:         big.NewInt(30_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_500_000_000),
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		op   *userop.UserOperation
	}{
		{"v0.6", sampleV06()},
		{"v0.7", sampleV07()},
		{"v0.7 max uint128 gas", func() *userop.UserOperation {
			op := sampleV07()
			op.CallGasLimit = new(big.Int).Set(maxUint128)
			op.MaxFeePerGas = new(big.Int).Set(maxUint128)
			return op
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := Get(tt.op.Version)
			require.NoError(t, err)

			packed, err := codec.Pack(tt.op)
			require.NoError(t, err)

			got, hashes, err := codec.Unpack(packed)
			require.NoError(t, err)

			assert.Equal(t, tt.op.Sender, got.Sender)
			assert.Zero(t, tt.op.Nonce.Cmp(got.Nonce), "nonce")
			assert.Zero(t, tt.op.CallGasLimit.Cmp(got.CallGasLimit), "callGasLimit")
			assert.Zero(t, tt.op.VerificationGasLimit.Cmp(got.VerificationGasLimit), "verificationGasLimit")
			assert.Zero(t, tt.op.PreVerificationGas.Cmp(got.PreVerificationGas), "preVerificationGas")
			assert.Zero(t, tt.op.MaxFeePerGas.Cmp(got.MaxFeePerGas), "maxFeePerGas")
			assert.Zero(t, tt.op.MaxPriorityFeePerGas.Cmp(got.MaxPriorityFeePerGas), "maxPriorityFeePerGas")
			assert.Equal(t, crypto.Keccak256Hash(tt.op.CallData), hashes.CallData)
		})
	}
}

func TestHashDeterministicAndNonceSensitive(t *testing.T) {
	for _, op := range []*userop.UserOperation{sampleV06(), sampleV07()} {
		ep, err := DefaultAddress(op.Version)
		require.NoError(t, err)

		h1, err := GetUserOperationHash(op, ep, testChainID)
		require.NoError(t, err)
		h2, err := GetUserOperationHash(op.Copy(), ep, testChainID)
		require.NoError(t, err)
		assert.Equal(t, h1, h2, "%s hash must be deterministic", op.Version)

		bumped := op.Copy()
		bumped.Nonce.Add(bumped.Nonce, big.NewInt(1))
		h3, err := GetUserOperationHash(bumped, ep, testChainID)
		require.NoError(t, err)
		assert.NotEqual(t, h1, h3, "%s hash must change with the nonce", op.Version)

		h4, err := GetUserOperationHash(op, ep, big.NewInt(1))
		require.NoError(t, err)
		assert.NotEqual(t, h1, h4, "%s hash must change with the chain id", op.Version)
	}
}

func TestHashMatchesManualEncoding(t *testing.T) {
	op := sampleV06()
	packed, err := v06Codec{}.Pack(op)
	require.NoError(t, err)
	assert.Len(t, packed, 10*32)

	enc := make([]byte, 0, 96)
	enc = append(enc, crypto.Keccak256(packed)...)
	enc = append(enc, common.LeftPadBytes(AddressV06.Bytes(), 32)...)
	enc = append(enc, common.LeftPadBytes(testChainID.Bytes(), 32)...)

	got, err := v06Codec{}.Hash(op, AddressV06, testChainID)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(enc), got)
}

// Hashes computed independently of this package from the EntryPoint
// getUserOpHash definition on chain 11155111.
func TestGetUserOperationHash_KnownVectors(t *testing.T) {
	withPaymaster := sampleV07()
	withPaymaster.Factory = &testFactory
	withPaymaster.FactoryData = common.FromHex("0x5fbfb9cf")
	withPaymaster.Paymaster = &testPaymaster
	withPaymaster.PaymasterVerificationGasLimit = big.NewInt(100000)
	withPaymaster.PaymasterPostOpGasLimit = big.NewInt(50000)
	withPaymaster.PaymasterData = common.FromHex("0xabcdef")

	tests := []struct {
		name string
		op   *userop.UserOperation
		ep   common.Address
		want string
	}{
		{"v0.6", sampleV06(), AddressV06, "0x6db782e0a6cec9085ee9fbfd5710ca7a4b6d9628498ea9eb4d36083a956bd035"},
		{"v0.7 without paymaster", sampleV07(), AddressV07, "0x5b7d29d2c12f34fe1e187dcbe999f2609173095d7099863911b8b6eb5b6e6771"},
		{"v0.7 with factory and paymaster", withPaymaster, AddressV07, "0xf3d51d3380c0a95d63ff2dc4c425c38d50502dd260b6bf3b542e03c9ddb0e6d0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetUserOperationHash(tt.op, tt.ep, testChainID)
			require.NoError(t, err)
			assert.Equal(t, common.HexToHash(tt.want), got)

			raw, err := json.Marshal(tt.op)
			require.NoError(t, err)
			var decoded userop.UserOperation
			require.NoError(t, json.Unmarshal(raw, &decoded))
			got, err = GetUserOperationHash(&decoded, tt.ep, testChainID)
			require.NoError(t, err)
			assert.Equal(t, common.HexToHash(tt.want), got, "hash must survive the json round trip")
		})
	}
}

func TestV07EmptyPaymasterPacksToEmptyBytes(t *testing.T) {
	op := sampleV07()

	pmd, err := PackPaymasterAndData(op)
	require.NoError(t, err)
	assert.Empty(t, pmd)
	assert.NotNil(t, pmd)

	packed, err := v07Codec{}.Pack(op)
	require.NoError(t, err)
	_, hashes, err := v07Codec{}.Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(nil), hashes.PaymasterAndData, "empty paymasterAndData hashes as keccak(0x)")

	// the same operation with a zero paymaster address must not collide
	zero := common.Address{}
	withZero := op.Copy()
	withZero.Paymaster = &zero
	withZero.PaymasterVerificationGasLimit = big.NewInt(0)
	withZero.PaymasterPostOpGasLimit = big.NewInt(0)

	a, err := v07Codec{}.Hash(op, AddressV07, testChainID)
	require.NoError(t, err)
	b, err := v07Codec{}.Hash(withZero, AddressV07, testChainID)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPaymasterAndDataRoundTrip(t *testing.T) {
	op := sampleV07()
	op.Paymaster = &testPaymaster
	op.PaymasterVerificationGasLimit = big.NewInt(100000)
	op.PaymasterPostOpGasLimit = big.NewInt(50000)
	op.PaymasterData = common.FromHex("0xabcdef")

	pmd, err := PackPaymasterAndData(op)
	require.NoError(t, err)
	assert.Len(t, pmd, 52+3)

	got := &userop.UserOperation{Version: userop.V07}
	require.NoError(t, UnpackPaymasterAndData(got, pmd))
	assert.Equal(t, testPaymaster, *got.Paymaster)
	assert.Equal(t, int64(100000), got.PaymasterVerificationGasLimit.Int64())
	assert.Equal(t, int64(50000), got.PaymasterPostOpGasLimit.Int64())
	assert.Equal(t, op.PaymasterData, got.PaymasterData)

	assert.ErrorIs(t, UnpackPaymasterAndData(got, pmd[:40]), ErrInvalidPacking)
}

func TestPackUints(t *testing.T) {
	packed, err := PackUints(big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, byte(1), packed[15])
	assert.Equal(t, byte(2), packed[31])

	hi, lo := UnpackUints(packed)
	assert.Equal(t, int64(1), hi.Int64())
	assert.Equal(t, int64(2), lo.Int64())

	_, err = PackUints(new(big.Int).Lsh(big.NewInt(1), 128), nil)
	assert.ErrorIs(t, err, ErrUint128Overflow)
}

func TestToPackedAndBack(t *testing.T) {
	op := sampleV07()
	op.Factory = &testFactory
	op.FactoryData = common.FromHex("0x5fbfb9cf")
	op.Paymaster = &testPaymaster
	op.PaymasterVerificationGasLimit = big.NewInt(7)
	op.PaymasterPostOpGasLimit = big.NewInt(8)
	op.Signature = common.FromHex("0x00ff")

	packed, err := ToPacked(op)
	require.NoError(t, err)
	assert.Equal(t, append(testFactory.Bytes(), op.FactoryData...), []byte(packed.InitCode))

	back, err := FromPacked(packed)
	require.NoError(t, err)

	h1, err := v07Codec{}.Hash(op, AddressV07, testChainID)
	require.NoError(t, err)
	h2, err := v07Codec{}.Hash(back, AddressV07, testChainID)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCodecVersionChecks(t *testing.T) {
	_, err := Get("0.8.0")
	assert.ErrorIs(t, err, userop.ErrUnsupportedVersion)

	_, err = v07Codec{}.Pack(sampleV06())
	assert.ErrorIs(t, err, ErrVersionMismatch)

	_, err = v06Codec{}.Hash(sampleV06(), AddressV06, nil)
	assert.Error(t, err)
}

func TestNewDefinitionDefaultsAddress(t *testing.T) {
	def, err := NewDefinition(userop.V07, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, AddressV07, def.Address)
	assert.Equal(t, userop.V07, def.Codec.Version())

	custom := common.HexToAddress("0x1234")
	def, err = NewDefinition(userop.V06, custom)
	require.NoError(t, err)
	assert.Equal(t, custom, def.Address)
}

func TestSenderAddressResultSelector(t *testing.T) {
	assert.Equal(t, crypto.Keccak256([]byte("SenderAddressResult(address)"))[:4], SenderAddressResultSelector)
	assert.Equal(t, common.HexToHash("0x49628fd1471006c1482da88028e9ce4dbb080b815c9b0344d39e5a8e6ec1419f"), UserOperationEventTopic)
}
