package client

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AvaProtocol/aa-sdk-go/core/chainio/aa"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/paymaster"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

var (
	testSender  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testFactory = common.HexToAddress("0x00000000000017c61b5bEe81050EC8eFc9c6fecd")
	testChainID = big.NewInt(11155111)
	dummySig    = common.FromHex("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

type fakeAccount struct {
	ep       *entrypoint.Definition
	nonce    *big.Int
	deployed bool

	mu         sync.Mutex
	nonceCalls int
}

func newFakeAccount(version userop.Version) *fakeAccount {
	ep, err := entrypoint.NewDefinition(version, common.Address{})
	if err != nil {
		panic(err)
	}
	return &fakeAccount{ep: ep, nonce: big.NewInt(3)}
}

func (a *fakeAccount) EncodeExecute(call userop.Call) ([]byte, error) {
	return append([]byte{0x01}, call.Target.Bytes()...), nil
}

func (a *fakeAccount) EncodeExecuteBatch(calls []userop.Call) ([]byte, error) {
	out := []byte{0x02}
	for _, c := range calls {
		out = append(out, c.Target.Bytes()...)
	}
	return out, nil
}

func (a *fakeAccount) GetAddress(context.Context) (common.Address, error) { return testSender, nil }

func (a *fakeAccount) GetInitCode(ctx context.Context) ([]byte, error) {
	if a.deployed {
		return []byte{}, nil
	}
	return a.FactoryArgs().InitCode(), nil
}

func (a *fakeAccount) GetFactoryArgs(context.Context) (aa.FactoryArgs, error) {
	if a.deployed {
		return aa.FactoryArgs{}, nil
	}
	return a.FactoryArgs(), nil
}

func (a *fakeAccount) IsAccountDeployed(context.Context) (bool, error) { return a.deployed, nil }

func (a *fakeAccount) FactoryArgs() aa.FactoryArgs {
	return aa.FactoryArgs{Factory: testFactory, FactoryData: []byte{0xca, 0xfe}}
}

func (a *fakeAccount) State() aa.DeploymentState {
	if a.deployed {
		return aa.StateDeployed
	}
	return aa.StateNotDeployed
}

func (a *fakeAccount) SignMessage(context.Context, []byte) ([]byte, error) { return nil, nil }
func (a *fakeAccount) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	return nil, nil
}
func (a *fakeAccount) SignMessageWith6492(context.Context, []byte) ([]byte, error) { return nil, nil }
func (a *fakeAccount) SignTypedDataWith6492(context.Context, apitypes.TypedData) ([]byte, error) {
	return nil, nil
}

// SignUserOperationHash returns the hash followed by a v byte so tests can
// check what was signed.
func (a *fakeAccount) SignUserOperationHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	return append(hash.Bytes(), 0x1b), nil
}

func (a *fakeAccount) GetDummySignature() []byte { return common.CopyBytes(dummySig) }
func (a *fakeAccount) GetStubSignature() []byte  { return common.CopyBytes(dummySig) }

func (a *fakeAccount) GetNonce(ctx context.Context, key *big.Int) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nonceCalls++
	if key != nil {
		return new(big.Int).Lsh(key, 64), nil
	}
	return new(big.Int).Set(a.nonce), nil
}

func (a *fakeAccount) EntryPoint() *entrypoint.Definition { return a.ep }
func (a *fakeAccount) ChainID() *big.Int                  { return new(big.Int).Set(testChainID) }
func (a *fakeAccount) Source() aa.AccountType             { return aa.LightAccount }
func (a *fakeAccount) Version() string                    { return aa.LightAccountV200 }

type receiptReply struct {
	receipt *userop.Receipt
	err     error
}

type fakeBundler struct {
	mu sync.Mutex

	sent     []*userop.UserOperation
	sendErr  error
	sendHash *common.Hash

	estimate      *userop.GasEstimate
	estimateCalls int

	replies      []receiptReply
	receiptCalls int
}

func newFakeBundler() *fakeBundler {
	return &fakeBundler{
		estimate: &userop.GasEstimate{
			PreVerificationGas:            big.NewInt(50_000),
			VerificationGasLimit:          big.NewInt(200_000),
			CallGasLimit:                  big.NewInt(100_001),
			PaymasterVerificationGasLimit: big.NewInt(5_000),
		},
	}
}

func (b *fakeBundler) SendUserOperation(ctx context.Context, op *userop.UserOperation, ep common.Address) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return common.Hash{}, b.sendErr
	}
	b.sent = append(b.sent, op.Copy())
	if b.sendHash != nil {
		return *b.sendHash, nil
	}
	return entrypoint.GetUserOperationHash(op, ep, testChainID)
}

func (b *fakeBundler) EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, ep common.Address, override map[string]any) (*userop.GasEstimate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.estimateCalls++
	return b.estimate, nil
}

// GetUserOperationReceipt replays replies in order and then keeps returning
// the last one.
func (b *fakeBundler) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*userop.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiptCalls++
	if len(b.replies) == 0 {
		return nil, nil
	}
	r := b.replies[0]
	if len(b.replies) > 1 {
		b.replies = b.replies[1:]
	}
	return r.receipt, r.err
}

func (b *fakeBundler) MaxPriorityFeePerGas(context.Context) (*big.Int, error) {
	return gwei(3), nil
}

type fakeFees struct{}

func (fakeFees) SuggestGasTipCap(context.Context) (*big.Int, error) { return gwei(1), nil }

func (fakeFees) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: gwei(10)}, nil
}

type fakePaymaster struct {
	requests []paymaster.Request
	resp     *paymaster.Response
}

func (p *fakePaymaster) RequestGasAndPaymasterAndData(ctx context.Context, req paymaster.Request) (*paymaster.Response, error) {
	p.requests = append(p.requests, req)
	return p.resp, nil
}

// fakeTimer fires immediately and records every requested wait. A never timer
// does not fire at all.
type fakeTimer struct {
	never  bool
	delays []time.Duration
	c      chan time.Time
}

func (t *fakeTimer) Start(d time.Duration) {
	t.delays = append(t.delays, d)
	t.c = make(chan time.Time, 1)
	if !t.never {
		t.c <- time.Time{}
	}
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

type recordingObserver struct {
	states []State
	polls  []bool
	builds int
}

func (o *recordingObserver) StateChanged(s State)         { o.states = append(o.states, s) }
func (o *recordingObserver) ReceiptPolled(found bool)     { o.polls = append(o.polls, found) }
func (o *recordingObserver) BuildCompleted(time.Duration) { o.builds++ }

type memJournal struct {
	records []*userop.Result
	states  map[common.Hash][]string
}

func (j *memJournal) Record(ctx context.Context, res *userop.Result) error {
	j.records = append(j.records, res)
	return nil
}

func (j *memJournal) UpdateState(ctx context.Context, hash common.Hash, state string) error {
	if j.states == nil {
		j.states = map[common.Hash][]string{}
	}
	j.states[hash] = append(j.states[hash], state)
	return nil
}

type codeError struct {
	code int
}

func (e codeError) Error() string  { return "rpc error" }
func (e codeError) ErrorCode() int { return e.code }

func fixedJitter() time.Duration { return 50 * time.Millisecond }

func successReceipt(hash common.Hash) *userop.Receipt {
	return &userop.Receipt{
		UserOpHash: hash,
		Sender:     testSender,
		Success:    true,
		Receipt:    userop.TxReceipt{TransactionHash: common.HexToHash("0x02"), Status: 1},
	}
}
