package relay

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/scalarorg/kakarot-relayer/pkg/codec"
	"github.com/scalarorg/kakarot-relayer/pkg/db/pending"
	"github.com/scalarorg/kakarot-relayer/pkg/events"
	"github.com/scalarorg/kakarot-relayer/pkg/starknet"
	"github.com/scalarorg/kakarot-relayer/pkg/testutil/devnet"
	"github.com/scalarorg/kakarot-relayer/pkg/translation"
	"github.com/scalarorg/kakarot-relayer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var recipient = common.HexToAddress("0x2bb588d7bb6faAA93f656C3C78fFc1bEAfd1813D")

type testEnv struct {
	network    *devnet.Devnet
	translator *translation.Translator
	store      *pending.MemoryStore
	bus        *events.EventBus
	engine     *Engine
	resolver   *Resolver
	eoa        *devnet.Eoa
}

func newTestEnv(t *testing.T, network *devnet.Devnet, opts ...EngineOption) *testEnv {
	t.Helper()
	translator, err := network.Translator()
	require.NoError(t, err)
	eoa, err := network.Eoa()
	require.NoError(t, err)
	store := pending.NewMemoryStore()
	bus := events.NewEventBus(nil)
	t.Cleanup(bus.Close)
	opts = append([]EngineOption{WithEventBus(bus)}, opts...)
	return &testEnv{
		network:    network,
		translator: translator,
		store:      store,
		bus:        bus,
		engine:     NewEngine(translator, store, network, opts...),
		resolver:   NewResolver(store, translator),
		eoa:        eoa,
	}
}

func (env *testEnv) transfer(t *testing.T) (*ethTypes.Transaction, []byte) {
	t.Helper()
	tx, raw, err := env.eoa.Transfer(recipient, big.NewInt(1000))
	require.NoError(t, err)
	return tx, raw
}

func (env *testEnv) submit(t *testing.T) *Submission {
	t.Helper()
	_, raw := env.transfer(t)
	submission, err := env.engine.Submit(context.Background(), raw)
	require.NoError(t, err)
	return submission
}

type mockExecutionClient struct {
	mock.Mock
}

func (m *mockExecutionClient) ChainID(ctx context.Context) (starknet.Felt, error) {
	args := m.Called(ctx)
	return args.Get(0).(starknet.Felt), args.Error(1)
}

func (m *mockExecutionClient) AddInvokeTransaction(ctx context.Context, tx *starknet.InvokeTransaction) (starknet.Felt, error) {
	args := m.Called(ctx, tx)
	return args.Get(0).(starknet.Felt), args.Error(1)
}

func TestSubmitThenResolveRetryZero(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, devnet.New())
	submitted := env.bus.Subscribe(events.EVENT_RELAY_SUBMITTED)

	signed, raw := env.transfer(t)
	require.Equal(t, uint64(0), signed.Nonce())
	submission, err := env.engine.Submit(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, signed.Hash(), submission.EthereumHash)

	record, err := env.store.Get(ctx, signed.Hash())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, uint8(0), record.Retries)
	assert.Nil(t, record.BlockNumber)
	assert.Equal(t, env.eoa.Address(), record.Tx.From)

	resolved, err := env.resolver.Resolve(ctx, signed.Hash(), 0)
	require.NoError(t, err)
	assert.True(t, submission.StarknetHash.Equal(resolved))
	require.Len(t, env.network.Transactions(), 1)
	assert.True(t, env.network.Transactions()[0].Hash(devnet.DefaultChainID).Equal(resolved))

	event := <-submitted
	assert.Equal(t, signed.Hash(), event.EthHash)
	assert.True(t, submission.StarknetHash.Equal(event.StarknetHash))
}

func TestSubmitDuplicate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, devnet.New())
	_, raw := env.transfer(t)

	_, err := env.engine.Submit(ctx, raw)
	require.NoError(t, err)
	_, err = env.engine.Submit(ctx, raw)
	require.ErrorIs(t, err, types.ErrAlreadyKnown)
	assert.Len(t, env.network.Transactions(), 1)

	records, err := env.store.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestConcurrentSubmitSameBytes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, devnet.New())
	signed, raw := env.transfer(t)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Submit(ctx, raw)
			if err != nil {
				assert.ErrorIs(t, err, types.ErrAlreadyKnown)
				return
			}
			mu.Lock()
			accepted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Len(t, env.network.Transactions(), 1)
	records, err := env.store.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, signed.Hash(), records[0].EthHash)
}

// contextStore fails inserts on a done context, and the first failInserts inserts.
type contextStore struct {
	pending.Store
	mu          sync.Mutex
	failInserts int
}

func (s *contextStore) Insert(ctx context.Context, record *pending.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInserts > 0 {
		s.failInserts--
		return errors.New("connection refused")
	}
	return s.Store.Insert(ctx, record)
}

// cancellingClient cancels the caller once the sequencer accepted the transaction.
type cancellingClient struct {
	ExecutionClient
	cancel context.CancelFunc
}

func (c *cancellingClient) AddInvokeTransaction(ctx context.Context, tx *starknet.InvokeTransaction) (starknet.Felt, error) {
	hash, err := c.ExecutionClient.AddInvokeTransaction(ctx, tx)
	c.cancel()
	return hash, err
}

func TestSubmitSurvivesCallerCancellation(t *testing.T) {
	network := devnet.New()
	translator, err := network.Translator()
	require.NoError(t, err)
	store := &contextStore{Store: pending.NewMemoryStore()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := NewEngine(translator, store, &cancellingClient{ExecutionClient: network, cancel: cancel})

	eoa, err := network.Eoa()
	require.NoError(t, err)
	signed, raw, err := eoa.Transfer(recipient, big.NewInt(1000))
	require.NoError(t, err)

	submission, err := engine.Submit(ctx, raw)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	oldest, err := store.GetOldest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, signed.Hash(), oldest.EthHash)
	assert.True(t, submission.StarknetHash.Equal(network.Transactions()[0].Hash(devnet.DefaultChainID)))
}

func TestSubmitResendAfterStoreFailure(t *testing.T) {
	ctx := context.Background()
	network := devnet.New()
	translator, err := network.Translator()
	require.NoError(t, err)
	store := &contextStore{Store: pending.NewMemoryStore(), failInserts: 1}
	engine := NewEngine(translator, store, network)

	eoa, err := network.Eoa()
	require.NoError(t, err)
	signed, raw, err := eoa.Transfer(recipient, big.NewInt(1000))
	require.NoError(t, err)

	_, err = engine.Submit(ctx, raw)
	require.Error(t, err)
	assert.False(t, types.IsRelayRejected(err))
	require.Len(t, network.Transactions(), 1)

	// the sequencer reports the resend as a duplicate of the accepted attempt
	submission, err := engine.Submit(ctx, raw)
	require.NoError(t, err)
	expected := network.Transactions()[0].Hash(devnet.DefaultChainID)
	assert.True(t, expected.Equal(submission.StarknetHash))
	assert.Len(t, network.Transactions(), 1)

	records, err := store.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, signed.Hash(), records[0].EthHash)
}

func TestSubmitTransportFailureIsNotRejection(t *testing.T) {
	ctx := context.Background()
	network := devnet.New()
	translator, err := network.Translator()
	require.NoError(t, err)
	store := pending.NewMemoryStore()
	client := &mockExecutionClient{}
	engine := NewEngine(translator, store, client)

	eoa, err := network.Eoa()
	require.NoError(t, err)
	_, raw, err := eoa.Transfer(recipient, big.NewInt(1000))
	require.NoError(t, err)

	timeout := errors.New("i/o timeout")
	client.On("AddInvokeTransaction", mock.Anything, mock.Anything).Return(starknet.Zero, timeout).Once()
	_, err = engine.Submit(ctx, raw)
	require.ErrorIs(t, err, timeout)
	assert.False(t, types.IsRelayRejected(err))

	oldest, err := store.GetOldest(ctx)
	require.NoError(t, err)
	assert.Nil(t, oldest)
	client.AssertExpectations(t)
}

func TestSubmitInvalidInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, devnet.New())

	_, err := env.engine.Submit(ctx, []byte{0x02, 0x01})
	require.ErrorIs(t, err, types.ErrMalformedTransaction)

	// signed for another chain id
	other, err := devnet.NewEoa(big.NewInt(1))
	require.NoError(t, err)
	_, raw, err := other.Transfer(recipient, big.NewInt(1))
	require.NoError(t, err)
	_, err = env.engine.Submit(ctx, raw)
	require.ErrorIs(t, err, types.ErrInvalidSignature)

	assert.Empty(t, env.network.Transactions())
	oldest, err := env.store.GetOldest(ctx)
	require.NoError(t, err)
	assert.Nil(t, oldest)
}

func TestSubmitRejectedIsNeverPending(t *testing.T) {
	ctx := context.Background()
	refused := errors.New("invalid signature")
	network := devnet.NewBuilder().
		WithRejection(func(*starknet.InvokeTransaction) error { return refused }).
		Build()
	env := newTestEnv(t, network)
	rejected := env.bus.Subscribe(events.EVENT_RELAY_REJECTED)

	signed, raw := env.transfer(t)
	_, err := env.engine.Submit(ctx, raw)
	require.ErrorIs(t, err, refused)
	require.True(t, types.IsRelayRejected(err))
	var rejectedErr *types.RelayRejectedError
	require.ErrorAs(t, err, &rejectedErr)
	assert.Equal(t, refused.Error(), rejectedErr.Reason)

	record, err := env.store.Get(ctx, signed.Hash())
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Equal(t, signed.Hash(), (<-rejected).EthHash)

	// the same bytes can be submitted again once the sequencer accepts them
	network.SetRejection(nil)
	_, err = env.engine.Submit(ctx, raw)
	require.NoError(t, err)
}

func TestResubmit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, devnet.New())
	submission := env.submit(t)

	first, err := env.engine.Resubmit(ctx, submission.EthereumHash)
	require.NoError(t, err)
	assert.False(t, first.Equal(submission.StarknetHash))
	resolved, err := env.resolver.Resolve(ctx, submission.EthereumHash, 1)
	require.NoError(t, err)
	assert.True(t, first.Equal(resolved))

	second, err := env.engine.Resubmit(ctx, submission.EthereumHash)
	require.NoError(t, err)
	assert.False(t, second.Equal(first))

	record, err := env.store.Get(ctx, submission.EthereumHash)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), record.Retries)
	assert.Len(t, env.network.Transactions(), 3)

	// retry 0 still resolves to the original submission
	resolved, err = env.resolver.Resolve(ctx, submission.EthereumHash, 0)
	require.NoError(t, err)
	assert.True(t, submission.StarknetHash.Equal(resolved))
}

func TestResubmitNotFound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, devnet.New())

	_, err := env.engine.Resubmit(ctx, common.HexToHash("0x1234"))
	require.ErrorIs(t, err, types.ErrNotFound)

	submission := env.submit(t)
	require.NoError(t, env.store.MarkMined(ctx, submission.EthereumHash, 3))
	_, err = env.engine.Resubmit(ctx, submission.EthereumHash)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestResubmitMaxRetries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, devnet.New(), WithMaxRetries(2))
	abandoned := env.bus.Subscribe(events.EVENT_RELAY_ABANDONED)
	submission := env.submit(t)

	for i := 0; i < 2; i++ {
		_, err := env.engine.Resubmit(ctx, submission.EthereumHash)
		require.NoError(t, err)
	}
	_, err := env.engine.Resubmit(ctx, submission.EthereumHash)
	require.ErrorIs(t, err, types.ErrMaxRetriesExceeded)

	record, err := env.store.Get(ctx, submission.EthereumHash)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), record.Retries)
	assert.Len(t, env.network.Transactions(), 3)

	event := <-abandoned
	assert.Equal(t, submission.EthereumHash, event.EthHash)
	assert.Equal(t, uint8(2), event.Retries)
}

func TestConcurrentResubmitsRespectCap(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, devnet.New(), WithMaxRetries(3))
	submission := env.submit(t)

	const workers = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []starknet.Felt
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hash, err := env.engine.Resubmit(ctx, submission.EthereumHash)
			if err != nil {
				assert.ErrorIs(t, err, types.ErrMaxRetriesExceeded)
				return
			}
			mu.Lock()
			accepted = append(accepted, hash)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, accepted, 3)
	for retry := uint8(1); retry <= 3; retry++ {
		resolved, err := env.resolver.Resolve(ctx, submission.EthereumHash, retry)
		require.NoError(t, err)
		assert.Contains(t, accepted, resolved)
	}
}

func TestResubmitRejectionKeepsIncrement(t *testing.T) {
	ctx := context.Background()
	network := devnet.New()
	translator, err := network.Translator()
	require.NoError(t, err)
	store := pending.NewMemoryStore()

	client := &mockExecutionClient{}
	engine := NewEngine(translator, store, client)

	eoa, err := network.Eoa()
	require.NoError(t, err)
	_, raw, err := eoa.Transfer(recipient, big.NewInt(1000))
	require.NoError(t, err)
	tx, err := codec.NewDecoder(translator.EthereumChainID()).Decode(raw)
	require.NoError(t, err)
	_, original, err := translator.Derive(tx, 0)
	require.NoError(t, err)

	client.On("AddInvokeTransaction", mock.Anything, mock.Anything).Return(original, nil).Once()
	submission, err := engine.Submit(ctx, raw)
	require.NoError(t, err)

	refused := &starknet.RejectedError{Code: starknet.ErrCodeValidationFailure, Message: "nonce too old"}
	client.On("AddInvokeTransaction", mock.Anything, mock.MatchedBy(func(tx *starknet.InvokeTransaction) bool {
		return len(tx.Calldata) > 0
	})).Return(starknet.Zero, refused).Once()
	_, err = engine.Resubmit(ctx, submission.EthereumHash)
	require.True(t, types.IsRelayRejected(err))

	record, err := store.Get(ctx, submission.EthereumHash)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), record.Retries)
	client.AssertExpectations(t)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, devnet.New())

	_, err := env.resolver.Resolve(ctx, common.HexToHash("0xdead"), 0)
	require.ErrorIs(t, err, types.ErrNotFound)

	submission := env.submit(t)
	// an attempt that was never submitted still resolves, and deterministically
	predicted, err := env.resolver.Resolve(ctx, submission.EthereumHash, 5)
	require.NoError(t, err)
	again, err := env.resolver.Resolve(ctx, submission.EthereumHash, 5)
	require.NoError(t, err)
	assert.True(t, predicted.Equal(again))
	assert.False(t, predicted.Equal(submission.StarknetHash))
}

func TestEthChainID(t *testing.T) {
	env := newTestEnv(t, devnet.New())
	assert.Equal(t, int64(1263227476), env.engine.EthChainID().Int64())
	assert.Equal(t, DefaultMaxRetries, env.engine.MaxRetries())
}
