package core_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"PoolIndexer/internal/chain"
	"PoolIndexer/internal/core"
	"PoolIndexer/internal/event"
	"PoolIndexer/internal/observability"
	"PoolIndexer/internal/state"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	poolX    = "0x00000000000000000000000000000000000000a1"
	nftPoolY = "0x00000000000000000000000000000000000000b2"
	userA    = "0x000000000000000000000000000000000000000a"
	userB    = "0x000000000000000000000000000000000000000b"
	manager  = "0x00000000000000000000000000000000000000ee"
	factory  = "0x00000000000000000000000000000000000000ff"
)

var errRevert = errors.New("execution reverted")

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func d18(n int64) decimal.Decimal {
	return decimal.NewFromBigInt(e18(n), 0)
}

// fakeReader serves per-address contract state. Unset fields revert.
type fakeReader struct {
	names     map[string]string
	prices    map[string]*big.Int
	supplies  map[string]*big.Int
	positions map[string][]string
	balances  map[string][]*big.Int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		names:     make(map[string]string),
		prices:    make(map[string]*big.Int),
		supplies:  make(map[string]*big.Int),
		positions: make(map[string][]string),
		balances:  make(map[string][]*big.Int),
	}
}

func (f *fakeReader) Name(_ context.Context, a string, _ uint64) (string, error) {
	if n, ok := f.names[a]; ok {
		return n, nil
	}
	return "", errRevert
}

func lookup(m map[string]*big.Int, a string) (*big.Int, error) {
	if v, ok := m[a]; ok {
		return new(big.Int).Set(v), nil
	}
	return nil, errRevert
}

func (f *fakeReader) TokenPrice(_ context.Context, a string, _ uint64) (*big.Int, error) {
	return lookup(f.prices, a)
}
func (f *fakeReader) TotalSupply(_ context.Context, a string, _ uint64) (*big.Int, error) {
	return lookup(f.supplies, a)
}
func (f *fakeReader) PerformanceFee(context.Context, string, uint64) (*big.Int, error) {
	return big.NewInt(1000), nil
}
func (f *fakeReader) MaxSupply(context.Context, string, uint64) (*big.Int, error) {
	return big.NewInt(10_000), nil
}
func (f *fakeReader) SeedPrice(context.Context, string, uint64) (*big.Int, error) {
	return e18(1), nil
}
func (f *fakeReader) AvailableTokensPerClass(context.Context, string, uint64) ([4]*big.Int, error) {
	return [4]*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4)}, nil
}
func (f *fakeReader) Positions(_ context.Context, a string, _ uint64) ([]string, []*big.Int, error) {
	addrs, ok := f.positions[a]
	if !ok {
		return nil, nil, errRevert
	}
	return addrs, f.balances[a], nil
}

type harness struct {
	engine   *core.Engine
	store    *state.MemoryStore
	reader   *fakeReader
	registry *chain.MemoryRegistry
	metrics  *observability.Metrics
	outputs  chan core.Output
}

func newHarness(t *testing.T, mutate func(*core.Config)) *harness {
	t.Helper()
	h := &harness{
		store:    state.NewMemoryStore(),
		reader:   newFakeReader(),
		registry: chain.NewMemoryRegistry(),
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		outputs:  make(chan core.Output, 64),
	}
	cfg := core.Config{DedupCapacity: 128}
	if mutate != nil {
		mutate(&cfg)
	}
	h.engine = h.newEngine(t, cfg)
	return h
}

func (h *harness) newEngine(t *testing.T, cfg core.Config) *core.Engine {
	t.Helper()
	fetcher := chain.NewFetcher(h.reader, nil, zerolog.Nop(), h.metrics.ContractReadFailed)
	eng, err := core.NewEngine(cfg, h.store, fetcher, h.registry, h.metrics, zerolog.Nop(), h.outputs)
	require.NoError(t, err)
	return eng
}

func logAt(addr, tx string, block uint64, ts int64, idx uint64) event.Log {
	return event.Log{Address: addr, TxHash: tx, BlockNumber: block, Timestamp: ts, LogIndex: idx}
}

func mustCreated(kind event.PoolKind, pool string, block uint64, ts int64) *event.PoolCreated {
	return &event.PoolCreated{
		Log:            logAt(factory, "0xc0"+pool[len(pool)-2:], block, ts, 0),
		Kind:           kind,
		PoolAddress:    pool,
		ManagerAddress: manager,
	}
}

func mustDeposit(kind event.PoolKind, pool, user, tx string, block uint64, ts int64, usd, tokens *big.Int) *event.Deposit {
	return &event.Deposit{Log: logAt(pool, tx, block, ts, 1), Kind: kind, UserAddress: user, Amount: usd, PoolTokens: tokens}
}

func mustWithdraw(kind event.PoolKind, pool, user, tx string, block uint64, ts int64, tokens, value *big.Int) *event.Withdraw {
	return &event.Withdraw{Log: logAt(pool, tx, block, ts, 1), Kind: kind, UserAddress: user, PoolTokens: tokens, ValueWithdrawn: value}
}

func load[T any](t *testing.T, h *harness, kind state.Kind, id string) *T {
	t.Helper()
	v, found, err := state.Load[T](context.Background(), state.NewUnitOfWork(h.store), kind, id)
	require.NoError(t, err)
	require.True(t, found, "%s/%s not found", kind, id)
	return v
}

func (h *harness) protocol(t *testing.T) *state.Protocol {
	return load[state.Protocol](t, h, state.KindProtocol, h.engine.ProtocolID())
}

func TestScenario_DepositThenFullWithdraw(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.reader.names[poolX] = "Pool X"
	h.reader.prices[poolX] = e18(2)
	h.reader.supplies[poolX] = e18(50)

	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindPool, poolX, 5, 500)))
	require.NoError(t, h.engine.ProcessEvent(ctx,
		mustDeposit(event.PoolKindPool, poolX, userA, "0xaaa", 10, 1000, e18(100), e18(50))))

	pool := load[state.Pool](t, h, state.KindPool, poolX)
	assert.True(t, pool.TradeVolumeUSD.Equal(d18(100)))
	assert.True(t, pool.TotalValueLockedUSD.Equal(d18(100)))

	pos := load[state.Position](t, h, state.KindPoolPosition, userA+"-"+poolX)
	assert.Equal(t, e18(50), pos.TokenBalance)
	assert.Equal(t, e18(2), pos.AveragePrice)

	day := load[state.PoolBucket](t, h, state.KindPoolDayData, poolX+"-0")
	assert.True(t, day.VolumeUSD.Equal(d18(100)))
	assert.Equal(t, int64(1), day.Txns)
	assert.Equal(t, int64(1), h.protocol(t).TxCount)

	require.NoError(t, h.engine.ProcessEvent(ctx,
		mustWithdraw(event.PoolKindPool, poolX, userA, "0xbbb", 11, 2000, e18(50), e18(100))))

	pos = load[state.Position](t, h, state.KindPoolPosition, userA+"-"+poolX)
	assert.Equal(t, 0, pos.TokenBalance.Sign())
	assert.Equal(t, 0, pos.AveragePrice.Sign())

	pool = load[state.Pool](t, h, state.KindPool, poolX)
	assert.True(t, pool.TotalValueLockedUSD.IsZero())
	assert.True(t, pool.TradeVolumeUSD.Equal(d18(200)))

	// Only the deposit and the withdraw count as transactions
	assert.Equal(t, int64(2), h.protocol(t).TxCount)
	assert.Equal(t, int64(1), h.protocol(t).PoolCount)
	assert.Equal(t, int64(3), h.engine.GetSequence())

	protocolDay := load[state.ProtocolBucket](t, h, state.KindProtocolDayData, h.engine.ProtocolID()+"-0")
	assert.Equal(t, int64(2), protocolDay.Txns)
}

func TestPoolCreated_WritesSupportingEntities(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.reader.names[nftPoolY] = "NFT Y"
	h.reader.prices[nftPoolY] = e18(1)

	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindNFTPool, nftPoolY, 5, 500)))

	pool := load[state.NFTPool](t, h, state.KindNFTPool, nftPoolY)
	assert.Equal(t, "NFT Y", pool.Name)
	assert.Equal(t, manager, pool.Manager)
	assert.Equal(t, big.NewInt(10_000), pool.MaxSupply)
	assert.Equal(t, big.NewInt(4), pool.AvailableC4)
	assert.True(t, pool.TradeVolumeUSD.IsZero())
	// Failed supply read falls back to zero
	assert.Equal(t, 0, pool.TotalSupply.Sign())

	load[state.PoolLookup](t, h, state.KindNFTPoolLookup, nftPoolY)
	load[state.User](t, h, state.KindUser, manager)
	mi := load[state.ManagedInvestment](t, h, state.KindManagedInvestment, manager+"-"+nftPoolY)
	assert.Equal(t, "NFTPool", mi.Kind)

	tx := load[state.Transaction](t, h, state.KindNFTPoolTransaction, "0xc0b2")
	require.NotNil(t, tx.Create)
	load[state.SubRecord](t, h, state.KindNFTPoolCreate, "0xc0b2-create")

	p := h.protocol(t)
	assert.Equal(t, int64(1), p.NFTPoolCount)
	assert.Equal(t, int64(0), p.PoolCount)

	regs := h.registry.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, nftPoolY, regs[0].Address)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ContractReadFailures.WithLabelValues(chain.MethodTotalSupply)))
}

func TestPoolDeposit_DerivesTokensFromPrice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.reader.prices[poolX] = e18(4)

	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindPool, poolX, 5, 500)))
	require.NoError(t, h.engine.ProcessEvent(ctx,
		mustDeposit(event.PoolKindPool, poolX, userA, "0xaaa", 10, 1000, e18(100), nil)))

	pos := load[state.Position](t, h, state.KindPoolPosition, userA+"-"+poolX)
	assert.Equal(t, e18(25), pos.TokenBalance)
	assert.Equal(t, e18(4), pos.AveragePrice)

	sub := load[state.SubRecord](t, h, state.KindPoolDeposit, "0xaaa-deposit")
	assert.Equal(t, e18(25), sub.TokenAmount)
	assert.Equal(t, e18(100), sub.USDAmount)

	snap := load[state.PositionSnapshot](t, h, state.KindPoolPositionSnapshot, userA+"-"+poolX+"-1000")
	assert.Equal(t, e18(25), snap.TokenBalance)
	assert.Equal(t, e18(4), snap.TokenPrice)
}

func TestWithdraw_ValueDerivedFromPrice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.reader.prices[poolX] = e18(2)

	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindPool, poolX, 5, 500)))
	require.NoError(t, h.engine.ProcessEvent(ctx,
		mustDeposit(event.PoolKindPool, poolX, userA, "0xaaa", 10, 1000, e18(100), e18(50))))

	h.reader.prices[poolX] = e18(3)
	require.NoError(t, h.engine.ProcessEvent(ctx,
		mustWithdraw(event.PoolKindPool, poolX, userA, "0xbbb", 11, 2000, e18(10), nil)))

	sub := load[state.SubRecord](t, h, state.KindPoolWithdraw, "0xbbb-withdraw")
	assert.Equal(t, e18(30), sub.USDAmount)

	pool := load[state.Pool](t, h, state.KindPool, poolX)
	assert.True(t, pool.TotalValueLockedUSD.Equal(d18(70)))
	assert.True(t, pool.TradeVolumeUSD.Equal(d18(130)))
}

func TestVolumeMonotonicAndTVLFloor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.reader.prices[nftPoolY] = e18(1)
	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindNFTPool, nftPoolY, 1, 100)))

	steps := []struct {
		deposit bool
		usd     int64
	}{
		{true, 10}, {false, 4}, {true, 7}, {false, 50}, {true, 3},
	}

	prevVolume := decimal.Zero
	sum := decimal.Zero
	for i, s := range steps {
		block := uint64(10 + i)
		tx := "0x" + string(rune('a'+i))
		var evt event.Event
		if s.deposit {
			evt = mustDeposit(event.PoolKindNFTPool, nftPoolY, userA, tx, block, 1000, e18(s.usd), e18(s.usd))
		} else {
			evt = mustWithdraw(event.PoolKindNFTPool, nftPoolY, userA, tx, block, 1000, e18(s.usd), e18(s.usd))
		}
		require.NoError(t, h.engine.ProcessEvent(ctx, evt))
		sum = sum.Add(d18(s.usd))

		pool := load[state.NFTPool](t, h, state.KindNFTPool, nftPoolY)
		assert.True(t, pool.TradeVolumeUSD.GreaterThanOrEqual(prevVolume))
		assert.True(t, pool.TradeVolumeUSD.Equal(sum))
		assert.False(t, pool.TotalValueLockedUSD.IsNegative())
		prevVolume = pool.TradeVolumeUSD

		pos := load[state.Position](t, h, state.KindNFTPoolPosition, userA+"-"+nftPoolY)
		assert.GreaterOrEqual(t, pos.TokenBalance.Sign(), 0)
	}

	pool := load[state.NFTPool](t, h, state.KindNFTPool, nftPoolY)
	// 10-4+7 = 13, then a 50 withdrawal floors at 0, then +3
	assert.True(t, pool.TotalValueLockedUSD.Equal(d18(3)))

	day := load[state.PoolBucket](t, h, state.KindNFTPoolDayData, nftPoolY+"-0")
	assert.Equal(t, int64(5), day.Txns)
	assert.True(t, day.VolumeUSD.Equal(sum))
}

func TestTxCountEqualsAppliedEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.reader.prices[poolX] = e18(1)
	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindPool, poolX, 1, 100)))

	// Two events in one chain transaction both count
	d1 := mustDeposit(event.PoolKindPool, poolX, userA, "0xt1", 2, 200, e18(1), e18(1))
	d2 := mustDeposit(event.PoolKindPool, poolX, userB, "0xt1", 2, 200, e18(1), e18(1))
	d2.LogIndex = 2
	require.NoError(t, h.engine.ProcessEvent(ctx, d1))
	require.NoError(t, h.engine.ProcessEvent(ctx, d2))

	assert.Equal(t, int64(2), h.protocol(t).TxCount)

	protocolDay := load[state.ProtocolBucket](t, h, state.KindProtocolDayData, h.engine.ProtocolID()+"-0")
	assert.Equal(t, int64(2), protocolDay.Txns)
	assert.Equal(t, int64(2), protocolDay.TxCount)
	assert.True(t, protocolDay.VolumeUSD.Equal(d18(2)))
}

func TestSameKindInOneTransactionOverwrites(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.reader.prices[poolX] = e18(1)
	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindPool, poolX, 1, 100)))

	d1 := mustDeposit(event.PoolKindPool, poolX, userA, "0xt1", 2, 200, e18(1), e18(1))
	d2 := mustDeposit(event.PoolKindPool, poolX, userB, "0xt1", 2, 200, e18(5), e18(5))
	d2.LogIndex = 2
	require.NoError(t, h.engine.ProcessEvent(ctx, d1))
	require.NoError(t, h.engine.ProcessEvent(ctx, d2))

	assert.Equal(t, 1, h.store.Count(state.KindPoolDeposit))
	sub := load[state.SubRecord](t, h, state.KindPoolDeposit, "0xt1-deposit")
	assert.Equal(t, userB, sub.UserAddress)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.LedgerOverwrites))
}

func TestDuplicateDeliveryIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.reader.prices[poolX] = e18(2)
	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindPool, poolX, 1, 100)))

	dep := mustDeposit(event.PoolKindPool, poolX, userA, "0xaaa", 10, 1000, e18(100), e18(50))
	require.NoError(t, h.engine.ProcessEvent(ctx, dep))
	hash := h.engine.GetStateHash()

	assert.ErrorIs(t, h.engine.ProcessEvent(ctx, dep), core.ErrDuplicate)

	pool := load[state.Pool](t, h, state.KindPool, poolX)
	assert.True(t, pool.TradeVolumeUSD.Equal(d18(100)))
	assert.Equal(t, int64(1), h.protocol(t).TxCount)
	assert.Equal(t, int64(2), h.engine.GetSequence())
	assert.Equal(t, hash, h.engine.GetStateHash())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.IdempotencyDuplicates.WithLabelValues("Deposit", "lru")))
}

func TestDuplicateCaughtByStoreAfterRestart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.reader.prices[poolX] = e18(2)
	created := mustCreated(event.PoolKindPool, poolX, 1, 100)
	dep := mustDeposit(event.PoolKindPool, poolX, userA, "0xaaa", 10, 1000, e18(100), e18(50))
	require.NoError(t, h.engine.ProcessEvent(ctx, created))
	require.NoError(t, h.engine.ProcessEvent(ctx, dep))
	hash := h.engine.GetStateHash()

	restarted := h.newEngine(t, core.Config{DedupCapacity: 128})
	require.NoError(t, restarted.Recover(ctx))
	assert.Equal(t, int64(2), restarted.GetSequence())
	assert.Equal(t, hash, restarted.GetStateHash())

	// Older than the tip but already applied: dropped, not rejected
	assert.ErrorIs(t, restarted.ProcessEvent(ctx, created), core.ErrDuplicate)
	assert.Equal(t, int64(1), h.protocol(t).PoolCount)
	assert.Equal(t, int64(2), restarted.GetSequence())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.IdempotencyDuplicates.WithLabelValues("CreatedPool", "store")))
}

func TestOutOfOrderRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.reader.prices[poolX] = e18(1)
	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindPool, poolX, 5, 100)))
	require.NoError(t, h.engine.ProcessEvent(ctx,
		mustDeposit(event.PoolKindPool, poolX, userA, "0xt2", 10, 200, e18(1), e18(1))))

	err := h.engine.ProcessEvent(ctx, mustDeposit(event.PoolKindPool, poolX, userA, "0xt1", 9, 150, e18(1), e18(1)))
	assert.ErrorIs(t, err, core.ErrOutOfOrder)
	assert.Equal(t, int64(1), h.protocol(t).TxCount)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.EventOutOfOrder))
}

func TestMissingPoolIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	err := h.engine.ProcessEvent(ctx, mustDeposit(event.PoolKindPool, poolX, userA, "0xaaa", 10, 1000, e18(1), e18(1)))
	require.ErrorIs(t, err, core.ErrIntegrity)

	// Nothing from the event is committed
	_, err = h.store.Get(ctx, state.KindUser, userA)
	assert.ErrorIs(t, err, state.ErrNotFound)
	_, err = h.store.Get(ctx, state.KindProtocol, h.engine.ProtocolID())
	assert.ErrorIs(t, err, state.ErrNotFound)
	assert.Equal(t, int64(0), h.engine.GetSequence())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.CoreEventsRejected.WithLabelValues("Deposit", "integrity")))

	// The pipeline keeps going
	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindPool, poolX, 11, 1100)))
}

func TestFactoryAllowList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *core.Config) {
		c.PoolFactories = []string{"0x00000000000000000000000000000000000000FF"}
	})

	bad := mustCreated(event.PoolKindPool, poolX, 1, 100)
	bad.Address = "0x0000000000000000000000000000000000000001"
	assert.ErrorIs(t, h.engine.ProcessEvent(ctx, bad), core.ErrIntegrity)

	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindPool, poolX, 2, 200)))
	// NFT pool list is empty so any factory is accepted
	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindNFTPool, nftPoolY, 3, 300)))
}

func TestMintedManagerFee(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.reader.prices[poolX] = e18(2)
	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindPool, poolX, 1, 100)))

	fee := &event.MintedManagerFee{Log: logAt(poolX, "0xfee", 2, 200, 3), Amount: e18(5)}
	require.NoError(t, h.engine.ProcessEvent(ctx, fee))

	mgr := load[state.User](t, h, state.KindUser, manager)
	assert.True(t, mgr.FeesEarned.Equal(d18(10)))

	pool := load[state.Pool](t, h, state.KindPool, poolX)
	assert.True(t, pool.FeesCollected.Equal(d18(10)))
	assert.True(t, pool.TradeVolumeUSD.Equal(d18(10)))
	assert.True(t, pool.TotalValueLockedUSD.Equal(d18(10)))
	assert.Equal(t, big.NewInt(1000), pool.PerformanceFee)

	p := h.protocol(t)
	assert.True(t, p.TotalVolumeUSD.Equal(d18(10)))

	sub := load[state.SubRecord](t, h, state.KindPoolFeeMint, "0xfee-feeMint")
	assert.Equal(t, manager, sub.UserAddress)
	assert.Equal(t, e18(5), sub.TokenAmount)
}

func TestExecutedTransactionSyncsMirrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindNFTPool, nftPoolY, 1, 100)))

	h.reader.positions[nftPoolY] = []string{userA}
	h.reader.balances[nftPoolY] = []*big.Int{big.NewInt(42)}
	sync := &event.ExecutedTransaction{Log: logAt(nftPoolY, "0xs1", 2, 200, 0), Kind: event.PoolKindNFTPool}
	require.NoError(t, h.engine.ProcessEvent(ctx, sync))

	pool := load[state.NFTPool](t, h, state.KindNFTPool, nftPoolY)
	assert.Equal(t, []string{userA}, pool.PositionAddresses)
	require.Len(t, pool.PositionBalances, 1)
	assert.Equal(t, int64(42), pool.PositionBalances[0].Int64())

	// A failed read keeps the previous mirror
	delete(h.reader.positions, nftPoolY)
	sync2 := &event.ExecutedTransaction{Log: logAt(nftPoolY, "0xs2", 3, 300, 0), Kind: event.PoolKindNFTPool}
	require.NoError(t, h.engine.ProcessEvent(ctx, sync2))
	pool = load[state.NFTPool](t, h, state.KindNFTPool, nftPoolY)
	assert.Equal(t, []string{userA}, pool.PositionAddresses)

	assert.True(t, pool.TradeVolumeUSD.IsZero())
	assert.Equal(t, 0, h.store.Count(state.KindNFTPoolDayData))
	assert.Equal(t, 0, h.store.Count(state.KindProtocolDayData))
	assert.Equal(t, int64(0), h.protocol(t).TxCount)
}

func TestUSDValueAccountingForNFTPools(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *core.Config) { c.NFTPoolAccounting = state.USDValue{} })
	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindNFTPool, nftPoolY, 1, 100)))
	require.NoError(t, h.engine.ProcessEvent(ctx,
		mustDeposit(event.PoolKindNFTPool, nftPoolY, userA, "0xd1", 2, 200, e18(100), e18(10))))
	require.NoError(t, h.engine.ProcessEvent(ctx,
		mustWithdraw(event.PoolKindNFTPool, nftPoolY, userA, "0xw1", 3, 300, e18(4), e18(30))))

	pos := load[state.Position](t, h, state.KindNFTPoolPosition, userA+"-"+nftPoolY)
	assert.Equal(t, e18(70), pos.USDValue)
	assert.Equal(t, e18(6), pos.TokenBalance)
	assert.Equal(t, 0, pos.AveragePrice.Sign())
}

// flakyRegistry fails the first n registrations.
type flakyRegistry struct {
	*chain.MemoryRegistry
	failures int
}

func (f *flakyRegistry) Register(ctx context.Context, kind event.PoolKind, address string, block uint64) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("nats: no responders")
	}
	return f.MemoryRegistry.Register(ctx, kind, address, block)
}

func TestRegistrationFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	registry := &flakyRegistry{MemoryRegistry: chain.NewMemoryRegistry(), failures: 1}
	fetcher := chain.NewFetcher(h.reader, nil, zerolog.Nop(), h.metrics.ContractReadFailed)
	eng, err := core.NewEngine(core.Config{DedupCapacity: 128}, h.store, fetcher, registry, h.metrics, zerolog.Nop(), nil)
	require.NoError(t, err)

	created := mustCreated(event.PoolKindPool, poolX, 1, 100)
	err = eng.ProcessEvent(ctx, created)
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrIntegrity)

	_, err = h.store.Get(ctx, state.KindPool, poolX)
	assert.ErrorIs(t, err, state.ErrNotFound)
	assert.Equal(t, int64(0), eng.GetSequence())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RegistrationFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.CoreEventsRejected.WithLabelValues("CreatedPool", "registration")))

	// Redelivery registers and commits
	require.NoError(t, eng.ProcessEvent(ctx, created))
	load[state.Pool](t, h, state.KindPool, poolX)
	require.Len(t, registry.Registrations(), 1)
	assert.Equal(t, poolX, registry.Registrations()[0].Address)
	assert.Equal(t, int64(1), eng.GetSequence())
}

func TestOutputsEmittedAfterCommit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.engine.ProcessEvent(ctx, mustCreated(event.PoolKindPool, poolX, 1, 100)))

	select {
	case out := <-h.outputs:
		assert.Equal(t, int64(1), out.Record.Sequence)
		assert.Equal(t, "CreatedPool", out.Record.EventType)
		assert.NotEmpty(t, out.Writes)
	default:
		t.Fatal("no output emitted")
	}
}

func TestUnknownEvent(t *testing.T) {
	h := newHarness(t, nil)
	err := h.engine.ProcessEvent(context.Background(), &unknownEvent{Log: logAt(poolX, "0x1", 1, 1, 0)})
	assert.ErrorIs(t, err, core.ErrUnknownEvent)
}

type unknownEvent struct{ event.Log }

func (*unknownEvent) EventType() event.EventType { return event.EventTypeUnknown }
