package state_test

import (
	"context"
	"math/big"
	"testing"

	"PoolIndexer/internal/event"
	"PoolIndexer/internal/state"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func TestIDs(t *testing.T) {
	assert.Equal(t, "0xu-0xp", state.PositionID("0xu", "0xp"))
	assert.Equal(t, "0xm-0xp", state.ManagedInvestmentID("0xm", "0xp"))
	assert.Equal(t, "0xt-deposit", state.SubRecordID("0xt", state.RoleDeposit))
	assert.Equal(t, "0xu-0xp-1700000000", state.PositionSnapshotID("0xu-0xp", 1_700_000_000))

	assert.Equal(t, int64(19675), state.DayIndex(1_700_000_000))
	assert.Equal(t, int64(472222), state.HourIndex(1_700_000_000))
	assert.Equal(t, "0xp-19675", state.BucketID("0xp", 19675))
}

func TestBucketBoundaries(t *testing.T) {
	assert.Equal(t, state.DayIndex(86399), int64(0))
	assert.Equal(t, state.DayIndex(86400), int64(1))
	assert.Equal(t, state.HourIndex(3599), int64(0))
	assert.Equal(t, state.HourIndex(3600), int64(1))
}

func TestKindsOf(t *testing.T) {
	assert.Equal(t, state.KindPool, state.KindsOf(event.PoolKindPool).Vehicle)
	assert.Equal(t, state.KindNFTPoolPosition, state.KindsOf(event.PoolKindNFTPool).Position)
	assert.Equal(t, state.KindNFTPoolFeeMint, state.KindsOf(event.PoolKindNFTPool).SubRecords[state.RoleFeeMint])
}

func TestWeightedAverage_FirstDeposit(t *testing.T) {
	p := state.NewPosition("0xu", "0xp")
	require.NoError(t, state.WeightedAverage{}.ApplyDeposit(p, e18(100), e18(50), e18(2)))

	assert.Equal(t, e18(50), p.TokenBalance)
	assert.Equal(t, e18(2), p.AveragePrice)
}

func TestWeightedAverage_SecondDepositBlends(t *testing.T) {
	p := state.NewPosition("0xu", "0xp")
	acct := state.WeightedAverage{}
	require.NoError(t, acct.ApplyDeposit(p, e18(100), e18(100), nil))
	require.NoError(t, acct.ApplyDeposit(p, e18(300), e18(100), nil))

	assert.Equal(t, e18(200), p.TokenBalance)
	assert.Equal(t, e18(2), p.AveragePrice)
}

func TestWeightedAverage_ZeroBalanceKeepsPrice(t *testing.T) {
	p := state.NewPosition("0xu", "0xp")
	err := state.WeightedAverage{}.ApplyDeposit(p, e18(10), big.NewInt(0), nil)

	assert.ErrorIs(t, err, state.ErrZeroBalance)
	assert.Equal(t, 0, p.AveragePrice.Sign())
	assert.Equal(t, 0, p.TokenBalance.Sign())
}

func TestWeightedAverage_PartialWithdraw(t *testing.T) {
	p := state.NewPosition("0xu", "0xp")
	acct := state.WeightedAverage{}
	require.NoError(t, acct.ApplyDeposit(p, e18(100), e18(50), nil))

	acct.ApplyWithdraw(p, e18(40), e18(20))

	assert.Equal(t, e18(30), p.TokenBalance)
	assert.Equal(t, e18(2), p.AveragePrice)
}

func TestWeightedAverage_OverWithdrawCloses(t *testing.T) {
	p := state.NewPosition("0xu", "0xp")
	acct := state.WeightedAverage{}
	require.NoError(t, acct.ApplyDeposit(p, e18(100), e18(50), nil))

	acct.ApplyWithdraw(p, e18(10), e18(80))

	assert.Equal(t, 0, p.TokenBalance.Sign())
	assert.Equal(t, 0, p.AveragePrice.Sign())
}

func TestUSDValue_Accumulates(t *testing.T) {
	p := state.NewPosition("0xu", "0xp")
	acct := state.USDValue{}
	require.NoError(t, acct.ApplyDeposit(p, e18(100), e18(50), nil))
	acct.ApplyWithdraw(p, e18(150), e18(20))

	assert.Equal(t, 0, p.USDValue.Sign())
	assert.Equal(t, e18(30), p.TokenBalance)
}

func TestParseAccounting(t *testing.T) {
	a, err := state.ParseAccounting("usd-value")
	require.NoError(t, err)
	assert.Equal(t, state.AccountingUSDValue, a.Name())

	a, err = state.ParseAccounting("")
	require.NoError(t, err)
	assert.Equal(t, state.AccountingWeightedAverage, a.Name())

	_, err = state.ParseAccounting("fifo")
	assert.Error(t, err)
}

func TestUnitOfWork_ReadYourWrites(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	uow := state.NewUnitOfWork(store)

	_, found, err := state.Load[state.User](ctx, uow, state.KindUser, "0xu")
	require.NoError(t, err)
	assert.False(t, found)

	uow.Save(state.KindUser, "0xu", &state.User{ID: "0xu", FeesEarned: decimal.NewFromInt(5)})

	u, found, err := state.Load[state.User](ctx, uow, state.KindUser, "0xu")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, u.FeesEarned.Equal(decimal.NewFromInt(5)))

	// Not visible to the store until commit
	_, err = store.Get(ctx, state.KindUser, "0xu")
	assert.ErrorIs(t, err, state.ErrNotFound)

	writes, err := uow.Writes()
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx, writes, &state.EventRecord{Key: "0xt:1", Sequence: 1}))

	fresh := state.NewUnitOfWork(store)
	u, found, err = state.Load[state.User](ctx, fresh, state.KindUser, "0xu")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, u.FeesEarned.Equal(decimal.NewFromInt(5)))

	has, err := store.HasEvent(ctx, "0xt:1")
	require.NoError(t, err)
	assert.True(t, has)

	last, err := store.LastEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last.Sequence)
}

func TestUnitOfWork_WritesInFirstSaveOrder(t *testing.T) {
	uow := state.NewUnitOfWork(state.NewMemoryStore())
	uow.Save(state.KindUser, "b", &state.User{ID: "b"})
	uow.Save(state.KindUser, "a", &state.User{ID: "a"})
	uow.Save(state.KindUser, "b", &state.User{ID: "b"})

	writes, err := uow.Writes()
	require.NoError(t, err)
	require.Len(t, writes, 2)
	assert.Equal(t, "b", writes[0].ID)
	assert.Equal(t, "a", writes[1].ID)
}

func TestVehicleCommonFieldsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	uow := state.NewUnitOfWork(store)
	uow.Save(state.KindNFTPool, "0xp", &state.NFTPool{
		Investment: state.Investment{ID: "0xp", Name: "N", TokenPrice: e18(1)},
		MaxSupply:  big.NewInt(1000),
	})
	writes, err := uow.Writes()
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx, writes, nil))

	p, found, err := state.Load[state.NFTPool](ctx, state.NewUnitOfWork(store), state.KindNFTPool, "0xp")
	require.NoError(t, err)
	require.True(t, found)

	var v state.Vehicle = p
	assert.Equal(t, event.PoolKindNFTPool, v.Kind())
	assert.Equal(t, "N", v.Common().Name)
	assert.Equal(t, big.NewInt(1000), p.MaxSupply)
}
