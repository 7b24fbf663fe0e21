package math_test

import (
	"math/big"
	"testing"

	fpmath "PoolIndexer/internal/math"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fpmath.Scale())
}

func TestExponentToDecimal(t *testing.T) {
	assert.True(t, fpmath.ExponentToDecimal(0).Equal(decimal.NewFromInt(1)))
	assert.True(t, fpmath.ExponentToDecimal(3).Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "1000000000000000000", fpmath.ExponentToBigInt(18).String())
}

func TestConvertTokenToDecimal(t *testing.T) {
	got := fpmath.ConvertTokenToDecimal(big.NewInt(1_500_000), 6)
	assert.True(t, got.Equal(decimal.RequireFromString("1.5")), got.String())

	got = fpmath.ConvertTokenToDecimal(big.NewInt(42), 0)
	assert.True(t, got.Equal(decimal.NewFromInt(42)))

	got = fpmath.ConvertEthToDecimal(e18(7))
	assert.True(t, got.Equal(decimal.NewFromInt(7)))

	assert.True(t, fpmath.ConvertEthToDecimal(nil).IsZero())
}

func TestEqualToZero(t *testing.T) {
	assert.True(t, fpmath.EqualToZero(decimal.RequireFromString("0.000")))
	assert.False(t, fpmath.EqualToZero(decimal.RequireFromString("0.001")))
}

func TestDivide_Truncates(t *testing.T) {
	tests := []struct {
		name string
		num  int64
		den  int64
		want int64
	}{
		{"exact", 8, 2, 4},
		{"remainder", 7, 2, 3},
		{"below one", 2, 3, 0},
		{"negative toward zero", -7, 2, -3},
		{"zero denominator", 8, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fpmath.Divide(big.NewInt(tt.num), big.NewInt(tt.den))
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestSubFloor(t *testing.T) {
	assert.Equal(t, int64(3), fpmath.SubFloor(big.NewInt(5), big.NewInt(2)).Int64())
	assert.Equal(t, int64(0), fpmath.SubFloor(big.NewInt(2), big.NewInt(5)).Int64())

	d := fpmath.SubFloorDecimal(decimal.NewFromInt(10), decimal.NewFromInt(25))
	assert.True(t, d.IsZero())
}

func TestComputeAvgEntryPrice_FirstDeposit(t *testing.T) {
	avg, ok := fpmath.ComputeAvgEntryPrice(big.NewInt(0), big.NewInt(0), e18(100), e18(50))
	require.True(t, ok)
	assert.Equal(t, e18(2).String(), avg.String())
}

func TestComputeAvgEntryPrice_Weighted(t *testing.T) {
	// 50 tokens at 2 (100 invested) + 300 USD for 100 tokens = 400 / 150
	avg, ok := fpmath.ComputeAvgEntryPrice(e18(50), e18(2), e18(300), e18(100))
	require.True(t, ok)

	want := new(big.Int).Div(new(big.Int).Mul(e18(400), fpmath.Scale()), e18(150))
	assert.Equal(t, want.String(), avg.String())
}

func TestComputeAvgEntryPrice_ZeroBalanceGuard(t *testing.T) {
	_, ok := fpmath.ComputeAvgEntryPrice(big.NewInt(0), e18(3), e18(10), big.NewInt(0))
	assert.False(t, ok)
}

func TestComputeAvgExitPrice(t *testing.T) {
	// 100 tokens at 2: invested 200. Withdraw 50 USD for 20 tokens -> 150 / 80
	avg, open := fpmath.ComputeAvgExitPrice(e18(100), e18(2), e18(50), e18(20))
	require.True(t, open)
	want := new(big.Int).Div(new(big.Int).Mul(e18(150), fpmath.Scale()), e18(80))
	assert.Equal(t, want.String(), avg.String())

	_, open = fpmath.ComputeAvgExitPrice(e18(100), e18(2), e18(10), e18(100))
	assert.False(t, open, "burning the full balance closes the position")

	_, open = fpmath.ComputeAvgExitPrice(e18(100), e18(2), e18(250), e18(10))
	assert.False(t, open, "withdrawing more than invested closes the position")
}
