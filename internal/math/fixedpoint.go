package math

import (
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int32    // Number of decimal places
	Scale            *big.Int // 10^DecimalPrecision
}

var (
	// TokenConfig is the on-chain scale for pool tokens, prices and USD amounts.
	TokenConfig = DecimalConfig{DecimalPrecision: 18, Scale: ExponentToBigInt(18)}

	OneBI = big.NewInt(1)
)

// Scale returns a fresh copy of 10^18.
func Scale() *big.Int {
	return new(big.Int).Set(TokenConfig.Scale)
}

var bigIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBigInt() *big.Int {
	return bigIntPool.Get().(*big.Int)
}

func putBigInt(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	bigIntPool.Put(v)
}

// ExponentToBigInt returns 10^decimals.
func ExponentToBigInt(decimals int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil)
}

// ExponentToDecimal returns 10^decimals as a decimal.
func ExponentToDecimal(decimals int64) decimal.Decimal {
	return decimal.NewFromBigInt(OneBI, int32(decimals))
}

// ConvertTokenToDecimal renders a raw on-chain amount with the given number of
// implied decimals. Zero decimals returns the amount unchanged.
func ConvertTokenToDecimal(amount *big.Int, decimals int64) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	if decimals == 0 {
		return decimal.NewFromBigInt(amount, 0)
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// ConvertEthToDecimal renders an 18-decimal amount.
func ConvertEthToDecimal(amount *big.Int) decimal.Decimal {
	return ConvertTokenToDecimal(amount, int64(TokenConfig.DecimalPrecision))
}

// EqualToZero reports whether v is numerically zero.
func EqualToZero(v decimal.Decimal) bool {
	return v.IsZero()
}

// IsZero reports whether a big.Int is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// BigOrZero returns v, or a new zero when v is nil.
func BigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// ToDecimal lifts a raw integer amount into a decimal without rescaling.
func ToDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

// Divide performs numerator / denominator truncating toward zero, as the
// contracts do. Returns zero when the denominator is zero.
func Divide(numerator, denominator *big.Int) *big.Int {
	result := new(big.Int)
	if IsZero(denominator) {
		return result
	}
	return result.Quo(numerator, denominator)
}

// MulDiv computes a * b / c with a single truncation.
func MulDiv(a, b, c *big.Int) *big.Int {
	product := getBigInt()
	defer putBigInt(product)
	product.Mul(BigOrZero(a), BigOrZero(b))
	return Divide(product, c)
}

// MulScale computes a * b / 10^18, truncating.
func MulScale(a, b *big.Int) *big.Int {
	return MulDiv(a, b, TokenConfig.Scale)
}

// DivScale computes a * 10^18 / b, truncating. Returns zero when b is zero.
func DivScale(a, b *big.Int) *big.Int {
	return MulDiv(a, TokenConfig.Scale, b)
}

// SubFloor returns a - b, clamped at zero.
func SubFloor(a, b *big.Int) *big.Int {
	result := new(big.Int).Sub(BigOrZero(a), BigOrZero(b))
	if result.Sign() < 0 {
		result.SetInt64(0)
	}
	return result
}

// SubFloorDecimal returns a - b, clamped at zero.
func SubFloorDecimal(a, b decimal.Decimal) decimal.Decimal {
	result := a.Sub(b)
	if result.IsNegative() {
		return decimal.Zero
	}
	return result
}

// ComputeAvgEntryPrice returns the weighted average price after adding
// amountUSD worth of tokensMinted to a position of balance at avgPrice.
// Prices are in token scale. The second return is false when the resulting
// balance would be zero, in which case the caller keeps the previous price.
func ComputeAvgEntryPrice(balance, avgPrice, amountUSD, tokensMinted *big.Int) (*big.Int, bool) {
	newBalance := new(big.Int).Add(BigOrZero(balance), BigOrZero(tokensMinted))
	if newBalance.Sign() == 0 {
		return nil, false
	}

	invested := MulScale(balance, avgPrice)
	invested.Add(invested, BigOrZero(amountUSD))

	return DivScale(invested, newBalance), true
}

// ComputeAvgExitPrice returns the average price left after withdrawing
// valueUSD by burning tokensBurned. The second return is false when the
// position closes (all tokens burned or all invested value withdrawn).
func ComputeAvgExitPrice(balance, avgPrice, valueUSD, tokensBurned *big.Int) (*big.Int, bool) {
	balance = BigOrZero(balance)
	tokensBurned = BigOrZero(tokensBurned)
	valueUSD = BigOrZero(valueUSD)

	invested := MulScale(balance, avgPrice)
	if tokensBurned.Cmp(balance) >= 0 || valueUSD.Cmp(invested) >= 0 {
		return new(big.Int), false
	}

	remaining := new(big.Int).Sub(invested, valueUSD)
	left := new(big.Int).Sub(balance, tokensBurned)
	return DivScale(remaining, left), true
}
