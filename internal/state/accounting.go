package state

import (
	"errors"
	"fmt"
	"math/big"

	fpmath "PoolIndexer/internal/math"
)

// ErrZeroBalance is returned by ApplyDeposit when the post-deposit balance
// is zero. The balance is still updated; the average price is left as is.
var ErrZeroBalance = errors.New("position balance is zero after deposit")

// PositionAccounting is the cost-basis policy applied to positions.
type PositionAccounting interface {
	Name() string
	ApplyDeposit(p *Position, amountUSD, tokensMinted, tokenPrice *big.Int) error
	ApplyWithdraw(p *Position, valueUSD, tokensBurned *big.Int)
}

const (
	AccountingWeightedAverage = "weighted-average"
	AccountingUSDValue        = "usd-value"
)

// ParseAccounting resolves a policy by its configured name.
func ParseAccounting(name string) (PositionAccounting, error) {
	switch name {
	case AccountingWeightedAverage, "":
		return WeightedAverage{}, nil
	case AccountingUSDValue:
		return USDValue{}, nil
	default:
		return nil, fmt.Errorf("unknown position accounting %q", name)
	}
}

// NewPosition returns an empty position for user in pool.
func NewPosition(user, pool string) *Position {
	return &Position{
		ID:           PositionID(user, pool),
		User:         user,
		Pool:         pool,
		TokenBalance: new(big.Int),
		AveragePrice: new(big.Int),
		USDValue:     new(big.Int),
	}
}

// WeightedAverage tracks a per-token average entry price in token scale.
type WeightedAverage struct{}

func (WeightedAverage) Name() string { return AccountingWeightedAverage }

func (WeightedAverage) ApplyDeposit(p *Position, amountUSD, tokensMinted, _ *big.Int) error {
	avg, ok := fpmath.ComputeAvgEntryPrice(p.TokenBalance, p.AveragePrice, amountUSD, tokensMinted)
	p.TokenBalance = new(big.Int).Add(fpmath.BigOrZero(p.TokenBalance), fpmath.BigOrZero(tokensMinted))
	if !ok {
		return ErrZeroBalance
	}
	p.AveragePrice = avg
	return nil
}

func (WeightedAverage) ApplyWithdraw(p *Position, valueUSD, tokensBurned *big.Int) {
	avg, _ := fpmath.ComputeAvgExitPrice(p.TokenBalance, p.AveragePrice, valueUSD, tokensBurned)
	p.AveragePrice = avg
	p.TokenBalance = fpmath.SubFloor(p.TokenBalance, tokensBurned)
}

// USDValue accumulates deposited USD directly.
type USDValue struct{}

func (USDValue) Name() string { return AccountingUSDValue }

func (USDValue) ApplyDeposit(p *Position, amountUSD, tokensMinted, _ *big.Int) error {
	p.USDValue = new(big.Int).Add(fpmath.BigOrZero(p.USDValue), fpmath.BigOrZero(amountUSD))
	p.TokenBalance = new(big.Int).Add(fpmath.BigOrZero(p.TokenBalance), fpmath.BigOrZero(tokensMinted))
	return nil
}

func (USDValue) ApplyWithdraw(p *Position, valueUSD, tokensBurned *big.Int) {
	p.USDValue = fpmath.SubFloor(p.USDValue, valueUSD)
	p.TokenBalance = fpmath.SubFloor(p.TokenBalance, tokensBurned)
}
