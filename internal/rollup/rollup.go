// Package rollup maintains running totals and time-bucket snapshots at
// pool and protocol scope.
package rollup

import (
	"context"
	"math/big"

	"PoolIndexer/internal/event"
	fpmath "PoolIndexer/internal/math"
	"PoolIndexer/internal/state"

	"github.com/shopspring/decimal"
)

// DefaultProtocolID is the id of the protocol singleton.
const DefaultProtocolID = "tradegen"

// Engine applies aggregate updates inside a unit of work.
type Engine struct {
	protocolID string
}

func New(protocolID string) *Engine {
	if protocolID == "" {
		protocolID = DefaultProtocolID
	}
	return &Engine{protocolID: protocolID}
}

func (e *Engine) ProtocolID() string { return e.protocolID }

// Protocol loads the protocol singleton, creating it zeroed on first use.
// The returned entity is already marked for save.
func (e *Engine) Protocol(ctx context.Context, uow *state.UnitOfWork) (*state.Protocol, error) {
	p, found, err := state.Load[state.Protocol](ctx, uow, state.KindProtocol, e.protocolID)
	if err != nil {
		return nil, err
	}
	if !found {
		p = &state.Protocol{
			ID:                  e.protocolID,
			TotalVolumeUSD:      decimal.Zero,
			TotalValueLockedUSD: decimal.Zero,
		}
	}
	uow.Save(state.KindProtocol, p.ID, p)
	return p, nil
}

// CountVehicle bumps the pool or NFT-pool count.
func CountVehicle(p *state.Protocol, kind event.PoolKind) {
	if kind == event.PoolKindNFTPool {
		p.NFTPoolCount++
		return
	}
	p.PoolCount++
}

// CountEvent bumps the protocol transaction counter. Called once per
// applied event.
func CountEvent(p *state.Protocol) {
	p.TxCount++
}

// RecordVolumeAndTVL adds |deltaVolume| to volume and moves TVL by
// deltaTVL, down on withdrawal. TVL is clamped at zero.
func RecordVolumeAndTVL(scope state.Scope, deltaVolume, deltaTVL decimal.Decimal, isWithdrawal bool) {
	volume, tvl := scope.Totals()
	*volume = volume.Add(deltaVolume.Abs())
	if isWithdrawal {
		*tvl = fpmath.SubFloorDecimal(*tvl, deltaTVL.Abs())
		return
	}
	*tvl = tvl.Add(deltaTVL.Abs())
}

// SnapshotProtocol updates the protocol day and hour buckets for an event.
func (e *Engine) SnapshotProtocol(ctx context.Context, uow *state.UnitOfWork, p *state.Protocol, timestamp int64, volume decimal.Decimal) error {
	for _, b := range periods(timestamp, state.KindProtocolDayData, state.KindProtocolHourData) {
		id := state.BucketID(p.ID, b.index)
		snap, found, err := state.Load[state.ProtocolBucket](ctx, uow, b.kind, id)
		if err != nil {
			return err
		}
		if !found {
			snap = &state.ProtocolBucket{
				ID:          id,
				Protocol:    p.ID,
				PeriodStart: b.start,
				VolumeUSD:   decimal.Zero,
			}
		}
		snap.TotalVolumeUSD = p.TotalVolumeUSD
		snap.TotalValueLockedUSD = p.TotalValueLockedUSD
		snap.TxCount = p.TxCount
		snap.VolumeUSD = snap.VolumeUSD.Add(volume.Abs())
		snap.Txns++
		uow.Save(b.kind, id, snap)
	}
	return nil
}

// SnapshotVehicle updates the day and hour buckets of a pool or NFT pool.
func (e *Engine) SnapshotVehicle(ctx context.Context, uow *state.UnitOfWork, v state.Vehicle, timestamp int64, volume decimal.Decimal) error {
	kinds := state.KindsOf(v.Kind())
	inv := v.Common()
	for _, b := range periods(timestamp, kinds.DayData, kinds.HourData) {
		id := state.BucketID(inv.ID, b.index)
		snap, found, err := state.Load[state.PoolBucket](ctx, uow, b.kind, id)
		if err != nil {
			return err
		}
		if !found {
			snap = &state.PoolBucket{
				ID:          id,
				Pool:        inv.ID,
				PeriodStart: b.start,
				VolumeUSD:   decimal.Zero,
			}
		}
		snap.TotalSupply = copyBig(inv.TotalSupply)
		snap.TokenPrice = copyBig(inv.TokenPrice)
		snap.TotalValueLockedUSD = inv.TotalValueLockedUSD
		snap.VolumeUSD = snap.VolumeUSD.Add(volume.Abs())
		snap.Txns++
		uow.Save(b.kind, id, snap)
	}
	return nil
}

type period struct {
	kind  state.Kind
	index int64
	start int64
}

func periods(timestamp int64, day, hour state.Kind) [2]period {
	d, h := state.DayIndex(timestamp), state.HourIndex(timestamp)
	return [2]period{
		{day, d, d * state.DaySeconds},
		{hour, h, h * state.HourSeconds},
	}
}

func copyBig(v *big.Int) *big.Int {
	return new(big.Int).Set(fpmath.BigOrZero(v))
}
