package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"PoolIndexer/internal/chain"
	"PoolIndexer/internal/event"
	"PoolIndexer/internal/ledger"
	fpmath "PoolIndexer/internal/math"
	"PoolIndexer/internal/rollup"
	"PoolIndexer/internal/state"

	"github.com/shopspring/decimal"
)

func (e *Engine) handlePoolCreated(ctx context.Context, uow *state.UnitOfWork, ec *eventContext, evt *event.PoolCreated) (decimal.Decimal, error) {
	kinds := state.KindsOf(evt.Kind)

	if allowed := e.factories[evt.Kind]; len(allowed) > 0 && !allowed[evt.Address] {
		return decimal.Zero, fmt.Errorf("%w: %s factory %s not allowed", ErrIntegrity, evt.Kind, evt.Address)
	}
	exists, err := uow.Exists(ctx, kinds.Vehicle, evt.PoolAddress)
	if err != nil {
		return decimal.Zero, err
	}
	if exists {
		return decimal.Zero, fmt.Errorf("%w: %s %s already created", ErrIntegrity, evt.Kind, evt.PoolAddress)
	}

	protocol, err := e.rollup.Protocol(ctx, uow)
	if err != nil {
		return decimal.Zero, err
	}
	rollup.CountVehicle(protocol, evt.Kind)

	info, err := e.fetcher.PoolInfo(ctx, evt.Kind, evt.PoolAddress, evt.BlockNumber)
	if err != nil {
		return decimal.Zero, err
	}

	common := state.Investment{
		ID:                  evt.PoolAddress,
		Name:                info.Name,
		Manager:             evt.ManagerAddress,
		TokenPrice:          info.TokenPrice,
		TotalSupply:         info.TotalSupply,
		TradeVolumeUSD:      decimal.Zero,
		TotalValueLockedUSD: decimal.Zero,
		FeesCollected:       decimal.Zero,
		PositionAddresses:   []string{},
		PositionBalances:    []*big.Int{},
	}
	var vehicle state.Vehicle
	if evt.Kind == event.PoolKindNFTPool {
		nft := &state.NFTPool{
			Investment: common,
			MaxSupply:  info.MaxSupply,
			SeedPrice:  info.SeedPrice,
		}
		nft.SetAvailableTokens(info.AvailableTokens)
		vehicle = nft
	} else {
		vehicle = &state.Pool{Investment: common, PerformanceFee: info.PerformanceFee}
	}
	uow.Save(kinds.Vehicle, evt.PoolAddress, vehicle)
	uow.Save(kinds.Lookup, evt.PoolAddress, &state.PoolLookup{ID: evt.PoolAddress, PoolAddress: evt.PoolAddress})

	if _, err := e.ensureUser(ctx, uow, evt.ManagerAddress); err != nil {
		return decimal.Zero, err
	}
	miID := state.ManagedInvestmentID(evt.ManagerAddress, evt.PoolAddress)
	uow.Save(state.KindManagedInvestment, miID, &state.ManagedInvestment{
		ID:      miID,
		Manager: evt.ManagerAddress,
		Pool:    evt.PoolAddress,
		Kind:    evt.Kind.String(),
	})

	if _, err := e.recorder.Record(ctx, uow, ledger.Entry{
		Kind: evt.Kind,
		Role: state.RoleCreate,
		Log:  &evt.Log,
		Pool: evt.PoolAddress,
		User: evt.ManagerAddress,
	}); err != nil {
		return decimal.Zero, err
	}

	ec.registrations = append(ec.registrations, chain.Registration{
		Kind:    evt.Kind,
		Address: evt.PoolAddress,
		Block:   evt.BlockNumber,
	})

	e.logger.Info().
		Str("pool", evt.PoolAddress).
		Str("kind", evt.Kind.String()).
		Str("manager", evt.ManagerAddress).
		Str("name", info.Name).
		Uint64("block", evt.BlockNumber).
		Msg("pool created")
	return decimal.Zero, nil
}

func (e *Engine) handleDeposit(ctx context.Context, uow *state.UnitOfWork, evt *event.Deposit) (decimal.Decimal, error) {
	vehicle, err := e.loadVehicle(ctx, uow, evt.Kind, evt.Address)
	if err != nil {
		return decimal.Zero, err
	}
	inv := vehicle.Common()

	if _, err := e.ensureUser(ctx, uow, evt.UserAddress); err != nil {
		return decimal.Zero, err
	}
	if err := e.refreshVehicle(ctx, vehicle, evt.BlockNumber); err != nil {
		return decimal.Zero, err
	}

	amount := fpmath.BigOrZero(evt.Amount)
	tokens := evt.PoolTokens
	if tokens == nil {
		tokens = fpmath.DivScale(amount, inv.TokenPrice)
	}
	usd := fpmath.ToDecimal(amount)

	rollup.RecordVolumeAndTVL(inv, usd, usd, false)
	protocol, err := e.rollup.Protocol(ctx, uow)
	if err != nil {
		return decimal.Zero, err
	}
	rollup.RecordVolumeAndTVL(protocol, usd, usd, false)

	position, err := e.loadPosition(ctx, uow, evt.Kind, evt.UserAddress, inv.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := e.accounting[evt.Kind].ApplyDeposit(position, amount, tokens, inv.TokenPrice); err != nil {
		if !errors.Is(err, state.ErrZeroBalance) {
			return decimal.Zero, err
		}
		e.logger.Warn().
			Str("position", position.ID).
			Str("key", evt.IdempotencyKey()).
			Msg("deposit left zero balance, average price unchanged")
	}
	e.savePosition(uow, evt.Kind, position, inv, &evt.Log)

	if err := e.rollup.SnapshotVehicle(ctx, uow, vehicle, evt.Timestamp, usd); err != nil {
		return decimal.Zero, err
	}

	if _, err := e.recorder.Record(ctx, uow, ledger.Entry{
		Kind:        evt.Kind,
		Role:        state.RoleDeposit,
		Log:         &evt.Log,
		Pool:        inv.ID,
		User:        evt.UserAddress,
		USDAmount:   amount,
		TokenAmount: tokens,
	}); err != nil {
		return decimal.Zero, err
	}
	return usd, nil
}

func (e *Engine) handleWithdraw(ctx context.Context, uow *state.UnitOfWork, evt *event.Withdraw) (decimal.Decimal, error) {
	vehicle, err := e.loadVehicle(ctx, uow, evt.Kind, evt.Address)
	if err != nil {
		return decimal.Zero, err
	}
	inv := vehicle.Common()

	if _, err := e.ensureUser(ctx, uow, evt.UserAddress); err != nil {
		return decimal.Zero, err
	}
	if err := e.refreshVehicle(ctx, vehicle, evt.BlockNumber); err != nil {
		return decimal.Zero, err
	}

	tokens := fpmath.BigOrZero(evt.PoolTokens)
	value := evt.ValueWithdrawn
	if value == nil {
		value = fpmath.MulScale(tokens, inv.TokenPrice)
	}
	usd := fpmath.ToDecimal(value)

	rollup.RecordVolumeAndTVL(inv, usd, usd, true)
	protocol, err := e.rollup.Protocol(ctx, uow)
	if err != nil {
		return decimal.Zero, err
	}
	rollup.RecordVolumeAndTVL(protocol, usd, usd, true)

	position, err := e.loadPosition(ctx, uow, evt.Kind, evt.UserAddress, inv.ID)
	if err != nil {
		return decimal.Zero, err
	}
	e.accounting[evt.Kind].ApplyWithdraw(position, value, tokens)
	e.savePosition(uow, evt.Kind, position, inv, &evt.Log)

	if err := e.rollup.SnapshotVehicle(ctx, uow, vehicle, evt.Timestamp, usd); err != nil {
		return decimal.Zero, err
	}

	if _, err := e.recorder.Record(ctx, uow, ledger.Entry{
		Kind:        evt.Kind,
		Role:        state.RoleWithdraw,
		Log:         &evt.Log,
		Pool:        inv.ID,
		User:        evt.UserAddress,
		USDAmount:   value,
		TokenAmount: tokens,
	}); err != nil {
		return decimal.Zero, err
	}
	return usd, nil
}

func (e *Engine) handleMintedManagerFee(ctx context.Context, uow *state.UnitOfWork, evt *event.MintedManagerFee) (decimal.Decimal, error) {
	vehicle, err := e.loadVehicle(ctx, uow, event.PoolKindPool, evt.Address)
	if err != nil {
		return decimal.Zero, err
	}
	inv := vehicle.Common()

	if err := e.refreshVehicle(ctx, vehicle, evt.BlockNumber); err != nil {
		return decimal.Zero, err
	}

	amount := fpmath.BigOrZero(evt.Amount)
	fee := fpmath.MulScale(amount, inv.TokenPrice)
	usd := fpmath.ToDecimal(fee)

	manager, err := e.ensureUser(ctx, uow, inv.Manager)
	if err != nil {
		return decimal.Zero, err
	}
	manager.FeesEarned = manager.FeesEarned.Add(usd)
	inv.FeesCollected = inv.FeesCollected.Add(usd)

	rollup.RecordVolumeAndTVL(inv, usd, usd, false)
	protocol, err := e.rollup.Protocol(ctx, uow)
	if err != nil {
		return decimal.Zero, err
	}
	rollup.RecordVolumeAndTVL(protocol, usd, usd, false)

	if err := e.rollup.SnapshotVehicle(ctx, uow, vehicle, evt.Timestamp, usd); err != nil {
		return decimal.Zero, err
	}

	if _, err := e.recorder.Record(ctx, uow, ledger.Entry{
		Kind:        event.PoolKindPool,
		Role:        state.RoleFeeMint,
		Log:         &evt.Log,
		Pool:        inv.ID,
		User:        inv.Manager,
		USDAmount:   fee,
		TokenAmount: amount,
	}); err != nil {
		return decimal.Zero, err
	}
	return usd, nil
}

func (e *Engine) handleExecutedTransaction(ctx context.Context, uow *state.UnitOfWork, evt *event.ExecutedTransaction) (decimal.Decimal, error) {
	vehicle, err := e.loadVehicle(ctx, uow, evt.Kind, evt.Address)
	if err != nil {
		return decimal.Zero, err
	}
	inv := vehicle.Common()

	addrs, balances, err := e.fetcher.Positions(ctx, inv.ID, evt.BlockNumber, inv.PositionAddresses, inv.PositionBalances)
	if err != nil {
		return decimal.Zero, err
	}
	inv.PositionAddresses = addrs
	inv.PositionBalances = balances
	return decimal.Zero, nil
}

// loadVehicle loads a pool that must already exist and marks it for save.
func (e *Engine) loadVehicle(ctx context.Context, uow *state.UnitOfWork, kind event.PoolKind, address string) (state.Vehicle, error) {
	kinds := state.KindsOf(kind)

	var (
		vehicle state.Vehicle
		found   bool
		err     error
	)
	if kind == event.PoolKindNFTPool {
		var p *state.NFTPool
		p, found, err = state.Load[state.NFTPool](ctx, uow, kinds.Vehicle, address)
		vehicle = p
	} else {
		var p *state.Pool
		p, found, err = state.Load[state.Pool](ctx, uow, kinds.Vehicle, address)
		vehicle = p
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s %s not found", ErrIntegrity, kind, address)
	}

	uow.Save(kinds.Vehicle, address, vehicle)
	return vehicle, nil
}

// refreshVehicle re-reads live price and supply, plus class availability
// for NFT pools.
func (e *Engine) refreshVehicle(ctx context.Context, vehicle state.Vehicle, block uint64) error {
	inv := vehicle.Common()
	price, err := e.fetcher.TokenPrice(ctx, inv.ID, block)
	if err != nil {
		return err
	}
	supply, err := e.fetcher.TotalSupply(ctx, inv.ID, block)
	if err != nil {
		return err
	}
	inv.TokenPrice = price
	inv.TotalSupply = supply

	if nft, ok := vehicle.(*state.NFTPool); ok {
		prev := [4]*big.Int{nft.AvailableC1, nft.AvailableC2, nft.AvailableC3, nft.AvailableC4}
		counts, err := e.fetcher.AvailableTokens(ctx, inv.ID, block, prev)
		if err != nil {
			return err
		}
		nft.SetAvailableTokens(counts)
	}
	return nil
}

func (e *Engine) ensureUser(ctx context.Context, uow *state.UnitOfWork, address string) (*state.User, error) {
	user, found, err := state.Load[state.User](ctx, uow, state.KindUser, address)
	if err != nil {
		return nil, err
	}
	if !found {
		user = &state.User{ID: address, FeesEarned: decimal.Zero}
	}
	uow.Save(state.KindUser, address, user)
	return user, nil
}

func (e *Engine) loadPosition(ctx context.Context, uow *state.UnitOfWork, kind event.PoolKind, user, pool string) (*state.Position, error) {
	id := state.PositionID(user, pool)
	position, found, err := state.Load[state.Position](ctx, uow, state.KindsOf(kind).Position, id)
	if err != nil {
		return nil, err
	}
	if !found {
		position = state.NewPosition(user, pool)
	}
	return position, nil
}

// savePosition stores the position and a point-in-time snapshot of it.
func (e *Engine) savePosition(uow *state.UnitOfWork, kind event.PoolKind, p *state.Position, inv *state.Investment, log *event.Log) {
	kinds := state.KindsOf(kind)
	uow.Save(kinds.Position, p.ID, p)

	snapID := state.PositionSnapshotID(p.ID, log.Timestamp)
	uow.Save(kinds.PositionSnapshot, snapID, &state.PositionSnapshot{
		ID:           snapID,
		Position:     p.ID,
		User:         p.User,
		Pool:         p.Pool,
		Timestamp:    log.Timestamp,
		Block:        log.BlockNumber,
		TokenPrice:   new(big.Int).Set(fpmath.BigOrZero(inv.TokenPrice)),
		TotalSupply:  new(big.Int).Set(fpmath.BigOrZero(inv.TotalSupply)),
		TokenBalance: new(big.Int).Set(p.TokenBalance),
	})
}
