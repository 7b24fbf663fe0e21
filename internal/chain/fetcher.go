package chain

import (
	"context"
	"errors"
	"math/big"

	"PoolIndexer/internal/event"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
)

// UnknownName is substituted when a contract's name cannot be read.
const UnknownName = "unknown"

// PoolInfo is the live contract state read when a pool is created.
type PoolInfo struct {
	Name        string
	TokenPrice  *big.Int
	TotalSupply *big.Int

	// Pool only
	PerformanceFee *big.Int

	// NFT pool only
	MaxSupply       *big.Int
	SeedPrice       *big.Int
	AvailableTokens [4]*big.Int
}

// Fetcher wraps a ContractReader and substitutes defaults for failed
// reads. Only context cancellation is reported as an error.
type Fetcher struct {
	reader    ContractReader
	pool      pond.Pool
	logger    zerolog.Logger
	onFailure func(method string)
}

// NewFetcher creates a fetcher. pool runs independent reads in parallel
// and may be nil. onFailure is called once per failed read.
func NewFetcher(reader ContractReader, pool pond.Pool, logger zerolog.Logger, onFailure func(method string)) *Fetcher {
	if onFailure == nil {
		onFailure = func(string) {}
	}
	return &Fetcher{
		reader:    reader,
		pool:      pool,
		logger:    logger.With().Str("component", "contract_reader").Logger(),
		onFailure: onFailure,
	}
}

func (f *Fetcher) fail(method, address string, block uint64, err error) {
	f.onFailure(method)
	f.logger.Warn().
		Err(err).
		Str("method", method).
		Str("address", address).
		Uint64("block", block).
		Msg("contract read failed, using default")
}

func (f *Fetcher) uintOrZero(ctx context.Context, method, address string, block uint64,
	read func(context.Context, string, uint64) (*big.Int, error)) *big.Int {
	v, err := read(ctx, address, block)
	if err != nil || v == nil {
		f.fail(method, address, block, err)
		return new(big.Int)
	}
	return v
}

// PoolInfo reads every creation-time field of a pool or NFT pool.
func (f *Fetcher) PoolInfo(ctx context.Context, kind event.PoolKind, address string, block uint64) (PoolInfo, error) {
	info := PoolInfo{}

	tasks := []func(){
		func() {
			name, err := f.reader.Name(ctx, address, block)
			if err != nil {
				f.fail(MethodName, address, block, err)
				name = UnknownName
			}
			info.Name = name
		},
		func() {
			info.TokenPrice = f.uintOrZero(ctx, MethodTokenPrice, address, block, f.reader.TokenPrice)
		},
		func() {
			info.TotalSupply = f.uintOrZero(ctx, MethodTotalSupply, address, block, f.reader.TotalSupply)
		},
	}

	if kind == event.PoolKindNFTPool {
		tasks = append(tasks,
			func() {
				info.MaxSupply = f.uintOrZero(ctx, MethodMaxSupply, address, block, f.reader.MaxSupply)
			},
			func() {
				info.SeedPrice = f.uintOrZero(ctx, MethodSeedPrice, address, block, f.reader.SeedPrice)
			},
			func() {
				counts, err := f.reader.AvailableTokensPerClass(ctx, address, block)
				if err != nil {
					f.fail(MethodAvailableTokensPerClass, address, block, err)
				}
				for i := range counts {
					if err != nil || counts[i] == nil {
						counts[i] = new(big.Int)
					}
				}
				info.AvailableTokens = counts
			},
		)
	} else {
		tasks = append(tasks, func() {
			info.PerformanceFee = f.uintOrZero(ctx, MethodPerformanceFee, address, block, f.reader.PerformanceFee)
		})
	}

	f.run(ctx, tasks)
	if err := ctx.Err(); err != nil {
		return PoolInfo{}, err
	}
	return info, nil
}

func (f *Fetcher) run(ctx context.Context, tasks []func()) {
	if f.pool == nil {
		for _, task := range tasks {
			task()
		}
		return
	}

	group := f.pool.NewGroupContext(ctx)
	group.Submit(tasks...)
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		f.logger.Warn().Err(err).Msg("contract read group encountered error")
	}
}

// TokenPrice returns the live token price, or zero.
func (f *Fetcher) TokenPrice(ctx context.Context, address string, block uint64) (*big.Int, error) {
	v := f.uintOrZero(ctx, MethodTokenPrice, address, block, f.reader.TokenPrice)
	return v, ctx.Err()
}

// TotalSupply returns the live total supply, or zero.
func (f *Fetcher) TotalSupply(ctx context.Context, address string, block uint64) (*big.Int, error) {
	v := f.uintOrZero(ctx, MethodTotalSupply, address, block, f.reader.TotalSupply)
	return v, ctx.Err()
}

// AvailableTokens returns the per-class available counts, or prev on failure.
func (f *Fetcher) AvailableTokens(ctx context.Context, address string, block uint64, prev [4]*big.Int) ([4]*big.Int, error) {
	counts, err := f.reader.AvailableTokensPerClass(ctx, address, block)
	if err != nil {
		f.fail(MethodAvailableTokensPerClass, address, block, err)
		return prev, ctx.Err()
	}
	return counts, ctx.Err()
}

// Positions returns the live position mirrors, or the previous ones when
// the read fails.
func (f *Fetcher) Positions(ctx context.Context, address string, block uint64, prevAddrs []string, prevBalances []*big.Int) ([]string, []*big.Int, error) {
	addrs, balances, err := f.reader.Positions(ctx, address, block)
	if err != nil {
		f.fail(MethodPositions, address, block, err)
		return prevAddrs, prevBalances, ctx.Err()
	}
	return addrs, balances, ctx.Err()
}
