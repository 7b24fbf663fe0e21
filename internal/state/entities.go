// Package state holds the indexed entity graph and the capabilities the
// core uses to load and persist it.
package state

import (
	"math/big"

	"PoolIndexer/internal/event"

	"github.com/shopspring/decimal"
)

// Investment holds the fields shared by every fundable investment vehicle.
type Investment struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Manager             string          `json:"manager"`
	TokenPrice          *big.Int        `json:"tokenPrice"`
	TotalSupply         *big.Int        `json:"totalSupply"`
	TradeVolumeUSD      decimal.Decimal `json:"tradeVolumeUSD"`
	TotalValueLockedUSD decimal.Decimal `json:"totalValueLockedUSD"`
	FeesCollected       decimal.Decimal `json:"feesCollected"`

	// Mirrored from the contract for off-chain reconciliation
	PositionAddresses []string   `json:"positionAddresses"`
	PositionBalances  []*big.Int `json:"positionBalances"`
}

// Vehicle is implemented by Pool and NFTPool.
type Vehicle interface {
	Kind() event.PoolKind
	Common() *Investment
}

// Pool is one deployed investment pool contract.
type Pool struct {
	Investment
	PerformanceFee *big.Int `json:"performanceFee"`
}

func (p *Pool) Kind() event.PoolKind { return event.PoolKindPool }
func (p *Pool) Common() *Investment  { return &p.Investment }

// NFTPool is one deployed NFT investment pool contract.
type NFTPool struct {
	Investment
	MaxSupply   *big.Int `json:"maxSupply"`
	SeedPrice   *big.Int `json:"seedPrice"`
	AvailableC1 *big.Int `json:"availableC1"`
	AvailableC2 *big.Int `json:"availableC2"`
	AvailableC3 *big.Int `json:"availableC3"`
	AvailableC4 *big.Int `json:"availableC4"`
}

func (p *NFTPool) Kind() event.PoolKind { return event.PoolKindNFTPool }
func (p *NFTPool) Common() *Investment  { return &p.Investment }

// SetAvailableTokens stores the per-class available token counts.
func (p *NFTPool) SetAvailableTokens(counts [4]*big.Int) {
	p.AvailableC1 = counts[0]
	p.AvailableC2 = counts[1]
	p.AvailableC3 = counts[2]
	p.AvailableC4 = counts[3]
}

// PoolLookup indexes a vehicle address. Same shape for both families.
type PoolLookup struct {
	ID          string `json:"id"`
	PoolAddress string `json:"poolAddress"`
}

// User is any wallet seen as depositor, withdrawer or manager.
type User struct {
	ID         string          `json:"id"`
	FeesEarned decimal.Decimal `json:"feesEarned"`
}

// ManagedInvestment links a manager to a vehicle they created.
type ManagedInvestment struct {
	ID      string `json:"id"`
	Manager string `json:"manager"`
	Pool    string `json:"pool"`
	Kind    string `json:"kind"`
}

// Protocol is the singleton of protocol-wide totals.
type Protocol struct {
	ID                  string          `json:"id"`
	PoolCount           int64           `json:"poolCount"`
	NFTPoolCount        int64           `json:"NFTPoolCount"`
	TotalVolumeUSD      decimal.Decimal `json:"totalVolumeUSD"`
	TotalValueLockedUSD decimal.Decimal `json:"totalValueLockedUSD"`
	TxCount             int64           `json:"txCount"`
}

// Position is one user's holding in one vehicle.
type Position struct {
	ID           string   `json:"id"`
	User         string   `json:"user"`
	Pool         string   `json:"pool"`
	TokenBalance *big.Int `json:"tokenBalance"`

	// Weighted-average accounting
	AveragePrice *big.Int `json:"averagePrice"`

	// USD-value accounting
	USDValue *big.Int `json:"USDValue"`
}

// PositionSnapshot freezes a position after a deposit or withdraw.
type PositionSnapshot struct {
	ID           string   `json:"id"`
	Position     string   `json:"position"`
	User         string   `json:"user"`
	Pool         string   `json:"pool"`
	Timestamp    int64    `json:"timestamp"`
	Block        uint64   `json:"block"`
	TokenPrice   *big.Int `json:"tokenPrice"`
	TotalSupply  *big.Int `json:"totalSupply"`
	TokenBalance *big.Int `json:"tokenBalance"`
}

// PoolBucket is a day or hour snapshot of one vehicle.
type PoolBucket struct {
	ID                  string          `json:"id"`
	Pool                string          `json:"pool"`
	PeriodStart         int64           `json:"periodStart"`
	TotalSupply         *big.Int        `json:"totalSupply"`
	TokenPrice          *big.Int        `json:"tokenPrice"`
	TotalValueLockedUSD decimal.Decimal `json:"totalValueLockedUSD"`
	VolumeUSD           decimal.Decimal `json:"volumeUSD"`
	Txns                int64           `json:"txns"`
}

// ProtocolBucket is a day or hour snapshot of protocol totals.
type ProtocolBucket struct {
	ID                  string          `json:"id"`
	Protocol            string          `json:"protocol"`
	PeriodStart         int64           `json:"periodStart"`
	TotalVolumeUSD      decimal.Decimal `json:"totalVolumeUSD"`
	TotalValueLockedUSD decimal.Decimal `json:"totalValueLockedUSD"`
	TxCount             int64           `json:"txCount"`
	VolumeUSD           decimal.Decimal `json:"volumeUSD"`
	Txns                int64           `json:"txns"`
}

// Transaction groups the sub-records one chain transaction produced.
type Transaction struct {
	ID          string  `json:"id"`
	BlockNumber uint64  `json:"blockNumber"`
	Timestamp   int64   `json:"timestamp"`
	Pool        string  `json:"pool"`
	Deposit     *string `json:"deposit,omitempty"`
	Withdraw    *string `json:"withdraw,omitempty"`
	FeeMint     *string `json:"feeMint,omitempty"`
	Create      *string `json:"create,omitempty"`
}

// SubRecord is an immutable record of one event kind inside a transaction.
type SubRecord struct {
	ID          string   `json:"id"`
	Transaction string   `json:"transaction"`
	Role        string   `json:"role"`
	Timestamp   int64    `json:"timestamp"`
	LogIndex    uint64   `json:"logIndex"`
	UserAddress string   `json:"userAddress"`
	PoolAddress string   `json:"poolAddress"`
	USDAmount   *big.Int `json:"USDAmount"`
	TokenAmount *big.Int `json:"tokenAmount"`
}

// Scope is an entity carrying running volume and TVL totals.
type Scope interface {
	Totals() (volume, tvl *decimal.Decimal)
}

func (i *Investment) Totals() (*decimal.Decimal, *decimal.Decimal) {
	return &i.TradeVolumeUSD, &i.TotalValueLockedUSD
}

func (p *Protocol) Totals() (*decimal.Decimal, *decimal.Decimal) {
	return &p.TotalVolumeUSD, &p.TotalValueLockedUSD
}
