package query

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// EntityResponse is one stored entity as indexed.
type EntityResponse struct {
	Kind         string          `json:"kind"`
	ID           string          `json:"id"`
	Data         json.RawMessage `json:"data"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// EntityListResponse is a page of entities of one kind ordered by id.
type EntityListResponse struct {
	Kind         string            `json:"kind"`
	Items        []json.RawMessage `json:"items"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

// PoolResponse renders a vehicle with amounts converted from 18-decimal
// fixed point.
type PoolResponse struct {
	Kind                string          `json:"kind"`
	Address             string          `json:"address"`
	Name                string          `json:"name"`
	Manager             string          `json:"manager"`
	TokenPrice          decimal.Decimal `json:"token_price"`
	TotalSupply         decimal.Decimal `json:"total_supply"`
	TradeVolumeUSD      decimal.Decimal `json:"trade_volume_usd"`
	TotalValueLockedUSD decimal.Decimal `json:"total_value_locked_usd"`
	FeesCollected       decimal.Decimal `json:"fees_collected"`
	AsOfSequence        int64           `json:"as_of_sequence"`
}

// PositionResponse renders one user's holding in one vehicle.
type PositionResponse struct {
	Kind         string          `json:"kind"`
	ID           string          `json:"id"`
	User         string          `json:"user"`
	Pool         string          `json:"pool"`
	TokenBalance decimal.Decimal `json:"token_balance"`
	AveragePrice decimal.Decimal `json:"average_price"`
	USDValue     decimal.Decimal `json:"usd_value"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// ProtocolResponse renders the protocol singleton.
type ProtocolResponse struct {
	ID                  string          `json:"id"`
	PoolCount           int64           `json:"pool_count"`
	NFTPoolCount        int64           `json:"nft_pool_count"`
	TxCount             int64           `json:"tx_count"`
	TotalVolumeUSD      decimal.Decimal `json:"total_volume_usd"`
	TotalValueLockedUSD decimal.Decimal `json:"total_value_locked_usd"`
	AsOfSequence        int64           `json:"as_of_sequence"`
}

// IntegrityReport is the result of walking the event-log hash chain.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	EventsChecked   int64   `json:"events_checked"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
}
