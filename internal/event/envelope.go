package event

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EventType discriminator for decoded chain events
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCreatedPool
	EventTypeCreatedNFTPool
	EventTypeDeposit
	EventTypeNFTPoolDeposit
	EventTypeWithdraw
	EventTypeNFTPoolWithdraw
	EventTypeMintedManagerFee
	EventTypeExecutedTransaction
	EventTypeNFTPoolExecutedTransaction
)

// PoolKind tells the two investment vehicle families apart.
type PoolKind int8

const (
	PoolKindPool PoolKind = iota + 1
	PoolKindNFTPool
)

func (k PoolKind) String() string {
	switch k {
	case PoolKindPool:
		return "Pool"
	case PoolKindNFTPool:
		return "NFTPool"
	default:
		return "Unknown"
	}
}

// Log is the chain metadata every decoded event carries.
type Log struct {
	// Emitting contract
	Address string

	TxHash      string
	BlockNumber uint64

	// Block timestamp in unix seconds (NOT wall-clock)
	Timestamp int64

	LogIndex uint64
}

// Position orders events on chain: ascending block, then log index.
type Position struct {
	Block    uint64
	LogIndex uint64
}

// Before reports whether p sorts strictly before o.
func (p Position) Before(o Position) bool {
	if p.Block != o.Block {
		return p.Block < o.Block
	}
	return p.LogIndex < o.LogIndex
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Block, p.LogIndex)
}

// Position returns the on-chain ordering key of the log.
func (l *Log) Position() Position {
	return Position{Block: l.BlockNumber, LogIndex: l.LogIndex}
}

// IdempotencyKey is unique per log: txHash:logIndex.
func (l *Log) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", l.TxHash, l.LogIndex)
}

// Meta returns the log itself; embedding structs satisfy Event through it.
func (l *Log) Meta() *Log {
	return l
}

// Event is the interface all decoded events implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Meta returns chain metadata
	Meta() *Log
}

func (et EventType) String() string {
	switch et {
	case EventTypeCreatedPool:
		return "CreatedPool"
	case EventTypeCreatedNFTPool:
		return "CreatedNFTPool"
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeNFTPoolDeposit:
		return "NFTPoolDeposit"
	case EventTypeWithdraw:
		return "Withdraw"
	case EventTypeNFTPoolWithdraw:
		return "NFTPoolWithdraw"
	case EventTypeMintedManagerFee:
		return "MintedManagerFee"
	case EventTypeExecutedTransaction:
		return "ExecutedTransaction"
	case EventTypeNFTPoolExecutedTransaction:
		return "NFTPoolExecutedTransaction"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	for et := EventTypeCreatedPool; et <= EventTypeNFTPoolExecutedTransaction; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}

// NormalizeAddress returns the lowercase 0x-prefixed hex form used in entity ids.
func NormalizeAddress(s string) string {
	return strings.ToLower(common.HexToAddress(s).Hex())
}

// NormalizeHash returns the lowercase 0x-prefixed 32-byte hex form.
func NormalizeHash(s string) string {
	return strings.ToLower(common.HexToHash(s).Hex())
}

// IsHexAddress reports whether s is a well-formed hex address.
func IsHexAddress(s string) bool {
	return common.IsHexAddress(s)
}
