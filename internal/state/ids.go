package state

import (
	"fmt"

	"PoolIndexer/internal/event"
)

const (
	DaySeconds  = 86400
	HourSeconds = 3600
)

// Kind names an entity type. External consumers query by these names.
type Kind string

const (
	KindPool                    Kind = "Pool"
	KindNFTPool                 Kind = "NFTPool"
	KindPoolLookup              Kind = "PoolLookup"
	KindNFTPoolLookup           Kind = "NFTPoolLookup"
	KindUser                    Kind = "User"
	KindManagedInvestment       Kind = "ManagedInvestment"
	KindProtocol                Kind = "Protocol"
	KindProtocolDayData         Kind = "ProtocolDayData"
	KindProtocolHourData        Kind = "ProtocolHourData"
	KindPoolPosition            Kind = "PoolPosition"
	KindNFTPoolPosition         Kind = "NFTPoolPosition"
	KindPoolPositionSnapshot    Kind = "PoolPositionSnapshot"
	KindNFTPoolPositionSnapshot Kind = "NFTPoolPositionSnapshot"
	KindPoolDayData             Kind = "PoolDayData"
	KindPoolHourData            Kind = "PoolHourData"
	KindNFTPoolDayData          Kind = "NFTPoolDayData"
	KindNFTPoolHourData         Kind = "NFTPoolHourData"
	KindPoolTransaction         Kind = "PoolTransaction"
	KindNFTPoolTransaction      Kind = "NFTPoolTransaction"
	KindPoolDeposit             Kind = "DepositPoolEvent"
	KindPoolWithdraw            Kind = "WithdrawPoolEvent"
	KindPoolFeeMint             Kind = "MintFeePoolEvent"
	KindPoolCreate              Kind = "CreatePoolEvent"
	KindNFTPoolDeposit          Kind = "DepositNFTPoolEvent"
	KindNFTPoolWithdraw         Kind = "WithdrawNFTPoolEvent"
	KindNFTPoolFeeMint          Kind = "MintFeeNFTPoolEvent"
	KindNFTPoolCreate           Kind = "CreateNFTPoolEvent"
)

var allKinds = []Kind{
	KindPool, KindNFTPool, KindPoolLookup, KindNFTPoolLookup,
	KindUser, KindManagedInvestment,
	KindProtocol, KindProtocolDayData, KindProtocolHourData,
	KindPoolPosition, KindNFTPoolPosition,
	KindPoolPositionSnapshot, KindNFTPoolPositionSnapshot,
	KindPoolDayData, KindPoolHourData, KindNFTPoolDayData, KindNFTPoolHourData,
	KindPoolTransaction, KindNFTPoolTransaction,
	KindPoolDeposit, KindPoolWithdraw, KindPoolFeeMint, KindPoolCreate,
	KindNFTPoolDeposit, KindNFTPoolWithdraw, KindNFTPoolFeeMint, KindNFTPoolCreate,
}

// ParseKind resolves an entity type name.
func ParseKind(s string) (Kind, bool) {
	for _, k := range allKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Role is the kind of a ledger sub-record.
type Role string

const (
	RoleDeposit  Role = "deposit"
	RoleWithdraw Role = "withdraw"
	RoleFeeMint  Role = "feeMint"
	RoleCreate   Role = "create"
)

// Kinds maps each entity role to its type name for one vehicle family.
type Kinds struct {
	Vehicle          Kind
	Lookup           Kind
	Position         Kind
	PositionSnapshot Kind
	DayData          Kind
	HourData         Kind
	Transaction      Kind
	SubRecords       map[Role]Kind
}

var (
	PoolKinds = Kinds{
		Vehicle:          KindPool,
		Lookup:           KindPoolLookup,
		Position:         KindPoolPosition,
		PositionSnapshot: KindPoolPositionSnapshot,
		DayData:          KindPoolDayData,
		HourData:         KindPoolHourData,
		Transaction:      KindPoolTransaction,
		SubRecords: map[Role]Kind{
			RoleDeposit:  KindPoolDeposit,
			RoleWithdraw: KindPoolWithdraw,
			RoleFeeMint:  KindPoolFeeMint,
			RoleCreate:   KindPoolCreate,
		},
	}

	NFTPoolKinds = Kinds{
		Vehicle:          KindNFTPool,
		Lookup:           KindNFTPoolLookup,
		Position:         KindNFTPoolPosition,
		PositionSnapshot: KindNFTPoolPositionSnapshot,
		DayData:          KindNFTPoolDayData,
		HourData:         KindNFTPoolHourData,
		Transaction:      KindNFTPoolTransaction,
		SubRecords: map[Role]Kind{
			RoleDeposit:  KindNFTPoolDeposit,
			RoleWithdraw: KindNFTPoolWithdraw,
			RoleFeeMint:  KindNFTPoolFeeMint,
			RoleCreate:   KindNFTPoolCreate,
		},
	}
)

// KindsOf returns the entity kinds for a vehicle family.
func KindsOf(k event.PoolKind) Kinds {
	if k == event.PoolKindNFTPool {
		return NFTPoolKinds
	}
	return PoolKinds
}

func PositionID(user, pool string) string {
	return user + "-" + pool
}

func ManagedInvestmentID(manager, pool string) string {
	return manager + "-" + pool
}

func SubRecordID(txHash string, role Role) string {
	return txHash + "-" + string(role)
}

func PositionSnapshotID(positionID string, timestamp int64) string {
	return fmt.Sprintf("%s-%d", positionID, timestamp)
}

// DayIndex is the unix day an event timestamp falls in.
func DayIndex(timestamp int64) int64 {
	return timestamp / DaySeconds
}

// HourIndex is the unix hour an event timestamp falls in.
func HourIndex(timestamp int64) int64 {
	return timestamp / HourSeconds
}

// BucketID joins an owner id with a bucket index.
func BucketID(owner string, index int64) string {
	return fmt.Sprintf("%s-%d", owner, index)
}
