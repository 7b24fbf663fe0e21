package event

import "math/big"

// PoolCreated is emitted by a factory when it deploys a pool or NFT pool.
type PoolCreated struct {
	Log
	Kind           PoolKind
	PoolAddress    string
	ManagerAddress string
}

func (e *PoolCreated) EventType() EventType {
	if e.Kind == PoolKindNFTPool {
		return EventTypeCreatedNFTPool
	}
	return EventTypeCreatedPool
}

// Deposit is emitted by a pool when a user invests.
// AMM-style pools only carry Amount; PoolTokens is nil and derived from the
// live token price. NFT pools carry both.
type Deposit struct {
	Log
	Kind        PoolKind
	UserAddress string
	Amount      *big.Int // USD, 18 decimals
	PoolTokens  *big.Int // Minted pool tokens, nil when not supplied
}

func (e *Deposit) EventType() EventType {
	if e.Kind == PoolKindNFTPool {
		return EventTypeNFTPoolDeposit
	}
	return EventTypeDeposit
}

// Withdraw is emitted by a pool when a user redeems tokens.
type Withdraw struct {
	Log
	Kind           PoolKind
	UserAddress    string
	PoolTokens     *big.Int // Burned pool tokens
	ValueWithdrawn *big.Int // USD, nil when not supplied
}

func (e *Withdraw) EventType() EventType {
	if e.Kind == PoolKindNFTPool {
		return EventTypeNFTPoolWithdraw
	}
	return EventTypeWithdraw
}

// MintedManagerFee is emitted by a Pool when performance fee tokens are
// minted to its manager.
type MintedManagerFee struct {
	Log
	Amount *big.Int // Fee pool tokens
}

func (e *MintedManagerFee) EventType() EventType {
	return EventTypeMintedManagerFee
}

// ExecutedTransaction signals that pool holdings changed outside of
// deposits and withdrawals; the indexer re-syncs position mirrors.
type ExecutedTransaction struct {
	Log
	Kind PoolKind
}

func (e *ExecutedTransaction) EventType() EventType {
	if e.Kind == PoolKindNFTPool {
		return EventTypeNFTPoolExecutedTransaction
	}
	return EventTypeExecutedTransaction
}
