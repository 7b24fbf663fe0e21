// Package ledger keeps the per-transaction record of what each chain
// transaction did to a pool.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"PoolIndexer/internal/event"
	"PoolIndexer/internal/state"

	"github.com/rs/zerolog"
)

// Entry describes one sub-record to attach to a transaction.
type Entry struct {
	Kind        event.PoolKind
	Role        state.Role
	Log         *event.Log
	Pool        string
	User        string
	USDAmount   *big.Int
	TokenAmount *big.Int
}

// Validate ensures the entry is well-formed.
func (e *Entry) Validate() error {
	if e.Log == nil || e.Log.TxHash == "" {
		return fmt.Errorf("ledger entry has no transaction hash")
	}
	if _, ok := state.KindsOf(e.Kind).SubRecords[e.Role]; !ok {
		return fmt.Errorf("ledger entry has unknown role %q", e.Role)
	}
	if e.Pool == "" {
		return fmt.Errorf("ledger entry %s has no pool", e.Role)
	}
	if e.USDAmount != nil && e.USDAmount.Sign() < 0 {
		return fmt.Errorf("ledger entry %s has negative USD amount: %s", e.Role, e.USDAmount)
	}
	if e.TokenAmount != nil && e.TokenAmount.Sign() < 0 {
		return fmt.Errorf("ledger entry %s has negative token amount: %s", e.Role, e.TokenAmount)
	}
	return nil
}

// Recorder writes transaction ledger entries and their sub-records.
type Recorder struct {
	logger     zerolog.Logger
	overwrites func()
}

// NewRecorder creates a recorder. onOverwrite, if set, is called each time
// a sub-record replaces an earlier one with the same id.
func NewRecorder(logger zerolog.Logger, onOverwrite func()) *Recorder {
	if onOverwrite == nil {
		onOverwrite = func() {}
	}
	return &Recorder{
		logger:     logger.With().Str("component", "ledger").Logger(),
		overwrites: onOverwrite,
	}
}

// Record upserts the transaction entry for entry.Log.TxHash and attaches
// a sub-record for entry.Role. A transaction holds at most one sub-record
// per role; a second event of the same role in the same transaction
// overwrites the first.
func (r *Recorder) Record(ctx context.Context, uow *state.UnitOfWork, entry Entry) (*state.SubRecord, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	kinds := state.KindsOf(entry.Kind)
	txHash := entry.Log.TxHash

	tx, found, err := state.Load[state.Transaction](ctx, uow, kinds.Transaction, txHash)
	if err != nil {
		return nil, err
	}
	if !found {
		tx = &state.Transaction{
			ID:          txHash,
			BlockNumber: entry.Log.BlockNumber,
			Timestamp:   entry.Log.Timestamp,
			Pool:        entry.Pool,
		}
	}

	subID := state.SubRecordID(txHash, entry.Role)
	slot := roleSlot(tx, entry.Role)
	if *slot != nil {
		r.overwrites()
		r.logger.Warn().
			Str("tx_hash", txHash).
			Str("role", string(entry.Role)).
			Uint64("log_index", entry.Log.LogIndex).
			Msg("overwriting sub-record from earlier event in same transaction")
	}
	*slot = &subID

	sub := &state.SubRecord{
		ID:          subID,
		Transaction: txHash,
		Role:        string(entry.Role),
		Timestamp:   entry.Log.Timestamp,
		LogIndex:    entry.Log.LogIndex,
		UserAddress: entry.User,
		PoolAddress: entry.Pool,
		USDAmount:   orZero(entry.USDAmount),
		TokenAmount: orZero(entry.TokenAmount),
	}

	uow.Save(kinds.Transaction, txHash, tx)
	uow.Save(kinds.SubRecords[entry.Role], subID, sub)
	return sub, nil
}

func roleSlot(tx *state.Transaction, role state.Role) **string {
	switch role {
	case state.RoleDeposit:
		return &tx.Deposit
	case state.RoleWithdraw:
		return &tx.Withdraw
	case state.RoleFeeMint:
		return &tx.FeeMint
	default:
		return &tx.Create
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
