package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PoolIndexer/internal/chain"
	"PoolIndexer/internal/event"
	"PoolIndexer/internal/ledger"
	"PoolIndexer/internal/observability"
	"PoolIndexer/internal/rollup"
	"PoolIndexer/internal/state"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config holds the engine's domain settings.
type Config struct {
	ProtocolID    string
	DedupCapacity int

	// Allowed factory addresses per vehicle family. Empty accepts any.
	PoolFactories    []string
	NFTPoolFactories []string

	PoolAccounting    state.PositionAccounting
	NFTPoolAccounting state.PositionAccounting
}

// Output is emitted after each committed event.
type Output struct {
	Record *state.EventRecord
	Writes []state.Write
}

// Engine is the single-threaded event processor. Each event is applied in
// its own unit of work and committed atomically with its dedup record.
type Engine struct {
	store       state.EntityStore
	fetcher     *chain.Fetcher
	registry    chain.ContractRegistry
	rollup      *rollup.Engine
	recorder    *ledger.Recorder
	idempotency *IdempotencyChecker
	order       *OrderValidator
	hasher      *StateHasher
	sequence    int64

	accounting map[event.PoolKind]state.PositionAccounting
	factories  map[event.PoolKind]map[string]bool

	metrics *observability.Metrics
	logger  zerolog.Logger

	outputs chan<- Output
}

// NewEngine wires an engine. metrics and outputs may be nil.
func NewEngine(
	cfg Config,
	store state.EntityStore,
	fetcher *chain.Fetcher,
	registry chain.ContractRegistry,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	outputs chan<- Output,
) (*Engine, error) {
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = 100_000
	}
	if cfg.PoolAccounting == nil {
		cfg.PoolAccounting = state.WeightedAverage{}
	}
	if cfg.NFTPoolAccounting == nil {
		cfg.NFTPoolAccounting = state.WeightedAverage{}
	}

	logger = logger.With().Str("component", "core").Logger()
	idem, err := NewIdempotencyChecker(cfg.DedupCapacity, store, metrics, logger)
	if err != nil {
		return nil, err
	}

	var onOverwrite func()
	if metrics != nil {
		onOverwrite = metrics.LedgerOverwrites.Inc
	}

	return &Engine{
		store:       store,
		fetcher:     fetcher,
		registry:    registry,
		rollup:      rollup.New(cfg.ProtocolID),
		recorder:    ledger.NewRecorder(logger, onOverwrite),
		idempotency: idem,
		order:       NewOrderValidator(),
		hasher:      NewStateHasher(),
		accounting: map[event.PoolKind]state.PositionAccounting{
			event.PoolKindPool:    cfg.PoolAccounting,
			event.PoolKindNFTPool: cfg.NFTPoolAccounting,
		},
		factories: map[event.PoolKind]map[string]bool{
			event.PoolKindPool:    addressSet(cfg.PoolFactories),
			event.PoolKindNFTPool: addressSet(cfg.NFTPoolFactories),
		},
		metrics: metrics,
		logger:  logger,
		outputs: outputs,
	}, nil
}

func addressSet(addrs []string) map[string]bool {
	set := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		set[event.NormalizeAddress(a)] = true
	}
	return set
}

// warmKeys bounds how many recent keys Recover preloads into the LRU.
const warmKeys = 10_000

// recentKeys is implemented by stores that can list recently applied keys.
type recentKeys interface {
	RecentEventKeys(ctx context.Context, n int) ([]string, error)
}

// Recover restores sequence, hash chain and ordering from the last
// committed event.
func (e *Engine) Recover(ctx context.Context) error {
	last, err := e.store.LastEvent(ctx)
	if err != nil {
		return fmt.Errorf("load last event: %w", err)
	}
	if last == nil {
		e.logger.Info().Msg("empty store, starting from genesis")
		return nil
	}

	e.sequence = last.Sequence
	e.hasher.Restore(last.StateHash)
	e.order.Advance(event.Position{Block: last.Block, LogIndex: last.LogIndex})
	keys := []string{last.Key}
	if recent, ok := e.store.(recentKeys); ok {
		more, err := recent.RecentEventKeys(ctx, warmKeys)
		if err != nil {
			return fmt.Errorf("load recent keys: %w", err)
		}
		keys = append(keys, more...)
	}
	e.idempotency.Warm(keys)

	e.logger.Info().
		Int64("sequence", last.Sequence).
		Uint64("block", last.Block).
		Uint64("log_index", last.LogIndex).
		Msg("recovered from event log")
	return nil
}

// eventContext carries side effects that must succeed before commit.
type eventContext struct {
	registrations []chain.Registration
}

// ProcessEvent is the main processing pipeline.
func (e *Engine) ProcessEvent(ctx context.Context, evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	key := evt.IdempotencyKey()
	meta := evt.Meta()

	// Step 1: idempotency
	isDuplicate := e.idempotency.IsDuplicate(ctx, eventType, key)

	// Step 2: ordering
	if err := e.order.Validate(meta.Position(), isDuplicate); err != nil {
		e.reject(eventType, "out_of_order")
		if e.metrics != nil {
			e.metrics.EventOutOfOrder.Inc()
		}
		return err
	}
	if isDuplicate {
		e.reject(eventType, "duplicate")
		e.logger.Debug().Str("key", key).Str("event_type", eventType).Msg("duplicate event skipped")
		return ErrDuplicate
	}

	// Step 3: dispatch into a fresh unit of work
	uow := state.NewUnitOfWork(e.store)
	ec := &eventContext{}
	volume, err := e.dispatch(ctx, uow, ec, evt)
	if err != nil {
		return e.fail(eventType, key, meta, err)
	}

	// Step 4: protocol counters and buckets for fund-moving events
	if countsAsTransaction(evt) {
		protocol, err := e.rollup.Protocol(ctx, uow)
		if err != nil {
			return e.fail(eventType, key, meta, err)
		}
		rollup.CountEvent(protocol)
		if err := e.rollup.SnapshotProtocol(ctx, uow, protocol, meta.Timestamp, volume); err != nil {
			return e.fail(eventType, key, meta, err)
		}
	}

	// Step 5: digest and hash
	writes, err := uow.Writes()
	if err != nil {
		return e.fail(eventType, key, meta, err)
	}
	sequence := e.sequence + 1
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.NextHash(sequence, StateDigest(writes))

	record := &state.EventRecord{
		Key:       key,
		EventType: eventType,
		TxHash:    meta.TxHash,
		Block:     meta.BlockNumber,
		LogIndex:  meta.LogIndex,
		Sequence:  sequence,
		StateHash: stateHash[:],
		PrevHash:  prevHash[:],
	}

	// Step 6: register new contracts, then commit atomically. A failed
	// registration fails the event so redelivery retries both.
	if err := e.register(ctx, ec); err != nil {
		e.reject(eventType, "registration")
		return fmt.Errorf("register %s: %w", key, err)
	}
	commitStart := time.Now()
	if err := uow.Commit(ctx, writes, record); err != nil {
		if e.metrics != nil {
			e.metrics.PersistErrors.WithLabelValues("commit").Inc()
		}
		e.reject(eventType, "error")
		return fmt.Errorf("commit %s: %w", key, err)
	}
	if e.metrics != nil {
		e.metrics.PersistBatchDur.Observe(time.Since(commitStart).Seconds())
	}

	// Step 7: advance in-memory state
	e.sequence = sequence
	e.hasher.Advance(stateHash)
	e.order.Advance(meta.Position())
	e.idempotency.MarkProcessed(key)

	// Step 8: publish
	e.emit(Output{Record: record, Writes: writes})

	if e.metrics != nil {
		e.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		e.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.metrics.CoreLastBlock.Set(float64(meta.BlockNumber))
		e.metrics.CoreEntitiesWritten.Observe(float64(len(writes)))
	}
	return nil
}

func (e *Engine) fail(eventType, key string, meta *event.Log, err error) error {
	reason := "error"
	if errors.Is(err, ErrIntegrity) {
		reason = "integrity"
		e.logger.Error().
			Err(err).
			Str("event_type", eventType).
			Str("key", key).
			Str("pool", meta.Address).
			Uint64("block", meta.BlockNumber).
			Msg("integrity violation, event skipped")
	}
	e.reject(eventType, reason)
	return fmt.Errorf("apply %s %s: %w", eventType, key, err)
}

func (e *Engine) reject(eventType, reason string) {
	if e.metrics != nil {
		e.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// register subscribes contracts created by the event. Registries must
// accept the same address twice.
func (e *Engine) register(ctx context.Context, ec *eventContext) error {
	if e.registry == nil {
		return nil
	}
	for _, r := range ec.registrations {
		if err := e.registry.Register(ctx, r.Kind, r.Address, r.Block); err != nil {
			if e.metrics != nil {
				e.metrics.RegistrationFailures.Inc()
			}
			e.logger.Error().Err(err).Str("pool", r.Address).Msg("contract registration failed")
			return err
		}
	}
	return nil
}

// countsAsTransaction reports whether evt moves funds. Creation and
// position syncs do not count toward protocol transactions.
func countsAsTransaction(evt event.Event) bool {
	switch evt.(type) {
	case *event.Deposit, *event.Withdraw, *event.MintedManagerFee:
		return true
	}
	return false
}

// emit is non-blocking; consumers that fall behind can rebuild from the store.
func (e *Engine) emit(out Output) {
	if e.outputs == nil {
		return
	}
	select {
	case e.outputs <- out:
	default:
		if e.metrics != nil {
			e.metrics.PublishFailures.Inc()
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, uow *state.UnitOfWork, ec *eventContext, evt event.Event) (decimal.Decimal, error) {
	switch ev := evt.(type) {
	case *event.PoolCreated:
		return e.handlePoolCreated(ctx, uow, ec, ev)
	case *event.Deposit:
		return e.handleDeposit(ctx, uow, ev)
	case *event.Withdraw:
		return e.handleWithdraw(ctx, uow, ev)
	case *event.MintedManagerFee:
		return e.handleMintedManagerFee(ctx, uow, ev)
	case *event.ExecutedTransaction:
		return e.handleExecutedTransaction(ctx, uow, ev)
	default:
		return decimal.Zero, fmt.Errorf("%w: %T", ErrUnknownEvent, evt)
	}
}

// GetSequence returns the number of applied events.
func (e *Engine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current hash chain tip.
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// ProtocolID is the id of the protocol singleton.
func (e *Engine) ProtocolID() string {
	return e.rollup.ProtocolID()
}
