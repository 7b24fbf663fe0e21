package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"PoolIndexer/internal/core"
	"PoolIndexer/internal/event"
	fpmath "PoolIndexer/internal/math"
	"PoolIndexer/internal/state"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownKind    = errors.New("unknown entity kind")
	ErrInvalidAddress = errors.New("invalid address")
)

// Store is the read side the service needs.
type Store interface {
	state.EntityReader
	state.EventLog
	LastEvent(ctx context.Context) (*state.EventRecord, error)
}

// QueryService provides read-only access to indexed entities. Every
// response carries as_of_sequence, the last committed event sequence.
type QueryService struct {
	store Store
}

func NewQueryService(store Store) *QueryService {
	return &QueryService{store: store}
}

// GetEntity returns one entity by kind name and id.
func (qs *QueryService) GetEntity(ctx context.Context, kind, id string) (*EntityResponse, error) {
	k, ok := state.ParseKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	data, err := qs.store.Get(ctx, k, id)
	if err != nil {
		return nil, err
	}
	return &EntityResponse{Kind: kind, ID: id, Data: data, AsOfSequence: asOfSeq}, nil
}

// ListEntities returns up to limit entities of a kind ordered by id.
func (qs *QueryService) ListEntities(ctx context.Context, kind string, limit int) (*EntityListResponse, error) {
	k, ok := state.ParseKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := qs.store.List(ctx, k, limit)
	if err != nil {
		return nil, err
	}
	items := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		items = append(items, r)
	}
	return &EntityListResponse{Kind: kind, Items: items, AsOfSequence: asOfSeq}, nil
}

// GetPool looks an address up as a Pool, then as an NFTPool.
func (qs *QueryService) GetPool(ctx context.Context, address string) (*PoolResponse, error) {
	if !event.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}
	id := event.NormalizeAddress(address)
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	for _, kinds := range []state.Kinds{state.PoolKinds, state.NFTPoolKinds} {
		data, err := qs.store.Get(ctx, kinds.Vehicle, id)
		if errors.Is(err, state.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// Both vehicle types share the Investment fields.
		var inv state.Investment
		if err := json.Unmarshal(data, &inv); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kinds.Vehicle, id, err)
		}
		return &PoolResponse{
			Kind:                string(kinds.Vehicle),
			Address:             inv.ID,
			Name:                inv.Name,
			Manager:             inv.Manager,
			TokenPrice:          fpmath.ConvertEthToDecimal(inv.TokenPrice),
			TotalSupply:         fpmath.ConvertEthToDecimal(inv.TotalSupply),
			TradeVolumeUSD:      human(inv.TradeVolumeUSD),
			TotalValueLockedUSD: human(inv.TotalValueLockedUSD),
			FeesCollected:       human(inv.FeesCollected),
			AsOfSequence:        asOfSeq,
		}, nil
	}
	return nil, state.ErrNotFound
}

// GetPosition returns a user's position in pool from either vehicle family.
func (qs *QueryService) GetPosition(ctx context.Context, user, pool string) (*PositionResponse, error) {
	if !event.IsHexAddress(user) || !event.IsHexAddress(pool) {
		return nil, fmt.Errorf("%w: %s/%s", ErrInvalidAddress, user, pool)
	}
	id := state.PositionID(event.NormalizeAddress(user), event.NormalizeAddress(pool))
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	for _, kinds := range []state.Kinds{state.PoolKinds, state.NFTPoolKinds} {
		data, err := qs.store.Get(ctx, kinds.Position, id)
		if errors.Is(err, state.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var p state.Position
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kinds.Position, id, err)
		}
		return &PositionResponse{
			Kind:         string(kinds.Position),
			ID:           p.ID,
			User:         p.User,
			Pool:         p.Pool,
			TokenBalance: fpmath.ConvertEthToDecimal(p.TokenBalance),
			AveragePrice: fpmath.ConvertEthToDecimal(p.AveragePrice),
			USDValue:     fpmath.ConvertEthToDecimal(p.USDValue),
			AsOfSequence: asOfSeq,
		}, nil
	}
	return nil, state.ErrNotFound
}

// GetProtocol returns the protocol singleton.
func (qs *QueryService) GetProtocol(ctx context.Context, id string) (*ProtocolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	data, err := qs.store.Get(ctx, state.KindProtocol, id)
	if err != nil {
		return nil, err
	}
	var p state.Protocol
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode protocol %s: %w", id, err)
	}
	return &ProtocolResponse{
		ID:                  p.ID,
		PoolCount:           p.PoolCount,
		NFTPoolCount:        p.NFTPoolCount,
		TxCount:             p.TxCount,
		TotalVolumeUSD:      human(p.TotalVolumeUSD),
		TotalValueLockedUSD: human(p.TotalValueLockedUSD),
		AsOfSequence:        asOfSeq,
	}, nil
}

// --- Admin APIs ---

const verifyPage = 1000

// VerifyIntegrity walks the event log and checks that every record links
// to its predecessor's state hash and that sequences have no gaps.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}
	genesis := core.NewStateHasher().GetPrevHash()
	prevHash := genesis[:]
	var prevSeq int64

	for {
		page, err := qs.store.Events(ctx, prevSeq, verifyPage)
		if err != nil {
			return nil, err
		}
		for _, rec := range page {
			if rec.Sequence != prevSeq+1 {
				report.SequenceGaps = append(report.SequenceGaps, rec.Sequence)
			}
			if !bytes.Equal(rec.PrevHash, prevHash) {
				report.HashChainBreaks = append(report.HashChainBreaks, rec.Sequence)
			}
			prevHash = rec.StateHash
			prevSeq = rec.Sequence
			report.EventsChecked++
		}
		if len(page) < verifyPage {
			break
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SequenceGaps) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	last, err := qs.store.LastEvent(ctx)
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}
	if last == nil {
		return 0, nil
	}
	return last.Sequence, nil
}

// human renders a raw 18-decimal aggregate.
func human(v decimal.Decimal) decimal.Decimal {
	return v.Shift(-fpmath.TokenConfig.DecimalPrecision)
}
