package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PoolIndexer/internal/event"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// WatchSubjectPrefix is followed by the pool kind. The upstream log
	// decoder consumes these to start following new contracts.
	WatchSubjectPrefix = "poolindexer.watch."
	WatchStream        = "POOLINDEXER_WATCH"
)

// WatchRequest asks the log decoder to follow a contract from a block.
type WatchRequest struct {
	RequestID string    `json:"request_id"`
	IndexerID string    `json:"indexer_id"`
	Kind      string    `json:"kind"`
	Address   string    `json:"address"`
	FromBlock uint64    `json:"from_block"`
	CreatedAt time.Time `json:"created_at"`
}

// WatchRegistry implements chain.ContractRegistry over JetStream.
type WatchRegistry struct {
	js        StreamPublisher
	indexerID string
}

func NewWatchRegistry(js StreamPublisher, indexerID string) *WatchRegistry {
	return &WatchRegistry{js: js, indexerID: indexerID}
}

func (r *WatchRegistry) Register(ctx context.Context, kind event.PoolKind, address string, block uint64) error {
	req := WatchRequest{
		RequestID: uuid.NewString(),
		IndexerID: r.indexerID,
		Kind:      kind.String(),
		Address:   address,
		FromBlock: block,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal watch request: %w", err)
	}

	// Same contract registered twice is collapsed by the message id.
	msgID := fmt.Sprintf("%s:%s", kind, address)
	if _, err := r.js.Publish(ctx, WatchSubjectPrefix+kind.String(), data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish watch %s: %w", address, err)
	}
	return nil
}
