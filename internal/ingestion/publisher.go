package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PoolIndexer/internal/core"
	"PoolIndexer/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// ChangesSubjectPrefix is followed by the entity kind, e.g.
	// poolindexer.changes.PoolPosition.
	ChangesSubjectPrefix = "poolindexer.changes."
	ChangesStream        = "POOLINDEXER_CHANGES"
)

// StreamPublisher is the slice of jetstream.JetStream the publishers use.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Change is one committed entity write, published after the commit.
type Change struct {
	IndexerID string          `json:"indexer_id"`
	Sequence  int64           `json:"sequence"`
	EventKey  string          `json:"event_key"`
	EventType string          `json:"event_type"`
	Block     uint64          `json:"block_number"`
	Kind      string          `json:"kind"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	StateHash []byte          `json:"state_hash"`
}

// ChangePublisher drains core outputs and publishes every write.
// Delivery is best-effort: the store is the source of truth.
type ChangePublisher struct {
	js          StreamPublisher
	inputChan   <-chan core.Output
	indexerID   string
	maxAttempts int
	backoff     time.Duration
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewChangePublisher(
	js StreamPublisher,
	inputChan <-chan core.Output,
	indexerID string,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ChangePublisher {
	return &ChangePublisher{
		js:          js,
		inputChan:   inputChan,
		indexerID:   indexerID,
		maxAttempts: 5,
		backoff:     100 * time.Millisecond,
		metrics:     metrics,
		logger:      logger.With().Str("component", "change_publisher").Logger(),
	}
}

// Run blocks until ctx is cancelled or the input channel closes.
func (cp *ChangePublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-cp.inputChan:
			if !ok {
				return nil
			}
			for _, c := range cp.changes(out) {
				if err := cp.publishWithRetry(ctx, c); err != nil {
					if cp.metrics != nil {
						cp.metrics.PublishFailures.Inc()
					}
					cp.logger.Warn().Err(err).
						Int64("sequence", c.Sequence).
						Str("kind", c.Kind).
						Str("id", c.ID).
						Msg("change publish failed")
				}
			}
		}
	}
}

func (cp *ChangePublisher) changes(out core.Output) []Change {
	changes := make([]Change, 0, len(out.Writes))
	for _, w := range out.Writes {
		changes = append(changes, Change{
			IndexerID: cp.indexerID,
			Sequence:  out.Record.Sequence,
			EventKey:  out.Record.Key,
			EventType: out.Record.EventType,
			Block:     out.Record.Block,
			Kind:      string(w.Kind),
			ID:        w.ID,
			Data:      json.RawMessage(w.Data),
			StateHash: out.Record.StateHash,
		})
	}
	return changes
}

// publishWithRetry retries with exponential backoff up to maxAttempts.
func (cp *ChangePublisher) publishWithRetry(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	subject := ChangesSubjectPrefix + c.Kind
	// Deterministic id lets JetStream drop replays of the same write.
	msgID := fmt.Sprintf("%s/%s/%s", c.EventKey, c.Kind, c.ID)

	backoff := cp.backoff
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		_, err = cp.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
		if err == nil {
			return nil
		}
		if attempt+1 >= cp.maxAttempts {
			return fmt.Errorf("publish %s after %d attempts: %w", subject, attempt+1, err)
		}
	}
}
