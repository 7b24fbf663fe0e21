package ingestion

import (
	"context"
	"errors"
	"time"

	"PoolIndexer/internal/core"
	"PoolIndexer/internal/event"
	"PoolIndexer/internal/observability"

	"github.com/rs/zerolog"
)

// Processor applies one decoded event. *core.Engine implements it.
type Processor interface {
	ProcessEvent(ctx context.Context, evt event.Event) error
}

// Pipeline is the single goroutine between the transports and the core.
type Pipeline struct {
	proc    Processor
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewPipeline(proc Processor, metrics *observability.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		proc:    proc,
		metrics: metrics,
		logger:  logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run drains in until ctx is cancelled or in is closed.
func (p *Pipeline) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			p.Handle(ctx, raw)
		}
	}
}

// Handle decodes and applies one message, then settles it:
//   - applied, duplicate, integrity and ordering rejects are acked
//   - undecodable payloads are terminated
//   - anything else is nacked; the consumer redelivers it with backoff
//     and holds later events until it succeeds
func (p *Pipeline) Handle(ctx context.Context, raw RawEvent) error {
	evt, err := ParseRawEvent(raw)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ParseErrors.WithLabelValues(raw.Subject).Inc()
		}
		p.logger.Error().Err(err).Str("subject", raw.Subject).Msg("dropping undecodable event")
		call(raw.TermFunc)
		reply(raw, err)
		return err
	}

	err = p.proc.ProcessEvent(ctx, evt)
	switch {
	case err == nil:
		if p.metrics != nil && !raw.Received.IsZero() {
			p.metrics.IngestToApply.WithLabelValues(raw.EventType).Observe(time.Since(raw.Received).Seconds())
		}
		call(raw.AckFunc)
	case errors.Is(err, core.ErrDuplicate):
		call(raw.AckFunc)
	case errors.Is(err, core.ErrIntegrity), errors.Is(err, core.ErrUnknownEvent):
		// Logged by the core; redelivery cannot fix it.
		call(raw.AckFunc)
	case errors.Is(err, core.ErrOutOfOrder):
		p.logger.Warn().Err(err).Str("key", evt.IdempotencyKey()).Msg("out-of-order event skipped")
		call(raw.AckFunc)
	default:
		p.logger.Error().Err(err).Str("key", evt.IdempotencyKey()).Msg("event processing failed, requesting redelivery")
		call(raw.NakFunc)
	}
	reply(raw, err)
	return err
}

func call(f func()) {
	if f != nil {
		f()
	}
}

func reply(raw RawEvent, err error) {
	if raw.Reply != nil {
		raw.Reply(err)
	}
}
