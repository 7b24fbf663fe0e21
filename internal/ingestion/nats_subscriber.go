package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PoolIndexer/internal/event"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// ChainSubjectPrefix is followed by the event type, e.g.
	// poolindexer.chain.Deposit.
	ChainSubjectPrefix = "poolindexer.chain."
	ChainStream        = "POOLINDEXER_CHAIN"
	ChainConsumer      = "poolindexer-core"
)

// ChainSubject returns the subject decoded events of a type arrive on.
func ChainSubject(et event.EventType) string {
	return ChainSubjectPrefix + et.String()
}

// RawEvent is an undecoded message handed to the pipeline.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Received  time.Time

	AckFunc  func() // processed or deliberately skipped
	NakFunc  func() // transient failure, redeliver after a delay
	TermFunc func() // undecodable, never redeliver

	// Reply receives the processing outcome when set.
	Reply func(error)
}

// NATSSubscriber feeds decoded chain events from JetStream into the
// pipeline. All event types share one durable consumer with a single
// in-flight message so the stream's block order reaches the core intact.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumer  jetstream.ConsumeContext
	logger    zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger.With().Str("component", "nats_subscriber").Logger(),
	}
}

// Subscribe creates the durable consumer and starts delivery.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, ChainStream, chainConsumerConfig())
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", ChainConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawEvent{
			Subject:   msg.Subject(),
			EventType: strings.TrimPrefix(msg.Subject(), ChainSubjectPrefix),
			Data:      msg.Data(),
			Received:  time.Now(),
			AckFunc:   func() { msg.Ack() },
			NakFunc:   func() { msg.NakWithDelay(redeliveryDelay(numDelivered(msg))) },
			TermFunc:  func() { msg.Term() },
		}

		select {
		case ns.eventChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", ChainConsumer, err)
	}

	ns.consumer = cc
	ns.logger.Info().Str("subject", ChainSubjectPrefix+">").Str("consumer", ChainConsumer).Msg("subscribed")
	return nil
}

// chainConsumerConfig keeps one message in flight and redelivers it until
// it is acked or terminated. Later events wait behind a failing one.
func chainConsumerConfig() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       ChainConsumer,
		FilterSubject: ChainSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    -1,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
}

const (
	minRedeliveryDelay = time.Second
	maxRedeliveryDelay = 30 * time.Second
)

// redeliveryDelay doubles with each delivery attempt, capped at
// maxRedeliveryDelay.
func redeliveryDelay(delivered uint64) time.Duration {
	delay := minRedeliveryDelay
	for i := uint64(1); i < delivered; i++ {
		delay *= 2
		if delay >= maxRedeliveryDelay {
			return maxRedeliveryDelay
		}
	}
	return delay
}

func numDelivered(msg jetstream.Msg) uint64 {
	md, err := msg.Metadata()
	if err != nil {
		return 1
	}
	return md.NumDelivered
}

// Stop stops message delivery.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// EnsureStreams creates the inbound, outbound and contract-watch streams.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      ChainStream,
			Subjects:  []string{ChainSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      ChangesStream,
			Subjects:  []string{ChangesSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      WatchStream,
			Subjects:  []string{WatchSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.WorkQueuePolicy,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("poolindexer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
