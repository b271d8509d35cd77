// Package source feeds the pipeline from message brokers. Platform
// adapters that cannot POST callbacks publish raw payloads to a topic
// instead; this consumer bridges them into the same ingestion path.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/BrKDDD/LawAgent2/internal/logging"
	"github.com/BrKDDD/LawAgent2/internal/pipeline"
)

// platformHeader names the record header carrying the platform id. The
// record key is the fallback; empty both ways means the generic decoder.
const platformHeader = "platform"

// Ingestor is the admission surface the consumer pushes into.
type Ingestor interface {
	Ingest(ctx context.Context, platform string, payload []byte) error
}

type Config struct {
	Brokers []string
	Topic   string
	Group   string
}

// KafkaSource consumes raw platform payloads from a topic through a
// consumer group, so multiple capture instances share partitions.
type KafkaSource struct {
	client sarama.ConsumerGroup
	topic  string
	pipe   Ingestor
	log    *logging.Logger
}

func NewKafka(cfg Config, pipe Ingestor, log *logging.Logger) (*KafkaSource, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = time.Second
	sc.Version = sarama.V2_8_0_0

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.Group, sc)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}
	return &KafkaSource{
		client: client,
		topic:  cfg.Topic,
		pipe:   pipe,
		log:    log.Named("kafka"),
	}, nil
}

// Run consumes until ctx is cancelled, re-joining the group after
// rebalances and transient broker failures.
func (s *KafkaSource) Run(ctx context.Context) error {
	handler := &groupHandler{pipe: s.pipe, log: s.log}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.client.Consume(ctx, []string{s.topic}, handler); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.log.Warnw("consumer session ended, rejoining", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

func (s *KafkaSource) Close() error { return s.client.Close() }

type groupHandler struct {
	pipe Ingestor
	log  *logging.Logger
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.log.Infow("consumer group session started", "claims", sess.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		platform := platformOf(msg)
		err := h.pipe.Ingest(sess.Context(), platform, msg.Value)
		switch {
		case err == nil:
			sess.MarkMessage(msg, "")
		case errors.Is(err, pipeline.ErrStopped), errors.Is(err, context.Canceled):
			// Offset stays uncommitted so the record is redelivered to
			// whichever instance picks up the partition next.
			return nil
		default:
			h.log.Warnw("ingestion failed, leaving offset uncommitted",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
	return nil
}

func platformOf(msg *sarama.ConsumerMessage) string {
	for _, h := range msg.Headers {
		if string(h.Key) == platformHeader && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return string(msg.Key)
}
