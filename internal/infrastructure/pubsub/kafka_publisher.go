package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/ports"
)

// entityEnvelope is the wire shape of one downstream update.
type entityEnvelope struct {
	ChangeKind domain.ChangeKind       `json:"change_kind"`
	Entity     *domain.CanonicalEntity `json:"entity"`
	EmittedAt  time.Time               `json:"emitted_at"`
}

// KafkaPublisher delivers canonical entities to the downstream topic
// with at-least-once semantics: RequireAll acks plus write retries.
// Messages are keyed by (integration-scoped) external ID so one entity's
// updates land on one partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher for the downstream entity topic.
func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish emits one canonical entity update. Downstream consumers are
// expected to be idempotent on (internal ID, content hash).
func (p *KafkaPublisher) Publish(ctx context.Context, entity *domain.CanonicalEntity, kind domain.ChangeKind) error {
	envelope := entityEnvelope{
		ChangeKind: kind,
		Entity:     entity,
		EmittedAt:  time.Now(),
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal entity envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(entity.Platform + "/" + entity.ExternalID),
		Value: value,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write entity to kafka: %w", err)
	}

	p.logger.Debug().
		Str("externalId", entity.ExternalID).
		Str("changeKind", string(kind)).
		Str("entityType", string(entity.Type)).
		Msg("Published canonical entity")
	return nil
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ ports.Publisher = (*KafkaPublisher)(nil)
