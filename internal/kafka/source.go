// Package kafka consumes telemetry payloads from a Kafka topic and funnels
// them into the ingestion service.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/motionlab-io/motiond/internal/ingest"
	"github.com/motionlab-io/motiond/internal/logger"
	"github.com/motionlab-io/motiond/internal/models"
)

// Source reads JSON telemetry payloads from a topic. Offsets are committed
// only after a successful (or permanently rejected) ingest, so storage
// outages replay messages instead of losing them. Replays are harmless:
// ingestion collapses duplicates by idempotency key.
type Source struct {
	brokers []string
	topic   string
	groupID string
	ingest  *ingest.Service
}

// NewSource creates a source feeding the ingestion service.
func NewSource(brokers []string, topic, groupID string, ing *ingest.Service) *Source {
	return &Source{brokers: brokers, topic: topic, groupID: groupID, ingest: ing}
}

// Run consumes until ctx is canceled.
func (s *Source) Run(ctx context.Context) error {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(s.brokers, s.groupID, config)
	if err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	defer group.Close()

	go func() {
		for err := range group.Errors() {
			logger.Error("Kafka consumer error: %v", err)
		}
	}()

	logger.Info("Consuming telemetry from topic %s as group %s", s.topic, s.groupID)
	handler := &claimHandler{ingest: s.ingest}
	for {
		if err := group.Consume(ctx, []string{s.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Error("Kafka consume session failed: %v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

type claimHandler struct {
	ingest *ingest.Service
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var payload models.TelemetryPayload
		if err := json.Unmarshal(message.Value, &payload); err != nil {
			logger.Warn("Skipping malformed message at %s/%d@%d: %v",
				message.Topic, message.Partition, message.Offset, err)
			session.MarkMessage(message, "")
			continue
		}

		if _, _, err := h.ingest.Ingest(payload); err != nil {
			if errors.Is(err, ingest.ErrInvalidShape) {
				logger.Warn("Skipping invalid payload at %s/%d@%d: %v",
					message.Topic, message.Partition, message.Offset, err)
				session.MarkMessage(message, "")
				continue
			}
			// Storage trouble. Bail without marking so the session restarts
			// and redelivers from the last committed offset.
			return fmt.Errorf("failed to ingest message at %s/%d@%d: %w",
				message.Topic, message.Partition, message.Offset, err)
		}
		session.MarkMessage(message, "")
	}
	return nil
}
