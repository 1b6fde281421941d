package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/eventshare/ledger/internal/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Settler is the settlement entry point the consumer feeds into. It is
// the same idempotent operation the HTTP callback handler uses, so a
// confirmation delivered over both channels applies exactly once.
type Settler interface {
	Settle(ctx context.Context, transactionID uuid.UUID) (*models.SettlementResult, error)
}

// Consumer reads asynchronous gateway confirmations. Some providers fire
// a queue message in addition to (or instead of) the HTTP redirect.
type Consumer struct {
	reader  *kafka.Reader
	settler Settler
}

func NewConsumer(brokers []string, topic, groupID string, settler Settler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		settler: settler,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		var event struct {
			TransactionID string `json:"transaction_id"`
		}
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal gateway confirmation", "error", err)
			continue
		}

		transactionID, err := uuid.Parse(event.TransactionID)
		if err != nil {
			slog.Error("invalid transaction id in gateway confirmation", "value", event.TransactionID, "error", err)
			continue
		}

		slog.Info("gateway confirmation received", "topic", msg.Topic, "transaction_id", transactionID)

		if _, err := c.settler.Settle(ctx, transactionID); err != nil {
			slog.Error("failed to settle transaction from confirmation", "transaction_id", transactionID, "error", err)
			continue
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
