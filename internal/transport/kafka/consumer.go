package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/domain"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/eventbus"
	pkgkafka "github.com/eggdevsol-del/manuscalendair-notifications/pkg/kafka"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/mylogger"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Consumer bridges the booking application's Kafka topics onto the in-process
// event bus. The application publishes after its own commit; this is the
// production entry point for domain events, while collaborators living in the
// same binary publish on the bus directly.
type Consumer struct {
	bus     *eventbus.Bus
	pool    *pgxpool.Pool
	brokers []string
	groupID string
	logger  *zap.Logger
}

func NewConsumer(bus *eventbus.Bus, pool *pgxpool.Pool, brokers []string, groupID string, logger *zap.Logger) *Consumer {
	return &Consumer{
		bus:     bus,
		pool:    pool,
		brokers: brokers,
		groupID: groupID,
		logger:  logger,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	topics := []string{
		domain.EventMessageCreated,
		domain.EventAppointmentConfirmed,
		domain.EventConsultationCreated,
	}

	consumerGroup := pkgkafka.NewConsumerGroup(
		c.brokers,
		c.groupID,
		topics,
		c.processMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	mylogger.Info(
		ctx,
		c.logger,
		"Processing domain event from kafka",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	if !json.Valid(msg.Value) {
		// Unparseable payloads are skipped, not retried: redelivery cannot
		// fix them and would wedge the partition.
		mylogger.Error(
			ctx,
			c.logger,
			"Dropping malformed event payload",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
		)

		return nil
	}

	eventKey := fmt.Sprintf("%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)

	return processOnce(ctx, c.pool, c.logger, eventKey, func(ctx context.Context) error {
		c.bus.Publish(ctx, msg.Topic, json.RawMessage(msg.Value))

		return nil
	})
}
