package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/eggdevsol-del/manuscalendair-notifications/internal/domain"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/eventbus"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/mylogger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxInserter interface {
	Insert(ctx context.Context, eventType string, payload []byte) (int64, error)
}

// intentMap is the fixed fan-out from a domain event to the notification
// intents it produces. An appointment confirmation goes out on both channels.
var intentMap = map[string][]string{
	domain.EventMessageCreated:       {domain.IntentPushMessage},
	domain.EventAppointmentConfirmed: {domain.IntentEmailConfirmation, domain.IntentPushMessage},
	domain.EventConsultationCreated:  {domain.IntentPushMessage, domain.IntentEmailConfirmation},
}

// Orchestrator translates domain events into durable outbox rows. It does no
// network I/O of its own, so a slow channel never blocks the code path that
// raised the event. If the insert itself fails the event is dropped and
// logged; there is no durable record to retry from.
type Orchestrator struct {
	outbox OutboxInserter
	logger *zap.Logger
	tracer trace.Tracer
}

func New(outbox OutboxInserter, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		outbox: outbox,
		logger: logger,
		tracer: otel.Tracer("notification_orchestrator"),
	}
}

// Register subscribes the orchestrator's handlers on the bus. Part of the
// explicit service startup, not package init.
func (o *Orchestrator) Register(bus *eventbus.Bus) {
	for eventName := range intentMap {
		name := eventName
		bus.Subscribe(name, func(ctx context.Context, payload json.RawMessage) error {
			return o.OnEvent(ctx, name, payload)
		})
	}
}

// OnEvent persists one pending outbox row per mapped intent. Publishing the
// same event twice produces independent rows: deduplication is the
// publisher's burden, not the pipeline's.
func (o *Orchestrator) OnEvent(ctx context.Context, eventName string, payload json.RawMessage) error {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.OnEvent")
	defer span.End()

	span.SetAttributes(attribute.String("event_name", eventName))

	intents, ok := intentMap[eventName]
	if !ok {
		mylogger.Warn(
			ctx,
			o.logger,
			"No intent mapping for event, ignoring",
			zap.String("event_name", eventName),
		)

		return nil
	}

	for _, intent := range intents {
		envelope, err := json.Marshal(domain.Envelope{
			Event:    eventName,
			DedupKey: uuid.NewString(),
			Payload:  payload,
		})
		if err != nil {
			span.RecordError(err)

			return err
		}

		id, err := o.outbox.Insert(ctx, intent, envelope)
		if err != nil {
			span.RecordError(err)
			mylogger.Error(
				ctx,
				o.logger,
				"Dropping notification intent, outbox insert failed",
				zap.String("event_name", eventName),
				zap.String("intent", intent),
				zap.Error(err),
			)

			return err
		}

		mylogger.Debug(
			ctx,
			o.logger,
			"Notification intent persisted",
			zap.Int64("entry_id", id),
			zap.String("intent", intent),
		)
	}

	return nil
}
