package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, payload json.RawMessage) error

// Bus is the in-process publish/subscribe register. Fan-out is synchronous,
// in registration order, on the caller's goroutine. Nothing is persisted:
// handlers that need durability must write before returning.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *zap.Logger
	tracer   trace.Tracer
}

func New(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
		tracer:   otel.Tracer("eventbus"),
	}
}

func (b *Bus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish is advisory: a failing or panicking handler is logged and skipped,
// it never aborts the remaining handlers or the caller's own operation.
func (b *Bus) Publish(ctx context.Context, eventName string, payload any) {
	ctx, span := b.tracer.Start(ctx, "Bus.Publish")
	defer span.End()

	span.SetAttributes(attribute.String("event_name", eventName))

	raw, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			b.logger,
			"Failed to marshal event payload",
			zap.String("event_name", eventName),
			zap.Error(err),
		)

		return
	}

	b.mu.RLock()
	handlers := b.handlers[eventName]
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.invoke(ctx, eventName, handler, raw)
	}
}

func (b *Bus) invoke(ctx context.Context, eventName string, handler Handler, raw json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			mylogger.Error(
				ctx,
				b.logger,
				"Event handler panicked",
				zap.String("event_name", eventName),
				zap.Any("panic", r),
			)
		}
	}()

	if err := handler(ctx, raw); err != nil {
		mylogger.Error(
			ctx,
			b.logger,
			"Event handler failed",
			zap.String("event_name", eventName),
			zap.Error(err),
		)
	}
}
