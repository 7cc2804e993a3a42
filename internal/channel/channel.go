package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPermanent marks a delivery failure the dispatcher must not retry:
// the entry is dead-lettered on the spot regardless of attempts left.
// Anything not wrapped with it is treated as transient.
var ErrPermanent = errors.New("permanent delivery failure")

func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Adapter is the contract between the dispatcher and one notification
// medium. The payload is the orchestrator's envelope, opaque to the
// dispatcher; the adapter decides retryability.
type Adapter interface {
	Send(ctx context.Context, eventType string, payload json.RawMessage) error
}

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(eventType string, adapter Adapter) {
	r.adapters[eventType] = adapter
}

func (r *Registry) Lookup(eventType string) (Adapter, bool) {
	adapter, ok := r.adapters[eventType]
	return adapter, ok
}
