package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/eggdevsol-del/manuscalendair-notifications/internal/domain"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/eventbus"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/orchestrator"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedInsert struct {
	eventType string
	payload   []byte
}

type recordingInserter struct {
	mu      sync.Mutex
	inserts []recordedInsert
	err     error
}

func (r *recordingInserter) Insert(_ context.Context, eventType string, payload []byte) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return 0, r.err
	}

	r.inserts = append(r.inserts, recordedInsert{eventType: eventType, payload: payload})

	return int64(len(r.inserts)), nil
}

func (r *recordingInserter) all() []recordedInsert {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]recordedInsert(nil), r.inserts...)
}

func TestOnEvent_AppointmentConfirmedFansOutToBothChannels(t *testing.T) {
	inserter := &recordingInserter{}
	orch := orchestrator.New(inserter, zap.NewNop())

	payload, err := json.Marshal(domain.AppointmentConfirmedEvent{AppointmentID: 42})
	require.NoError(t, err)

	require.NoError(t, orch.OnEvent(context.Background(), domain.EventAppointmentConfirmed, payload))

	inserts := inserter.all()
	require.Len(t, inserts, 2)

	kinds := []string{inserts[0].eventType, inserts[1].eventType}
	require.ElementsMatch(t, []string{domain.IntentEmailConfirmation, domain.IntentPushMessage}, kinds)

	for _, ins := range inserts {
		var envelope domain.Envelope
		require.NoError(t, json.Unmarshal(ins.payload, &envelope))
		require.Equal(t, domain.EventAppointmentConfirmed, envelope.Event)
		require.NotEmpty(t, envelope.DedupKey)
		require.JSONEq(t, string(payload), string(envelope.Payload))
	}
}

func TestOnEvent_MessageCreatedMapsToPushOnly(t *testing.T) {
	inserter := &recordingInserter{}
	orch := orchestrator.New(inserter, zap.NewNop())

	require.NoError(t, orch.OnEvent(context.Background(), domain.EventMessageCreated, []byte(`{"message_id":7}`)))

	inserts := inserter.all()
	require.Len(t, inserts, 1)
	require.Equal(t, domain.IntentPushMessage, inserts[0].eventType)
}

func TestOnEvent_DuplicatePublishProducesIndependentEntries(t *testing.T) {
	inserter := &recordingInserter{}
	orch := orchestrator.New(inserter, zap.NewNop())

	payload := []byte(`{"message_id":7}`)
	require.NoError(t, orch.OnEvent(context.Background(), domain.EventMessageCreated, payload))
	require.NoError(t, orch.OnEvent(context.Background(), domain.EventMessageCreated, payload))

	inserts := inserter.all()
	require.Len(t, inserts, 2)

	// No event-level dedup, but each intent still gets its own dedup key.
	var first, second domain.Envelope
	require.NoError(t, json.Unmarshal(inserts[0].payload, &first))
	require.NoError(t, json.Unmarshal(inserts[1].payload, &second))
	require.NotEqual(t, first.DedupKey, second.DedupKey)
}

func TestOnEvent_UnknownEventIsIgnored(t *testing.T) {
	inserter := &recordingInserter{}
	orch := orchestrator.New(inserter, zap.NewNop())

	require.NoError(t, orch.OnEvent(context.Background(), "invoice.paid", []byte(`{}`)))
	require.Empty(t, inserter.all())
}

func TestOnEvent_InsertFailureIsReturnedForLogging(t *testing.T) {
	inserter := &recordingInserter{err: errors.New("store unavailable")}
	orch := orchestrator.New(inserter, zap.NewNop())

	err := orch.OnEvent(context.Background(), domain.EventMessageCreated, []byte(`{}`))
	require.ErrorContains(t, err, "store unavailable")
}

func TestRegister_SubscribesAllMappedEvents(t *testing.T) {
	inserter := &recordingInserter{}
	orch := orchestrator.New(inserter, zap.NewNop())

	bus := eventbus.New(zap.NewNop())
	orch.Register(bus)

	bus.Publish(context.Background(), domain.EventMessageCreated, domain.MessageCreatedEvent{MessageID: 1})
	bus.Publish(context.Background(), domain.EventAppointmentConfirmed, domain.AppointmentConfirmedEvent{AppointmentID: 2})
	bus.Publish(context.Background(), domain.EventConsultationCreated, domain.ConsultationCreatedEvent{ConsultationID: 3})

	// 1 + 2 + 2 intents across the three events.
	require.Len(t, inserter.all(), 5)
}
