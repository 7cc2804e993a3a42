package email_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/eggdevsol-del/manuscalendair-notifications/internal/channel"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/channel/email"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/domain"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSender() channel.Adapter {
	return email.NewSMTPSender(config.SMTP{
		Host: "localhost",
		Port: "2525",
		From: "noreply@example.com",
	}, zap.NewNop())
}

func envelope(t *testing.T, event string, payload any) json.RawMessage {
	t.Helper()

	inner, err := json.Marshal(payload)
	require.NoError(t, err)

	raw, err := json.Marshal(domain.Envelope{
		Event:    event,
		DedupKey: "key-1",
		Payload:  inner,
	})
	require.NoError(t, err)

	return raw
}

func TestSend_MalformedEnvelopeIsPermanent(t *testing.T) {
	err := newSender().Send(context.Background(), domain.IntentEmailConfirmation, json.RawMessage(`not json`))
	require.ErrorIs(t, err, channel.ErrPermanent)
}

func TestSend_MissingRecipientIsPermanent(t *testing.T) {
	raw := envelope(t, domain.EventAppointmentConfirmed, map[string]any{
		"appointment_id": 42,
		"service_name":   "Haircut",
	})

	err := newSender().Send(context.Background(), domain.IntentEmailConfirmation, raw)
	require.ErrorIs(t, err, channel.ErrPermanent)
	require.ErrorContains(t, err, "invalid recipient")
}

func TestSend_BogusAddressIsPermanent(t *testing.T) {
	raw := envelope(t, domain.EventAppointmentConfirmed, map[string]any{
		"client_email": "not-an-address",
	})

	err := newSender().Send(context.Background(), domain.IntentEmailConfirmation, raw)
	require.ErrorIs(t, err, channel.ErrPermanent)
}

func TestSend_EventWithoutTemplateIsPermanent(t *testing.T) {
	raw := envelope(t, domain.EventMessageCreated, map[string]any{
		"client_email": "client@example.com",
	})

	err := newSender().Send(context.Background(), domain.IntentEmailConfirmation, raw)
	require.ErrorIs(t, err, channel.ErrPermanent)
	require.ErrorContains(t, err, "no email template")
}

func TestSend_UnreachableServerIsRetryable(t *testing.T) {
	raw := envelope(t, domain.EventConsultationCreated, domain.ConsultationCreatedEvent{
		ConsultationID: 3,
		ClientEmail:    "client@example.com",
		Topic:          "Color correction",
		CreatedAt:      time.Now().UTC(),
	})

	// Nothing listens on the port, so the dial fails. Transport problems must
	// stay retryable so the entry is re-queued instead of dead-lettered.
	err := newSender().Send(context.Background(), domain.IntentEmailConfirmation, raw)
	require.Error(t, err)
	require.NotErrorIs(t, err, channel.ErrPermanent)
}
