package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"

	"github.com/eggdevsol-del/manuscalendair-notifications/internal/channel"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/domain"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/config"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/mylogger"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// recipient is what the adapter needs out of the envelope payload to address
// the mail. A missing or malformed address can never succeed on retry, so it
// is reported as permanent.
type recipient struct {
	Email string `json:"client_email" validate:"required,email"`
}

type smtpSender struct {
	from     string
	password string
	host     string
	port     string
	logger   *zap.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewSMTPSender(cfg config.SMTP, logger *zap.Logger) channel.Adapter {
	return &smtpSender{
		from:     cfg.From,
		password: cfg.Password,
		host:     cfg.Host,
		port:     cfg.Port,
		logger:   logger,
		validate: validator.New(),
		tracer:   otel.Tracer("channel/email"),
	}
}

func (s *smtpSender) Send(ctx context.Context, eventType string, payload json.RawMessage) error {
	ctx, span := s.tracer.Start(ctx, "smtp.Send")
	defer span.End()

	span.SetAttributes(attribute.String("event_type", eventType))

	var envelope domain.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		span.RecordError(err)

		return channel.Permanent(fmt.Errorf("malformed envelope: %w", err))
	}

	var to recipient
	if err := json.Unmarshal(envelope.Payload, &to); err != nil {
		span.RecordError(err)

		return channel.Permanent(fmt.Errorf("malformed payload: %w", err))
	}
	if err := s.validate.Struct(to); err != nil {
		span.RecordError(err)

		return channel.Permanent(fmt.Errorf("invalid recipient: %w", err))
	}

	subject, body, err := render(envelope)
	if err != nil {
		span.RecordError(err)

		return channel.Permanent(err)
	}

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte("Subject: " + subject + "\n" + mime + body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	auth := smtp.PlainAuth("", s.from, s.password, s.host)

	mylogger.Info(
		ctx,
		s.logger,
		"Sending confirmation email",
		zap.String("to", to.Email),
		zap.String("event", envelope.Event),
	)

	if err := smtp.SendMail(addr, auth, s.from, []string{to.Email}, msg); err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			s.logger,
			"Error sending confirmation email",
			zap.String("to", to.Email),
			zap.Error(err),
		)

		return fmt.Errorf("failed to send mail: %w", err)
	}

	return nil
}

func render(envelope domain.Envelope) (string, string, error) {
	switch envelope.Event {
	case domain.EventAppointmentConfirmed:
		var event domain.AppointmentConfirmedEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			return "", "", fmt.Errorf("malformed appointment payload: %w", err)
		}

		subject := "Your appointment is confirmed"
		body := fmt.Sprintf(`
			<h1>Appointment confirmed ✅</h1>
			<p>Your %s appointment is booked for %s.</p>
		`, event.ServiceName, event.StartsAt.Format("Monday, Jan 2 at 15:04"))

		return subject, body, nil
	case domain.EventConsultationCreated:
		var event domain.ConsultationCreatedEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			return "", "", fmt.Errorf("malformed consultation payload: %w", err)
		}

		subject := "Your consultation request was received"
		body := fmt.Sprintf(`
			<h1>Consultation opened</h1>
			<p>We received your consultation request about "%s" and will be in touch shortly.</p>
		`, event.Topic)

		return subject, body, nil
	default:
		return "", "", fmt.Errorf("no email template for event %q", envelope.Event)
	}
}
