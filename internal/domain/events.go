package domain

import "time"

// Domain event names published on the in-process bus. Producers publish only
// after their own state change is committed.
const (
	EventMessageCreated       = "message.created"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventConsultationCreated  = "consultation.created"
)

type MessageCreatedEvent struct {
	MessageID      int64     `json:"message_id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	RecipientID    int64     `json:"recipient_id"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sent_at"`
}

type AppointmentConfirmedEvent struct {
	AppointmentID int64     `json:"appointment_id"`
	ClientID      int64     `json:"client_id"`
	ClientEmail   string    `json:"client_email"`
	ServiceName   string    `json:"service_name"`
	StartsAt      time.Time `json:"starts_at"`
}

type ConsultationCreatedEvent struct {
	ConsultationID int64     `json:"consultation_id"`
	ClientID       int64     `json:"client_id"`
	ClientEmail    string    `json:"client_email"`
	Topic          string    `json:"topic"`
	CreatedAt      time.Time `json:"created_at"`
}
