package domain

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	StatusPending    OutboxStatus = "pending"
	StatusProcessing OutboxStatus = "processing"
	StatusSent       OutboxStatus = "sent"
	StatusDead       OutboxStatus = "dead"
)

// Notification kinds routed to channel adapters by the dispatcher.
const (
	IntentPushMessage       = "push_message"
	IntentEmailConfirmation = "email_confirmation"
)

// OutboxEntry is the durable notification intent. Created by the
// orchestrator, mutated only by the dispatcher, never deleted by the
// pipeline. attempt_count goes up by exactly one per claim cycle.
type OutboxEntry struct {
	ID            int64           `db:"id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	Status        OutboxStatus    `db:"status"`
	AttemptCount  int             `db:"attempt_count"`
	LastError     *string         `db:"last_error"`
	NextAttemptAt time.Time       `db:"next_attempt_at"`
	ClaimedBy     *string         `db:"claimed_by"`
	ClaimedAt     *time.Time      `db:"claimed_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Envelope is the payload shape the orchestrator writes: the originating
// domain event plus a per-intent dedup key channels may use to suppress
// duplicate sends. The dispatcher treats the whole thing as a blob.
type Envelope struct {
	Event    string          `json:"event"`
	DedupKey string          `json:"dedup_key"`
	Payload  json.RawMessage `json:"payload"`
}
