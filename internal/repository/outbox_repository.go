package repository

import (
	"context"
	"time"

	"github.com/eggdevsol-del/manuscalendair-notifications/internal/domain"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/mylogger"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	Insert(ctx context.Context, eventType string, payload []byte) (int64, error)
	ClaimBatch(ctx context.Context, limit int, workerID string) ([]domain.OutboxEntry, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time) error
	MarkDead(ctx context.Context, id int64, lastError string) error
	ReclaimStale(ctx context.Context, lease time.Duration) (int64, error)
	ListRecent(ctx context.Context, limit int, status domain.OutboxStatus) ([]domain.OutboxEntry, error)
}

type outboxRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOutboxRepository(pool *pgxpool.Pool, logger *zap.Logger) OutboxRepository {
	return &outboxRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("outbox_repository"),
	}
}

func (r *outboxRepo) Insert(ctx context.Context, eventType string, payload []byte) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.Insert")
	defer span.End()

	span.SetAttributes(attribute.String("event_type", eventType))

	query := `
		INSERT INTO outbox (event_type, payload)
		VALUES ($1, $2)
		RETURNING id;
	`

	var id int64
	if err := r.pool.QueryRow(ctx, query, eventType, payload).Scan(&id); err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert outbox entry",
			zap.String("event_type", eventType),
			zap.Error(err),
		)

		return 0, err
	}

	return id, nil
}

// ClaimBatch atomically moves due pending rows to processing on behalf of
// workerID and bumps attempt_count. FOR UPDATE SKIP LOCKED in the picking
// subquery keeps concurrent claimers from ever returning the same row.
func (r *outboxRepo) ClaimBatch(ctx context.Context, limit int, workerID string) ([]domain.OutboxEntry, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.ClaimBatch")
	defer span.End()

	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.String("worker_id", workerID),
	)

	query := `
		WITH due AS (
			SELECT id
			FROM outbox
			WHERE status = 'pending' AND next_attempt_at <= now()
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox o
		SET status = 'processing',
			claimed_by = $2,
			claimed_at = now(),
			attempt_count = attempt_count + 1,
			updated_at = now()
		FROM due
		WHERE o.id = due.id
		RETURNING o.id, o.event_type, o.payload, o.status, o.attempt_count,
			o.last_error, o.next_attempt_at, o.claimed_by, o.claimed_at,
			o.created_at, o.updated_at;
	`

	rows, err := r.pool.Query(ctx, query, limit, workerID)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to claim outbox batch",
			zap.String("worker_id", workerID),
			zap.Error(err),
		)

		return nil, err
	}
	defer rows.Close()

	var entries []domain.OutboxEntry
	for rows.Next() {
		var e domain.OutboxEntry
		if err := rows.Scan(
			&e.ID,
			&e.EventType,
			&e.Payload,
			&e.Status,
			&e.AttemptCount,
			&e.LastError,
			&e.NextAttemptAt,
			&e.ClaimedBy,
			&e.ClaimedAt,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			span.RecordError(err)

			return nil, err
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)

		return nil, err
	}

	span.SetAttributes(attribute.Int("claimed_count", len(entries)))

	return entries, nil
}

func (r *outboxRepo) MarkSent(ctx context.Context, id int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkSent")
	defer span.End()

	span.SetAttributes(attribute.Int64("entry_id", id))

	query := `
		UPDATE outbox
		SET status = 'sent',
			claimed_by = NULL,
			claimed_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = 'processing';
	`

	return r.transition(ctx, span, query, id)
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("entry_id", id),
		attribute.String("last_error", lastError),
	)

	query := `
		UPDATE outbox
		SET status = 'pending',
			last_error = $2,
			next_attempt_at = $3,
			claimed_by = NULL,
			claimed_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = 'processing';
	`

	return r.transition(ctx, span, query, id, lastError, nextAttemptAt)
}

func (r *outboxRepo) MarkDead(ctx context.Context, id int64, lastError string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkDead")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("entry_id", id),
		attribute.String("last_error", lastError),
	)

	query := `
		UPDATE outbox
		SET status = 'dead',
			last_error = $2,
			claimed_by = NULL,
			claimed_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = 'processing';
	`

	return r.transition(ctx, span, query, id, lastError)
}

func (r *outboxRepo) transition(ctx context.Context, span trace.Span, query string, id int64, args ...any) error {
	ct, err := r.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to transition outbox entry",
			zap.Int64("entry_id", id),
			zap.Error(err),
		)

		return err
	}

	if ct.RowsAffected() == 0 {
		return ErrNotProcessing
	}

	return nil
}

// ReclaimStale resets processing rows whose claim outlived the lease back to
// pending so another worker can pick them up. last_error is left alone: a
// crashed worker is not a payload failure.
func (r *outboxRepo) ReclaimStale(ctx context.Context, lease time.Duration) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.ReclaimStale")
	defer span.End()

	query := `
		UPDATE outbox
		SET status = 'pending',
			next_attempt_at = now(),
			claimed_by = NULL,
			claimed_at = NULL,
			updated_at = now()
		WHERE status = 'processing' AND claimed_at < now() - $1::interval;
	`

	ct, err := r.pool.Exec(ctx, query, lease.String())
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to reclaim stale outbox entries",
			zap.Error(err),
		)

		return 0, err
	}

	reclaimed := ct.RowsAffected()
	if reclaimed > 0 {
		mylogger.Warn(
			ctx,
			r.logger,
			"Reclaimed stale outbox entries",
			zap.Int64("count", reclaimed),
			zap.Duration("lease", lease),
		)
	}

	span.SetAttributes(attribute.Int64("reclaimed_count", reclaimed))

	return reclaimed, nil
}

// ListRecent is the operator inspection surface: newest entries first,
// optionally filtered by status. Pass an empty status for all rows.
func (r *outboxRepo) ListRecent(ctx context.Context, limit int, status domain.OutboxStatus) ([]domain.OutboxEntry, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.ListRecent")
	defer span.End()

	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.String("status", string(status)),
	)

	query := `
		SELECT id, event_type, payload, status, attempt_count, last_error,
			next_attempt_at, claimed_by, claimed_at, created_at, updated_at
		FROM outbox
		WHERE ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $1;
	`

	rows, err := r.pool.Query(ctx, query, limit, string(status))
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to list outbox entries",
			zap.Error(err),
		)

		return nil, err
	}
	defer rows.Close()

	var entries []domain.OutboxEntry
	for rows.Next() {
		var e domain.OutboxEntry
		if err := rows.Scan(
			&e.ID,
			&e.EventType,
			&e.Payload,
			&e.Status,
			&e.AttemptCount,
			&e.LastError,
			&e.NextAttemptAt,
			&e.ClaimedBy,
			&e.ClaimedAt,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			span.RecordError(err)

			return nil, err
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}
