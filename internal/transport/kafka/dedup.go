package kafka

import (
	"context"
	"errors"

	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// processOnce runs action at most once per event key. The marker insert and
// the action share a transaction: a redelivered Kafka message hits the unique
// violation and is skipped, so duplicate deliveries never double-insert
// outbox intents.
func processOnce(
	ctx context.Context,
	pool *pgxpool.Pool,
	logger *zap.Logger,
	eventKey string,
	action func(ctx context.Context) error,
) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				cleanupCtx,
				logger,
				"Error rolling back dedup transaction",
				zap.Error(err),
			)
		}
	}()

	query := `
		INSERT INTO processed_events (event_key)
		VALUES ($1)
	`

	if _, err := tx.Exec(ctx, query, eventKey); err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == "23505" {
			mylogger.Info(
				ctx,
				logger,
				"Event already processed, skipping",
				zap.String("event_key", eventKey),
			)

			return nil
		}

		return err
	}

	if err := action(ctx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
