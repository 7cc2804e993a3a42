package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eggdevsol-del/manuscalendair-notifications/internal/channel"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/domain"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/metrics"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OutboxStore is the coordination surface shared by all workers. Claiming is
// atomic: no two workers ever receive the same entry.
type OutboxStore interface {
	ClaimBatch(ctx context.Context, limit int, workerID string) ([]domain.OutboxEntry, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time) error
	MarkDead(ctx context.Context, id int64, lastError string) error
	ReclaimStale(ctx context.Context, lease time.Duration) (int64, error)
}

type Options struct {
	WorkerID      string
	PollInterval  time.Duration
	BatchSize     int
	Concurrency   int
	SendTimeout   time.Duration
	LeaseDuration time.Duration
	ReclaimEvery  time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// Dispatcher polls the outbox for due entries, claims them and drives each
// through a channel adapter. Entries are processed concurrently up to
// Concurrency; a single entry is never processed by two workers at once
// because of the exclusive claim.
type Dispatcher struct {
	store    OutboxStore
	registry *channel.Registry
	opts     Options
	backoff  Backoff
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	inflight sync.WaitGroup
	sem      chan struct{}
}

func New(store OutboxStore, registry *channel.Registry, opts Options, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 30 * time.Second
	}
	if opts.ReclaimEvery <= 0 {
		opts.ReclaimEvery = opts.LeaseDuration / 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}

	return &Dispatcher{
		store:    store,
		registry: registry,
		opts:     opts,
		backoff:  Backoff{BaseDelay: opts.BaseDelay, MaxDelay: opts.MaxDelay},
		logger:   logger,
		metrics:  m,
		tracer:   otel.Tracer("outbox_dispatcher"),
		sem:      make(chan struct{}, opts.Concurrency),
	}
}

// Start runs the poll loop until ctx is cancelled, then waits for in-flight
// sends to finish or time out. Claimed entries are deliberately not reverted
// on exit: lease expiry is the single recovery path for abandoned claims,
// graceful or not.
func (d *Dispatcher) Start(ctx context.Context) {
	mylogger.Info(
		ctx,
		d.logger,
		"Starting outbox dispatcher",
		zap.String("worker_id", d.opts.WorkerID),
		zap.Duration("poll_interval", d.opts.PollInterval),
		zap.Int("max_attempts", d.opts.MaxAttempts),
	)

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	reclaimTicker := time.NewTicker(d.opts.ReclaimEvery)
	defer reclaimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, d.logger, "Dispatcher stopping, draining in-flight sends")
			d.inflight.Wait()
			mylogger.Info(ctx, d.logger, "Dispatcher stopped")

			return
		case <-reclaimTicker.C:
			d.reclaim(ctx)
		case <-ticker.C:
			if err := d.runOnce(ctx); err != nil {
				mylogger.Error(
					ctx,
					d.logger,
					"Error processing outbox batch",
					zap.Error(err),
				)
			}
		}
	}
}

// runOnce claims one batch and fans the entries out to the send pool.
func (d *Dispatcher) runOnce(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.runOnce")
	defer span.End()

	entries, err := d.store.ClaimBatch(ctx, d.opts.BatchSize, d.opts.WorkerID)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("claim batch: %w", err)
	}

	span.SetAttributes(attribute.Int("claimed_count", len(entries)))

	if len(entries) == 0 {
		return nil
	}

	mylogger.Debug(
		ctx,
		d.logger,
		"Claimed outbox entries",
		zap.Int("count", len(entries)),
	)

	for _, entry := range entries {
		entry := entry

		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			// Shutdown mid-batch: the remaining claimed entries come back via
			// lease expiry.
			return nil
		}

		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			defer func() { <-d.sem }()

			d.process(ctx, entry)
		}()
	}

	return nil
}

func (d *Dispatcher) process(ctx context.Context, entry domain.OutboxEntry) {
	// Detached from the loop context: an in-flight send finishes or hits its
	// own timeout during shutdown, and its status update still lands.
	ctx = context.WithoutCancel(ctx)

	ctx, span := d.tracer.Start(ctx, "Dispatcher.process")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("entry_id", entry.ID),
		attribute.String("event_type", entry.EventType),
		attribute.Int("attempt", entry.AttemptCount),
	)

	d.metrics.InFlight.Inc()
	defer d.metrics.InFlight.Dec()

	err := d.send(ctx, entry)
	if err == nil {
		d.finalize(ctx, entry, d.store.MarkSent(ctx, entry.ID))
		d.metrics.Delivered.WithLabelValues(entry.EventType).Inc()

		mylogger.Info(
			ctx,
			d.logger,
			"Notification delivered",
			zap.Int64("entry_id", entry.ID),
			zap.String("event_type", entry.EventType),
			zap.Int("attempt", entry.AttemptCount),
		)

		return
	}

	span.RecordError(err)

	permanent := errors.Is(err, channel.ErrPermanent)
	exhausted := entry.AttemptCount >= d.opts.MaxAttempts

	if permanent || exhausted {
		d.finalize(ctx, entry, d.store.MarkDead(ctx, entry.ID, err.Error()))
		d.metrics.Dead.WithLabelValues(entry.EventType).Inc()

		mylogger.Error(
			ctx,
			d.logger,
			"Notification dead-lettered",
			zap.Int64("entry_id", entry.ID),
			zap.String("event_type", entry.EventType),
			zap.Int("attempt", entry.AttemptCount),
			zap.Bool("permanent", permanent),
			zap.Error(err),
		)

		return
	}

	nextAttemptAt := d.backoff.NextAttemptAt(time.Now().UTC(), entry.AttemptCount)
	d.finalize(ctx, entry, d.store.MarkFailed(ctx, entry.ID, err.Error(), nextAttemptAt))
	d.metrics.Failed.WithLabelValues(entry.EventType).Inc()

	mylogger.Warn(
		ctx,
		d.logger,
		"Notification attempt failed, requeued",
		zap.Int64("entry_id", entry.ID),
		zap.String("event_type", entry.EventType),
		zap.Int("attempt", entry.AttemptCount),
		zap.Time("next_attempt_at", nextAttemptAt),
		zap.Error(err),
	)
}

func (d *Dispatcher) send(ctx context.Context, entry domain.OutboxEntry) error {
	adapter, ok := d.registry.Lookup(entry.EventType)
	if !ok {
		return channel.Permanent(fmt.Errorf("no channel adapter for event type %q", entry.EventType))
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	return adapter.Send(sendCtx, entry.EventType, entry.Payload)
}

// finalize reports a failed status transition. The entry stays in processing
// and is healed by the lease reclaim, so this is log-only.
func (d *Dispatcher) finalize(ctx context.Context, entry domain.OutboxEntry, err error) {
	if err == nil {
		return
	}

	mylogger.Error(
		ctx,
		d.logger,
		"Failed to update outbox entry status",
		zap.Int64("entry_id", entry.ID),
		zap.Error(err),
	)
}

func (d *Dispatcher) reclaim(ctx context.Context) {
	reclaimed, err := d.store.ReclaimStale(ctx, d.opts.LeaseDuration)
	if err != nil {
		mylogger.Error(ctx, d.logger, "Error reclaiming stale entries", zap.Error(err))

		return
	}

	if reclaimed > 0 {
		d.metrics.Reclaimed.Add(float64(reclaimed))
	}
}
