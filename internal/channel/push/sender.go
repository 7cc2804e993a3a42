package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eggdevsol-del/manuscalendair-notifications/internal/channel"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/domain"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/config"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/mylogger"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const dedupTTL = 24 * time.Hour

type providerRequest struct {
	Event    string          `json:"event"`
	DedupKey string          `json:"dedup_key"`
	Data     json.RawMessage `json:"data"`
}

// httpSender delivers push notifications through the provider's HTTP API.
// The breaker keeps a flapping provider from eating every worker slot, and a
// best-effort redis SETNX on the dedup key suppresses duplicate pushes when
// an entry is redelivered after a crash.
type httpSender struct {
	providerURL string
	apiKey      string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
	rdb         *redis.Client
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewHTTPSender(cfg config.Push, rdb *redis.Client, logger *zap.Logger) channel.Adapter {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "push-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &httpSender{
		providerURL: cfg.ProviderURL,
		apiKey:      cfg.APIKey,
		client:      &http.Client{Timeout: cfg.Timeout},
		breaker:     breaker,
		rdb:         rdb,
		logger:      logger,
		tracer:      otel.Tracer("channel/push"),
	}
}

func (s *httpSender) Send(ctx context.Context, eventType string, payload json.RawMessage) error {
	ctx, span := s.tracer.Start(ctx, "push.Send")
	defer span.End()

	span.SetAttributes(attribute.String("event_type", eventType))

	var envelope domain.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		span.RecordError(err)

		return channel.Permanent(fmt.Errorf("malformed envelope: %w", err))
	}

	if s.alreadyDelivered(ctx, envelope.DedupKey) {
		mylogger.Info(
			ctx,
			s.logger,
			"Push already delivered for dedup key, skipping",
			zap.String("dedup_key", envelope.DedupKey),
		)

		return nil
	}

	body, err := json.Marshal(providerRequest{
		Event:    envelope.Event,
		DedupKey: envelope.DedupKey,
		Data:     envelope.Payload,
	})
	if err != nil {
		span.RecordError(err)

		return channel.Permanent(err)
	}

	// Transport errors, 5xx and 429 count as breaker failures; a plain 4xx is
	// the caller's bug, not provider health.
	status, err := utils.ExecuteWithBreaker(s.breaker, func() (int, error) {
		status, err := s.post(ctx, body)
		if err != nil {
			return 0, err
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			return status, fmt.Errorf("push provider returned %d", status)
		}

		return status, nil
	})
	if err != nil {
		span.RecordError(err)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("push provider circuit open: %w", err)
		}

		return err
	}

	if status >= 200 && status < 300 {
		// Losing the marker only means one extra push, which the pipeline
		// tolerates anyway.
		s.markDelivered(ctx, envelope.DedupKey)
		return nil
	}

	return channel.Permanent(fmt.Errorf("push provider rejected request: %d", status))
}

func (s *httpSender) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.providerURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	return resp.StatusCode, nil
}

func (s *httpSender) alreadyDelivered(ctx context.Context, dedupKey string) bool {
	if s.rdb == nil || dedupKey == "" {
		return false
	}

	n, err := s.rdb.Exists(ctx, "push:delivered:"+dedupKey).Result()
	if err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Redis dedup check failed, sending anyway",
			zap.Error(err),
		)

		return false
	}

	return n > 0
}

// markDelivered plants the marker only after a successful send, so a failed
// attempt never suppresses its own retry.
func (s *httpSender) markDelivered(ctx context.Context, dedupKey string) {
	if s.rdb == nil || dedupKey == "" {
		return
	}

	if err := s.rdb.SetNX(ctx, "push:delivered:"+dedupKey, "1", dedupTTL).Err(); err != nil {
		mylogger.Debug(ctx, s.logger, "Redis dedup marker write failed", zap.Error(err))
	}
}
