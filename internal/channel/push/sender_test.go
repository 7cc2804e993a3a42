package push_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eggdevsol-del/manuscalendair-notifications/internal/channel"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/channel/push"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/domain"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func envelope(t *testing.T, dedupKey string) json.RawMessage {
	t.Helper()

	raw, err := json.Marshal(domain.Envelope{
		Event:    domain.EventMessageCreated,
		DedupKey: dedupKey,
		Payload:  json.RawMessage(`{"message_id":7}`),
	})
	require.NoError(t, err)

	return raw
}

func newSender(url string) channel.Adapter {
	return push.NewHTTPSender(config.Push{
		ProviderURL: url,
		APIKey:      "test-key",
		Timeout:     time.Second,
	}, nil, zap.NewNop())
}

func TestSend_PostsEnvelopeToProvider(t *testing.T) {
	var got struct {
		Event    string          `json:"event"`
		DedupKey string          `json:"dedup_key"`
		Data     json.RawMessage `json:"data"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newSender(srv.URL).Send(context.Background(), domain.IntentPushMessage, envelope(t, "key-1"))
	require.NoError(t, err)
	require.Equal(t, domain.EventMessageCreated, got.Event)
	require.Equal(t, "key-1", got.DedupKey)
}

func TestSend_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newSender(srv.URL).Send(context.Background(), domain.IntentPushMessage, envelope(t, "key-2"))
	require.Error(t, err)
	require.NotErrorIs(t, err, channel.ErrPermanent)
}

func TestSend_ClientRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := newSender(srv.URL).Send(context.Background(), domain.IntentPushMessage, envelope(t, "key-3"))
	require.ErrorIs(t, err, channel.ErrPermanent)
}

func TestSend_TooManyRequestsIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := newSender(srv.URL).Send(context.Background(), domain.IntentPushMessage, envelope(t, "key-4"))
	require.Error(t, err)
	require.NotErrorIs(t, err, channel.ErrPermanent)
}

func TestSend_MalformedEnvelopeIsPermanent(t *testing.T) {
	err := newSender("http://localhost:0").Send(context.Background(), domain.IntentPushMessage, json.RawMessage(`not json`))
	require.ErrorIs(t, err, channel.ErrPermanent)
}

func TestSend_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := newSender(srv.URL)
	for i := 0; i < 10; i++ {
		err := sender.Send(context.Background(), domain.IntentPushMessage, envelope(t, "key-5"))
		require.Error(t, err)
		require.NotErrorIs(t, err, channel.ErrPermanent)
	}

	// The breaker tripped before all ten requests reached the provider.
	require.Less(t, hits.Load(), int64(10))
}
