package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-planner/internal/domain/delivery"
	"github.com/alem-hub/study-planner/pkg/circuitbreaker"
	"github.com/alem-hub/study-planner/pkg/logger"
	"github.com/alem-hub/study-planner/pkg/retry"
)

func newTestFacade(t *testing.T, handler http.HandlerFunc, breaker *circuitbreaker.CircuitBreaker) (*Facade, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{Token: "T", BaseURL: srv.URL, Timeout: time.Second, Logger: logger.Discard()})
	return NewFacade(client, FacadeConfig{
		ChatID:        42,
		RatePerSecond: 1000,
		Burst:         10,
		Retrier:       retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond), retry.WithMaxDelay(5*time.Millisecond)),
		Breaker:       breaker,
		Logger:        logger.Discard(),
	}), &calls
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestFacade_Delivered(t *testing.T) {
	var got map[string]any
	f, calls := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botT/sendMessage", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		reply(w, 200, `{"ok":true,"result":{"message_id":7,"date":1}}`)
	}, nil)

	res := f.AttemptDelivery(context.Background(), delivery.Payload{Title: "Study", Body: "Open your plan", RunID: "r1"})

	assert.True(t, res.Success)
	assert.Nil(t, res.ReasonPtr())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, float64(42), got["chat_id"])
	assert.Equal(t, "Study\n\nOpen your plan", got["text"])
}

func TestFacade_ReasonMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		reason    string
		wantCalls int32
	}{
		{"blocked", 403, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, delivery.ReasonRecipientBlocked, 1},
		{"chat not found", 400, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, delivery.ReasonChatNotFound, 1},
		{"quota", 429, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":0}}`, delivery.ReasonQuotaExceeded, 3},
		{"server error", 502, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`, delivery.ReasonUnknown, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, calls := newTestFacade(t, func(w http.ResponseWriter, _ *http.Request) {
				reply(w, tt.status, tt.body)
			}, circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(100)))

			res := f.AttemptDelivery(context.Background(), delivery.Payload{Body: "x"})

			assert.False(t, res.Success)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Error(t, res.Err)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestFacade_RetriesThenSucceeds(t *testing.T) {
	var n atomic.Int32
	f, calls := newTestFacade(t, func(w http.ResponseWriter, _ *http.Request) {
		if n.Add(1) == 1 {
			reply(w, 500, `{"ok":false,"error_code":500,"description":"Internal"}`)
			return
		}
		reply(w, 200, `{"ok":true,"result":{"message_id":1}}`)
	}, nil)

	res := f.AttemptDelivery(context.Background(), delivery.Payload{Body: "x"})
	assert.True(t, res.Success)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFacade_OpenCircuit(t *testing.T) {
	breaker := circuitbreaker.New("test",
		circuitbreaker.WithFailureThreshold(1),
		circuitbreaker.WithTimeout(time.Hour),
	)
	f, calls := newTestFacade(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, 403, `{"ok":false,"error_code":403,"description":"Forbidden"}`)
	}, breaker)

	first := f.AttemptDelivery(context.Background(), delivery.Payload{Body: "x"})
	require.False(t, first.Success)

	second := f.AttemptDelivery(context.Background(), delivery.Payload{Body: "x"})
	assert.Equal(t, delivery.ReasonCircuitOpen, second.Reason)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFacade_NotConfigured(t *testing.T) {
	f := NewFacade(NewClient(DefaultClientConfig("T")), FacadeConfig{Logger: logger.Discard()})

	res := f.AttemptDelivery(context.Background(), delivery.Payload{Body: "x"})
	assert.Equal(t, delivery.ReasonNotConfigured, res.Reason)
}
