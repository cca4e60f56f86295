package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/alem-hub/study-planner/internal/domain/delivery"
	"github.com/alem-hub/study-planner/pkg/circuitbreaker"
	"github.com/alem-hub/study-planner/pkg/retry"
)

// FacadeConfig configures the Telegram delivery facade.
type FacadeConfig struct {
	ChatID int64

	// RatePerSecond and Burst bound outgoing sendMessage calls.
	RatePerSecond float64
	Burst         int

	Retrier *retry.Retrier
	Breaker *circuitbreaker.CircuitBreaker
	Logger  *slog.Logger
}

// Facade implements delivery.Facade on top of Client.
type Facade struct {
	client  *Client
	chatID  int64
	limiter *rate.Limiter
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewFacade creates a facade that sends reminders to one chat.
func NewFacade(client *Client, config FacadeConfig) *Facade {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 1
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.Retrier == nil {
		config.Retrier = retry.DeliveryRetrier()
	}
	logger := config.Logger.With("component", "telegram_facade")
	if config.Breaker == nil {
		config.Breaker = circuitbreaker.DeliveryBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("delivery circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		})
	}

	return &Facade{
		client:  client,
		chatID:  config.ChatID,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		retrier: config.Retrier,
		breaker: config.Breaker,
		logger:  logger,
	}
}

// AttemptDelivery sends the payload. It never returns an error: every
// failure is mapped to a stable reason string.
func (f *Facade) AttemptDelivery(ctx context.Context, payload delivery.Payload) delivery.Result {
	if f.chatID == 0 {
		return delivery.Failed(delivery.ReasonNotConfigured, errors.New("telegram chat id is not set"))
	}

	text := payload.Body
	if payload.Title != "" {
		text = payload.Title + "\n\n" + payload.Body
	}

	err := f.breaker.Execute(ctx, func(ctx context.Context) error {
		return f.retrier.Do(ctx, func(ctx context.Context) error {
			if err := f.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
			_, err := f.client.SendMessage(ctx, SendMessageParams{ChatID: f.chatID, Text: strings.TrimSpace(text)})
			return classify(err)
		})
	})
	if err == nil {
		f.logger.Debug("reminder sent", "run_id", payload.RunID)
		return delivery.Delivered()
	}

	reason := Reason(err)
	f.logger.Warn("reminder not sent", "run_id", payload.RunID, "reason", reason, "error", err)
	return delivery.Failed(reason, fmt.Errorf("telegram: %w", err))
}

// Reason maps a send error to a ledger failure reason.
func Reason(err error) string {
	if circuitbreaker.IsRejection(err) {
		return delivery.ReasonCircuitOpen
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if r := apiErr.reason(); r != "" {
			return r
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
		return delivery.ReasonTimeout
	}
	return delivery.ReasonUnknown
}

// Ping verifies the bot token.
func (f *Facade) Ping(ctx context.Context) error {
	return f.client.GetMe(ctx)
}
