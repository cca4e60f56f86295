// Package service holds delivery facades that need no remote channel.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alem-hub/study-planner/internal/domain/delivery"
)

// LogNotifier is the delivery facade used when no remote channel is
// configured: it writes the reminder to the log and reports success.
type LogNotifier struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []delivery.Payload
	keep int
}

// NewLogNotifier creates a LogNotifier that remembers the last keep payloads.
func NewLogNotifier(logger *slog.Logger, keep int) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{
		logger: logger.With("component", "log_notifier"),
		keep:   keep,
	}
}

// AttemptDelivery implements delivery.Facade.
func (n *LogNotifier) AttemptDelivery(ctx context.Context, payload delivery.Payload) delivery.Result {
	if err := ctx.Err(); err != nil {
		return delivery.Failed(delivery.ReasonTimeout, err)
	}

	n.logger.Info("study reminder",
		"title", payload.Title,
		"body", payload.Body,
		"run_id", payload.RunID,
	)

	if n.keep > 0 {
		n.mu.Lock()
		n.sent = append(n.sent, payload)
		if len(n.sent) > n.keep {
			n.sent = n.sent[len(n.sent)-n.keep:]
		}
		n.mu.Unlock()
	}
	return delivery.Delivered()
}

// Sent returns the remembered payloads, oldest first.
func (n *LogNotifier) Sent() []delivery.Payload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]delivery.Payload(nil), n.sent...)
}
