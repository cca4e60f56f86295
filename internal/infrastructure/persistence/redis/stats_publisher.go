package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alem-hub/study-planner/internal/domain/delivery"
)

// StatsMessage is the wire form of a ledger snapshot. Field names follow the
// persisted ledger schema; the derived values are included for dashboards.
type StatsMessage struct {
	LastDeliveryAttempt int64   `json:"last_delivery_attempt"`
	LastDeliverySuccess bool    `json:"last_delivery_success"`
	LastDeliveryReason  *string `json:"last_delivery_reason"`
	TotalScheduled      int64   `json:"total_scheduled"`
	TotalDelivered      int64   `json:"total_delivered"`
	TotalFailed         int64   `json:"total_failed"`
	DeliveryRate        float64 `json:"delivery_rate"`
	IsReliable          bool    `json:"is_reliable"`
	PublishedAt         int64   `json:"published_at"`
}

// NewStatsMessage converts a snapshot.
func NewStatsMessage(s delivery.Stats, now time.Time) StatsMessage {
	return StatsMessage{
		LastDeliveryAttempt: s.LastAttemptMillis(),
		LastDeliverySuccess: s.LastAttemptSucceeded,
		LastDeliveryReason:  s.LastFailureReason,
		TotalScheduled:      s.TotalScheduled,
		TotalDelivered:      s.TotalDelivered,
		TotalFailed:         s.TotalFailed,
		DeliveryRate:        s.DeliveryRate(),
		IsReliable:          s.IsReliable(),
		PublishedAt:         now.UnixMilli(),
	}
}

// StatsPublisher broadcasts ledger snapshots on ChannelDeliveryStats and
// keeps the latest one under KeyLatestStats.
type StatsPublisher struct {
	client *Client
	now    func() time.Time
}

// NewStatsPublisher creates a publisher.
func NewStatsPublisher(client *Client) *StatsPublisher {
	return &StatsPublisher{client: client, now: time.Now}
}

// PublishStats implements ledger.StatsPublisher.
func (p *StatsPublisher) PublishStats(ctx context.Context, stats delivery.Stats) error {
	data, err := json.Marshal(NewStatsMessage(stats, p.now()))
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	pipe := p.client.rdb.TxPipeline()
	pipe.Set(ctx, KeyLatestStats, data, 0)
	pipe.Publish(ctx, ChannelDeliveryStats, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish stats: %w", err)
	}
	return nil
}
