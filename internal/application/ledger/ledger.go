// Package ledger содержит журнал надёжности доставки напоминаний.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/alem-hub/study-planner/internal/domain/delivery"
	"github.com/alem-hub/study-planner/internal/infrastructure/messaging"
	"github.com/alem-hub/study-planner/pkg/logger"
	"github.com/alem-hub/study-planner/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// DELIVERY RELIABILITY LEDGER
// Единственная точка изменения статистики доставки.
//
// Каждая попытка сворачивается в строку хранилища одной атомарной операцией
// (Store.Record). Новый снимок рассылается подписчикам: SSE-потоку,
// Redis-каналу и любому другому наблюдателю.
//
// Ошибка хранилища логируется на уровне ERROR: она портит учёт надёжности,
// но не должна ронять процесс.
// ═══════════════════════════════════════════════════════════════════════════

// StatsPublisher получает каждый новый снимок статистики.
type StatsPublisher interface {
	PublishStats(ctx context.Context, stats delivery.Stats) error
}

// Config содержит конфигурацию журнала.
type Config struct {
	// Retrier повторяет запись при временных ошибках хранилища.
	Retrier *retry.Retrier

	// Publishers получают снимок после каждой успешной записи.
	Publishers []StatsPublisher

	// Now - источник времени попытки.
	Now func() time.Time
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		Retrier: retry.LedgerRetrier(),
		Now:     time.Now,
	}
}

// Ledger - журнал надёжности доставки.
type Ledger struct {
	store       delivery.Store
	broadcaster *messaging.Broadcaster[delivery.Stats]
	publishers  []StatsPublisher
	retrier     *retry.Retrier
	now         func() time.Time
	logger      *slog.Logger
}

// New создаёт журнал поверх хранилища.
func New(store delivery.Store, log *slog.Logger, config Config) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	if config.Retrier == nil {
		config.Retrier = retry.LedgerRetrier()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Ledger{
		store:       store,
		broadcaster: messaging.NewBroadcaster[delivery.Stats]("delivery_stats", log),
		publishers:  config.Publishers,
		retrier:     config.Retrier,
		now:         config.Now,
		logger:      log.With("component", "delivery_ledger"),
	}
}

// RecordAttempt атомарно увеличивает total_scheduled и ровно один из
// total_delivered/total_failed, обновляя поля последней попытки.
func (l *Ledger) RecordAttempt(ctx context.Context, success bool, reason *string) error {
	attempt := delivery.NewAttempt(l.now().UTC(), success, reason)

	var stats delivery.Stats
	err := l.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		stats, err = l.store.Record(ctx, attempt)
		return err
	})
	if err != nil {
		attrs := []any{"success", success, logger.Err(err)}
		if attempt.Reason != nil {
			attrs = append(attrs, logger.Reason(*attempt.Reason))
		}
		l.logger.Error("failed to record delivery attempt, reliability stats are now inaccurate", attrs...)
		return err
	}

	if !stats.Consistent() {
		l.logger.Error("delivery stats counters out of balance",
			"total_scheduled", stats.TotalScheduled,
			"total_delivered", stats.TotalDelivered,
			"total_failed", stats.TotalFailed,
		)
	}

	l.logger.Debug("delivery attempt recorded",
		"success", success,
		"total_scheduled", stats.TotalScheduled,
		"delivery_rate", stats.DeliveryRate(),
	)

	l.broadcaster.Publish(stats)
	for _, p := range l.publishers {
		if err := p.PublishStats(ctx, stats); err != nil {
			l.logger.Warn("failed to publish delivery stats", logger.Err(err))
		}
	}
	return nil
}

// ReadStats возвращает снимок на момент чтения. Попытки, записанные после
// возврата, в нём не отражены.
func (l *Ledger) ReadStats(ctx context.Context) (delivery.Stats, error) {
	stats, err := l.store.Load(ctx)
	if err != nil {
		l.logger.Warn("failed to read delivery stats", logger.Err(err))
		return delivery.Stats{}, err
	}
	return stats, nil
}

// Subscribe возвращает поток снимков. Медленный подписчик пропускает
// промежуточные значения, но всегда получает последнее.
func (l *Ledger) Subscribe(buffer int) (<-chan delivery.Stats, func()) {
	return l.broadcaster.Subscribe(buffer)
}

// Ping проверяет доступность хранилища.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// Close закрывает все подписки.
func (l *Ledger) Close() {
	l.broadcaster.Close()
}
