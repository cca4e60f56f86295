// Package delivery содержит доменную модель надёжности доставки напоминаний:
// попытку доставки, агрегированную статистику и фасад канала доставки.
package delivery

import (
	"context"
	"time"
)

// ReliabilityThreshold - минимальная доля доставленных напоминаний,
// при которой доставка считается надёжной.
const ReliabilityThreshold = 0.95

// ══════════════════════════════════════════════════════════════════════════════
// ATTEMPT
// ══════════════════════════════════════════════════════════════════════════════

// Outcome - исход одной попытки доставки.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Attempt - одна попытка доставки. Не хранится отдельно,
// а сразу сворачивается в Stats.
type Attempt struct {
	Timestamp time.Time
	Outcome   Outcome
	// Reason - причина неудачи, nil для успешной попытки.
	Reason *string
}

// NewAttempt создаёт попытку из результата фасада.
func NewAttempt(at time.Time, success bool, reason *string) Attempt {
	a := Attempt{Timestamp: at, Outcome: OutcomeFailure, Reason: reason}
	if success {
		a.Outcome = OutcomeSuccess
		a.Reason = nil
	}
	return a
}

// Succeeded возвращает true для успешной попытки.
func (a Attempt) Succeeded() bool { return a.Outcome == OutcomeSuccess }

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// Stats - единственная строка статистики доставки.
//
// Инварианты:
//   - TotalScheduled == TotalDelivered + TotalFailed
//   - счётчики никогда не уменьшаются
type Stats struct {
	LastAttemptAt        time.Time
	LastAttemptSucceeded bool
	LastFailureReason    *string
	TotalScheduled       int64
	TotalDelivered       int64
	TotalFailed          int64
}

// LastAttemptMillis - время последней попытки в epoch-миллисекундах,
// как в колонке last_delivery_attempt; 0, если попыток не было.
func (s Stats) LastAttemptMillis() int64 {
	if s.LastAttemptAt.IsZero() {
		return 0
	}
	return s.LastAttemptAt.UnixMilli()
}

// DeliveryRate - доля доставленных, 0 если ещё ничего не запланировано.
func (s Stats) DeliveryRate() float64 {
	if s.TotalScheduled == 0 {
		return 0
	}
	return float64(s.TotalDelivered) / float64(s.TotalScheduled)
}

// IsReliable - доставка надёжна, если доля не ниже порога.
func (s Stats) IsReliable() bool {
	return s.DeliveryRate() >= ReliabilityThreshold
}

// IsEmpty - строка ещё не создана.
func (s Stats) IsEmpty() bool {
	return s.TotalScheduled == 0 && s.LastAttemptAt.IsZero()
}

// Apply сворачивает попытку в статистику и возвращает новое значение.
// Это единственное правило изменения Stats; хранилища повторяют его в SQL.
func (s Stats) Apply(a Attempt) Stats {
	s.LastAttemptAt = a.Timestamp
	s.LastAttemptSucceeded = a.Succeeded()
	s.TotalScheduled++
	if a.Succeeded() {
		s.TotalDelivered++
		s.LastFailureReason = nil
	} else {
		s.TotalFailed++
		s.LastFailureReason = a.Reason
	}
	return s
}

// Consistent проверяет инвариант счётчиков.
func (s Stats) Consistent() bool {
	return s.TotalScheduled == s.TotalDelivered+s.TotalFailed &&
		s.TotalDelivered >= 0 && s.TotalFailed >= 0
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store - постоянное хранилище строки статистики.
// Record должен выполнять чтение-изменение-запись атомарно.
type Store interface {
	Record(ctx context.Context, attempt Attempt) (Stats, error)
	Load(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}
