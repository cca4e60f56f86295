// Package reminder содержит доменную модель ежедневного учебного напоминания:
// запланированное обязательство, его ограничения и состояние выполнения.
package reminder

import (
	"fmt"
	"time"

	"github.com/alem-hub/study-planner/internal/domain/shared"
)

// ObligationName - уникальное имя периодической работы. Никогда не меняется:
// по нему менеджер задач обеспечивает идемпотентность.
const ObligationName = "daily_study_reminder"

// MinPeriod - минимальный период повторения, который допускает менеджер задач.
const MinPeriod = 15 * time.Minute

// ══════════════════════════════════════════════════════════════════════════════
// RUN KIND
// ══════════════════════════════════════════════════════════════════════════════

// RunKind - тип запуска.
type RunKind string

const (
	// RunPeriodic - запуск по расписанию.
	RunPeriodic RunKind = "periodic"
	// RunCatchUp - внеплановый запуск после снятия энергетических ограничений.
	RunCatchUp RunKind = "catch_up"
	// RunManual - ручной запуск через диагностический API.
	RunManual RunKind = "manual"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN STATE
// ══════════════════════════════════════════════════════════════════════════════

// RunState - состояние обязательства в менеджере задач.
//
//	NotScheduled -> Enqueued -> Running -> Enqueued | NotScheduled
//
// Deferred - подсостояние Running: запуск завершился без доставки.
// Отмена допустима из любого состояния.
type RunState string

const (
	StateNotScheduled RunState = "not_scheduled"
	StateEnqueued     RunState = "enqueued"
	StateRunning      RunState = "running"
	StateDeferred     RunState = "deferred"
)

// CanTransitionTo проверяет допустимость перехода.
func (s RunState) CanTransitionTo(next RunState) bool {
	if next == StateNotScheduled {
		return true
	}
	switch s {
	case StateNotScheduled:
		return next == StateEnqueued
	case StateEnqueued:
		return next == StateRunning || next == StateEnqueued
	case StateRunning:
		return next == StateDeferred || next == StateEnqueued
	case StateDeferred:
		return next == StateEnqueued
	default:
		return false
	}
}

// Transition возвращает ошибку для недопустимого перехода.
func (s RunState) Transition(next RunState) (RunState, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", shared.ErrInvalidRunState, s, next)
	}
	return next, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// OBLIGATION
// ══════════════════════════════════════════════════════════════════════════════

// Constraints - ограничения, которые проверяет менеджер задач до запуска.
type Constraints struct {
	RequiresBatteryNotLow bool `json:"requires_battery_not_low"`
}

// DefaultConstraints - ограничения обязательства напоминания.
func DefaultConstraints() Constraints {
	return Constraints{RequiresBatteryNotLow: true}
}

// Obligation - снимок запланированного обязательства.
type Obligation struct {
	Name        string      `json:"name"`
	Schedule    string      `json:"schedule"`
	Constraints Constraints `json:"constraints"`
	State       RunState    `json:"state"`
	NextRunAt   time.Time   `json:"next_run_at,omitempty"`
	LastRunAt   time.Time   `json:"last_run_at,omitempty"`
	// PendingCatchUp - поставлен ли разовый догоняющий запуск.
	PendingCatchUp bool `json:"pending_catch_up"`
}

// IsScheduled возвращает true, если обязательство зарегистрировано.
func (o Obligation) IsScheduled() bool {
	return o.State != "" && o.State != StateNotScheduled
}

// NotScheduled - снимок отсутствующего обязательства.
func NotScheduled() Obligation {
	return Obligation{Name: ObligationName, State: StateNotScheduled}
}
