// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/alem-hub/study-planner/internal/application/reminder"
	"github.com/alem-hub/study-planner/internal/domain/power"
	"github.com/alem-hub/study-planner/internal/domain/shared"
	"github.com/alem-hub/study-planner/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON POWER TRANSITION HANDLER
// Переводит сигналы энергосостояния в решения планировщика.
//
// Таблица решений зависит только от сигнала:
// - battery_okay, power_connected        -> догоняющий запуск
// - power_save_mode_changed (выключен)   -> догоняющий запуск
// - battery_low, power_disconnected      -> ничего
// - power_save_mode_changed (включён)    -> ничего
//
// Догоняющий запуск запрашивается только при ослаблении ограничений.
// Низкий заряд уже учитывает сам планировщик.
// ═══════════════════════════════════════════════════════════════════════════

// CatchUpRequester запрашивает внеочередной запуск обязательства.
type CatchUpRequester interface {
	RequestImmediateCatchUp(ctx context.Context) (reminder.CatchUpResult, error)
}

// OnPowerTransitionHandler обрабатывает сигналы энергосостояния.
type OnPowerTransitionHandler struct {
	planner CatchUpRequester
	logger  *slog.Logger

	handled   atomic.Int64
	requested atomic.Int64
}

// NewOnPowerTransitionHandler создаёт обработчик.
func NewOnPowerTransitionHandler(planner CatchUpRequester, logger *slog.Logger) *OnPowerTransitionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnPowerTransitionHandler{
		planner: planner,
		logger:  logger.With("handler", "on_power_transition"),
	}
}

// Decide - чистая таблица решений: true, если нужен догоняющий запуск.
func Decide(t power.Transition) bool {
	switch t.Signal {
	case power.SignalBatteryOkay, power.SignalPowerConnected:
		return true
	case power.SignalPowerSaveModeChanged:
		return !t.PowerSaveOn
	default:
		return false
	}
}

// Handle обрабатывает один сигнал. Ошибки не возвращаются: их некому
// обработать выше, поэтому они логируются.
func (h *OnPowerTransitionHandler) Handle(ctx context.Context, t power.Transition) {
	h.handled.Add(1)
	log := h.logger.With(logger.Signal(t.Signal.String()), "source", t.Source)

	if !Decide(t) {
		log.Debug("power transition ignored", "power_save_on", t.PowerSaveOn)
		return
	}

	result, err := h.planner.RequestImmediateCatchUp(ctx)
	switch {
	case errors.Is(err, shared.ErrObligationNotFound):
		log.Info("reminders disabled, catch-up skipped")
	case err != nil:
		log.Error("failed to request catch-up run", logger.Err(err))
	case result.Coalesced:
		h.requested.Add(1)
		log.Info("catch-up coalesced with existing run", logger.RunID(result.RunID))
	default:
		h.requested.Add(1)
		log.Info("constraints relaxed, catch-up requested", logger.RunID(result.RunID))
	}
}

// Run читает сигналы из канала в одном потоке, пока не отменён ctx или
// не закрыт done.
func (h *OnPowerTransitionHandler) Run(ctx context.Context, signals <-chan power.Transition, done <-chan struct{}) error {
	h.logger.Info("power transition handler started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("power transition handler stopped")
			return ctx.Err()
		case <-done:
			h.logger.Info("power transition handler stopped", "reason", "bus closed")
			return nil
		case t := <-signals:
			h.Handle(ctx, t)
		}
	}
}

// Stats возвращает число обработанных сигналов и запрошенных запусков.
func (h *OnPowerTransitionHandler) Stats() (handled, requested int64) {
	return h.handled.Load(), h.requested.Load()
}
