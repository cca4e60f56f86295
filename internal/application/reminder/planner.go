// Package reminder управляет жизненным циклом ежедневного напоминания:
// регистрацией, отменой, сменой расписания и догоняющими запусками.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/study-planner/internal/domain/reminder"
	"github.com/alem-hub/study-planner/internal/domain/shared"
	"github.com/alem-hub/study-planner/internal/infrastructure/scheduler"
)

// WorkManager - возможности планировщика, нужные Planner.
type WorkManager interface {
	EnqueueUniquePeriodicWork(work scheduler.PeriodicWork, policy scheduler.ExistingWorkPolicy) (bool, error)
	EnqueueOneOff(name string, kind reminder.RunKind, delay time.Duration) (string, error)
	CancelUniqueWork(name string) bool
	WorkInfosForName(name string) []scheduler.WorkInfo
}

// ═══════════════════════════════════════════════════════════════════════════
// PLANNER
// Владеет обязательством daily_study_reminder.
//
// Политика повторной регистрации (KEEP):
// - Schedule при уже зарегистрированной работе ничего не меняет,
//   выполняющийся запуск не перезапускается;
// - догоняющий запуск во время выполнения отбрасывается;
// - пока ждёт один догоняющий запуск, новые запросы сливаются с ним.
// Reschedule - единственная операция с политикой REPLACE.
// ═══════════════════════════════════════════════════════════════════════════

// Config содержит конфигурацию Planner.
type Config struct {
	// CatchUpDelay - задержка перед догоняющим запуском.
	CatchUpDelay time.Duration

	// Constraints - ограничения, объявляемые планировщику.
	Constraints reminder.Constraints
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		CatchUpDelay: 5 * time.Second,
		Constraints:  reminder.DefaultConstraints(),
	}
}

// CatchUpResult описывает исход запроса догоняющего запуска.
type CatchUpResult struct {
	RunID string `json:"run_id,omitempty"`
	// Coalesced - запрос слит с уже ожидающим или выполняющимся запуском.
	Coalesced bool `json:"coalesced"`
}

// Planner - периодический планировщик доставки.
type Planner struct {
	wm     WorkManager
	job    scheduler.Job
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	schedule scheduler.Schedule
}

// NewPlanner создаёт Planner для job с начальным расписанием.
func NewPlanner(wm WorkManager, job scheduler.Job, schedule scheduler.Schedule, logger *slog.Logger, config Config) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		wm:       wm,
		job:      job,
		config:   config,
		schedule: schedule,
		logger:   logger.With("component", "reminder_planner", "obligation", job.Name()),
	}
}

// Schedule идемпотентно регистрирует обязательство. Повторный вызов не
// создаёт дубликат и не трогает уже поставленный экземпляр.
func (p *Planner) Schedule(ctx context.Context) error {
	p.mu.Lock()
	schedule := p.schedule
	p.mu.Unlock()

	created, err := p.wm.EnqueueUniquePeriodicWork(p.work(schedule), scheduler.KeepExisting)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", p.job.Name(), err)
	}
	if created {
		p.logger.Info("reminder scheduled", "schedule", schedule.String())
	}
	return nil
}

// Reschedule меняет расписание по строке вида "@every 24h" или cron.
// Если обязательство уже зарегистрировано, оно заменяется (REPLACE).
func (p *Planner) Reschedule(ctx context.Context, spec string) error {
	schedule, err := scheduler.ParseSchedule(spec)
	if err != nil {
		return shared.ErrInvalidSchedule.Wrap(err)
	}

	p.mu.Lock()
	p.schedule = schedule
	p.mu.Unlock()

	if _, err := p.wm.EnqueueUniquePeriodicWork(p.work(schedule), scheduler.ReplaceExisting); err != nil {
		return fmt.Errorf("reschedule %s: %w", p.job.Name(), err)
	}
	p.logger.Info("reminder rescheduled", "schedule", schedule.String())
	return nil
}

// Cancel снимает обязательство. Повторная отмена - не ошибка.
// Уже выполняющийся запуск доходит до конца и записывает результат.
func (p *Planner) Cancel(ctx context.Context) error {
	if p.wm.CancelUniqueWork(p.job.Name()) {
		p.logger.Info("reminder cancelled")
	} else {
		p.logger.Debug("reminder already cancelled")
	}
	return nil
}

// RequestImmediateCatchUp ставит разовый запуск с тегом catch_up, не меняя
// периодический ритм. Возвращает shared.ErrObligationNotFound, если
// напоминания выключены.
func (p *Planner) RequestImmediateCatchUp(ctx context.Context) (CatchUpResult, error) {
	runID, err := p.wm.EnqueueOneOff(p.job.Name(), reminder.RunCatchUp, p.config.CatchUpDelay)
	switch {
	case err == nil:
		p.logger.Info("catch-up run requested", "run_id", runID, "delay", p.config.CatchUpDelay.String())
		return CatchUpResult{RunID: runID}, nil
	case errors.Is(err, scheduler.ErrWorkCoalesced):
		return CatchUpResult{RunID: runID, Coalesced: true}, nil
	case errors.Is(err, scheduler.ErrJobNotFound):
		return CatchUpResult{}, shared.ErrObligationNotFound
	default:
		return CatchUpResult{}, fmt.Errorf("catch-up %s: %w", p.job.Name(), err)
	}
}

// State возвращает снимок обязательства.
func (p *Planner) State(ctx context.Context) reminder.Obligation {
	infos := p.wm.WorkInfosForName(p.job.Name())
	if len(infos) == 0 {
		o := reminder.NotScheduled()
		o.Name = p.job.Name()
		return o
	}

	info := infos[0]
	return reminder.Obligation{
		Name:           info.Name,
		Schedule:       info.Schedule,
		Constraints:    info.Constraints,
		State:          info.State,
		NextRunAt:      info.NextRun,
		LastRunAt:      info.LastRun,
		PendingCatchUp: info.Pending != nil && info.Pending.Kind == reminder.RunCatchUp,
	}
}

func (p *Planner) work(schedule scheduler.Schedule) scheduler.PeriodicWork {
	return scheduler.PeriodicWork{
		Job:         p.job,
		Schedule:    schedule,
		Constraints: p.config.Constraints,
	}
}
