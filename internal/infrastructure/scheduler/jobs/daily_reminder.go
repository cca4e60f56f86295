// Package jobs contains the work executed by the scheduler.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/alem-hub/study-planner/internal/domain/delivery"
	"github.com/alem-hub/study-planner/internal/domain/reminder"
	"github.com/alem-hub/study-planner/internal/infrastructure/scheduler"
	"github.com/alem-hub/study-planner/pkg/logger"
)

const instrumentationName = "github.com/alem-hub/study-planner/jobs"

// ══════════════════════════════════════════════════════════════════════════════
// DAILY REMINDER JOB
// ══════════════════════════════════════════════════════════════════════════════

// PowerObserver answers whether background work is power-constrained.
type PowerObserver interface {
	IsPowerConstrained(ctx context.Context) (bool, error)
}

// AttemptRecorder folds a delivery outcome into the reliability ledger.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, success bool, reason *string) error
}

// DailyReminderJob delivers the daily study reminder.
//
// Each run either defers (power-save or idle active, nothing recorded) or
// attempts delivery and then records exactly one attempt, including when the
// facade panics or the run's context is cancelled mid-flight.
type DailyReminderJob struct {
	observer PowerObserver
	facade   delivery.Facade
	recorder AttemptRecorder
	logger   *slog.Logger
	config   DailyReminderConfig

	tracer      trace.Tracer
	attempts    metric.Int64Counter
	deferrals   metric.Int64Counter
	lastOutcome atomic.Value // string
}

// DailyReminderConfig contains configuration for the reminder job.
type DailyReminderConfig struct {
	// Title and Body are passed through to the facade unchanged.
	Title string
	Body  string

	// Timeout bounds a single delivery attempt.
	Timeout time.Duration

	// Now is used for payload timestamps. Defaults to time.Now.
	Now func() time.Time
}

// DefaultDailyReminderConfig returns sensible defaults.
func DefaultDailyReminderConfig() DailyReminderConfig {
	return DailyReminderConfig{
		Title:   "Study time",
		Body:    "Your daily study session is waiting.",
		Timeout: 30 * time.Second,
		Now:     time.Now,
	}
}

// NewDailyReminderJob creates a new reminder job.
func NewDailyReminderJob(
	observer PowerObserver,
	facade delivery.Facade,
	recorder AttemptRecorder,
	log *slog.Logger,
	config DailyReminderConfig,
) *DailyReminderJob {
	if log == nil {
		log = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	meter := otel.Meter(instrumentationName)
	attempts, err := meter.Int64Counter("reminder.delivery.attempts",
		metric.WithDescription("Reminder delivery attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		log.Warn("failed to create attempts counter", logger.Err(err))
	}
	deferrals, err := meter.Int64Counter("reminder.runs.deferred",
		metric.WithDescription("Reminder runs deferred by power constraints"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		log.Warn("failed to create deferrals counter", logger.Err(err))
	}

	return &DailyReminderJob{
		observer:  observer,
		facade:    facade,
		recorder:  recorder,
		logger:    log.With("job", reminder.ObligationName),
		config:    config,
		tracer:    otel.Tracer(instrumentationName),
		attempts:  attempts,
		deferrals: deferrals,
	}
}

// Name returns the obligation name.
func (j *DailyReminderJob) Name() string {
	return reminder.ObligationName
}

// Description returns a human-readable description.
func (j *DailyReminderJob) Description() string {
	return "Delivers the daily study reminder unless the host is power-constrained"
}

// LastOutcome returns "success", "failure", "deferred" or "" before the first run.
func (j *DailyReminderJob) LastOutcome() string {
	v, _ := j.lastOutcome.Load().(string)
	return v
}

// Run executes one reminder run.
func (j *DailyReminderJob) Run(ctx context.Context) error {
	run, _ := scheduler.RunFromContext(ctx)
	if run.Kind == "" {
		run.Kind = reminder.RunManual
	}
	log := j.logger.With(logger.RunID(run.ID), logger.RunKind(string(run.Kind)))

	ctx, span := j.tracer.Start(ctx, "reminder.run",
		trace.WithAttributes(
			attribute.String("reminder.run_id", run.ID),
			attribute.String("reminder.run_kind", string(run.Kind)),
			attribute.Int("reminder.attempt", run.Attempt),
		),
	)
	defer span.End()

	constrained, err := j.observer.IsPowerConstrained(ctx)
	if err != nil {
		// Probe failures must not silence the reminder.
		log.Warn("power state unavailable, attempting delivery", logger.Err(err))
		span.AddEvent("power_probe_failed")
	}
	if constrained {
		j.lastOutcome.Store("deferred")
		if j.deferrals != nil {
			j.deferrals.Add(ctx, 1, metric.WithAttributes(attribute.String("run_kind", string(run.Kind))))
		}
		span.SetAttributes(attribute.Bool("reminder.deferred", true))
		log.Info("power constrained, deferring reminder")
		return scheduler.ErrRunDeferred
	}

	result := delivery.Failed(delivery.ReasonUnknown, nil)
	defer func() {
		j.record(ctx, log, span, result)
	}()

	result = j.deliver(ctx, run)
	return nil
}

// deliver calls the facade, converting a panic into a failure result.
func (j *DailyReminderJob) deliver(ctx context.Context, run scheduler.Run) (result delivery.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = delivery.Failed(delivery.ReasonDeliveryPanic, fmt.Errorf("facade panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	result = j.facade.AttemptDelivery(ctx, delivery.Payload{
		Title:     j.config.Title,
		Body:      j.config.Body,
		RunID:     run.ID,
		CreatedAt: j.config.Now().UTC(),
	})
	if !result.Success && result.Reason == "" {
		result.Reason = delivery.ReasonUnknown
	}
	if !result.Success && errors.Is(ctx.Err(), context.DeadlineExceeded) && result.Reason == delivery.ReasonUnknown {
		result.Reason = delivery.ReasonTimeout
	}
	return result
}

// record is the last action of every non-deferred run.
func (j *DailyReminderJob) record(ctx context.Context, log *slog.Logger, span trace.Span, result delivery.Result) {
	// A cancelled run still owes the ledger its outcome.
	ctx = context.WithoutCancel(ctx)

	outcome := string(delivery.OutcomeSuccess)
	if !result.Success {
		outcome = string(delivery.OutcomeFailure)
	}
	j.lastOutcome.Store(outcome)
	if j.attempts != nil {
		j.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	if result.Success {
		log.Info("reminder delivered")
	} else {
		log.Warn("reminder delivery failed", logger.Reason(result.Reason), logger.Err(result.Err))
		span.SetStatus(codes.Error, result.Reason)
	}

	if err := j.recorder.RecordAttempt(ctx, result.Success, result.ReasonPtr()); err != nil {
		// The ledger logs persistence failures itself; the run is still over.
		span.RecordError(err)
		log.Error("delivery outcome not recorded", logger.Err(err))
	}
}
