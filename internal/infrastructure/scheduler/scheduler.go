// Package scheduler is the background work manager for the reminder service.
// It keeps uniquely named periodic work, evaluates execution constraints
// before dispatch, runs expedited one-off work under the same name, and
// tracks run state and history for each registration.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/study-planner/internal/domain/reminder"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job. The run descriptor is available through
	// RunFromContext. Returning ErrRunDeferred marks the run as deferred.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// Schedule defines when a job should run.
type Schedule interface {
	// Next returns the next time the job should run after the given time.
	Next(t time.Time) time.Time

	// String returns a human-readable representation of the schedule.
	String() string
}

// ConstraintChecker answers constraint queries before a run is dispatched.
type ConstraintChecker interface {
	BatteryNotLow(ctx context.Context) (bool, error)
}

// ExistingWorkPolicy decides what happens when unique work is enqueued
// under a name that is already registered.
type ExistingWorkPolicy int

const (
	// KeepExisting leaves the current registration untouched.
	KeepExisting ExistingWorkPolicy = iota
	// ReplaceExisting swaps job, schedule and constraints. A run that is
	// already executing is not interrupted.
	ReplaceExisting
)

// String returns the policy name.
func (p ExistingWorkPolicy) String() string {
	if p == ReplaceExisting {
		return "replace"
	}
	return "keep"
}

// PeriodicWork describes a periodic registration.
type PeriodicWork struct {
	Job         Job
	Schedule    Schedule
	Constraints reminder.Constraints
}

// Run describes one execution handed to a Job.
type Run struct {
	ID        string
	Name      string
	Kind      reminder.RunKind
	DueAt     time.Time
	StartedAt time.Time
	// Attempt is 1 for the first try and grows with each deferral retry.
	Attempt int
}

type runCtxKey struct{}

// WithRun attaches a run descriptor to ctx.
func WithRun(ctx context.Context, run Run) context.Context {
	return context.WithValue(ctx, runCtxKey{}, run)
}

// RunFromContext returns the run descriptor attached by the scheduler.
func RunFromContext(ctx context.Context) (Run, bool) {
	run, ok := ctx.Value(runCtxKey{}).(Run)
	return run, ok
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	RunID       string
	Kind        reminder.RunKind
	Attempt     int
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Deferred    bool
	Error       error
}

// Outcome returns "success", "deferred" or "failure".
func (r JobResult) Outcome() string {
	switch {
	case r.Deferred:
		return "deferred"
	case r.Success:
		return "success"
	default:
		return "failure"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler manages and executes uniquely named background work.
type Scheduler struct {
	mu sync.RWMutex

	// Configuration
	logger       *slog.Logger
	timezone     *time.Location
	tickInterval time.Duration
	minPeriod    time.Duration
	deferBackoff time.Duration
	maxHistory   int
	constraints  ConstraintChecker
	now          func() time.Time

	// State
	jobs      map[string]*scheduledJob
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	// Metrics and history
	metrics    *SchedulerMetrics
	lastRuns   map[string]*JobResult
	runHistory []JobResult

	onRunComplete func(result JobResult)
}

// scheduledJob wraps a Job with scheduling information.
type scheduledJob struct {
	job         Job
	schedule    Schedule
	constraints reminder.Constraints

	state      reminder.RunState
	held       bool
	lastRun    time.Time
	nextRun    time.Time
	inFlight   int
	oneOff     *pendingRun
	runCount   int64
	failCount  int64
	deferCount int64
}

type pendingRun struct {
	id      string
	kind    reminder.RunKind
	dueAt   time.Time
	attempt int
}

// SchedulerConfig contains configuration for the Scheduler.
type SchedulerConfig struct {
	// Logger for structured logging.
	Logger *slog.Logger

	// Timezone for schedule calculations (default: UTC).
	Timezone *time.Location

	// TickInterval is how often due work is checked.
	TickInterval time.Duration

	// MinPeriod is the minimum spacing between two periodic runs of one job.
	MinPeriod time.Duration

	// DeferBackoff is the delay before a deferred run is retried. Zero
	// disables the retry and the job waits for its next periodic slot.
	DeferBackoff time.Duration

	// MaxHistorySize is the maximum number of job results kept in history.
	MaxHistorySize int

	// EnableMetrics enables metrics collection.
	EnableMetrics bool

	// Constraints evaluates work constraints. Nil means always satisfied.
	Constraints ConstraintChecker

	// Now overrides the clock.
	Now func() time.Time
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Logger:         slog.Default(),
		Timezone:       time.UTC,
		TickInterval:   time.Second,
		MinPeriod:      reminder.MinPeriod,
		DeferBackoff:   30 * time.Minute,
		MaxHistorySize: 1000,
		EnableMetrics:  true,
		Now:            time.Now,
	}
}

// NewScheduler creates a new Scheduler with the given configuration.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.MinPeriod < 0 {
		config.MinPeriod = 0
	}
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 1000
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	s := &Scheduler{
		logger:       config.Logger.With("component", "work_manager"),
		timezone:     config.Timezone,
		tickInterval: config.TickInterval,
		minPeriod:    config.MinPeriod,
		deferBackoff: config.DeferBackoff,
		maxHistory:   config.MaxHistorySize,
		constraints:  config.Constraints,
		now:          config.Now,
		jobs:         make(map[string]*scheduledJob),
		ctx:          context.Background(),
		lastRuns:     make(map[string]*JobResult),
		runHistory:   make([]JobResult, 0, 64),
	}

	if config.EnableMetrics {
		s.metrics = NewSchedulerMetrics()
	}

	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIQUE WORK
// ══════════════════════════════════════════════════════════════════════════════

// EnqueueUniquePeriodicWork registers periodic work under the job's name.
// It reports whether the registration was created or replaced.
func (s *Scheduler) EnqueueUniquePeriodicWork(work PeriodicWork, policy ExistingWorkPolicy) (bool, error) {
	if work.Job == nil {
		return false, ErrNilJob
	}
	if work.Schedule == nil {
		return false, ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := work.Job.Name()
	now := s.now().In(s.timezone)

	if iv, ok := work.Schedule.(*IntervalSchedule); ok && iv.Interval < s.minPeriod {
		s.logger.Warn("interval below minimum period, runs will be spaced by the minimum",
			"job", name,
			"interval", iv.Interval.String(),
			"min_period", s.minPeriod.String(),
		)
	}

	if sj, exists := s.jobs[name]; exists {
		if policy == KeepExisting {
			s.logger.Debug("unique work already registered, keeping existing",
				"job", name,
				"state", sj.state,
			)
			return false, nil
		}

		sj.job = work.Job
		sj.schedule = work.Schedule
		sj.constraints = work.Constraints
		sj.held = false
		sj.nextRun = s.nextPeriodic(sj.schedule, now, sj.lastRun)

		s.logger.Info("unique work replaced",
			"job", name,
			"schedule", sj.schedule.String(),
			"next_run", formatTime(sj.nextRun),
		)
		return true, nil
	}

	sj := &scheduledJob{
		job:         work.Job,
		schedule:    work.Schedule,
		constraints: work.Constraints,
		state:       reminder.StateEnqueued,
	}
	sj.nextRun = s.nextPeriodic(sj.schedule, now, time.Time{})
	s.jobs[name] = sj

	s.logger.Info("job registered",
		"job", name,
		"description", work.Job.Description(),
		"schedule", work.Schedule.String(),
		"requires_battery_not_low", work.Constraints.RequiresBatteryNotLow,
		"next_run", formatTime(sj.nextRun),
	)

	return true, nil
}

// EnqueueOneOff queues an expedited run of registered work after delay.
// The periodic cadence is not touched. While a run of the same name is
// executing, or a one-off due no later is already pending, the request is
// coalesced and ErrWorkCoalesced is returned. A pending one-off due later,
// such as the retry of a deferred run, is brought forward and retagged
// with kind; it keeps its run ID and attempt.
func (s *Scheduler) EnqueueOneOff(name string, kind reminder.RunKind, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sj, exists := s.jobs[name]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	if sj.inFlight > 0 {
		s.logger.Info("run in progress, one-off work coalesced", "job", name, "run_kind", kind)
		return "", ErrWorkCoalesced
	}
	dueAt := s.now().In(s.timezone).Add(delay)
	if p := sj.oneOff; p != nil {
		if !p.dueAt.After(dueAt) {
			s.logger.Info("one-off work already pending, coalesced",
				"job", name,
				"run_kind", kind,
				"pending_run_id", p.id,
			)
			return p.id, ErrWorkCoalesced
		}
		s.logger.Info("pending one-off work brought forward",
			"job", name,
			"run_kind", kind,
			"previous_kind", p.kind,
			"run_id", p.id,
			"due_at", formatTime(dueAt),
		)
		p.kind = kind
		p.dueAt = dueAt
		return p.id, nil
	}

	sj.oneOff = &pendingRun{
		id:      uuid.NewString(),
		kind:    kind,
		dueAt:   dueAt,
		attempt: 1,
	}

	s.logger.Info("one-off work enqueued",
		"job", name,
		"run_kind", kind,
		"run_id", sj.oneOff.id,
		"due_at", formatTime(sj.oneOff.dueAt),
	)

	return sj.oneOff.id, nil
}

// CancelUniqueWork removes the registration with the given name together
// with any pending one-off. A run that is executing finishes normally.
// It reports whether anything was registered.
func (s *Scheduler) CancelUniqueWork(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, exists := s.jobs[name]
	if !exists {
		return false
	}

	delete(s.jobs, name)
	sj.oneOff = nil
	s.logger.Info("unique work cancelled", "job", name, "in_flight", sj.inFlight)

	return true
}

// nextPeriodic returns the next slot after from, keeping at least
// minPeriod between consecutive periodic runs.
func (s *Scheduler) nextPeriodic(schedule Schedule, from, lastRun time.Time) time.Time {
	next := schedule.Next(from)
	if lastRun.IsZero() || s.minPeriod == 0 {
		return next
	}

	floor := lastRun.Add(s.minPeriod)
	for i := 0; !next.IsZero() && next.Before(floor); i++ {
		if i > 10_000 {
			return floor
		}
		next = schedule.Next(next)
	}
	return next
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.startedAt = s.now()
	jobsCount := len(s.jobs)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs_count", jobsCount, "tick", s.tickInterval.String())

	s.wg.Add(1)
	go s.runLoop()

	return nil
}

// Stop gracefully stops the scheduler.
// It waits for all currently running jobs to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("scheduler stopped",
		"uptime", s.now().Sub(s.startedAt).String(),
	)

	return nil
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER LOOP
// ══════════════════════════════════════════════════════════════════════════════

func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkAndRunJobs(s.now().In(s.timezone))
		}
	}
}

type dispatch struct {
	sj  *scheduledJob
	run Run
}

func (sj *scheduledJob) periodicDue(now time.Time) bool {
	return !sj.nextRun.IsZero() && !now.Before(sj.nextRun)
}

func (sj *scheduledJob) oneOffDue(now time.Time) bool {
	return sj.oneOff != nil && !now.Before(sj.oneOff.dueAt)
}

// checkAndRunJobs dispatches all work that is due at now and whose
// constraints are met. Work with unmet constraints is held and checked
// again on the next tick.
func (s *Scheduler) checkAndRunJobs(now time.Time) {
	s.mu.RLock()
	anyDue, needsBattery := false, false
	for _, sj := range s.jobs {
		if sj.periodicDue(now) || sj.oneOffDue(now) {
			anyDue = true
			needsBattery = needsBattery || sj.constraints.RequiresBatteryNotLow
		}
	}
	s.mu.RUnlock()

	if !anyDue {
		return
	}

	batteryOK := true
	if needsBattery {
		batteryOK = s.batteryNotLow()
	}

	s.mu.Lock()
	var runs []dispatch
	for name, sj := range s.jobs {
		periodic, oneOff := sj.periodicDue(now), sj.oneOffDue(now)
		if !periodic && !oneOff {
			continue
		}

		if sj.constraints.RequiresBatteryNotLow && !batteryOK {
			if !sj.held {
				sj.held = true
				s.logger.Info("constraints not met, holding run", "job", name, "constraint", "battery_not_low")
			}
			continue
		}
		sj.held = false

		runs = append(runs, dispatch{sj: sj, run: s.claim(name, sj, now, periodic)})
	}
	s.mu.Unlock()

	for _, d := range runs {
		s.wg.Add(1)
		go s.runJob(d.sj, d.run)
	}
}

// claim consumes the due work and moves the job into Running.
// A one-off that is due together with the periodic slot is satisfied by it.
// Must be called with s.mu held.
func (s *Scheduler) claim(name string, sj *scheduledJob, now time.Time, periodic bool) Run {
	run := Run{Name: name, StartedAt: now, Attempt: 1}

	if periodic {
		run.ID = uuid.NewString()
		run.Kind = reminder.RunPeriodic
		run.DueAt = sj.nextRun
		if sj.oneOff != nil && sj.oneOffDue(now) {
			s.logger.Debug("one-off work satisfied by periodic run", "job", name, "run_id", sj.oneOff.id)
			sj.oneOff = nil
		}
		sj.lastRun = now
		sj.nextRun = s.nextPeriodic(sj.schedule, now, now)
	} else {
		run.ID = sj.oneOff.id
		run.Kind = sj.oneOff.kind
		run.DueAt = sj.oneOff.dueAt
		run.Attempt = sj.oneOff.attempt
		sj.oneOff = nil
	}

	s.beginRun(sj)
	return run
}

// beginRun must be called with s.mu held.
func (s *Scheduler) beginRun(sj *scheduledJob) {
	sj.inFlight++
	sj.runCount++
	if sj.state != reminder.StateRunning {
		s.setState(sj, reminder.StateRunning)
	}
}

func (s *Scheduler) batteryNotLow() bool {
	if s.constraints == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	ok, err := s.constraints.BatteryNotLow(ctx)
	if err != nil {
		// An unknown battery state must not block delivery forever.
		s.logger.Warn("constraint check failed, treating as satisfied", "error", err)
		return true
	}
	return ok
}

func (s *Scheduler) setState(sj *scheduledJob, next reminder.RunState) {
	state, err := sj.state.Transition(next)
	if err != nil {
		s.logger.Warn("unexpected run state transition", "job", sj.job.Name(), "error", err)
		state = next
	}
	sj.state = state
}

// runJob executes a dispatched run on the scheduler context.
func (s *Scheduler) runJob(sj *scheduledJob, run Run) {
	defer s.wg.Done()
	s.execute(s.ctx, sj, run)
}

// execute runs the job, converts panics into errors and records the result.
func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob, run Run) JobResult {
	log := s.logger.With("job", run.Name, "run_id", run.ID, "run_kind", run.Kind)
	log.Info("job started", "attempt", run.Attempt)

	startedAt := s.now()
	err := safeRun(WithRun(ctx, run), sj.job)
	completedAt := s.now()
	duration := completedAt.Sub(startedAt)
	deferred := errors.Is(err, ErrRunDeferred)

	result := JobResult{
		JobName:     run.Name,
		RunID:       run.ID,
		Kind:        run.Kind,
		Attempt:     run.Attempt,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    duration,
		Success:     err == nil,
		Deferred:    deferred,
		Error:       err,
	}

	if s.metrics != nil {
		s.metrics.RecordExecution(run.Name, duration, result.Outcome())
	}

	s.mu.Lock()
	sj.inFlight--
	registered := s.jobs[run.Name] == sj

	switch {
	case deferred:
		sj.deferCount++
		if sj.inFlight == 0 {
			s.setState(sj, reminder.StateDeferred)
		}
		if registered && s.deferBackoff > 0 && sj.oneOff == nil {
			sj.oneOff = &pendingRun{
				id:      uuid.NewString(),
				kind:    run.Kind,
				dueAt:   completedAt.In(s.timezone).Add(s.deferBackoff),
				attempt: run.Attempt + 1,
			}
		}
	case err != nil:
		sj.failCount++
	}

	if sj.inFlight == 0 {
		if registered {
			s.setState(sj, reminder.StateEnqueued)
		} else {
			s.setState(sj, reminder.StateNotScheduled)
		}
	}

	s.lastRuns[run.Name] = &result
	s.addToHistory(result)
	hook := s.onRunComplete
	s.mu.Unlock()

	switch {
	case deferred:
		log.Info("job deferred", "duration", duration.String(), "retry_in", s.deferBackoff.String())
	case err != nil:
		log.Error("job failed", "duration", duration.String(), "error", err)
	default:
		log.Info("job completed", "duration", duration.String())
	}

	if hook != nil {
		hook(result)
	}

	return result
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return job.Run(ctx)
}

// addToHistory adds a result to the run history with size limit.
// Must be called with s.mu held.
func (s *Scheduler) addToHistory(result JobResult) {
	s.runHistory = append(s.runHistory, result)
	if len(s.runHistory) > s.maxHistory {
		s.runHistory = s.runHistory[len(s.runHistory)-s.maxHistory:]
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MANUAL EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

// RunNow immediately executes registered work in the caller's goroutine,
// ignoring schedule and constraints.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	sj, exists := s.jobs[name]
	if !exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	run := Run{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      reminder.RunManual,
		DueAt:     s.now(),
		StartedAt: s.now(),
		Attempt:   1,
	}
	s.beginRun(sj)
	s.mu.Unlock()

	result := s.execute(ctx, sj, run)
	return &result, result.Error
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS & INFO
// ══════════════════════════════════════════════════════════════════════════════

// PendingWork describes a queued one-off run.
type PendingWork struct {
	RunID   string           `json:"run_id"`
	Kind    reminder.RunKind `json:"kind"`
	DueAt   time.Time        `json:"due_at"`
	Attempt int              `json:"attempt"`
}

// WorkInfo contains information about registered work.
type WorkInfo struct {
	Name              string
	Description       string
	Schedule          string
	State             reminder.RunState
	Constraints       reminder.Constraints
	HeldByConstraints bool
	LastRun           time.Time
	NextRun           time.Time
	Pending           *PendingWork
	RunCount          int64
	FailCount         int64
	DeferCount        int64
	LastResult        *JobResult
}

func (s *Scheduler) infoLocked(name string, sj *scheduledJob) WorkInfo {
	info := WorkInfo{
		Name:              name,
		Description:       sj.job.Description(),
		Schedule:          sj.schedule.String(),
		State:             sj.state,
		Constraints:       sj.constraints,
		HeldByConstraints: sj.held,
		LastRun:           sj.lastRun,
		NextRun:           sj.nextRun,
		RunCount:          sj.runCount,
		FailCount:         sj.failCount,
		DeferCount:        sj.deferCount,
		LastResult:        s.lastRuns[name],
	}
	if sj.oneOff != nil {
		info.Pending = &PendingWork{
			RunID:   sj.oneOff.id,
			Kind:    sj.oneOff.kind,
			DueAt:   sj.oneOff.dueAt,
			Attempt: sj.oneOff.attempt,
		}
	}
	return info
}

// WorkInfosForName returns the registrations under name: empty when the
// work is not scheduled, one entry otherwise.
func (s *Scheduler) WorkInfosForName(name string) []WorkInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sj, exists := s.jobs[name]
	if !exists {
		return []WorkInfo{}
	}
	return []WorkInfo{s.infoLocked(name, sj)}
}

// ListWork returns information about all registered work.
func (s *Scheduler) ListWork() []WorkInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]WorkInfo, 0, len(s.jobs))
	for name, sj := range s.jobs {
		infos = append(infos, s.infoLocked(name, sj))
	}
	return infos
}

// GetHistory returns the recent job execution history.
func (s *Scheduler) GetHistory(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.runHistory) {
		limit = len(s.runHistory)
	}

	start := len(s.runHistory) - limit
	result := make([]JobResult, limit)
	copy(result, s.runHistory[start:])

	return result
}

// GetMetrics returns scheduler metrics.
func (s *Scheduler) GetMetrics() *SchedulerMetrics {
	return s.metrics
}

// OnRunComplete sets a callback invoked after every run, deferred ones included.
func (s *Scheduler) OnRunComplete(fn func(result JobResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRunComplete = fn
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerMetrics tracks scheduler performance metrics.
type SchedulerMetrics struct {
	mu sync.RWMutex

	TotalExecutions int64
	TotalSuccesses  int64
	TotalFailures   int64
	TotalDeferred   int64
	TotalDuration   time.Duration

	ExecutionsByJob map[string]int64
	FailuresByJob   map[string]int64
}

// NewSchedulerMetrics creates a new metrics tracker.
func NewSchedulerMetrics() *SchedulerMetrics {
	return &SchedulerMetrics{
		ExecutionsByJob: make(map[string]int64),
		FailuresByJob:   make(map[string]int64),
	}
}

// RecordExecution records a job execution with its outcome.
func (m *SchedulerMetrics) RecordExecution(jobName string, duration time.Duration, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalExecutions++
	m.TotalDuration += duration
	m.ExecutionsByJob[jobName]++

	switch outcome {
	case "success":
		m.TotalSuccesses++
	case "deferred":
		m.TotalDeferred++
	default:
		m.TotalFailures++
		m.FailuresByJob[jobName]++
	}
}

// Snapshot returns a point-in-time snapshot of metrics.
func (m *SchedulerMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var avgDuration time.Duration
	if m.TotalExecutions > 0 {
		avgDuration = m.TotalDuration / time.Duration(m.TotalExecutions)
	}

	return MetricsSnapshot{
		TotalExecutions: m.TotalExecutions,
		TotalSuccesses:  m.TotalSuccesses,
		TotalFailures:   m.TotalFailures,
		TotalDeferred:   m.TotalDeferred,
		AverageDuration: avgDuration,
	}
}

// MetricsSnapshot is a point-in-time snapshot of scheduler metrics.
type MetricsSnapshot struct {
	TotalExecutions int64         `json:"total_executions"`
	TotalSuccesses  int64         `json:"total_successes"`
	TotalFailures   int64         `json:"total_failures"`
	TotalDeferred   int64         `json:"total_deferred"`
	AverageDuration time.Duration `json:"average_duration_ns"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrRunDeferred is returned by a job that chose not to do its work in
	// the current environment. The run counts as deferred, not failed.
	ErrRunDeferred = errors.New("run deferred")

	// ErrWorkCoalesced is returned when one-off work merges into a run that
	// is already executing or pending.
	ErrWorkCoalesced = errors.New("work coalesced with existing run")

	// ErrJobPanicked wraps a recovered panic from Job.Run.
	ErrJobPanicked = errors.New("job panicked")

	// ErrInvalidSchedule is returned for unparsable schedules.
	ErrInvalidSchedule = errors.New("invalid schedule")

	ErrNilJob      = errors.New("job cannot be nil")
	ErrNilSchedule = errors.New("schedule cannot be nil")

	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")

	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
