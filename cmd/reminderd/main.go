// Package main - точка входа демона ежедневного учебного напоминания.
//
// Демон регистрирует периодическое обязательство в менеджере задач,
// откладывает доставку при энергетических ограничениях, догоняет
// пропущенные запуски после снятия ограничений и ведёт журнал надёжности
// доставки.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alem-hub/study-planner/config"
	"github.com/alem-hub/study-planner/internal/application/eventhandler"
	"github.com/alem-hub/study-planner/internal/application/ledger"
	appreminder "github.com/alem-hub/study-planner/internal/application/reminder"
	"github.com/alem-hub/study-planner/internal/domain/delivery"
	"github.com/alem-hub/study-planner/internal/domain/reminder"
	"github.com/alem-hub/study-planner/internal/infrastructure/external/telegram"
	"github.com/alem-hub/study-planner/internal/infrastructure/messaging"
	"github.com/alem-hub/study-planner/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/study-planner/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/study-planner/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/study-planner/internal/infrastructure/power"
	"github.com/alem-hub/study-planner/internal/infrastructure/scheduler"
	"github.com/alem-hub/study-planner/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/study-planner/internal/infrastructure/service"
	"github.com/alem-hub/study-planner/internal/infrastructure/settings"
	httpapi "github.com/alem-hub/study-planner/internal/interface/http"
	"github.com/alem-hub/study-planner/internal/interface/http/handlers"
	"github.com/alem-hub/study-planner/pkg/circuitbreaker"
	"github.com/alem-hub/study-planner/pkg/logger"
	"github.com/alem-hub/study-planner/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	runOnce := flag.Bool("run-once", false, "deliver one reminder now (respecting power state) and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *runOnce); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, runOnce bool) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting study reminder daemon",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"db_driver", cfg.Database.Driver,
		"schedule", cfg.Reminder.Schedule,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ЖУРНАЛ НАДЁЖНОСТИ ДОСТАВКИ
	// ─────────────────────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		publishers  []ledger.StatsPublisher
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   3,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			// Redis only carries broadcasts; the ledger itself is local.
			log.Warn("redis unavailable, stats broadcast disabled", logger.Err(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			publishers = append(publishers, redis.NewStatsPublisher(redisClient))
			log.Info("redis connection established")
		}
	}

	deliveryLedger := ledger.New(store, log, ledger.Config{
		Retrier:    retry.LedgerRetrier(),
		Publishers: publishers,
		Now:        time.Now,
	})
	defer deliveryLedger.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПИТАНИЕ И КАНАЛ ДОСТАВКИ
	// ─────────────────────────────────────────────────────────────────────────
	sysfsConfig := power.DefaultSysfsConfig()
	if cfg.Power.SysfsRoot != "" {
		sysfsConfig.Root = cfg.Power.SysfsRoot
	}
	sysfsConfig.LowBatteryPercent = cfg.Power.LowBatteryPercent
	sysfsConfig.IdleHintFile = cfg.Power.IdleHintFile
	sysfsConfig.PowerSaveHintFile = cfg.Power.PowerSaveHintFile
	probe := power.NewSysfsProbe(sysfsConfig)
	observer := power.NewObserver(probe, log)
	if override := cfg.PowerOverride(); override != nil {
		log.Warn("power state is overridden", "constrained", *override)
		observer.OverrideForTests(override)
	}

	facade, facadePing := newFacade(cfg, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. МЕНЕДЖЕР ЗАДАЧ И ОБЯЗАТЕЛЬСТВО
	// ─────────────────────────────────────────────────────────────────────────
	schedule, err := scheduler.ParseSchedule(cfg.Reminder.Schedule)
	if err != nil {
		return fmt.Errorf("invalid REMINDER_SCHEDULE: %w", err)
	}

	job := jobs.NewDailyReminderJob(observer, facade, deliveryLedger, log, jobs.DailyReminderConfig{
		Title:   cfg.Reminder.Title,
		Body:    cfg.Reminder.Body,
		Timeout: cfg.Reminder.RunTimeout,
		Now:     time.Now,
	})

	wmConfig := scheduler.DefaultSchedulerConfig()
	wmConfig.Logger = log
	wmConfig.Timezone = cfg.App.Location
	wmConfig.TickInterval = cfg.Reminder.TickInterval
	wmConfig.DeferBackoff = cfg.Reminder.DeferBackoff
	wmConfig.MaxHistorySize = 100
	wmConfig.Constraints = observer
	wm := scheduler.NewScheduler(wmConfig)

	planner := appreminder.NewPlanner(wm, job, schedule, log, appreminder.Config{
		CatchUpDelay: cfg.Reminder.CatchUpDelay,
		Constraints:  reminder.DefaultConstraints(),
	})

	if runOnce {
		return deliverOnce(ctx, planner, wm, job.Name(), log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ПРИЁМНИК ЭНЕРГЕТИЧЕСКИХ СИГНАЛОВ
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultSignalBusConfig()
	busConfig.Logger = log
	bus := messaging.NewSignalBus(busConfig)
	receiver := eventhandler.NewOnPowerTransitionHandler(planner, log)

	if err := wm.Start(ctx); err != nil {
		return fmt.Errorf("failed to start work manager: %w", err)
	}

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("background task stopped", "task", name, logger.Err(err))
			}
		}()
	}

	spawn("power_receiver", func(ctx context.Context) error {
		return receiver.Run(ctx, bus.Signals(), bus.Done())
	})
	if cfg.Power.PollInterval > 0 {
		monitor := power.NewMonitor(probe, bus, power.MonitorConfig{PollInterval: cfg.Power.PollInterval, Logger: log})
		spawn("power_monitor", monitor.Run)
	}
	if redisClient != nil && cfg.Redis.PowerSignals {
		spawn("redis_power_source", redis.NewPowerSignalSource(redisClient, bus, log).Run)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. РЕГИСТРАЦИЯ ОБЯЗАТЕЛЬСТВА
	// ─────────────────────────────────────────────────────────────────────────
	switch {
	case cfg.Reminder.SettingsFile != "":
		watcher := settings.NewWatcher(cfg.Reminder.SettingsFile, planner, log)
		spawn("settings_watcher", watcher.Run)
	case cfg.Reminder.Enabled:
		if err := planner.Schedule(ctx); err != nil {
			return fmt.Errorf("failed to schedule reminder: %w", err)
		}
	default:
		log.Info("reminders are disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ДИАГНОСТИЧЕСКИЙ HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.HTTP.Enabled {
		health := handlers.NewCompositeHealthChecker(cfg.App.Version)
		health.AddCheck("ledger", handlers.NewPingCheck(deliveryLedger))
		if redisClient != nil {
			health.AddOptionalCheck("redis", handlers.NewPingCheck(redisClient))
		}
		if facadePing != nil {
			health.AddOptionalCheck("telegram", facadePing)
		}

		httpConfig := httpapi.DefaultConfig()
		httpConfig.Host = cfg.HTTP.Host
		httpConfig.Port = cfg.HTTP.Port
		httpConfig.APIKeys = cfg.HTTP.APIKeys
		httpConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
		httpConfig.Version = cfg.App.Version
		httpConfig.ShutdownTimeout = cfg.App.ShutdownTimeout

		server := httpapi.NewServer(httpConfig, httpapi.Dependencies{
			Stats:         deliveryLedger,
			Reminder:      planner,
			Signals:       bus,
			Power:         observer,
			HealthChecker: health,
			Logger:        log,
		})
		spawn("http_server", server.Serve)
	}

	log.Info("study reminder daemon is running", "obligation", job.Name())

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal", "timeout", cfg.App.ShutdownTimeout.String())

	_ = bus.Close()
	if err := wm.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		log.Error("work manager stop failed", logger.Err(err))
	}
	wg.Wait()

	handled, requested := receiver.Stats()
	log.Info("shutdown completed", "signals_handled", handled, "catch_ups_requested", requested)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func setupLogger(cfg *config.Config) *slog.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = logger.Format(cfg.Observability.LogFormat)
	opts.Service = cfg.App.Name
	opts.AddSource = cfg.IsDevelopment()

	log := logger.New(opts)
	slog.SetDefault(log)
	return log
}

// openStore открывает хранилище журнала выбранного драйвера.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (delivery.Store, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolOptions{
			MaxConns:        int32(cfg.Database.MaxConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := postgres.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("postgres ledger ready")
		return postgres.NewLedgerRepository(conn), conn.Close, nil

	default:
		db, err := sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, err := sqlite.NewLedgerStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("sqlite ledger ready", "path", cfg.Database.SQLitePath)
		return store, func() { _ = db.Close() }, nil
	}
}

// newFacade выбирает канал доставки: Telegram при наличии токена,
// иначе запись в лог.
func newFacade(cfg *config.Config, log *slog.Logger) (delivery.Facade, handlers.HealthCheckFunc) {
	if cfg.Telegram.Token == "" {
		log.Info("telegram is not configured, reminders go to the log")
		return service.NewLogNotifier(log, 16), nil
	}

	client := telegram.NewClient(telegram.ClientConfig{
		Token:   cfg.Telegram.Token,
		BaseURL: cfg.Telegram.BaseURL,
		Timeout: cfg.Telegram.Timeout,
		Logger:  log,
	})
	facade := telegram.NewFacade(client, telegram.FacadeConfig{
		ChatID:        cfg.Telegram.ChatID,
		RatePerSecond: cfg.Telegram.RatePerSecond,
		Burst:         cfg.Telegram.Burst,
		Retrier: retry.New(
			retry.WithMaxAttempts(cfg.Telegram.MaxRetries),
			retry.WithInitialDelay(cfg.Telegram.RetryBaseDelay),
			retry.WithMaxDelay(cfg.Telegram.RetryMaxDelay),
		),
		Breaker: circuitbreaker.New("telegram",
			circuitbreaker.WithFailureThreshold(cfg.Telegram.CircuitBreakerThreshold),
			circuitbreaker.WithTimeout(cfg.Telegram.CircuitBreakerTimeout),
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				log.Warn("delivery circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			}),
		),
		Logger: log,
	})
	return facade, facade.Ping
}

// deliverOnce выполняет один ручной запуск и завершает работу.
func deliverOnce(ctx context.Context, planner *appreminder.Planner, wm *scheduler.Scheduler, name string, log *slog.Logger) error {
	if err := planner.Schedule(ctx); err != nil {
		return fmt.Errorf("failed to schedule reminder: %w", err)
	}

	result, err := wm.RunNow(ctx, name)
	switch {
	case errors.Is(err, scheduler.ErrRunDeferred):
		log.Info("reminder deferred by power state")
		return nil
	case err != nil:
		return fmt.Errorf("reminder run failed: %w", err)
	}
	log.Info("reminder run finished", "run_id", result.RunID, "outcome", result.Outcome(), "duration", result.Duration.String())
	return nil
}
