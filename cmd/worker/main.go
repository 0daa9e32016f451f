package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/calendar"
	"github.com/hackgods/vet-appointment-scheduling/internal/config"
	"github.com/hackgods/vet-appointment-scheduling/internal/db"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
	"github.com/hackgods/vet-appointment-scheduling/internal/metrics"
	"github.com/hackgods/vet-appointment-scheduling/internal/notify"
	"github.com/hackgods/vet-appointment-scheduling/internal/outbox"
	redisclient "github.com/hackgods/vet-appointment-scheduling/internal/redis"
	"github.com/hackgods/vet-appointment-scheduling/internal/reminder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("no_show_interval", cfg.WorkerInterval),
		zap.Duration("outbox_interval", cfg.OutboxInterval),
		zap.Bool("calendar_enabled", cfg.CalendarEnabled),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.PostgresMaxConn)})
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	redisOpts := redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TLS:      cfg.RedisTLS,
	}
	rdb, err := redisclient.NewRedisClient(redisOpts)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	m := metrics.NewSchedulingMetrics(nil)
	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisVetLocker(rdb, cfg.LockTTL, cfg.LockWait)
	svc := appointment.NewService(repo, locker, cfg, logger.Named("appointment"), m)

	queueOpt := redisclient.AsynqOpt(redisOpts, cfg.RedisQueueDB)
	queue := reminder.NewAsynqQueue(queueOpt, cfg.ReminderQueue, cfg.ReminderMaxRetry)
	defer func() { _ = queue.Close() }()

	reminderStore := reminder.NewPgStore(pgPool)
	scheduler := reminder.NewScheduler(reminderStore, queue, cfg.ReminderLeadTimes, cfg.ReminderChannel, logger.Named("reminder"), m)
	deliverer := reminder.NewDeliverer(reminderStore, repo, notify.NewRedisNotifier(rdb, ""), logger.Named("reminder"), m)

	var reconciler outbox.CalendarReconciler
	if cfg.CalendarEnabled {
		provider, err := calendar.NewGoogleProviderFromFiles(rootCtx, cfg.GoogleCredentialsFile, cfg.GoogleTokenFile)
		if err != nil {
			logger.Fatal("calendar provider init error", zap.Error(err))
		}
		reconciler = calendar.NewSyncer(provider, calendar.NewPgLinkStore(pgPool), repo, repo, logger.Named("calendar"), m).
			WithDefaultCalendar(cfg.CalendarDefaultCalendar).
			WithRateLimit(cfg.CalendarRequestsPerSec).
			WithTimeout(cfg.CalendarTimeout).
			WithRetries(cfg.CalendarMaxRetries, 500*time.Millisecond)
	}

	relay := outbox.NewRelay(
		outbox.NewPgStore(pgPool),
		outbox.NewDispatcher(repo, reconciler, scheduler, logger.Named("outbox")),
		logger.Named("outbox"),
		m,
	).
		WithInterval(cfg.OutboxInterval).
		WithBatchSize(cfg.OutboxBatchSize).
		WithMaxAttempts(cfg.OutboxMaxAttempts).
		WithBaseDelay(cfg.OutboxBaseDelay)

	reminderSrv := asynq.NewServer(queueOpt, asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{cfg.ReminderQueue: 1},
		Logger:      logger.Named("asynq").Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn("reminder task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(reminder.TypeSendReminder, deliverer.HandleTask)

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		return relay.Run(gctx)
	})

	g.Go(func() error {
		runNoShowSweep(gctx, logger, svc)

		ticker := time.NewTicker(cfg.WorkerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				runNoShowSweep(gctx, logger, svc)
			}
		}
	})

	g.Go(func() error {
		if err := reminderSrv.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		reminderSrv.Shutdown()
		return nil
	})

	metricsSrv := metrics.NewServer(":"+cfg.WorkerMetricsPort, nil)
	g.Go(func() error {
		logger.Info("worker metrics listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}

func runNoShowSweep(ctx context.Context, logger *zap.Logger, svc *appointment.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.MarkNoShows(runCtx)
	if err != nil {
		logger.Error("no-show sweep failed", zap.Error(err))
		return
	}
	logger.Info("no-show sweep complete", zap.Int("marked", n), zap.Duration("took", time.Since(start)))
}
