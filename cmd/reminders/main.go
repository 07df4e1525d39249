package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lalithlochan/reminders/internal/api"
	"github.com/lalithlochan/reminders/internal/channel"
	"github.com/lalithlochan/reminders/internal/circuitbreaker"
	"github.com/lalithlochan/reminders/internal/config"
	"github.com/lalithlochan/reminders/internal/db"
	"github.com/lalithlochan/reminders/internal/followup"
	"github.com/lalithlochan/reminders/internal/metrics"
	"github.com/lalithlochan/reminders/internal/observ"
	"github.com/lalithlochan/reminders/internal/redis"
	"github.com/lalithlochan/reminders/internal/scheduler"
	"github.com/lalithlochan/reminders/internal/sqs"
)

// followUpLeaseTTL bounds how long a crashed replica blocks follow-ups.
// The running holder renews it every third of the TTL.
const followUpLeaseTTL = 2 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting reminders",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("channels", cfg.ChannelsMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, db.Config{
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		Database:        cfg.DBName,
		SSLMode:         cfg.DBSSLMode,
		ApplicationName: observ.ServiceName,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, realtime push, leases and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	channels, err := buildChannels(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}

	policy, err := scheduler.ParseDeliveryPolicy(cfg.DeliveryPolicy)
	if err != nil {
		return err
	}

	var schedOpts []scheduler.Option
	var followOpts []followup.Option
	if redisClient != nil {
		schedOpts = append(schedOpts, scheduler.WithLease(
			redis.NewLease(redisClient, logger, metrics.CycleReminders, cfg.ReminderClaimTimeout)))
		followOpts = append(followOpts, followup.WithLease(
			redis.NewLease(redisClient, logger, metrics.CycleFollowUps, followUpLeaseTTL)))
	}

	sched := scheduler.New(repo, channels, scheduler.Config{
		Offsets:      cfg.ReminderOffsets,
		PollInterval: cfg.ReminderPollInterval,
		BatchSize:    cfg.ReminderBatchSize,
		ClaimTimeout: cfg.ReminderClaimTimeout,
		Policy:       policy,
	}, observ.Component(logger, "scheduler"), schedOpts...)

	dispatcher := followup.New(repo, followup.Channels{
		Email: channels.Email,
		SMS:   channels.SMS,
	}, followup.Config{
		Interval:  cfg.FollowUpInterval,
		BatchSize: cfg.FollowUpBatchSize,
	}, observ.Component(logger, "followup"), followOpts...)

	sched.Start(ctx)
	defer sched.Stop()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	var producer *sqs.Producer
	if cfg.FollowUpQueueURL != "" {
		sqsCfg := sqs.Config{Region: cfg.SQSRegion, QueueURL: cfg.FollowUpQueueURL}

		producer, err = sqs.NewProducer(ctx, sqsCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqs producer: %w", err)
		}

		consumer, err := sqs.NewConsumer(ctx, sqsCfg, observ.Component(logger, "sqs"))
		if err != nil {
			return fmt.Errorf("failed to create sqs consumer: %w", err)
		}
		go consumer.Listen(ctx, followUpTrigger(dispatcher, logger))
	}

	go reportConnections(ctx, database)

	var handler *api.Handler
	if producer != nil {
		handler = api.NewHandlerWithQueue(logger, sched, dispatcher, repo, producer)
	} else {
		handler = api.NewHandler(logger, sched, dispatcher, repo)
	}

	var limiter api.Limiter
	if redisClient != nil {
		limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: time.Minute,
		})
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(requestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(limiter, logger, api.OrganizationKeyFunc))
		handler.Routes(r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
		// Manual cycles can outlast a normal request.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildChannels picks real or log-only providers and puts a breaker in
// front of each.
func buildChannels(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (scheduler.Channels, error) {
	var (
		email channel.Email
		sms   channel.SMS
		push  channel.Push
	)

	switch cfg.ChannelsMode {
	case "log":
		email = channel.NewLogEmail(logger)
		sms = channel.NewLogSMS(logger)
		push = channel.NewLogPush(logger)
	default:
		ses, err := channel.NewSESEmail(ctx, channel.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return scheduler.Channels{}, fmt.Errorf("failed to create SES email channel: %w", err)
		}
		email = ses
		sms = channel.NewSNSSMS(channel.SNSConfig{Region: cfg.SNSRegion}, logger)
		if redisClient != nil {
			push = channel.NewRedisPush(redisClient.Redis())
		}
	}

	breaker := func(name string) *circuitbreaker.CircuitBreaker {
		bc := circuitbreaker.DefaultConfig(name)
		bc.MaxFailures = cfg.BreakerMaxFailures
		bc.RecoveryTimeout = cfg.BreakerRecoveryTimeout
		return circuitbreaker.New(bc, logger)
	}

	channels := scheduler.Channels{
		Email: channel.EmailWithBreaker(email, breaker(channel.NameEmail)),
		SMS:   channel.SMSWithBreaker(sms, breaker),
	}
	if push != nil {
		channels.Push = channel.PushWithBreaker(push, breaker(channel.NameRealtime))
	}

	logger.Info("delivery channels initialized",
		zap.String("mode", cfg.ChannelsMode),
		zap.Bool("realtime_enabled", push != nil),
	)
	return channels, nil
}

// followUpTrigger runs the dispatcher for each queued trigger. A run already
// in progress covers the trigger, so the message is acknowledged.
func followUpTrigger(d *followup.Dispatcher, logger *zap.Logger) sqs.Handler {
	return func(ctx context.Context, msg sqs.TriggerMessage) error {
		report, err := d.ProcessAutomaticFollowUps(ctx)
		if errors.Is(err, followup.ErrCycleInProgress) {
			logger.Info("follow-up run already in progress, dropping trigger",
				zap.String("requested_by", msg.RequestedBy),
			)
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("queued follow-up run complete",
			zap.String("requested_by", msg.RequestedBy),
			zap.Int("leads", report.Leads),
		)
		return nil
	}
}

func reportConnections(ctx context.Context, database *db.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetDBConnections(database.AcquiredConns())
		}
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
