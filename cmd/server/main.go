package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"consultation-service/internal/app"
	"consultation-service/internal/config"
	"consultation-service/internal/events"
	"consultation-service/internal/logging"
	"consultation-service/internal/meeting"
	"consultation-service/internal/metrics"
	"consultation-service/internal/obs"
	"consultation-service/internal/payment"
	"consultation-service/internal/reservation"
	"consultation-service/internal/server"
	"consultation-service/internal/store"
	"consultation-service/internal/store/memory"
	"consultation-service/internal/store/postgres"
	"consultation-service/internal/sweep"
)

const serviceName = "consultation-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

// backend is the storage the rest of the service runs on.
type backend interface {
	store.Store
	store.CredentialStore
	store.ProfileStore
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, serviceName, cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	var (
		st     backend
		health func(context.Context) error
	)
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		st = memory.New()
	default:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to db: %w", err)
		}
		defer pool.Close()
		if err := postgres.Migrate(pool); err != nil {
			return err
		}
		st = postgres.New(pool)
		health = pool.Ping
	}

	m := metrics.New()

	var payments payment.Processor = payment.Sandbox{}
	if cfg.StripeKey != "" {
		payments = payment.NewStripe(cfg.StripeKey, logger)
	} else {
		logger.Warn("STRIPE_KEY not set, using sandbox payments")
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.RabbitURL != "" {
		amqpPub, err := events.NewAMQP(cfg.RabbitURL, cfg.EventsExchange)
		if err != nil {
			return err
		}
		publisher = amqpPub
	}
	defer func() { _ = publisher.Close() }()

	oauthCfg := meeting.GoogleOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	provCfg := meeting.DefaultConfig()
	if cfg.ProvisionTimeout > 0 {
		provCfg.Timeout = cfg.ProvisionTimeout
	}
	provisioner := meeting.NewProvisioner(meeting.NewGoogleCalendar(oauthCfg), st, st, st, provCfg, logger, m)

	async := meeting.NewAsync(provisioner, logger)
	defer async.Wait()
	var dispatcher meeting.Dispatcher = async
	if cfg.RedisAddr != "" {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisQueueDB}
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		dispatcher = meeting.NewQueue(client, async, logger)

		worker := meeting.NewWorker(redisOpt, provisioner, logger)
		if err := worker.Start(); err != nil {
			return err
		}
		defer worker.Shutdown()
	}

	coord := reservation.New(reservation.Deps{
		Store:          st,
		Payments:       payments,
		Dispatcher:     dispatcher,
		Publisher:      publisher,
		Logger:         logger,
		Metrics:        m,
		PaymentTimeout: cfg.PaymentTimeout,
	})

	scheduler := sweep.NewScheduler(logger)
	promoter := sweep.NewPromoter(st, publisher, logger, m)
	retention := sweep.NewRetention(st, sweep.DefaultRetentionPolicy(), logger, m)
	if err := scheduler.Add("promotion", cfg.PromotionSchedule, func(ctx context.Context) error {
		_, err := promoter.Run(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := scheduler.Add("retention", cfg.RetentionSchedule, func(ctx context.Context) error {
		_, err := retention.Run(ctx)
		return err
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop(context.Background())

	auth, err := app.NewAuthenticator(cfg.JWTSecret, cfg.StaticTokens)
	if err != nil {
		return err
	}
	stateKey := []byte(cfg.JWTSecret)
	if len(stateKey) == 0 {
		stateKey = make([]byte, 32)
		if _, err := rand.Read(stateKey); err != nil {
			return fmt.Errorf("generate oauth state key: %w", err)
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	a := &app.App{
		Coordinator:     coord,
		Credentials:     st,
		OAuth:           oauthCfg,
		StateKey:        stateKey,
		DefaultCurrency: cfg.StripeCurrency,
		Logger:          logger,
	}
	router := a.Router(app.RouterConfig{
		Auth:           auth,
		Metrics:        m,
		Origins:        cfg.Origins(),
		RequestsPerMin: cfg.MaxRequestsPerMin,
		Health:         health,
	})

	return server.Run(ctx, server.New(cfg.AppPort, router), logger)
}
