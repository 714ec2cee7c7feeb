package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"otp-service/internal/client"
	"otp-service/internal/config"
	"otp-service/internal/delivery"
	"otp-service/internal/hashing"
	"otp-service/internal/repository/postgres"
	redisrepo "otp-service/internal/repository/redis"
	"otp-service/internal/service"
	"otp-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient *client.RedisClient
	kafkaClient *client.KafkaClient
	db          *gorm.DB

	// Repositories and caches
	otpRepository  *postgres.OtpRepository
	otpCache       *redisrepo.OtpCache
	rateLimitCache *redisrepo.RateLimitCache

	// Services
	otpService  *service.OtpService
	cronService *service.CronService

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.Load()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{config: cfg}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return factory, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisClient, err := client.NewRedisClient(f.config)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}

	db, err := postgres.Connect(f.config)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	f.db = db

	if f.config.Kafka.Enabled {
		kafkaClient, err := client.NewKafkaClient(f.config)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		f.kafkaClient = kafkaClient
	}

	return nil
}

func (f *Factory) initializeServices() {
	f.otpRepository = postgres.NewOtpRepository(f.db)
	f.otpCache = redisrepo.NewOtpCache(f.redisClient)
	f.rateLimitCache = redisrepo.NewRateLimitCache(f.redisClient)

	var sender delivery.Sender
	if f.kafkaClient != nil {
		sender = delivery.NewKafkaSender(f.kafkaClient)
	} else {
		sender = delivery.NewLogSender()
	}

	hasher := hashing.NewHasher(f.config.OTP.BcryptCost)
	limiter := service.NewRateLimiter(f.rateLimitCache, f.config.OTP)

	f.otpService = service.NewOtpService(
		f.otpRepository,
		f.otpCache,
		limiter,
		hasher,
		sender,
		f.config.OTP,
	)
	f.cronService = service.NewCronService(f.otpRepository, f.otpCache, f.rateLimitCache)
}

func (f *Factory) Config() *config.Config { return f.config }

func (f *Factory) OtpService() *service.OtpService { return f.otpService }

func (f *Factory) CronService() *service.CronService { return f.cronService }

// Close releases every client in reverse initialization order.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.cronService != nil {
			f.cronService.Stop()
		}
		if f.kafkaClient != nil {
			_ = f.kafkaClient.Close()
		}
		if f.db != nil {
			if sqlDB, err := f.db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}
		util.Info("Factory closed")
		util.Sync()
	})
}
