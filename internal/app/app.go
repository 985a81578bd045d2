// Package app wires configuration, infrastructure and services into a
// runnable process. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/gateway"
	"github.com/AvTe/RentConnect-sub000/internal/handler"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/cache"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/database"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/lock"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/mq"
	"github.com/AvTe/RentConnect-sub000/internal/job"
	"github.com/AvTe/RentConnect-sub000/internal/logger"
	"github.com/AvTe/RentConnect-sub000/internal/model"
	"github.com/AvTe/RentConnect-sub000/internal/service"
	"github.com/AvTe/RentConnect-sub000/pkg/idgen"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const lockPrefix = "wallet:lock:"

type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Locker    lock.Locker
	Publisher mq.Publisher
	Gateway   gateway.Adapter

	Pricing  *service.Pricing
	Ledger   *service.LedgerService
	Payments *service.PaymentService
	Unlocks  *service.UnlockService
	Vouchers *service.VoucherService
	Reports  *service.ReportService
}

// New connects to MySQL, Redis and Kafka as configured and builds the app.
func New(cfg *config.Config) (*App, error) {
	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		return nil, err
	}
	return Build(cfg, db)
}

// Build wires the app on an open database.
func Build(cfg *config.Config, db *gorm.DB) (*App, error) {
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, DB: db}

	if cfg.Redis.Enabled {
		client, err := cache.InitRedis(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.Redis = client
		a.Locker = lock.NewRedisLocker(client, lockPrefix)
	} else {
		logger.Warn().Msg("redis disabled, using in-process locks")
		a.Locker = lock.NewLocalLocker()
	}

	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Publisher = producer
	} else {
		logger.Warn().Msg("kafka disabled, events are logged")
		a.Publisher = mq.LogPublisher{}
	}

	a.Gateway = newGateway(cfg)

	pricing, err := service.NewPricing(cfg.Pricing)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("pricing: %w", err)
	}
	a.Pricing = pricing
	a.Ledger = service.NewLedgerService(db, cfg)
	a.Vouchers = service.NewVoucherService(db, cfg)
	a.Payments = service.NewPaymentService(db, cfg, a.Gateway, a.Ledger, a.Vouchers, pricing)
	a.Unlocks = service.NewUnlockService(db, cfg, a.Ledger, pricing, a.Locker)
	a.Reports = service.NewReportService(db, cfg, a.Ledger)
	return a, nil
}

func newGateway(cfg *config.Config) *gateway.Router {
	router := gateway.NewRouter()
	if cfg.Payment.SandboxMock {
		logger.Warn().Msg("payment sandbox mock enabled, no real charges are made")
		mock := gateway.NewMockGateway()
		mock.AutoCompleteAfter = 2
		return router.
			Register(model.ProviderMpesa, mock).
			Register(model.ProviderPesapal, mock)
	}

	return router.
		Register(model.ProviderMpesa, gateway.NewMpesaClient(gateway.MpesaConfig{
			ConsumerKey:    cfg.Mpesa.ConsumerKey,
			ConsumerSecret: cfg.Mpesa.ConsumerSecret,
			PassKey:        cfg.Mpesa.PassKey,
			ShortCode:      cfg.Mpesa.ShortCode,
			CallbackURL:    cfg.Mpesa.CallbackURL,
			Sandbox:        cfg.Mpesa.Sandbox,
			BaseURL:        cfg.Mpesa.BaseURL,
		}, nil)).
		Register(model.ProviderPesapal, gateway.NewPesapalClient(gateway.PesapalConfig{
			ConsumerKey:    cfg.Pesapal.ConsumerKey,
			ConsumerSecret: cfg.Pesapal.ConsumerSecret,
			NotificationID: cfg.Pesapal.NotificationID,
			CallbackURL:    cfg.Pesapal.CallbackURL,
			Sandbox:        cfg.Pesapal.Sandbox,
			BaseURL:        cfg.Pesapal.BaseURL,
		}, nil))
}

func (a *App) Router() *gin.Engine {
	return handler.SetupRouter(a.Config, handler.NewHandler(handler.Services{
		Ledger:   a.Ledger,
		Payments: a.Payments,
		Unlocks:  a.Unlocks,
		Vouchers: a.Vouchers,
		Reports:  a.Reports,
		Health:   a.Ping,
	}))
}

func (a *App) OutboxSender() *job.OutboxSender {
	return job.NewOutboxSender(a.DB, a.Config, a.Publisher)
}

func (a *App) SweepJob() *job.ReconcileSweepJob {
	return job.NewReconcileSweepJob(a.Config, a.Payments, a.Vouchers, a.Locker)
}

func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the publisher, Redis and the database pool.
func (a *App) Close() error {
	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
