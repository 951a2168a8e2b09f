package cmd

import (
	"context"
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-consultations/app/commission"
	"github.com/vibast-solutions/ms-go-consultations/app/factory"
	"github.com/vibast-solutions/ms-go-consultations/app/gateway"
	"github.com/vibast-solutions/ms-go-consultations/app/metrics"
	"github.com/vibast-solutions/ms-go-consultations/app/service"
	"github.com/vibast-solutions/ms-go-consultations/app/store"
	"github.com/vibast-solutions/ms-go-consultations/config"

	_ "github.com/go-sql-driver/mysql"
)

type application struct {
	cfg            *config.Config
	db             *sql.DB
	store          *store.SQLStore
	collectors     *metrics.Collectors
	timers         *service.MeetingTimers
	bookings       *service.BookingService
	reconciliation *service.ReconciliationService
}

// mustCreateApplication loads configuration and builds the services shared
// by serve and the job commands. Timers are only armed by long-lived
// processes; one-shot jobs pass withTimers=false.
func mustCreateApplication(withTimers bool) (*application, func()) {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)

	shutdownTracer, err := factory.InitTracer(context.Background(), cfg.App.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize tracer")
	}

	rate, err := commission.ParsePercentage(cfg.Bookings.DefaultCommissionRate)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid default commission percentage")
	}
	engine, err := commission.NewEngine(rate)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create commission engine")
	}

	registry, err := newGatewayRegistry(cfg.Gateway)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure payment gateway")
	}

	collectors := metrics.NewCollectors(prometheus.DefaultRegisterer)
	sqlStore := store.NewSQLStore(db)

	var timers *service.MeetingTimers
	if withTimers {
		timers = service.NewMeetingTimers(collectors.ScheduledCompletions)
	}

	bookings := service.NewBookingService(sqlStore, registry, cfg.Bookings, cfg.Gateway, timers, collectors)
	reconciliation := service.NewReconciliationService(sqlStore, registry, bookings, engine, cfg.Bookings, collectors)

	app := &application{
		cfg:            cfg,
		db:             db,
		store:          sqlStore,
		collectors:     collectors,
		timers:         timers,
		bookings:       bookings,
		reconciliation: reconciliation,
	}

	cleanup := func() {
		if timers != nil {
			timers.Stop()
		}
		if err := shutdownTracer(context.Background()); err != nil {
			logrus.WithError(err).Warn("Failed to flush traces")
		}
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return app, cleanup
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	factory.ConfigureLogging(cfg.Log.Level, cfg.Log.Format)
	return cfg
}

func mustOpenDatabase(cfg *config.Config) *sql.DB {
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}
	return db
}

func newGatewayRegistry(cfg config.GatewayConfig) (*gateway.Registry, error) {
	mercadoPago := gateway.NewMercadoPagoGateway(gateway.MercadoPagoConfig{
		AccessToken:               cfg.AccessToken,
		WebhookSecret:             cfg.WebhookSecret,
		BaseURL:                   cfg.BaseURL,
		NotificationURL:           cfg.NotificationURL,
		SignatureToleranceSeconds: cfg.SignatureToleranceSeconds,
		HTTPTimeout:               cfg.HTTPTimeout,
	})

	registry := gateway.NewRegistry(mercadoPago)
	if _, err := registry.Get(cfg.Name); err != nil {
		return nil, err
	}
	return registry, nil
}
