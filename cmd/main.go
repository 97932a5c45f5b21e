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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/ukydev/fleet-usage/internal/admin"
	"github.com/ukydev/fleet-usage/internal/auth"
	"github.com/ukydev/fleet-usage/internal/config"
	"github.com/ukydev/fleet-usage/internal/db"
	"github.com/ukydev/fleet-usage/internal/db/sqlite"
	"github.com/ukydev/fleet-usage/internal/events"
	"github.com/ukydev/fleet-usage/internal/fuel"
	"github.com/ukydev/fleet-usage/internal/handlers"
	"github.com/ukydev/fleet-usage/internal/maintenance"
	"github.com/ukydev/fleet-usage/internal/middleware"
	"github.com/ukydev/fleet-usage/internal/usage"
)

// app is the wired server.
type app struct {
	store     db.Store
	publisher events.Publisher
	gateway   *admin.Gateway
	sweeper   *maintenance.Sweeper
	handler   http.Handler
}

func main() {
	envFile := pflag.String("env-file", ".env", "path to an env file")
	port := pflag.String("port", "", "HTTP port (overrides PORT)")
	driver := pflag.String("store", "", "store driver: sqlite or mongo (overrides STORE_DRIVER)")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *driver != "" {
		cfg.StoreDriver = *driver
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	cfg.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Server stopped with error")
	}
}

// run serves until ctx is cancelled, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		profile, err := a.gateway.Bootstrap(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap fleet-admin: %w", err)
		}
		if profile != nil {
			log.WithField("account_id", profile.ID).Info("Bootstrap fleet-admin created")
		}
	}

	if err := a.sweeper.Start(cfg.MaintenanceSweep); err != nil {
		return err
	}
	defer a.sweeper.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"port":     cfg.Port,
			"store":    cfg.StoreDriver,
			"identity": cfg.IdentityProvider,
		}).Info("HTTP server listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newApp wires store, identity provider, event publisher and services into a router.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	provider := newProvider(cfg, store)
	publisher, err := newPublisher(cfg)
	if err != nil {
		store.Close(ctx)
		return nil, err
	}

	gateway := admin.NewGateway(provider, store, publisher)
	maintenanceService := maintenance.NewService(store, publisher)
	h := handlers.NewHandler(handlers.Services{
		Usage:       usage.NewService(store, publisher),
		Maintenance: maintenanceService,
		Fuel:        fuel.NewService(store, publisher),
		Admin:       gateway,
	})
	router := handlers.NewRouter(h,
		handlers.NewAuthHandler(provider, store),
		middleware.NewAuthMiddleware(auth.NewResolver(provider, store)),
		handlers.RouterConfig{
			AllowedOrigins:    cfg.CORSOrigins,
			RequestsPerMinute: cfg.RateLimitPerMinute,
			RequestTimeout:    cfg.RequestTimeout,
		})

	return &app{
		store:     store,
		publisher: publisher,
		gateway:   gateway,
		sweeper:   maintenance.NewSweeper(maintenanceService, publisher),
		handler:   router,
	}, nil
}

func (a *app) close() {
	if p, ok := a.publisher.(*events.MQTTPublisher); ok {
		p.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Close(ctx); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.WithField("path", cfg.SQLitePath).Info("Using SQLite store")
		return store, nil
	case config.DriverMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		store := db.NewMongoStore(client, cfg.MongoDB)
		if err := store.EnsureIndexes(ctx); err != nil {
			store.Close(ctx)
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		log.WithField("database", cfg.MongoDB).Info("Using MongoDB store")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newProvider(cfg *config.Config, store db.CredentialCollection) auth.IdentityProvider {
	if cfg.IdentityProvider == config.ProviderGoTrue {
		return auth.NewGoTrueProvider(cfg.GoTrueURL, cfg.GoTrueServiceKey, cfg.RequestTimeout)
	}
	return auth.NewLocalProvider(cfg.JWTSecret, cfg.JWTExpiry, store)
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.MQTTBroker == "" {
		log.Info("MQTT_BROKER not set; domain events are not published")
		return events.NopPublisher{}, nil
	}
	p, err := events.NewMQTTPublisher(events.MQTTConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Prefix:   cfg.MQTTTopicPrefix,
		Timeout:  cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect mqtt: %w", err)
	}
	return p, nil
}
