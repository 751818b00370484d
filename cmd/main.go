package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prayerreminder/internal/client"
	"prayerreminder/internal/configuration"
	"prayerreminder/internal/database"
	"prayerreminder/internal/fingerprint"
	"prayerreminder/internal/logger"
	"prayerreminder/internal/metrics"
	"prayerreminder/internal/push"
	"prayerreminder/internal/registration"
	"prayerreminder/internal/server"
	"prayerreminder/internal/storage"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := runApp(); err != nil {
		os.Exit(1)
	}
}

func runApp() (err error) {
	logOutput := io.Writer(os.Stdout)
	appLogger := logger.NewLogger(logger.LevelError, logOutput)

	defer func() {
		if r := recover(); r != nil {
			appLogger.Errorf("APPLICATION CRASHED: %+v", r)
			err = errors.Errorf("panic: %v", r)
		}
	}()

	if err = configuration.LoadDotEnv(".env"); err != nil {
		appLogger.Error("Error loading .env:", err)
		return err
	}
	config, err := configuration.GetConfig("config.toml")
	if err != nil {
		appLogger.Error("Error getting configuration from config.toml:", err)
		return err
	}

	if config.LogToFile {
		logFile, err := os.OpenFile("prayer_reminder.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			appLogger.Error("Error opening log file:", err)
			return err
		}
		defer func() {
			if err := logFile.Close(); err != nil {
				appLogger.Error("Error closing log file:", err)
			}
		}()
		logOutput = io.MultiWriter(logOutput, logFile)
	}
	appLogger = logger.NewLogger(config.LogLevel, logOutput)

	if config.LogLevel >= logger.LevelDebug {
		conf, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			appLogger.Error("Error marshalling Config to JSON:", err)
			return err
		}
		appLogger.Debugf("Config:\n%s", conf)
	}

	appContext, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(appContext, config, appLogger)
	if err != nil {
		appLogger.Error("Error opening storage:", err)
		return err
	}
	defer closeStore()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics, err := metrics.New(promRegistry)
	if err != nil {
		appLogger.Error("Error creating metrics:", err)
		return err
	}

	httpClient := client.Client{
		Client:          &http.Client{Timeout: config.RequestTimeout},
		SchedulerURL:    config.SchedulerBaseURL,
		OneSignalURL:    config.OneSignalAPIURL,
		OneSignalAPIKey: config.OneSignalAPIKey,
		Logger:          appLogger,
	}

	sdk := &push.RESTSDK{
		API:              httpClient,
		Tokens:           push.StaticToken(config.PushToken),
		Permissions:      push.StaticPermission(config.NotificationsPermitted),
		SubscriptionType: config.PushTokenType,
	}
	adapter := push.NewAdapter(sdk, store, appLogger, push.AdapterConfig{
		AppID:                    config.OneSignalAppID,
		SettleDelay:              config.SettleDelay,
		MissingRegistrationDelay: config.MissingRegistrationDelay,
		RefreshSubscriptionDelay: config.RefreshSubscriptionDelay,
		StateLogDelay:            config.StateLogDelay,
	})
	adapter.Metrics = appMetrics
	adapter.OnNotificationClick = func(n push.Notification) {
		appLogger.Infof("Notification opened, ID: %s, title: %s", n.ID, n.Title)
	}
	defer adapter.Close()

	regClient := registration.New(store, adapter, httpClient, fingerprint.SystemCollector{}, appLogger, registration.Config{
		BaseRetryDelay:           config.BaseRetryDelay,
		MaxAttempts:              config.MaxAttempts,
		SubscriptionPollInterval: config.SubscriptionPollInterval,
		SubscriptionMaxPolls:     config.SubscriptionMaxPolls,
	})
	regClient.Metrics = appMetrics

	if err = adapter.Initialize(appContext); err != nil {
		appLogger.Error("Error initializing push, notifications stay unavailable:", err)
	}
	if err = resumeRegistration(appContext, regClient, appLogger); err != nil {
		appLogger.Error("Error initializing registration client:", err)
		return err
	}

	srv := server.Server{
		Registration:   regClient,
		Push:           adapter,
		Events:         sdk,
		Logger:         appLogger,
		AuthSecretKey:  config.ControlSecretKey,
		MetricsHandler: promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		DefaultWindow:  config.DefaultWindow,
	}

	httpSrv := &http.Server{
		Handler:      srv.Router(),
		Addr:         config.ServerAddress,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	g, gctx := errgroup.WithContext(appContext)
	g.Go(func() error {
		appLogger.Info("Starting registration watcher with interval:", config.RegistrationCheckInterval)
		ticker := time.NewTicker(config.RegistrationCheckInterval)
		defer ticker.Stop()
		srv.WatchRegistrationInInterval(gctx, ticker)
		return nil
	})
	g.Go(func() error {
		appLogger.Info("Serving on", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	// The store is closed on return, the running registration must persist its
	// pending window first.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := regClient.Shutdown(shutdownCtx); serr != nil {
		appLogger.Error(serr)
	}
	if err != nil {
		appLogger.Error("Error serving:", err)
		return err
	}
	appLogger.Info("Shut down")
	return nil
}

// resumeRegistration brings back the registration state of an onboarded
// install. Before onboarding nothing is touched; the identity is created when
// the first window is submitted.
func resumeRegistration(ctx context.Context, c *registration.Client, l *logger.Logger) error {
	if !c.OnboardingCompleted(ctx) {
		l.Info("Onboarding not completed, registration client idle")
		return nil
	}
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	if _, _, err := c.ValidateAndCleanupRegistration(ctx); err != nil {
		l.Error("Error validating cached registration:", err)
	}
	if _, ok, err := c.RetryPending(ctx); err != nil {
		l.Error("Error retrying pending registration:", err)
	} else if ok {
		l.Info("Retrying pending registration")
	}
	return nil
}

func openStore(ctx context.Context, config *configuration.Config, l *logger.Logger) (storage.Store, func(), error) {
	switch config.StorageBackend {
	case configuration.StorageRedis:
		l.Info("Connecting to Redis at", config.RedisAddr)
		s, err := storage.NewRedisStore(ctx, &redis.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				l.Error("Error closing Redis connection:", err)
			}
		}, nil
	case configuration.StorageMongo:
		l.Info("Connecting to DB")
		dbConn, err := database.ConnectDB(ctx, config.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		s := database.Store{DB: database.Database{Database: dbConn.Database(database.Name)}}
		return s, func() {
			if err := dbConn.Disconnect(context.Background()); err != nil {
				l.Error("Error disconnecting from DB:", err)
			}
		}, nil
	default:
		return storage.NewMemoryStore(), func() {}, nil
	}
}
