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

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"obs-control-backend/config"
	"obs-control-backend/internal/api"
	"obs-control-backend/internal/db"
	"obs-control-backend/internal/history"
	"obs-control-backend/internal/logging"
	"obs-control-backend/internal/metrics"
	"obs-control-backend/internal/notification"
	"obs-control-backend/internal/obs"
	"obs-control-backend/internal/scheduler"
	"obs-control-backend/internal/store"
	"obs-control-backend/internal/tally"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not read .env")
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	logging.Setup(cfg.Log)
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	appStore := store.NewGormStore(gormDB)
	log.Info().Msg("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A record left open by an unclean exit ends now; nothing is known to be on air.
	recorder := history.NewRecorder(appStore)
	if err := recorder.CloseSession(ctx); err != nil {
		log.Error().Err(err).Msg("failed to close stale history record")
	}

	ctrl := obs.NewController(cfg.OBS, obs.NewWebsocketDialer())
	ctrl.AddObserver(recorder)

	var loopOpts []scheduler.Option
	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool, appStore, webpushOptions)
		pool.Start(ctx)
		ctrl.AddObserver(pool)
		loopOpts = append(loopOpts, scheduler.WithNotifier(pool))
		log.Info().Int("workers", cfg.WorkerPool.Size).Msg("push notifications enabled")
	} else {
		log.Warn().Msg("VAPID keys are not configured, push notifications disabled")
	}

	if cfg.Tally.Broker != "" {
		mqttClient, err := tally.Connect(cfg.Tally)
		if err != nil {
			log.Error().Err(err).Msg("tally publisher disabled")
		} else {
			defer mqttClient.Disconnect(250)
			ctrl.AddObserver(tally.NewPublisher(mqttClient, cfg.Tally))
		}
	}

	metrics.RegisterConnection(ctrl.Status)

	loop, err := scheduler.NewLoop(cfg.Scheduler, appStore, ctrl, loopOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}

	handler := api.NewHandler(appStore, ctrl, api.Options{
		Webpush:  webpushOptions,
		OBS:      cfg.OBS,
		Location: loop.Location(),
	})
	ctrl.AddObserver(handler.Events())

	if cfg.OBS.AutoConnect {
		if err := ctrl.ConnectPort(ctx, cfg.OBS.Host, cfg.OBS.Port, cfg.OBS.Password); err != nil {
			log.Error().Err(err).Msg("initial OBS connection failed; connect through the API")
		} else {
			log.Info().Str("host", cfg.OBS.Host).Int("port", cfg.OBS.Port).Msg("connected to OBS")
		}
	}

	var workers background
	workers.Go(func() { ctrl.Monitor(ctx, cfg.OBS.RefreshInterval) })
	workers.Go(func() { loop.Run(ctx) })

	router := api.NewRouter(handler, cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server Shutdown")
	}
	cancel()

	// An in-flight switch must finish before the session and history are closed.
	if !workers.Wait(shutdownCtx) {
		log.Warn().Msg("scheduler did not stop in time")
	}

	ctrl.Disconnect()
	if err := recorder.CloseSession(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to close history record")
	}

	log.Info().Msg("server gracefully stopped")
}
