package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studio-schedule/internal/auth"
	"studio-schedule/internal/config"
	kafkaevents "studio-schedule/internal/events/kafka"
	"studio-schedule/internal/fanout"
	notificationList "studio-schedule/internal/http-server/handlers/notifications/list"
	notificationRead "studio-schedule/internal/http-server/handlers/notifications/read"
	sessionAssign "studio-schedule/internal/http-server/handlers/sessions/assign"
	sessionBook "studio-schedule/internal/http-server/handlers/sessions/book"
	sessionCancel "studio-schedule/internal/http-server/handlers/sessions/cancel"
	sessionComplete "studio-schedule/internal/http-server/handlers/sessions/complete"
	sessionConfirm "studio-schedule/internal/http-server/handlers/sessions/confirm"
	sessionCreate "studio-schedule/internal/http-server/handlers/sessions/create"
	sessionDelete "studio-schedule/internal/http-server/handlers/sessions/delete"
	sessionGet "studio-schedule/internal/http-server/handlers/sessions/get"
	sessionList "studio-schedule/internal/http-server/handlers/sessions/list"
	sessionNotes "studio-schedule/internal/http-server/handlers/sessions/notes"
	sessionOverlapping "studio-schedule/internal/http-server/handlers/sessions/overlapping"
	sessionRecurring "studio-schedule/internal/http-server/handlers/sessions/recurring"
	sessionRequest "studio-schedule/internal/http-server/handlers/sessions/request"
	sessionStats "studio-schedule/internal/http-server/handlers/sessions/stats"
	"studio-schedule/internal/http-server/middleware/authn"
	"studio-schedule/internal/lock"
	"studio-schedule/internal/metrics"
	"studio-schedule/internal/pubsub"
	"studio-schedule/internal/realtime"
	svc "studio-schedule/internal/service"
	"studio-schedule/pkg/handlers/slogpretty"
	"studio-schedule/pkg/middleware/mwLogger"
	"studio-schedule/pkg/middleware/mwMetrics"
	"studio-schedule/pkg/sl"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting schedule service", slog.String("env", cfg.Env))
	log.Debug("Debug messages are enabled")

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewRegistry(promRegistry)

	storage, err := openStorage(log, cfg.Storage)
	if err != nil {
		log.Error("Failed to init storage", sl.Err(err))
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	registry := realtime.NewRegistry(log, m, cfg.Realtime.SendBuffer)

	var (
		locker    lock.Locker = lock.NewLocalLock()
		redisLock *lock.RedisLock
		pusher    fanout.Pusher = registry
	)

	relayDone := make(chan struct{})

	if cfg.RedisAddr != "" {
		redisLock, err = lock.NewRedisLock(cfg.RedisAddr)
		if err != nil {
			log.Error("Failed to init redis lock", sl.Err(err))
			os.Exit(1)
		}
		locker = redisLock

		relay := pubsub.NewRedisRelay(log, redisLock.Client(), cfg.Realtime.RelayChannel)
		pusher = relay

		go func() {
			defer close(relayDone)
			if err := relay.Run(ctx, registry); err != nil {
				log.Error("Push relay stopped", sl.Err(err))
			}
		}()
	} else {
		close(relayDone)
		log.Info("Redis not configured, using in-process lock and local pushes")
	}

	dispatcher := fanout.New(log, storage, storage, pusher, m, fanout.Options{
		Workers:   cfg.Fanout.Workers,
		QueueSize: cfg.Fanout.QueueSize,
		Timeout:   cfg.Fanout.PushTimeout,
	})

	var producer *kafkaevents.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafkaevents.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		dispatcher.AddSink(producer)
		log.Info("Exporting session events", slog.String("topic", cfg.Kafka.Topic))
	}

	dispatcher.Start(ctx)

	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		log.Error("Failed to load timezone", sl.Err(err))
		os.Exit(1)
	}

	service := svc.New(log, storage, storage, storage, dispatcher,
		svc.WithLocation(loc),
		svc.WithRetry(cfg.Engine.MaxRetries, cfg.Engine.RetryBackoff),
		svc.WithDefaultDuration(cfg.Engine.DefaultDuration),
		svc.WithLocker(locker),
		svc.WithMetrics(m),
	)

	gateway := auth.NewGateway(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(mwLogger.New(log))
	router.Use(mwMetrics.New(m))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Realtime.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	router.Handle("/ws", realtime.NewHandler(log, registry, gateway, service, realtime.Options{
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		WriteWait:      cfg.Realtime.WriteWait,
		PongWait:       cfg.Realtime.PongWait,
	}))

	router.Group(func(r chi.Router) {
		r.Use(authn.New(log, gateway))

		// Sessions
		r.Post("/sessions", sessionCreate.New(log, service))
		r.Post("/sessions/recurring", sessionRecurring.New(log, service))
		r.Post("/sessions/request", sessionRequest.New(log, service))
		r.Get("/sessions", sessionList.New(log, service))
		r.Get("/sessions/stats", sessionStats.New(log, service))
		r.Get("/sessions/{id}", sessionGet.New(log, service))
		r.Delete("/sessions/{id}", sessionDelete.New(log, service))
		r.Post("/sessions/{id}/book", sessionBook.New(log, service))
		r.Put("/sessions/{id}/cancel", sessionCancel.New(log, service))
		r.Post("/sessions/{id}/confirm", sessionConfirm.New(log, service))
		r.Post("/sessions/{id}/complete", sessionComplete.New(log, service))
		r.Put("/sessions/{id}/trainer", sessionAssign.New(log, service))
		r.Put("/sessions/{id}/notes", sessionNotes.New(log, service))

		// Trainers
		r.Get("/trainers/{id}/sessions/overlapping", sessionOverlapping.New(log, service))

		// Notifications
		r.Get("/notifications", notificationList.New(log, service))
		r.Put("/notifications/{id}/read", notificationRead.New(log, service))
	})

	serv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	serverErrCh := make(chan error, 1)

	go func() {
		log.Info("Starting HTTP server", slog.String("addr", cfg.HTTPServer.Address))
		if err := serv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			log.Error("HTTP server stopped unexpectedly", sl.Err(err))
		} else {
			log.Info("HTTP server stopped gracefully")
		}
	}

	shutdownTimeout := cfg.HTTPServer.ShutdownTimeout

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down HTTP server", slog.String("timeout", shutdownTimeout.String()))

	if err := serv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", sl.Err(err))
	} else {
		log.Info("Server shutdown complete")
	}

	// Drain queued events while the stores and the relay are still open.
	dispatcher.Stop()
	log.Info("Fan-out drained")

	stop()
	<-relayDone

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error("Failed to close kafka producer", sl.Err(err))
		}
	}

	if err := storage.Close(); err != nil {
		log.Error("Failed to close storage", sl.Err(err))
	} else {
		log.Info("Storage closed")
	}

	if redisLock != nil {
		if err := redisLock.Close(); err != nil {
			log.Error("Failed to close locker", sl.Err(err))
		} else {
			log.Info("Locker closed")
		}
	}

	log.Info("Shutdown finished, server stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
