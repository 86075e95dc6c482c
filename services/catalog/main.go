package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/nexom/backend/pkg/config"
	"github.com/nexom/backend/pkg/logger"
	"github.com/nexom/backend/pkg/lookup"
	mw "github.com/nexom/backend/pkg/middleware"
	"github.com/nexom/backend/pkg/queue"
	"github.com/nexom/backend/services/catalog/internal/handlers"
	"github.com/nexom/backend/services/catalog/internal/middleware"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The catalog only talks to the identity service over the queue, so a
	// missing broker degrades the profile endpoint instead of killing the
	// whole service.
	var requester *lookup.Requester
	bus, err := queue.Connect(cfg.NATS.URL)
	if err != nil {
		logger.Warn("Broker unavailable, user lookup disabled", "error", err)
	} else {
		defer bus.Close()
		if err := lookup.DeclareQueues(bus); err != nil {
			logger.Warn("Failed to declare lookup queues", "error", err)
		} else {
			requester = lookup.NewRequester(bus, cfg.NATS.LookupTimeout)
		}
	}

	h := handlers.New(requester)

	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("catalog"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(mw.Metrics("catalog"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORS.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1/catalog", func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Auth.JWTSecret))
		r.Get("/profile", h.Profile)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.CatalogPort,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting catalog service", "port", cfg.Server.CatalogPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down catalog service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Catalog service error", "error", err)
		os.Exit(1)
	}
}
