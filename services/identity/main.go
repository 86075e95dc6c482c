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
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nexom/backend/pkg/config"
	"github.com/nexom/backend/pkg/database"
	"github.com/nexom/backend/pkg/logger"
	mw "github.com/nexom/backend/pkg/middleware"
	"github.com/nexom/backend/pkg/queue"
	"github.com/nexom/backend/services/identity/internal/bridge"
	"github.com/nexom/backend/services/identity/internal/handlers"
	"github.com/nexom/backend/services/identity/internal/mailer"
	"github.com/nexom/backend/services/identity/internal/repository"
	"github.com/nexom/backend/services/identity/internal/service"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Initialize repositories and services
	userRepo := repository.NewUserRepository(pool)
	otpService := service.NewOTPService(userRepo, selectMailer(cfg), cfg)
	h := handlers.New(otpService, cfg)

	// Connect to the message broker. Losing the broker is not fatal: the
	// HTTP surface keeps serving and the lookup bridge simply stays idle.
	bus, err := queue.Connect(cfg.NATS.URL)
	if err != nil {
		logger.Warn("Broker unavailable, lookup bridge disabled", "error", err)
	} else {
		defer bus.Close()
		if err := bridge.New(bus, userRepo).Start(); err != nil {
			logger.Warn("Failed to start lookup bridge", "error", err)
		}
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("identity"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(mw.Metrics("identity"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORS.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(sendOTPLimiter(cfg).Middleware()).Post("/send-otp", h.SendOTP)
		r.Post("/resend-otp", h.ResendOTP)
		r.Post("/verify-otp", h.VerifyOTP)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting identity service", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down identity service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Identity service error", "error", err)
		os.Exit(1)
	}
}

// selectMailer picks the delivery backend: dev printer first, then
// MailerSend when an API key is present, SMTP otherwise.
func selectMailer(cfg *config.Config) mailer.Sender {
	switch {
	case cfg.Email.DevMode:
		return mailer.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		return mailer.NewMailerSend(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.SMTPFrom)
	default:
		return mailer.NewSMTPMailer(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPFrom,
			cfg.Email.SMTPUser,
			cfg.Email.SMTPPass,
			cfg.Email.SMTPUseTLS,
		)
	}
}

// sendOTPLimiter guards the initial code request against flooding, per
// client IP. Resends are throttled per identity inside the service instead.
func sendOTPLimiter(cfg *config.Config) *mw.RateLimiter {
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Warn("Invalid Redis URL, OTP flood limiter fails open", "error", err)
		opt = &redis.Options{Addr: "localhost:6379"}
	}

	return mw.NewRateLimiter(redis.NewClient(opt), mw.RateLimitConfig{
		Requests: cfg.Redis.OTPRequestLimit,
		Window:   cfg.Redis.OTPRequestWindow,
		KeyFunc:  mw.ClientIPKeyFunc,
	})
}
