package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"counterserv/internal/config"
	"counterserv/internal/database"
	"counterserv/internal/handler"
	"counterserv/internal/mw"
	"counterserv/internal/service"
	"counterserv/internal/worker"
)

func main() {
	cfg := config.New()

	db, err := database.NewDB(cfg.DatabaseURI)
	if err != nil {
		slog.Error("failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer database.CloseDB(context.Background(), db)

	if err := database.InitSchema(db); err != nil {
		slog.Error("failed to init DB schema", "error", err)
		os.Exit(1)
	}

	// Services
	ledger := service.NewPostgresLedger(db)
	verifier := service.NewVerifier(service.Secrets{
		GatewayKeySecret: cfg.GatewayKeySecret,
		WebhookSecret:    cfg.WebhookSecret,
	})
	gateway := service.NewGatewayClient(cfg.GatewayAddress, cfg.GatewayKeyID, cfg.GatewayKeySecret)
	authSvc := service.NewAuthService(db)
	orderSvc := service.NewOrderService(ledger)
	paySvc := service.NewPaymentService(ledger, gateway, cfg.GatewayKeyID)
	reconciler := service.NewReconciler(ledger, verifier)

	// Worker
	sweeper := worker.NewSweeper(ledger)

	// Router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Post("/api/auth/signup", handler.SignupHandler(authSvc, cfg.JWTSecret))
	r.Post("/api/auth/signin", handler.SigninHandler(authSvc, cfg.JWTSecret))

	r.Post("/api/orders", handler.CreateOrderHandler(orderSvc))
	r.Get("/api/orders/{id}", handler.GetOrderHandler(orderSvc))

	startPayment := handler.StartPaymentHandler(paySvc)
	verifyPayment := handler.VerifyPaymentHandler(reconciler)
	r.Post("/api/payments/start", startPayment)
	r.Post("/api/payments/verify", verifyPayment)
	// Aliases some storefront clients call; same handlers, no re-dispatch.
	r.Post("/api/create-order", startPayment)
	r.Post("/api/verify-payment", verifyPayment)

	r.Post("/api/payments/webhook", handler.WebhookHandler(verifier, reconciler))

	// Staff routes
	r.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.JWTSecret))
		r.Use(mw.RequireStaff)

		r.Patch("/api/orders/{id}/status", handler.UpdateOrderStatusHandler(orderSvc))
	})

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sweeper.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	slog.Info("starting server", "addr", cfg.RunAddress)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-quit
	slog.Info("shutting down...")

	cancel() // stop worker
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}
