package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"paygate/internal/common/middleware"
	"paygate/internal/payment/api"
)

var serveWithJobs bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the payment gateway HTTP API. With --jobs the background jobs run in the same process.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveWithJobs, "jobs", false, "Also run the background job scheduler")
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, logger := mustLoadConfig()

	ctx, cancel := shutdownContext(logger)
	defer cancel()

	a := mustNewApp(ctx, cfg, logger)
	defer a.Close()

	if serveWithJobs {
		scheduler, err := newScheduler(ctx, a)
		if err != nil {
			fatal(logger, "failed to schedule jobs", err)
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	paymentHandler := api.NewHandler(a.sessions, a.cards, a.idempotency, cfg.Payment.CheckoutBaseURL, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := a.db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check covers the broker too
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := a.healthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// API routes
	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Mount("/", paymentHandler.Routes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting paygate",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"coordination", cfg.Coordination,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
