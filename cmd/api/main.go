// Package main is the entry point for the metadata capture API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aind-capture/metadata-agent/internal/agent"
	"github.com/aind-capture/metadata-agent/internal/config"
	"github.com/aind-capture/metadata-agent/internal/handler"
	"github.com/aind-capture/metadata-agent/internal/middleware"
	"github.com/aind-capture/metadata-agent/internal/service"
	"github.com/aind-capture/metadata-agent/internal/store"
	"github.com/aind-capture/metadata-agent/pkg/logger"
	"github.com/aind-capture/metadata-agent/pkg/tracing"
)

const version = "0.3.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Infow("starting metadata capture server", "version", version)

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "metadata-agent", cfg.TracingEndpoint)
		if err != nil {
			log.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the metadata database
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Errorw("failed to open database", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer st.Close()

	// Initialize the agent client. Anthropic is preferred; OpenAI is a
	// text-only fallback without capture tools.
	tools := agent.NewTools(st, log)
	var agentClient agent.Client
	if cfg.AnthropicAPIKey != "" {
		agentClient, err = agent.NewAnthropicClient(cfg.AnthropicAPIKey, tools, cfg.MaxAgentTurns, log)
		if err != nil {
			log.Warnw("failed to create Anthropic client, chat disabled", "error", err)
		}
	} else if cfg.OpenAIAPIKey != "" {
		agentClient, err = agent.NewOpenAIClient(cfg.OpenAIAPIKey)
		if err != nil {
			log.Warnw("failed to create OpenAI client, chat disabled", "error", err)
		} else {
			log.Warn("no Anthropic key configured, metadata capture tools disabled")
		}
	} else {
		log.Warn("no provider API key configured, chat disabled")
	}

	// Initialize services
	chatSvc := service.NewChatService(st, agentClient, log)
	recordSvc := service.NewRecordService(st, log)
	uploadSvc := service.NewUploadService(st, cfg.UploadsDir, cfg.MaxUploadMB, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(st, version)
	chatHandler := handler.NewChatHandler(chatSvc, log)
	recordHandler := handler.NewRecordHandler(recordSvc, log)
	sessionHandler := handler.NewSessionHandler(chatSvc, recordSvc, log)
	uploadHandler := handler.NewUploadHandler(uploadSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/chat", chatHandler.Chat)
		r.Get("/models", chatHandler.Models)

		r.Route("/records", func(r chi.Router) {
			r.Get("/", recordHandler.List)
			r.Post("/link", recordHandler.Link)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", recordHandler.Get)
				r.Put("/", recordHandler.Update)
				r.Delete("/", recordHandler.Delete)
				r.Post("/confirm", recordHandler.Confirm)
				r.Get("/links", recordHandler.Links)
			})
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", sessionHandler.Delete)
				r.Get("/messages", sessionHandler.Messages)
				r.Get("/records", sessionHandler.Records)
			})
		})

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", uploadHandler.Upload)
			r.Get("/{id}", uploadHandler.Get)
		})
	})

	// Create HTTP server. The write timeout must cover a full agent
	// stream, which can run for minutes.
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infow("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
