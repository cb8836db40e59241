// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Courier — API Service
//
// Entry point for the courier API service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL (event log) and Redis (delivery queue)
//  3. Serves the ingest endpoints for provider inbound-email webhooks
//  4. Records events and fans deliveries out to registered webhooks
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/agentpost/courier/internal/config"
	"github.com/agentpost/courier/internal/dedup"
	"github.com/agentpost/courier/internal/events"
	"github.com/agentpost/courier/internal/extract"
	"github.com/agentpost/courier/internal/fallback"
	"github.com/agentpost/courier/internal/ingest"
	"github.com/agentpost/courier/internal/parser"
	"github.com/agentpost/courier/internal/queue"
	"github.com/agentpost/courier/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// .env is optional; real deployments use the environment directly
	_ = godotenv.Load()

	slog.Info("starting courier API service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"deliveries_queue", cfg.DeliveriesQueue,
		"fallback_enabled", cfg.Fallback.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	deliveries := queue.New(rdb, cfg.DeliveriesQueue)
	if err := deliveries.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dedup Filter ---
	filter := dedup.NewFilter(rdb)

	// --- Event Store (Postgres) ---
	eventStore, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise event store", "error", err)
		os.Exit(1)
	}

	// --- Content Parser ---
	var fb parser.Fallback
	if cfg.Fallback.Enabled {
		fb = fallback.NewClient(ctx, fallback.Config{
			BaseURL:   cfg.Fallback.BaseURL,
			Token:     cfg.Fallback.Token,
			Model:     cfg.Fallback.Model,
			MaxTokens: cfg.Fallback.MaxTokens,
			Timeout:   cfg.Fallback.Timeout,
		})
		slog.Info("fallback extraction enabled", "model", cfg.Fallback.Model)
	}
	contentParser := parser.New(extract.NewEngine(), fb)

	// --- Event Recorder ---
	recorder := events.NewRecorder(eventStore, deliveries)

	// --- Ingest Server ---
	handler := ingest.NewHandler(contentParser, recorder, filter)
	ready, err := ingest.Serve(ctx, cfg.IngestPort, handler)
	if err != nil {
		slog.Error("failed to start ingest server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := deliveries.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check Postgres
		if err := eventStore.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the ingest server and background processing

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("courier API service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("courier API service stopped")
}
