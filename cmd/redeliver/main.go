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

// Courier — Redelivery Command
//
// Standalone CLI tool that re-enqueues webhook deliveries for events already
// committed to the log. Intended for recovering endpoints that were down
// long enough to exhaust the retry budget.
//
// Usage:
//
//	go run ./cmd/redeliver/ --since 24h
//	go run ./cmd/redeliver/ --event <event-uuid>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/agentpost/courier/internal/config"
	"github.com/agentpost/courier/internal/queue"
	"github.com/agentpost/courier/internal/replay"
	"github.com/agentpost/courier/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	// --- CLI Flags ---
	sinceFlag := flag.String("since", "", "Lookback duration (e.g. 24h); replays every event in the window")
	eventFlag := flag.String("event", "", "Single event UUID to replay")
	flag.Parse()

	if (*sinceFlag == "") == (*eventFlag == "") {
		fmt.Fprintf(os.Stderr, "Error: exactly one of --since or --event is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	req := replay.Request{}
	if *sinceFlag != "" {
		d, err := time.ParseDuration(*sinceFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --since duration %q: %v\n", *sinceFlag, err)
			os.Exit(1)
		}
		req.Since = d
	}
	if *eventFlag != "" {
		id, err := uuid.Parse(*eventFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --event UUID %q: %v\n", *eventFlag, err)
			os.Exit(1)
		}
		req.EventID = id
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	eventStore, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise event store", "error", err)
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
	defer rdb.Close()

	deliveries := queue.New(rdb, cfg.DeliveriesQueue)
	if err := deliveries.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Run Replay ---
	runner := replay.NewRunner(eventStore, deliveries)
	result, err := runner.Run(ctx, req)
	if err != nil {
		slog.Error("replay failed", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	slog.Info("redelivery complete",
		"events", result.Events,
		"scheduled", result.Scheduled,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"elapsed", result.Elapsed,
	)
}
