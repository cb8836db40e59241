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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FallbackConfig holds credentials for the LLM completion service used when
// the regex cascade comes up short.
type FallbackConfig struct {
	Enabled   bool
	BaseURL   string
	Token     string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// DeliveryConfig tunes the webhook delivery worker pool.
type DeliveryConfig struct {
	Timeout         time.Duration
	Concurrency     int
	PromoteInterval time.Duration
}

// Config holds all configuration for the courier services.
type Config struct {
	// Postgres
	DatabaseURL string

	// Redis
	RedisURL        string
	DeliveriesQueue string

	// HTTP
	Port       int // health check
	IngestPort int // inbound email + parse API

	Fallback FallbackConfig
	Delivery DeliveryConfig
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Deliveries string `yaml:"deliveries"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Fallback struct {
		Enabled   bool   `yaml:"enabled"`
		BaseURL   string `yaml:"base_url"`
		Token     string `yaml:"token"`
		Model     string `yaml:"model"`
		MaxTokens int    `yaml:"max_tokens"`
	} `yaml:"fallback"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		DatabaseURL:     firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:        firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		DeliveriesQueue: firstNonEmpty(raw.Redis.Queues.Deliveries, envOrDefault("DELIVERIES_QUEUE", "deliveries")),
		Port:            envOrDefaultInt("PORT", 8080),
		IngestPort:      envOrDefaultInt("INGEST_PORT", 8081),
		Fallback: FallbackConfig{
			Enabled:   raw.Fallback.Enabled,
			BaseURL:   firstNonEmpty(raw.Fallback.BaseURL, os.Getenv("FALLBACK_BASE_URL")),
			Token:     firstNonEmpty(raw.Fallback.Token, os.Getenv("FALLBACK_TOKEN")),
			Model:     firstNonEmpty(raw.Fallback.Model, "claude-3-haiku-20240307"),
			MaxTokens: raw.Fallback.MaxTokens,
			Timeout:   envOrDefaultDuration("FALLBACK_TIMEOUT", 30*time.Second),
		},
		Delivery: DeliveryConfig{
			Timeout:         envOrDefaultDuration("DELIVERY_TIMEOUT", 8*time.Second),
			Concurrency:     envOrDefaultInt("DELIVERY_CONCURRENCY", 4),
			PromoteInterval: envOrDefaultDuration("DELIVERY_PROMOTE_INTERVAL", time.Second),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("no database URL configured — check config.yaml and DATABASE_URL")
	}

	if cfg.Fallback.Enabled && cfg.Fallback.BaseURL == "" {
		return nil, fmt.Errorf("fallback enabled but no base URL configured")
	}

	if cfg.Fallback.MaxTokens <= 0 {
		cfg.Fallback.MaxTokens = 1024
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
