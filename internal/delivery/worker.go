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

// Package delivery posts webhook payloads to registered endpoints with
// at-least-once semantics and bounded exponential backoff.
package delivery

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/agentpost/courier/internal/models"
	"github.com/agentpost/courier/internal/signature"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

const (
	defaultTimeout         = 8 * time.Second
	defaultConcurrency     = 4
	defaultPromoteInterval = time.Second
	dequeueWait            = 5 * time.Second
)

// TaskQueue is the slice of the queue the worker needs.
type TaskQueue interface {
	ScheduleAfter(ctx context.Context, task models.DeliveryTask, delay time.Duration) error
	PromoteDue(ctx context.Context) (int, error)
	Dequeue(ctx context.Context, timeout time.Duration) (*models.DeliveryTask, error)
}

// Config tunes the delivery worker pool.
type Config struct {
	Timeout         time.Duration
	Concurrency     int
	PromoteInterval time.Duration
}

// Worker consumes delivery tasks and posts them to webhook endpoints.
type Worker struct {
	queue           TaskQueue
	client          *http.Client
	concurrency     int
	promoteInterval time.Duration
}

// NewWorker builds a worker pool over the given queue. Zero-valued config
// fields fall back to defaults.
func NewWorker(q TaskQueue, cfg Config) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = defaultPromoteInterval
	}
	return &Worker{
		queue:           q,
		client:          &http.Client{Timeout: cfg.Timeout},
		concurrency:     cfg.Concurrency,
		promoteInterval: cfg.PromoteInterval,
	}
}

// Attempt makes one delivery attempt and returns the resulting transition.
// The signed bytes and the transmitted bytes are the same canonical form,
// so receivers can verify the signature against the raw body.
func (w *Worker) Attempt(ctx context.Context, task models.DeliveryTask) Transition {
	body, err := signature.Canonicalize(task.Payload)
	if err != nil {
		// A payload that cannot canonicalize will never succeed; burn the attempt.
		slog.Error("payload canonicalization failed",
			"task_id", task.ID,
			"event_id", task.EventID,
			"error", err,
		)
		return NextState(task.Attempt, OutcomeFailure)
	}

	sig, err := signature.Sign(task.Payload, task.Secret)
	if err != nil {
		slog.Error("payload signing failed",
			"task_id", task.ID,
			"event_id", task.EventID,
			"error", err,
		)
		return NextState(task.Attempt, OutcomeFailure)
	}

	outcome := w.post(ctx, task, body, sig)
	return NextState(task.Attempt, outcome)
}

func (w *Worker) post(ctx context.Context, task models.DeliveryTask, body []byte, sig string) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.TargetURL, bytes.NewReader(body))
	if err != nil {
		slog.Warn("delivery request build failed",
			"task_id", task.ID,
			"target_url", task.TargetURL,
			"error", err,
		)
		return OutcomeFailure
	}
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		slog.Warn("delivery attempt failed",
			"task_id", task.ID,
			"event_id", task.EventID,
			"attempt", task.Attempt,
			"error", err,
		)
		return OutcomeFailure
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return OutcomeSuccess
	}

	slog.Warn("delivery attempt rejected",
		"task_id", task.ID,
		"event_id", task.EventID,
		"attempt", task.Attempt,
		"status", resp.StatusCode,
	)
	return OutcomeFailure
}

// Run starts the promoter and the consumer pool and blocks until ctx is
// cancelled and all consumers have drained.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.promote(ctx)
	}()

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func (w *Worker) promote(ctx context.Context) {
	ticker := time.NewTicker(w.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.PromoteDue(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("promote due tasks", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("promoted scheduled deliveries", "count", n)
			}
		}
	}
}

func (w *Worker) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		task, err := w.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("dequeue delivery task", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}

		w.handle(ctx, *task)
	}
}

func (w *Worker) handle(ctx context.Context, task models.DeliveryTask) {
	tr := w.Attempt(ctx, task)

	switch tr.State {
	case StateDelivered:
		slog.Debug("webhook delivered",
			"task_id", task.ID,
			"event_id", task.EventID,
			"attempt", task.Attempt,
		)
	case StateRetryScheduled:
		retry := task
		retry.Attempt++
		if err := w.queue.ScheduleAfter(ctx, retry, tr.Delay); err != nil {
			slog.Error("failed to reschedule delivery",
				"task_id", task.ID,
				"event_id", task.EventID,
				"attempt", retry.Attempt,
				"error", err,
			)
			return
		}
		slog.Info("delivery retry scheduled",
			"task_id", task.ID,
			"event_id", task.EventID,
			"attempt", retry.Attempt,
			"delay", tr.Delay,
		)
	case StateExhausted:
		slog.Error("webhook delivery exhausted",
			"task_id", task.ID,
			"event_id", task.EventID,
			"target_url", task.TargetURL,
			"attempts", task.Attempt+1,
		)
	}
}
