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

// Package replay re-enqueues webhook deliveries for events already committed
// to the log. Deliveries are at-least-once, so replaying a window is always
// safe for receivers that dedup on event ID.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentpost/courier/internal/models"
)

// EventSource lists committed events and their webhook registrations.
type EventSource interface {
	ListEventsSince(ctx context.Context, since time.Time) ([]models.Event, error)
	ListActiveWebhooks(ctx context.Context, mailboxID uuid.UUID) ([]models.WebhookRegistration, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Scheduler enqueues delivery tasks.
type Scheduler interface {
	Schedule(ctx context.Context, task models.DeliveryTask) error
}

// Request defines the scope of a replay run.
type Request struct {
	Since   time.Duration // lookback window (e.g. 24h)
	EventID uuid.UUID     // replay a single event instead of a window
}

// Result summarises a completed replay run.
type Result struct {
	Events    int
	Scheduled int
	Skipped   int // events whose mailbox has no active webhooks
	Errors    int
	Elapsed   time.Duration
}

// Runner re-enqueues deliveries for committed events.
type Runner struct {
	source    EventSource
	scheduler Scheduler
}

// NewRunner creates a replay runner.
func NewRunner(source EventSource, scheduler Scheduler) *Runner {
	return &Runner{source: source, scheduler: scheduler}
}

// Run schedules fresh deliveries for every event in the request's scope.
// Replayed tasks start at attempt zero with the full retry budget.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	events, err := r.listEvents(ctx, req)
	if err != nil {
		return nil, err
	}

	slog.Info("starting delivery replay", "events", len(events))

	result := &Result{Events: len(events)}

	// Webhook registrations rarely change mid-run; cache per mailbox.
	hooks := make(map[uuid.UUID][]models.WebhookRegistration)

	for _, ev := range events {
		regs, ok := hooks[ev.MailboxID]
		if !ok {
			regs, err = r.source.ListActiveWebhooks(ctx, ev.MailboxID)
			if err != nil {
				slog.Error("webhook lookup failed",
					"mailbox_id", ev.MailboxID,
					"event_id", ev.ID,
					"error", err,
				)
				result.Errors++
				continue
			}
			hooks[ev.MailboxID] = regs
		}

		if len(regs) == 0 {
			result.Skipped++
			continue
		}

		for _, reg := range regs {
			task := models.DeliveryTask{
				ID:        uuid.NewString(),
				EventID:   ev.ID.String(),
				TargetURL: reg.TargetURL,
				Secret:    reg.Secret,
				Payload:   ev.Payload,
			}
			if err := r.scheduler.Schedule(ctx, task); err != nil {
				slog.Error("failed to enqueue replayed delivery",
					"event_id", ev.ID,
					"target_url", reg.TargetURL,
					"error", err,
				)
				result.Errors++
				continue
			}
			result.Scheduled++
		}
	}

	result.Elapsed = time.Since(start)

	slog.Info("delivery replay complete",
		"events", result.Events,
		"scheduled", result.Scheduled,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

func (r *Runner) listEvents(ctx context.Context, req Request) ([]models.Event, error) {
	if req.EventID != uuid.Nil {
		ev, err := r.source.GetEvent(ctx, req.EventID)
		if err != nil {
			return nil, fmt.Errorf("get event %s: %w", req.EventID, err)
		}
		if ev == nil {
			return nil, fmt.Errorf("event %s not found", req.EventID)
		}
		return []models.Event{*ev}, nil
	}

	if req.Since <= 0 {
		return nil, fmt.Errorf("replay window must be positive")
	}

	since := time.Now().UTC().Add(-req.Since)
	events, err := r.source.ListEventsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list events since %s: %w", since.Format(time.RFC3339), err)
	}
	return events, nil
}
