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

// Package events records mailbox lifecycle events and fans them out to
// subscribed webhooks. Recording is a strict two-phase sequence: phase 1
// durably commits the event row; phase 2, only on phase-1 success, enqueues
// one independent delivery task per active registration. A phase-2 failure
// is reported but never retracts the committed event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agentpost/courier/internal/models"
)

// EventStore is the storage collaborator. The event insert must be committed
// before webhooks are looked up.
type EventStore interface {
	InsertEvent(ctx context.Context, typ models.EventType, mailboxID, messageID uuid.UUID, payload json.RawMessage) (*models.Event, error)
	ListActiveWebhooks(ctx context.Context, mailboxID uuid.UUID) ([]models.WebhookRegistration, error)
}

// Scheduler is the task-scheduling collaborator for delivery tasks.
type Scheduler interface {
	Schedule(ctx context.Context, task models.DeliveryTask) error
}

// Recorder persists events and schedules webhook deliveries.
type Recorder struct {
	store     EventStore
	scheduler Scheduler
}

// NewRecorder creates an event recorder.
func NewRecorder(store EventStore, scheduler Scheduler) *Recorder {
	return &Recorder{store: store, scheduler: scheduler}
}

// Record persists one event and enqueues a delivery task for every active
// webhook registered on the mailbox.
//
// A storage failure in phase 1 aborts: nothing is scheduled and the error
// surfaces to the caller. A registration lookup failure in phase 2 also
// surfaces as an error, but the committed event is returned alongside it —
// there is no compensating rollback. Individual enqueue failures are logged
// and do not fail the call.
func (r *Recorder) Record(ctx context.Context, mailboxID, messageID uuid.UUID, typ models.EventType, payload json.RawMessage) (*models.Event, error) {
	ev, err := r.store.InsertEvent(ctx, typ, mailboxID, messageID, payload)
	if err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}

	hooks, err := r.store.ListActiveWebhooks(ctx, mailboxID)
	if err != nil {
		return ev, fmt.Errorf("event %s committed but webhook lookup failed: %w", ev.ID, err)
	}

	for _, h := range hooks {
		task := models.DeliveryTask{
			ID:        uuid.NewString(),
			EventID:   ev.ID.String(),
			TargetURL: h.TargetURL,
			Secret:    h.Secret,
			Payload:   ev.Payload,
		}

		if err := r.scheduler.Schedule(ctx, task); err != nil {
			slog.Error("failed to enqueue webhook delivery",
				"event_id", ev.ID,
				"target_url", h.TargetURL,
				"error", err,
			)
			continue
		}

		slog.Debug("webhook delivery enqueued",
			"event_id", ev.ID,
			"task_id", task.ID,
			"target_url", h.TargetURL,
		)
	}

	slog.Info("event recorded",
		"event_id", ev.ID,
		"type", ev.Type,
		"mailbox_id", mailboxID,
		"webhooks", len(hooks),
	)

	return ev, nil
}
