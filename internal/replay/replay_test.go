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

package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agentpost/courier/internal/models"
)

// --- Mock event source ---

type mockSource struct {
	events    []models.Event
	hooks     map[uuid.UUID][]models.WebhookRegistration
	hookErr   error
	hookCalls int
}

func (m *mockSource) ListEventsSince(context.Context, time.Time) ([]models.Event, error) {
	return m.events, nil
}

func (m *mockSource) ListActiveWebhooks(_ context.Context, mailboxID uuid.UUID) ([]models.WebhookRegistration, error) {
	m.hookCalls++
	if m.hookErr != nil {
		return nil, m.hookErr
	}
	return m.hooks[mailboxID], nil
}

func (m *mockSource) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	for _, ev := range m.events {
		if ev.ID == id {
			return &ev, nil
		}
	}
	return nil, nil
}

// --- Mock scheduler ---

type mockScheduler struct {
	mu    sync.Mutex
	tasks []models.DeliveryTask
	err   error
}

func (m *mockScheduler) Schedule(_ context.Context, task models.DeliveryTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.tasks = append(m.tasks, task)
	return nil
}

func makeEvent(mailboxID uuid.UUID) models.Event {
	return models.Event{
		ID:        uuid.New(),
		Type:      models.EventMessageReceived,
		MailboxID: mailboxID,
		MessageID: uuid.New(),
		Payload:   json.RawMessage(`{"subject": "hi"}`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestRun_SchedulesPerWebhook(t *testing.T) {
	mailboxID := uuid.New()
	source := &mockSource{
		events: []models.Event{makeEvent(mailboxID), makeEvent(mailboxID)},
		hooks: map[uuid.UUID][]models.WebhookRegistration{
			mailboxID: {
				{ID: uuid.New(), TargetURL: "https://a.example.com/hook", Secret: "s1", Active: true},
				{ID: uuid.New(), TargetURL: "https://b.example.com/hook", Secret: "s2", Active: true},
			},
		},
	}
	scheduler := &mockScheduler{}

	result, err := NewRunner(source, scheduler).Run(context.Background(), Request{Since: time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Events != 2 {
		t.Errorf("events = %d, want 2", result.Events)
	}
	if result.Scheduled != 4 {
		t.Errorf("scheduled = %d, want 4", result.Scheduled)
	}
	if len(scheduler.tasks) != 4 {
		t.Fatalf("tasks = %d, want 4", len(scheduler.tasks))
	}

	// Replayed tasks start with a fresh retry budget.
	for _, task := range scheduler.tasks {
		if task.Attempt != 0 {
			t.Errorf("attempt = %d, want 0", task.Attempt)
		}
		if task.EventID == "" || task.ID == "" {
			t.Errorf("task missing IDs: %+v", task)
		}
	}
}

func TestRun_CachesWebhookLookups(t *testing.T) {
	mailboxID := uuid.New()
	source := &mockSource{
		events: []models.Event{makeEvent(mailboxID), makeEvent(mailboxID), makeEvent(mailboxID)},
		hooks: map[uuid.UUID][]models.WebhookRegistration{
			mailboxID: {{ID: uuid.New(), TargetURL: "https://a.example.com/hook", Active: true}},
		},
	}

	_, err := NewRunner(source, &mockScheduler{}).Run(context.Background(), Request{Since: time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if source.hookCalls != 1 {
		t.Errorf("hook lookups = %d, want 1", source.hookCalls)
	}
}

func TestRun_SkipsMailboxWithoutWebhooks(t *testing.T) {
	source := &mockSource{
		events: []models.Event{makeEvent(uuid.New())},
		hooks:  map[uuid.UUID][]models.WebhookRegistration{},
	}
	scheduler := &mockScheduler{}

	result, err := NewRunner(source, scheduler).Run(context.Background(), Request{Since: time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", result.Skipped)
	}
	if len(scheduler.tasks) != 0 {
		t.Errorf("tasks = %d, want 0", len(scheduler.tasks))
	}
}

func TestRun_SingleEvent(t *testing.T) {
	mailboxID := uuid.New()
	ev := makeEvent(mailboxID)
	source := &mockSource{
		events: []models.Event{ev, makeEvent(mailboxID)},
		hooks: map[uuid.UUID][]models.WebhookRegistration{
			mailboxID: {{ID: uuid.New(), TargetURL: "https://a.example.com/hook", Active: true}},
		},
	}
	scheduler := &mockScheduler{}

	result, err := NewRunner(source, scheduler).Run(context.Background(), Request{EventID: ev.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Events != 1 {
		t.Errorf("events = %d, want 1", result.Events)
	}
	if len(scheduler.tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(scheduler.tasks))
	}
	if scheduler.tasks[0].EventID != ev.ID.String() {
		t.Errorf("event_id = %q, want %q", scheduler.tasks[0].EventID, ev.ID)
	}
}

func TestRun_UnknownEvent(t *testing.T) {
	source := &mockSource{}

	_, err := NewRunner(source, &mockScheduler{}).Run(context.Background(), Request{EventID: uuid.New()})
	if err == nil {
		t.Fatal("expected error for unknown event")
	}
}

func TestRun_LookupErrorCounted(t *testing.T) {
	source := &mockSource{
		events:  []models.Event{makeEvent(uuid.New())},
		hookErr: fmt.Errorf("connection refused"),
	}

	result, err := NewRunner(source, &mockScheduler{}).Run(context.Background(), Request{Since: time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Errors != 1 {
		t.Errorf("errors = %d, want 1", result.Errors)
	}
}

func TestRun_RejectsEmptyWindow(t *testing.T) {
	_, err := NewRunner(&mockSource{}, &mockScheduler{}).Run(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error for empty window")
	}
}
