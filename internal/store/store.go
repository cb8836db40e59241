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

// Package store provides the Postgres-backed storage collaborator for the
// event pipeline: durable event rows and read access to webhook
// registrations. Registrations are written by the external management
// surface; courier never mutates them.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentpost/courier/internal/models"
)

// Store provides event persistence and webhook registration lookups.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given Postgres pool. It ensures the
// required tables exist on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure event schema: %w", err)
	}
	slog.Info("event store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id          UUID PRIMARY KEY,
			event_type  TEXT NOT NULL,
			mailbox_id  UUID NOT NULL,
			message_id  UUID NOT NULL,
			payload     JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_events_mailbox ON events(mailbox_id);
		CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);

		CREATE TABLE IF NOT EXISTS webhook_registrations (
			id          UUID PRIMARY KEY,
			mailbox_id  UUID NOT NULL,
			target_url  TEXT NOT NULL,
			secret      TEXT DEFAULT '',
			active      BOOLEAN DEFAULT TRUE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_registrations_mailbox ON webhook_registrations(mailbox_id, active);
	`)
	return err
}

// InsertEvent durably persists one event row and returns the committed
// event. Events are immutable; there is no update path.
func (s *Store) InsertEvent(ctx context.Context, typ models.EventType, mailboxID, messageID uuid.UUID, payload json.RawMessage) (*models.Event, error) {
	ev := models.Event{
		ID:        uuid.New(),
		Type:      typ,
		MailboxID: mailboxID,
		MessageID: messageID,
		Payload:   payload,
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO events (id, event_type, mailbox_id, message_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, ev.ID, string(ev.Type), ev.MailboxID, ev.MessageID, payload)

	if err := row.Scan(&ev.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	return &ev, nil
}

// ListActiveWebhooks returns the active registrations subscribed to a
// mailbox's events.
func (s *Store) ListActiveWebhooks(ctx context.Context, mailboxID uuid.UUID) ([]models.WebhookRegistration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, mailbox_id, target_url, secret, active, created_at
		FROM webhook_registrations
		WHERE mailbox_id = $1 AND active
		ORDER BY created_at
	`, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("list active webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []models.WebhookRegistration
	for rows.Next() {
		var h models.WebhookRegistration
		if err := rows.Scan(&h.ID, &h.MailboxID, &h.TargetURL, &h.Secret, &h.Active, &h.CreatedAt); err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}
	return hooks, rows.Err()
}

// GetEvent retrieves a single event by id. Missing events return (nil, nil).
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, event_type, mailbox_id, message_id, payload, created_at
		FROM events
		WHERE id = $1
	`, id)
	return scanEvent(row)
}

// ListEventsSince returns events created at or after the given time,
// oldest first. Used by the redelivery tool.
func (s *Store) ListEventsSince(ctx context.Context, since time.Time) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, mailbox_id, message_id, payload, created_at
		FROM events
		WHERE created_at >= $1
		ORDER BY created_at
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list events since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var typ string
		if err := rows.Scan(&ev.ID, &typ, &ev.MailboxID, &ev.MessageID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = models.MapEventType(typ)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var ev models.Event
	var typ string
	err := row.Scan(&ev.ID, &typ, &ev.MailboxID, &ev.MessageID, &ev.Payload, &ev.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ev.Type = models.MapEventType(typ)
	return &ev, nil
}
