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

// Package models defines the data structures shared across the courier service.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Source identifies which extraction path produced a result.
type Source string

const (
	SourceRegex    Source = "regex"
	SourceFallback Source = "fallback"
)

// LinkKind classifies an extracted link by its purpose.
type LinkKind string

const (
	LinkVerification  LinkKind = "verification"
	LinkResetPassword LinkKind = "reset_password"
	LinkConfirmation  LinkKind = "confirmation"
	LinkUnsubscribe   LinkKind = "unsubscribe"
	LinkMagic         LinkKind = "magic_link"
	LinkGeneric       LinkKind = "generic"
)

// ParseLinkKind maps a free-form kind string to a LinkKind.
// Unrecognised values fall back to LinkGeneric.
func ParseLinkKind(s string) LinkKind {
	switch LinkKind(s) {
	case LinkVerification, LinkResetPassword, LinkConfirmation, LinkUnsubscribe, LinkMagic, LinkGeneric:
		return LinkKind(s)
	}
	return LinkGeneric
}

// ExtractedCode is a one-time code found in email content.
type ExtractedCode struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Context    string  `json:"context"`
	Position   int     `json:"position"`
	Source     Source  `json:"source"`
}

// ExtractedLink is an actionable URL found in email content.
type ExtractedLink struct {
	URL        string   `json:"url"`
	Kind       LinkKind `json:"kind"`
	Confidence float64  `json:"confidence"`
	AnchorText string   `json:"anchor_text"`
	Context    string   `json:"context"`
	Source     Source   `json:"source"`
}

// ParseResult is the aggregate output of one parse call. It is returned to
// the caller and never persisted.
type ParseResult struct {
	Codes          []ExtractedCode `json:"codes"`
	Links          []ExtractedLink `json:"links"`
	Intent         string          `json:"intent"`
	RequiresAction bool            `json:"requires_action"`
	Summary        string          `json:"summary"`
	Diagnostics    map[string]any  `json:"diagnostics"`
}

// EventType enumerates mailbox lifecycle transitions. Inbound type strings
// that do not map to a known member become EventUnknown rather than leaking
// free-form values into the event stream.
type EventType string

const (
	EventMessageQueued    EventType = "message.queued"
	EventMessageSent      EventType = "message.sent"
	EventMessageFailed    EventType = "message.failed"
	EventMessageDelivered EventType = "message.delivered"
	EventMessageBounced   EventType = "message.bounced"
	EventMessageReceived  EventType = "message.received"
	EventMessageParsed    EventType = "message.parsed"
	EventUnknown          EventType = "unknown"
)

// MapEventType converts a free-form event type string into the closed enum.
func MapEventType(s string) EventType {
	switch EventType(s) {
	case EventMessageQueued, EventMessageSent, EventMessageFailed,
		EventMessageDelivered, EventMessageBounced, EventMessageReceived,
		EventMessageParsed:
		return EventType(s)
	}
	return EventUnknown
}

// Event is an immutable record of a mailbox lifecycle transition. Once
// committed it is never updated or deleted.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	MailboxID uuid.UUID       `json:"mailbox_id"`
	MessageID uuid.UUID       `json:"message_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// WebhookRegistration is a tenant-configured endpoint subscribed to a
// mailbox's events. Registrations are managed elsewhere; courier only reads
// active ones.
type WebhookRegistration struct {
	ID        uuid.UUID `json:"id"`
	MailboxID uuid.UUID `json:"mailbox_id"`
	TargetURL string    `json:"target_url"`
	Secret    string    `json:"secret,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryTask is one in-flight webhook delivery. The attempt counter is the
// only mutable state; it travels with the task through the queue.
type DeliveryTask struct {
	ID        string          `json:"id"`
	EventID   string          `json:"event_id"`
	TargetURL string          `json:"target_url"`
	Secret    string          `json:"secret,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
}

// InboundMessage is the provider-delivered inbound email handed to the
// ingestion endpoint.
type InboundMessage struct {
	MailboxID         uuid.UUID `json:"mailbox_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	From              string    `json:"from"`
	To                string    `json:"to"`
	Subject           string    `json:"subject"`
	Text              string    `json:"text"`
	HTML              string    `json:"html,omitempty"`
}
