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

// Package ingest handles provider inbound-email webhooks. When a mailbox
// receives a message, the email provider POSTs the parsed content to the
// registered endpoint. This handler extracts actionable content and records
// a message.received event, which fans out to the mailbox's webhooks.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/agentpost/courier/internal/models"
)

// Parser extracts codes, links and intent from message content.
type Parser interface {
	Parse(ctx context.Context, text, html string, allowFallback bool) models.ParseResult
}

// Recorder commits events and schedules webhook deliveries.
type Recorder interface {
	Record(ctx context.Context, mailboxID, messageID uuid.UUID, typ models.EventType, payload json.RawMessage) (*models.Event, error)
}

// Deduper filters repeat provider deliveries of the same message.
type Deduper interface {
	IsNew(ctx context.Context, providerMessageID string) (bool, error)
}

// Handler processes inbound email notifications and parse requests.
type Handler struct {
	parser   Parser
	recorder Recorder
	filter   Deduper
}

// NewHandler creates an inbound email handler.
func NewHandler(parser Parser, recorder Recorder, filter Deduper) *Handler {
	return &Handler{
		parser:   parser,
		recorder: recorder,
		filter:   filter,
	}
}

// receivedPayload is the message.received event body.
type receivedPayload struct {
	ProviderMessageID string             `json:"provider_message_id"`
	From              string             `json:"from"`
	To                string             `json:"to"`
	Subject           string             `json:"subject"`
	Parsed            models.ParseResult `json:"parsed"`
}

// ServeInbound handles provider inbound-email webhook requests.
//
// Providers expect a fast response and redeliver on timeouts, so we respond
// 202 Accepted as soon as the body decodes and process in the background.
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var msg models.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if msg.MailboxID == uuid.Nil || msg.ProviderMessageID == "" {
		http.Error(w, "mailbox_id and provider_message_id are required", http.StatusBadRequest)
		return
	}

	// Respond immediately — providers redeliver on slow responses
	w.WriteHeader(http.StatusAccepted)

	go h.processInbound(context.Background(), msg)
}

// processInbound dedups, parses and records a single inbound message.
func (h *Handler) processInbound(ctx context.Context, msg models.InboundMessage) {
	isNew, err := h.filter.IsNew(ctx, msg.ProviderMessageID)
	if err != nil {
		slog.Warn("dedup check failed, proceeding", "error", err)
	} else if !isNew {
		slog.Debug("skipping duplicate inbound message",
			"provider_message_id", msg.ProviderMessageID,
		)
		return
	}

	result := h.parser.Parse(ctx, msg.Text, msg.HTML, true)

	payload, err := json.Marshal(receivedPayload{
		ProviderMessageID: msg.ProviderMessageID,
		From:              msg.From,
		To:                msg.To,
		Subject:           msg.Subject,
		Parsed:            result,
	})
	if err != nil {
		slog.Error("failed to marshal received payload",
			"provider_message_id", msg.ProviderMessageID,
			"error", err,
		)
		return
	}

	messageID := uuid.New()
	ev, err := h.recorder.Record(ctx, msg.MailboxID, messageID, models.EventMessageReceived, payload)
	if err != nil && ev == nil {
		slog.Error("failed to record message.received",
			"mailbox_id", msg.MailboxID,
			"provider_message_id", msg.ProviderMessageID,
			"error", err,
		)
		return
	}
	if err != nil {
		// Event committed but fan-out setup failed; redeliver can pick it up.
		slog.Error("message.received recorded with degraded fan-out",
			"event_id", ev.ID,
			"error", err,
		)
		return
	}

	slog.Info("inbound message processed",
		"mailbox_id", msg.MailboxID,
		"event_id", ev.ID,
		"intent", result.Intent,
		"codes", len(result.Codes),
		"links", len(result.Links),
	)
}

// parseRequest is the POST /parse body.
type parseRequest struct {
	Text string `json:"text"`
	HTML string `json:"html"`
	// AllowFallback defaults to true when omitted.
	AllowFallback *bool `json:"allow_fallback"`
}

// ServeParse exposes content extraction directly, without recording events.
func (h *Handler) ServeParse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	allowFallback := true
	if req.AllowFallback != nil {
		allowFallback = *req.AllowFallback
	}

	result := h.parser.Parse(r.Context(), req.Text, req.HTML, allowFallback)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Error("failed to encode parse response", "error", err)
	}
}

// Serve starts the ingest HTTP server on the given port. The returned
// channel closes once the listener is accepting connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/inbound/email", handler.ServeInbound)
	mux.HandleFunc("/parse", handler.ServeParse)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind ingest port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("ingest server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("ingest server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("ingest server error", "error", err)
		}
	}()

	return ready, nil
}
