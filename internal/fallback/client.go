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

// Package fallback calls an external completion service to extract codes and
// links when the regex engine's results are insufficient. Every failure mode
// (network error, timeout, malformed response, invalid items) degrades to an
// empty result — the fallback never fails the overall parse.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/agentpost/courier/internal/models"
)

const (
	// maxInputLength bounds the text submitted to the completion service.
	maxInputLength = 10000

	truncationMarker = "\n[... truncated for safety]"

	maxCodes = 10
	maxLinks = 20

	maxURLLength         = 2000
	maxCodeContextLength = 100
	maxLinkTextLength    = 200
	maxLinkContextLength = 200

	defaultItemConfidence = 0.8
)

// instructionDelimiters are literal sequences stripped from inbound email
// text so it cannot masquerade as instruction boundaries in the prompt.
var instructionDelimiters = []string{"</user>", "<assistant>", "Human:", "Assistant:"}

// Config holds the completion service settings.
type Config struct {
	BaseURL   string
	Token     string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client submits deterministic structured-extraction requests to the
// completion service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	maxTokens  int
}

// NewClient creates a fallback client. The bearer token rides on every
// request via a static oauth2 token source.
func NewClient(ctx context.Context, cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = timeout

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxTokens:  maxTokens,
	}
}

// completionRequest is the wire format of one extraction request.
// Temperature is always zero: identical inputs should yield identical output.
type completionRequest struct {
	Model       string              `json:"model"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature"`
	Messages    []completionMessage `json:"messages"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

const codesPrompt = `Extract all OTP codes, verification codes, or passcodes from the email content below.

Instructions:
- Return ONLY a JSON array, nothing else
- Each object should have: code (numeric string), confidence (0.0-1.0), context (max 50 chars)
- Only include actual verification codes, NOT order numbers, invoice numbers, tracking numbers, or dates
- If no codes found, return empty array: []

Example output format:
[{"code": "123456", "confidence": 0.95, "context": "Your verification code is 123456"}]

<email_content>
%s
</email_content>

JSON array:`

const linksPrompt = `Extract all verification, confirmation, or action links from the email content below.

Instructions:
- Return ONLY a JSON array, nothing else
- Each object should have: url, link_type, confidence (0.0-1.0), text, context (max 100 chars)
- link_type must be one of: verification, confirmation, reset_password, magic_link, unsubscribe, generic
- Focus on actionable links that require user interaction
- Skip footer links, social media links, privacy policy links unless specifically for verification
- If no links found, return empty array: []

Example output format:
[{"url": "https://example.com/verify/abc", "link_type": "verification", "confidence": 0.95, "text": "Verify email", "context": "Click to verify"}]

<email_content>
%s
</email_content>

JSON array:`

// ExtractCodes asks the completion service for candidate codes in the
// corpus. Returns an empty slice on any failure.
func (c *Client) ExtractCodes(ctx context.Context, corpus string) []models.ExtractedCode {
	items := c.extractArray(ctx, fmt.Sprintf(codesPrompt, sanitize(corpus)), maxCodes)

	var codes []models.ExtractedCode
	for _, item := range items {
		value := asString(item["code"])
		if !allDigits(value) || len(value) < 4 || len(value) > 8 {
			continue
		}

		codes = append(codes, models.ExtractedCode{
			Value:      value,
			Confidence: clampConfidence(asFloat(item["confidence"], defaultItemConfidence)),
			Context:    truncate(asString(item["context"]), maxCodeContextLength),
			Position:   -1,
			Source:     models.SourceFallback,
		})
	}
	return codes
}

// ExtractLinks asks the completion service for candidate links in the
// corpus. Returns an empty slice on any failure.
func (c *Client) ExtractLinks(ctx context.Context, corpus string) []models.ExtractedLink {
	items := c.extractArray(ctx, fmt.Sprintf(linksPrompt, sanitize(corpus)), maxLinks)

	var links []models.ExtractedLink
	for _, item := range items {
		url := asString(item["url"])
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			continue
		}
		if len(url) > maxURLLength {
			continue
		}

		links = append(links, models.ExtractedLink{
			URL:        url,
			Kind:       models.ParseLinkKind(asString(item["link_type"])),
			Confidence: clampConfidence(asFloat(item["confidence"], defaultItemConfidence)),
			AnchorText: truncate(asString(item["text"]), maxLinkTextLength),
			Context:    truncate(asString(item["context"]), maxLinkContextLength),
			Source:     models.SourceFallback,
		})
	}
	return links
}

// extractArray performs one completion round trip and returns the parsed
// object items, capped at limit. Malformed responses yield nil.
func (c *Client) extractArray(ctx context.Context, prompt string, limit int) []map[string]any {
	text, err := c.complete(ctx, prompt)
	if err != nil {
		slog.Warn("fallback completion failed", "error", err)
		return nil
	}

	content := stripFences(text)
	if !strings.HasPrefix(content, "[") {
		slog.Warn("fallback returned non-array response", "prefix", truncate(content, 50))
		return nil
	}

	var raw []any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		slog.Warn("fallback response not valid JSON", "error", err)
		return nil
	}

	if len(raw) > limit {
		raw = raw[:limit]
	}

	var items []map[string]any
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items
}

// complete POSTs one deterministic completion request and returns the first
// content block's text.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: 0,
		Messages:    []completionMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion service returned HTTP %d: %s", resp.StatusCode, snippet)
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(cr.Content) == 0 {
		return "", fmt.Errorf("completion response has no content blocks")
	}

	return cr.Content[0].Text, nil
}

// sanitize truncates oversized input and strips instruction delimiters.
func sanitize(text string) string {
	if len(text) > maxInputLength {
		text = text[:maxInputLength] + truncationMarker
	}
	for _, d := range instructionDelimiters {
		text = strings.ReplaceAll(text, d, "")
	}
	return text
}

// stripFences removes markdown code-fence wrappers from a model response.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		// JSON numbers decode as float64; render integers losslessly
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%v", s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asFloat(v any, fallback float64) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return fallback
}

func clampConfidence(c float64) float64 {
	if c > 1.0 {
		return 1.0
	}
	if c < 0.0 {
		return 0.0
	}
	return c
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
