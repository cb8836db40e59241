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

// Package parser combines the regex extraction engine with the bounded
// completion-service fallback, merges and deduplicates their results, and
// derives the message intent and summary. A Parser is an explicit service
// instance constructed once at process start and injected into call sites.
package parser

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agentpost/courier/internal/extract"
	"github.com/agentpost/courier/internal/models"
)

// Fallback is the completion-service collaborator. Implementations degrade
// to empty results on failure and never return errors.
type Fallback interface {
	ExtractCodes(ctx context.Context, corpus string) []models.ExtractedCode
	ExtractLinks(ctx context.Context, corpus string) []models.ExtractedLink
}

// fallbackThreshold is the best-code confidence below which the fallback is
// consulted even though the engine found something.
const fallbackThreshold = 0.7

// Parser is the content-parsing service.
type Parser struct {
	engine   *extract.Engine
	fallback Fallback // nil disables the fallback path entirely
}

// New creates a parser. Pass a nil fallback to run regex-only.
func New(engine *extract.Engine, fb Fallback) *Parser {
	return &Parser{engine: engine, fallback: fb}
}

// Parse extracts actionable content from an email. The fallback runs only
// when allowFallback is set and the engine found no codes, only low-confidence
// codes, or no links — the link-emptiness arm is intentionally part of the
// same trigger, so a message with strong codes but no links still consults
// the fallback for link discovery.
func (p *Parser) Parse(ctx context.Context, text, html string, allowFallback bool) models.ParseResult {
	corpus := p.engine.Corpus(text, html)

	engineCodes := p.engine.ExtractCodes(corpus)
	engineLinks := p.engine.ExtractLinks(corpus)

	needsFallback := allowFallback && p.fallback != nil &&
		(len(engineCodes) == 0 || bestConfidence(engineCodes) < fallbackThreshold || len(engineLinks) == 0)

	var fbCodes []models.ExtractedCode
	var fbLinks []models.ExtractedLink
	if needsFallback {
		fbCodes = p.fallback.ExtractCodes(ctx, corpus)
		fbLinks = p.fallback.ExtractLinks(ctx, corpus)
	}

	codes := mergeCodes(engineCodes, fbCodes)
	links := mergeLinks(engineLinks, fbLinks)

	intent := deriveIntent(corpus, codes, links)
	requiresAction := len(codes) > 0 || anyActionLink(links)

	return models.ParseResult{
		Codes:          codes,
		Links:          links,
		Intent:         intent,
		RequiresAction: requiresAction,
		Summary:        summarize(codes, links, intent),
		Diagnostics: map[string]any{
			"regex_code_count":    len(engineCodes),
			"regex_link_count":    len(engineLinks),
			"fallback_code_count": len(fbCodes),
			"fallback_link_count": len(fbLinks),
			"used_fallback":       needsFallback,
		},
	}
}

func bestConfidence(codes []models.ExtractedCode) float64 {
	best := 0.0
	for _, c := range codes {
		if c.Confidence > best {
			best = c.Confidence
		}
	}
	return best
}

// mergeCodes deduplicates by code value. The engine's result stands unless
// the fallback's confidence for the same value is strictly greater.
func mergeCodes(engine, fallback []models.ExtractedCode) []models.ExtractedCode {
	seen := make(map[string]models.ExtractedCode, len(engine))
	order := make([]string, 0, len(engine))

	for _, c := range engine {
		if _, ok := seen[c.Value]; !ok {
			order = append(order, c.Value)
		}
		seen[c.Value] = c
	}
	for _, c := range fallback {
		existing, ok := seen[c.Value]
		if !ok {
			order = append(order, c.Value)
			seen[c.Value] = c
		} else if c.Confidence > existing.Confidence {
			seen[c.Value] = c
		}
	}

	merged := make([]models.ExtractedCode, 0, len(order))
	for _, v := range order {
		merged = append(merged, seen[v])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})
	return merged
}

// mergeLinks deduplicates by URL with the same precedence rule as mergeCodes.
func mergeLinks(engine, fallback []models.ExtractedLink) []models.ExtractedLink {
	seen := make(map[string]models.ExtractedLink, len(engine))
	order := make([]string, 0, len(engine))

	for _, l := range engine {
		if _, ok := seen[l.URL]; !ok {
			order = append(order, l.URL)
		}
		seen[l.URL] = l
	}
	for _, l := range fallback {
		existing, ok := seen[l.URL]
		if !ok {
			order = append(order, l.URL)
			seen[l.URL] = l
		} else if l.Confidence > existing.Confidence {
			seen[l.URL] = l
		}
	}

	merged := make([]models.ExtractedLink, 0, len(order))
	for _, u := range order {
		merged = append(merged, seen[u])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})
	return merged
}

// deriveIntent picks the first matching intent rule. Code presence dominates;
// otherwise the highest-confidence link's kind decides.
func deriveIntent(corpus string, codes []models.ExtractedCode, links []models.ExtractedLink) string {
	lower := strings.ToLower(corpus)

	if len(codes) > 0 {
		if strings.Contains(lower, "login") || strings.Contains(lower, "sign in") {
			return "authentication"
		}
		if strings.Contains(lower, "verify") || strings.Contains(lower, "confirm") {
			return "verification"
		}
		if strings.Contains(lower, "reset") || strings.Contains(lower, "password") {
			return "password_reset"
		}
		return "authentication"
	}

	if len(links) > 0 {
		switch links[0].Kind {
		case models.LinkVerification:
			return "verification"
		case models.LinkResetPassword:
			return "password_reset"
		case models.LinkConfirmation:
			return "confirmation"
		case models.LinkMagic:
			return "magic_link_auth"
		}
	}

	return "unknown"
}

func anyActionLink(links []models.ExtractedLink) bool {
	for _, l := range links {
		if l.Kind != models.LinkUnsubscribe {
			return true
		}
	}
	return false
}

// summarize renders the human-readable result summary.
func summarize(codes []models.ExtractedCode, links []models.ExtractedLink, intent string) string {
	var parts []string

	if len(codes) > 0 {
		values := make([]string, 0, 3)
		for _, c := range codes {
			values = append(values, c.Value)
			if len(values) == 3 {
				break
			}
		}
		parts = append(parts, fmt.Sprintf("Found %d OTP code(s): %s", len(codes), strings.Join(values, ", ")))
	}

	actionLinks := 0
	for _, l := range links {
		if l.Kind != models.LinkUnsubscribe {
			actionLinks++
		}
	}
	if actionLinks > 0 {
		parts = append(parts, fmt.Sprintf("Found %d action link(s)", actionLinks))
	}

	if intent != "" && intent != "unknown" {
		parts = append(parts, fmt.Sprintf("Intent: %s", strings.ReplaceAll(intent, "_", " ")))
	}

	if len(parts) == 0 {
		return "No actionable items found"
	}
	return strings.Join(parts, ". ")
}
