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

// Package extract implements the deterministic content-extraction engine:
// an ordered regex cascade that pulls one-time codes and actionable links
// out of email content and scores each match by confidence. The engine is
// pure and holds no mutable state, so a single instance is safe for
// concurrent use across requests.
package extract

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// Engine evaluates the pattern cascades. Construct once and inject where
// needed; there is no package-level instance.
type Engine struct{}

// NewEngine creates an extraction engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Corpus combines plain text and HTML (tags stripped) into the single
// search corpus all patterns run against.
func (e *Engine) Corpus(text, html string) string {
	if html == "" {
		return text
	}
	clean := tagPattern.ReplaceAllString(html, " ")
	return text + "\n\n" + clean
}

// clamp bounds a confidence score to [0, 1].
func clamp(c float64) float64 {
	if c > 1.0 {
		return 1.0
	}
	if c < 0.0 {
		return 0.0
	}
	return c
}

// boost raises confidence by delta, capped at 1.0.
func boost(c, delta float64) float64 {
	if c+delta > 1.0 {
		return 1.0
	}
	return c + delta
}

// contextWindow returns the trimmed slice of corpus around [start, end).
func contextWindow(corpus string, start, end, radius int) string {
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(corpus) {
		hi = len(corpus)
	}
	return strings.TrimSpace(corpus[lo:hi])
}

// containsAny reports whether s contains any of the given substrings.
// Callers pass s already lower-cased.
func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
