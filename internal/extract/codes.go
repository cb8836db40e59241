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

package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/agentpost/courier/internal/models"
)

// codePattern is one entry in the code cascade. Patterns run in order, most
// specific first. requires, when set, gates the pattern on the whole corpus —
// RE2 has no lookahead, so the "standalone digits near auth language" rule
// carries its keyword check out of band.
type codePattern struct {
	re       *regexp.Regexp
	base     float64
	requires *regexp.Regexp
}

var codePatterns = []codePattern{
	// Explicit OTP mentions with various formats
	{re: regexp.MustCompile(`(?i)(?:otp|code|verification code|passcode|pin)[\s:]+([0-9]{4,8})`), base: 0.95},
	{re: regexp.MustCompile(`(?i)your (?:otp|code|verification code) is[\s:]+([0-9]{4,8})`), base: 0.95},
	{re: regexp.MustCompile(`(?i)([0-9]{6})\s+is your (?:otp|code|verification code)`), base: 0.95},
	// Imperative phrasing
	{re: regexp.MustCompile(`(?i)(?:use|enter|type)\s+(?:code|otp)?[\s:]+([0-9]{4,8})`), base: 0.90},
	{re: regexp.MustCompile(`(?i)([0-9]{6})\s+to (?:verify|confirm|complete)`), base: 0.90},
	// Standalone codes when the corpus carries auth language
	{
		re:       regexp.MustCompile(`(?m)(?:^|\s)([0-9]{6})(?:\s|$)`),
		base:     0.85,
		requires: regexp.MustCompile(`(?i)verify|login|security|authentication`),
	},
	// HTML bold codes
	{re: regexp.MustCompile(`(?i)<strong[^>]*>([0-9]{4,8})</strong>`), base: 0.85},
	{re: regexp.MustCompile(`(?i)<b>([0-9]{4,8})</b>`), base: 0.85},
	// Bare digit runs (low confidence, many false positives)
	{re: regexp.MustCompile(`\b([0-9]{6})\b`), base: 0.60},
	{re: regexp.MustCompile(`\b([0-9]{4})\b`), base: 0.40},
}

// strongCodeKeywords boost confidence when present in the context window.
var strongCodeKeywords = []string{
	"verification",
	"verify",
	"otp",
	"one-time",
	"passcode",
	"authentication",
	"two-factor",
	"2fa",
	"security code",
	"confirmation code",
}

// weakCodeKeywords indicate commerce numbers masquerading as codes.
var weakCodeKeywords = []string{"invoice", "order", "reference", "tracking"}

const codeContextRadius = 50

// ExtractCodes runs the code cascade over the corpus. Results below 0.5
// confidence are discarded; the first pattern to match a value wins; the
// survivors come back sorted by confidence descending.
func (e *Engine) ExtractCodes(corpus string) []models.ExtractedCode {
	var codes []models.ExtractedCode
	seen := make(map[string]bool)

	for _, p := range codePatterns {
		if p.requires != nil && !p.requires.MatchString(corpus) {
			continue
		}

		for _, m := range p.re.FindAllStringSubmatchIndex(corpus, -1) {
			// m[2], m[3] bound capture group 1
			value := corpus[m[2]:m[3]]
			if seen[value] {
				continue
			}

			context := contextWindow(corpus, m[0], m[1], codeContextRadius)
			confidence := adjustCodeConfidence(value, context, p.base)

			if confidence < 0.5 {
				continue
			}

			codes = append(codes, models.ExtractedCode{
				Value:      value,
				Confidence: confidence,
				Context:    context,
				Position:   m[0],
				Source:     models.SourceRegex,
			})
			seen[value] = true
		}
	}

	sort.SliceStable(codes, func(i, j int) bool {
		return codes[i].Confidence > codes[j].Confidence
	})

	return codes
}

// adjustCodeConfidence tunes the base confidence using the context window
// and the shape of the code itself.
func adjustCodeConfidence(value, context string, base float64) float64 {
	confidence := base
	ctx := strings.ToLower(context)

	if containsAny(ctx, strongCodeKeywords) {
		confidence = boost(confidence, 0.10)
	}

	if containsAny(ctx, weakCodeKeywords) {
		confidence *= 0.7
	}

	// Six digits is the dominant OTP length
	if len(value) == 6 {
		confidence = boost(confidence, 0.05)
	}

	// Four-digit runs collide with years, PINs, street numbers
	if len(value) == 4 {
		confidence *= 0.6
	}

	// "1111" and friends are rarely real codes
	if distinctDigits(value) <= 2 {
		confidence *= 0.5
	}

	return clamp(confidence)
}

func distinctDigits(value string) int {
	var set [10]bool
	n := 0
	for _, r := range value {
		if r < '0' || r > '9' {
			continue
		}
		if !set[r-'0'] {
			set[r-'0'] = true
			n++
		}
	}
	return n
}
