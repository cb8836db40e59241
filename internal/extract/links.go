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

type linkPattern struct {
	re   *regexp.Regexp
	kind models.LinkKind
	base float64
}

var linkPatterns = []linkPattern{
	// Verification / confirmation
	{regexp.MustCompile(`(?i)https?://[^\s]+/verify[^\s]*`), models.LinkVerification, 0.95},
	{regexp.MustCompile(`(?i)https?://[^\s]+/confirm[^\s]*`), models.LinkConfirmation, 0.95},
	{regexp.MustCompile(`(?i)https?://[^\s]+/activate[^\s]*`), models.LinkVerification, 0.95},
	{regexp.MustCompile(`(?i)https?://[^\s]+/validation[^\s]*`), models.LinkVerification, 0.90},
	// Password reset
	{regexp.MustCompile(`(?i)https?://[^\s]+/reset[^\s]*`), models.LinkResetPassword, 0.95},
	{regexp.MustCompile(`(?i)https?://[^\s]+/password[^\s]*`), models.LinkResetPassword, 0.85},
	// Magic links / one-time access
	{regexp.MustCompile(`(?i)https?://[^\s]+/auth[^\s]*token[^\s]*`), models.LinkMagic, 0.90},
	{regexp.MustCompile(`(?i)https?://[^\s]+/magic[^\s]*`), models.LinkMagic, 0.90},
	// Unsubscribe
	{regexp.MustCompile(`(?i)https?://[^\s]+/unsubscribe[^\s]*`), models.LinkUnsubscribe, 0.95},
	// Generic HTTPS links (low confidence)
	{regexp.MustCompile(`(?i)https?://[^\s<>"]+`), models.LinkGeneric, 0.50},
}

var trailingPunct = regexp.MustCompile(`[.,;!?)\]}>]+$`)

// actionWords signal that a link expects user interaction.
var actionWords = []string{
	"click",
	"verify",
	"confirm",
	"activate",
	"complete",
	"continue",
	"get started",
	"sign in",
}

// genericAnchors are anchor phrases that carry no information about the link.
var genericAnchors = []string{"click here", "here", "link", "this link"}

var anchorHeuristics = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(verify|confirm|click here|activate|reset)`),
	regexp.MustCompile(`(?i)(complete|continue|get started)`),
}

const linkContextRadius = 100

// ExtractLinks runs the link cascade over the corpus. Trailing punctuation is
// stripped from matched URLs; results below 0.5 confidence are discarded; the
// first pattern to match a URL wins; survivors are sorted by confidence
// descending.
func (e *Engine) ExtractLinks(corpus string) []models.ExtractedLink {
	var links []models.ExtractedLink
	seen := make(map[string]bool)

	for _, p := range linkPatterns {
		for _, m := range p.re.FindAllStringIndex(corpus, -1) {
			url := trailingPunct.ReplaceAllString(corpus[m[0]:m[1]], "")
			if seen[url] {
				continue
			}

			context := contextWindow(corpus, m[0], m[1], linkContextRadius)
			anchor := anchorText(corpus, m[0], url)
			confidence := adjustLinkConfidence(url, anchor, context, p.base, p.kind)

			if confidence < 0.5 {
				continue
			}

			links = append(links, models.ExtractedLink{
				URL:        url,
				Kind:       p.kind,
				Confidence: confidence,
				AnchorText: anchor,
				Context:    context,
				Source:     models.SourceRegex,
			})
			seen[url] = true
		}
	}

	sort.SliceStable(links, func(i, j int) bool {
		return links[i].Confidence > links[j].Confidence
	})

	return links
}

// anchorText derives display text for a URL: the inner text of an enclosing
// hyperlink tag when the corpus is HTML, otherwise a scan of the words just
// before the URL for action verbs.
func anchorText(corpus string, position int, url string) string {
	tag := regexp.MustCompile(`(?is)<a[^>]*href=["']?` + regexp.QuoteMeta(url) + `["']?[^>]*>(.*?)</a>`)
	if m := tag.FindStringSubmatch(corpus); m != nil {
		return strings.TrimSpace(m[1])
	}

	lo := position - 30
	if lo < 0 {
		lo = 0
	}
	nearby := strings.TrimSpace(corpus[lo:position])

	for _, re := range anchorHeuristics {
		if m := re.FindStringSubmatch(nearby); m != nil {
			return m[1]
		}
	}

	return ""
}

// adjustLinkConfidence tunes the base confidence using context, anchor text,
// and the URL itself.
func adjustLinkConfidence(url, anchor, context string, base float64, kind models.LinkKind) float64 {
	confidence := base
	ctx := strings.ToLower(context)
	urlLower := strings.ToLower(url)
	anchorLower := strings.ToLower(anchor)

	if containsAny(ctx, actionWords) {
		confidence = boost(confidence, 0.10)
	}

	// Action words in the anchor are a stronger signal than in context
	if anchorLower != "" && containsAny(anchorLower, actionWords) {
		confidence = boost(confidence, 0.15)
	}

	if anchorLower != "" {
		switch kind {
		case models.LinkVerification:
			if containsAny(anchorLower, []string{"verify", "confirm", "activate"}) {
				confidence = boost(confidence, 0.10)
			}
		case models.LinkResetPassword:
			if containsAny(anchorLower, []string{"reset", "password", "forgot"}) {
				confidence = boost(confidence, 0.10)
			}
		case models.LinkMagic:
			if containsAny(anchorLower, []string{"sign in", "login", "access"}) {
				confidence = boost(confidence, 0.10)
			}
		}
	}

	if anchorLower != "" {
		for _, g := range genericAnchors {
			if anchorLower == g {
				confidence *= 0.9
				break
			}
		}
	}

	// Kind keyword appearing in the URL path corroborates the classification
	if kind != models.LinkGeneric && strings.Contains(urlLower, string(kind)) {
		confidence = boost(confidence, 0.05)
	}

	// Generic links with no action indicator anywhere are usually noise
	if kind == models.LinkGeneric {
		if !containsAny(ctx, actionWords) && (anchorLower == "" || !containsAny(anchorLower, actionWords)) {
			confidence *= 0.5
		}
	}

	if strings.HasPrefix(url, "https://") {
		confidence = boost(confidence, 0.05)
	}

	return clamp(confidence)
}
