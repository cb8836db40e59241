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

package parser

import (
	"context"
	"testing"

	"github.com/agentpost/courier/internal/extract"
	"github.com/agentpost/courier/internal/models"
)

// --- Mock fallback ---

type mockFallback struct {
	codes  []models.ExtractedCode
	links  []models.ExtractedLink
	called int
}

func (m *mockFallback) ExtractCodes(_ context.Context, _ string) []models.ExtractedCode {
	m.called++
	return m.codes
}

func (m *mockFallback) ExtractLinks(_ context.Context, _ string) []models.ExtractedLink {
	return m.links
}

func newParser(fb Fallback) *Parser {
	return New(extract.NewEngine(), fb)
}

func TestParse_ExplicitCode(t *testing.T) {
	p := newParser(nil)
	res := p.Parse(context.Background(), "Your verification code is: 123456", "", false)

	if len(res.Codes) != 1 {
		t.Fatalf("expected 1 code, got %d", len(res.Codes))
	}
	if res.Codes[0].Value != "123456" {
		t.Errorf("value = %q", res.Codes[0].Value)
	}
	if res.Codes[0].Confidence < 0.95 {
		t.Errorf("confidence = %v, want >= 0.95", res.Codes[0].Confidence)
	}
	if !res.RequiresAction {
		t.Error("requires_action should be true")
	}
	// "verification" does not contain the literal substring "verify", so the
	// code-intent rules fall through to the default.
	if res.Intent != "authentication" {
		t.Errorf("intent = %q, want authentication", res.Intent)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	p := newParser(nil)
	res := p.Parse(context.Background(), "", "", false)

	if res.RequiresAction {
		t.Error("requires_action should be false")
	}
	if res.Intent != "unknown" {
		t.Errorf("intent = %q, want unknown", res.Intent)
	}
	if res.Summary != "No actionable items found" {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestParse_FallbackTrigger(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{
			// No codes, no links
			name: "empty trigger",
			text: "Hello there, nothing actionable.",
			want: true,
		},
		{
			// Strong code present but no links: the shared trigger still
			// fires for link discovery
			name: "strong code without links",
			text: "Your verification code is: 123456",
			want: true,
		},
		{
			// Strong code and a link: no fallback
			name: "code and link",
			text: "Your verification code is: 123456. Or click https://example.com/verify/x",
			want: false,
		},
		{
			// Low-confidence code only
			name: "weak code",
			text: "Flight 987654 at noon. More info https://example.com/info click here.",
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &mockFallback{}
			p := newParser(fb)
			res := p.Parse(context.Background(), tt.text, "", true)

			if got := fb.called > 0; got != tt.want {
				t.Errorf("fallback called = %v, want %v", got, tt.want)
			}
			if used, _ := res.Diagnostics["used_fallback"].(bool); used != tt.want {
				t.Errorf("diagnostics used_fallback = %v, want %v", used, tt.want)
			}
		})
	}
}

func TestParse_FallbackDisallowed(t *testing.T) {
	fb := &mockFallback{}
	p := newParser(fb)
	p.Parse(context.Background(), "nothing here", "", false)

	if fb.called != 0 {
		t.Error("fallback must not run when disallowed by the caller")
	}
}

func TestMergeCodes_FallbackOverridesOnHigherConfidence(t *testing.T) {
	engine := []models.ExtractedCode{{Value: "111111", Confidence: 0.5, Source: models.SourceRegex}}
	fallback := []models.ExtractedCode{{Value: "111111", Confidence: 0.9, Source: models.SourceFallback}}

	merged := mergeCodes(engine, fallback)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged code, got %d", len(merged))
	}
	if merged[0].Confidence != 0.9 || merged[0].Source != models.SourceFallback {
		t.Errorf("fallback should win on strictly greater confidence: %+v", merged[0])
	}
}

func TestMergeCodes_EngineWinsOnTie(t *testing.T) {
	engine := []models.ExtractedCode{{Value: "111111", Confidence: 0.5, Source: models.SourceRegex}}
	fallback := []models.ExtractedCode{{Value: "111111", Confidence: 0.5, Source: models.SourceFallback}}

	merged := mergeCodes(engine, fallback)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged code, got %d", len(merged))
	}
	if merged[0].Source != models.SourceRegex {
		t.Errorf("engine result should stand on equal confidence: %+v", merged[0])
	}
}

func TestMergeLinks_DistinctKeysUnion(t *testing.T) {
	engine := []models.ExtractedLink{{URL: "https://a.example.com/verify", Confidence: 0.9, Kind: models.LinkVerification}}
	fallback := []models.ExtractedLink{{URL: "https://b.example.com/reset", Confidence: 0.95, Kind: models.LinkResetPassword}}

	merged := mergeLinks(engine, fallback)
	if len(merged) != 2 {
		t.Fatalf("expected union of 2 links, got %d", len(merged))
	}
	// Sorted by confidence descending
	if merged[0].URL != "https://b.example.com/reset" {
		t.Errorf("merged not sorted by confidence: %+v", merged)
	}
}

func TestDeriveIntent_CodeRules(t *testing.T) {
	code := []models.ExtractedCode{{Value: "123456", Confidence: 0.9}}

	tests := []struct {
		corpus string
		want   string
	}{
		{"please login with this code", "authentication"},
		{"sign in using the code", "authentication"},
		{"verify your address", "verification"},
		{"confirm your account", "verification"},
		{"reset requested", "password_reset"},
		{"your password change", "password_reset"},
		{"here is the thing", "authentication"},
	}

	for _, tt := range tests {
		if got := deriveIntent(tt.corpus, code, nil); got != tt.want {
			t.Errorf("deriveIntent(%q) = %q, want %q", tt.corpus, got, tt.want)
		}
	}
}

func TestDeriveIntent_LinkKinds(t *testing.T) {
	tests := []struct {
		kind models.LinkKind
		want string
	}{
		{models.LinkVerification, "verification"},
		{models.LinkResetPassword, "password_reset"},
		{models.LinkConfirmation, "confirmation"},
		{models.LinkMagic, "magic_link_auth"},
		{models.LinkUnsubscribe, "unknown"},
		{models.LinkGeneric, "unknown"},
	}

	for _, tt := range tests {
		links := []models.ExtractedLink{{URL: "https://x.example.com", Kind: tt.kind, Confidence: 0.9}}
		if got := deriveIntent("", nil, links); got != tt.want {
			t.Errorf("deriveIntent(kind=%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestParse_UnsubscribeOnlyNoAction(t *testing.T) {
	p := newParser(nil)
	res := p.Parse(context.Background(), "Opt out here https://news.example.com/unsubscribe/u1", "", false)

	if len(res.Links) == 0 {
		t.Fatal("expected the unsubscribe link to be extracted")
	}
	if res.RequiresAction {
		t.Error("an unsubscribe-only message requires no action")
	}
	if res.Summary != "No actionable items found" {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestSummarize_Format(t *testing.T) {
	codes := []models.ExtractedCode{
		{Value: "111222"}, {Value: "333444"}, {Value: "555666"}, {Value: "777888"},
	}
	links := []models.ExtractedLink{
		{URL: "https://a.example.com/verify", Kind: models.LinkVerification},
		{URL: "https://a.example.com/unsubscribe", Kind: models.LinkUnsubscribe},
	}

	got := summarize(codes, links, "password_reset")
	want := "Found 4 OTP code(s): 111222, 333444, 555666. Found 1 action link(s). Intent: password reset"
	if got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}
}

func TestParse_Diagnostics(t *testing.T) {
	fb := &mockFallback{
		codes: []models.ExtractedCode{{Value: "445566", Confidence: 0.85, Source: models.SourceFallback}},
	}
	p := newParser(fb)
	res := p.Parse(context.Background(), "nothing obvious here", "", true)

	if res.Diagnostics["regex_code_count"] != 0 {
		t.Errorf("regex_code_count = %v", res.Diagnostics["regex_code_count"])
	}
	if res.Diagnostics["fallback_code_count"] != 1 {
		t.Errorf("fallback_code_count = %v", res.Diagnostics["fallback_code_count"])
	}
	if len(res.Codes) != 1 || res.Codes[0].Value != "445566" {
		t.Errorf("fallback code missing from merged result: %+v", res.Codes)
	}
}
