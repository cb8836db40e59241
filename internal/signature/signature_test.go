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

package signature

import (
	"encoding/json"
	"testing"
)

func TestSign_EmptySecret(t *testing.T) {
	sig, err := Sign(map[string]string{"a": "b"}, "")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if sig != "" {
		t.Errorf("expected empty signature for empty secret, got %q", sig)
	}
}

func TestVerify_EmptySecret(t *testing.T) {
	if Verify([]byte(`{"a":"b"}`), "", "") {
		t.Error("empty secret must never verify")
	}
	if Verify([]byte(`{"a":"b"}`), "deadbeef", "") {
		t.Error("empty secret must never verify, even with a signature present")
	}
}

// TestSign_KeyOrderInvariant verifies the canonical form is independent of
// key insertion order in the source serialization.
func TestSign_KeyOrderInvariant(t *testing.T) {
	a := json.RawMessage(`{"b": 2, "a": 1}`)
	b := json.RawMessage(`{"a":1,"b":2}`)

	sigA, err := Sign(a, "s3cret")
	if err != nil {
		t.Fatalf("Sign(a) failed: %v", err)
	}
	sigB, err := Sign(b, "s3cret")
	if err != nil {
		t.Fatalf("Sign(b) failed: %v", err)
	}

	if sigA != sigB {
		t.Errorf("signatures differ across key orderings: %q vs %q", sigA, sigB)
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	payload := map[string]any{
		"message_id": "abc-123",
		"codes":      []string{"123456"},
	}

	sig, err := Sign(payload, "hook-secret")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if sig == "" {
		t.Fatal("expected non-empty signature")
	}

	canonical, err := Canonicalize(payload)
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}

	if !Verify(canonical, sig, "hook-secret") {
		t.Error("signature did not verify against canonical bytes")
	}

	if Verify(canonical, sig, "wrong-secret") {
		t.Error("signature verified with the wrong secret")
	}

	if Verify(canonical, sig+"00", "hook-secret") {
		t.Error("tampered signature verified")
	}
}

// TestVerify_NonCanonicalBody accepts a re-ordered body because verification
// recomputes the canonical form before comparing.
func TestVerify_NonCanonicalBody(t *testing.T) {
	sig, err := Sign(json.RawMessage(`{"x":1,"y":2}`), "k")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if !Verify([]byte(`{"y": 2, "x": 1}`), sig, "k") {
		t.Error("verification should be canonical-form based")
	}
}

func TestCanonicalize_Compact(t *testing.T) {
	out, err := Canonicalize(json.RawMessage("{\n  \"b\": [1, 2],\n  \"a\": \"x\"\n}"))
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	if string(out) != `{"a":"x","b":[1,2]}` {
		t.Errorf("canonical form = %q", string(out))
	}
}

func TestSign_InvalidJSON(t *testing.T) {
	if _, err := Sign(json.RawMessage(`{not json`), "k"); err == nil {
		t.Error("expected error for malformed payload bytes")
	}
}
