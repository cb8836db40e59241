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

// Package signature provides canonical HMAC-SHA256 signing of webhook
// payloads. Signatures are computed over the canonical JSON form (sorted
// keys, no insignificant whitespace), and the delivery worker transmits
// exactly the canonical bytes it signed, so receivers can verify against
// the literal request body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize serializes payload to its canonical JSON form: object keys
// sorted, no whitespace. Any JSON-serializable value is accepted, including
// raw JSON bytes.
func Canonicalize(payload any) ([]byte, error) {
	raw, err := toRawJSON(payload)
	if err != nil {
		return nil, err
	}

	// Round-trip through interface{} so maps re-marshal with sorted keys
	// and incidental whitespace is dropped.
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return canonical, nil
}

// Sign computes the hex HMAC-SHA256 of the canonical form of payload.
// An empty secret yields an empty signature: the payload goes out unsigned.
func Sign(payload any, secret string) (string, error) {
	if secret == "" {
		return "", nil
	}

	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature from the canonical form of raw and compares
// in constant time. An empty secret never verifies — an unsigned message can
// never pass as signed.
func Verify(raw []byte, sig, secret string) bool {
	if secret == "" {
		return false
	}

	expected, err := Sign(json.RawMessage(raw), secret)
	if err != nil {
		return false
	}

	return hmac.Equal([]byte(expected), []byte(sig))
}

// toRawJSON normalizes payload to raw JSON bytes without double-encoding
// values that are already serialized.
func toRawJSON(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return raw, nil
	}
}
