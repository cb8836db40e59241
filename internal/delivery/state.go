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

package delivery

import "time"

// MaxAttempts is the total number of delivery attempts made for one task
// before it is abandoned.
const MaxAttempts = 8

// Outcome is the result of a single delivery attempt.
type Outcome int

const (
	// OutcomeSuccess means the endpoint acknowledged with a 2xx status.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure covers everything else: non-2xx, timeout, transport error.
	OutcomeFailure
)

// State describes what happens to a task after an attempt.
type State int

const (
	// StateDelivered is terminal: the endpoint accepted the payload.
	StateDelivered State = iota
	// StateRetryScheduled means the task goes back to the queue after Delay.
	StateRetryScheduled
	// StateExhausted is terminal: every attempt failed.
	StateExhausted
)

// Transition is the outcome of the retry policy for one attempt.
type Transition struct {
	State State
	// Delay is how long to wait before the next attempt. Only meaningful
	// when State is StateRetryScheduled.
	Delay time.Duration
}

// NextState applies the retry policy to a completed attempt. attempt is
// zero-based, so the first try is attempt 0 and the last is MaxAttempts-1.
// Failures back off exponentially: 1s, 2s, 4s, and so on.
func NextState(attempt int, outcome Outcome) Transition {
	if outcome == OutcomeSuccess {
		return Transition{State: StateDelivered}
	}
	if attempt+1 >= MaxAttempts {
		return Transition{State: StateExhausted}
	}
	return Transition{
		State: StateRetryScheduled,
		Delay: time.Duration(1<<uint(attempt)) * time.Second,
	}
}
