// Copyright 2025 Blink Labs Software
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

// Package testutil holds helpers for tests that wait on bus events
package testutil

import (
	"testing"
	"time"

	"github.com/blinklabs-io/walkrbot/event"
)

// RequireReceive waits for a value on the given channel or fails the test
// if the timeout expires
func RequireReceive[T any](
	t *testing.T,
	ch <-chan T,
	timeout time.Duration,
	msg string,
) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting: %s", msg)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for channel receive: %s", msg)
		var zero T
		return zero // unreachable
	}
}

// RequireNoReceive fails the test if a value arrives on the channel within
// the given duration
func RequireNoReceive[T any](
	t *testing.T,
	ch <-chan T,
	duration time.Duration,
	msg string,
) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf(
				"unexpected value received on channel: %v: %s",
				v,
				msg,
			)
		}
	case <-time.After(duration):
	}
}

// RequireEventData waits for the next event on a subscription channel and
// returns its payload, failing the test if the payload is not a T
func RequireEventData[T any](
	t *testing.T,
	ch <-chan event.Event,
	timeout time.Duration,
) T {
	t.Helper()
	evt := RequireReceive(t, ch, timeout, "waiting for bus event")
	data, ok := evt.Data.(T)
	if !ok {
		t.Fatalf("unexpected payload %T for event %s", evt.Data, evt.Type)
	}
	return data
}
