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

package types_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/blinklabs-io/walkrbot/database/types"
)

func TestArchiveKeyRoundTrip(t *testing.T) {
	testDefs := []struct {
		kind string
		at   time.Time
	}{
		{
			kind: "fleet",
			at:   time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		},
		{
			kind: "lab-donations",
			at:   time.Unix(1714566600, 123456789).UTC(),
		},
		{
			kind: "",
			at:   time.Unix(0, 0).UTC(),
		},
	}
	for _, testDef := range testDefs {
		key := types.ArchiveKey(testDef.kind, testDef.at, 7)
		if !bytes.HasPrefix(key, types.ArchiveKeyPrefixFor(testDef.kind)) {
			t.Fatalf("key %x does not start with kind prefix", key)
		}
		kind, at, err := types.ParseArchiveKey(key)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if kind != testDef.kind {
			t.Fatalf("did not get expected kind: got %q, expected %q", kind, testDef.kind)
		}
		if !at.Equal(testDef.at) {
			t.Fatalf("did not get expected time: got %s, expected %s", at, testDef.at)
		}
	}
}

func TestArchiveKeyOrdering(t *testing.T) {
	early := types.ArchiveKey("fleet", time.Unix(100, 0), 2)
	late := types.ArchiveKey("fleet", time.Unix(200, 0), 1)
	if bytes.Compare(early, late) >= 0 {
		t.Fatalf("expected earlier key to sort first")
	}
}

func TestArchiveKeySameInstant(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	first := types.ArchiveKey("research", at, 1)
	second := types.ArchiveKey("research", at.Add(200*time.Microsecond), 2)
	third := types.ArchiveKey("research", at.Add(200*time.Microsecond), 3)
	if bytes.Equal(first, second) || bytes.Equal(second, third) {
		t.Fatalf("payloads captured together must not share a key")
	}
	if bytes.Compare(first, second) >= 0 || bytes.Compare(second, third) >= 0 {
		t.Fatalf("expected keys to sort by time, then sequence")
	}
	seek := types.ArchiveSeekKey("research", at.Add(200*time.Microsecond))
	if bytes.Compare(seek, first) <= 0 || bytes.Compare(seek, second) > 0 {
		t.Fatalf("seek key %x does not land on the first payload at that time", seek)
	}
}

func TestArchiveSeekKeyClamps(t *testing.T) {
	epoch := types.ArchiveSeekKey("fleet", time.Unix(0, 0))
	if !bytes.Equal(types.ArchiveSeekKey("fleet", time.Time{}), epoch) {
		t.Fatalf("zero time should seek to the start of the kind")
	}
	if bytes.Compare(epoch, types.ArchiveKey("fleet", time.Unix(0, 0), 0)) > 0 {
		t.Fatalf("epoch seek key should sort before every key of the kind")
	}
	far := types.ArchiveSeekKey("fleet", time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC))
	if bytes.Compare(far, types.ArchiveKey("fleet", time.Now(), 0)) <= 0 {
		t.Fatalf("far future seek key should sort after current keys")
	}
}

func TestParseArchiveKeyInvalid(t *testing.T) {
	for _, key := range [][]byte{
		nil,
		[]byte("ar"),
		[]byte("xxfleet:1234567812345678"),
		[]byte("arfleet-1234567812345678"),
		[]byte("arfleet:12345678"),
	} {
		if _, _, err := types.ParseArchiveKey(key); !errors.Is(err, types.ErrInvalidArchiveKey) {
			t.Fatalf("expected ErrInvalidArchiveKey for %q, got %v", key, err)
		}
	}
}
