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

package types

import (
	"encoding/binary"
	"errors"
	"math"
	"slices"
	"time"
)

const (
	ArchiveKeyPrefix    = "ar"
	ArchiveKeySeparator = ':'
)

var ErrInvalidArchiveKey = errors.New("invalid archive key")

// ArchiveKeyPrefixFor returns the key prefix shared by all archived payloads
// of the given kind
func ArchiveKeyPrefixFor(kind string) []byte {
	return slices.Concat(
		[]byte(ArchiveKeyPrefix),
		[]byte(kind),
		[]byte{ArchiveKeySeparator},
	)
}

var (
	archiveMinTime = time.Unix(0, 0)
	archiveMaxTime = time.Unix(0, math.MaxInt64)
)

// archiveKeyLen is the length of the separator, capture time and sequence
// that follow the kind
const archiveKeyLen = 1 + 8 + 8

// ArchiveKey builds the blob key for a payload of the given kind captured at
// the given time. seq tells apart payloads captured at the same instant.
// Keys of one kind sort by capture time, then by seq.
func ArchiveKey(kind string, at time.Time, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(ArchiveSeekKey(kind, at), seq)
}

// ArchiveSeekKey returns the position of the first payload of the given kind
// captured at or after the given time
func ArchiveSeekKey(kind string, at time.Time) []byte {
	return binary.BigEndian.AppendUint64(
		ArchiveKeyPrefixFor(kind),
		archiveNanos(at),
	)
}

// archiveNanos clamps times that UnixNano cannot represent. The zero time
// sorts with the epoch.
func archiveNanos(at time.Time) uint64 {
	switch {
	case at.Before(archiveMinTime):
		return 0
	case at.After(archiveMaxTime):
		return math.MaxInt64
	}
	// #nosec G115
	return uint64(at.UnixNano())
}

// ParseArchiveKey extracts the payload kind and capture time from a key built
// by ArchiveKey
func ParseArchiveKey(key []byte) (string, time.Time, error) {
	prefixLen := len(ArchiveKeyPrefix)
	if len(key) < prefixLen+archiveKeyLen ||
		string(key[:prefixLen]) != ArchiveKeyPrefix {
		return "", time.Time{}, ErrInvalidArchiveKey
	}
	sepIdx := len(key) - archiveKeyLen
	if key[sepIdx] != ArchiveKeySeparator {
		return "", time.Time{}, ErrInvalidArchiveKey
	}
	kind := string(key[prefixLen:sepIdx])
	// #nosec G115
	ns := int64(binary.BigEndian.Uint64(key[sepIdx+1 : sepIdx+9]))
	return kind, time.Unix(0, ns).UTC(), nil
}
