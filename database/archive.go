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
package database

import (
	"errors"
	"time"

	"github.com/blinklabs-io/walkrbot/database/types"
)

// ArchivedPayload is a raw API response kept for troubleshooting
type ArchivedPayload struct {
	CapturedAt time.Time
	Kind       string
	Payload    []byte
}

// ArchiveEnabled reports whether a blob store is configured
func (d *Database) ArchiveEnabled() bool {
	return d.blob != nil
}

// ArchivePayload stores a raw payload which expires after the configured
// retention. It is a no-op when the archive is disabled.
func (d *Database) ArchivePayload(
	kind string,
	capturedAt time.Time,
	payload []byte,
	txn *Txn,
) error {
	if d.blob == nil {
		return nil
	}
	if txn == nil {
		return NewBlobOnlyTxn(d, true).Do(func(txn *Txn) error {
			return d.ArchivePayload(kind, capturedAt, payload, txn)
		})
	}
	if txn.Blob() == nil {
		return types.ErrNilTxn
	}
	return d.blob.SetWithTTL(
		txn.Blob(),
		types.ArchiveKey(kind, capturedAt, d.archiveSeq.Add(1)),
		payload,
		d.archiveRetention,
	)
}

// GetArchivedPayloads returns the payloads of a kind captured at or after
// since, oldest first
func (d *Database) GetArchivedPayloads(
	kind string,
	since time.Time,
	txn *Txn,
) ([]ArchivedPayload, error) {
	if d.blob == nil {
		return nil, types.ErrBlobStoreUnavailable
	}
	if txn == nil {
		txn = NewBlobOnlyTxn(d, false)
		defer txn.Release()
	}
	prefix := types.ArchiveKeyPrefixFor(kind)
	iter := d.blob.NewIterator(
		txn.Blob(),
		types.BlobIteratorOptions{Prefix: prefix},
	)
	defer iter.Close()
	var ret []ArchivedPayload
	for iter.Seek(types.ArchiveSeekKey(kind, since)); iter.ValidForPrefix(prefix); iter.Next() {
		item := iter.Item()
		key := item.Key()
		itemKind, capturedAt, err := types.ParseArchiveKey(key)
		if err != nil {
			if errors.Is(err, types.ErrInvalidArchiveKey) {
				continue
			}
			return nil, err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		ret = append(ret, ArchivedPayload{
			CapturedAt: capturedAt,
			Kind:       itemKind,
			Payload:    val,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
