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

package badger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blinklabs-io/walkrbot/database/types"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"
)

// MaxInMemoryValueSize is the largest payload an in-memory store accepts.
// In-memory badger keeps every value inline, so values are capped by the
// value threshold, and badger allows at most 1 MiB for it.
const MaxInMemoryValueSize = 1 << 20

const gcInterval = 5 * time.Minute

// BlobStoreBadger keeps archived API payloads in badger. Payloads expire on
// their own through badger TTLs. Nothing is persisted when no data directory
// is configured.
type BlobStoreBadger struct {
	promRegistry     prometheus.Registerer
	db               *badger.DB
	logger           *slog.Logger
	gcStopCh         chan struct{}
	dataDir          string
	gcWg             sync.WaitGroup
	blockCacheSize   uint64
	indexCacheSize   uint64
	valueLogFileSize int64
	memTableSize     int64
	valueThreshold   int64
	maxValueSize     int
	gcEnabled        bool
	closeOnce        sync.Once
}

// New opens the payload store
func New(opts ...BlobStoreBadgerOptionFunc) (*BlobStoreBadger, error) {
	d := &BlobStoreBadger{
		gcEnabled:        true,
		blockCacheSize:   DefaultBlockCacheSize,
		indexCacheSize:   DefaultIndexCacheSize,
		valueLogFileSize: int64(DefaultValueLogFileSize),
		memTableSize:     int64(DefaultMemTableSize),
		valueThreshold:   int64(DefaultValueThreshold),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	badgerOpts, err := d.badgerOptions()
	if err != nil {
		return nil, err
	}
	d.db, err = badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening payload store: %w", err)
	}
	if d.promRegistry != nil {
		d.registerBlobMetrics()
	}
	// Expired payloads only leave the value log through GC
	if d.gcEnabled && d.dataDir != "" {
		d.gcStopCh = make(chan struct{})
		d.gcWg.Add(1)
		go d.runGc(d.gcStopCh)
	}
	return d, nil
}

func (d *BlobStoreBadger) badgerOptions() (badger.Options, error) {
	if d.dataDir == "" {
		d.maxValueSize = MaxInMemoryValueSize
		return badger.DefaultOptions("").
			WithLogger(NewBadgerLogger(d.logger)).
			WithLoggingLevel(badger.WARNING).
			WithInMemory(true).
			WithValueThreshold(MaxInMemoryValueSize), nil
	}
	if err := os.MkdirAll(d.dataDir, 0o755); err != nil {
		return badger.Options{}, fmt.Errorf("failed to create data dir: %w", err)
	}
	d.maxValueSize = int(d.valueLogFileSize)
	return badger.DefaultOptions(filepath.Join(d.dataDir, "blob")).
		WithLogger(NewBadgerLogger(d.logger)).
		WithLoggingLevel(badger.WARNING).
		WithBlockCacheSize(int64(d.blockCacheSize)). //nolint:gosec // blockCacheSize is controlled and reasonable
		WithIndexCacheSize(int64(d.indexCacheSize)). //nolint:gosec // indexCacheSize is controlled and reasonable
		WithValueLogFileSize(d.valueLogFileSize).
		WithMemTableSize(d.memTableSize).
		WithValueThreshold(d.valueThreshold).
		WithCompression(options.Snappy), nil
}

func (d *BlobStoreBadger) runGc(stop <-chan struct{}) {
	defer d.gcWg.Done()
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Each successful run rewrites one file, so keep going until
			// there is nothing left to reclaim
			var err error
			for err == nil {
				err = d.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				d.logger.Warn(
					"payload store GC failed",
					"component", "database",
					"error", err,
				)
			}
		case <-stop:
			return
		}
	}
}

// Start implements the plugin.Plugin interface. The store is opened by New.
func (d *BlobStoreBadger) Start() error {
	return nil
}

// Stop implements the plugin.Plugin interface
func (d *BlobStoreBadger) Stop() error {
	return d.Close()
}

// Close stops GC and closes the store. Later calls do nothing.
func (d *BlobStoreBadger) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.gcStopCh != nil {
			close(d.gcStopCh)
			d.gcWg.Wait()
		}
		if d.db != nil {
			err = d.db.Close()
		}
	})
	return err
}

// NewTransaction starts a badger transaction
func (d *BlobStoreBadger) NewTransaction(update bool) types.Txn {
	return &badgerTxn{store: d, tx: d.db.NewTransaction(update)}
}

// SetWithTTL stores a payload that badger drops once ttl has elapsed. A zero
// ttl keeps it forever. Payloads over the store's size limit are rejected
// with types.ErrBlobValueTooLarge.
func (d *BlobStoreBadger) SetWithTTL(
	txn types.Txn,
	key, val []byte,
	ttl time.Duration,
) error {
	t, err := d.txn(txn)
	if err != nil {
		return err
	}
	if len(val) > d.maxValueSize {
		return fmt.Errorf(
			"%w: %d bytes, limit is %d",
			types.ErrBlobValueTooLarge,
			len(val),
			d.maxValueSize,
		)
	}
	entry := badger.NewEntry(key, val)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	return t.tx.SetEntry(entry)
}

// NewIterator walks the keys under opts.Prefix in ascending order. Items are
// only valid while txn is open.
func (d *BlobStoreBadger) NewIterator(
	txn types.Txn,
	opts types.BlobIteratorOptions,
) types.BlobIterator {
	t, err := d.txn(txn)
	if err != nil {
		return &errorIterator{err: err}
	}
	return &badgerIterator{
		iter: t.tx.NewIterator(badger.IteratorOptions{
			Prefix:         opts.Prefix,
			PrefetchValues: true,
			PrefetchSize:   16,
		}),
	}
}

// txn checks that txn is an open transaction of this store
func (d *BlobStoreBadger) txn(txn types.Txn) (*badgerTxn, error) {
	if txn == nil {
		return nil, types.ErrNilTxn
	}
	t, ok := txn.(*badgerTxn)
	if !ok {
		return nil, types.ErrTxnWrongType
	}
	if t.store != d {
		return nil, errors.New("transaction from different store")
	}
	if t.finished {
		return nil, errors.New("transaction already finished")
	}
	return t, nil
}

type badgerTxn struct {
	store    *BlobStoreBadger
	tx       *badger.Txn
	finished bool
}

func (t *badgerTxn) Commit() error {
	if t.finished {
		return nil
	}
	t.finished = true
	return t.tx.Commit()
}

func (t *badgerTxn) Rollback() error {
	if t.finished {
		return nil
	}
	t.finished = true
	t.tx.Discard()
	return nil
}

type badgerIterator struct {
	iter *badger.Iterator
}

func (it *badgerIterator) Seek(key []byte) { it.iter.Seek(key) }
func (it *badgerIterator) Valid() bool     { return it.iter.Valid() }
func (it *badgerIterator) Next()           { it.iter.Next() }
func (it *badgerIterator) Close()          { it.iter.Close() }
func (it *badgerIterator) Err() error      { return nil }

func (it *badgerIterator) ValidForPrefix(p []byte) bool {
	return it.iter.ValidForPrefix(p)
}

func (it *badgerIterator) Item() types.BlobItem {
	return it.iter.Item()
}

type errorIterator struct {
	err error
}

func (it *errorIterator) Seek([]byte)                {}
func (it *errorIterator) Valid() bool                { return false }
func (it *errorIterator) ValidForPrefix([]byte) bool { return false }
func (it *errorIterator) Next()                      {}
func (it *errorIterator) Item() types.BlobItem       { return nil }
func (it *errorIterator) Close()                     {}
func (it *errorIterator) Err() error                 { return it.err }
