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
	"strings"
	"testing"
	"time"

	"github.com/blinklabs-io/walkrbot/database/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...BlobStoreBadgerOptionFunc) *BlobStoreBadger {
	t.Helper()
	store, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func put(t *testing.T, store *BlobStoreBadger, key, val string, ttl time.Duration) {
	t.Helper()
	txn := store.NewTransaction(true)
	require.NoError(t, store.SetWithTTL(txn, []byte(key), []byte(val), ttl))
	require.NoError(t, txn.Commit())
}

// readPrefix returns the key/value pairs under prefix in key order
func readPrefix(t *testing.T, store *BlobStoreBadger, prefix string) map[string]string {
	t.Helper()
	txn := store.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck
	iter := store.NewIterator(txn, types.BlobIteratorOptions{Prefix: []byte(prefix)})
	defer iter.Close()
	ret := make(map[string]string)
	for iter.Seek([]byte(prefix)); iter.ValidForPrefix([]byte(prefix)); iter.Next() {
		val, err := iter.Item().ValueCopy(nil)
		require.NoError(t, err)
		ret[string(iter.Item().Key())] = string(val)
	}
	require.NoError(t, iter.Err())
	return ret
}

func TestSetWithTTL(t *testing.T) {
	store := newTestStore(t)
	put(t, store, "ar:short", "x", time.Second)
	put(t, store, "ar:forever", "y", 0)

	require.Eventually(t, func() bool {
		_, ok := readPrefix(t, store, "ar:")["ar:short"]
		return !ok
	}, 5*time.Second, 100*time.Millisecond)
	assert.Equal(t, map[string]string{"ar:forever": "y"}, readPrefix(t, store, "ar:"))
}

func TestInMemoryValueSize(t *testing.T) {
	// Real API answers are well over badger's default inline value limit
	store := newTestStore(t, WithValueThreshold(DefaultValueThreshold))
	large := strings.Repeat("x", 64*1024)
	put(t, store, "ar:large", large, 0)
	assert.Equal(t, large, readPrefix(t, store, "ar:")["ar:large"])

	txn := store.NewTransaction(true)
	defer txn.Rollback() //nolint:errcheck
	err := store.SetWithTTL(
		txn,
		[]byte("ar:huge"),
		make([]byte, MaxInMemoryValueSize+1),
		0,
	)
	require.ErrorIs(t, err, types.ErrBlobValueTooLarge)
}

func TestFinishedTxnRejected(t *testing.T) {
	store := newTestStore(t)
	txn := store.NewTransaction(true)
	require.NoError(t, txn.Commit())
	// Finishing twice is a no-op
	require.NoError(t, txn.Commit())
	require.NoError(t, txn.Rollback())

	err := store.SetWithTTL(txn, []byte("k"), []byte("v"), 0)
	require.Error(t, err)
	err = store.SetWithTTL(nil, []byte("k"), []byte("v"), 0)
	require.ErrorIs(t, err, types.ErrNilTxn)

	other := newTestStore(t)
	otherTxn := other.NewTransaction(true)
	defer otherTxn.Rollback() //nolint:errcheck
	require.Error(t, store.SetWithTTL(otherTxn, []byte("k"), []byte("v"), 0))
}

func TestIteratorPrefix(t *testing.T) {
	store := newTestStore(t)
	for _, key := range []string{"ar:lab:1", "ar:lab:2", "ar:fleet:1"} {
		put(t, store, key, key, 0)
	}

	txn := store.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck
	prefix := []byte("ar:lab:")
	iter := store.NewIterator(txn, types.BlobIteratorOptions{Prefix: prefix})
	defer iter.Close()
	var keys []string
	for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
		keys = append(keys, string(iter.Item().Key()))
	}
	require.NoError(t, iter.Err())
	assert.Equal(t, []string{"ar:lab:1", "ar:lab:2"}, keys)

	badIter := store.NewIterator(nil, types.BlobIteratorOptions{})
	assert.False(t, badIter.Valid())
	require.ErrorIs(t, badIter.Err(), types.ErrNilTxn)
}

func TestMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	newTestStore(t, WithPromRegistry(reg))
	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "database_blob_lsm_size_bytes")
	assert.Contains(t, names, "database_blob_vlog_size_bytes")
}

func TestDiskBackedStore(t *testing.T) {
	dataDir := t.TempDir()
	store, err := New(WithDataDir(dataDir))
	require.NoError(t, err)
	put(t, store, "ar:k", strings.Repeat("v", 4096), 0)
	require.NoError(t, store.Close())
	// Closing twice is harmless
	require.NoError(t, store.Close())

	store = newTestStore(t, WithDataDir(dataDir), WithGc(false))
	assert.Equal(
		t,
		map[string]string{"ar:k": strings.Repeat("v", 4096)},
		readPrefix(t, store, "ar:"),
	)
}
