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
package sqlite

import (
	"testing"
	"time"

	"github.com/blinklabs-io/walkrbot/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type TestTable struct {
	gorm.Model
}

func newTestStore(t *testing.T) *MetadataStoreSqlite {
	t.Helper()
	store, err := New("", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

// TestSqliteInMemory tests that an in-memory store can be used
func TestSqliteInMemory(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AutoMigrate(&TestTable{}))
	result := store.DB().Create(&TestTable{})
	require.NoError(t, result.Error)
	assert.Equal(t, int64(1), result.RowsAffected)
}

func TestSqliteDataDir(t *testing.T) {
	dataDir := t.TempDir()
	store, err := New(dataDir, nil, nil)
	require.NoError(t, err)
	_, err = store.SetUser(1, "alice", nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopen and confirm the data survived
	store, err = New(dataDir, nil, nil)
	require.NoError(t, err)
	defer store.Close()
	user, err := store.GetUser(1, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Name)
}

func TestSetUserRefreshesName(t *testing.T) {
	store := newTestStore(t)

	user, err := store.SetUser(271306, "old name", nil)
	require.NoError(t, err)
	assert.Equal(t, "old name", user.Name)

	user, err = store.SetUser(271306, "new name", nil)
	require.NoError(t, err)
	assert.Equal(t, "new name", user.Name)

	var count int64
	require.NoError(t, store.DB().Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	_, err = store.GetUser(42, nil)
	require.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestTokenLifecycle(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SetUser(1, "alice", nil)
	require.NoError(t, err)
	_, err = store.SetUser(2, "bob", nil)
	require.NoError(t, err)

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tokA, err := store.SetToken(1, "token-a", expires, nil)
	require.NoError(t, err)
	assert.True(t, tokA.Active)
	assert.True(t, tokA.ExpiresAt.Equal(expires))
	tokB, err := store.SetToken(2, "token-b", expires, nil)
	require.NoError(t, err)

	active, err := store.GetActiveTokens(nil)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "alice", active[0].User.Name)

	require.NoError(t, store.DeactivateToken(tokA.ID, nil))
	// Deactivating twice is harmless
	require.NoError(t, store.DeactivateToken(tokA.ID, nil))

	active, err = store.GetActiveTokens(nil)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, tokB.ID, active[0].ID)

	// Registering again reactivates and replaces the value in place
	refreshed, err := store.SetToken(1, "token-a2", expires.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, tokA.ID, refreshed.ID)
	assert.True(t, refreshed.Active)
	assert.Equal(t, "token-a2", refreshed.Value)

	_, err = store.GetTokenByUser(99, nil)
	require.ErrorIs(t, err, models.ErrTokenNotFound)
}

func TestLabGetOrCreateIdempotent(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SetUser(1, "alice", nil)
	require.NoError(t, err)

	planet, err := store.GetOrCreateLabPlanet(1, "Corn Star", 100000, nil)
	require.NoError(t, err)
	require.NotZero(t, planet.ID)
	again, err := store.GetOrCreateLabPlanet(1, "Corn Star", 100000, nil)
	require.NoError(t, err)
	assert.Equal(t, planet.ID, again.ID)
	other, err := store.GetOrCreateLabPlanet(1, "Corn Star", 200000, nil)
	require.NoError(t, err)
	assert.NotEqual(t, planet.ID, other.ID)

	// Sub-second precision and time zone do not split the natural key
	requestedAt := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	req, err := store.GetOrCreateLabRequest(planet.ID, requestedAt, nil)
	require.NoError(t, err)
	reqAgain, err := store.GetOrCreateLabRequest(
		planet.ID,
		requestedAt.Add(300*time.Millisecond).In(time.FixedZone("MSK", 3*3600)),
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, req.ID, reqAgain.ID)

	p1, err := store.GetOrCreateLabRequestProgress(req.ID, 1000, 500, "1|500", nil)
	require.NoError(t, err)
	p1Again, err := store.GetOrCreateLabRequestProgress(req.ID, 1000, 500, "1|500", nil)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p1Again.ID)
	p2, err := store.GetOrCreateLabRequestProgress(req.ID, 1500, 1000, "1|500+500", nil)
	require.NoError(t, err)
	assert.NotEqual(t, p1.ID, p2.ID)

	history, err := store.GetLabRequestProgresses(req.ID, nil)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, p1.ID, history[0].ID)
	assert.Equal(t, p2.ID, history[1].ID)
}

func TestGetLatestLabRequestProgresses(t *testing.T) {
	store := newTestStore(t)
	for id, name := range map[int64]string{1: "alice", 2: "bob"} {
		_, err := store.SetUser(id, name, nil)
		require.NoError(t, err)
	}
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	planetA, err := store.GetOrCreateLabPlanet(1, "A", 1000, nil)
	require.NoError(t, err)
	planetB, err := store.GetOrCreateLabPlanet(2, "B", 2000, nil)
	require.NoError(t, err)

	oldReq, err := store.GetOrCreateLabRequest(planetA.ID, now.Add(-10*time.Hour), nil)
	require.NoError(t, err)
	reqA, err := store.GetOrCreateLabRequest(planetA.ID, now.Add(-2*time.Hour), nil)
	require.NoError(t, err)
	reqB, err := store.GetOrCreateLabRequest(planetB.ID, now.Add(-1*time.Hour), nil)
	require.NoError(t, err)

	_, err = store.GetOrCreateLabRequestProgress(oldReq.ID, 100, 100, "", nil)
	require.NoError(t, err)
	_, err = store.GetOrCreateLabRequestProgress(reqA.ID, 200, 0, "", nil)
	require.NoError(t, err)
	latestA, err := store.GetOrCreateLabRequestProgress(reqA.ID, 300, 100, "2|100", nil)
	require.NoError(t, err)
	latestB, err := store.GetOrCreateLabRequestProgress(reqB.ID, 50, 50, "1|50", nil)
	require.NoError(t, err)

	rows, err := store.GetLatestLabRequestProgresses(now.Add(-6*time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// Newest request first
	assert.Equal(t, latestB.ID, rows[0].ID)
	assert.Equal(t, latestA.ID, rows[1].ID)
	require.NotNil(t, rows[0].Request)
	require.NotNil(t, rows[0].Request.LabPlanet)
	require.NotNil(t, rows[0].Request.LabPlanet.User)
	assert.Equal(t, "bob", rows[0].Request.LabPlanet.User.Name)

	byID, err := store.GetLabRequestProgressesByID([]uint{latestA.ID, latestB.ID}, nil)
	require.NoError(t, err)
	require.Len(t, byID, 2)
	assert.Equal(t, latestA.ID, byID[0].ID)
	assert.Equal(t, "alice", byID[0].Request.LabPlanet.User.Name)
}

func TestTransactionRollback(t *testing.T) {
	store := newTestStore(t)
	txn := store.Transaction()
	_, err := store.SetUser(7, "ghost", txn)
	require.NoError(t, err)
	require.NoError(t, txn.Rollback().Error)

	_, err = store.GetUser(7, nil)
	require.ErrorIs(t, err, models.ErrUserNotFound)
}
