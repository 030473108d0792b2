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
package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSNFromOptions(t *testing.T) {
	store, err := NewWithOptions(
		WithHost("db.local"),
		WithPort(3307),
		WithUser("bot"),
		WithPassword("secret"),
		WithDatabase("walkr"),
	)
	require.NoError(t, err)
	dsn, dbName := store.buildDSN()
	assert.Equal(t, "walkr", dbName)
	assert.Contains(t, dsn, "bot:secret@tcp(db.local:3307)/walkr")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestBuildDSNExplicit(t *testing.T) {
	store, err := NewWithOptions(
		WithDSN(" user:pw@tcp(host:3306)/fleet?charset=utf8mb4 "),
	)
	require.NoError(t, err)
	dsn, dbName := store.buildDSN()
	assert.Equal(t, "user:pw@tcp(host:3306)/fleet?charset=utf8mb4", dsn)
	assert.Equal(t, "fleet", dbName)
}

func TestParseMysqlDatabaseFromDSN(t *testing.T) {
	testDefs := []struct {
		dsn      string
		expected string
		ok       bool
	}{
		{dsn: "u:p@tcp(h:3306)/walkrbot", expected: "walkrbot", ok: true},
		{dsn: "u:p@tcp(h:3306)/walkrbot?parseTime=true", expected: "walkrbot", ok: true},
		{dsn: "u:p@tcp(h:3306)/", ok: false},
		{dsn: "nodatabase", ok: false},
	}
	for _, testDef := range testDefs {
		dbName, ok := parseMysqlDatabaseFromDSN(testDef.dsn)
		assert.Equal(t, testDef.ok, ok, testDef.dsn)
		assert.Equal(t, testDef.expected, dbName, testDef.dsn)
	}
}

func TestStripDatabaseFromDSN(t *testing.T) {
	stripped, ok := stripDatabaseFromDSN("u:p@tcp(h:3306)/walkrbot?parseTime=true")
	require.True(t, ok)
	assert.Equal(t, "u:p@tcp(h:3306)/?parseTime=true", stripped)

	stripped, ok = stripDatabaseFromDSN("u:p@tcp(h:3306)/walkrbot")
	require.True(t, ok)
	assert.Equal(t, "u:p@tcp(h:3306)/", stripped)

	_, ok = stripDatabaseFromDSN("garbage")
	assert.False(t, ok)
}

func TestCloseBeforeStart(t *testing.T) {
	store, err := NewWithOptions()
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
