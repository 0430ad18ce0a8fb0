// Copyright (c) 2021-2026 Rustam Gilyazov and Contributors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccbackup/chatbackup/archive"
	"github.com/ccbackup/chatbackup/types"
)

const sqliteMemory = ":memory:"

func testConn(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open(Driver, sqliteMemory)
	if err != nil {
		t.Fatalf("sql.Open() err = %v; want nil", err)
	}
	// every connection to :memory: is a new database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("PRAGMA foreign_keys = ON err = %v; want nil", err)
	}
	if err := Migrate(t.Context(), db.DB, true); err != nil {
		t.Fatalf("Migrate() err = %v; want nil", err)
	}
	return db
}

var t0 = time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)

// fixture writes a small archive and returns its root.
func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	w, err := archive.Open(root, types.SourceText)
	require.NoError(t, err)
	for _, c := range []types.Chat{{ID: "a", Name: "Family", Kind: types.CKDirect, Topic: "home"}, {ID: "b", Name: "Work", Kind: types.CKDirect}} {
		cw, err := w.Chat(c)
		require.NoError(t, err)
		require.NoError(t, cw.Commit(&types.Batch{
			Users: []types.User{{ID: "u1", Name: "Mom", Color: "#f00"}, {ID: "u2", Name: "Me"}},
			Messages: []types.Message{
				{ID: c.ID + "1", AuthorID: "u1", Timestamp: t0, Type: types.MTDefault, Body: "dinner is ready in " + c.Name},
				{ID: c.ID + "2", AuthorID: "u2", Timestamp: t0.Add(time.Minute), Type: types.MTDefault, Body: "coming"},
				{ID: c.ID + "3", AuthorID: "u2", Timestamp: t0.Add(2 * time.Minute), Type: types.MTRedacted},
			},
		}))
	}
	require.NoError(t, w.Close())
	return root
}

func TestIndex_Build(t *testing.T) {
	root := fixture(t)
	r, err := archive.OpenReader(root)
	require.NoError(t, err)

	ix := New(testConn(t))
	st, err := ix.Build(t.Context(), r)
	require.NoError(t, err)
	assert.Equal(t, Stats{Chats: 2, Users: 2, Messages: 6}, st)

	// rebuilding replaces the contents
	st, err = ix.Build(t.Context(), r)
	require.NoError(t, err)
	assert.Equal(t, Stats{Chats: 2, Users: 2, Messages: 6}, st)

	msgs, err := ix.Messages(t.Context(), "a")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a1", msgs[0].ID)
	assert.Equal(t, t0, msgs[0].Timestamp.UTC())
	assert.Equal(t, types.MTRedacted, msgs[2].Type)

	hits, err := ix.Search(t.Context(), "dinner", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{hits[0].ChatID, hits[1].ChatID})
	assert.Contains(t, hits[0].Snippet, "[dinner]")
	assert.Equal(t, t0, hits[0].Time())

	hits, err = ix.Search(t.Context(), "Family", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a1", hits[0].ID)
}

func TestRebuild(t *testing.T) {
	root := fixture(t)
	st, err := Rebuild(t.Context(), root)
	require.NoError(t, err)
	assert.Equal(t, 6, st.Messages)
	assert.FileExists(t, filepath.Join(root, archive.IndexFile))

	ix, err := Open(t.Context(), filepath.Join(root, archive.IndexFile))
	require.NoError(t, err)
	defer ix.Close()
	hits, err := ix.Search(t.Context(), "coming", 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestRebuild_notAnArchive(t *testing.T) {
	_, err := Rebuild(t.Context(), t.TempDir())
	assert.Error(t, err)
}
