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

package reindex

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccbackup/chatbackup/archive"
	"github.com/ccbackup/chatbackup/types"
)

func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	w, err := archive.Open(root, types.SourceText)
	require.NoError(t, err)
	cw, err := w.Chat(types.Chat{ID: "fam", Name: "Family", Kind: types.CKDirect})
	require.NoError(t, err)
	t0 := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, cw.Commit(&types.Batch{
		Users: []types.User{{ID: "u1", Name: "Mom"}},
		Messages: []types.Message{
			{ID: "m1", AuthorID: "u1", Timestamp: t0, Type: types.MTDefault, Body: "dinner is ready"},
			{ID: "m2", AuthorID: "u1", Timestamp: t0.Add(time.Minute), Type: types.MTDefault, Body: "where are you"},
		},
	}))
	require.NoError(t, w.Close())
	return root
}

func Test_reindex(t *testing.T) {
	root := fixture(t)
	var buf bytes.Buffer
	require.NoError(t, reindex(t.Context(), &buf, root))
	assert.Contains(t, buf.String(), "Indexed 2 messages from 1 chats and 1 users")
	assert.FileExists(t, filepath.Join(root, archive.IndexFile))

	t.Run("not an archive", func(t *testing.T) {
		assert.Error(t, reindex(t.Context(), &buf, t.TempDir()))
	})
}

func Test_search(t *testing.T) {
	root := fixture(t)
	var buf bytes.Buffer

	err := search(t.Context(), &buf, root, "dinner", 10)
	require.Error(t, err, "no index yet")
	assert.Contains(t, err.Error(), "chatbackup reindex")

	require.NoError(t, reindex(t.Context(), &buf, root))

	buf.Reset()
	require.NoError(t, search(t.Context(), &buf, root, "dinner", 10))
	out := buf.String()
	assert.Contains(t, out, "[dinner]")
	assert.Contains(t, out, "fam")
	assert.Contains(t, out, "1 result(s)")

	buf.Reset()
	require.NoError(t, search(t.Context(), &buf, root, "lunch", 10))
	assert.Equal(t, "No messages found.\n", buf.String())
}
