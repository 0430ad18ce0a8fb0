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

package pack

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixtureFiles = map[string]string{
	"manifest.json":             "{}",
	"chats/fam/messages.jsonl":  "{}\n",
	"chats/fam/files/a.png":     "png",
	"chats/fam/files/.part-123": "partial",
	".state/000001.log":         "state",
	".state/MANIFEST-000001":    "state",
}

func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name, data := range fixtureFiles {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	}
	return root
}

var want = []string{
	"chats/fam/files/a.png",
	"chats/fam/messages.jsonl",
	"manifest.json",
}

func Test_pack(t *testing.T) {
	t.Run("zip", func(t *testing.T) {
		root := fixture(t)
		target := filepath.Join(t.TempDir(), "out.zip")
		n, size, err := pack(t.Context(), root, target)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.EqualValues(t, len("{}")+len("{}\n")+len("png"), size)

		zr, err := zip.OpenReader(target)
		require.NoError(t, err)
		defer zr.Close()
		var got []string
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			got = append(got, f.Name)
		}
		slices.Sort(got)
		assert.Equal(t, want, got)
	})
	t.Run("directory", func(t *testing.T) {
		root := fixture(t)
		target := filepath.Join(t.TempDir(), "out")
		n, _, err := pack(t.Context(), root, target)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		for _, name := range want {
			data, err := os.ReadFile(filepath.Join(target, filepath.FromSlash(name)))
			require.NoError(t, err)
			assert.Equal(t, fixtureFiles[name], string(data))
		}
		assert.NoDirExists(t, filepath.Join(target, ".state"))
		assert.NoFileExists(t, filepath.Join(target, "chats", "fam", "files", ".part-123"))
	})
	t.Run("cancelled", func(t *testing.T) {
		root := fixture(t)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, _, err := pack(ctx, root, filepath.Join(t.TempDir(), "out"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
