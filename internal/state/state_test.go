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

package state

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccbackup/chatbackup/types"
)

func testStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	return s
}

func TestStore_Resume(t *testing.T) {
	dir := t.TempDir()
	s := testStore(t, dir)

	rs, err := s.Resume(types.SourceGuild, "C1")
	require.NoError(t, err)
	assert.True(t, rs.IsZero())

	want := types.ResumeState{Cursor: "1234", LastID: "1234"}
	require.NoError(t, s.SaveResume(types.SourceGuild, "C1", want))
	require.NoError(t, s.Close())

	// survives reopen
	s = testStore(t, dir)
	defer s.Close()
	got, err := s.Resume(types.SourceGuild, "C1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// partitioned by source
	other, err := s.Resume(types.SourceRoom, "C1")
	require.NoError(t, err)
	assert.True(t, other.IsZero())
}

func TestStore_PutMany(t *testing.T) {
	s := testStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.PutMany(map[string]any{
		DeviceKey(types.SourceRoom, "DEV"): map[string]string{"since": "s1"},
		ResumeKey(types.SourceRoom, "!r"):  types.ResumeState{Cursor: "t1"},
	}))
	var dev map[string]string
	ok, err := s.Get(DeviceKey(types.SourceRoom, "DEV"), &dev)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s1", dev["since"])

	var rs types.ResumeState
	ok, err = s.Get(ResumeKey(types.SourceRoom, "!r"), &rs)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "t1", rs.Cursor)
}

func TestStore_concurrentChats(t *testing.T) {
	s := testStore(t, t.TempDir())
	defer s.Close()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chat := fmt.Sprintf("C%d", i)
			for j := range 20 {
				assert.NoError(t, s.SaveResume(types.SourceText, chat, types.ResumeState{Cursor: fmt.Sprint(j)}))
			}
		}()
	}
	wg.Wait()

	kk, err := s.keys(Key(nsResume, types.SourceText, ""))
	require.NoError(t, err)
	assert.Len(t, kk, 8)
	for _, k := range kk {
		rs, err := s.Resume(types.SourceText, k[len("resume/text/"):])
		require.NoError(t, err)
		assert.Equal(t, "19", rs.Cursor)
	}
}

func TestStore_ResetResume(t *testing.T) {
	s := testStore(t, t.TempDir())
	defer s.Close()

	for _, chat := range []string{"C1", "C2"} {
		require.NoError(t, s.SaveResume(types.SourceGuild, chat, types.ResumeState{Cursor: "10"}))
	}
	require.NoError(t, s.SaveResume(types.SourceText, "fam", types.ResumeState{Cursor: "3"}))
	require.NoError(t, s.Put(DeviceKey(types.SourceGuild, "DEV"), "keep"))

	n, err := s.ResetResume(types.SourceGuild)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rs, err := s.Resume(types.SourceGuild, "C1")
	require.NoError(t, err)
	assert.True(t, rs.IsZero())

	rs, err = s.Resume(types.SourceText, "fam")
	require.NoError(t, err)
	assert.Equal(t, "3", rs.Cursor, "other sources are kept")
	var dev string
	ok, err := s.Get(DeviceKey(types.SourceGuild, "DEV"), &dev)
	require.NoError(t, err)
	assert.True(t, ok, "device state is kept")

	n, err = s.ResetResume(types.SourceGuild)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func Test_upperBound(t *testing.T) {
	assert.Equal(t, []byte("resume/tex\x75"), upperBound([]byte("resume/text")))
	assert.Equal(t, []byte{0x02}, upperBound([]byte{0x01, 0xff}))
	assert.Nil(t, upperBound([]byte{0xff}))
}
