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

package metadata

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		layers []Optional
		want   string
		wantOK bool
	}{
		{"declared wins", []Optional{Some("file"), Some("prompt")}, "file", true},
		{"explicit empty wins", []Optional{Some(""), Some("prompt")}, "", true},
		{"interactive when declared is absent", []Optional{None, Some("prompt")}, "prompt", true},
		{"all absent", []Optional{None, None}, "", false},
		{"no layers", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Precedence(tt.layers...)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func mustDeclared(t *testing.T, s string) *Declared {
	t.Helper()
	d, err := ReadDeclared(strings.NewReader(s))
	require.NoError(t, err)
	return d
}

func TestResolver_declaredChat(t *testing.T) {
	d := mustDeclared(t, `{"chats":{"A":{"avatar":"", "topic":"T"}}}`)
	p := &Scripted{Answers: map[string]string{}}
	r := NewResolver(d, p, "/input")

	m, err := r.Chat(t.Context(), "A")
	require.NoError(t, err)
	assert.Equal(t, ChatMeta{Avatar: "", Topic: "T"}, m)
	assert.Empty(t, p.Asked, "no prompts expected")
	assert.Zero(t, r.Lookups())
}

func TestResolver_promptsOncePerField(t *testing.T) {
	d := mustDeclared(t, `{"chats":{"A":{"avatar":"", "topic":"T"}}}`)
	p := &Scripted{Answers: map[string]string{
		ScriptKey(KindChat, "B", FieldTopic):  "from prompt",
		ScriptKey(KindChat, "B", FieldAvatar): "b.png",
	}}
	r := NewResolver(d, p, "/input")

	for range 5 {
		m, err := r.Chat(t.Context(), "B")
		require.NoError(t, err)
		assert.Equal(t, "from prompt", m.Topic)
		assert.Equal(t, filepath.Join("/input", "b.png"), m.Avatar)
	}
	assert.Equal(t, []string{"chats/B/avatar", "chats/B/topic"}, p.Asked)
}

func TestResolver_partialEntryFallsThrough(t *testing.T) {
	d := mustDeclared(t, `
users:
  Alice:
    user_id: "+1555"
    avatar: null
`)
	p := &Scripted{Answers: map[string]string{ScriptKey(KindUser, "Alice", FieldColor): "#abc"}}
	r := NewResolver(d, p, "/in")
	m, err := r.User(t.Context(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, UserMeta{ExternalID: "+1555", Avatar: "", Color: "#abc"}, m)
	assert.Equal(t, []string{"users/Alice/color"}, p.Asked)
}

func TestResolver_nonInteractive(t *testing.T) {
	r := NewResolver(nil, nil, "")
	m, err := r.User(t.Context(), "Bob")
	require.NoError(t, err)
	assert.Equal(t, UserMeta{}, m)
}

func TestResolver_exactMatch(t *testing.T) {
	d := mustDeclared(t, `{"users":{"Bob":{"user_id":"1","avatar":"","color":""}}}`)
	p := &Scripted{}
	r := NewResolver(d, p, "")
	_, err := r.User(t.Context(), "bob")
	require.NoError(t, err)
	assert.Len(t, p.Asked, 3, "names are case sensitive")
}

func TestResolver_concurrent(t *testing.T) {
	p := &Scripted{Answers: map[string]string{ScriptKey(KindUser, "X", FieldColor): "#fff"}}
	r := NewResolver(nil, p, "")
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := r.User(t.Context(), "X")
			assert.NoError(t, err)
			assert.Equal(t, "#fff", m.Color)
		}()
	}
	wg.Wait()
	assert.Len(t, p.Asked, 3)
}

func TestReadDeclared(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		d, err := ReadDeclared(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, None, d.Lookup(KindChat, "A", FieldTopic))
	})
	t.Run("invalid", func(t *testing.T) {
		_, err := ReadDeclared(strings.NewReader("chats: [1, 2"))
		assert.Error(t, err)
	})
	t.Run("nil declared", func(t *testing.T) {
		var d *Declared
		assert.Equal(t, None, d.Lookup(KindUser, "A", FieldColor))
	})
}

func TestValidateColor(t *testing.T) {
	for _, ok := range []string{"", "#fff", "#A0b1C2"} {
		assert.NoError(t, ValidateColor(ok), ok)
	}
	for _, bad := range []string{"fff", "#ffff", "#ggg", "red"} {
		assert.Error(t, ValidateColor(bad), bad)
	}
}
