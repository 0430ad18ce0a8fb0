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

package megolm_test

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccbackup/chatbackup/internal/megolm"
	"github.com/ccbackup/chatbackup/internal/megolm/megolmtest"
)

func newTestOutbound(t *testing.T) *megolmtest.OutboundSession {
	t.Helper()
	o, err := megolmtest.NewOutboundSession(rand.Reader)
	require.NoError(t, err)
	return o
}

func encrypt(t *testing.T, o *megolmtest.OutboundSession, plaintext []byte) string {
	t.Helper()
	msg, err := o.Encrypt(plaintext)
	require.NoError(t, err)
	return msg
}

func TestInboundSession_Decrypt(t *testing.T) {
	o := newTestOutbound(t)
	s, err := megolm.NewInboundSession("!room:example.org", "sender", o.SessionKey())
	require.NoError(t, err)
	assert.Equal(t, o.ID(), s.ID)
	assert.False(t, s.Forwarded)

	var msgs []string
	for i := range 300 {
		msgs = append(msgs, encrypt(t, o, []byte("message "+string(rune('a'+i%26)))))
	}
	// out of order decryption works, the session is never advanced in place
	for _, i := range []int{299, 0, 257, 1} {
		pt, idx, err := s.Decrypt(msgs[i])
		require.NoError(t, err, "message %d", i)
		assert.Equal(t, uint32(i), idx)
		assert.Equal(t, "message "+string(rune('a'+i%26)), string(pt))
	}
}

func TestInboundSession_DecryptErrors(t *testing.T) {
	o := newTestOutbound(t)
	early := encrypt(t, o, []byte("before the key was shared"))
	s, err := megolm.NewInboundSession("!r", "", o.SessionKey())
	require.NoError(t, err)
	good := encrypt(t, o, []byte("hello"))

	t.Run("index before session start", func(t *testing.T) {
		_, _, err := s.Decrypt(early)
		assert.ErrorIs(t, err, megolm.ErrUnknownIndex)
	})
	t.Run("tampered ciphertext", func(t *testing.T) {
		data, _ := base64.RawStdEncoding.DecodeString(good)
		data[5] ^= 0xff
		_, _, err := s.Decrypt(base64.RawStdEncoding.EncodeToString(data))
		assert.ErrorIs(t, err, megolm.ErrBadSignature)
	})
	t.Run("garbage", func(t *testing.T) {
		_, _, err := s.Decrypt("bm90IGEgbWVnb2xtIG1lc3NhZ2U")
		assert.Error(t, err)
	})
	t.Run("other session", func(t *testing.T) {
		other := newTestOutbound(t)
		_, _, err := s.Decrypt(encrypt(t, other, []byte("x")))
		assert.ErrorIs(t, err, megolm.ErrBadSignature)
	})
}

func TestNewInboundSession_badSignature(t *testing.T) {
	o := newTestOutbound(t)
	data, _ := base64.RawStdEncoding.DecodeString(o.SessionKey())
	data[10] ^= 1
	_, err := megolm.NewInboundSession("!r", "", base64.RawStdEncoding.EncodeToString(data))
	assert.ErrorIs(t, err, megolm.ErrBadSignature)
}

func TestInboundSession_ExportRoundTrip(t *testing.T) {
	o := newTestOutbound(t)
	o.AdvanceTo(7)
	s, err := megolm.NewInboundSession("!r", "", o.SessionKey())
	require.NoError(t, err)
	msg := encrypt(t, o, []byte("seven"))

	exported, err := megolm.NewInboundSession("!r", "", s.Export())
	require.NoError(t, err)
	assert.True(t, exported.Forwarded)
	assert.Equal(t, uint32(7), exported.FirstKnownIndex())
	pt, _, err := exported.Decrypt(msg)
	require.NoError(t, err)
	assert.Equal(t, "seven", string(pt))
}

func TestKeyring(t *testing.T) {
	o := newTestOutbound(t)
	o.AdvanceTo(5)
	late, err := megolm.NewInboundSession("!r", "", o.SessionKey())
	require.NoError(t, err)

	k := megolm.NewKeyring()
	assert.True(t, k.Add(late))
	assert.True(t, k.Dirty())

	// the same session at a later index does not replace the earlier one
	o2 := *o
	o2.AdvanceTo(9)
	later, err := megolm.NewInboundSession("!r", "", o2.SessionKey())
	require.NoError(t, err)
	assert.False(t, k.Add(later))

	msg := encrypt(t, o, []byte("hi"))

	t.Run("decrypt", func(t *testing.T) {
		pt, err := k.Decrypt("!r", o.ID(), "$e1", msg)
		require.NoError(t, err)
		assert.Equal(t, "hi", string(pt))
		// same event again is fine
		_, err = k.Decrypt("!r", o.ID(), "$e1", msg)
		assert.NoError(t, err)
	})
	t.Run("replay", func(t *testing.T) {
		_, err := k.Decrypt("!r", o.ID(), "$e2", msg)
		assert.ErrorIs(t, err, megolm.ErrReplay)
	})
	t.Run("unknown session", func(t *testing.T) {
		_, err := k.Decrypt("!other", o.ID(), "$e1", msg)
		assert.ErrorIs(t, err, megolm.ErrUnknownSession)
	})
	t.Run("persistence", func(t *testing.T) {
		data, err := json.Marshal(k)
		require.NoError(t, err)
		assert.False(t, k.Dirty())

		restored := megolm.NewKeyring()
		require.NoError(t, json.Unmarshal(data, restored))
		assert.Equal(t, 1, restored.Len())
		pt, err := restored.Decrypt("!r", o.ID(), "$e1", msg)
		require.NoError(t, err)
		assert.Equal(t, "hi", string(pt))
	})
}

func TestKeyExport_RoundTrip(t *testing.T) {
	o := newTestOutbound(t)
	s, err := megolm.NewInboundSession("!r", "curve", o.SessionKey())
	require.NoError(t, err)
	msg := encrypt(t, o, []byte("from backup"))

	sessions := []megolm.ExportedSession{
		{Algorithm: megolm.Algorithm, RoomID: "!r", SenderKey: "curve", SessionID: s.ID, SessionKey: s.Export()},
		{Algorithm: "m.unknown", RoomID: "!r", SessionID: "x", SessionKey: "x"},
	}
	var buf bytes.Buffer
	require.NoError(t, megolmtest.WriteKeyExport(&buf, sessions, "correct horse", 1000, rand.Reader))
	assert.Contains(t, buf.String(), megolmtest.ExportHeader)

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := megolm.ReadKeyExport(bytes.NewReader(buf.Bytes()), "battery staple")
		assert.ErrorIs(t, err, megolm.ErrPassphrase)
	})
	t.Run("import", func(t *testing.T) {
		got, err := megolm.ReadKeyExport(bytes.NewReader(buf.Bytes()), "correct horse")
		require.NoError(t, err)
		require.Len(t, got, 2)

		k := megolm.NewKeyring()
		n, err := k.ImportSessions(got)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		pt, err := k.Decrypt("!r", s.ID, "$e", msg)
		require.NoError(t, err)
		assert.Equal(t, "from backup", string(pt))
	})
	t.Run("not armored", func(t *testing.T) {
		_, err := megolm.ReadKeyExport(bytes.NewReader([]byte("hello")), "x")
		assert.ErrorIs(t, err, megolm.ErrBadExport)
	})
}

