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

package room

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccbackup/chatbackup/internal/fail"
	"github.com/ccbackup/chatbackup/internal/network"
	"github.com/ccbackup/chatbackup/types"
)

func response(code int, header http.Header, body string) *http.Response {
	rec := httptest.NewRecorder()
	for k, vv := range header {
		for _, v := range vv {
			rec.Header().Add(k, v)
		}
	}
	rec.WriteHeader(code)
	rec.WriteString(body)
	return rec.Result()
}

func Test_classify(t *testing.T) {
	tests := []struct {
		name  string
		resp  *http.Response
		check func(t *testing.T, err error)
	}{
		{
			name: "limit exceeded with retry_after_ms",
			resp: response(http.StatusTooManyRequests, nil, `{"errcode":"M_LIMIT_EXCEEDED","error":"slow down","retry_after_ms":1500}`),
			check: func(t *testing.T, err error) {
				var te *network.ThrottleError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, 1500*time.Millisecond, te.RetryAfter)
			},
		},
		{
			name: "429 with Retry-After header",
			resp: response(http.StatusTooManyRequests, http.Header{"Retry-After": {"2"}}, `not json`),
			check: func(t *testing.T, err error) {
				var te *network.ThrottleError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, 2*time.Second, te.RetryAfter)
			},
		},
		{
			name: "unknown token",
			resp: response(http.StatusUnauthorized, nil, `{"errcode":"M_UNKNOWN_TOKEN","error":"Invalid access token"}`),
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, fail.ErrAuth)
				assert.True(t, fail.IsFatal(err))
				var ae *APIError
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, "M_UNKNOWN_TOKEN", ae.ErrCode)
			},
		},
		{
			name: "forbidden",
			resp: response(http.StatusForbidden, nil, `{"errcode":"M_FORBIDDEN","error":"not in room"}`),
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, fail.ErrUnavailable)
			},
		},
		{
			name: "bad gateway",
			resp: response(http.StatusBadGateway, nil, `<html>oops</html>`),
			check: func(t *testing.T, err error) {
				var se *network.StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusBadGateway, se.Code)
				assert.True(t, network.IsTransient(err))
			},
		},
		{
			name: "bad request",
			resp: response(http.StatusBadRequest, nil, `{"errcode":"M_INVALID_PARAM","error":"bad dir"}`),
			check: func(t *testing.T, err error) {
				var ae *APIError
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, "M_INVALID_PARAM", ae.ErrCode)
				assert.False(t, errors.Is(err, fail.ErrUnavailable))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, classify("/rooms", tt.resp))
		})
	}
}

func Test_parseMXC(t *testing.T) {
	tests := []struct {
		uri        string
		wantServer string
		wantID     string
		wantErr    bool
	}{
		{uri: "mxc://example.org/abc", wantServer: "example.org", wantID: "abc"},
		{uri: "mxc://example.org:8448/abc", wantServer: "example.org:8448", wantID: "abc"},
		{uri: "mxc://example.org/", wantErr: true},
		{uri: "mxc://example.org/a/b", wantErr: true},
		{uri: "https://example.org/abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			server, id, err := parseMXC(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantServer, server)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func Test_stripReplyFallback(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		formatted     string
		wantBody      string
		wantFormatted string
	}{
		{
			name:          "fallback",
			body:          "> <@a:x> one\n> two\n\nreply",
			formatted:     "<mx-reply><blockquote>one</blockquote></mx-reply><p>reply</p>",
			wantBody:      "reply",
			wantFormatted: "<p>reply</p>",
		},
		{
			name:     "quote without a blank line is kept",
			body:     "> quoted\nnot a fallback",
			wantBody: "> quoted\nnot a fallback",
		},
		{
			name:     "no fallback",
			body:     "plain",
			wantBody: "plain",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, formatted := stripReplyFallback(tt.body, tt.formatted)
			assert.Equal(t, tt.wantBody, body)
			assert.Equal(t, tt.wantFormatted, formatted)
		})
	}
}

func Test_cipherOf(t *testing.T) {
	f := &encryptedFile{URL: "mxc://example.org/enc", IV: "AAECAwQFBgcAAAAAAAAAAA", Hashes: map[string]string{"sha256": "n4bQgYhMfWWaL-qgxVrQFaO_TxsrC4Is0V1sFbDwCgg"}}
	f.Key.K = "qcHVMSgYg-71CauWBezXI5qkaRb0LuIy-Wx5kIaHMIA"
	c, err := cipherOf(f)
	require.NoError(t, err)
	assert.Len(t, c.Key, 32)
	assert.Len(t, c.IV, 16)
	assert.Len(t, c.SHA256, 32)

	f.Key.K = "!!"
	_, err = cipherOf(f)
	assert.Error(t, err)
}

func Test_localpart(t *testing.T) {
	assert.Equal(t, "alice", localpart("@alice:example.org"))
	assert.Equal(t, "bob", localpart("bob"))
}

func TestAdapter_Source(t *testing.T) {
	assert.Equal(t, types.SourceRoom, (&Adapter{}).Source())
}
