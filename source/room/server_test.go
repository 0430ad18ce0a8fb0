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
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccbackup/chatbackup/internal/megolm"
	"github.com/ccbackup/chatbackup/internal/megolm/megolmtest"
)

const (
	testUser  = "@backup:example.org"
	testToken = "syt_token"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// homeserver is a fake homeserver serving the endpoints used by the
// adapter.
type homeserver struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	device   string   // device id handed out on login
	logins   []string // device ids requested on login
	rooms    map[string]*fakeRoom
	joined   []string
	toDevice [][]Event // one batch per /sync
	syncs    int
	since    []string // since tokens received
	media    map[string][]byte
	legacy   bool // media only on the unauthenticated endpoint
	// throttle is the number of 429 responses before /messages succeeds.
	throttle int
	// onMessages is called before serving /messages.
	onMessages func(roomID, from string)
}

type fakeRoom struct {
	state   []Event
	members map[string]Member
	events  []Event
	deny    bool // 403 on everything
}

func newHomeserver(t *testing.T) *homeserver {
	t.Helper()
	hs := &homeserver{
		t:      t,
		device: "DEV1",
		rooms:  make(map[string]*fakeRoom),
		media:  make(map[string][]byte),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_matrix/client/v3/login", hs.login)
	mux.HandleFunc("GET /_matrix/client/v3/account/whoami", hs.auth(hs.whoami))
	mux.HandleFunc("GET /_matrix/client/v3/sync", hs.auth(hs.sync))
	mux.HandleFunc("GET /_matrix/client/v3/joined_rooms", hs.auth(hs.joinedRooms))
	mux.HandleFunc("GET /_matrix/client/v3/rooms/{room}/state", hs.auth(hs.roomState))
	mux.HandleFunc("GET /_matrix/client/v3/rooms/{room}/joined_members", hs.auth(hs.joinedMembers))
	mux.HandleFunc("GET /_matrix/client/v3/rooms/{room}/messages", hs.auth(hs.messages))
	mux.HandleFunc("GET /_matrix/client/v1/media/download/{server}/{id}", hs.auth(hs.download(false)))
	mux.HandleFunc("GET /_matrix/media/v3/download/{server}/{id}", hs.locked(hs.download(true)))
	hs.srv = httptest.NewServer(mux)
	t.Cleanup(hs.srv.Close)
	return hs
}

func (hs *homeserver) URL() string {
	return hs.srv.URL
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, errcode, msg string) {
	writeJSON(w, code, map[string]string{"errcode": errcode, "error": msg})
}

func (hs *homeserver) auth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			writeErr(w, http.StatusUnauthorized, "M_UNKNOWN_TOKEN", "Invalid access token")
			return
		}
		hs.locked(h)(w, r)
	}
}

func (hs *homeserver) locked(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hs.mu.Lock()
		defer hs.mu.Unlock()
		h(w, r)
	}
}

func (hs *homeserver) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "M_NOT_JSON", err.Error())
		return
	}
	if req.Password != "secret" {
		writeErr(w, http.StatusForbidden, "M_FORBIDDEN", "Invalid password")
		return
	}
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.logins = append(hs.logins, req.DeviceID)
	device := req.DeviceID
	if device == "" {
		device = hs.device
	}
	writeJSON(w, http.StatusOK, Session{UserID: testUser, DeviceID: device, AccessToken: testToken})
}

func (hs *homeserver) whoami(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Session{UserID: testUser, DeviceID: hs.device})
}

func (hs *homeserver) sync(w http.ResponseWriter, r *http.Request) {
	hs.since = append(hs.since, r.URL.Query().Get("since"))
	var resp syncResponse
	resp.ToDevice.Events = []Event{}
	if len(hs.toDevice) > 0 {
		resp.ToDevice.Events = hs.toDevice[0]
		hs.toDevice = hs.toDevice[1:]
		hs.syncs++
	}
	resp.NextBatch = "s" + strconv.Itoa(hs.syncs)
	writeJSON(w, http.StatusOK, resp)
}

func (hs *homeserver) joinedRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"joined_rooms": hs.joined})
}

func (hs *homeserver) room(w http.ResponseWriter, r *http.Request) (*fakeRoom, bool) {
	room, ok := hs.rooms[r.PathValue("room")]
	if !ok || room.deny {
		writeErr(w, http.StatusForbidden, "M_FORBIDDEN", "You are not in this room")
		return nil, false
	}
	return room, true
}

func (hs *homeserver) roomState(w http.ResponseWriter, r *http.Request) {
	if room, ok := hs.room(w, r); ok {
		writeJSON(w, http.StatusOK, room.state)
	}
}

func (hs *homeserver) joinedMembers(w http.ResponseWriter, r *http.Request) {
	if room, ok := hs.room(w, r); ok {
		writeJSON(w, http.StatusOK, map[string]any{"joined": room.members})
	}
}

// messages pages forward through the room events.  The tokens are "p" and
// the index of the next event.
func (hs *homeserver) messages(w http.ResponseWriter, r *http.Request) {
	if hs.throttle > 0 {
		hs.throttle--
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"errcode": "M_LIMIT_EXCEEDED", "error": "Too many requests", "retry_after_ms": 1})
		return
	}
	room, ok := hs.room(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	assert.Equal(hs.t, "f", q.Get("dir"))
	from := q.Get("from")
	if hs.onMessages != nil {
		hs.onMessages(r.PathValue("room"), from)
	}
	start := 0
	if from != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(from, "p"))
		if err != nil {
			writeErr(w, http.StatusBadRequest, "M_INVALID_PARAM", "bad token")
			return
		}
		start = n
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		writeErr(w, http.StatusBadRequest, "M_INVALID_PARAM", "bad limit")
		return
	}
	end := min(start+limit, len(room.events))
	start = min(start, end)
	resp := messagesResponse{Chunk: room.events[start:end], Start: from}
	if end > start {
		resp.End = "p" + strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (hs *homeserver) download(legacy bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hs.legacy != legacy {
			writeErr(w, http.StatusNotFound, "M_UNRECOGNIZED", "Unrecognized request")
			return
		}
		data, ok := hs.media[r.PathValue("server")+"/"+r.PathValue("id")]
		if !ok {
			writeErr(w, http.StatusNotFound, "M_NOT_FOUND", "Not found")
			return
		}
		_, _ = w.Write(data)
	}
}

// addRoom adds a joined room with the name.
func (hs *homeserver) addRoom(id, name string, members map[string]Member) *fakeRoom {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	room := &fakeRoom{members: members}
	if name != "" {
		room.state = append(room.state, stateEvent(evName, stateName{Name: name}))
	}
	hs.rooms[id] = room
	hs.joined = append(hs.joined, id)
	return room
}

func (hs *homeserver) append(roomID string, evts ...Event) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.rooms[roomID].events = append(hs.rooms[roomID].events, evts...)
}

// shareKey queues the room key of the session as a to-device event.  It
// must be called before the server is used or from onMessages.
func (hs *homeserver) shareKey(roomID string, o *megolmtest.OutboundSession) {
	hs.toDevice = append(hs.toDevice, []Event{roomKeyEvent(hs.t, roomID, o)})
}

func content(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func stateEvent(typ string, v any) Event {
	data, _ := json.Marshal(v)
	key := ""
	return Event{Type: typ, StateKey: &key, Sender: testUser, Content: data}
}

func ts(sec int) int64 {
	return t0.Add(time.Duration(sec) * time.Second).UnixMilli()
}

func newEvent(t *testing.T, id, typ, sender string, sec int, c any) Event {
	return Event{Type: typ, EventID: id, Sender: sender, TS: ts(sec), Content: content(t, c)}
}

func textEvent(t *testing.T, id, sender string, sec int, body string) Event {
	return newEvent(t, id, evMessage, sender, sec, map[string]any{"msgtype": "m.text", "body": body})
}

func newOutbound(t *testing.T) *megolmtest.OutboundSession {
	t.Helper()
	o, err := megolmtest.NewOutboundSession(rand.Reader)
	require.NoError(t, err)
	return o
}

// encryptedEvent encrypts the event content with the outbound session.
func encryptedEvent(t *testing.T, o *megolmtest.OutboundSession, roomID, id, sender string, sec int, typ string, c any) Event {
	t.Helper()
	pt := content(t, map[string]any{"type": typ, "room_id": roomID, "content": c})
	ct, err := o.Encrypt(pt)
	require.NoError(t, err)
	return newEvent(t, id, evEncrypted, sender, sec, map[string]any{
		"algorithm":  megolm.Algorithm,
		"sender_key": "c2VuZGVya2V5",
		"ciphertext": ct,
		"session_id": o.ID(),
		"device_id":  "ALICEDEV",
	})
}

func roomKeyEvent(t *testing.T, roomID string, o *megolmtest.OutboundSession) Event {
	return Event{
		Type:   evRoomKey,
		Sender: "@alice:example.org",
		Content: content(t, roomKeyContent{
			Algorithm:  megolm.Algorithm,
			RoomID:     roomID,
			SessionID:  o.ID(),
			SessionKey: o.SessionKey(),
		}),
	}
}
