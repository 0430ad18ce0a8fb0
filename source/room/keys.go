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
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/ccbackup/chatbackup/internal/fail"
	"github.com/ccbackup/chatbackup/internal/megolm"
	"github.com/ccbackup/chatbackup/internal/state"
	"github.com/ccbackup/chatbackup/types"
)

// maxSyncRounds bounds the number of /sync requests in one key sync.
const maxSyncRounds = 100

// keySource owns the device state: the keyring and the sync token.  Both
// are persisted together after every sync batch, because room keys are
// never resent.
type keySource struct {
	mu    sync.Mutex
	cl    *Client
	st    *state.Store
	ring  *megolm.Keyring
	since string

	keysKey  string
	sinceKey string
	lg       *slog.Logger

	skipped int // olm encrypted to-device events
}

// loadKeys restores the device state of the session.
func loadKeys(cl *Client, st *state.Store, s Session, lg *slog.Logger) (*keySource, error) {
	scope := s.UserID + "/" + s.DeviceID
	k := &keySource{
		cl:       cl,
		st:       st,
		ring:     megolm.NewKeyring(),
		keysKey:  state.DeviceKey(types.SourceRoom, scope+"/keys"),
		sinceKey: state.DeviceKey(types.SourceRoom, scope+"/since"),
		lg:       lg,
	}
	if _, err := st.Get(k.keysKey, k.ring); err != nil {
		return nil, err
	}
	if _, err := st.Get(k.sinceKey, &k.since); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *keySource) save() error {
	return k.st.PutMany(map[string]any{
		k.keysKey:  k.ring,
		k.sinceKey: k.since,
	})
}

// Import adds the sessions from a key export.
func (k *keySource) Import(sessions []megolm.ExportedSession) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	n, err := k.ring.ImportSessions(sessions)
	if n > 0 {
		if err := k.save(); err != nil {
			return n, err
		}
	}
	return n, err
}

// Sync pulls the pending to-device events and adds the room keys to the
// keyring.  The state is persisted after every batch of events that moved
// the sync token or changed the keyring.
func (k *keySource) Sync(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for range maxSyncRounds {
		resp, err := k.cl.Sync(ctx, k.since)
		if err != nil {
			return err
		}
		var added int
		for _, ev := range resp.ToDevice.Events {
			if k.add(ctx, &ev) {
				added++
			}
		}
		done := resp.NextBatch == "" || resp.NextBatch == k.since || len(resp.ToDevice.Events) == 0
		moved := resp.NextBatch != "" && resp.NextBatch != k.since
		if moved {
			k.since = resp.NextBatch
		}
		if moved || k.ring.Dirty() {
			if err := k.save(); err != nil {
				return err
			}
		}
		if added > 0 {
			k.lg.DebugContext(ctx, "room keys received", "added", added, "total", k.ring.Len())
		}
		if done {
			return nil
		}
	}
	return nil
}

// add handles one to-device event, it returns true if a key was added.
func (k *keySource) add(ctx context.Context, ev *Event) bool {
	switch ev.Type {
	case evRoomKey, evForwardedKey:
	case evEncrypted:
		k.skipped++
		k.lg.DebugContext(ctx, "skipping olm encrypted to-device event", "sender", ev.Sender, "error", fail.Corrupt("to-device event", errors.New(olmAlgorithmV1+" is not supported")))
		return false
	default:
		return false
	}
	var rk roomKeyContent
	if err := json.Unmarshal(ev.Content, &rk); err != nil {
		k.lg.WarnContext(ctx, "malformed room key", "sender", ev.Sender, "error", fail.Corrupt(ev.Type, err))
		return false
	}
	if rk.Algorithm != megolm.Algorithm {
		return false
	}
	s, err := megolm.NewInboundSession(rk.RoomID, rk.SenderKey, rk.SessionKey)
	if err != nil {
		k.lg.WarnContext(ctx, "invalid room key", "room", rk.RoomID, "session", rk.SessionID, "error", fail.Corrupt(ev.Type, err))
		return false
	}
	if rk.SessionID != "" && rk.SessionID != s.ID {
		k.lg.WarnContext(ctx, "room key session id mismatch", "room", rk.RoomID, "session", rk.SessionID)
		return false
	}
	return k.ring.Add(s)
}

// decrypt decrypts the megolm event.
func (k *keySource) decrypt(roomID string, ev *Event) (*decryptedEvent, error) {
	var ec encryptedContent
	if err := json.Unmarshal(ev.Content, &ec); err != nil {
		return nil, err
	}
	if ec.Algorithm != megolm.Algorithm {
		return nil, errors.New("unsupported algorithm " + ec.Algorithm)
	}
	ct, ok := ec.Ciphertext.(string)
	if !ok {
		return nil, errors.New("unexpected ciphertext")
	}
	pt, err := k.ring.Decrypt(roomID, ec.SessionID, ev.EventID, ct)
	if err != nil {
		return nil, err
	}
	var de decryptedEvent
	if err := json.Unmarshal(pt, &de); err != nil {
		return nil, err
	}
	if de.RoomID != "" && de.RoomID != roomID {
		return nil, errors.New("event was encrypted for another room")
	}
	return &de, nil
}
