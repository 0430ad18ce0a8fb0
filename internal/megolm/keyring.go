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

package megolm

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Keyring holds the inbound group sessions of one device.  It is safe for
// concurrent use.  The keyring is an explicit value: the caller owns it,
// persists it with Marshal and restores it with Unmarshal.
type Keyring struct {
	mu       sync.RWMutex
	sessions map[string]*InboundSession
	// seen maps session key and message index to the event id, to detect
	// replays.  It is not persisted.
	seen  map[string]map[uint32]string
	dirty bool
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{
		sessions: make(map[string]*InboundSession),
		seen:     make(map[string]map[uint32]string),
	}
}

func sessionKey(roomID, sessionID string) string {
	return roomID + "|" + sessionID
}

// Add adds the session to the keyring.  If a session with the same ID is
// already present, the one that can decrypt more messages (the lower first
// index) wins.  It returns true if the keyring changed.
func (k *Keyring) Add(s *InboundSession) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	key := sessionKey(s.RoomID, s.ID)
	if have, ok := k.sessions[key]; ok && have.FirstKnownIndex() <= s.FirstKnownIndex() {
		return false
	}
	k.sessions[key] = s
	k.dirty = true
	return true
}

// Session returns the session for the room and session id.
func (k *Keyring) Session(roomID, sessionID string) (*InboundSession, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.sessions[sessionKey(roomID, sessionID)]
	return s, ok
}

// Len returns the number of sessions.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.sessions)
}

// Dirty reports whether the keyring changed since the last Marshal.
func (k *Keyring) Dirty() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.dirty
}

// Decrypt decrypts the ciphertext of the event with eventID.  A message
// index that was already used by a different event is rejected as a replay.
func (k *Keyring) Decrypt(roomID, sessionID, eventID, ciphertext string) ([]byte, error) {
	s, ok := k.Session(roomID, sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	pt, idx, err := s.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	key := sessionKey(roomID, sessionID)
	m, ok := k.seen[key]
	if !ok {
		m = make(map[uint32]string)
		k.seen[key] = m
	}
	if prev, ok := m[idx]; ok && prev != eventID {
		return nil, fmt.Errorf("%w: index %d used by %s and %s", ErrReplay, idx, prev, eventID)
	}
	m[idx] = eventID
	return pt, nil
}

type keyringJSON struct {
	Sessions []*InboundSession `json:"sessions"`
}

// Marshal serialises the keyring and clears the dirty flag.
func (k *Keyring) Marshal() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	kj := keyringJSON{Sessions: make([]*InboundSession, 0, len(k.sessions))}
	for _, s := range k.sessions {
		s.flatten()
		kj.Sessions = append(kj.Sessions, s)
	}
	data, err := json.Marshal(kj)
	if err != nil {
		return nil, err
	}
	k.dirty = false
	return data, nil
}

// MarshalJSON implements json.Marshaler.
func (k *Keyring) MarshalJSON() ([]byte, error) {
	return k.Marshal()
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *Keyring) UnmarshalJSON(data []byte) error {
	var kj keyringJSON
	if err := json.Unmarshal(data, &kj); err != nil {
		return err
	}
	nk := NewKeyring()
	for _, s := range kj.Sessions {
		if err := s.unflatten(); err != nil {
			return fmt.Errorf("session %s: %w", s.ID, err)
		}
		nk.sessions[sessionKey(s.RoomID, s.ID)] = s
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sessions = nk.sessions
	k.seen = nk.seen
	k.dirty = false
	return nil
}
