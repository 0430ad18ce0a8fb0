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

// Package state is the session and resume state store.  It persists the
// pagination cursors of every chat and the cryptographic session material
// of encrypted sources across runs.
//
// The store is partitioned by (source, scope) keys.  Every write is synced
// to disk before the call returns.
package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/ccbackup/chatbackup/types"
)

const (
	nsResume = "resume"
	nsDevice = "device"
)

// Store is the persistent state store.
type Store struct {
	db *pebble.DB
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key returns the key for the (source, scope) partition in namespace ns.
func Key(ns string, source types.SourceKind, scope string) string {
	return ns + "/" + string(source) + "/" + scope
}

// ResumeKey is the key of the chat resume state.
func ResumeKey(source types.SourceKind, chatID string) string {
	return Key(nsResume, source, chatID)
}

// DeviceKey is the key of the device-level session state.
func DeviceKey(source types.SourceKind, device string) string {
	return Key(nsDevice, source, device)
}

// Get loads the JSON value stored under key into v.  It returns false if
// the key does not exist.
func (s *Store) Get(key string, v any) (bool, error) {
	data, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("state: get %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

// Put stores v under key and syncs it.
func (s *Store) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("state: put %s: %w", key, err)
	}
	return nil
}

// PutMany stores all values atomically.
func (s *Store) PutMany(kv map[string]any) error {
	b := s.db.NewBatch()
	defer b.Close()
	for k, v := range kv {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("state: encode %s: %w", k, err)
		}
		if err := b.Set([]byte(k), data, nil); err != nil {
			return fmt.Errorf("state: batch %s: %w", k, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Resume returns the resume state of the chat, or the zero value if the chat
// was never fetched.
func (s *Store) Resume(source types.SourceKind, chatID string) (types.ResumeState, error) {
	var rs types.ResumeState
	if _, err := s.Get(ResumeKey(source, chatID), &rs); err != nil {
		return types.ResumeState{}, err
	}
	return rs, nil
}

// SaveResume persists the resume state of the chat.  Must be called only
// after the entities it corresponds to are durably written.
func (s *Store) SaveResume(source types.SourceKind, chatID string, rs types.ResumeState) error {
	return s.Put(ResumeKey(source, chatID), rs)
}

// ResetResume removes the resume state of every chat of the source, the
// next run fetches the chats from the beginning.  It returns the number of
// chats reset.
func (s *Store) ResetResume(source types.SourceKind) (int, error) {
	kk, err := s.keys(Key(nsResume, source, ""))
	if err != nil {
		return 0, err
	}
	if len(kk) == 0 {
		return 0, nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, k := range kk {
		if err := b.Delete([]byte(k), nil); err != nil {
			return 0, fmt.Errorf("state: batch %s: %w", k, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("state: commit: %w", err)
	}
	return len(kk), nil
}

// keys returns all keys with the given prefix in key order.
func (s *Store) keys(prefix string) ([]string, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("state: iter %s: %w", prefix, err)
	}
	var kk []string
	for it.First(); it.Valid(); it.Next() {
		kk = append(kk, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		it.Close()
		return nil, fmt.Errorf("state: iter %s: %w", prefix, err)
	}
	return kk, it.Close()
}

// upperBound returns the smallest key greater than all keys with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // no upper bound
}
