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

// Package types contains the entity model shared by all source adapters and
// the archive writer.
package types

import (
	"fmt"
	"strings"
)

// SourceKind identifies the platform a chat was fetched from.
type SourceKind string

const (
	SourceGuild SourceKind = "guild" // guild chat platform (Discord)
	SourceRoom  SourceKind = "room"  // encrypted rooms (Matrix)
	SourceText  SourceKind = "text"  // text transcript export (WhatsApp)
)

func (s SourceKind) Valid() bool {
	switch s {
	case SourceGuild, SourceRoom, SourceText:
		return true
	}
	return false
}

// ChatKind is the kind of the chat.
type ChatKind string

const (
	CKGuildChannel ChatKind = "guild-channel"
	CKDirect       ChatKind = "direct"
	CKRoom         ChatKind = "room"
)

// Chat is a single conversation: a guild channel, a room or a transcript.
type Chat struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Kind   ChatKind `json:"kind"`
	Topic  string   `json:"topic,omitempty"`
	Avatar string   `json:"avatar,omitempty"` // archive-relative path

	// AvatarSource is the unresolved avatar location, it is consumed by the
	// attachment resolver and never written.
	AvatarSource *Source `json:"-"`
}

// String returns the chat name with its ID, for logging.
func (c Chat) String() string {
	if c.Name == "" {
		return c.ID
	}
	return fmt.Sprintf("%s (%s)", c.Name, c.ID)
}

// User is a message author.  Users are scoped to the source they were
// fetched from, two users from different sources are never merged.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ExternalID string `json:"external_id,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	Color      string `json:"color,omitempty"`
	Bot        bool   `json:"bot,omitempty"`

	AvatarSource *Source `json:"-"`
}

// Emoji is a reaction or inline emoji.  Unicode emoji use the character
// itself as the ID, custom emoji use the platform ID.
type Emoji struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Custom   bool   `json:"custom,omitempty"`
	Animated bool   `json:"animated,omitempty"`
	Image    string `json:"image,omitempty"`

	ImageSource *Source `json:"-"`
}

// Source is the location of a binary that is yet to be stored in the
// archive.  Exactly one of Local or URL is set.
type Source struct {
	Local  string  // absolute or input-relative filesystem path
	URL    string  // remote location
	Cipher *Cipher // set if the remote payload is encrypted
}

func (s *Source) String() string {
	if s == nil {
		return "<nil>"
	}
	if s.Local != "" {
		return s.Local
	}
	return s.URL
}

// IsZero reports whether the source points nowhere.
func (s *Source) IsZero() bool {
	return s == nil || (s.Local == "" && strings.TrimSpace(s.URL) == "")
}

// Cipher describes an AES-256-CTR encrypted payload.
type Cipher struct {
	Key    []byte
	IV     []byte
	SHA256 []byte // hash of the ciphertext
}

// ResumeState is the position in the source from which fetching continues.
// Cursor is opaque to everything but the adapter that produced it.
type ResumeState struct {
	Cursor string `json:"cursor,omitempty"`
	LastID string `json:"last_id,omitempty"`
}

func (r ResumeState) IsZero() bool {
	return r.Cursor == "" && r.LastID == ""
}
