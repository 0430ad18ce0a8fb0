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
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// Event types.
const (
	evMessage         = "m.room.message"
	evEncrypted       = "m.room.encrypted"
	evReaction        = "m.reaction"
	evRedaction       = "m.room.redaction"
	evSticker         = "m.sticker"
	evName            = "m.room.name"
	evTopic           = "m.room.topic"
	evAvatar          = "m.room.avatar"
	evCanonicalAlias  = "m.room.canonical_alias"
	evRoomKey         = "m.room_key"
	evForwardedKey    = "m.forwarded_room_key"
	relReplace        = "m.replace"
	relAnnotation     = "m.annotation"
	formatHTML        = "org.matrix.custom.html"
	olmAlgorithmV1    = "m.olm.v1.curve25519-aes-sha2"
	replyFallbackHTML = "</mx-reply>"
)

// Event is a room, state or to-device event.
type Event struct {
	Type     string          `json:"type"`
	EventID  string          `json:"event_id,omitempty"`
	Sender   string          `json:"sender,omitempty"`
	TS       int64           `json:"origin_server_ts,omitempty"`
	StateKey *string         `json:"state_key,omitempty"`
	Redacts  string          `json:"redacts,omitempty"`
	Content  json.RawMessage `json:"content"`
	Unsigned unsigned        `json:"unsigned,omitzero"`
}

type unsigned struct {
	RedactedBecause json.RawMessage `json:"redacted_because,omitempty"`
}

func (e *Event) Time() time.Time {
	return time.UnixMilli(e.TS).UTC()
}

func (e *Event) redacted() bool {
	return len(e.Unsigned.RedactedBecause) > 0
}

type relatesTo struct {
	RelType   string `json:"rel_type,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Key       string `json:"key,omitempty"`
	InReplyTo *struct {
		EventID string `json:"event_id"`
	} `json:"m.in_reply_to,omitempty"`
}

type mediaInfo struct {
	Mimetype string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// encryptedFile is the EncryptedFile of encrypted media.
type encryptedFile struct {
	URL string `json:"url"`
	Key struct {
		K string `json:"k"`
	} `json:"key"`
	IV     string            `json:"iv"`
	Hashes map[string]string `json:"hashes"`
}

type messageContent struct {
	MsgType       string          `json:"msgtype"`
	Body          string          `json:"body"`
	Format        string          `json:"format,omitempty"`
	FormattedBody string          `json:"formatted_body,omitempty"`
	Filename      string          `json:"filename,omitempty"`
	URL           string          `json:"url,omitempty"`
	File          *encryptedFile  `json:"file,omitempty"`
	Info          *mediaInfo      `json:"info,omitempty"`
	RelatesTo     *relatesTo      `json:"m.relates_to,omitempty"`
	NewContent    *messageContent `json:"m.new_content,omitempty"`
}

type encryptedContent struct {
	Algorithm  string `json:"algorithm"`
	SenderKey  string `json:"sender_key"`
	Ciphertext any    `json:"ciphertext"` // string for megolm, map for olm
	SessionID  string `json:"session_id"`
	DeviceID   string `json:"device_id"`
}

type roomKeyContent struct {
	Algorithm  string `json:"algorithm"`
	RoomID     string `json:"room_id"`
	SessionID  string `json:"session_id"`
	SessionKey string `json:"session_key"`
	SenderKey  string `json:"sender_key,omitempty"` // forwarded keys only
}

// decryptedEvent is the plaintext of a megolm message.
type decryptedEvent struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Content json.RawMessage `json:"content"`
}

type stateName struct {
	Name string `json:"name"`
}

type stateTopic struct {
	Topic string `json:"topic"`
}

type stateAvatar struct {
	URL string `json:"url"`
}

type stateAlias struct {
	Alias string `json:"alias"`
}

// stripReplyFallback removes the quoted reply fallback from the message
// body and the formatted body.
func stripReplyFallback(body, formatted string) (string, string) {
	if strings.HasPrefix(body, "> ") {
		lines := strings.Split(body, "\n")
		i := 0
		for i < len(lines) && strings.HasPrefix(lines[i], ">") {
			i++
		}
		if i < len(lines) && lines[i] == "" {
			body = strings.Join(lines[i+1:], "\n")
		}
	}
	if _, after, ok := strings.Cut(formatted, replyFallbackHTML); ok {
		formatted = after
	}
	return body, formatted
}

// decodeB64 decodes the base64 variants found in EncryptedFile.
func decodeB64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// localpart returns the user name part of "@name:server".
func localpart(userID string) string {
	s := strings.TrimPrefix(userID, "@")
	if name, _, ok := strings.Cut(s, ":"); ok {
		return name
	}
	return s
}
