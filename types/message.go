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

package types

import (
	"mime"
	"path"
	"strings"
	"time"
)

// MessageType is the type of the message record.
type MessageType string

const (
	MTDefault       MessageType = "default"
	MTRedacted      MessageType = "redacted"
	MTUndecryptable MessageType = "undecryptable"
	MTSystem        MessageType = "system"
)

// Message is a single message in a chat.
type Message struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chat_id"`
	AuthorID    string       `json:"author_id"`
	Timestamp   time.Time    `json:"ts"`
	Type        MessageType  `json:"type"`
	Body        string       `json:"body"`
	Formatted   string       `json:"formatted,omitempty"` // HTML
	ReplyTo     string       `json:"reply_to,omitempty"`  // best effort, may point outside the archive
	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	Edited      *time.Time   `json:"edited,omitempty"`
}

// Reaction is a single user reacting with an emoji.  UserID may be empty if
// the reacting users were not fetched.
type Reaction struct {
	UserID string `json:"user_id,omitempty"`
	Emoji  string `json:"emoji"` // Emoji.ID
}

// AddReaction appends the reaction unless the same user already reacted
// with the same emoji.
func (m *Message) AddReaction(r Reaction) {
	for _, have := range m.Reactions {
		if have == r {
			return
		}
	}
	m.Reactions = append(m.Reactions, r)
}

// AttachmentKind is the broad media type of an attachment.
type AttachmentKind string

const (
	AKImage AttachmentKind = "image"
	AKVideo AttachmentKind = "video"
	AKAudio AttachmentKind = "audio"
	AKFile  AttachmentKind = "file"
)

// Attachment is a binary payload that belongs to a message.  Path is
// relative to the archive root and empty if the attachment is missing.
type Attachment struct {
	ID      string         `json:"id"`
	ChatID  string         `json:"chat_id"`
	Path    string         `json:"path,omitempty"`
	Name    string         `json:"name"`
	Kind    AttachmentKind `json:"kind"`
	Size    int64          `json:"size,omitempty"`
	SHA256  string         `json:"sha256,omitempty"`
	Missing bool           `json:"missing,omitempty"`

	Source *Source `json:"-"`
}

// mediaExt covers extensions that are missing from the mime tables on
// some systems.
var mediaExt = map[string]AttachmentKind{
	".opus": AKAudio, ".ogg": AKAudio, ".mp3": AKAudio, ".m4a": AKAudio, ".aac": AKAudio, ".wav": AKAudio,
	".mp4": AKVideo, ".webm": AKVideo, ".mov": AKVideo, ".3gp": AKVideo, ".mkv": AKVideo,
	".jpg": AKImage, ".jpeg": AKImage, ".png": AKImage, ".gif": AKImage, ".webp": AKImage,
}

// KindOf guesses the attachment kind from the content type or, if it is
// empty, from the filename extension.
func KindOf(contentType, filename string) AttachmentKind {
	if contentType == "" {
		ext := strings.ToLower(path.Ext(filename))
		if k, ok := mediaExt[ext]; ok {
			return k
		}
		contentType = mime.TypeByExtension(ext)
	}
	major, _, _ := strings.Cut(contentType, "/")
	switch major {
	case "image":
		return AKImage
	case "video":
		return AKVideo
	case "audio":
		return AKAudio
	}
	return AKFile
}

// AnnotationKind is the kind of late relation.
type AnnotationKind string

const (
	AnnReaction  AnnotationKind = "reaction"
	AnnEdit      AnnotationKind = "edit"
	AnnRedaction AnnotationKind = "redaction"
)

// Annotation is a relation to a message that was already written to the
// archive, i.e. a reaction, an edit or a redaction that arrived in a later
// page.  Written messages are never modified, annotations are appended to
// a separate log instead.
type Annotation struct {
	Kind      AnnotationKind `json:"kind"`
	TargetID  string         `json:"target_id"`
	AuthorID  string         `json:"author_id,omitempty"`
	Timestamp time.Time      `json:"ts"`
	Value     string         `json:"value,omitempty"`
}

// Batch is one page worth of entities produced by an adapter.  Resume is the
// state that becomes valid once the batch is durably written.
type Batch struct {
	Chat        *Chat
	Users       []User
	Emoji       []Emoji
	Messages    []Message
	Annotations []Annotation
	Resume      ResumeState
}

// IsEmpty returns true if the batch carries no entities.
func (b *Batch) IsEmpty() bool {
	return b == nil || (b.Chat == nil && len(b.Users) == 0 && len(b.Emoji) == 0 && len(b.Messages) == 0 && len(b.Annotations) == 0)
}
