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

// Package archive implements the backup archive writer and reader.
//
// Archive layout, all paths are relative to the root and use forward
// slashes:
//
//	manifest.json                     source, generation time, chats
//	users.jsonl                       users, one per line
//	emoji.jsonl                       emoji, one per line
//	avatars/ emoji/                   images
//	attachments/<chat dir>/           deduplicated attachments
//	chats/<chat dir>/chat.json        chat metadata
//	chats/<chat dir>/messages.jsonl   ordered message log
//	chats/<chat dir>/annotations.jsonl
//	backup.db                         search index
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/ccbackup/chatbackup/internal/osext"
	"github.com/ccbackup/chatbackup/types"
)

const (
	Version   = 1
	Generator = "chatbackup"
)

const (
	ManifestFile    = "manifest.json"
	UsersFile       = "users.jsonl"
	EmojiFile       = "emoji.jsonl"
	ChatsDir        = "chats"
	ChatFile        = "chat.json"
	MessagesFile    = "messages.jsonl"
	AnnotationsFile = "annotations.jsonl"
	IndexFile       = "backup.db"
)

var (
	ErrSourceMismatch = errors.New("archive belongs to a different source")
	ErrDangling       = errors.New("attachment is not stored")
	ErrClosed         = errors.New("archive is closed")
)

// Manifest is the archive manifest.
type Manifest struct {
	Source      types.SourceKind `json:"source"`
	Version     int              `json:"version"`
	Generator   string           `json:"generator"`
	GeneratedAt time.Time        `json:"generated_at"`
	Name        string           `json:"name,omitempty"`
	Icon        string           `json:"icon,omitempty"`
	Chats       []ChatEntry      `json:"chats"`
}

// ChatEntry is the manifest entry of a chat.
type ChatEntry struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Kind     types.ChatKind `json:"kind"`
	Dir      string         `json:"dir"`
	Messages int            `json:"messages"`
}

func (m *Manifest) entry(id string) (int, bool) {
	idx := slices.IndexFunc(m.Chats, func(e ChatEntry) bool { return e.ID == id })
	return idx, idx >= 0
}

func (m *Manifest) dirTaken(dir string) bool {
	return slices.ContainsFunc(m.Chats, func(e ChatEntry) bool { return e.Dir == dir })
}

func readManifest(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", ManifestFile, err)
	}
	return &m, nil
}

// Writer writes the archive.  The methods of the Writer are safe for
// concurrent use, each ChatWriter must be used by one goroutine.
type Writer struct {
	root string

	mu       sync.Mutex
	man      Manifest
	users    *jsonlog
	userIDs  map[string]struct{}
	emoji    *jsonlog
	emojiIDs map[string]struct{}
	chats    map[string]*ChatWriter
	closed   bool
}

// Open opens the archive at root, or creates a new one.  An existing archive
// must have been created from the same source.
func Open(root string, src types.SourceKind) (*Writer, error) {
	if err := os.MkdirAll(filepath.Join(root, ChatsDir), 0o755); err != nil {
		return nil, err
	}
	w := &Writer{
		root:     root,
		userIDs:  make(map[string]struct{}),
		emojiIDs: make(map[string]struct{}),
		chats:    make(map[string]*ChatWriter),
	}
	if m, err := readManifest(root); err == nil {
		if m.Source != src {
			return nil, fmt.Errorf("%w: %s, want %s", ErrSourceMismatch, m.Source, src)
		}
		w.man = *m
	} else if errors.Is(err, os.ErrNotExist) {
		w.man = Manifest{Source: src, Version: Version, Generator: Generator, Chats: []ChatEntry{}}
	} else {
		return nil, err
	}

	var err error
	if w.users, err = openLog(filepath.Join(root, UsersFile), idCollector(w.userIDs)); err != nil {
		return nil, err
	}
	if w.emoji, err = openLog(filepath.Join(root, EmojiFile), idCollector(w.emojiIDs)); err != nil {
		w.users.Close()
		return nil, err
	}
	return w, nil
}

// idCollector returns a log line callback that records the "id" of each
// record.
func idCollector(ids map[string]struct{}) func([]byte) error {
	return func(line []byte) error {
		var rec struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		ids[rec.ID] = struct{}{}
		return nil
	}
}

// Root returns the archive root directory.
func (w *Writer) Root() string {
	return w.root
}

// SetInfo sets the name and the icon path of the source container.
func (w *Writer) SetInfo(name, icon string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.man.Name = name
	w.man.Icon = icon
	return w.writeManifest()
}

// writeManifest must be called with w.mu held.
func (w *Writer) writeManifest() error {
	w.man.GeneratedAt = time.Now().UTC()
	data, err := json.MarshalIndent(w.man, "", "  ")
	if err != nil {
		return err
	}
	return osext.WriteFileAtomic(filepath.Join(w.root, ManifestFile), data, 0o644)
}

// Chat opens the chat for writing.  The chat keeps its directory across
// runs.
func (w *Writer) Chat(chat types.Chat) (*ChatWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	if cw, ok := w.chats[chat.ID]; ok {
		return cw, nil
	}
	var dir string
	if idx, ok := w.man.entry(chat.ID); ok {
		dir = w.man.Chats[idx].Dir
		w.man.Chats[idx].Name = chat.Name
	} else {
		dir = w.chatDir(chat)
		w.man.Chats = append(w.man.Chats, ChatEntry{ID: chat.ID, Name: chat.Name, Kind: chat.Kind, Dir: dir})
	}
	cw, err := openChat(w, dir, chat)
	if err != nil {
		return nil, err
	}
	if err := w.writeManifest(); err != nil {
		cw.close()
		return nil, err
	}
	w.chats[chat.ID] = cw
	return cw, nil
}

// chatDir picks a directory name for a new chat.
func (w *Writer) chatDir(chat types.Chat) string {
	dir := osext.SanitizeFilename(chat.Name)
	if chat.Name == "" {
		dir = osext.SanitizeFilename(chat.ID)
	}
	if !w.man.dirTaken(dir) {
		return dir
	}
	base := osext.SanitizeFilename(chat.Name + "-" + chat.ID)
	dir = base
	for i := 2; w.man.dirTaken(dir); i++ {
		dir = fmt.Sprintf("%s-%d", base, i)
	}
	return dir
}

// addUsers appends the users that are not in the archive yet.
func (w *Writer) addUsers(users []types.User) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var recs []any
	for _, u := range users {
		if _, ok := w.userIDs[u.ID]; ok {
			continue
		}
		recs = append(recs, u)
	}
	if err := w.users.Append(recs...); err != nil {
		return fmt.Errorf("users: %w", err)
	}
	for _, u := range users {
		w.userIDs[u.ID] = struct{}{}
	}
	return nil
}

// addEmoji appends the emoji that are not in the archive yet.
func (w *Writer) addEmoji(emoji []types.Emoji) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var recs []any
	for _, e := range emoji {
		if _, ok := w.emojiIDs[e.ID]; ok {
			continue
		}
		recs = append(recs, e)
	}
	if err := w.emoji.Append(recs...); err != nil {
		return fmt.Errorf("emoji: %w", err)
	}
	for _, e := range emoji {
		w.emojiIDs[e.ID] = struct{}{}
	}
	return nil
}

// stored verifies that the archive-relative path points to a stored file.
func (w *Writer) stored(p string) error {
	if p == "" || path.IsAbs(p) || filepath.IsAbs(p) || !filepath.IsLocal(filepath.FromSlash(p)) {
		return fmt.Errorf("%w: invalid path %q", ErrDangling, p)
	}
	fi, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(p)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDangling, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a file", ErrDangling, p)
	}
	return nil
}

// Close closes all chats and writes the final manifest.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	var errs []error
	for id, cw := range w.chats {
		if idx, ok := w.man.entry(id); ok {
			w.man.Chats[idx].Messages = len(cw.seen)
		}
		errs = append(errs, cw.close())
	}
	errs = append(errs, w.writeManifest(), w.users.Close(), w.emoji.Close())
	return errors.Join(errs...)
}

// ChatWriter writes one chat.
type ChatWriter struct {
	w    *Writer
	dir  string
	chat types.Chat

	msgs *jsonlog
	ann  *jsonlog
	seen map[string]struct{}
	last time.Time
}

func openChat(w *Writer, dir string, chat types.Chat) (*ChatWriter, error) {
	full := filepath.Join(w.root, ChatsDir, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return nil, err
	}
	cw := &ChatWriter{
		w:    w,
		dir:  dir,
		chat: chat,
		seen: make(map[string]struct{}),
	}
	if old, err := readChat(full); err == nil {
		// keep the resolved avatar of the previous run
		if cw.chat.Avatar == "" {
			cw.chat.Avatar = old.Avatar
		}
	}
	var err error
	cw.msgs, err = openLog(filepath.Join(full, MessagesFile), func(line []byte) error {
		var rec struct {
			ID string    `json:"id"`
			TS time.Time `json:"ts"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		cw.seen[rec.ID] = struct{}{}
		if rec.TS.After(cw.last) {
			cw.last = rec.TS
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cw.ann, err = openLog(filepath.Join(full, AnnotationsFile), nil); err != nil {
		cw.msgs.Close()
		return nil, err
	}
	if err := cw.writeChat(); err != nil {
		cw.close()
		return nil, err
	}
	return cw, nil
}

func readChat(dir string) (*types.Chat, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChatFile))
	if err != nil {
		return nil, err
	}
	var c types.Chat
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (cw *ChatWriter) writeChat() error {
	data, err := json.MarshalIndent(cw.chat, "", "  ")
	if err != nil {
		return err
	}
	return osext.WriteFileAtomic(filepath.Join(cw.w.root, ChatsDir, cw.dir, ChatFile), data, 0o644)
}

// Dir returns the chat directory name.
func (cw *ChatWriter) Dir() string {
	return cw.dir
}

// Seen returns the set of message ids in the chat log.  The caller must not
// modify it.
func (cw *ChatWriter) Seen() map[string]struct{} {
	return cw.seen
}

// Last returns the timestamp of the latest message in the chat log.
func (cw *ChatWriter) Last() time.Time {
	return cw.last
}

// Len returns the number of messages in the chat log.
func (cw *ChatWriter) Len() int {
	return len(cw.seen)
}

// Commit durably writes the batch.  Every attachment referenced by the
// messages must already be stored, otherwise nothing is written.  Messages
// that are already in the log are skipped.  When Commit returns without
// error, the resume state of the batch may be persisted.
func (cw *ChatWriter) Commit(b *types.Batch) error {
	if b.IsEmpty() {
		return nil
	}
	var msgs []any
	for i := range b.Messages {
		m := &b.Messages[i]
		if _, ok := cw.seen[m.ID]; ok {
			continue
		}
		m.ChatID = cw.chat.ID
		for j := range m.Attachments {
			a := &m.Attachments[j]
			a.ChatID = cw.chat.ID
			if a.Missing {
				continue
			}
			if err := cw.w.stored(a.Path); err != nil {
				return fmt.Errorf("message %s: %w", m.ID, err)
			}
		}
		msgs = append(msgs, m)
	}

	if b.Chat != nil {
		avatar := cw.chat.Avatar
		cw.chat = *b.Chat
		if cw.chat.Avatar == "" {
			cw.chat.Avatar = avatar
		}
		if err := cw.writeChat(); err != nil {
			return err
		}
	}
	if err := cw.w.addUsers(b.Users); err != nil {
		return err
	}
	if err := cw.w.addEmoji(b.Emoji); err != nil {
		return err
	}
	if err := cw.msgs.Append(msgs...); err != nil {
		return fmt.Errorf("messages: %w", err)
	}
	for _, m := range msgs {
		msg := m.(*types.Message)
		cw.seen[msg.ID] = struct{}{}
		if msg.Timestamp.After(cw.last) {
			cw.last = msg.Timestamp
		}
	}
	if len(b.Annotations) > 0 {
		anns := make([]any, len(b.Annotations))
		for i := range b.Annotations {
			anns[i] = &b.Annotations[i]
		}
		if err := cw.ann.Append(anns...); err != nil {
			return fmt.Errorf("annotations: %w", err)
		}
	}
	return nil
}

func (cw *ChatWriter) close() error {
	return errors.Join(cw.msgs.Close(), cw.ann.Close())
}
