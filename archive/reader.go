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

package archive

import (
	"fmt"
	"iter"
	"path/filepath"

	"github.com/ccbackup/chatbackup/types"
)

// Reader reads an archive.
type Reader struct {
	root string
	man  *Manifest
}

// OpenReader opens the archive at root for reading.
func OpenReader(root string) (*Reader, error) {
	m, err := readManifest(root)
	if err != nil {
		return nil, fmt.Errorf("not an archive: %w", err)
	}
	return &Reader{root: root, man: m}, nil
}

// Root returns the archive root directory.
func (r *Reader) Root() string {
	return r.root
}

// Manifest returns the archive manifest.
func (r *Reader) Manifest() Manifest {
	return *r.man
}

// Chat is a chat with its archive directory.
type Chat struct {
	types.Chat
	Dir string
}

// Chats returns the chats of the archive in manifest order.
func (r *Reader) Chats() ([]Chat, error) {
	out := make([]Chat, 0, len(r.man.Chats))
	for _, e := range r.man.Chats {
		c, err := readChat(filepath.Join(r.root, ChatsDir, e.Dir))
		if err != nil {
			return nil, fmt.Errorf("chat %s: %w", e.ID, err)
		}
		out = append(out, Chat{Chat: *c, Dir: e.Dir})
	}
	return out, nil
}

// Messages iterates over the message log of the chat directory.
func (r *Reader) Messages(dir string) iter.Seq2[types.Message, error] {
	return readLog[types.Message](filepath.Join(r.root, ChatsDir, dir, MessagesFile))
}

// Annotations iterates over the annotations of the chat directory.
func (r *Reader) Annotations(dir string) iter.Seq2[types.Annotation, error] {
	return readLog[types.Annotation](filepath.Join(r.root, ChatsDir, dir, AnnotationsFile))
}

// Users iterates over the users.
func (r *Reader) Users() iter.Seq2[types.User, error] {
	return readLog[types.User](filepath.Join(r.root, UsersFile))
}

// Emoji iterates over the emoji.
func (r *Reader) Emoji() iter.Seq2[types.Emoji, error] {
	return readLog[types.Emoji](filepath.Join(r.root, EmojiFile))
}
