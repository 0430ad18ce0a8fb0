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

// Package textexport is the adapter for plain text chat transcripts in the
// WhatsApp "Export chat" format:
//
//	31/12/23, 23:59 - Alice: Happy new year!
//	01/01/24, 00:01 - Bob: IMG-20240101-WA0001.jpg (file attached)
//	Fireworks
//
// Media files are expected next to the transcript.  The format has no user
// identifiers, no reply references and no chat metadata: senders are
// identified by their display name, which is also the key into the declared
// metadata.
package textexport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ccbackup/chatbackup/downloader"
	"github.com/ccbackup/chatbackup/internal/fail"
	"github.com/ccbackup/chatbackup/internal/metadata"
	"github.com/ccbackup/chatbackup/source"
	"github.com/ccbackup/chatbackup/types"
)

const defBatchSize = 500

// namespace is the UUID namespace of the deterministic identifiers.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ccbackup/chatbackup/text"))

var ErrNoTranscripts = errors.New("no transcripts found")

// Config is the adapter configuration.
type Config struct {
	// Root is the input directory.
	Root string
	// Layouts are the timestamp layouts, DefaultLayouts if empty.
	Layouts []string
	// Location is the time zone of the timestamps, time.Local if nil.
	Location *time.Location
	// SystemMessages enables recording of system lines.
	SystemMessages bool
	// BatchSize is the number of messages per batch.
	BatchSize int
}

// Adapter reads transcripts.
type Adapter struct {
	cfg      Config
	resolver *metadata.Resolver
	chats    []transcript
	lg       *slog.Logger
}

type transcript struct {
	chat     types.Chat
	filename string
}

// New scans the root directory for transcripts.
func New(cfg Config, resolver *metadata.Resolver) (*Adapter, error) {
	if len(cfg.Layouts) == 0 {
		cfg.Layouts = DefaultLayouts
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defBatchSize
	}
	if resolver == nil {
		resolver = metadata.NewResolver(nil, nil, cfg.Root)
	}
	a := &Adapter{cfg: cfg, resolver: resolver, lg: slog.Default()}
	files, err := findTranscripts(cfg.Root)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fail.Unavailable(cfg.Root, ErrNoTranscripts)
	}
	ids := make(map[string]struct{}, len(files))
	for _, fn := range files {
		name := ChatName(fn)
		id := ChatID(name)
		if _, dup := ids[id]; dup {
			rel, _ := filepath.Rel(cfg.Root, fn)
			id = uuid.NewSHA1(namespace, []byte("chat-path:"+filepath.ToSlash(rel))).String()
		}
		ids[id] = struct{}{}
		a.chats = append(a.chats, transcript{
			chat:     types.Chat{ID: id, Name: name, Kind: types.CKDirect},
			filename: fn,
		})
	}
	return a, nil
}

func findTranscripts(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".txt") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fail.Unavailable(root, err)
	}
	slices.Sort(files)
	return files, nil
}

var reChatName = regexp.MustCompile(`^WhatsApp Chat (?:with|-) (.+)$`)

// ChatName derives the chat name from the transcript filename.
func ChatName(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if stem == "_chat" {
		// iOS exports are named after the directory
		stem = filepath.Base(filepath.Dir(filename))
	}
	if m := reChatName.FindStringSubmatch(stem); m != nil {
		return m[1]
	}
	return stem
}

// ChatID returns the identifier of the named chat.
func ChatID(name string) string {
	return uuid.NewSHA1(namespace, []byte("chat:"+name)).String()
}

// UserID returns the identifier of the sender.
func UserID(sender string) string {
	return uuid.NewSHA1(namespace, []byte("user:"+sender)).String()
}

// MessageID returns the identifier of the message starting on the line.
func MessageID(chatID string, line int) string {
	return uuid.NewSHA1(uuid.MustParse(chatID), []byte("line:"+strconv.Itoa(line))).String()
}

func (a *Adapter) Source() types.SourceKind {
	return types.SourceText
}

func (a *Adapter) Info(context.Context) (source.Info, error) {
	return source.Info{Name: filepath.Base(filepath.Clean(a.cfg.Root))}, nil
}

func (a *Adapter) Getter() downloader.Getter {
	return nil
}

// Chats returns the chats with the resolved metadata.
func (a *Adapter) Chats(ctx context.Context) ([]types.Chat, error) {
	out := make([]types.Chat, 0, len(a.chats))
	for _, t := range a.chats {
		meta, err := a.resolver.Chat(ctx, t.chat.Name)
		if err != nil {
			return nil, err
		}
		c := t.chat
		c.Topic = meta.Topic
		if meta.Avatar != "" {
			c.AvatarSource = &types.Source{Local: meta.Avatar}
		}
		out = append(out, c)
	}
	return out, nil
}

func (a *Adapter) transcript(chatID string) (transcript, bool) {
	idx := slices.IndexFunc(a.chats, func(t transcript) bool { return t.chat.ID == chatID })
	if idx < 0 {
		return transcript{}, false
	}
	return a.chats[idx], true
}

// Fetch parses the transcript of the chat, starting at the line in the
// resume cursor.
func (a *Adapter) Fetch(ctx context.Context, chat types.Chat, rs types.ResumeState) iter.Seq2[*types.Batch, error] {
	return func(yield func(*types.Batch, error) bool) {
		t, ok := a.transcript(chat.ID)
		if !ok {
			yield(nil, fail.Unavailable(chat.ID, os.ErrNotExist))
			return
		}
		from := 1
		if rs.Cursor != "" {
			n, err := strconv.Atoi(rs.Cursor)
			if err != nil {
				yield(nil, fail.Corrupt("resume cursor", err))
				return
			}
			from = n
		}
		f, err := os.Open(t.filename)
		if err != nil {
			yield(nil, fail.Unavailable(chat.ID, err))
			return
		}
		defer f.Close()

		var (
			p      = &parser{layouts: a.cfg.Layouts, loc: a.cfg.Location, lg: a.lg.With("file", t.filename)}
			b      = &types.Batch{Chat: &chat}
			users  = make(map[string]struct{}) // added in this fetch
			dir    = filepath.Dir(t.filename)
			lastID = rs.LastID
			stop   = errors.New("stop")
		)
		emit := func(next int) bool {
			if n := len(b.Messages); n > 0 {
				lastID = b.Messages[n-1].ID
			}
			b.Resume = types.ResumeState{Cursor: strconv.Itoa(next), LastID: lastID}
			if !yield(b, nil) {
				return false
			}
			b = &types.Batch{}
			return true
		}
		err = p.parse(f, func(e *entry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if e.Line < from {
				return nil
			}
			if len(b.Messages) >= a.cfg.BatchSize {
				if !emit(e.Line) {
					return stop
				}
			}
			if e.system() {
				if !a.cfg.SystemMessages {
					return nil
				}
				b.Messages = append(b.Messages, types.Message{
					ID:        MessageID(chat.ID, e.Line),
					ChatID:    chat.ID,
					Timestamp: e.TS,
					Type:      types.MTSystem,
					Body:      e.Body,
				})
				return nil
			}
			if _, ok := users[e.Sender]; !ok {
				u, err := a.user(ctx, e.Sender)
				if err != nil {
					return err
				}
				b.Users = append(b.Users, u)
				users[e.Sender] = struct{}{}
			}
			m := a.message(chat.ID, dir, e)
			b.Messages = append(b.Messages, m)
			return nil
		})
		if errors.Is(err, stop) {
			return
		}
		if err != nil {
			yield(nil, err)
			return
		}
		emit(p.lines + 1)
	}
}

func (a *Adapter) user(ctx context.Context, sender string) (types.User, error) {
	meta, err := a.resolver.User(ctx, sender)
	if err != nil {
		return types.User{}, err
	}
	u := types.User{
		ID:         UserID(sender),
		Name:       sender,
		ExternalID: meta.ExternalID,
		Color:      meta.Color,
	}
	if meta.Avatar != "" {
		u.AvatarSource = &types.Source{Local: meta.Avatar}
	}
	return u, nil
}

var reAttached = regexp.MustCompile(`^\x{200e}?<attached: ([^>]+)>$`)

const (
	fileAttached   = " (file attached)"
	deletedByOther = "This message was deleted"
	deletedByMe    = "You deleted this message"
)

// message converts the entry into a message.
func (a *Adapter) message(chatID, dir string, e *entry) types.Message {
	m := types.Message{
		ID:        MessageID(chatID, e.Line),
		ChatID:    chatID,
		AuthorID:  UserID(e.Sender),
		Timestamp: e.TS,
		Type:      types.MTDefault,
	}
	first, rest, _ := strings.Cut(e.Body, "\n")
	if first == deletedByOther || first == deletedByMe {
		m.Type = types.MTRedacted
		return m
	}

	var caption, name string
	if s, ok := strings.CutSuffix(first, fileAttached); ok {
		caption, name = attachedFile(dir, s)
	} else if sm := reAttached.FindStringSubmatch(first); sm != nil {
		name = sm[1]
	}
	if name == "" {
		m.Body = e.Body
		m.Formatted = formatHTML(m.Body)
		return m
	}
	if !colocated(name) {
		a.lg.Warn("attachment not found, keeping the text", "file", name, "error", "not a plain file name")
		m.Body = e.Body
		m.Formatted = formatHTML(m.Body)
		return m
	}
	fn := filepath.Join(dir, name)
	if fi, err := os.Stat(fn); err != nil || !fi.Mode().IsRegular() {
		a.lg.Warn("attachment not found, keeping the text", "file", fn, "error", err)
		m.Body = e.Body
		m.Formatted = formatHTML(m.Body)
		return m
	}
	// the name may be repeated on the following line
	if r, tail, _ := strings.Cut(rest, "\n"); strings.TrimSpace(r) == name {
		rest = tail
	}
	m.Attachments = []types.Attachment{{
		ID:     uuid.NewSHA1(uuid.MustParse(m.ID), []byte(name)).String(),
		ChatID: chatID,
		Name:   name,
		Kind:   types.KindOf("", name),
		Source: &types.Source{Local: fn},
	}}
	body := strings.TrimSpace(caption)
	if rest != "" {
		if body != "" {
			body += "\n"
		}
		body += rest
	}
	m.Body = body
	m.Formatted = formatHTML(body)
	return m
}

// colocated reports whether name is a bare file name, which can only refer
// to a file next to the transcript.
func colocated(name string) bool {
	return name != "" && filepath.IsLocal(name) && filepath.Base(name) == name && !strings.ContainsAny(name, `/\`)
}

// attachedFile splits "[caption ]NAME" into the caption and the file name.
// File names may contain spaces, the longest suffix that names an existing
// file wins.  If there's no such file, the last word is returned as the name.
func attachedFile(dir, s string) (caption, name string) {
	for i := 0; i < len(s); i++ {
		if i > 0 && s[i-1] != ' ' {
			continue
		}
		if !colocated(s[i:]) {
			continue
		}
		if fi, err := os.Stat(filepath.Join(dir, s[i:])); err == nil && fi.Mode().IsRegular() {
			return s[:i], s[i:]
		}
	}
	if i := strings.LastIndexByte(s, ' '); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

// String implements fmt.Stringer.
func (a *Adapter) String() string {
	return fmt.Sprintf("text export in %s (%d chats)", a.cfg.Root, len(a.chats))
}
