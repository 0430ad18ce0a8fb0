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
	"cmp"
	"context"
	"encoding/json"
	"slices"

	"github.com/ccbackup/chatbackup/internal/fail"
	"github.com/ccbackup/chatbackup/types"
)

// seen tracks the users and emoji already emitted during one fetch.
type seen struct {
	users map[string]bool
	emoji map[string]bool
}

func newSeen() *seen {
	return &seen{users: make(map[string]bool), emoji: make(map[string]bool)}
}

// reactionRef locates a reaction folded into a message of the batch.
type reactionRef struct {
	msg int
	r   types.Reaction
}

// converter converts one page of room events.
type converter struct {
	a       *Adapter
	roomID  string
	members map[string]Member
	known   *seen

	b         *types.Batch
	idx       map[string]int // event id -> index in b.Messages
	reactions map[string]reactionRef
}

func (a *Adapter) convert(ctx context.Context, roomID string, events []Event, members map[string]Member, known *seen) *types.Batch {
	c := &converter{
		a:         a,
		roomID:    roomID,
		members:   members,
		known:     known,
		b:         new(types.Batch),
		idx:       make(map[string]int, len(events)),
		reactions: make(map[string]reactionRef),
	}
	for i := range events {
		c.event(ctx, &events[i])
	}
	return c.b
}

func (c *converter) event(ctx context.Context, ev *Event) {
	if ev.StateKey != nil {
		return
	}
	if ev.redacted() {
		switch ev.Type {
		case evMessage, evEncrypted, evSticker:
			c.add(ev, types.Message{Type: types.MTRedacted})
		}
		return
	}
	if ev.Type == evEncrypted {
		de, err := c.a.keys.decrypt(c.roomID, ev)
		if err != nil {
			c.a.undecryptable.Add(1)
			c.a.lg.DebugContext(ctx, "undecryptable event", "room", c.roomID, "event", ev.EventID, "error", fail.Corrupt("event "+ev.EventID, err))
			if !c.a.cfg.DropUndecryptable {
				c.add(ev, types.Message{Type: types.MTUndecryptable})
			}
			return
		}
		plain := *ev
		plain.Type, plain.Content = de.Type, de.Content
		ev = &plain
	}
	var err error
	switch ev.Type {
	case evMessage, evSticker:
		err = c.message(ev)
	case evReaction:
		err = c.reaction(ev)
	case evRedaction:
		err = c.redaction(ev)
	}
	if err != nil {
		c.a.lg.WarnContext(ctx, "skipping malformed event", "room", c.roomID, "event", ev.EventID, "type", ev.Type, "error", fail.Corrupt("event "+ev.EventID, err))
	}
}

// add appends the message authored by the event sender.
func (c *converter) add(ev *Event, m types.Message) {
	m.ID = ev.EventID
	m.ChatID = c.roomID
	m.AuthorID = ev.Sender
	m.Timestamp = ev.Time()
	c.addUser(ev.Sender)
	c.idx[m.ID] = len(c.b.Messages)
	c.b.Messages = append(c.b.Messages, m)
}

func (c *converter) addUser(id string) {
	if id == "" || c.known.users[id] {
		return
	}
	c.known.users[id] = true
	u := types.User{ID: id, ExternalID: id, Name: localpart(id)}
	if m, ok := c.members[id]; ok {
		u.Name = cmp.Or(m.DisplayName, u.Name)
		if m.AvatarURL != "" {
			u.AvatarSource = &types.Source{URL: m.AvatarURL}
		}
	}
	c.b.Users = append(c.b.Users, u)
}

func (c *converter) addEmoji(key string) {
	if c.known.emoji[key] {
		return
	}
	c.known.emoji[key] = true
	c.b.Emoji = append(c.b.Emoji, types.Emoji{ID: key, Name: key})
}

func (c *converter) message(ev *Event) error {
	var mc messageContent
	if err := json.Unmarshal(ev.Content, &mc); err != nil {
		return err
	}
	if rel := mc.RelatesTo; rel != nil && rel.RelType == relReplace && rel.EventID != "" {
		return c.edit(ev, rel.EventID, &mc)
	}
	m := types.Message{Type: types.MTDefault}
	c.content(ev, &m, &mc)
	if rel := mc.RelatesTo; rel != nil && rel.InReplyTo != nil {
		m.ReplyTo = rel.InReplyTo.EventID
	}
	c.add(ev, m)
	return nil
}

// content fills the body and the attachment of the message.
func (c *converter) content(ev *Event, m *types.Message, mc *messageContent) {
	switch mc.MsgType {
	case "m.image", "m.file", "m.video", "m.audio":
	default:
		if ev.Type != evSticker {
			body, formatted := mc.Body, ""
			if mc.Format == formatHTML {
				formatted = mc.FormattedBody
			}
			if mc.RelatesTo != nil && mc.RelatesTo.InReplyTo != nil {
				body, formatted = stripReplyFallback(body, formatted)
			}
			if mc.MsgType == "m.emote" {
				body = "* " + localpart(ev.Sender) + " " + body
			}
			m.Body, m.Formatted = body, formatted
			return
		}
	}
	att := types.Attachment{
		ID:     ev.EventID,
		ChatID: c.roomID,
		Name:   cmp.Or(mc.Filename, mc.Body, ev.EventID),
	}
	var mime string
	if mc.Info != nil {
		mime, att.Size = mc.Info.Mimetype, mc.Info.Size
	}
	att.Kind = types.KindOf(mime, att.Name)
	if ev.Type == evSticker {
		att.Kind = types.AKImage
	}
	switch {
	case mc.File != nil:
		// a file with broken keys has no source and ends up missing
		if ci, err := cipherOf(mc.File); err == nil {
			att.Source = &types.Source{URL: mc.File.URL, Cipher: ci}
		}
	case mc.URL != "":
		att.Source = &types.Source{URL: mc.URL}
	}
	if mc.Filename != "" && mc.Body != mc.Filename {
		// body is the caption
		m.Body = mc.Body
	}
	m.Attachments = append(m.Attachments, att)
}

// cipherOf returns the decryption parameters of the encrypted file.
func cipherOf(f *encryptedFile) (*types.Cipher, error) {
	key, err := decodeB64(f.Key.K)
	if err != nil {
		return nil, err
	}
	iv, err := decodeB64(f.IV)
	if err != nil {
		return nil, err
	}
	sum, err := decodeB64(f.Hashes["sha256"])
	if err != nil {
		return nil, err
	}
	return &types.Cipher{Key: key, IV: iv, SHA256: sum}, nil
}

func (c *converter) edit(ev *Event, target string, mc *messageContent) error {
	nc := mc.NewContent
	if nc == nil {
		nc = mc
	}
	ts := ev.Time()
	if i, ok := c.idx[target]; ok {
		m := &c.b.Messages[i]
		if m.AuthorID != ev.Sender || m.Type != types.MTDefault {
			return nil
		}
		atts := m.Attachments
		m.Body, m.Formatted, m.Attachments = "", "", nil
		c.content(ev, m, nc)
		if len(m.Attachments) == 0 {
			m.Attachments = atts
		}
		m.Edited = &ts
		return nil
	}
	c.addUser(ev.Sender)
	c.b.Annotations = append(c.b.Annotations, types.Annotation{
		Kind:      types.AnnEdit,
		TargetID:  target,
		AuthorID:  ev.Sender,
		Timestamp: ts,
		Value:     nc.Body,
	})
	return nil
}

func (c *converter) reaction(ev *Event) error {
	var rc struct {
		RelatesTo relatesTo `json:"m.relates_to"`
	}
	if err := json.Unmarshal(ev.Content, &rc); err != nil {
		return err
	}
	rel := rc.RelatesTo
	if rel.RelType != relAnnotation || rel.EventID == "" || rel.Key == "" {
		return nil
	}
	c.addUser(ev.Sender)
	c.addEmoji(rel.Key)
	r := types.Reaction{UserID: ev.Sender, Emoji: rel.Key}
	if i, ok := c.idx[rel.EventID]; ok {
		c.b.Messages[i].AddReaction(r)
		c.reactions[ev.EventID] = reactionRef{msg: i, r: r}
		return nil
	}
	c.b.Annotations = append(c.b.Annotations, types.Annotation{
		Kind:      types.AnnReaction,
		TargetID:  rel.EventID,
		AuthorID:  ev.Sender,
		Timestamp: ev.Time(),
		Value:     rel.Key,
	})
	return nil
}

func (c *converter) redaction(ev *Event) error {
	target := ev.Redacts
	if target == "" {
		// room version 11 moved it into the content
		var rc struct {
			Redacts string `json:"redacts"`
		}
		if err := json.Unmarshal(ev.Content, &rc); err != nil {
			return err
		}
		target = rc.Redacts
	}
	if target == "" {
		return nil
	}
	if ref, ok := c.reactions[target]; ok {
		m := &c.b.Messages[ref.msg]
		m.Reactions = slices.DeleteFunc(m.Reactions, func(r types.Reaction) bool { return r == ref.r })
		delete(c.reactions, target)
		return nil
	}
	if i, ok := c.idx[target]; ok {
		m := &c.b.Messages[i]
		m.Type = types.MTRedacted
		m.Body, m.Formatted, m.ReplyTo, m.Edited = "", "", "", nil
		m.Attachments, m.Reactions = nil, nil
		return nil
	}
	c.addUser(ev.Sender)
	c.b.Annotations = append(c.b.Annotations, types.Annotation{
		Kind:      types.AnnRedaction,
		TargetID:  target,
		AuthorID:  ev.Sender,
		Timestamp: ev.Time(),
	})
	return nil
}
