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

package guild

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/ccbackup/chatbackup/internal/fail"
	"github.com/ccbackup/chatbackup/types"
)

// seen tracks the users and emoji already added in one fetch.
type seen struct {
	users map[string]struct{}
	emoji map[string]struct{}
}

func (s *seen) addEmoji(b *types.Batch, e types.Emoji) {
	if _, ok := s.emoji[e.ID]; ok {
		return
	}
	s.emoji[e.ID] = struct{}{}
	b.Emoji = append(b.Emoji, e)
}

// message converts the message, adding the referenced users and emoji to
// the batch.  It fails only if the context is cancelled or the credential
// is rejected.
func (a *Adapter) message(ctx context.Context, chatID string, dm *discordgo.Message, b *types.Batch, s *seen) (types.Message, error) {
	m := types.Message{
		ID:        dm.ID,
		ChatID:    chatID,
		Timestamp: dm.Timestamp,
		Type:      messageType(dm.Type),
		Edited:    dm.EditedTimestamp,
	}
	if dm.Author != nil {
		m.AuthorID = dm.Author.ID
		if err := a.addUser(ctx, b, s, dm.Author, dm.WebhookID != ""); err != nil {
			return m, err
		}
	}
	if dm.MessageReference != nil && (dm.MessageReference.ChannelID == "" || dm.MessageReference.ChannelID == chatID) {
		m.ReplyTo = dm.MessageReference.MessageID
	}
	m.Body = expandMentions(dm.Content, dm.Mentions)
	m.Formatted = renderMarkdown(m.Body)
	for _, sm := range reCustomEmoji.FindAllStringSubmatch(dm.Content, -1) {
		s.addEmoji(b, customEmoji(sm[3], sm[2], sm[1] == "a"))
	}
	for _, att := range dm.Attachments {
		if att == nil {
			continue
		}
		m.Attachments = append(m.Attachments, types.Attachment{
			ID:     att.ID,
			ChatID: chatID,
			Name:   att.Filename,
			Kind:   types.KindOf(att.ContentType, att.Filename),
			Size:   int64(att.Size),
			Source: &types.Source{URL: att.URL},
		})
	}
	if err := a.reactions(ctx, chatID, dm, &m, b, s); err != nil {
		return m, err
	}
	return m, nil
}

func messageType(t discordgo.MessageType) types.MessageType {
	switch t {
	case discordgo.MessageTypeDefault,
		discordgo.MessageTypeReply,
		discordgo.MessageTypeChatInputCommand,
		discordgo.MessageTypeContextMenuCommand,
		discordgo.MessageTypeThreadStarterMessage:
		return types.MTDefault
	}
	return types.MTSystem
}

// expandMentions replaces the user mentions with the display names.
func expandMentions(content string, mentions []*discordgo.User) string {
	if len(mentions) == 0 {
		return content
	}
	pairs := make([]string, 0, 4*len(mentions))
	for _, u := range mentions {
		if u == nil {
			continue
		}
		name := "@" + displayName(u)
		pairs = append(pairs, "<@"+u.ID+">", name, "<@!"+u.ID+">", name)
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// addUser adds the user to the batch, unless it was already added in this
// fetch.
func (a *Adapter) addUser(ctx context.Context, b *types.Batch, s *seen, u *discordgo.User, webhook bool) error {
	if _, ok := s.users[u.ID]; ok {
		return nil
	}
	tu := types.User{
		ID:         u.ID,
		Name:       displayName(u),
		ExternalID: u.Username,
		Bot:        u.Bot || webhook,
	}
	if u.Avatar != "" {
		tu.AvatarSource = &types.Source{URL: u.AvatarURL("128")}
	}
	if !webhook {
		mi, err := a.member(ctx, u.ID)
		if err != nil {
			return err
		}
		if mi.nick != "" {
			tu.Name = mi.nick
		}
		tu.Color = mi.color
	}
	s.users[u.ID] = struct{}{}
	b.Users = append(b.Users, tu)
	return nil
}

// member returns the guild nickname and role colour of the user.  Users
// that left the guild have neither.
func (a *Adapter) member(ctx context.Context, userID string) (member, error) {
	a.mu.Lock()
	mi, ok := a.members[userID]
	a.mu.Unlock()
	if ok {
		return mi, nil
	}
	roles, err := a.guildRoles(ctx)
	if err != nil {
		return member{}, err
	}
	var gm *discordgo.Member
	err = a.retry(ctx, func(ctx context.Context) error {
		var err error
		gm, err = a.cl.GuildMember(ctx, a.cfg.GuildID, userID)
		return err
	})
	if err != nil {
		if fail.IsFatal(err) || ctx.Err() != nil {
			return member{}, err
		}
		a.lg.DebugContext(ctx, "member not available", "user", userID, "error", err)
	} else if gm != nil {
		mi = member{nick: gm.Nick, color: roleColor(roles, gm.Roles)}
	}
	a.mu.Lock()
	a.members[userID] = mi
	a.mu.Unlock()
	return mi, nil
}

func (a *Adapter) guildRoles(ctx context.Context) (map[string]*discordgo.Role, error) {
	a.mu.Lock()
	roles := a.roles
	a.mu.Unlock()
	if roles != nil {
		return roles, nil
	}
	var rr []*discordgo.Role
	err := a.retry(ctx, func(ctx context.Context) error {
		var err error
		rr, err = a.cl.GuildRoles(ctx, a.cfg.GuildID)
		return err
	})
	if err != nil {
		if fail.IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		a.lg.WarnContext(ctx, "roles not available, user colours will be empty", "error", err)
	}
	roles = make(map[string]*discordgo.Role, len(rr))
	for _, r := range rr {
		roles[r.ID] = r
	}
	a.mu.Lock()
	a.roles = roles
	a.mu.Unlock()
	return roles, nil
}

// roleColor returns the colour of the highest coloured role, or an empty
// string.
func roleColor(roles map[string]*discordgo.Role, ids []string) string {
	var top *discordgo.Role
	for _, id := range ids {
		r, ok := roles[id]
		if !ok || r.Color == 0 {
			continue
		}
		if top == nil || r.Position > top.Position {
			top = r
		}
	}
	if top == nil {
		return ""
	}
	return fmt.Sprintf("#%06x", top.Color)
}

func reactionEmoji(e *discordgo.Emoji) types.Emoji {
	if e.ID == "" {
		return types.Emoji{ID: e.Name, Name: shortcode(e.Name)}
	}
	return customEmoji(e.ID, e.Name, e.Animated)
}

func customEmoji(id, name string, animated bool) types.Emoji {
	url := discordgo.EndpointEmoji(id)
	if animated {
		url = discordgo.EndpointEmojiAnimated(id)
	}
	return types.Emoji{
		ID:          id,
		Name:        name,
		Custom:      true,
		Animated:    animated,
		ImageSource: &types.Source{URL: url},
	}
}

// reactions adds the reactions of the message.  If reaction users are
// disabled or can't be fetched, each emoji is recorded once without a user.
func (a *Adapter) reactions(ctx context.Context, chatID string, dm *discordgo.Message, m *types.Message, b *types.Batch, s *seen) error {
	limit := a.cfg.Limits.Request.Reactions
	for _, r := range dm.Reactions {
		if r == nil || r.Emoji == nil {
			continue
		}
		e := reactionEmoji(r.Emoji)
		s.addEmoji(b, e)
		if !a.cfg.ReactionUsers {
			m.AddReaction(types.Reaction{Emoji: e.ID})
			continue
		}
		var after string
		for {
			var uu []*discordgo.User
			err := a.retry(ctx, func(ctx context.Context) error {
				var err error
				uu, err = a.cl.MessageReactions(ctx, chatID, dm.ID, r.Emoji.APIName(), limit, after)
				return err
			})
			if err != nil {
				if fail.IsFatal(err) || ctx.Err() != nil {
					return err
				}
				a.lg.WarnContext(ctx, "reaction users not available", "message", dm.ID, "emoji", e.Name, "error", err)
				m.AddReaction(types.Reaction{Emoji: e.ID})
				break
			}
			for _, u := range uu {
				m.AddReaction(types.Reaction{UserID: u.ID, Emoji: e.ID})
				if err := a.addUser(ctx, b, s, u, false); err != nil {
					return err
				}
			}
			if len(uu) < limit {
				break
			}
			after = uu[len(uu)-1].ID
		}
	}
	return nil
}
