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

// Package guild is the adapter for the guild chat platform (Discord).  It
// reads the text and announcement channels of one guild over the REST API.
package guild

import (
	"cmp"
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/ccbackup/chatbackup/downloader"
	"github.com/ccbackup/chatbackup/internal/fail"
	"github.com/ccbackup/chatbackup/internal/network"
	"github.com/ccbackup/chatbackup/source"
	"github.com/ccbackup/chatbackup/types"
)

// discordEpoch is the snowflake epoch in milliseconds.
const discordEpoch = 1420070400000

// Config is the adapter configuration.
type Config struct {
	// GuildID is the guild to back up.
	GuildID string
	// Channels restricts the backup to the channel IDs, all text channels
	// are fetched if empty.
	Channels []string
	// ReactionUsers enables fetching of the users for each reaction.
	ReactionUsers bool
	// Oldest and Latest limit the time range of the messages.
	Oldest time.Time
	Latest time.Time
	// Limits are the API limits.
	Limits network.Limits
	// HTTPClient is used for downloads.
	HTTPClient *http.Client
}

// Adapter fetches the guild channels.
type Adapter struct {
	cl  Client
	cfg Config
	lim *rate.Limiter
	lg  *slog.Logger

	mu      sync.Mutex
	roles   map[string]*discordgo.Role // nil until loaded
	members map[string]member
}

type member struct {
	nick  string
	color string
}

// Option is the adapter option.
type Option func(*Adapter)

// WithLimiter sets the request limiter shared by all channels.
func WithLimiter(l *rate.Limiter) Option {
	return func(a *Adapter) {
		if l != nil {
			a.lim = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(a *Adapter) {
		if lg != nil {
			a.lg = lg
		}
	}
}

// New validates the credential and returns the adapter.
func New(ctx context.Context, cl Client, cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.GuildID == "" {
		return nil, errors.New("guild ID is required")
	}
	if cfg.Limits.Workers == 0 {
		cfg.Limits = network.DefLimits
	}
	a := &Adapter{
		cl:      cl,
		cfg:     cfg,
		lim:     cfg.Limits.Limiter(network.TierGuild),
		lg:      slog.Default(),
		members: make(map[string]member),
	}
	for _, opt := range opts {
		opt(a)
	}
	var me *discordgo.User
	err := a.retry(ctx, func(ctx context.Context) error {
		var err error
		me, err = cl.Me(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, fail.ErrUnavailable) {
			return nil, fail.Auth(string(types.SourceGuild), err)
		}
		return nil, err
	}
	a.lg.InfoContext(ctx, "authenticated", "user", me.Username, "id", me.ID)
	return a, nil
}

func (a *Adapter) retry(ctx context.Context, fn func(context.Context) error) error {
	return network.WithRetry(ctx, a.lim, a.cfg.Limits.Retries, fn)
}

func (a *Adapter) Source() types.SourceKind {
	return types.SourceGuild
}

func (a *Adapter) Getter() downloader.Getter {
	return &downloader.HTTPGetter{Client: a.cfg.HTTPClient}
}

// Info returns the guild name and icon.
func (a *Adapter) Info(ctx context.Context) (source.Info, error) {
	var g *discordgo.Guild
	if err := a.retry(ctx, func(ctx context.Context) error {
		var err error
		g, err = a.cl.Guild(ctx, a.cfg.GuildID)
		return err
	}); err != nil {
		return source.Info{}, err
	}
	info := source.Info{Name: g.Name}
	if g.Icon != "" {
		info.Icon = &types.Source{URL: g.IconURL("256")}
	}
	return info, nil
}

// Chats returns the text and announcement channels of the guild, in the
// guild order.  Requested channels that are not in the guild are returned
// with the ID as the name, fetching them fails.
func (a *Adapter) Chats(ctx context.Context) ([]types.Chat, error) {
	var channels []*discordgo.Channel
	if err := a.retry(ctx, func(ctx context.Context) error {
		var err error
		channels, err = a.cl.GuildChannels(ctx, a.cfg.GuildID)
		return err
	}); err != nil {
		return nil, err
	}
	channels = slices.DeleteFunc(channels, func(ch *discordgo.Channel) bool {
		return ch.Type != discordgo.ChannelTypeGuildText && ch.Type != discordgo.ChannelTypeGuildNews
	})
	slices.SortStableFunc(channels, func(a, b *discordgo.Channel) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmpSnowflake(a.ID, b.ID))
	})

	want := make(map[string]bool, len(a.cfg.Channels))
	for _, id := range a.cfg.Channels {
		want[id] = false
	}
	var out []types.Chat
	for _, ch := range channels {
		if len(want) > 0 {
			if _, ok := want[ch.ID]; !ok {
				continue
			}
			want[ch.ID] = true
		}
		out = append(out, types.Chat{ID: ch.ID, Name: ch.Name, Kind: types.CKGuildChannel, Topic: ch.Topic})
	}
	for _, id := range a.cfg.Channels {
		if !want[id] {
			a.lg.WarnContext(ctx, "channel is not a text channel of the guild", "channel", id)
			out = append(out, types.Chat{ID: id, Name: id, Kind: types.CKGuildChannel})
			want[id] = true
		}
	}
	return out, nil
}

// Fetch pages the channel history after the cursor, oldest first.
func (a *Adapter) Fetch(ctx context.Context, chat types.Chat, rs types.ResumeState) iter.Seq2[*types.Batch, error] {
	return func(yield func(*types.Batch, error) bool) {
		var (
			limit  = a.cfg.Limits.Request.GuildMessages
			after  = cmp.Or(rs.Cursor, a.startCursor())
			lastID = rs.LastID
			known  = &seen{users: make(map[string]struct{}), emoji: make(map[string]struct{})}
			first  = true
		)
		for {
			var page []*discordgo.Message
			err := a.retry(ctx, func(ctx context.Context) error {
				var err error
				page, err = a.cl.ChannelMessages(ctx, chat.ID, limit, after)
				return err
			})
			if err != nil {
				yield(nil, err)
				return
			}
			done := len(page) < limit
			// pages are newest first
			slices.SortFunc(page, func(a, b *discordgo.Message) int { return cmpSnowflake(a.ID, b.ID) })
			if !a.cfg.Latest.IsZero() {
				if i := slices.IndexFunc(page, func(m *discordgo.Message) bool { return m.Timestamp.After(a.cfg.Latest) }); i >= 0 {
					page = page[:i]
					done = true
				}
			}

			b := &types.Batch{}
			if first {
				b.Chat = &chat
				first = false
			}
			for _, dm := range page {
				m, err := a.message(ctx, chat.ID, dm, b, known)
				if err != nil {
					yield(nil, err)
					return
				}
				b.Messages = append(b.Messages, m)
			}
			if n := len(page); n > 0 {
				after = page[n-1].ID
				lastID = after
			}
			b.Resume = types.ResumeState{Cursor: after, LastID: lastID}
			if !b.IsEmpty() {
				if !yield(b, nil) {
					return
				}
			}
			if done {
				return
			}
		}
	}
}

// startCursor returns the snowflake of the oldest requested time.
func (a *Adapter) startCursor() string {
	if a.cfg.Oldest.IsZero() {
		return "0"
	}
	return timeSnowflake(a.cfg.Oldest)
}

func timeSnowflake(t time.Time) string {
	ms := t.UnixMilli() - discordEpoch
	if ms <= 0 {
		return "0"
	}
	return strconv.FormatInt(ms<<22, 10)
}

// cmpSnowflake compares two snowflake IDs numerically.
func cmpSnowflake(a, b string) int {
	if len(a) != len(b) {
		return cmp.Compare(len(a), len(b))
	}
	return strings.Compare(a, b)
}
