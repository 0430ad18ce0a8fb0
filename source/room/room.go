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

// Package room is the adapter for the encrypted rooms (Matrix).  It reads
// the joined rooms of the account over the client-server API and decrypts
// the megolm events with the room keys received by the backup device or
// imported from a key export.
package room

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"slices"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ccbackup/chatbackup/downloader"
	"github.com/ccbackup/chatbackup/internal/fail"
	"github.com/ccbackup/chatbackup/internal/megolm"
	"github.com/ccbackup/chatbackup/internal/network"
	"github.com/ccbackup/chatbackup/internal/state"
	"github.com/ccbackup/chatbackup/source"
	"github.com/ccbackup/chatbackup/types"
)

// Config is the adapter configuration.
type Config struct {
	Homeserver string
	// UserID is the full user id or the localpart used to log in.
	UserID string
	// Token is the access token.  If empty, the adapter logs in with the
	// Password, reusing the device of the previous login.
	Token    string
	Password string
	// Rooms and RoomRegex select the rooms, all joined rooms are fetched
	// if both are empty.  RoomRegex is matched against the room name and
	// the room id.
	Rooms     []string
	RoomRegex []string
	// DropUndecryptable drops the events that could not be decrypted
	// instead of recording a placeholder.
	DropUndecryptable bool
	// KeysFile is the optional room key export, encrypted with
	// KeysPassphrase.
	KeysFile       string
	KeysPassphrase string

	Limits     network.Limits
	HTTPClient *http.Client
}

// Adapter fetches the joined rooms.
type Adapter struct {
	cl   *Client
	cfg  Config
	lim  *rate.Limiter
	lg   *slog.Logger
	sess Session
	keys *keySource
	re   []*regexp.Regexp

	undecryptable atomic.Int64
}

// Option is the adapter option.
type Option func(*Adapter)

// WithLimiter sets the request limiter shared by all rooms.
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

// New authenticates, restores the device state from st and pulls the
// pending room keys.
func New(ctx context.Context, cfg Config, st *state.Store, opts ...Option) (*Adapter, error) {
	if cfg.Limits.Workers == 0 {
		cfg.Limits = network.DefLimits
	}
	a := &Adapter{
		cfg: cfg,
		lim: cfg.Limits.Limiter(network.TierRoom),
		lg:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, expr := range cfg.RoomRegex {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("room regex %q: %w", expr, err)
		}
		a.re = append(a.re, re)
	}
	cl, err := NewClient(cfg.Homeserver, cfg.Token, cfg.HTTPClient, a.lim, cfg.Limits.Retries)
	if err != nil {
		return nil, err
	}
	a.cl = cl

	if err := a.authenticate(ctx, st); err != nil {
		return nil, err
	}
	a.lg.InfoContext(ctx, "authenticated", "user", a.sess.UserID, "device", a.sess.DeviceID)

	if a.keys, err = loadKeys(cl, st, a.sess, a.lg); err != nil {
		return nil, err
	}
	if cfg.KeysFile != "" {
		if err := a.importKeys(cfg.KeysFile, cfg.KeysPassphrase); err != nil {
			return nil, err
		}
	}
	if err := a.keys.Sync(ctx); err != nil {
		if fail.IsFatal(err) {
			return nil, err
		}
		a.lg.WarnContext(ctx, "room key sync failed, continuing with known keys", "error", err)
	}
	return a, nil
}

func (a *Adapter) authenticate(ctx context.Context, st *state.Store) error {
	if a.cfg.Token == "" {
		if a.cfg.Password == "" {
			return fail.Auth(string(types.SourceRoom), errors.New("access token or password is required"))
		}
		deviceKey := state.DeviceKey(types.SourceRoom, localpart(a.cfg.UserID)+"/device")
		var deviceID string
		if _, err := st.Get(deviceKey, &deviceID); err != nil {
			return err
		}
		s, err := a.cl.Login(ctx, a.cfg.UserID, a.cfg.Password, deviceID)
		if err != nil {
			return err
		}
		if s.DeviceID != deviceID {
			if err := st.Put(deviceKey, s.DeviceID); err != nil {
				return err
			}
		}
	}
	s, err := a.cl.WhoAmI(ctx)
	if err != nil {
		if errors.Is(err, fail.ErrUnavailable) {
			return fail.Auth(string(types.SourceRoom), err)
		}
		return err
	}
	if s.DeviceID == "" {
		// appservice and some legacy tokens are not bound to a device
		s.DeviceID = "nodevice"
	}
	a.sess = s
	return nil
}

func (a *Adapter) importKeys(name, passphrase string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("key export: %w", err)
	}
	defer f.Close()
	sessions, err := megolm.ReadKeyExport(f, passphrase)
	if err != nil {
		return fmt.Errorf("key export %s: %w", name, err)
	}
	n, err := a.keys.Import(sessions)
	if err != nil {
		return fmt.Errorf("key export %s: %w", name, err)
	}
	a.lg.Info("imported room keys", "file", name, "sessions", len(sessions), "new", n)
	return nil
}

func (a *Adapter) Source() types.SourceKind {
	return types.SourceRoom
}

func (a *Adapter) Getter() downloader.Getter {
	return a.cl.getter()
}

// Info returns the account as the source container.
func (a *Adapter) Info(context.Context) (source.Info, error) {
	return source.Info{Name: a.sess.UserID}, nil
}

// Undecryptable returns the number of events that could not be decrypted.
func (a *Adapter) Undecryptable() int64 {
	return a.undecryptable.Load()
}

// Chats returns the selected joined rooms.  A requested room that is not
// joined is returned with its id as the name, fetching it fails with
// SourceUnavailable.
func (a *Adapter) Chats(ctx context.Context) ([]types.Chat, error) {
	ids, err := a.cl.JoinedRooms(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(a.cfg.Rooms))
	for _, id := range a.cfg.Rooms {
		want[id] = true
	}
	all := len(want) == 0 && len(a.re) == 0

	var chats []types.Chat
	for _, id := range ids {
		chat, err := a.chat(ctx, id)
		if err != nil {
			if fail.IsFatal(err) {
				return nil, err
			}
			a.lg.WarnContext(ctx, "unable to get room state", "room", id, "error", err)
			chat = types.Chat{ID: id, Name: id, Kind: types.CKRoom}
		}
		if all || want[id] || a.match(chat) {
			chats = append(chats, chat)
		}
		delete(want, id)
	}
	slices.SortStableFunc(chats, func(a, b types.Chat) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	for _, id := range a.cfg.Rooms {
		if want[id] {
			chats = append(chats, types.Chat{ID: id, Name: id, Kind: types.CKRoom})
		}
	}
	return chats, nil
}

func (a *Adapter) match(chat types.Chat) bool {
	for _, re := range a.re {
		if re.MatchString(chat.Name) || re.MatchString(chat.ID) {
			return true
		}
	}
	return false
}

// chat builds the chat from the room state.
func (a *Adapter) chat(ctx context.Context, roomID string) (types.Chat, error) {
	evts, err := a.cl.State(ctx, roomID)
	if err != nil {
		return types.Chat{}, err
	}
	chat := types.Chat{ID: roomID, Kind: types.CKRoom}
	var alias string
	for _, ev := range evts {
		if ev.StateKey == nil || *ev.StateKey != "" {
			continue
		}
		switch ev.Type {
		case evName:
			var c stateName
			if json.Unmarshal(ev.Content, &c) == nil {
				chat.Name = c.Name
			}
		case evCanonicalAlias:
			var c stateAlias
			if json.Unmarshal(ev.Content, &c) == nil {
				alias = c.Alias
			}
		case evTopic:
			var c stateTopic
			if json.Unmarshal(ev.Content, &c) == nil {
				chat.Topic = c.Topic
			}
		case evAvatar:
			var c stateAvatar
			if json.Unmarshal(ev.Content, &c) == nil && c.URL != "" {
				chat.AvatarSource = &types.Source{URL: c.URL}
			}
		}
	}
	chat.Name = cmp.Or(chat.Name, alias, roomID)
	return chat, nil
}

// Fetch returns the events of the room after the resume state.  The cursor
// is the pagination token, LastID is the id of the last processed event.
//
// Events that cannot be decrypted become placeholders, they are never
// revisited, even if the key arrives later in the run.
func (a *Adapter) Fetch(ctx context.Context, chat types.Chat, rs types.ResumeState) iter.Seq2[*types.Batch, error] {
	return func(yield func(*types.Batch, error) bool) {
		lg := a.lg.With("room", chat.ID)
		members, err := a.cl.JoinedMembers(ctx, chat.ID)
		if err != nil {
			yield(nil, err)
			return
		}
		var (
			from    = rs.Cursor
			lastID  = rs.LastID
			skip    = rs.LastID != ""
			first   = true
			known   = newSeen()
			limit   = a.cfg.Limits.Request.RoomMessages
			chatRef = chat
		)
		for {
			page, err := a.cl.Messages(ctx, chat.ID, from, limit)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page.Chunk) > 0 {
				// keys shared while paging
				if err := a.keys.Sync(ctx); err != nil {
					if fail.IsFatal(err) {
						yield(nil, err)
						return
					}
					lg.WarnContext(ctx, "room key sync failed", "error", err)
				}
			}
			events := page.Chunk
			if skip {
				// the page of the last run may be fetched again if the
				// server returned no end token
				if i := slices.IndexFunc(events, func(ev Event) bool { return ev.EventID == lastID }); i >= 0 {
					events = events[i+1:]
				}
				skip = false
			}
			b := a.convert(ctx, chat.ID, events, members, known)
			if len(events) > 0 {
				lastID = events[len(events)-1].EventID
			}
			next := page.End
			if next == "" {
				next = from
			}
			b.Resume = types.ResumeState{Cursor: next, LastID: lastID}
			if first {
				b.Chat = &chatRef
				first = false
			}
			if !b.IsEmpty() || next != from {
				if !yield(b, nil) {
					return
				}
			}
			if len(page.Chunk) == 0 || page.End == "" || page.End == from {
				return
			}
			from = page.End
		}
	}
}
