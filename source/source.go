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

// Package source defines the contract between the source adapters and the
// runner.
package source

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/ccbackup/chatbackup/downloader"
	"github.com/ccbackup/chatbackup/types"
)

// Adapter converts the data of one source into the entity model.
//
// Fetch must return a finite sequence of batches in chronological order,
// starting after the resume state.  Each batch carries the resume state
// that becomes valid once the batch is durably written.  Unit-level
// corruption is absorbed by the adapter, the sequence yields an error only
// for chat-wide failures (see package fail), after which iteration stops.
//
//go:generate mockgen -destination=mock_source/mock_source.go . Adapter
type Adapter interface {
	// Source returns the source kind.
	Source() types.SourceKind
	// Info returns the name and icon of the source container, i.e. the
	// guild.
	Info(ctx context.Context) (Info, error)
	// Chats returns the selected chats.
	Chats(ctx context.Context) ([]types.Chat, error)
	// Fetch returns the messages of the chat.
	Fetch(ctx context.Context, chat types.Chat, rs types.ResumeState) iter.Seq2[*types.Batch, error]
	// Getter returns the remote file getter, or nil if the source has only
	// local files.
	Getter() downloader.Getter
}

// Info describes the source container.
type Info struct {
	Name string
	Icon *types.Source
}

// Guard enforces the ordering invariants of one chat's message stream: the
// timestamps are non-decreasing, and no message id is emitted twice.
type Guard struct {
	last time.Time
	seen map[string]struct{}
	lg   *slog.Logger
}

// NewGuard creates a guard.  last is the timestamp of the last message
// already in the archive, seen are the ids already in the archive.
func NewGuard(last time.Time, seen map[string]struct{}) *Guard {
	if seen == nil {
		seen = make(map[string]struct{})
	}
	return &Guard{last: last, seen: seen, lg: slog.Default()}
}

// Apply removes duplicate messages from the batch, and clamps timestamps
// that go back in time to the previous timestamp.  It returns the number of
// removed messages.
func (g *Guard) Apply(b *types.Batch) int {
	var (
		out     = b.Messages[:0]
		removed int
	)
	for _, m := range b.Messages {
		if _, ok := g.seen[m.ID]; ok {
			removed++
			continue
		}
		g.seen[m.ID] = struct{}{}
		if m.Timestamp.Before(g.last) {
			g.lg.Debug("clamping timestamp", "chat", m.ChatID, "id", m.ID, "ts", m.Timestamp, "previous", g.last)
			m.Timestamp = g.last
		}
		g.last = m.Timestamp
		out = append(out, m)
	}
	clear(b.Messages[len(out):])
	b.Messages = out
	return removed
}

// Last returns the timestamp of the last message that passed the guard.
func (g *Guard) Last() time.Time {
	return g.last
}
