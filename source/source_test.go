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

package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ccbackup/chatbackup/types"
)

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) types.Message {
	return types.Message{ID: id, Timestamp: t0.Add(offset)}
}

func ids(msgs []types.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestGuard_Apply(t *testing.T) {
	tests := []struct {
		name        string
		last        time.Time
		seen        map[string]struct{}
		batches     [][]types.Message
		wantIDs     [][]string
		wantRemoved int
	}{
		{
			name:    "ordered",
			batches: [][]types.Message{{msg("1", 0), msg("2", time.Second)}, {msg("3", 2 * time.Second)}},
			wantIDs: [][]string{{"1", "2"}, {"3"}},
		},
		{
			name:        "already in the archive",
			seen:        map[string]struct{}{"1": {}, "2": {}},
			batches:     [][]types.Message{{msg("1", 0), msg("2", time.Second), msg("3", 2 * time.Second)}},
			wantIDs:     [][]string{{"3"}},
			wantRemoved: 2,
		},
		{
			name:        "overlapping pages",
			batches:     [][]types.Message{{msg("1", 0), msg("2", time.Second)}, {msg("2", time.Second), msg("3", 2 * time.Second)}},
			wantIDs:     [][]string{{"1", "2"}, {"3"}},
			wantRemoved: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(tt.last, tt.seen)
			var removed int
			for i, msgs := range tt.batches {
				b := &types.Batch{Messages: msgs}
				removed += g.Apply(b)
				assert.Equal(t, tt.wantIDs[i], ids(b.Messages))
			}
			assert.Equal(t, tt.wantRemoved, removed)
		})
	}
}

func TestGuard_nonDecreasing(t *testing.T) {
	g := NewGuard(t0.Add(time.Minute), nil)
	b := &types.Batch{Messages: []types.Message{
		msg("1", 0),              // before the archive tail
		msg("2", 2*time.Minute),  // ok
		msg("3", 90*time.Second), // goes back
		msg("4", 3*time.Minute),  // ok
	}}
	g.Apply(b)
	var prev time.Time
	for _, m := range b.Messages {
		assert.False(t, m.Timestamp.Before(prev), "message %s goes back in time", m.ID)
		prev = m.Timestamp
	}
	assert.Equal(t, t0.Add(time.Minute), b.Messages[0].Timestamp)
	assert.Equal(t, t0.Add(2*time.Minute), b.Messages[2].Timestamp)
	assert.Equal(t, t0.Add(3*time.Minute), g.Last())
}
