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

package cfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeValue_Set(t *testing.T) {
	tests := []struct {
		name     string
		s        string
		wantTime time.Time
		wantErr  bool
	}{
		{"date and time", "2009-09-16T20:30:40", time.Date(2009, 9, 16, 20, 30, 40, 0, time.UTC), false},
		{"date", "2009-09-16", time.Date(2009, 9, 16, 0, 0, 0, 0, time.UTC), false},
		{"rfc3339 with zone", "2009-09-16T20:30:40+02:00", time.Date(2009, 9, 16, 18, 30, 40, 0, time.UTC), false},
		{"empty value", "", time.Time{}, false},
		{"invalid value", "yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tv TimeValue
			err := tv.Set(tt.s)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.True(t, tt.wantTime.Equal(tv.Time()), "got %s", tv.Time())
		})
	}
}

func TestTimeValue_String(t *testing.T) {
	assert.Equal(t, "", TimeValue{}.String())
	assert.Equal(t, "2009-09-16", TimeValue(time.Date(2009, 9, 16, 0, 0, 0, 0, time.UTC)).String())
	assert.Equal(t, "2009-09-16T20:30:40", TimeValue(time.Date(2009, 9, 16, 20, 30, 40, 0, time.UTC)).String())
}
