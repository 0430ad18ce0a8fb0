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
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "2006-01-02T15:04:05"
)

// TimeValue is a flag.Value for a UTC date or date and time.
type TimeValue time.Time

func (tv TimeValue) String() string {
	t := time.Time(tv)
	if t.IsZero() {
		return ""
	}
	if t.Truncate(24 * time.Hour).Equal(t) {
		return t.Format(DateLayout)
	}
	return t.Format(TimeLayout)
}

func (tv *TimeValue) Set(s string) error {
	if s == "" {
		*tv = TimeValue(time.Time{})
		return nil
	}
	for _, layout := range []string{TimeLayout, DateLayout, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*tv = TimeValue(t.UTC())
			return nil
		}
	}
	return fmt.Errorf("invalid time %q, use YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS", s)
}

// Time returns the time value.
func (tv TimeValue) Time() time.Time {
	return time.Time(tv)
}
