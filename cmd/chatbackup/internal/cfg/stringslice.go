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
	"flag"
	"strings"
)

const stringSliceSep = ","

// StringSlice provides a flag.Value interface for a slice of strings.  The
// flag may be repeated, and each value may be a comma separated list.
type StringSlice []string

var _ flag.Value = new(StringSlice)

func (ss *StringSlice) Set(s string) error {
	for part := range strings.SplitSeq(s, stringSliceSep) {
		if part = strings.TrimSpace(part); part != "" {
			*ss = append(*ss, part)
		}
	}
	return nil
}

func (ss *StringSlice) String() string {
	if ss == nil {
		return ""
	}
	return strings.Join(*ss, stringSliceSep)
}

// MultiString is a repeatable flag that keeps the values intact, for the
// values that may contain commas, i.e. regular expressions.
type MultiString []string

var _ flag.Value = new(MultiString)

func (ms *MultiString) Set(s string) error {
	*ms = append(*ms, s)
	return nil
}

func (ms *MultiString) String() string {
	if ms == nil {
		return ""
	}
	return strings.Join(*ms, " ")
}
