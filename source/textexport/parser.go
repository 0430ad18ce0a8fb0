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

package textexport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ccbackup/chatbackup/internal/fail"
)

// DefaultLayouts are the timestamp layouts tried in order.  The date and
// the time are joined with ", ".
var DefaultLayouts = []string{
	"02/01/06, 15:04",
	"2/1/06, 15:04",
	"2/1/2006, 15:04",
	"2/1/06, 15:04:05",
	"2/1/2006, 15:04:05",
	"2/1/06, 3:04 PM",
	"2/1/2006, 3:04 PM",
	"2/1/06, 3:04:05 PM",
	"2.1.06, 15:04",
	"2.1.2006, 15:04",
	"2006-01-02, 15:04",
}

// rePrefix matches the timestamp prefix of a message start line, both
// "31/12/23, 23:59 - " and "[31/12/23, 23:59:59] ".
var rePrefix = regexp.MustCompile(`^\x{200e}?\[?(\d{1,4}[./-]\d{1,2}[./-]\d{1,4}),? (\d{1,2}[:.]\d{2}(?:[:.]\d{2})?(?:[ \x{202f}\x{00a0}]?[AaPp]\.? ?[Mm]\.?)?)(?:\] | - )(.*)$`)

// entry is one parsed message or system line.
type entry struct {
	Line   int // 1-based line number of the first line
	TS     time.Time
	Sender string // empty for system lines
	Body   string
}

func (e *entry) system() bool {
	return e.Sender == ""
}

type parser struct {
	layouts []string
	loc     *time.Location
	lg      *slog.Logger

	lines int // number of lines read
}

// parse reads the transcript and calls fn for each entry, in order, after
// all of its continuation lines were folded in.
func (p *parser) parse(r io.Reader, fn func(*entry) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var (
		cur    *entry
		lineNo int
	)
	flush := func() error {
		if cur == nil {
			return nil
		}
		e := cur
		cur = nil
		return fn(e)
	}
	for sc.Scan() {
		lineNo++
		line := strings.TrimSuffix(sc.Text(), "\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		e, err := p.start(lineNo, line)
		if err != nil {
			p.lg.Warn("unparseable timestamp, treating as continuation", "line", lineNo, "error", err)
		}
		if e != nil {
			if err := flush(); err != nil {
				return err
			}
			cur = e
			continue
		}
		if cur == nil {
			p.lg.Warn("skipping line", "line", lineNo, "error", fail.Corrupt("line", errors.New("continuation line without a message")))
			continue
		}
		cur.Body += "\n" + line
	}
	if err := sc.Err(); err != nil {
		return err
	}
	p.lines = lineNo
	return flush()
}

// start parses a message start line.  It returns nil if the line is a
// continuation line.
func (p *parser) start(lineNo int, line string) (*entry, error) {
	m := rePrefix.FindStringSubmatch(line)
	if m == nil {
		return nil, nil
	}
	ts, err := p.timestamp(m[1], m[2])
	if err != nil {
		return nil, err
	}
	e := &entry{Line: lineNo, TS: ts}
	if sender, body, ok := strings.Cut(m[3], ": "); ok {
		e.Sender = strings.TrimPrefix(sender, "\u200e")
		e.Body = body
	} else {
		e.Body = m[3]
	}
	return e, nil
}

var timeReplacer = strings.NewReplacer("\u202f", "", "\u00a0", "", ".", "", " ", "")

func (p *parser) timestamp(date, clock string) (time.Time, error) {
	clock = strings.ToUpper(clock)
	if i := strings.IndexAny(clock, "AP"); i > 0 {
		// normalise "3:04 p.m." and "3:04pm" to "3:04 PM"
		suffix := timeReplacer.Replace(clock[i:])
		clock = strings.TrimRight(clock[:i], " \u202f\u00a0") + " " + suffix
	}
	clock = strings.Replace(clock, ".", ":", 2)
	s := date + ", " + clock
	for _, layout := range p.layouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q does not match any of the date layouts", s)
}
