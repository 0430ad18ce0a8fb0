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

package runner

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ccbackup/chatbackup/archive/index"
	"github.com/ccbackup/chatbackup/types"
)

// ChatResult is the outcome of one chat.
type ChatResult struct {
	Chat        types.Chat
	Messages    int
	Attachments int
	Missing     int
	Annotations int
	Duplicates  int
	Err         error
	Elapsed     time.Duration
}

func (r *ChatResult) add(b *types.Batch) {
	r.Messages += len(b.Messages)
	r.Annotations += len(b.Annotations)
	for _, m := range b.Messages {
		for _, a := range m.Attachments {
			if a.Missing {
				r.Missing++
			} else {
				r.Attachments++
			}
		}
	}
}

// Summary is the outcome of the run.
type Summary struct {
	Source  types.SourceKind
	Name    string
	Output  string
	Chats   []ChatResult
	Index   index.Stats
	Elapsed time.Duration
}

// Failed returns the number of chats that failed.
func (s *Summary) Failed() int {
	var n int
	for _, c := range s.Chats {
		if c.Err != nil {
			n++
		}
	}
	return n
}

// Totals returns the total number of messages and attachments.
func (s *Summary) Totals() (messages, attachments, missing int) {
	for _, c := range s.Chats {
		messages += c.Messages
		attachments += c.Attachments
		missing += c.Missing
	}
	return
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errStyle    = cellStyle.Foreground(lipgloss.Color("1"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

const (
	colStatus = 5
)

// Render writes the summary table to w.
func (s *Summary) Render(w io.Writer) error {
	title := cases.Title(language.English).String(string(s.Source))
	if s.Name != "" {
		title += ": " + s.Name
	}

	rows := make([][]string, 0, len(s.Chats))
	for _, c := range s.Chats {
		status := "ok"
		if c.Err != nil {
			status = c.Err.Error()
		}
		rows = append(rows, []string{
			c.Chat.Name,
			humanize.Comma(int64(c.Messages)),
			humanize.Comma(int64(c.Attachments)),
			strconv.Itoa(c.Missing),
			c.Elapsed.Round(time.Millisecond).String(),
			status,
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Chat", "Messages", "Files", "Missing", "Time", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == colStatus && s.Chats[row].Err != nil:
				return errStyle
			}
			return cellStyle
		})

	msgs, files, missing := s.Totals()
	_, err := fmt.Fprintf(w, "%s\n%s\n%s messages, %s files (%d missing) in %d chats, %d failed, took %s\nArchive: %s\n",
		titleStyle.Render(title),
		t.Render(),
		humanize.Comma(int64(msgs)),
		humanize.Comma(int64(files)),
		missing,
		len(s.Chats),
		s.Failed(),
		s.Elapsed.Round(time.Second),
		s.Output,
	)
	return err
}
